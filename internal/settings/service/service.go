package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks RecordStore
//go:generate mockgen -destination=mocks/cache.go -package=mocks setman/internal/settings/cache Cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"setman/internal/schema"
	"setman/internal/settings/cache"
	"setman/internal/settings/metrics"
	"setman/internal/settings/models"
	dErrors "setman/pkg/domain-errors"
	"setman/pkg/platform/sentinel"
)

// RecordStore persists the single settings record.
type RecordStore interface {
	Get(ctx context.Context) (*models.Record, error)
	Create(ctx context.Context, r *models.Record) error
	Update(ctx context.Context, r *models.Record) error
	CountExcluding(ctx context.Context, id int64) (int, error)
}

// Cache is the process-wide resolution cache.
type Cache = cache.Cache

// TxRunner provides the transactional boundary around validate-and-persist.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// Service loads, validates and persists the settings record and keeps the
// resolution cache coherent with it.
type Service struct {
	schema  *schema.Schema
	records RecordStore
	cache   Cache
	tx      TxRunner
	logger  *slog.Logger
	metrics *metrics.Metrics

	loads singleflight.Group
	// generation changes on every invalidation; a load only fills the cache
	// if no invalidation happened while it ran.
	generation atomic.Uint64

	mu        sync.Mutex
	listeners map[int]func(context.Context)
	nextID    int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTxRunner wraps saves in a database transaction.
func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

// New constructs a Service.
func New(s *schema.Schema, records RecordStore, c Cache, opts ...Option) (*Service, error) {
	if s == nil {
		return nil, errors.New("settings schema is required")
	}
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if c == nil {
		return nil, errors.New("resolution cache is required")
	}
	svc := &Service{
		schema:    s,
		records:   records,
		cache:     c,
		listeners: make(map[int]func(context.Context)),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.tx == nil {
		svc.tx = newInMemoryTx()
	}
	if svc.logger == nil {
		svc.logger = slog.New(slog.DiscardHandler)
	}
	return svc, nil
}

// Schema returns the schema records are validated against.
func (s *Service) Schema() *schema.Schema {
	return s.schema
}

// Materialize returns a private copy of the settings record, served from the
// resolution cache when possible. On a miss the record is loaded (or created
// empty) and written back to the cache; concurrent misses share one load.
func (s *Service) Materialize(ctx context.Context) (*models.Record, error) {
	raw, ok, err := s.cache.Get(ctx, cache.Key)
	switch {
	case err != nil:
		s.metrics.IncResolutionCache("error")
		s.logger.WarnContext(ctx, "resolution cache read failed, loading from store", "error", err)
	case ok:
		r, err := s.decodeCached(raw)
		if err == nil {
			s.metrics.IncResolutionCache("hit")
			return r, nil
		}
		s.logger.WarnContext(ctx, "discarding unreadable resolution cache entry", "error", err)
	}
	s.metrics.IncResolutionCache("miss")

	v, err, _ := s.loads.Do(cache.Key, func() (any, error) {
		gen := s.generation.Load()
		r, err := s.Load(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := encodeCached(r)
		if err != nil {
			return nil, err
		}
		s.fill(ctx, gen, encoded)
		return encoded, nil
	})
	if err != nil {
		return nil, err
	}
	return s.decodeCached(v.([]byte))
}

// Load reads the record from the store, bypassing the cache. A missing record
// is created with empty data.
func (s *Service) Load(ctx context.Context) (*models.Record, error) {
	start := time.Now()
	defer s.metrics.ObserveRecordLoad(start)

	r, err := s.records.Get(ctx)
	if err == nil {
		return r, nil
	}
	if errors.Is(err, models.ErrMultipleRecords) {
		return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "load settings record")
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load settings record")
	}

	r = models.NewRecord()
	if err := s.Save(ctx, r); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "created settings record", "record_id", r.ID)
	return r, nil
}

// Save validates r, enforces that no other record exists, persists it and
// invalidates the resolution cache. Saved listeners run after invalidation.
func (s *Service) Save(ctx context.Context, r *models.Record) error {
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := r.Clean(s.schema); err != nil {
			s.metrics.IncValidationFailures()
			return dErrors.Wrap(err, dErrors.CodeValidation, "")
		}

		others, err := s.records.CountExcluding(txCtx, r.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "count settings records")
		}
		if others != 0 {
			return dErrors.Wrap(models.ErrMultipleRecords, dErrors.CodeInvariantViolation, "")
		}

		if r.ID == 0 {
			if err := s.records.Create(txCtx, r); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "create settings record")
			}
			return nil
		}
		if err := s.records.Update(txCtx, r); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Wrap(err, dErrors.CodeNotFound, "settings record")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "update settings record")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.IncRecordSaves()

	if err := s.Invalidate(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "settings saved but the resolution cache could not be cleared")
	}
	s.notifySaved(ctx)
	return nil
}

// fill stores a loaded record unless the cache was invalidated after the load
// began. An invalidation racing the write itself removes the entry again.
func (s *Service) fill(ctx context.Context, gen uint64, encoded []byte) {
	if s.generation.Load() != gen {
		return
	}
	if err := s.cache.Set(ctx, cache.Key, encoded); err != nil {
		s.logger.WarnContext(ctx, "resolution cache write failed", "error", err)
		return
	}
	if s.generation.Load() == gen {
		return
	}
	if err := s.cache.Delete(ctx, cache.Key); err != nil {
		s.logger.WarnContext(ctx, "could not drop stale resolution cache entry", "error", err)
	}
}

// Invalidate drops the resolution cache entry. Loads already in flight no
// longer fill the cache and later reads start a new load.
func (s *Service) Invalidate(ctx context.Context) error {
	s.generation.Add(1)
	s.loads.Forget(cache.Key)
	return s.cache.Delete(ctx, cache.Key)
}

// OnSaved registers fn to run after every successful save. The returned
// function unregisters it.
func (s *Service) OnSaved(fn func(ctx context.Context)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Service) notifySaved(ctx context.Context) {
	s.mu.Lock()
	fns := make([]func(context.Context), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ctx)
	}
}

// StoreDefaults writes every schema default into the record, creating the
// record when there is none. It reports whether the record was created.
func (s *Service) StoreDefaults(ctx context.Context) (bool, error) {
	r, err := s.records.Get(ctx)
	created := false
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		r, created = models.NewRecord(), true
	case err != nil:
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "load settings record")
	}

	for _, entry := range s.schema.Entries() {
		if entry.Container == nil {
			r.Set(entry.Setting.Name, entry.Setting.Default)
			continue
		}
		app := r.App(entry.Container.AppName, true)
		for _, d := range entry.Container.Settings() {
			app[d.Name] = d.Default
		}
	}

	if err := s.Save(ctx, r); err != nil {
		return false, err
	}
	return created, nil
}

type cachedRecord struct {
	ID        int64           `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"create_date"`
	UpdatedAt time.Time       `json:"update_date"`
}

func encodeCached(r *models.Record) ([]byte, error) {
	data, err := r.GetRaw()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(cachedRecord{ID: r.ID, Data: data, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt})
	if err != nil {
		return nil, fmt.Errorf("encode cached settings record: %w", err)
	}
	return raw, nil
}

func (s *Service) decodeCached(raw []byte) (*models.Record, error) {
	var c cachedRecord
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode cached settings record: %w", err)
	}
	if c.ID == 0 {
		return nil, errors.New("cached settings record has no id")
	}
	r := &models.Record{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
	if err := r.SetFromJSON(c.Data, s.schema); err != nil {
		return nil, err
	}
	return r, nil
}
