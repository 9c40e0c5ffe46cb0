// Package lazy is the public read/write API over the settings tree. A Settings
// value is a view: the root view resolves project settings, scoped views
// returned for app containers resolve that app's settings.
//
// Reads resolve through, in order: the view's app overrides in the record,
// project overrides in the record, the host configuration, and finally the
// schema (a container yields a scoped view, a setting its default). Resolved
// values are kept in a small per-view cache for a few seconds.
package lazy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"setman/internal/platform/config"
	"setman/internal/schema"
	"setman/internal/settings/audit"
	"setman/internal/settings/host"
	"setman/internal/settings/metrics"
	"setman/internal/settings/models"
	dErrors "setman/pkg/domain-errors"
	"setman/pkg/requestcontext"
)

// MicroCacheSize bounds the number of resolved names each view remembers.
const MicroCacheSize = 20

// Records is the shared record service every view reads and persists through.
type Records interface {
	Schema() *schema.Schema
	Materialize(ctx context.Context) (*models.Record, error)
	Save(ctx context.Context, r *models.Record) error
	Invalidate(ctx context.Context) error
	OnSaved(fn func(ctx context.Context)) (unsubscribe func())
}

// ErrContainerWrite is returned when a write targets an app container name.
var ErrContainerWrite = errors.New("app settings containers cannot be assigned")

type options struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher audit.Publisher
	ttl       time.Duration
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithAuditPublisher emits an event for every write, delete and revert.
func WithAuditPublisher(p audit.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithMicroCacheTTL overrides how long resolved values are served without
// consulting the record again.
func WithMicroCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// Settings is one view into the settings tree.
type Settings struct {
	records Records
	host    host.Config
	scope   schema.Scope
	parent  *Settings
	prefix  string
	opts    *options

	micro *ttlcache.Cache[string, Value]

	mu       sync.Mutex
	children map[string]*Settings

	unsubscribe func()
}

// New returns the root view. The root clears every view's cached values after
// each save made through records.
func New(records Records, hostConfig host.Config, opts ...Option) *Settings {
	o := &options{ttl: config.MicroCacheTTL}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if hostConfig == nil {
		hostConfig = host.NewMap(nil)
	}

	s := newView(records, hostConfig, records.Schema(), nil, "", o)
	s.unsubscribe = records.OnSaved(func(context.Context) {
		s.forgetAll()
	})
	return s
}

func newView(records Records, hostConfig host.Config, scope schema.Scope, parent *Settings, prefix string, o *options) *Settings {
	return &Settings{
		records: records,
		host:    hostConfig,
		scope:   scope,
		parent:  parent,
		prefix:  prefix,
		opts:    o,
		micro: ttlcache.New(
			ttlcache.WithTTL[string, Value](o.ttl),
			ttlcache.WithCapacity[string, Value](MicroCacheSize),
			ttlcache.WithDisableTouchOnHit[string, Value](),
		),
		children: make(map[string]*Settings),
	}
}

// Close stops the root view from listening for saves.
func (s *Settings) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Prefix is the app name of a scoped view, or "" for the root.
func (s *Settings) Prefix() string {
	return s.prefix
}

// Parent returns the view this one was resolved from, or nil for the root.
func (s *Settings) Parent() *Settings {
	return s.parent
}

// Get resolves name.
func (s *Settings) Get(ctx context.Context, name string) (Value, error) {
	if item := s.micro.Get(name); item != nil {
		s.opts.metrics.IncRead(metrics.SourceMicroCache)
		return item.Value(), nil
	}

	v, err := s.resolve(ctx, name)
	if err != nil {
		if errors.Is(err, models.ErrUnknownSetting) {
			s.opts.metrics.IncRead(metrics.SourceUnknown)
		}
		return Value{}, err
	}
	s.micro.Set(name, v, ttlcache.DefaultTTL)
	s.opts.metrics.IncRead(v.source)
	return v, nil
}

func (s *Settings) resolve(ctx context.Context, name string) (Value, error) {
	rec, err := s.records.Materialize(ctx)
	if err != nil {
		return Value{}, err
	}

	if s.prefix != "" {
		if app := rec.App(s.prefix, false); app != nil {
			if v, ok := app[name]; ok {
				return Value{raw: v, source: metrics.SourceAppRecord}, nil
			}
		}
	}
	if rec.Has(name) {
		return Value{raw: rec.Get(name), source: metrics.SourceRecord}, nil
	}
	if v, ok := s.host.Get(name); ok {
		return Value{raw: v, source: metrics.SourceHost}, nil
	}
	if c, ok := s.scope.Container(name); ok {
		return Value{scope: s.child(c), source: metrics.SourceContainer}, nil
	}
	if d, ok := s.scope.Definition(name); ok {
		return Value{raw: d.Default, source: metrics.SourceDefault}, nil
	}
	return Value{}, s.unknown(name)
}

// child returns the stable scoped view for an app container.
func (s *Settings) child(c *schema.Container) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.children[c.AppName]; ok {
		return v
	}
	v := newView(s.records, s.host, c, s, c.AppName, s.opts)
	s.children[c.AppName] = v
	return v
}

// App returns the scoped view for an app container.
func (s *Settings) App(ctx context.Context, name string) (*Settings, error) {
	v, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !v.IsContainer() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("%q is not an app settings container", name))
	}
	return v.Scope(), nil
}

// Set writes value. Names exposed by the host configuration are written there;
// everything else is stored in the record (under this view's app when scoped)
// and persisted.
func (s *Settings) Set(ctx context.Context, name string, value any) error {
	return s.Update(ctx, map[string]any{name: value})
}

// Update writes several values with a single save of the record. Every name is
// checked before anything is written.
func (s *Settings) Update(ctx context.Context, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	rec, err := s.records.Materialize(ctx)
	if err != nil {
		return err
	}

	hostWrites := make(map[string]any)
	recordWrites := make(map[string]any)
	for name, value := range values {
		switch {
		case s.host.Has(name):
			hostWrites[name] = value
		case s.isContainer(name):
			return dErrors.Wrap(ErrContainerWrite, dErrors.CodeBadRequest, name)
		default:
			d, known := s.scope.Definition(name)
			if !known && !s.storedIn(rec, name) {
				return s.unknown(name)
			}
			if known {
				if coerced, err := d.Coerce(value); err == nil {
					value = coerced
				}
			}
			recordWrites[name] = value
		}
	}

	if len(recordWrites) > 0 {
		data := s.data(rec, true)
		for name, value := range recordWrites {
			data[name] = value
		}
		if err := s.records.Save(ctx, rec); err != nil {
			return err
		}
	}
	for name, value := range hostWrites {
		s.host.Set(name, value)
	}

	for name := range values {
		s.micro.Delete(name)
	}
	for name := range recordWrites {
		s.opts.metrics.IncWrite(metrics.TargetRecord)
		s.emit(ctx, audit.ActionSettingChanged, name, metrics.TargetRecord)
	}
	for name := range hostWrites {
		s.opts.metrics.IncWrite(metrics.TargetHost)
		s.emit(ctx, audit.ActionSettingChanged, name, metrics.TargetHost)
	}
	return nil
}

// Delete removes an override. Deleting a declared setting that has no stored
// override is a no-op.
func (s *Settings) Delete(ctx context.Context, name string) error {
	if s.host.Has(name) {
		s.host.Delete(name)
		s.micro.Delete(name)
		s.opts.metrics.IncWrite(metrics.TargetHost)
		s.emit(ctx, audit.ActionSettingDeleted, name, metrics.TargetHost)
		return nil
	}
	if s.isContainer(name) {
		return dErrors.Wrap(ErrContainerWrite, dErrors.CodeBadRequest, name)
	}

	rec, err := s.records.Materialize(ctx)
	if err != nil {
		return err
	}
	if !s.storedIn(rec, name) {
		if _, known := s.scope.Definition(name); known {
			return nil
		}
		return s.unknown(name)
	}

	delete(s.data(rec, false), name)
	if err := s.records.Save(ctx, rec); err != nil {
		return err
	}
	s.micro.Delete(name)
	s.opts.metrics.IncWrite(metrics.TargetRecord)
	s.emit(ctx, audit.ActionSettingDeleted, name, metrics.TargetRecord)
	return nil
}

// Revert resets every stored override in this view to its schema default and
// persists the record. The root view reverts app overrides too.
func (s *Settings) Revert(ctx context.Context) error {
	rec, err := s.records.Materialize(ctx)
	if err != nil {
		return err
	}
	rec.Revert(s.records.Schema(), s.prefix)
	if err := s.records.Save(ctx, rec); err != nil {
		return err
	}
	s.forgetAll()
	s.emit(ctx, audit.ActionSettingsReverted, "", metrics.TargetRecord)
	return nil
}

// Save persists the current record unchanged. Creating the record when none
// exists is the visible effect.
func (s *Settings) Save(ctx context.Context) error {
	rec, err := s.records.Materialize(ctx)
	if err != nil {
		return err
	}
	return s.records.Save(ctx, rec)
}

// Clear drops the cached values of this view and its app views and the
// shared resolution cache entry.
func (s *Settings) Clear(ctx context.Context) error {
	s.forgetAll()
	return s.records.Invalidate(ctx)
}

func (s *Settings) forgetAll() {
	s.micro.DeleteAll()
	s.mu.Lock()
	children := make([]*Settings, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.mu.Unlock()
	for _, c := range children {
		c.forgetAll()
	}
}

func (s *Settings) isContainer(name string) bool {
	_, ok := s.scope.Container(name)
	return ok
}

// data returns the map this view stores overrides in.
func (s *Settings) data(rec *models.Record, create bool) map[string]any {
	if s.prefix == "" {
		if rec.Data == nil {
			rec.Data = map[string]any{}
		}
		return rec.Data
	}
	return rec.App(s.prefix, create)
}

func (s *Settings) storedIn(rec *models.Record, name string) bool {
	if s.prefix == "" {
		return rec.Has(name)
	}
	_, ok := rec.App(s.prefix, false)[name]
	return ok
}

func (s *Settings) unknown(name string) error {
	return &models.UnknownSettingError{Scope: s.prefix, Name: name}
}

func (s *Settings) emit(ctx context.Context, action audit.Action, name, target string) {
	if s.opts.publisher == nil {
		return
	}
	event := audit.Event{
		Action:    action,
		App:       s.prefix,
		Name:      name,
		Target:    target,
		RequestID: requestcontext.RequestID(ctx),
		Timestamp: requestcontext.Now(ctx),
	}
	if err := s.opts.publisher.Emit(ctx, event); err != nil {
		s.opts.logger.WarnContext(ctx, "failed to emit settings audit event",
			"request_id", event.RequestID,
			"action", action,
			"name", name,
			"error", err,
		)
	}
}
