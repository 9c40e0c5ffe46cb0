package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"setman/internal/schema/schematest"
	"setman/internal/settings/cache"
	"setman/internal/settings/metrics"
	"setman/internal/settings/models"
	"setman/internal/settings/service/mocks"
	"setman/internal/settings/store/record"
	dErrors "setman/pkg/domain-errors"
	"setman/pkg/platform/sentinel"
)

// =============================================================================
// Record Service Test Suite
// =============================================================================
// Justification for unit tests: the service owns the ordering of validation,
// the single-record check, persistence and cache invalidation. Mocks make the
// order and the failure paths observable.

var (
	_ Cache = (*mocks.MockCache)(nil)
	_ Cache = (*cache.Guarded)(nil)
)

type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	store   *mocks.MockRecordStore
	cache   *mocks.MockCache
	metrics *metrics.Metrics
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockRecordStore(s.ctrl)
	s.cache = mocks.NewMockCache(s.ctrl)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.ctx = context.Background()

	svc, err := New(schematest.New(s.T()), s.store, s.cache,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) cached(r *models.Record) []byte {
	raw, err := encodeCached(r)
	s.Require().NoError(err)
	return raw
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ServiceSuite) TestNew() {
	sch := schematest.New(s.T())

	s.Run("nil schema returns error", func() {
		_, err := New(nil, s.store, s.cache)
		s.ErrorContains(err, "settings schema is required")
	})

	s.Run("nil store returns error", func() {
		_, err := New(sch, nil, s.cache)
		s.ErrorContains(err, "record store is required")
	})

	s.Run("nil cache returns error", func() {
		_, err := New(sch, s.store, nil)
		s.ErrorContains(err, "resolution cache is required")
	})

	s.Run("defaults are applied", func() {
		svc, err := New(sch, s.store, s.cache)
		s.Require().NoError(err)
		s.NotNil(svc.tx)
		s.NotNil(svc.logger)
		s.Same(sch, svc.Schema())
	})
}

// =============================================================================
// Materialize Tests
// =============================================================================

func (s *ServiceSuite) TestMaterialize() {
	s.Run("cache hit does not touch the store", func() {
		stored := &models.Record{ID: 7, Data: map[string]any{"SITE_TITLE": "Cached"}}
		s.cache.EXPECT().Get(gomock.Any(), cache.Key).Return(s.cached(stored), true, nil)

		r, err := s.service.Materialize(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(7), r.ID)
		s.Equal("Cached", r.Get("SITE_TITLE"))
	})

	s.Run("cache miss loads the record and repopulates the cache", func() {
		stored := &models.Record{ID: 3, Data: map[string]any{"blog": map[string]any{"POSTS_PER_PAGE": 20}}}
		gomock.InOrder(
			s.cache.EXPECT().Get(gomock.Any(), cache.Key).Return(nil, false, nil),
			s.store.EXPECT().Get(gomock.Any()).Return(stored, nil),
			s.cache.EXPECT().Set(gomock.Any(), cache.Key, gomock.Any()).Return(nil),
		)

		r, err := s.service.Materialize(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(3), r.ID)
		s.Equal(20, r.App("blog", false)["POSTS_PER_PAGE"])
	})

	s.Run("missing record is created empty", func() {
		gomock.InOrder(
			s.cache.EXPECT().Get(gomock.Any(), cache.Key).Return(nil, false, nil),
			s.store.EXPECT().Get(gomock.Any()).Return(nil, sentinel.ErrNotFound),
			s.store.EXPECT().CountExcluding(gomock.Any(), int64(0)).Return(0, nil),
			s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, r *models.Record) error {
					r.ID = 1
					return nil
				}),
			s.cache.EXPECT().Delete(gomock.Any(), cache.Key).Return(nil),
		)

		r, err := s.service.Materialize(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(1), r.ID, "creating the record invalidates, so this load does not fill the cache")
		s.Empty(r.Data)
	})

	s.Run("cache errors fall back to the store", func() {
		stored := &models.Record{ID: 4, Data: map[string]any{}}
		s.cache.EXPECT().Get(gomock.Any(), cache.Key).Return(nil, false, errors.New("redis down"))
		s.store.EXPECT().Get(gomock.Any()).Return(stored, nil)
		s.cache.EXPECT().Set(gomock.Any(), cache.Key, gomock.Any()).Return(errors.New("redis down"))

		r, err := s.service.Materialize(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(4), r.ID)
	})

	s.Run("unreadable cache entries are reloaded", func() {
		stored := &models.Record{ID: 5, Data: map[string]any{}}
		s.cache.EXPECT().Get(gomock.Any(), cache.Key).Return([]byte("not json"), true, nil)
		s.store.EXPECT().Get(gomock.Any()).Return(stored, nil)
		s.cache.EXPECT().Set(gomock.Any(), cache.Key, gomock.Any()).Return(nil)

		r, err := s.service.Materialize(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(5), r.ID)
	})

	s.Run("several stored records surface the invariant violation", func() {
		s.cache.EXPECT().Get(gomock.Any(), cache.Key).Return(nil, false, nil)
		s.store.EXPECT().Get(gomock.Any()).Return(nil, models.ErrMultipleRecords)

		_, err := s.service.Materialize(s.ctx)
		s.ErrorIs(err, models.ErrMultipleRecords)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("every call returns a private copy", func() {
		stored := &models.Record{ID: 7, Data: map[string]any{"SITE_TITLE": "Cached"}}
		raw := s.cached(stored)
		s.cache.EXPECT().Get(gomock.Any(), cache.Key).Return(raw, true, nil).Times(2)

		first, err := s.service.Materialize(s.ctx)
		s.Require().NoError(err)
		first.Set("SITE_TITLE", "mutated")

		second, err := s.service.Materialize(s.ctx)
		s.Require().NoError(err)
		s.Equal("Cached", second.Get("SITE_TITLE"))
	})
}

// =============================================================================
// Save Tests
// =============================================================================

func (s *ServiceSuite) TestSave() {
	s.Run("updates an existing record and invalidates the cache", func() {
		r := &models.Record{ID: 2, Data: map[string]any{"SITE_TITLE": "New"}}
		gomock.InOrder(
			s.store.EXPECT().CountExcluding(gomock.Any(), int64(2)).Return(0, nil),
			s.store.EXPECT().Update(gomock.Any(), r).Return(nil),
			s.cache.EXPECT().Delete(gomock.Any(), cache.Key).Return(nil),
		)

		s.Require().NoError(s.service.Save(s.ctx, r))
	})

	s.Run("validation failure stops before the store", func() {
		r := &models.Record{ID: 2, Data: map[string]any{"blog": map[string]any{"POSTS_PER_PAGE": 1000}}}
		before := testutil.ToFloat64(s.metrics.ValidationFailures)

		err := s.service.Save(s.ctx, r)

		var verr *models.ValidationError
		s.Require().ErrorAs(err, &verr)
		s.Contains(verr.Fields, "blog.POSTS_PER_PAGE")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(before+1, testutil.ToFloat64(s.metrics.ValidationFailures))
	})

	s.Run("another record makes the save fail", func() {
		r := models.NewRecord()
		s.store.EXPECT().CountExcluding(gomock.Any(), int64(0)).Return(1, nil)

		err := s.service.Save(s.ctx, r)
		s.ErrorIs(err, models.ErrMultipleRecords)
	})

	s.Run("vanished record is reported as not found", func() {
		r := &models.Record{ID: 9, Data: map[string]any{}}
		s.store.EXPECT().CountExcluding(gomock.Any(), int64(9)).Return(0, nil)
		s.store.EXPECT().Update(gomock.Any(), r).Return(sentinel.ErrNotFound)

		err := s.service.Save(s.ctx, r)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("invalidation failure is reported", func() {
		r := &models.Record{ID: 2, Data: map[string]any{}}
		s.store.EXPECT().CountExcluding(gomock.Any(), int64(2)).Return(0, nil)
		s.store.EXPECT().Update(gomock.Any(), r).Return(nil)
		s.cache.EXPECT().Delete(gomock.Any(), cache.Key).Return(errors.New("redis down"))

		err := s.service.Save(s.ctx, r)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("saved listeners run after invalidation until unsubscribed", func() {
		var calls int
		unsubscribe := s.service.OnSaved(func(context.Context) { calls++ })

		r := &models.Record{ID: 2, Data: map[string]any{}}
		s.store.EXPECT().CountExcluding(gomock.Any(), int64(2)).Return(0, nil).Times(2)
		s.store.EXPECT().Update(gomock.Any(), r).Return(nil).Times(2)
		s.cache.EXPECT().Delete(gomock.Any(), cache.Key).Return(nil).Times(2)

		s.Require().NoError(s.service.Save(s.ctx, r))
		unsubscribe()
		s.Require().NoError(s.service.Save(s.ctx, r))
		s.Equal(1, calls)
	})
}

// =============================================================================
// StoreDefaults Tests
// =============================================================================

func (s *ServiceSuite) TestStoreDefaults() {
	s.Run("creates the record with every default", func() {
		var saved *models.Record
		s.store.EXPECT().Get(gomock.Any()).Return(nil, sentinel.ErrNotFound)
		s.store.EXPECT().CountExcluding(gomock.Any(), int64(0)).Return(0, nil)
		s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, r *models.Record) error {
				r.ID = 1
				saved = r
				return nil
			})
		s.cache.EXPECT().Delete(gomock.Any(), cache.Key).Return(nil)

		created, err := s.service.StoreDefaults(s.ctx)
		s.Require().NoError(err)
		s.True(created)
		s.Equal(map[string]any{
			"SITE_TITLE":  "My Site",
			"MAINTENANCE": false,
			"DEBUG":       false,
			"blog":        map[string]any{"POSTS_PER_PAGE": 10, "COMMENTS": true},
			"shop":        map[string]any{"POSTS_PER_PAGE": 5},
		}, saved.Data)
	})

	s.Run("overwrites overrides in an existing record", func() {
		existing := &models.Record{ID: 4, Data: map[string]any{"SITE_TITLE": "Custom", "LEGACY": "kept"}}
		s.store.EXPECT().Get(gomock.Any()).Return(existing, nil)
		s.store.EXPECT().CountExcluding(gomock.Any(), int64(4)).Return(0, nil)
		s.store.EXPECT().Update(gomock.Any(), existing).Return(nil)
		s.cache.EXPECT().Delete(gomock.Any(), cache.Key).Return(nil)

		created, err := s.service.StoreDefaults(s.ctx)
		s.Require().NoError(err)
		s.False(created)
		s.Equal("My Site", existing.Get("SITE_TITLE"))
		s.Equal("kept", existing.Get("LEGACY"))
	})
}

// =============================================================================
// Concurrency
// =============================================================================

type slowStore struct {
	*record.InMemory
	gets atomic.Int32
}

func (s *slowStore) Get(ctx context.Context) (*models.Record, error) {
	s.gets.Add(1)
	time.Sleep(30 * time.Millisecond)
	return s.InMemory.Get(ctx)
}

func TestMaterializeSharesConcurrentLoads(t *testing.T) {
	sch := schematest.New(t)
	store := &slowStore{InMemory: record.NewInMemory(sch)}
	if err := store.Create(context.Background(), models.NewRecord()); err != nil {
		t.Fatal(err)
	}
	svc, err := New(sch, store, cache.NewMemory())
	if err != nil {
		t.Fatal(err)
	}

	const callers = 10
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Materialize(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := store.gets.Load(); got >= callers {
		t.Fatalf("expected concurrent misses to share loads, store was read %d times", got)
	}
}

// gatedStore holds the first Get after it has read the record until release
// is closed.
type gatedStore struct {
	*record.InMemory
	gated   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (s *gatedStore) Get(ctx context.Context) (*models.Record, error) {
	r, err := s.InMemory.Get(ctx)
	if s.gated.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return r, err
}

func TestMaterializeDoesNotCacheLoadsOverlappingASave(t *testing.T) {
	ctx := context.Background()
	sch := schematest.New(t)
	store := &gatedStore{
		InMemory: record.NewInMemory(sch),
		read:     make(chan struct{}),
		release:  make(chan struct{}),
	}
	initial := models.NewRecord()
	initial.Set("SITE_TITLE", "old")
	if err := store.Create(ctx, initial); err != nil {
		t.Fatal(err)
	}
	resolution := cache.NewMemory()
	svc, err := New(sch, store, resolution)
	if err != nil {
		t.Fatal(err)
	}

	store.gated.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.Materialize(ctx); err != nil {
			t.Error(err)
		}
	}()
	<-store.read

	current, err := store.InMemory.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	current.Set("SITE_TITLE", "new")
	if err := svc.Save(ctx, current); err != nil {
		t.Fatal(err)
	}

	close(store.release)
	<-done

	r, err := svc.Materialize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Get("SITE_TITLE"); got != "new" {
		t.Fatalf("read after a committed save returned %v from the resolution cache", got)
	}
	raw, ok, err := resolution.Get(ctx, cache.Key)
	if err != nil || !ok {
		t.Fatalf("expected the fresh read to fill the cache, ok=%v err=%v", ok, err)
	}
	cached, err := svc.decodeCached(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got := cached.Get("SITE_TITLE"); got != "new" {
		t.Fatalf("resolution cache holds %v after the save", got)
	}
}

func TestInvalidateStopsInFlightFill(t *testing.T) {
	ctx := context.Background()
	sch := schematest.New(t)
	resolution := cache.NewMemory()
	svc, err := New(sch, record.NewInMemory(sch), resolution)
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := encodeCached(&models.Record{ID: 1, Data: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}

	gen := svc.generation.Load()
	if err := svc.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	svc.fill(ctx, gen, encoded)
	if ok, _ := resolution.Contains(ctx, cache.Key); ok {
		t.Fatal("a fill started before an invalidation must not populate the cache")
	}

	svc.fill(ctx, svc.generation.Load(), encoded)
	if ok, _ := resolution.Contains(ctx, cache.Key); !ok {
		t.Fatal("a fill with no intervening invalidation should populate the cache")
	}
}
