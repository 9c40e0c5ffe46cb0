package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"setman/internal/schema"
	"setman/internal/settings/models"
	"setman/pkg/platform/sentinel"
)

type memoryRow struct {
	id        int64
	data      []byte
	createdAt time.Time
	updatedAt time.Time
}

// InMemory keeps rows serialized, like the SQL store, so callers never share
// maps with the store.
type InMemory struct {
	mu     sync.RWMutex
	schema *schema.Schema
	rows   map[int64]memoryRow
	nextID int64
	clock  func() time.Time
}

// NewInMemory constructs an in-memory record store.
func NewInMemory(s *schema.Schema) *InMemory {
	return &InMemory{
		schema: s,
		rows:   make(map[int64]memoryRow),
		clock:  time.Now,
	}
}

// Get returns the single record, sentinel.ErrNotFound when there is none and
// models.ErrMultipleRecords when there are several.
func (s *InMemory) Get(_ context.Context) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch len(s.rows) {
	case 0:
		return nil, fmt.Errorf("get settings record: %w", sentinel.ErrNotFound)
	case 1:
		for _, row := range s.rows {
			return s.toRecord(row)
		}
	}
	return nil, fmt.Errorf("get settings record: %w", models.ErrMultipleRecords)
}

func (s *InMemory) Create(_ context.Context, r *models.Record) error {
	raw, err := r.GetRaw()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.clock()
	s.rows[s.nextID] = memoryRow{id: s.nextID, data: raw, createdAt: now, updatedAt: now}

	r.ID = s.nextID
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (s *InMemory) Update(_ context.Context, r *models.Record) error {
	raw, err := r.GetRaw()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[r.ID]
	if !ok {
		return fmt.Errorf("update settings record %d: %w", r.ID, sentinel.ErrNotFound)
	}
	row.data = raw
	row.updatedAt = s.clock()
	s.rows[r.ID] = row

	r.UpdatedAt = row.updatedAt
	return nil
}

// CountExcluding counts the rows other than id. A zero id excludes nothing.
func (s *InMemory) CountExcluding(_ context.Context, id int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.rows)
	if _, ok := s.rows[id]; ok {
		n--
	}
	return n, nil
}

// IDs lists stored row ids in ascending order.
func (s *InMemory) IDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *InMemory) toRecord(row memoryRow) (*models.Record, error) {
	r := &models.Record{ID: row.id, CreatedAt: row.createdAt, UpdatedAt: row.updatedAt}
	if err := r.SetFromJSON(row.data, s.schema); err != nil {
		return nil, err
	}
	return r, nil
}
