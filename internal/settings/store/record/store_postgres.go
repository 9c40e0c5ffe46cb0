package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"setman/internal/schema"
	"setman/internal/settings/models"
	"setman/pkg/platform/sentinel"
	"setman/pkg/platform/tx"
)

// PostgresStore persists the settings record in the setman_settings table.
// Queries run inside the transaction carried by ctx when there is one.
type PostgresStore struct {
	db     *sql.DB
	schema *schema.Schema
	clock  func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithClock sets the clock used for create_date and update_date.
func WithClock(clock func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed record store.
func NewPostgres(db *sql.DB, s *schema.Schema, opts ...PostgresOption) *PostgresStore {
	store := &PostgresStore{db: db, schema: s, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Get loads the single record. Two rows are read so a broken singleton
// invariant is reported instead of silently picking one.
func (s *PostgresStore) Get(ctx context.Context) (*models.Record, error) {
	rows, err := tx.ExecutorFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id, data, create_date, update_date
		FROM setman_settings
		ORDER BY id
		LIMIT 2
	`)
	if err != nil {
		return nil, fmt.Errorf("get settings record: %w", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		var (
			r   models.Record
			raw string
		)
		if err := rows.Scan(&r.ID, &raw, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan settings record: %w", err)
		}
		if err := r.SetFromJSON([]byte(raw), s.schema); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get settings record: %w", err)
	}

	switch len(records) {
	case 0:
		return nil, fmt.Errorf("get settings record: %w", sentinel.ErrNotFound)
	case 1:
		return records[0], nil
	default:
		return nil, fmt.Errorf("get settings record: %w", models.ErrMultipleRecords)
	}
}

func (s *PostgresStore) Create(ctx context.Context, r *models.Record) error {
	raw, err := r.GetRaw()
	if err != nil {
		return err
	}
	now := s.clock()
	err = tx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO setman_settings (data, create_date, update_date)
		VALUES ($1, $2, $2)
		RETURNING id
	`, string(raw), now).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("create settings record: %w", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, r *models.Record) error {
	raw, err := r.GetRaw()
	if err != nil {
		return err
	}
	now := s.clock()
	res, err := tx.ExecutorFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE setman_settings
		SET data = $1, update_date = $2
		WHERE id = $3
	`, string(raw), now, r.ID)
	if err != nil {
		return fmt.Errorf("update settings record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update settings record: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update settings record %d: %w", r.ID, sentinel.ErrNotFound)
	}
	r.UpdatedAt = now
	return nil
}

// CountExcluding counts the rows other than id. A zero id excludes nothing.
func (s *PostgresStore) CountExcluding(ctx context.Context, id int64) (int, error) {
	var n int
	err := tx.ExecutorFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT count(*) FROM setman_settings WHERE id <> $1`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count settings records: %w", err)
	}
	return n, nil
}
