package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlsen/updown/internal/domain"
)

// ObservationStore implements domain.ObservationStore using PostgreSQL.
type ObservationStore struct {
	pool *pgxpool.Pool
}

// NewObservationStore creates a new ObservationStore backed by the given
// connection pool.
func NewObservationStore(pool *pgxpool.Pool) *ObservationStore {
	return &ObservationStore{pool: pool}
}

// Upsert inserts or updates one window observation. Conflicting rows are
// merged rather than replaced: a confident outcome is never downgraded by
// an unconfident re-delivery, and the longer price history wins.
func (s *ObservationStore) Upsert(ctx context.Context, rec domain.ObservationRecord) error {
	history, err := json.Marshal(rec.PriceHistory)
	if err != nil {
		return fmt.Errorf("postgres: marshal price history for window %d: %w", rec.WindowID, err)
	}
	if rec.PriceHistory == nil {
		history = []byte("[]")
	}

	const query = `
		INSERT INTO observations (
			window_id, slug, resolution_ts, question,
			outcome, confident, price_history, saved_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, NOW()
		)
		ON CONFLICT (window_id) DO UPDATE SET
			slug          = EXCLUDED.slug,
			resolution_ts = EXCLUDED.resolution_ts,
			question      = EXCLUDED.question,
			outcome       = CASE
				WHEN observations.confident AND NOT EXCLUDED.confident
				THEN observations.outcome
				ELSE EXCLUDED.outcome
			END,
			confident     = observations.confident OR EXCLUDED.confident,
			price_history = CASE
				WHEN jsonb_array_length(EXCLUDED.price_history) >= jsonb_array_length(observations.price_history)
				THEN EXCLUDED.price_history
				ELSE observations.price_history
			END,
			saved_at      = EXCLUDED.saved_at,
			updated_at    = NOW()`

	_, err = s.pool.Exec(ctx, query,
		rec.WindowID.Unix(), rec.Slug, rec.ResolutionTime, rec.Question,
		string(rec.Outcome), rec.Confident, history, rec.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert observation %d: %w", rec.WindowID, err)
	}
	return nil
}

// GetByWindow fetches the observation for a window.
func (s *ObservationStore) GetByWindow(ctx context.Context, id domain.WindowID) (domain.ObservationRecord, error) {
	const query = selectColumns + ` WHERE window_id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, id.Unix()), fmt.Sprintf("window %d", id.Unix()))
}

// GetBySlug fetches the observation for a market slug.
func (s *ObservationStore) GetBySlug(ctx context.Context, slug string) (domain.ObservationRecord, error) {
	const query = selectColumns + ` WHERE slug = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, slug), "slug "+slug)
}

// List returns observations newest-first with optional pagination and
// resolution-time filtering.
func (s *ObservationStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ObservationRecord, error) {
	query := selectColumns
	args := []any{}
	where := []string{}

	if opts.Since != nil {
		args = append(args, opts.Since.Unix())
		where = append(where, fmt.Sprintf("resolution_ts >= $%d", len(args)))
	}
	if opts.Until != nil {
		args = append(args, opts.Until.Unix())
		where = append(where, fmt.Sprintf("resolution_ts < $%d", len(args)))
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY resolution_ts DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list observations: %w", err)
	}
	defer rows.Close()

	var recs []domain.ObservationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list observations: %w", err)
	}
	return recs, nil
}

// Count returns the number of stored observations.
func (s *ObservationStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM observations").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count observations: %w", err)
	}
	return n, nil
}

const selectColumns = `
	SELECT window_id, slug, resolution_ts, question,
	       outcome, confident, price_history, saved_at
	FROM observations`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *ObservationStore) scanOne(row pgx.Row, what string) (domain.ObservationRecord, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ObservationRecord{}, fmt.Errorf("postgres: observation %s: %w", what, domain.ErrNotFound)
	}
	return rec, err
}

func scanRecord(row rowScanner) (domain.ObservationRecord, error) {
	var (
		rec     domain.ObservationRecord
		id      int64
		outcome string
		history []byte
	)
	err := row.Scan(&id, &rec.Slug, &rec.ResolutionTime, &rec.Question,
		&outcome, &rec.Confident, &history, &rec.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ObservationRecord{}, err
		}
		return domain.ObservationRecord{}, fmt.Errorf("postgres: scan observation: %w", err)
	}
	rec.WindowID = domain.WindowID(id)
	rec.Outcome = domain.Outcome(outcome)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &rec.PriceHistory); err != nil {
			return domain.ObservationRecord{}, fmt.Errorf("postgres: decode price history for window %d: %w", id, err)
		}
	}
	return rec, nil
}
