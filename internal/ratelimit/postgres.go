package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps counters in the rate_limits table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Hit is one conditional upsert. The DO UPDATE ... WHERE clause is evaluated
// against the locked row, so concurrent hits on a key cannot both pass the
// ceiling. No returned row means the update was refused, i.e. rejected.
func (s *PostgresStore) Hit(ctx context.Context, key string, rule Rule, now time.Time) (Result, error) {
	now = now.UTC()
	nextReset := now.Add(rule.Window)

	var count int
	var resetTime time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (key, count, reset_time, updated_at)
		VALUES ($1, 1, $3, $2)
		ON CONFLICT (key) DO UPDATE
		SET
			count = CASE
				WHEN rate_limits.reset_time <= $2 THEN 1
				ELSE rate_limits.count + 1
			END,
			reset_time = CASE
				WHEN rate_limits.reset_time <= $2 THEN $3
				ELSE rate_limits.reset_time
			END,
			updated_at = $2
		WHERE rate_limits.reset_time <= $2 OR rate_limits.count < $4
		RETURNING count, reset_time
	`, key, now, nextReset, rule.MaxRequests).Scan(&count, &resetTime)
	if err == nil {
		return Result{Admitted: true, Count: count, ResetTime: resetTime.UTC()}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Result{}, fmt.Errorf("upsert rate limit: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT count, reset_time
		FROM rate_limits
		WHERE key = $1
	`, key).Scan(&count, &resetTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Purged between the two statements; report the full budget as spent.
			return Result{Admitted: false, Count: rule.MaxRequests, ResetTime: nextReset}, nil
		}
		return Result{}, fmt.Errorf("read rejected rate limit: %w", err)
	}

	return Result{Admitted: false, Count: count, ResetTime: resetTime.UTC()}, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM rate_limits
		WHERE reset_time < $1
	`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired rate limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired rate limits rows affected: %w", err)
	}

	return affected, nil
}
