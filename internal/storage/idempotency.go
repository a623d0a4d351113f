package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore persists client-scoped idempotency keys with a TTL, so a
// retried ride request maps to the ride created by the first attempt.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewIdempotencyStore(pool *pgxpool.Pool, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &IdempotencyStore{pool: pool, ttl: ttl}
}

func (s *IdempotencyStore) TTL() time.Duration {
	return s.ttl
}

// Purge deletes expired keys and reports how many were removed.
func (s *IdempotencyStore) Purge(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < NOW()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *IdempotencyStore) Remember(ctx context.Context, key, rideID string) error {
	if key == "" || rideID == "" {
		return nil
	}
	exp := time.Now().Add(s.ttl)
	_, err := s.pool.Exec(ctx, `
INSERT INTO idempotency_keys (key, ride_id, expires_at)
VALUES ($1,$2,$3)
ON CONFLICT (key) DO UPDATE SET ride_id=EXCLUDED.ride_id, expires_at=EXCLUDED.expires_at
`, key, rideID, exp)
	return err
}

func (s *IdempotencyStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}
	var rideID string
	var expires time.Time
	err := s.pool.QueryRow(ctx, `
SELECT ride_id, expires_at FROM idempotency_keys WHERE key = $1
`, key).Scan(&rideID, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	if time.Now().After(expires) {
		return "", false, nil
	}
	return rideID, true, nil
}
