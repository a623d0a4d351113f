package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"taxidispatch/internal/dispatch"
)

// EventLog reads the persisted ride transition log.
type EventLog interface {
	ListRideEvents(ctx context.Context, rideID string, limit, offset int) ([]dispatch.RideEvent, error)
	CountRideEvents(ctx context.Context, rideID string) (int, error)
}

func (p *Postgres) ListRideEvents(ctx context.Context, rideID string, limit, offset int) ([]dispatch.RideEvent, error) {
	rows, err := p.pool.Query(ctx, `
SELECT ride_id, event_type, from_status, to_status, payload, actor_id, actor_role, created_at
FROM ride_events
WHERE ride_id = $1
ORDER BY id ASC
LIMIT $2 OFFSET $3
`, rideID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dispatch.RideEvent
	for rows.Next() {
		var evt dispatch.RideEvent
		if err := rows.Scan(&evt.RideID, &evt.Type, &evt.From, &evt.To, &evt.Payload, &evt.ActorID, &evt.ActorRole, &evt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (p *Postgres) CountRideEvents(ctx context.Context, rideID string) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ride_events WHERE ride_id = $1`, rideID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CreateRideWithEvent inserts the ride and its first log entry in one transaction.
func (p *Postgres) CreateRideWithEvent(ctx context.Context, ride dispatch.Ride, event dispatch.RideEvent) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO rides (`+rideColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
`, rideArgs(ride)...); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateRideWithEvent writes the ride row, the driver row when given, and a
// log entry atomically.
func (p *Postgres) UpdateRideWithEvent(ctx context.Context, ride dispatch.Ride, event dispatch.RideEvent, driver *dispatch.Driver) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
UPDATE rides SET
	driver_id = $2,
	actual_minutes = $3,
	status = $4,
	started_at = $5,
	completed_at = $6,
	cancelled_at = $7,
	cancellation_reason = $8,
	cancelled_by = $9
WHERE id = $1
`, ride.ID, ride.DriverID, ride.ActualDurationMinutes, ride.Status, ride.StartedAt, ride.CompletedAt,
		ride.CancelledAt, ride.CancellationReason, ride.CancelledBy); err != nil {
		return err
	}
	if driver != nil {
		if err := saveDriver(ctx, tx, *driver); err != nil {
			return err
		}
	}
	if err := appendEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func appendEvent(ctx context.Context, tx pgx.Tx, evt dispatch.RideEvent) error {
	var at *time.Time
	if !evt.CreatedAt.IsZero() {
		at = &evt.CreatedAt
	}
	_, err := tx.Exec(ctx, `
INSERT INTO ride_events (ride_id, event_type, from_status, to_status, payload, actor_id, actor_role, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8,NOW()))
`, evt.RideID, evt.Type, evt.From, evt.To, evt.Payload, evt.ActorID, evt.ActorRole, at)
	return err
}
