package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxidispatch/internal/auth"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/geo"
)

// Postgres implements dispatch.Persistence and auth.UserStore.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ dispatch.Persistence      = (*Postgres)(nil)
	_ dispatch.IdempotencyStore = (*IdempotencyStore)(nil)
	_ auth.UserStore            = (*Postgres)(nil)
	_ EventLog                  = (*Postgres)(nil)
)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return ApplySchema(ctx, pool)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

const driverColumns = `id, name, vehicle_model, license_plate, rating, state, ride_id, offer_ride_id, latitude, longitude, location_at, earnings, trips, version`

func (p *Postgres) SaveDriver(ctx context.Context, d dispatch.Driver) error {
	return saveDriver(ctx, p.pool, d)
}

// dbExecutor is satisfied by both the pool and a transaction.
type dbExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// saveDriver upserts d unless the stored row already carries a newer version,
// so snapshots written out of order never roll a driver back.
func saveDriver(ctx context.Context, db dbExecutor, d dispatch.Driver) error {
	var lat, lng *float64
	if d.Location != nil {
		lat, lng = &d.Location.Lat, &d.Location.Lng
	}
	var locAt *time.Time
	if !d.LocationAt.IsZero() {
		locAt = &d.LocationAt
	}
	_, err := db.Exec(ctx, `
INSERT INTO drivers (`+driverColumns+`, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW())
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	vehicle_model = EXCLUDED.vehicle_model,
	license_plate = EXCLUDED.license_plate,
	rating = EXCLUDED.rating,
	state = EXCLUDED.state,
	ride_id = EXCLUDED.ride_id,
	offer_ride_id = EXCLUDED.offer_ride_id,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	location_at = EXCLUDED.location_at,
	earnings = EXCLUDED.earnings,
	trips = EXCLUDED.trips,
	version = EXCLUDED.version,
	updated_at = EXCLUDED.updated_at
WHERE drivers.version < EXCLUDED.version
`, d.ID, d.Profile.Name, d.Profile.VehicleModel, d.Profile.LicensePlate, d.Profile.Rating,
		d.State, d.RideID, d.OfferRideID, lat, lng, locAt, d.Earnings, d.Trips, d.Version)
	return err
}

func (p *Postgres) LoadDrivers(ctx context.Context) ([]dispatch.Driver, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dispatch.Driver
	for rows.Next() {
		var (
			d        dispatch.Driver
			lat, lng *float64
			locAt    *time.Time
		)
		if err := rows.Scan(&d.ID, &d.Profile.Name, &d.Profile.VehicleModel, &d.Profile.LicensePlate, &d.Profile.Rating,
			&d.State, &d.RideID, &d.OfferRideID, &lat, &lng, &locAt, &d.Earnings, &d.Trips, &d.Version); err != nil {
			return nil, err
		}
		d.Profile.ID = d.ID
		if lat != nil && lng != nil {
			d.Location = &geo.Point{Lat: *lat, Lng: *lng}
		}
		if locAt != nil {
			d.LocationAt = *locAt
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

const rideColumns = `id, client_id, driver_id, pickup_label, pickup_lat, pickup_lng,
	destination_label, destination_lat, destination_lng, ride_class, payment_method, fare, distance_km,
	estimated_minutes, actual_minutes, status, requested_at, started_at, completed_at, cancelled_at,
	cancellation_reason, cancelled_by`

func rideArgs(r dispatch.Ride) []any {
	return []any{
		r.ID, r.ClientID, r.DriverID, r.Pickup.Label, r.Pickup.Point.Lat, r.Pickup.Point.Lng,
		r.Destination.Label, r.Destination.Point.Lat, r.Destination.Point.Lng, r.Class, r.Payment, r.Fare, r.DistanceKM,
		r.EstimatedMinutes, r.ActualDurationMinutes, r.Status, r.RequestedAt, r.StartedAt, r.CompletedAt, r.CancelledAt,
		r.CancellationReason, r.CancelledBy,
	}
}

func scanRide(row pgx.Row) (dispatch.Ride, error) {
	var r dispatch.Ride
	err := row.Scan(&r.ID, &r.ClientID, &r.DriverID, &r.Pickup.Label, &r.Pickup.Point.Lat, &r.Pickup.Point.Lng,
		&r.Destination.Label, &r.Destination.Point.Lat, &r.Destination.Point.Lng, &r.Class, &r.Payment, &r.Fare, &r.DistanceKM,
		&r.EstimatedMinutes, &r.ActualDurationMinutes, &r.Status, &r.RequestedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
		&r.CancellationReason, &r.CancelledBy)
	return r, err
}

func (p *Postgres) GetRide(ctx context.Context, id string) (dispatch.Ride, bool, error) {
	ride, err := scanRide(p.pool.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dispatch.Ride{}, false, nil
		}
		return dispatch.Ride{}, false, err
	}
	return ride, true, nil
}

// ListRidesByUser returns finished rides where userID is the client or the
// driver, newest first.
func (p *Postgres) ListRidesByUser(ctx context.Context, userID string, limit, offset int) ([]dispatch.Ride, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+rideColumns+`
FROM rides
WHERE (client_id = $1 OR driver_id = $1)
	AND status IN ('COMPLETED', 'CANCELLED')
ORDER BY requested_at DESC
LIMIT $2 OFFSET $3
`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rides []dispatch.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, r)
	}
	return rides, rows.Err()
}

func (p *Postgres) SaveChatMessage(ctx context.Context, msg dispatch.ChatMessage) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO chat_messages (id, ride_id, sender_id, sender_role, text, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, msg.ID, msg.RideID, msg.SenderID, msg.SenderRole, msg.Text, msg.CreatedAt)
	return err
}

func (p *Postgres) ListChatMessages(ctx context.Context, rideID string) ([]dispatch.ChatMessage, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, ride_id, sender_id, sender_role, text, created_at
FROM chat_messages
WHERE ride_id = $1
ORDER BY created_at ASC, id ASC
`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []dispatch.ChatMessage
	for rows.Next() {
		var m dispatch.ChatMessage
		if err := rows.Scan(&m.ID, &m.RideID, &m.SenderID, &m.SenderRole, &m.Text, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateUser(ctx context.Context, u auth.User) error {
	tag, err := p.pool.Exec(ctx, `
INSERT INTO users (id, role, name, phone, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO NOTHING
`, u.ID, u.Role, u.Name, u.Phone, u.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrUserExists
	}
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (auth.User, bool, error) {
	var u auth.User
	err := p.pool.QueryRow(ctx, `SELECT id, role, name, phone, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Role, &u.Name, &u.Phone, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.User{}, false, nil
		}
		return auth.User{}, false, err
	}
	return u, true, nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, role, name, phone, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.User
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(&u.ID, &u.Role, &u.Name, &u.Phone, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DefaultPool builds a pgx pool with sane defaults.
func DefaultPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	return pgxpool.NewWithConfig(ctx, cfg)
}
