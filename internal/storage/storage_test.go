package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"taxidispatch/internal/auth"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/geo"
)

func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TAXIDISPATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("TAXIDISPATCH_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := DefaultPool(ctx, dsn)
	if err != nil {
		t.Fatalf("DefaultPool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := ApplySchema(ctx, pool); err != nil {
		t.Fatalf("ApplySchema: %v", err)
	}
	return pool
}

func testRide(clientID string) dispatch.Ride {
	return dispatch.Ride{
		ID:               uuid.NewString(),
		ClientID:         clientID,
		Pickup:           dispatch.Place{Label: "Tverskaya 1", Point: geo.Point{Lat: 55.755, Lng: 37.617}},
		Destination:      dispatch.Place{Label: "Arbat 10", Point: geo.Point{Lat: 55.751, Lng: 37.618}},
		Class:            geo.ClassEconomy,
		Payment:          dispatch.PaymentCard,
		Fare:             161.2,
		DistanceKM:       0.45,
		EstimatedMinutes: 1,
		Status:           dispatch.StatusPending,
		RequestedAt:      time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestSchemaHashStable(t *testing.T) {
	if schemaHash(schema) != schemaHash(schema) || len(schemaHash(schema)) != 64 {
		t.Fatalf("unexpected hash %q", schemaHash(schema))
	}
	if schema == "" {
		t.Fatalf("schema.sql not embedded")
	}
}

func TestApplySchema_Idempotent(t *testing.T) {
	pool := openTestDB(t)
	if err := ApplySchema(context.Background(), pool); err != nil {
		t.Fatalf("second ApplySchema: %v", err)
	}
}

func TestPostgres_RideLifecycleWithEvents(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	pg := NewPostgres(pool)

	clientID := "client-" + uuid.NewString()
	driverID := "driver-" + uuid.NewString()
	ride := testRide(clientID)
	if err := pg.CreateRideWithEvent(ctx, ride, dispatch.RideEvent{RideID: ride.ID, Type: "ride_created", To: string(ride.Status)}); err != nil {
		t.Fatalf("CreateRideWithEvent: %v", err)
	}

	ride.DriverID = driverID
	ride.Status = dispatch.StatusDriverAssigned
	loc := geo.Point{Lat: 55.76, Lng: 37.62}
	drv := dispatch.Driver{
		ID:       driverID,
		Profile:  dispatch.DriverProfile{ID: driverID, Name: "Ivan", VehicleModel: "Skoda Octavia", LicensePlate: "A123BC", Rating: 4.9},
		State:    dispatch.DriverToPickup,
		RideID:   ride.ID,
		Location: &loc,
	}
	evt := dispatch.RideEvent{
		RideID: ride.ID, Type: "ride_driver_assigned", From: "PENDING", To: "DRIVER_ASSIGNED",
		ActorID: driverID, ActorRole: "driver", Payload: []byte(`{"eta":3}`),
	}
	if err := pg.UpdateRideWithEvent(ctx, ride, evt, &drv); err != nil {
		t.Fatalf("UpdateRideWithEvent: %v", err)
	}

	got, ok, err := pg.GetRide(ctx, ride.ID)
	if err != nil || !ok {
		t.Fatalf("GetRide: ok=%v err=%v", ok, err)
	}
	if got.DriverID != driverID || got.Status != dispatch.StatusDriverAssigned || got.Pickup.Label != "Tverskaya 1" {
		t.Fatalf("GetRide = %+v", got)
	}

	events, err := pg.ListRideEvents(ctx, ride.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListRideEvents: %v", err)
	}
	if len(events) != 2 || events[1].From != "PENDING" || events[1].To != "DRIVER_ASSIGNED" {
		t.Fatalf("events = %+v", events)
	}
	if n, _ := pg.CountRideEvents(ctx, ride.ID); n != 2 {
		t.Fatalf("CountRideEvents = %d", n)
	}

	if rides, err := pg.ListRidesByUser(ctx, clientID, 10, 0); err != nil || len(rides) != 0 {
		t.Fatalf("history before completion = %+v, %v", rides, err)
	}
	assigned := ride
	ride.Status = dispatch.StatusCompleted
	done := dispatch.RideEvent{RideID: ride.ID, Type: "ride_completed", From: string(assigned.Status), To: string(ride.Status)}
	if err := pg.UpdateRideWithEvent(ctx, ride, done, nil); err != nil {
		t.Fatalf("UpdateRideWithEvent(completed): %v", err)
	}
	for _, userID := range []string{clientID, driverID} {
		rides, err := pg.ListRidesByUser(ctx, userID, 10, 0)
		if err != nil || len(rides) != 1 || rides[0].ID != ride.ID {
			t.Fatalf("ListRidesByUser(%s) = %+v, %v", userID, rides, err)
		}
	}

	drivers, err := pg.LoadDrivers(ctx)
	if err != nil {
		t.Fatalf("LoadDrivers: %v", err)
	}
	var found bool
	for _, d := range drivers {
		if d.ID == driverID {
			found = true
			if d.State != dispatch.DriverToPickup || d.Location == nil || d.Profile.Name != "Ivan" {
				t.Fatalf("driver row = %+v", d)
			}
		}
	}
	if !found {
		t.Fatalf("driver %s not loaded", driverID)
	}
}

func TestPostgres_SaveDriverKeepsNewestVersion(t *testing.T) {
	pg := NewPostgres(openTestDB(t))
	ctx := context.Background()
	id := "driver-" + uuid.NewString()

	newer := dispatch.Driver{ID: id, Profile: dispatch.DriverProfile{ID: id, Name: "Olga"}, State: dispatch.DriverOnline, Version: 5}
	older := newer
	older.State = dispatch.DriverOffline
	older.Version = 4
	for _, d := range []dispatch.Driver{newer, older} {
		if err := pg.SaveDriver(ctx, d); err != nil {
			t.Fatalf("SaveDriver(v%d): %v", d.Version, err)
		}
	}

	drivers, err := pg.LoadDrivers(ctx)
	if err != nil {
		t.Fatalf("LoadDrivers: %v", err)
	}
	for _, d := range drivers {
		if d.ID == id {
			if d.State != dispatch.DriverOnline || d.Version != 5 {
				t.Fatalf("driver row = %+v, want the v5 snapshot", d)
			}
			return
		}
	}
	t.Fatalf("driver %s not loaded", id)
}

func TestPostgres_GetRideMissing(t *testing.T) {
	pg := NewPostgres(openTestDB(t))
	_, ok, err := pg.GetRide(context.Background(), uuid.NewString())
	if err != nil || ok {
		t.Fatalf("GetRide(missing) = ok %v err %v", ok, err)
	}
}

func TestPostgres_Chat(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	pg := NewPostgres(pool)

	ride := testRide("client-" + uuid.NewString())
	if err := pg.CreateRideWithEvent(ctx, ride, dispatch.RideEvent{RideID: ride.ID, Type: "ride_created", To: "PENDING"}); err != nil {
		t.Fatalf("CreateRideWithEvent: %v", err)
	}
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, text := range []string{"I'm at the entrance", "2 minutes"} {
		msg := dispatch.ChatMessage{
			ID: uuid.NewString(), RideID: ride.ID, SenderID: ride.ClientID,
			SenderRole: dispatch.RoleClient, Text: text, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := pg.SaveChatMessage(ctx, msg); err != nil {
			t.Fatalf("SaveChatMessage: %v", err)
		}
	}
	msgs, err := pg.ListChatMessages(ctx, ride.ID)
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "I'm at the entrance" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestIdempotencyStore(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	s := NewIdempotencyStore(pool, time.Minute)

	key := "c1:" + uuid.NewString()
	if _, ok, err := s.Lookup(ctx, key); ok || err != nil {
		t.Fatalf("Lookup(unknown) = ok %v err %v", ok, err)
	}
	if err := s.Remember(ctx, key, "r1"); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	id, ok, err := s.Lookup(ctx, key)
	if err != nil || !ok || id != "r1" {
		t.Fatalf("Lookup = %q %v %v", id, ok, err)
	}
	if _, err := s.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}
}

func TestPostgres_Users(t *testing.T) {
	pg := NewPostgres(openTestDB(t))
	ctx := context.Background()
	u := auth.User{ID: "user-" + uuid.NewString(), Role: dispatch.RoleClient, Name: "Anna", CreatedAt: time.Now().UTC()}
	if err := pg.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := pg.CreateUser(ctx, u); !errors.Is(err, auth.ErrUserExists) {
		t.Fatalf("duplicate CreateUser: %v", err)
	}
	got, ok, err := pg.GetUser(ctx, u.ID)
	if err != nil || !ok || got.Name != "Anna" || got.Role != dispatch.RoleClient {
		t.Fatalf("GetUser = %+v %v %v", got, ok, err)
	}
}
