package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"taxidispatch/internal/apiclient"
	"taxidispatch/internal/auth"
	"taxidispatch/internal/config"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/logging"
)

// Smoke runs one full ride against a live server, exercising REST and the
// websocket stream, and exits non-zero on the first failed step.
func main() {
	log := logging.NewLogger(os.Getenv("LOG_LEVEL"))
	if err := run(); err != nil {
		log.Error("smoke test failed", "error", err)
		os.Exit(1)
	}
	log.Info("smoke test complete")
}

func run() error {
	srvCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	cliCfg, err := config.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	adminToken, err := auth.NewIssuer(srvCfg.JWTSecret, time.Hour).Issue("smoke-admin", dispatch.RoleAdmin)
	if err != nil {
		return err
	}
	api := apiclient.New(cliCfg)
	admin := api.WithToken(adminToken)
	suffix := time.Now().UnixNano()

	fmt.Println("Creating users...")
	du, err := admin.CreateUser(ctx, apiclient.NewUser{
		ID: fmt.Sprintf("smoke_driver_%d", suffix), Role: dispatch.RoleDriver, Name: "Smoke Driver",
		VehicleModel: "Lada Vesta", LicensePlate: "S001MK77", Rating: 5,
	})
	if err != nil {
		return fmt.Errorf("create driver: %w", err)
	}
	cu, err := admin.CreateUser(ctx, apiclient.NewUser{ID: fmt.Sprintf("smoke_client_%d", suffix), Role: dispatch.RoleClient, Name: "Smoke Client"})
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	driver, client := api.WithToken(du.Token), api.WithToken(cu.Token)

	pickup := geo.Point{Lat: 55.7558, Lng: 37.6173}
	fmt.Println("Sending driver heartbeat...")
	if _, err := driver.UpdateLocation(ctx, geo.Point{Lat: pickup.Lat + 0.001, Lng: pickup.Lng}); err != nil {
		return fmt.Errorf("driver location: %w", err)
	}
	if _, err := driver.SetOnline(ctx, true); err != nil {
		return fmt.Errorf("driver online: %w", err)
	}

	driverStream, err := driver.Events(ctx)
	if err != nil {
		return err
	}
	defer driverStream.Close()
	clientStream, err := client.Events(ctx)
	if err != nil {
		return err
	}
	defer clientStream.Close()
	// Give the server a moment to register both subscriptions.
	time.Sleep(200 * time.Millisecond)

	fmt.Println("Requesting ride...")
	ride, err := client.RequestRide(apiclient.WithIdempotencyKey(ctx, fmt.Sprintf("smoke-%d", suffix)), apiclient.RideRequest{
		Pickup:      dispatch.Place{Label: "Red Square", Point: pickup},
		Destination: dispatch.Place{Label: "Arbat", Point: geo.Point{Lat: 55.7512, Lng: 37.5884}},
		RideType:    geo.ClassComfort,
	}, false)
	if err != nil {
		return fmt.Errorf("request ride: %w", err)
	}
	fmt.Printf("Ride ID: %s fare=%.2f\n", ride.ID, ride.Fare)

	if _, err := waitFor(driverStream, string(events.KindRideOffered), ride.ID); err != nil {
		return fmt.Errorf("driver offer: %w", err)
	}
	fmt.Println("Accepting ride over websocket...")
	if err := driverStream.Send("ride_response", map[string]any{"rideId": ride.ID, "accept": true}); err != nil {
		return err
	}
	if _, err := waitFor(driverStream, "ride_response_ok", ""); err != nil {
		return fmt.Errorf("accept reply: %w", err)
	}
	assigned, err := waitFor(clientStream, string(events.KindRideAssigned), ride.ID)
	if err != nil {
		return fmt.Errorf("client assignment: %w", err)
	}
	evt, err := assigned.Event()
	if err != nil {
		return err
	}
	if p, ok := evt.Payload.(events.RideAssigned); !ok || p.DriverID != du.User.ID {
		return fmt.Errorf("unexpected assignment payload %#v", evt.Payload)
	}
	fmt.Printf("WS update received: %s\n", assigned.Raw)

	if _, err := client.SendMessage(ctx, ride.ID, "I'm at the main entrance"); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if _, err := waitFor(driverStream, string(events.KindChatMessage), ride.ID); err != nil {
		return fmt.Errorf("driver chat: %w", err)
	}

	for _, status := range []dispatch.RideStatus{dispatch.StatusEnRoute, dispatch.StatusInProgress, dispatch.StatusCompleted} {
		if _, err := driver.UpdateStatus(ctx, ride.ID, status); err != nil {
			return fmt.Errorf("status %s: %w", status, err)
		}
	}
	if _, err := waitFor(clientStream, string(events.KindRideStatusChanged), ride.ID); err != nil {
		return fmt.Errorf("client status: %w", err)
	}

	final, err := client.GetRide(ctx, ride.ID)
	if err != nil {
		return err
	}
	if final.Status != dispatch.StatusCompleted {
		return fmt.Errorf("final status %s", final.Status)
	}
	history, err := client.History(ctx, 10, 0)
	if err != nil {
		return err
	}
	if len(history) == 0 || history[0].ID != ride.ID {
		return errors.New("completed ride missing from history")
	}
	return nil
}

// waitFor reads frames until one of the wanted type for rideID arrives.
func waitFor(s *apiclient.Stream, kind, rideID string) (apiclient.Frame, error) {
	type result struct {
		f   apiclient.Frame
		err error
	}
	done := make(chan result, 1)
	go func() {
		for {
			f, err := s.Next()
			if err != nil {
				done <- result{err: err}
				return
			}
			if f.Type != kind {
				continue
			}
			if rideID != "" {
				evt, err := f.Event()
				if err != nil || evt.RideID != rideID {
					continue
				}
			}
			done <- result{f: f}
			return
		}
	}()
	select {
	case r := <-done:
		return r.f, r.err
	case <-time.After(10 * time.Second):
		return apiclient.Frame{}, fmt.Errorf("no %s frame within 10s", kind)
	}
}
