package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"taxidispatch/internal/apiclient"
	"taxidispatch/internal/config"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/logging"
)

// Simulate drives one ride end to end over REST: the client requests, the
// driver accepts the offer and walks the ride to COMPLETED.
func main() {
	clientToken := flag.String("client-token", os.Getenv("CLIENT_TOKEN"), "client bearer token")
	driverToken := flag.String("driver-token", os.Getenv("DRIVER_TOKEN"), "driver bearer token")
	fromLat := flag.Float64("from-lat", 55.7558, "pickup latitude")
	fromLng := flag.Float64("from-lng", 37.6173, "pickup longitude")
	toLat := flag.Float64("to-lat", 55.7512, "destination latitude")
	toLng := flag.Float64("to-lng", 37.6184, "destination longitude")
	class := flag.String("class", string(geo.ClassEconomy), "ride class: economy, comfort or business")
	step := flag.Duration("step", time.Second, "pause between trip stages")
	flag.Parse()

	log := logging.NewLogger(os.Getenv("LOG_LEVEL"))
	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Error("invalid client config", "error", err)
		os.Exit(1)
	}
	if *clientToken == "" || *driverToken == "" {
		log.Error("client and driver tokens are required (see cmd/seed)")
		os.Exit(1)
	}
	base := apiclient.New(cfg)
	client, driver := base.WithToken(*clientToken), base.WithToken(*driverToken)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ride, err := client.RequestRide(ctx, apiclient.RideRequest{
		Pickup:      dispatch.Place{Label: "pickup", Point: geo.Point{Lat: *fromLat, Lng: *fromLng}},
		Destination: dispatch.Place{Label: "destination", Point: geo.Point{Lat: *toLat, Lng: *toLng}},
		RideType:    geo.RideClass(*class),
	}, false)
	if err != nil {
		log.Error("ride request failed", "error", err)
		os.Exit(1)
	}
	log.Info("ride requested", "ride_id", ride.ID, "fare", ride.Fare, "distance_km", ride.DistanceKM)

	accepted, err := acceptWhenOffered(ctx, driver, ride.ID)
	if err != nil {
		log.Error("accept failed", "ride_id", ride.ID, "error", err)
		os.Exit(1)
	}
	ride = accepted
	log.Info("ride accepted", "ride_id", ride.ID, "driver_id", ride.DriverID)

	for _, status := range []dispatch.RideStatus{dispatch.StatusEnRoute, dispatch.StatusInProgress, dispatch.StatusCompleted} {
		time.Sleep(*step)
		updated, err := driver.UpdateStatus(ctx, ride.ID, status)
		if err != nil {
			log.Error("status update failed", "ride_id", ride.ID, "to", status, "error", err)
			os.Exit(1)
		}
		log.Info("ride status", "ride_id", updated.ID, "status", updated.Status)
	}
}

// acceptWhenOffered retries until the matching loop offers the ride to this driver.
func acceptWhenOffered(ctx context.Context, driver *apiclient.Client, rideID string) (dispatch.Ride, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		ride, err := driver.AcceptRide(ctx, rideID)
		var apiErr *apiclient.Error
		if err == nil || !errors.As(err, &apiErr) || apiErr.Code != "RIDE_NOT_PENDING" {
			return ride, err
		}
		select {
		case <-ctx.Done():
			return dispatch.Ride{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
