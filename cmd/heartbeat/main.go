package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taxidispatch/internal/apiclient"
	"taxidispatch/internal/config"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/logging"
)

// Heartbeat keeps one driver online by posting a drifting position on an interval.
func main() {
	lat := flag.Float64("lat", 55.7558, "starting latitude")
	lng := flag.Float64("lng", 37.6173, "starting longitude")
	interval := flag.Duration("interval", 3*time.Second, "heartbeat interval")
	count := flag.Int("count", 20, "number of heartbeats to send, 0 for unlimited")
	stepLat := flag.Float64("delta-lat", 0.0001, "increment lat per heartbeat")
	stepLng := flag.Float64("delta-lng", 0.0001, "increment lng per heartbeat")
	offline := flag.Bool("offline-on-exit", true, "go offline when done")
	flag.Parse()

	log := logging.NewLogger(os.Getenv("LOG_LEVEL"))
	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Error("invalid client config", "error", err)
		os.Exit(1)
	}
	if cfg.Token == "" {
		log.Error("TOKEN must hold a driver token")
		os.Exit(1)
	}
	client := apiclient.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := client.SetOnline(ctx, true); err != nil {
		log.Error("go online failed", "error", err)
		os.Exit(1)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
loop:
	for i := 0; *count == 0 || i < *count; i++ {
		p := geo.Point{Lat: *lat + float64(i)*(*stepLat), Lng: *lng + float64(i)*(*stepLng)}
		drv, err := client.UpdateLocation(ctx, p)
		if err != nil {
			log.Warn("heartbeat failed", "n", i+1, "error", err)
		} else {
			log.Info("heartbeat sent", "n", i+1, "state", drv.State, "ride_id", drv.RideID)
		}
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	if *offline {
		cctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		if _, err := client.SetOnline(cctx, false); err != nil {
			log.Warn("go offline failed", "error", err)
		}
	}
}
