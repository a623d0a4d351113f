package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"taxidispatch/internal/apiclient"
	"taxidispatch/internal/auth"
	"taxidispatch/internal/config"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/logging"
)

// Seed script: creates sample clients and drivers through the admin API and
// prints their tokens. The admin token is signed locally with JWT_SECRET.
func main() {
	drivers := flag.Int("drivers", 3, "number of drivers to create")
	clients := flag.Int("clients", 1, "number of clients to create")
	lat := flag.Float64("lat", 55.7558, "center latitude for driver positions")
	lng := flag.Float64("lng", 37.6173, "center longitude for driver positions")
	spread := flag.Float64("spread", 0.01, "max coordinate offset from center, degrees")
	flag.Parse()

	log := logging.NewLogger(os.Getenv("LOG_LEVEL"))
	srvCfg, err := config.Load()
	if err != nil {
		log.Error("invalid server config", "error", err)
		os.Exit(1)
	}
	cliCfg, err := config.LoadClientConfig()
	if err != nil {
		log.Error("invalid client config", "error", err)
		os.Exit(1)
	}

	issuer := auth.NewIssuer(srvCfg.JWTSecret, srvCfg.TokenTTL)
	adminToken, err := issuer.Issue("admin", dispatch.RoleAdmin)
	if err != nil {
		log.Error("sign admin token", "error", err)
		os.Exit(1)
	}
	fmt.Printf("admin: id=admin token=%s\n", adminToken)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	admin := apiclient.New(cliCfg).WithToken(adminToken)

	for i := 1; i <= *clients; i++ {
		u, err := admin.CreateUser(ctx, apiclient.NewUser{Role: dispatch.RoleClient, Name: fmt.Sprintf("Client %d", i)})
		if err != nil {
			log.Error("create client failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("client: id=%s token=%s\n", u.User.ID, u.Token)
	}

	for i := 1; i <= *drivers; i++ {
		u, err := admin.CreateUser(ctx, apiclient.NewUser{
			Role:         dispatch.RoleDriver,
			Name:         fmt.Sprintf("Driver %d", i),
			VehicleModel: "Hyundai Solaris",
			LicensePlate: fmt.Sprintf("A%03dMK77", i),
			Rating:       4.5 + rand.Float64()/2,
		})
		if err != nil {
			log.Error("create driver failed", "error", err)
			os.Exit(1)
		}
		drv := admin.WithToken(u.Token)
		p := geo.Point{
			Lat: *lat + (rand.Float64()*2-1)*(*spread),
			Lng: *lng + (rand.Float64()*2-1)*(*spread),
		}
		if _, err := drv.UpdateLocation(ctx, p); err != nil {
			log.Error("seed driver location failed", "driver_id", u.User.ID, "error", err)
			os.Exit(1)
		}
		if _, err := drv.SetOnline(ctx, true); err != nil {
			log.Error("driver online failed", "driver_id", u.User.ID, "error", err)
			os.Exit(1)
		}
		fmt.Printf("driver: id=%s token=%s lat=%.5f lng=%.5f\n", u.User.ID, u.Token, p.Lat, p.Lng)
	}
}
