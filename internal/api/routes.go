package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taxidispatch/internal/auth"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/notify"
	"taxidispatch/internal/storage"
)

// Check is a named readiness probe, such as a database or Redis ping.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

type Options struct {
	Dispatcher *dispatch.Dispatcher
	Hub        *notify.Hub
	Issuer     *auth.Issuer
	Users      auth.UserStore
	// Events is nil when rides are not persisted.
	Events      storage.EventLog
	Checks      []Check
	CORSOrigins []string
	// NearbyRadiusKM is the default radius for /api/drivers/nearby.
	NearbyRadiusKM float64
	// Per-user request limits; zero disables a limiter.
	APIRateLimit   int
	APIRateWindow  time.Duration
	RideRateLimit  int
	RideRateWindow time.Duration
	Logger         *slog.Logger
}

// NewRouter builds the HTTP surface with middleware attached.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	AttachRoutes(r, NewHandler(opts))
	return r
}

// AttachRoutes wires HTTP routes to handlers.
func AttachRoutes(r chi.Router, h *Handler) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/ready", h.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(pr chi.Router) {
		pr.Use(h.auth.middleware)
		pr.Use(limitByUser(h.limits.api, h.limits.apiWindow))

		pr.Get("/ws", h.Websocket)
		pr.Get("/api/fare/estimate", h.EstimateFare)

		pr.With(requireRole(dispatch.RoleClient), limitByUser(h.limits.ride, h.limits.rideWindow)).Post("/api/rides", h.RequestRide)
		pr.With(requireRole(dispatch.RoleClient, dispatch.RoleDriver)).Get("/api/rides/active", h.ActiveRide)
		pr.With(requireRole(dispatch.RoleClient, dispatch.RoleDriver)).Get("/api/rides/history", h.RideHistory)
		pr.Get("/api/rides/{rideID}", h.GetRide)
		pr.With(requireRole(dispatch.RoleDriver)).Post("/api/rides/{rideID}/accept", h.AcceptRide)
		pr.With(requireRole(dispatch.RoleDriver)).Post("/api/rides/{rideID}/decline", h.DeclineRide)
		pr.Post("/api/rides/{rideID}/status", h.UpdateStatus)
		pr.Post("/api/rides/{rideID}/cancel", h.CancelRide)
		pr.Get("/api/rides/{rideID}/messages", h.ListMessages)
		pr.With(requireRole(dispatch.RoleClient, dispatch.RoleDriver)).Post("/api/rides/{rideID}/messages", h.SendMessage)

		pr.With(requireRole(dispatch.RoleDriver)).Post("/api/drivers/me/location", h.UpdateDriverLocation)
		pr.With(requireRole(dispatch.RoleDriver)).Post("/api/drivers/me/online", h.SetDriverOnline)
		pr.With(requireRole(dispatch.RoleClient, dispatch.RoleAdmin)).Get("/api/drivers/nearby", h.NearbyDrivers)

		pr.Route("/api/admin", func(ar chi.Router) {
			ar.Use(requireRole(dispatch.RoleAdmin))
			ar.Post("/users", h.CreateUser)
			ar.Get("/users", h.ListUsers)
			ar.Get("/drivers", h.ListDrivers)
			ar.Get("/rides/{rideID}/events", h.ListRideEvents)
		})
	})
}

type errorBody struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorBody{Code: code, Error: msg})
}
