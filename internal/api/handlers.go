package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"taxidispatch/internal/auth"
	"taxidispatch/internal/dispatch"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/notify"
	"taxidispatch/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Handler struct {
	dispatcher   *dispatch.Dispatcher
	hub          *notify.Hub
	auth         authConfig
	users        auth.UserStore
	events       storage.EventLog
	checks       []Check
	nearbyRadius float64
	limits       rateLimits
	log          *slog.Logger
}

type rateLimits struct {
	api        int
	apiWindow  time.Duration
	ride       int
	rideWindow time.Duration
}

func NewHandler(opts Options) *Handler {
	radius := opts.NearbyRadiusKM
	if radius <= 0 {
		radius = dispatch.DefaultConfig().SearchRadiusKM
	}
	users := opts.Users
	if users == nil {
		users = auth.NewInMemoryStore()
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		dispatcher:   opts.Dispatcher,
		hub:          opts.Hub,
		auth:         authConfig{issuer: opts.Issuer, users: users},
		users:        users,
		events:       opts.Events,
		checks:       opts.Checks,
		nearbyRadius: radius,
		limits: rateLimits{
			api:        opts.APIRateLimit,
			apiWindow:  opts.APIRateWindow,
			ride:       opts.RideRateLimit,
			rideWindow: opts.RideRateWindow,
		},
		log: log,
	}
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Fn(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[c.Name] = err.Error()
			continue
		}
		results[c.Name] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "unavailable"
	}
	respondJSON(w, status, map[string]any{"status": state, "checks": results})
}

// decodeBody decodes an optional JSON body; an empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type rideRequestPayload struct {
	Pickup        dispatch.Place         `json:"pickup"`
	Destination   dispatch.Place         `json:"destination"`
	RideType      geo.RideClass          `json:"rideType"`
	PaymentMethod dispatch.PaymentMethod `json:"paymentMethod"`
}

func (h *Handler) RequestRide(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var payload rideRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	ride, err := h.dispatcher.RequestRide(r.Context(), dispatch.RideRequest{
		ClientID:       actor.ID,
		Pickup:         payload.Pickup,
		Destination:    payload.Destination,
		Class:          payload.RideType,
		Payment:        dispatch.PaymentMethod(strings.ToUpper(string(payload.PaymentMethod))),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if r.URL.Query().Get("wait") != "true" || ride.Status != dispatch.StatusPending {
		respondJSON(w, http.StatusAccepted, ride)
		return
	}
	assigned, err := h.dispatcher.AwaitAssignment(r.Context(), ride.ID)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, assigned)
}

func (h *Handler) ActiveRide(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	ride, ok := h.dispatcher.ActiveRide(actor.ID)
	if !ok {
		h.respondErr(w, r, dispatch.ErrRideNotFound)
		return
	}
	respondJSON(w, http.StatusOK, ride)
}

func (h *Handler) RideHistory(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	limit, offset := parsePage(r)
	rides, err := h.dispatcher.RideHistory(r.Context(), actor.ID, limit, offset)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if rides == nil {
		rides = []dispatch.Ride{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"rides": rides, "limit": limit, "offset": offset})
}

func (h *Handler) GetRide(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	ride, err := h.dispatcher.GetRide(r.Context(), chi.URLParam(r, "rideID"), actor)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ride)
}

func (h *Handler) AcceptRide(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	ride, err := h.dispatcher.AcceptRide(r.Context(), chi.URLParam(r, "rideID"), actor.ID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ride)
}

func (h *Handler) DeclineRide(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	if err := h.dispatcher.DeclineRide(r.Context(), chi.URLParam(r, "rideID"), actor.ID); err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

type statusPayload struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var payload statusPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	to, ok := dispatch.ParseRideStatus(payload.Status)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_STATUS", "unknown status "+strconv.Quote(payload.Status))
		return
	}
	ride, err := h.dispatcher.UpdateStatus(r.Context(), chi.URLParam(r, "rideID"), actor, to)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ride)
}

type cancelPayload struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelRide(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var payload cancelPayload
	if err := decodeBody(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	ride, err := h.dispatcher.CancelRide(r.Context(), chi.URLParam(r, "rideID"), actor, payload.Reason)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ride)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	msgs, err := h.dispatcher.ChatHistory(r.Context(), chi.URLParam(r, "rideID"), actor)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []dispatch.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type messagePayload struct {
	Message string `json:"message"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var payload messagePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	msg, err := h.dispatcher.SendChatMessage(r.Context(), chi.URLParam(r, "rideID"), actor.ID, payload.Message)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) UpdateDriverLocation(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var p geo.Point
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	drv, err := h.dispatcher.UpdateDriverLocation(r.Context(), actor.ID, p)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, drv)
}

type onlinePayload struct {
	Online bool `json:"online"`
}

func (h *Handler) SetDriverOnline(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())
	var payload onlinePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	drv, err := h.dispatcher.SetDriverOnline(r.Context(), actor.ID, payload.Online)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, drv)
}

func (h *Handler) NearbyDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := parsePoint(q.Get("lat"), q.Get("lng"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	radius := h.nearbyRadius
	if v := q.Get("radius"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, "INVALID_RADIUS", "radius must be a positive number")
			return
		}
		radius = parsed
	}
	drivers := h.dispatcher.Drivers().ListAvailable(p, radius)
	if drivers == nil {
		drivers = []geo.Candidate{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"drivers": drivers, "radiusKm": radius})
}

func (h *Handler) EstimateFare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parsePoint(q.Get("fromLat"), q.Get("fromLng"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	to, err := parsePoint(q.Get("toLat"), q.Get("toLng"))
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	class := geo.RideClass(q.Get("rideType"))
	if class == "" {
		class = geo.ClassEconomy
	}
	est, err := geo.Quote(from, to, class)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, est)
}

type createUserPayload struct {
	ID           string        `json:"id"`
	Role         dispatch.Role `json:"role"`
	Name         string        `json:"name"`
	Phone        string        `json:"phone"`
	VehicleModel string        `json:"carModel"`
	LicensePlate string        `json:"licensePlate"`
	Rating       float64       `json:"rating"`
}

// CreateUser onboards a user, registers drivers with the dispatcher and
// returns a signed token for them.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var payload createUserPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	switch payload.Role {
	case dispatch.RoleClient, dispatch.RoleDriver, dispatch.RoleAdmin:
	default:
		respondError(w, http.StatusBadRequest, "INVALID_ROLE", "role must be client, driver or admin")
		return
	}
	if payload.ID == "" {
		payload.ID = string(payload.Role) + "_" + uuid.NewString()
	}
	user := auth.User{
		ID:        payload.ID,
		Role:      payload.Role,
		Name:      payload.Name,
		Phone:     payload.Phone,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.users.CreateUser(r.Context(), user); err != nil {
		h.respondErr(w, r, err)
		return
	}

	resp := map[string]any{"user": user}
	if user.Role == dispatch.RoleDriver {
		drv := h.dispatcher.Drivers().Register(dispatch.DriverProfile{
			ID:           user.ID,
			Name:         user.Name,
			VehicleModel: payload.VehicleModel,
			LicensePlate: payload.LicensePlate,
			Rating:       payload.Rating,
		})
		resp["driver"] = drv
	}
	token, err := h.auth.issuer.Issue(user.ID, user.Role)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	resp["token"] = token
	h.log.Info("user created", "user_id", user.ID, "role", user.Role)
	respondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"drivers": h.dispatcher.Drivers().Snapshot()})
}

func (h *Handler) ListRideEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(w, http.StatusServiceUnavailable, "EVENT_LOG_DISABLED", "ride event log requires a database")
		return
	}
	rideID := chi.URLParam(r, "rideID")
	limit, offset := parsePage(r)
	evts, err := h.events.ListRideEvents(r.Context(), rideID, limit, offset)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	total, err := h.events.CountRideEvents(r.Context(), rideID)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if evts == nil {
		evts = []dispatch.RideEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": evts, "total": total, "limit": limit, "offset": offset})
}

func parsePage(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func parsePoint(lat, lng string) (geo.Point, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geo.Point{}, dispatch.ErrInvalidCoordinate
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return geo.Point{}, dispatch.ErrInvalidCoordinate
	}
	p := geo.Point{Lat: la, Lng: ln}
	return p, p.Validate()
}
