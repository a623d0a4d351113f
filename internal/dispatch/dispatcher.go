package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/observability"
)

// Config tunes matching.
type Config struct {
	SearchRadiusKM     float64
	RadiusStepKM       float64
	MaxSearchRadiusKM  float64
	MatchRetryInterval time.Duration
	MatchTimeout       time.Duration
	OfferTTL           time.Duration
	// OfferBatch is how many drivers hold an offer for the same ride at once.
	OfferBatch int
}

func DefaultConfig() Config {
	return Config{
		SearchRadiusKM:     3,
		RadiusStepKM:       2,
		MaxSearchRadiusKM:  10,
		MatchRetryInterval: 2 * time.Second,
		MatchTimeout:       2 * time.Minute,
		OfferTTL:           20 * time.Second,
		OfferBatch:         1,
	}
}

const reasonNoDriver = "no driver available"

// Dispatcher owns ride status and driver assignment. Every transition of a
// ride runs under that ride's entry lock; driver slots are locked after it.
type Dispatcher struct {
	cfg     Config
	drivers *Registry
	rides   *RideStore
	pub     Publisher
	persist Persistence
	idem    *idemCache
	idemDB  IdempotencyStore
	log     *slog.Logger
	now     func() time.Time
	newID   func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(cfg Config, drivers *Registry, pub Publisher, log *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.SearchRadiusKM <= 0 {
		cfg.SearchRadiusKM = def.SearchRadiusKM
	}
	if cfg.MaxSearchRadiusKM < cfg.SearchRadiusKM {
		cfg.MaxSearchRadiusKM = cfg.SearchRadiusKM
	}
	if cfg.MatchRetryInterval <= 0 {
		cfg.MatchRetryInterval = def.MatchRetryInterval
	}
	if cfg.MatchTimeout <= 0 {
		cfg.MatchTimeout = def.MatchTimeout
	}
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = def.OfferTTL
	}
	if cfg.OfferBatch <= 0 {
		cfg.OfferBatch = def.OfferBatch
	}
	if pub == nil {
		pub = nopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		drivers: drivers,
		rides:   NewRideStore(),
		pub:     pub,
		idem:    newIdemCache(0),
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
		ctx:     ctx,
		cancel:  cancel,
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, events.Event) {}

// AttachPersistence writes rides, transitions and chat through to p.
func (d *Dispatcher) AttachPersistence(p Persistence) {
	d.persist = p
}

// AttachIdempotency connects a persistent idempotency store.
func (d *Dispatcher) AttachIdempotency(store IdempotencyStore) {
	d.idemDB = store
}

func (d *Dispatcher) Drivers() *Registry { return d.drivers }

// RequestRide creates a PENDING ride with a snapshotted fare and starts matching.
func (d *Dispatcher) RequestRide(ctx context.Context, req RideRequest) (Ride, error) {
	key := idemKey(req.ClientID, req.IdempotencyKey)
	if ride, ok := d.lookupIdempotent(ctx, key); ok {
		return ride, nil
	}

	est, err := geo.Quote(req.Pickup.Point, req.Destination.Point, req.Class)
	if err != nil {
		return Ride{}, err
	}
	payment := req.Payment
	if payment == "" {
		payment = PaymentCard
	}
	if payment != PaymentCard && payment != PaymentCash {
		return Ride{}, ErrInvalidPayment
	}

	now := d.now()
	ride := Ride{
		ID:               d.newID(),
		ClientID:         req.ClientID,
		Pickup:           req.Pickup,
		Destination:      req.Destination,
		Class:            req.Class,
		Payment:          payment,
		Fare:             est.Fare,
		DistanceKM:       est.DistanceKM,
		EstimatedMinutes: est.DurationMinutes,
		Status:           StatusPending,
		RequestedAt:      now,
	}

	e, err := d.rides.reserve(ride)
	if err != nil {
		// A concurrent retry with the same key may have won the reservation.
		if existing, ok := d.lookupIdempotent(ctx, key); ok {
			return existing, nil
		}
		return Ride{}, err
	}

	e.mu.Lock()
	d.persistCreate(ctx, e.ride)
	d.pub.Publish(events.TopicDrivers, events.New(ride.ID, now, events.RideCreated{
		ClientID:         ride.ClientID,
		PickupLabel:      ride.Pickup.Label,
		Pickup:           ride.Pickup.Point,
		DestinationLabel: ride.Destination.Label,
		Destination:      ride.Destination.Point,
		RideClass:        string(ride.Class),
		Fare:             ride.Fare,
		DistanceKM:       ride.DistanceKM,
	}))
	e.mu.Unlock()

	d.rememberIdempotent(ctx, key, ride.ID)
	observability.RidesRequested.Inc()
	d.log.Info("ride requested", "ride_id", ride.ID, "client_id", ride.ClientID, "fare", ride.Fare)

	timeout := req.MatchTimeout
	if timeout <= 0 {
		timeout = d.cfg.MatchTimeout
	}
	d.wg.Add(1)
	go d.match(e, timeout)
	return ride, nil
}

// AwaitAssignment blocks until the ride leaves PENDING. It returns
// ErrNoDriverAvailable when the matching deadline cancelled the ride.
func (d *Dispatcher) AwaitAssignment(ctx context.Context, rideID string) (Ride, error) {
	e, ok := d.rides.entry(rideID)
	if !ok {
		return Ride{}, ErrRideNotFound
	}
	select {
	case <-e.settled:
	case <-ctx.Done():
		return Ride{}, ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.noDriver {
		return e.ride, ErrNoDriverAvailable
	}
	return e.ride, nil
}

// AcceptRide assigns the ride to a driver holding a live offer for it.
func (d *Dispatcher) AcceptRide(ctx context.Context, rideID, driverID string) (Ride, error) {
	if _, ok := d.drivers.Get(driverID); !ok {
		return Ride{}, ErrDriverNotFound
	}
	e, ok := d.rides.entry(rideID)
	if !ok {
		return Ride{}, ErrRideNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ride.Status != StatusPending {
		return Ride{}, ErrRideNotPending
	}
	now := d.now()
	o, ok := e.offers[driverID]
	if !ok {
		return Ride{}, ErrRideNotPending
	}
	if !now.Before(o.ExpiresAt) {
		d.dropOfferLocked(e, driverID, "expired")
		e.nudge()
		return Ride{}, ErrRideNotPending
	}

	drv, err := d.drivers.claim(driverID, rideID)
	if err != nil {
		d.dropOfferLocked(e, driverID, "unavailable")
		e.nudge()
		return Ride{}, ErrDriverNotAvailable
	}
	delete(e.offers, driverID)
	observability.Offers.WithLabelValues("accepted").Inc()

	losers := make([]string, 0, len(e.offers))
	for id := range e.offers {
		d.drivers.withdrawOffer(id, rideID)
		delete(e.offers, id)
		observability.Offers.WithLabelValues("withdrawn").Inc()
		losers = append(losers, id)
	}

	prev := e.ride.Status
	e.ride.Status = StatusDriverAssigned
	e.ride.DriverID = driverID
	d.rides.bindDriver(rideID, driverID)
	close(e.settled)

	d.persistUpdate(ctx, e.ride, prev, Actor{ID: driverID, Role: RoleDriver}, &drv, nil)

	eta := 0
	if drv.Location != nil {
		eta = geo.EstimateDurationMinutes(geo.DistanceKM(*drv.Location, e.ride.Pickup.Point))
	}
	assigned := events.New(rideID, now, events.RideAssigned{
		DriverID:   driverID,
		ClientID:   e.ride.ClientID,
		Driver:     drv.Profile.card(),
		ETAMinutes: eta,
	})
	d.pub.Publish(e.ride.ClientID, assigned)
	for _, id := range losers {
		d.pub.Publish(id, assigned)
	}

	observability.RidesAssigned.Inc()
	observability.MatchLatency.Observe(now.Sub(e.ride.RequestedAt).Seconds())
	d.log.Info("ride assigned", "ride_id", rideID, "driver_id", driverID, "losing_offers", len(losers))
	return e.ride, nil
}

// DeclineRide drops the driver's offer and excludes them from this ride.
func (d *Dispatcher) DeclineRide(ctx context.Context, rideID, driverID string) error {
	if _, ok := d.drivers.Get(driverID); !ok {
		return ErrDriverNotFound
	}
	e, ok := d.rides.entry(rideID)
	if !ok {
		return ErrRideNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ride.Status != StatusPending {
		return ErrRideNotPending
	}
	if _, ok := e.offers[driverID]; !ok {
		return ErrRideNotPending
	}
	d.dropOfferLocked(e, driverID, "declined")
	e.nudge()
	d.log.Debug("offer declined", "ride_id", rideID, "driver_id", driverID)
	return nil
}

// dropOfferLocked removes a driver from the candidate set of e.
func (d *Dispatcher) dropOfferLocked(e *rideEntry, driverID, outcome string) {
	delete(e.offers, driverID)
	e.excluded[driverID] = struct{}{}
	d.drivers.withdrawOffer(driverID, e.ride.ID)
	observability.Offers.WithLabelValues(outcome).Inc()
}

// UpdateStatus moves a ride along the state machine on behalf of actor.
func (d *Dispatcher) UpdateStatus(ctx context.Context, rideID string, actor Actor, to RideStatus) (Ride, error) {
	if to == StatusCancelled {
		return d.CancelRide(ctx, rideID, actor, "")
	}
	e, ok := d.rides.entry(rideID)
	if !ok {
		return Ride{}, ErrRideNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !participant(e.ride, actor) {
		return Ride{}, ErrAccessDenied
	}
	from := e.ride.Status
	// Assignment only happens through AcceptRide.
	if to == StatusDriverAssigned || !CanTransition(from, to) {
		return Ride{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	now := d.now()
	var drv *Driver
	switch to {
	case StatusInProgress:
		updated, err := d.drivers.startTrip(e.ride.DriverID, rideID)
		if err != nil {
			return Ride{}, fmt.Errorf("start trip: %w", err)
		}
		drv = &updated
		e.ride.StartedAt = &now
	case StatusCompleted:
		updated, err := d.drivers.finish(e.ride.DriverID, rideID, e.ride.Fare)
		if err != nil {
			return Ride{}, fmt.Errorf("finish trip: %w", err)
		}
		drv = &updated
		e.ride.CompletedAt = &now
		if e.ride.StartedAt != nil {
			e.ride.ActualDurationMinutes = int(math.Round(now.Sub(*e.ride.StartedAt).Minutes()))
		}
	}
	e.ride.Status = to
	if to.Terminal() {
		d.rides.settle(e.ride)
	}

	d.persistUpdate(ctx, e.ride, from, actor, drv, nil)

	evt := events.New(rideID, now, events.RideStatusChanged{From: string(from), To: string(to)})
	d.pub.Publish(e.ride.ClientID, evt)
	d.pub.Publish(e.ride.DriverID, evt)

	if to == StatusCompleted {
		observability.RidesCompleted.Inc()
	}
	d.log.Info("ride status changed", "ride_id", rideID, "from", from, "to", to, "actor_id", actor.ID)
	return e.ride, nil
}

// CancelRide ends a ride that has not started yet.
func (d *Dispatcher) CancelRide(ctx context.Context, rideID string, actor Actor, reason string) (Ride, error) {
	e, ok := d.rides.entry(rideID)
	if !ok {
		return Ride{}, ErrRideNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if actor.Role != RoleSystem && !participant(e.ride, actor) {
		return Ride{}, ErrAccessDenied
	}
	return d.cancelLocked(ctx, e, actor, reason)
}

// cancelLocked is the single cancellation path, also used by the matching deadline.
func (d *Dispatcher) cancelLocked(ctx context.Context, e *rideEntry, actor Actor, reason string) (Ride, error) {
	from := e.ride.Status
	if !CanTransition(from, StatusCancelled) {
		return Ride{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, StatusCancelled)
	}
	now := d.now()
	rideID := e.ride.ID

	var drv *Driver
	if e.ride.DriverID != "" {
		if released, ok := d.drivers.release(e.ride.DriverID, rideID); ok {
			drv = &released
		}
	}
	offered := make([]string, 0, len(e.offers))
	for id := range e.offers {
		d.drivers.withdrawOffer(id, rideID)
		delete(e.offers, id)
		observability.Offers.WithLabelValues("withdrawn").Inc()
		offered = append(offered, id)
	}

	e.ride.Status = StatusCancelled
	e.ride.CancelledAt = &now
	e.ride.CancellationReason = strings.TrimSpace(reason)
	e.ride.CancelledBy = actor.ID
	if from == StatusPending {
		close(e.settled)
	}
	d.rides.settle(e.ride)

	d.persistUpdate(ctx, e.ride, from, actor, drv, map[string]any{"reason": e.ride.CancellationReason})

	evt := events.New(rideID, now, events.RideCancelled{Reason: e.ride.CancellationReason, CancelledBy: string(actor.Role)})
	d.pub.Publish(e.ride.ClientID, evt)
	if e.ride.DriverID != "" {
		d.pub.Publish(e.ride.DriverID, evt)
	}
	for _, id := range offered {
		d.pub.Publish(id, evt)
	}

	observability.RidesCancelled.WithLabelValues(string(actor.Role)).Inc()
	d.log.Info("ride cancelled", "ride_id", rideID, "from", from, "by", actor.ID, "reason", e.ride.CancellationReason)
	return e.ride, nil
}

// UpdateDriverLocation records a fix and forwards it to the client of the
// driver's active ride.
func (d *Dispatcher) UpdateDriverLocation(ctx context.Context, driverID string, p geo.Point) (Driver, error) {
	drv, err := d.drivers.UpdateLocation(driverID, p)
	if err != nil {
		return Driver{}, err
	}
	if drv.RideID == "" {
		return drv, nil
	}
	if ride, ok := d.rides.Get(drv.RideID); ok && !ride.Status.Terminal() {
		d.pub.Publish(ride.ClientID, events.New(ride.ID, d.now(), events.LocationUpdated{
			DriverID: driverID,
			Location: p,
		}))
	}
	return drv, nil
}

// SetDriverOnline toggles a driver's availability. A driver going offline
// while holding an offer loses it at once and the ride is offered onward.
func (d *Dispatcher) SetDriverOnline(ctx context.Context, driverID string, online bool) (Driver, error) {
	drv, t, err := d.drivers.setOnline(driverID, online)
	if err != nil {
		return Driver{}, err
	}
	if t.droppedOffer != "" {
		d.abandonOffer(t.droppedOffer, driverID)
	}
	if t.changed {
		d.publishDriverStatus(drv, "")
	}
	return drv, nil
}

// abandonOffer releases rideID from an offer its driver can no longer answer.
func (d *Dispatcher) abandonOffer(rideID, driverID string) {
	e, ok := d.rides.entry(rideID)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.offers[driverID]; !held || e.ride.Status != StatusPending {
		return
	}
	d.dropOfferLocked(e, driverID, "offline")
	e.nudge()
	d.log.Debug("offer dropped, driver went offline", "ride_id", rideID, "driver_id", driverID)
}

// SweepStaleDrivers takes drivers silent for longer than ttl offline and
// tells admins about each of them.
func (d *Dispatcher) SweepStaleDrivers(ttl time.Duration) int {
	swept := d.drivers.SweepStale(ttl)
	for _, drv := range swept {
		d.publishDriverStatus(drv, "stale")
	}
	return len(swept)
}

func (d *Dispatcher) publishDriverStatus(drv Driver, reason string) {
	d.pub.Publish(events.TopicAdmin, events.New("", d.now(), events.DriverStatusChanged{
		DriverID: drv.ID,
		Status:   string(drv.State),
		Reason:   reason,
	}))
}

// GetRide returns a ride visible to actor, reading through to storage for
// rides this process never held.
func (d *Dispatcher) GetRide(ctx context.Context, rideID string, actor Actor) (Ride, error) {
	ride, err := d.lookupRide(ctx, rideID)
	if err != nil {
		return Ride{}, err
	}
	if !participant(ride, actor) {
		return Ride{}, ErrAccessDenied
	}
	return ride, nil
}

func (d *Dispatcher) lookupRide(ctx context.Context, rideID string) (Ride, error) {
	if ride, ok := d.rides.Get(rideID); ok {
		return ride, nil
	}
	if d.persist != nil {
		ride, found, err := d.persist.GetRide(ctx, rideID)
		if err != nil {
			return Ride{}, fmt.Errorf("load ride: %w", err)
		}
		if found {
			return ride, nil
		}
	}
	return Ride{}, ErrRideNotFound
}

// SendChatMessage relays a message between the two participants of a ride.
func (d *Dispatcher) SendChatMessage(ctx context.Context, rideID, senderID, text string) (ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ChatMessage{}, ErrEmptyMessage
	}
	e, ok := d.rides.entry(rideID)
	if !ok {
		return ChatMessage{}, ErrRideNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var role Role
	switch {
	case senderID == e.ride.ClientID:
		role = RoleClient
	case e.ride.DriverID != "" && senderID == e.ride.DriverID:
		role = RoleDriver
	default:
		return ChatMessage{}, ErrAccessDenied
	}

	msg := ChatMessage{
		ID:         d.newID(),
		RideID:     rideID,
		SenderID:   senderID,
		SenderRole: role,
		Text:       text,
		CreatedAt:  d.now(),
	}
	e.chat = append(e.chat, msg)
	if d.persist != nil {
		pctx, cancel := persistCtx(ctx)
		defer cancel()
		if err := d.persist.SaveChatMessage(pctx, msg); err != nil {
			observability.PersistenceFailures.WithLabelValues("save_chat").Inc()
			d.log.Error("persist chat message failed", "ride_id", rideID, "error", err)
		}
	}

	evt := events.New(rideID, msg.CreatedAt, events.ChatMessage{
		MessageID:  msg.ID,
		SenderID:   senderID,
		SenderRole: string(role),
		Text:       text,
	})
	d.pub.Publish(e.ride.ClientID, evt)
	if e.ride.DriverID != "" {
		d.pub.Publish(e.ride.DriverID, evt)
	}
	return msg, nil
}

// ChatHistory lists a ride's messages oldest first.
func (d *Dispatcher) ChatHistory(ctx context.Context, rideID string, actor Actor) ([]ChatMessage, error) {
	ride, err := d.lookupRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !participant(ride, actor) {
		return nil, ErrAccessDenied
	}
	if d.persist != nil {
		msgs, err := d.persist.ListChatMessages(ctx, rideID)
		if err == nil {
			return msgs, nil
		}
		d.log.Warn("chat history from storage failed, using memory", "ride_id", rideID, "error", err)
	}
	e, ok := d.rides.entry(rideID)
	if !ok {
		return []ChatMessage{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ChatMessage{}, e.chat...), nil
}

// ActiveRide returns the non-terminal ride of a client or driver.
func (d *Dispatcher) ActiveRide(userID string) (Ride, bool) {
	return d.rides.ActiveFor(userID)
}

// RideHistory lists a user's finished rides newest first.
func (d *Dispatcher) RideHistory(ctx context.Context, userID string, limit, offset int) ([]Ride, error) {
	if offset < 0 {
		offset = 0
	}
	if d.persist != nil {
		rides, err := d.persist.ListRidesByUser(ctx, userID, limit, offset)
		if err != nil {
			return nil, fmt.Errorf("list rides: %w", err)
		}
		return rides, nil
	}
	return d.rides.History(userID, limit, offset), nil
}

// Shutdown stops every matching loop and waits for them to exit.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func participant(r Ride, a Actor) bool {
	if a.Role == RoleAdmin {
		return true
	}
	if a.ID == "" {
		return false
	}
	return a.ID == r.ClientID || (r.DriverID != "" && a.ID == r.DriverID)
}

func idemKey(clientID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return clientID + ":" + key
}

func (d *Dispatcher) lookupIdempotent(ctx context.Context, key string) (Ride, bool) {
	if key == "" {
		return Ride{}, false
	}
	id, ok := d.idem.lookup(key)
	if !ok && d.idemDB != nil {
		lctx, cancel := persistCtx(ctx)
		defer cancel()
		dbID, found, err := d.idemDB.Lookup(lctx, key)
		if err != nil {
			d.log.Warn("idempotency lookup failed", "error", err)
		}
		id, ok = dbID, found && err == nil
	}
	if !ok {
		return Ride{}, false
	}
	ride, err := d.lookupRide(ctx, id)
	if err != nil {
		return Ride{}, false
	}
	return ride, true
}

func (d *Dispatcher) rememberIdempotent(ctx context.Context, key, rideID string) {
	if key == "" {
		return
	}
	d.idem.remember(key, rideID)
	if d.idemDB != nil {
		rctx, cancel := persistCtx(ctx)
		defer cancel()
		if err := d.idemDB.Remember(rctx, key, rideID); err != nil {
			observability.PersistenceFailures.WithLabelValues("idempotency").Inc()
			d.log.Warn("idempotency remember failed", "error", err)
		}
	}
}

// persistCtx detaches from the caller's cancellation so a client hanging up
// does not lose a write that already happened in memory.
func persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
}

func (d *Dispatcher) persistCreate(ctx context.Context, ride Ride) {
	if d.persist == nil {
		return
	}
	body, _ := json.Marshal(map[string]any{"fare": ride.Fare, "rideType": ride.Class})
	evt := RideEvent{
		RideID:    ride.ID,
		Type:      "ride_created",
		To:        string(ride.Status),
		ActorID:   ride.ClientID,
		ActorRole: string(RoleClient),
		Payload:   body,
		CreatedAt: ride.RequestedAt,
	}
	pctx, cancel := persistCtx(ctx)
	defer cancel()
	if err := d.persist.CreateRideWithEvent(pctx, ride, evt); err != nil {
		observability.PersistenceFailures.WithLabelValues("create_ride").Inc()
		d.log.Error("persist ride failed", "ride_id", ride.ID, "error", err)
	}
}

func (d *Dispatcher) persistUpdate(ctx context.Context, ride Ride, from RideStatus, actor Actor, drv *Driver, extra map[string]any) {
	if d.persist == nil {
		return
	}
	var body []byte
	if len(extra) > 0 {
		body, _ = json.Marshal(extra)
	}
	evt := RideEvent{
		RideID:    ride.ID,
		Type:      "ride_" + strings.ToLower(string(ride.Status)),
		From:      string(from),
		To:        string(ride.Status),
		ActorID:   actor.ID,
		ActorRole: string(actor.Role),
		Payload:   body,
		CreatedAt: d.now(),
	}
	pctx, cancel := persistCtx(ctx)
	defer cancel()
	if err := d.persist.UpdateRideWithEvent(pctx, ride, evt, drv); err != nil {
		observability.PersistenceFailures.WithLabelValues("update_ride").Inc()
		d.log.Error("persist ride transition failed", "ride_id", ride.ID, "to", ride.Status, "error", err)
	}
}

// IsDomainError reports whether err is one of the caller-visible dispatch errors.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrActiveRideExists, ErrRideNotPending, ErrDriverNotAvailable, ErrDriverNotFound,
		ErrRideNotFound, ErrIllegalTransition, ErrAccessDenied, ErrNoDriverAvailable,
		ErrDriverBusy, ErrInvalidPayment, ErrEmptyMessage, ErrInvalidRideClass, ErrInvalidCoordinate,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
