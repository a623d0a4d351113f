package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"taxidispatch/internal/geo"
	"taxidispatch/internal/observability"
)

type driverSaver interface {
	SaveDriver(ctx context.Context, d Driver) error
}

type driverSlot struct {
	mu sync.Mutex
	d  Driver
	// lastSeen is the later of the last fix and the last ONLINE toggle.
	lastSeen time.Time
}

// touch bumps the version after a change made under s.mu.
func (s *driverSlot) touch() {
	s.d.Version++
}

// Registry tracks every driver's live state and position. The map lock is
// only held to find a slot; state changes happen under the slot's own mutex.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]*driverSlot
	index   SpatialIndex
	persist driverSaver
	log     *slog.Logger
	now     func() time.Time
}

// NewRegistry builds a registry over index. A nil index means linear scans.
func NewRegistry(index SpatialIndex, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		drivers: make(map[string]*driverSlot),
		index:   index,
		log:     log,
		now:     time.Now,
	}
}

// AttachPersistence writes driver rows through to p.
func (r *Registry) AttachPersistence(p driverSaver) {
	r.persist = p
}

func (r *Registry) slot(id string) (*driverSlot, bool) {
	r.mu.RLock()
	s, ok := r.drivers[id]
	r.mu.RUnlock()
	return s, ok
}

// Register onboards a driver in OFFLINE, or refreshes the profile of a known one.
func (r *Registry) Register(profile DriverProfile) Driver {
	r.mu.Lock()
	s, ok := r.drivers[profile.ID]
	if !ok {
		s = &driverSlot{d: Driver{ID: profile.ID, State: DriverOffline}}
		r.drivers[profile.ID] = s
	}
	r.mu.Unlock()

	s.mu.Lock()
	s.d.Profile = profile
	s.touch()
	d := s.d
	s.mu.Unlock()
	r.save(d)
	return d
}

// Restore loads drivers from storage at startup. Connections did not survive
// the restart, so everyone comes back OFFLINE.
func (r *Registry) Restore(drivers []Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range drivers {
		d.State = DriverOffline
		d.RideID = ""
		d.OfferRideID = ""
		r.drivers[d.ID] = &driverSlot{d: d}
	}
}

// SetOnline toggles availability. Going offline with an assigned ride fails
// with ErrDriverBusy; going offline while holding an offer is allowed.
func (r *Registry) SetOnline(id string, online bool) (Driver, error) {
	d, _, err := r.setOnline(id, online)
	return d, err
}

// toggle is the outcome of a setOnline call.
type toggle struct {
	changed bool
	// droppedOffer is the ride whose offer the driver held when going offline.
	droppedOffer string
}

func (r *Registry) setOnline(id string, online bool) (Driver, toggle, error) {
	s, ok := r.slot(id)
	if !ok {
		return Driver{}, toggle{}, ErrDriverNotFound
	}
	var t toggle
	s.mu.Lock()
	switch {
	case online && s.d.State == DriverOffline:
		s.d.State = DriverOnline
		s.lastSeen = r.now()
		t.changed = true
	case !online && (s.d.State == DriverToPickup || s.d.State == DriverInTrip):
		s.mu.Unlock()
		return Driver{}, toggle{}, ErrDriverBusy
	case !online && s.d.State != DriverOffline:
		t.droppedOffer = s.d.OfferRideID
		s.d.State = DriverOffline
		s.d.OfferRideID = ""
		t.changed = true
	}
	if t.changed {
		s.touch()
	}
	d := s.d
	s.mu.Unlock()

	if !t.changed {
		return d, t, nil
	}
	if r.index != nil {
		var err error
		if online && d.Location != nil {
			err = r.index.Upsert(id, *d.Location)
		} else if !online {
			err = r.index.Remove(id)
		}
		if err != nil {
			r.log.Warn("spatial index update failed", "driver_id", id, "error", err)
		}
	}
	r.save(d)
	return d, t, nil
}

// UpdateLocation records a position fix for a known driver.
func (r *Registry) UpdateLocation(id string, p geo.Point) (Driver, error) {
	if err := p.Validate(); err != nil {
		return Driver{}, err
	}
	s, ok := r.slot(id)
	if !ok {
		return Driver{}, ErrDriverNotFound
	}
	s.mu.Lock()
	loc := p
	s.d.Location = &loc
	s.d.LocationAt = r.now()
	s.lastSeen = s.d.LocationAt
	s.touch()
	d := s.d
	s.mu.Unlock()

	if r.index != nil && d.State != DriverOffline {
		if err := r.index.Upsert(id, p); err != nil {
			r.log.Warn("spatial index update failed", "driver_id", id, "error", err)
		}
	}
	r.save(d)
	return d, nil
}

// ListAvailable returns ONLINE drivers within radiusKM of near, nearest first,
// ties broken by driver id. Distances come from the registry's own positions.
func (r *Registry) ListAvailable(near geo.Point, radiusKM float64) []geo.Candidate {
	var ids []string
	if r.index != nil {
		found, err := r.index.Within(near, radiusKM)
		if err != nil {
			r.log.Warn("spatial index query failed, scanning", "error", err)
			ids = r.allIDs()
		} else {
			ids = make([]string, 0, len(found))
			for _, c := range found {
				ids = append(ids, c.ID)
			}
		}
	} else {
		ids = r.allIDs()
	}

	out := make([]geo.Candidate, 0, len(ids))
	for _, id := range ids {
		s, ok := r.slot(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		state, loc := s.d.State, s.d.Location
		s.mu.Unlock()
		if state != DriverOnline || loc == nil {
			continue
		}
		if d := geo.DistanceKM(near, *loc); d <= radiusKM {
			out = append(out, geo.Candidate{ID: id, DistanceKM: d})
		}
	}
	geo.SortCandidates(out)
	return out
}

func (r *Registry) allIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.drivers))
	for id := range r.drivers {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Get(id string) (Driver, bool) {
	s, ok := r.slot(id)
	if !ok {
		return Driver{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d, true
}

// Snapshot returns every driver ordered by id.
func (r *Registry) Snapshot() []Driver {
	r.mu.RLock()
	slots := make([]*driverSlot, 0, len(r.drivers))
	for _, s := range r.drivers {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	out := make([]Driver, 0, len(slots))
	for _, s := range slots {
		s.mu.Lock()
		out = append(out, s.d)
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SweepStale takes ONLINE drivers not seen for ttl offline and returns them.
// A driver is seen when they send a fix or go ONLINE. It also refreshes the
// per-state gauge.
func (r *Registry) SweepStale(ttl time.Duration) []Driver {
	cutoff := r.now().Add(-ttl)
	r.mu.RLock()
	slots := make([]*driverSlot, 0, len(r.drivers))
	for _, s := range r.drivers {
		slots = append(slots, s)
	}
	r.mu.RUnlock()

	counts := make(map[DriverState]int, len(driverStates))
	var swept []Driver
	for _, s := range slots {
		s.mu.Lock()
		if s.d.State == DriverOnline && s.lastSeen.Before(cutoff) {
			s.d.State = DriverOffline
			s.touch()
			swept = append(swept, s.d)
		}
		counts[s.d.State]++
		s.mu.Unlock()
	}
	for _, d := range swept {
		if r.index != nil {
			_ = r.index.Remove(d.ID)
		}
		r.save(d)
		r.log.Info("driver went stale", "driver_id", d.ID, "last_fix", d.LocationAt)
	}
	for _, st := range driverStates {
		observability.DriversByState.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	observability.DriversSwept.Add(float64(len(swept)))
	return swept
}

func (r *Registry) save(d Driver) {
	if r.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.persist.SaveDriver(ctx, d); err != nil {
		observability.PersistenceFailures.WithLabelValues("save_driver").Inc()
		r.log.Error("persist driver failed", "driver_id", d.ID, "error", err)
	}
}

// The transitions below are the assignment half of the driver state machine.
// Only the Dispatcher calls them, with the ride's lock held.

// offer moves ONLINE -> INCOMING_OFFER for rideID.
func (r *Registry) offer(id, rideID string) error {
	s, ok := r.slot(id)
	if !ok {
		return ErrDriverNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.State != DriverOnline {
		return ErrDriverNotAvailable
	}
	s.d.State = DriverIncomingOffer
	s.d.OfferRideID = rideID
	s.touch()
	return nil
}

// withdrawOffer returns the driver to ONLINE if they still hold the offer for rideID.
func (r *Registry) withdrawOffer(id, rideID string) bool {
	s, ok := r.slot(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.State != DriverIncomingOffer || s.d.OfferRideID != rideID {
		return false
	}
	s.d.State = DriverOnline
	s.d.OfferRideID = ""
	s.touch()
	return true
}

// claim moves INCOMING_OFFER(rideID) -> TO_PICKUP.
func (r *Registry) claim(id, rideID string) (Driver, error) {
	s, ok := r.slot(id)
	if !ok {
		return Driver{}, ErrDriverNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.State != DriverIncomingOffer || s.d.OfferRideID != rideID {
		return Driver{}, ErrDriverNotAvailable
	}
	s.d.State = DriverToPickup
	s.d.OfferRideID = ""
	s.d.RideID = rideID
	s.touch()
	return s.d, nil
}

// startTrip moves TO_PICKUP(rideID) -> IN_TRIP.
func (r *Registry) startTrip(id, rideID string) (Driver, error) {
	s, ok := r.slot(id)
	if !ok {
		return Driver{}, ErrDriverNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.State != DriverToPickup || s.d.RideID != rideID {
		return Driver{}, ErrDriverNotAvailable
	}
	s.d.State = DriverInTrip
	s.touch()
	return s.d, nil
}

// finish credits the fare and returns the driver to ONLINE.
func (r *Registry) finish(id, rideID string, fare float64) (Driver, error) {
	s, ok := r.slot(id)
	if !ok {
		return Driver{}, ErrDriverNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.RideID != rideID {
		return Driver{}, ErrDriverNotAvailable
	}
	s.d.Earnings += fare
	s.d.Trips++
	s.d.RideID = ""
	s.d.State = DriverOnline
	s.touch()
	return s.d, nil
}

// release frees a driver from a cancelled ride without crediting anything.
func (r *Registry) release(id, rideID string) (Driver, bool) {
	s, ok := r.slot(id)
	if !ok {
		return Driver{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.RideID != rideID {
		return Driver{}, false
	}
	s.d.RideID = ""
	s.d.State = DriverOnline
	s.touch()
	return s.d, true
}
