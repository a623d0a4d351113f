package dispatch

import (
	"sort"
	"sync"
)

// rideEntry serializes every transition of one ride.
type rideEntry struct {
	mu       sync.Mutex
	ride     Ride
	offers   map[string]Offer
	excluded map[string]struct{}
	chat     []ChatMessage
	noDriver bool

	// wake nudges the matching loop after a decline or lost claim.
	wake chan struct{}
	// settled is closed once the ride leaves PENDING.
	settled chan struct{}
}

func newRideEntry(r Ride) *rideEntry {
	return &rideEntry{
		ride:     r,
		offers:   make(map[string]Offer),
		excluded: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		settled:  make(chan struct{}),
	}
}

func (e *rideEntry) nudge() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// RideStore holds every ride the process has seen plus the per-client and
// per-driver active ride indexes.
type RideStore struct {
	mu             sync.RWMutex
	rides          map[string]*rideEntry
	activeByClient map[string]string
	activeByDriver map[string]string
	byUser         map[string][]string
}

func NewRideStore() *RideStore {
	return &RideStore{
		rides:          make(map[string]*rideEntry),
		activeByClient: make(map[string]string),
		activeByDriver: make(map[string]string),
		byUser:         make(map[string][]string),
	}
}

// reserve records r as the client's active ride, failing with
// ErrActiveRideExists if the client already has one.
func (s *RideStore) reserve(r Ride) (*rideEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.activeByClient[r.ClientID]; busy {
		return nil, ErrActiveRideExists
	}
	e := newRideEntry(r)
	s.rides[r.ID] = e
	s.activeByClient[r.ClientID] = r.ID
	s.byUser[r.ClientID] = append(s.byUser[r.ClientID], r.ID)
	return e, nil
}

func (s *RideStore) bindDriver(rideID, driverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeByDriver[driverID] = rideID
	s.byUser[driverID] = append(s.byUser[driverID], rideID)
}

// settle drops a terminal ride from the active indexes.
func (s *RideStore) settle(r Ride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeByClient[r.ClientID] == r.ID {
		delete(s.activeByClient, r.ClientID)
	}
	if r.DriverID != "" && s.activeByDriver[r.DriverID] == r.ID {
		delete(s.activeByDriver, r.DriverID)
	}
}

func (s *RideStore) entry(id string) (*rideEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.rides[id]
	return e, ok
}

func (s *RideStore) Get(id string) (Ride, bool) {
	e, ok := s.entry(id)
	if !ok {
		return Ride{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ride, true
}

// ActiveFor returns the non-terminal ride of a client or driver.
func (s *RideStore) ActiveFor(userID string) (Ride, bool) {
	s.mu.RLock()
	id, ok := s.activeByClient[userID]
	if !ok {
		id, ok = s.activeByDriver[userID]
	}
	s.mu.RUnlock()
	if !ok {
		return Ride{}, false
	}
	return s.Get(id)
}

// History lists a user's completed and cancelled rides newest first.
func (s *RideStore) History(userID string, limit, offset int) []Ride {
	s.mu.RLock()
	ids := append([]string(nil), s.byUser[userID]...)
	s.mu.RUnlock()

	out := make([]Ride, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.Get(id); ok && r.Status.Terminal() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if offset >= len(out) {
		return []Ride{}
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
