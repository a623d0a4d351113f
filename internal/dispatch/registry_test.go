package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"taxidispatch/internal/geo"
	"taxidispatch/internal/logging"
)

type failingIndex struct{}

func (failingIndex) Upsert(string, geo.Point) error { return errors.New("index down") }
func (failingIndex) Remove(string) error            { return errors.New("index down") }
func (failingIndex) Within(geo.Point, float64) ([]geo.Candidate, error) {
	return nil, errors.New("index down")
}

func newRegistryWith(t *testing.T, index SpatialIndex, drivers map[string]geo.Point) *Registry {
	t.Helper()
	r := NewRegistry(index, logging.Discard())
	for id, p := range drivers {
		r.Register(DriverProfile{ID: id})
		if _, err := r.UpdateLocation(id, p); err != nil {
			t.Fatalf("UpdateLocation(%s): %v", id, err)
		}
		if _, err := r.SetOnline(id, true); err != nil {
			t.Fatalf("SetOnline(%s): %v", id, err)
		}
	}
	return r
}

func TestRegistry_ListAvailableOrderAndFilter(t *testing.T) {
	for name, index := range map[string]SpatialIndex{
		"cell index": geo.NewCellIndex(),
		"no index":   nil,
		"broken":     failingIndex{},
	} {
		t.Run(name, func(t *testing.T) {
			r := newRegistryWith(t, index, map[string]geo.Point{
				"b":   {Lat: 55.756, Lng: 37.617},
				"a":   {Lat: 55.756, Lng: 37.617},
				"c":   {Lat: 55.76, Lng: 37.62},
				"far": {Lat: 55.9, Lng: 37.9},
				"off": {Lat: 55.755, Lng: 37.617},
			})
			if _, err := r.SetOnline("off", false); err != nil {
				t.Fatalf("SetOnline(off): %v", err)
			}

			got := r.ListAvailable(redSquare, 3)
			var ids []string
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			if fmt.Sprint(ids) != fmt.Sprint([]string{"a", "b", "c"}) {
				t.Fatalf("ListAvailable = %v, want [a b c]", ids)
			}
			if got[0].DistanceKM != geo.DistanceKM(redSquare, geo.Point{Lat: 55.756, Lng: 37.617}) {
				t.Fatalf("distance not recomputed from registry position: %v", got[0].DistanceKM)
			}
		})
	}
}

func TestRegistry_ListAvailableSkipsOfferedDrivers(t *testing.T) {
	r := newRegistryWith(t, geo.NewCellIndex(), map[string]geo.Point{"d1": nearby})
	if err := r.offer("d1", "r1"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if got := r.ListAvailable(redSquare, 3); len(got) != 0 {
		t.Fatalf("driver holding an offer listed as available: %v", got)
	}
	if err := r.offer("d1", "r2"); !errors.Is(err, ErrDriverNotAvailable) {
		t.Fatalf("second offer = %v, want ErrDriverNotAvailable", err)
	}
	if r.withdrawOffer("d1", "r2") {
		t.Fatalf("withdrawing another ride's offer must not free the driver")
	}
	if !r.withdrawOffer("d1", "r1") {
		t.Fatalf("withdrawOffer(r1) = false")
	}
	if len(r.ListAvailable(redSquare, 3)) != 1 {
		t.Fatalf("driver should be available again")
	}
}

func TestRegistry_OfferIsExclusiveUnderContention(t *testing.T) {
	r := newRegistryWith(t, nil, map[string]geo.Point{"d1": nearby})

	const n = 32
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		wins  = make(chan string, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(rideID string) {
			defer wg.Done()
			<-start
			if err := r.offer("d1", rideID); err == nil {
				wins <- rideID
			}
		}(fmt.Sprintf("r%d", i))
	}
	close(start)
	wg.Wait()
	close(wins)

	var winners []string
	for id := range wins {
		winners = append(winners, id)
	}
	if len(winners) != 1 {
		t.Fatalf("%d rides won the same driver: %v", len(winners), winners)
	}
	drv, _ := r.Get("d1")
	if drv.OfferRideID != winners[0] {
		t.Fatalf("driver offer = %s, want %s", drv.OfferRideID, winners[0])
	}
}

func TestRegistry_UnknownDriver(t *testing.T) {
	r := NewRegistry(nil, logging.Discard())
	if _, err := r.UpdateLocation("ghost", nearby); !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("UpdateLocation = %v, want ErrDriverNotFound", err)
	}
	if _, err := r.SetOnline("ghost", true); !errors.Is(err, ErrDriverNotFound) {
		t.Fatalf("SetOnline = %v, want ErrDriverNotFound", err)
	}
	r.Register(DriverProfile{ID: "d1"})
	if _, err := r.UpdateLocation("d1", geo.Point{Lat: 0, Lng: 200}); !errors.Is(err, geo.ErrInvalidCoordinate) {
		t.Fatalf("UpdateLocation(bad point) = %v, want ErrInvalidCoordinate", err)
	}
}

func TestRegistry_ClaimAndFinish(t *testing.T) {
	r := newRegistryWith(t, nil, map[string]geo.Point{"d1": nearby})
	if _, err := r.claim("d1", "r1"); !errors.Is(err, ErrDriverNotAvailable) {
		t.Fatalf("claim without offer = %v, want ErrDriverNotAvailable", err)
	}
	_ = r.offer("d1", "r1")
	if _, err := r.claim("d1", "r1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := r.SetOnline("d1", false); !errors.Is(err, ErrDriverBusy) {
		t.Fatalf("offline while assigned = %v, want ErrDriverBusy", err)
	}
	if _, err := r.finish("d1", "other", 100); !errors.Is(err, ErrDriverNotAvailable) {
		t.Fatalf("finish for another ride = %v", err)
	}
	if _, err := r.startTrip("d1", "r1"); err != nil {
		t.Fatalf("startTrip: %v", err)
	}
	drv, err := r.finish("d1", "r1", 412.5)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if drv.State != DriverOnline || drv.Earnings != 412.5 || drv.Trips != 1 || drv.RideID != "" {
		t.Fatalf("driver after finish = %+v", drv)
	}
}

func TestRegistry_SweepStale(t *testing.T) {
	r := newRegistryWith(t, geo.NewCellIndex(), map[string]geo.Point{"old": nearby, "fresh": nearby})
	now := time.Now()
	r.now = func() time.Time { return now }

	slot, _ := r.slot("old")
	slot.mu.Lock()
	slot.lastSeen = now.Add(-10 * time.Minute)
	slot.mu.Unlock()
	slot, _ = r.slot("fresh")
	slot.mu.Lock()
	slot.lastSeen = now
	slot.mu.Unlock()

	swept := r.SweepStale(2 * time.Minute)
	if len(swept) != 1 || swept[0].ID != "old" || swept[0].State != DriverOffline {
		t.Fatalf("SweepStale = %+v, want only old", swept)
	}
	if d, _ := r.Get("old"); d.State != DriverOffline {
		t.Fatalf("stale driver state = %s, want OFFLINE", d.State)
	}
	if d, _ := r.Get("fresh"); d.State != DriverOnline {
		t.Fatalf("fresh driver state = %s, want ONLINE", d.State)
	}
	got := r.ListAvailable(redSquare, 3)
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("ListAvailable after sweep = %v", got)
	}
}

func TestRegistry_SweepStaleCountsFromGoingOnline(t *testing.T) {
	r := NewRegistry(geo.NewCellIndex(), logging.Discard())
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Register(DriverProfile{ID: "d1"})
	if _, err := r.SetOnline("d1", true); err != nil {
		t.Fatalf("SetOnline: %v", err)
	}
	now = now.Add(time.Minute)
	if swept := r.SweepStale(2 * time.Minute); len(swept) != 0 {
		t.Fatalf("driver without a fix swept one minute after going online: %+v", swept)
	}
	now = now.Add(2 * time.Minute)
	if swept := r.SweepStale(2 * time.Minute); len(swept) != 1 {
		t.Fatalf("SweepStale = %+v, want d1 after three silent minutes", swept)
	}
}

type versionSaver struct {
	mu   sync.Mutex
	last map[string]int64
}

// SaveDriver keeps the highest version seen, as the drivers table does.
func (s *versionSaver) SaveDriver(_ context.Context, d Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Version > s.last[d.ID] {
		s.last[d.ID] = d.Version
	}
	return nil
}

func TestRegistry_VersionGrowsWithEveryChange(t *testing.T) {
	saver := &versionSaver{last: map[string]int64{}}
	r := NewRegistry(geo.NewCellIndex(), logging.Discard())
	r.AttachPersistence(saver)
	r.Register(DriverProfile{ID: "d1"})

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			<-start
			for j := 0; j < 25; j++ {
				r.UpdateLocation("d1", geo.Point{Lat: 55.75 + float64(i)/1000, Lng: 37.61})
			}
		}(i)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 25; j++ {
				r.SetOnline("d1", j%2 == 0)
			}
		}()
	}
	close(start)
	wg.Wait()

	drv, _ := r.Get("d1")
	if drv.Version < 201 {
		t.Fatalf("version = %d, want at least 201 after 200 fixes", drv.Version)
	}
	saver.mu.Lock()
	defer saver.mu.Unlock()
	if saver.last["d1"] != drv.Version {
		t.Fatalf("stored version %d, in-memory %d", saver.last["d1"], drv.Version)
	}
}

func TestRegistry_RestoreComesBackOffline(t *testing.T) {
	r := NewRegistry(nil, logging.Discard())
	loc := nearby
	r.Restore([]Driver{{ID: "d1", State: DriverInTrip, RideID: "r1", Location: &loc, Earnings: 900, Trips: 3}})

	drv, ok := r.Get("d1")
	if !ok {
		t.Fatalf("restored driver missing")
	}
	if drv.State != DriverOffline || drv.RideID != "" || drv.Earnings != 900 || drv.Trips != 3 {
		t.Fatalf("restored driver = %+v", drv)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RideStatus
		want     bool
	}{
		{StatusPending, StatusDriverAssigned, true},
		{StatusPending, StatusInProgress, false},
		{StatusPending, StatusCancelled, true},
		{StatusDriverAssigned, StatusEnRoute, true},
		{StatusDriverAssigned, StatusInProgress, true},
		{StatusEnRoute, StatusCancelled, true},
		{StatusInProgress, StatusCancelled, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{RideStatus("BOGUS"), StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRideStore_ReserveIsExclusivePerClient(t *testing.T) {
	s := NewRideStore()
	if _, err := s.reserve(Ride{ID: "r1", ClientID: "c1", Status: StatusPending}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := s.reserve(Ride{ID: "r2", ClientID: "c1", Status: StatusPending}); !errors.Is(err, ErrActiveRideExists) {
		t.Fatalf("second reserve = %v, want ErrActiveRideExists", err)
	}
	s.settle(Ride{ID: "r1", ClientID: "c1", Status: StatusCancelled})
	if _, err := s.reserve(Ride{ID: "r3", ClientID: "c1", Status: StatusPending}); err != nil {
		t.Fatalf("reserve after settle: %v", err)
	}
	if got, ok := s.ActiveFor("c1"); !ok || got.ID != "r3" {
		t.Fatalf("ActiveFor = %v %v, want r3", got.ID, ok)
	}
}
