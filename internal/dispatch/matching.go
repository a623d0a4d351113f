package dispatch

import (
	"context"
	"math"
	"time"

	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
	"taxidispatch/internal/observability"
)

// match owns the timers of one PENDING ride: the overall deadline, the retry
// interval and the earliest offer expiry. It exits once the ride settles.
func (d *Dispatcher) match(e *rideEntry, timeout time.Duration) {
	defer d.wg.Done()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	radius := d.cfg.SearchRadiusKM

	for {
		wait, done := d.offerRound(e, &radius)
		if done {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return
		case <-e.settled:
			timer.Stop()
			return
		case <-deadline.C:
			timer.Stop()
			d.expire(e)
			return
		case <-e.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// offerRound expires stale offers and tops the ride up to OfferBatch live
// offers. It returns how long to sleep before the next round.
func (d *Dispatcher) offerRound(e *rideEntry, radius *float64) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ride.Status != StatusPending {
		return 0, true
	}
	now := d.now()
	for id, o := range e.offers {
		if !now.Before(o.ExpiresAt) {
			d.dropOfferLocked(e, id, "expired")
			d.log.Debug("offer expired", "ride_id", e.ride.ID, "driver_id", id)
		}
	}

	if need := d.cfg.OfferBatch - len(e.offers); need > 0 {
		for _, c := range d.candidatesLocked(e, radius) {
			if need == 0 {
				break
			}
			// Another ride may have claimed this driver since the query.
			if err := d.drivers.offer(c.ID, e.ride.ID); err != nil {
				continue
			}
			o := Offer{RideID: e.ride.ID, DriverID: c.ID, IssuedAt: now, ExpiresAt: now.Add(d.cfg.OfferTTL)}
			e.offers[c.ID] = o
			need--
			observability.Offers.WithLabelValues("issued").Inc()
			d.pub.Publish(c.ID, events.New(e.ride.ID, now, events.RideOffered{
				DriverID:           c.ID,
				PickupLabel:        e.ride.Pickup.Label,
				Pickup:             e.ride.Pickup.Point,
				DestinationLabel:   e.ride.Destination.Label,
				Fare:               e.ride.Fare,
				DistanceToPickupKM: c.DistanceKM,
				ExpiresAt:          o.ExpiresAt,
			}))
			d.log.Debug("ride offered", "ride_id", e.ride.ID, "driver_id", c.ID, "distance_km", c.DistanceKM)
		}
	}

	wait := time.Duration(math.MaxInt64)
	if len(e.offers) < d.cfg.OfferBatch {
		wait = d.cfg.MatchRetryInterval
	}
	for _, o := range e.offers {
		if until := o.ExpiresAt.Sub(now); until < wait {
			wait = until
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

// candidatesLocked queries ONLINE drivers around the pickup, growing the
// radius by RadiusStepKM up to the cap while nothing eligible turns up.
func (d *Dispatcher) candidatesLocked(e *rideEntry, radius *float64) []geo.Candidate {
	for {
		all := d.drivers.ListAvailable(e.ride.Pickup.Point, *radius)
		out := all[:0]
		for _, c := range all {
			if _, skip := e.excluded[c.ID]; skip {
				continue
			}
			if _, held := e.offers[c.ID]; held {
				continue
			}
			out = append(out, c)
		}
		if len(out) > 0 || d.cfg.RadiusStepKM <= 0 || *radius >= d.cfg.MaxSearchRadiusKM {
			return out
		}
		*radius = math.Min(*radius+d.cfg.RadiusStepKM, d.cfg.MaxSearchRadiusKM)
		d.log.Debug("widening search radius", "ride_id", e.ride.ID, "radius_km", *radius)
	}
}

// expire cancels a ride nobody accepted before its matching deadline.
func (d *Dispatcher) expire(e *rideEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ride.Status != StatusPending {
		return
	}
	e.noDriver = true
	if _, err := d.cancelLocked(context.Background(), e, SystemActor, reasonNoDriver); err != nil {
		d.log.Error("auto-cancel failed", "ride_id", e.ride.ID, "error", err)
		return
	}
	d.log.Info("no driver found before deadline", "ride_id", e.ride.ID)
}
