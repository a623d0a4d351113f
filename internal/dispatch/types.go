package dispatch

import (
	"context"
	"time"

	"taxidispatch/internal/events"
	"taxidispatch/internal/geo"
)

type RideStatus string

const (
	StatusPending        RideStatus = "PENDING"
	StatusDriverAssigned RideStatus = "DRIVER_ASSIGNED"
	StatusEnRoute        RideStatus = "EN_ROUTE"
	StatusInProgress     RideStatus = "IN_PROGRESS"
	StatusCompleted      RideStatus = "COMPLETED"
	StatusCancelled      RideStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type DriverState string

const (
	DriverOffline       DriverState = "OFFLINE"
	DriverOnline        DriverState = "ONLINE"
	DriverIncomingOffer DriverState = "INCOMING_OFFER"
	DriverToPickup      DriverState = "TO_PICKUP"
	DriverInTrip        DriverState = "IN_TRIP"
)

var driverStates = []DriverState{DriverOffline, DriverOnline, DriverIncomingOffer, DriverToPickup, DriverInTrip}

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "CARD"
	PaymentCash PaymentMethod = "CASH"
)

type Role string

const (
	RoleClient Role = "client"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// Actor is whoever performs an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor cancels rides whose matching deadline passed.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

type Place struct {
	Label string    `json:"label"`
	Point geo.Point `json:"coords"`
}

type Ride struct {
	ID                    string        `json:"id"`
	ClientID              string        `json:"clientId"`
	DriverID              string        `json:"driverId,omitempty"`
	Pickup                Place         `json:"pickup"`
	Destination           Place         `json:"destination"`
	Class                 geo.RideClass `json:"rideType"`
	Payment               PaymentMethod `json:"paymentMethod"`
	Fare                  float64       `json:"fare"`
	DistanceKM            float64       `json:"distance"`
	EstimatedMinutes      int           `json:"estimatedDuration"`
	ActualDurationMinutes int           `json:"actualDuration,omitempty"`
	Status                RideStatus    `json:"status"`
	RequestedAt           time.Time     `json:"requestedAt"`
	StartedAt             *time.Time    `json:"startedAt,omitempty"`
	CompletedAt           *time.Time    `json:"completedAt,omitempty"`
	CancelledAt           *time.Time    `json:"cancelledAt,omitempty"`
	CancellationReason    string        `json:"cancellationReason,omitempty"`
	CancelledBy           string        `json:"cancelledBy,omitempty"`
}

// DriverProfile is owned by onboarding; the core only reads it.
type DriverProfile struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	VehicleModel string  `json:"carModel"`
	LicensePlate string  `json:"licensePlate"`
	Rating       float64 `json:"rating"`
}

func (p DriverProfile) card() events.DriverCard {
	return events.DriverCard{
		Name:         p.Name,
		VehicleModel: p.VehicleModel,
		LicensePlate: p.LicensePlate,
		Rating:       p.Rating,
	}
}

type Driver struct {
	ID          string        `json:"id"`
	Profile     DriverProfile `json:"profile"`
	State       DriverState   `json:"status"`
	RideID      string        `json:"rideId,omitempty"`
	OfferRideID string        `json:"offerRideId,omitempty"`
	Location    *geo.Point    `json:"location,omitempty"`
	LocationAt  time.Time     `json:"locationUpdatedAt,omitempty"`
	Earnings    float64       `json:"earnings"`
	Trips       int           `json:"totalTrips"`
	// Version grows with every change to the driver; storage keeps the highest.
	Version int64 `json:"-"`
}

// Offer is a time-boxed proposal of a pending ride to one driver.
type Offer struct {
	RideID    string    `json:"rideId"`
	DriverID  string    `json:"driverId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ChatMessage struct {
	ID         string    `json:"id"`
	RideID     string    `json:"rideId"`
	SenderID   string    `json:"senderId"`
	SenderRole Role      `json:"senderType"`
	Text       string    `json:"message"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RideEvent is one entry of the persisted transition log.
type RideEvent struct {
	RideID    string    `json:"rideId"`
	Type      string    `json:"type"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	ActorID   string    `json:"actorId,omitempty"`
	ActorRole string    `json:"actorRole,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type RideRequest struct {
	ClientID       string
	Pickup         Place
	Destination    Place
	Class          geo.RideClass
	Payment        PaymentMethod
	IdempotencyKey string
	// MatchTimeout overrides the configured matching deadline when > 0.
	MatchTimeout time.Duration
}

// SpatialIndex answers radius queries over driver positions.
type SpatialIndex interface {
	Upsert(driverID string, p geo.Point) error
	Remove(driverID string) error
	Within(center geo.Point, radiusKM float64) ([]geo.Candidate, error)
}

// Publisher delivers an event to every subscriber of key (a user id or topic).
type Publisher interface {
	Publish(key string, evt events.Event)
}

// Persistence is the durable store behind the in-memory registry and ride store.
type Persistence interface {
	SaveDriver(ctx context.Context, d Driver) error
	LoadDrivers(ctx context.Context) ([]Driver, error)
	CreateRideWithEvent(ctx context.Context, ride Ride, evt RideEvent) error
	UpdateRideWithEvent(ctx context.Context, ride Ride, evt RideEvent, driver *Driver) error
	GetRide(ctx context.Context, id string) (Ride, bool, error)
	ListRidesByUser(ctx context.Context, userID string, limit, offset int) ([]Ride, error)
	SaveChatMessage(ctx context.Context, msg ChatMessage) error
	ListChatMessages(ctx context.Context, rideID string) ([]ChatMessage, error)
}

type IdempotencyStore interface {
	Remember(ctx context.Context, key, rideID string) error
	Lookup(ctx context.Context, key string) (string, bool, error)
}
