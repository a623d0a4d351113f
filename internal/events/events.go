// Package events defines the notifications emitted by the dispatcher.
//
// An Event carries exactly one of a fixed set of payload types. The set is
// closed: Payload has an unexported method, so only this package can add
// variants, and Decode rejects unknown discriminators.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"taxidispatch/internal/geo"
)

// Broadcast keys. Every connected driver subscribes to TopicDrivers and every
// admin to TopicAdmin. The prefix keeps them apart from user ids.
const (
	TopicDrivers = "topic:drivers"
	TopicAdmin   = "topic:admin"
)

type Kind string

const (
	KindRideCreated       Kind = "ride_created"
	KindRideOffered       Kind = "ride_offered"
	KindRideAssigned      Kind = "ride_assigned"
	KindRideStatusChanged Kind = "ride_status_changed"
	KindRideCancelled     Kind = "ride_cancelled"
	KindLocationUpdated   Kind = "location_updated"
	KindChatMessage       Kind = "chat_message"
	KindDriverStatus      Kind = "driver_status_updated"
)

type Payload interface {
	kind() Kind
}

type Event struct {
	Kind    Kind
	RideID  string
	At      time.Time
	Payload Payload
}

// New stamps p with its kind.
func New(rideID string, at time.Time, p Payload) Event {
	return Event{Kind: p.kind(), RideID: rideID, At: at, Payload: p}
}

type RideCreated struct {
	ClientID         string    `json:"clientId"`
	PickupLabel      string    `json:"pickup"`
	Pickup           geo.Point `json:"pickupCoords"`
	DestinationLabel string    `json:"destination"`
	Destination      geo.Point `json:"destinationCoords"`
	RideClass        string    `json:"rideType"`
	Fare             float64   `json:"fare"`
	DistanceKM       float64   `json:"distance"`
}

type RideOffered struct {
	DriverID           string    `json:"driverId"`
	PickupLabel        string    `json:"pickup"`
	Pickup             geo.Point `json:"pickupCoords"`
	DestinationLabel   string    `json:"destination"`
	Fare               float64   `json:"fare"`
	DistanceToPickupKM float64   `json:"distanceToPickup"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

// DriverCard is the public part of a driver profile shown to clients.
type DriverCard struct {
	Name         string  `json:"name,omitempty"`
	VehicleModel string  `json:"carModel,omitempty"`
	LicensePlate string  `json:"licensePlate,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
}

// RideAssigned goes to the client and, as "ride taken", to drivers whose offer lost.
type RideAssigned struct {
	DriverID   string     `json:"driverId"`
	ClientID   string     `json:"clientId"`
	Driver     DriverCard `json:"driver"`
	ETAMinutes int        `json:"etaMinutes"`
}

type RideStatusChanged struct {
	From string `json:"from"`
	To   string `json:"status"`
}

type RideCancelled struct {
	Reason      string `json:"reason,omitempty"`
	CancelledBy string `json:"cancelledBy"`
}

type LocationUpdated struct {
	DriverID string    `json:"driverId"`
	Location geo.Point `json:"location"`
}

type ChatMessage struct {
	MessageID  string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderRole string `json:"senderType"`
	Text       string `json:"message"`
}

// DriverStatusChanged reports a driver going ONLINE or OFFLINE. It is not tied
// to a ride, so the envelope's RideID is empty.
type DriverStatusChanged struct {
	DriverID string `json:"driverId"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

func (RideCreated) kind() Kind         { return KindRideCreated }
func (RideOffered) kind() Kind         { return KindRideOffered }
func (RideAssigned) kind() Kind        { return KindRideAssigned }
func (RideStatusChanged) kind() Kind   { return KindRideStatusChanged }
func (RideCancelled) kind() Kind       { return KindRideCancelled }
func (LocationUpdated) kind() Kind     { return KindLocationUpdated }
func (ChatMessage) kind() Kind         { return KindChatMessage }
func (DriverStatusChanged) kind() Kind { return KindDriverStatus }

type wireEvent struct {
	Type    Kind            `json:"type"`
	RideID  string          `json:"rideId"`
	At      time.Time       `json:"timestamp"`
	Payload json.RawMessage `json:"data"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Type: e.Kind, RideID: e.RideID, At: e.At, Payload: body})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*e = decoded
	return nil
}

// Decode parses the wire form produced by MarshalJSON.
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, err
	}
	var (
		p   Payload
		err error
	)
	switch w.Type {
	case KindRideCreated:
		p, err = decodeAs[RideCreated](w.Payload)
	case KindRideOffered:
		p, err = decodeAs[RideOffered](w.Payload)
	case KindRideAssigned:
		p, err = decodeAs[RideAssigned](w.Payload)
	case KindRideStatusChanged:
		p, err = decodeAs[RideStatusChanged](w.Payload)
	case KindRideCancelled:
		p, err = decodeAs[RideCancelled](w.Payload)
	case KindLocationUpdated:
		p, err = decodeAs[LocationUpdated](w.Payload)
	case KindChatMessage:
		p, err = decodeAs[ChatMessage](w.Payload)
	case KindDriverStatus:
		p, err = decodeAs[DriverStatusChanged](w.Payload)
	default:
		return Event{}, fmt.Errorf("unknown event type %q", w.Type)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", w.Type, err)
	}
	return Event{Kind: w.Type, RideID: w.RideID, At: w.At, Payload: p}, nil
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
