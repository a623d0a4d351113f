package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"taxidispatch/internal/geo"
)

func TestMarshal_CarriesDiscriminator(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	evt := New("r1", at, RideAssigned{DriverID: "d1", ClientID: "c1", ETAMinutes: 4})

	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if wire["type"] != "ride_assigned" || wire["rideId"] != "r1" {
		t.Fatalf("wire = %s", raw)
	}
	data, _ := wire["data"].(map[string]any)
	if data["driverId"] != "d1" {
		t.Fatalf("payload not nested under data: %s", raw)
	}
}

func TestDecode_RestoresPayloadType(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	in := []Event{
		New("r1", at, RideCreated{ClientID: "c1", Pickup: geo.Point{Lat: 1, Lng: 2}, Fare: 150}),
		New("r1", at, RideOffered{DriverID: "d1", ExpiresAt: at.Add(20 * time.Second)}),
		New("r1", at, RideStatusChanged{From: "EN_ROUTE", To: "IN_PROGRESS"}),
		New("r1", at, RideCancelled{Reason: "no driver available", CancelledBy: "system"}),
		New("r1", at, LocationUpdated{DriverID: "d1", Location: geo.Point{Lat: 55.7, Lng: 37.6}}),
		New("r1", at, ChatMessage{MessageID: "m1", SenderID: "c1", SenderRole: "client", Text: "hi"}),
		New("", at, DriverStatusChanged{DriverID: "d1", Status: "OFFLINE", Reason: "stale"}),
	}
	for _, evt := range in {
		raw, err := json.Marshal(evt)
		if err != nil {
			t.Fatalf("Marshal(%s): %v", evt.Kind, err)
		}
		out, err := Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%s): %v", evt.Kind, err)
		}
		if out.Kind != evt.Kind || out.Payload != evt.Payload || !out.At.Equal(evt.At) {
			t.Fatalf("Decode(%s) = %+v, want %+v", evt.Kind, out, evt)
		}
	}
}

func TestDecode_RejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"ride_teleported","rideId":"r1","data":{}}`))
	if err == nil || !strings.Contains(err.Error(), "ride_teleported") {
		t.Fatalf("expected unknown type error, got %v", err)
	}
}

func TestEvent_UnmarshalJSON(t *testing.T) {
	var evt Event
	if err := json.Unmarshal([]byte(`{"type":"chat_message","rideId":"r9","timestamp":"2024-05-01T10:00:00Z","data":{"message":"yo"}}`), &evt); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	msg, ok := evt.Payload.(ChatMessage)
	if !ok || msg.Text != "yo" || evt.RideID != "r9" {
		t.Fatalf("decoded %+v", evt)
	}
}
