package broker

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"taxidispatch/internal/events"
)

func sampleEvent() events.Event {
	return events.New("r1", time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), events.RideCancelled{Reason: "no driver available", CancelledBy: "system"})
}

func TestRoutingKey(t *testing.T) {
	if got := routingKey(sampleEvent()); got != "ride.ride_cancelled" {
		t.Fatalf("routingKey = %q", got)
	}
}

func TestDriverStatusKeys(t *testing.T) {
	evt := events.New("", time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), events.DriverStatusChanged{DriverID: "d3", Status: "OFFLINE"})
	if got := routingKey(evt); got != "driver.driver_status_updated" {
		t.Fatalf("routingKey = %q", got)
	}
	msg, err := kafkaMessage(events.TopicAdmin, evt)
	if err != nil {
		t.Fatalf("kafkaMessage: %v", err)
	}
	if string(msg.Key) != "d3" {
		t.Fatalf("key = %q, want d3", msg.Key)
	}
}

func TestRabbitMessage(t *testing.T) {
	msg, err := rabbitMessage("c1", sampleEvent())
	if err != nil {
		t.Fatalf("rabbitMessage: %v", err)
	}
	if msg.Headers["recipient"] != "c1" || msg.Headers["ride_id"] != "r1" {
		t.Fatalf("headers = %v", msg.Headers)
	}
	if msg.DeliveryMode != amqp.Persistent || msg.Type != "ride_cancelled" {
		t.Fatalf("publishing = %+v", msg)
	}
	evt, err := events.Decode(msg.Body)
	if err != nil {
		t.Fatalf("body does not decode: %v", err)
	}
	if p, ok := evt.Payload.(events.RideCancelled); !ok || p.Reason != "no driver available" {
		t.Fatalf("payload = %#v", evt.Payload)
	}
}

func TestKafkaMessage_KeyedByRide(t *testing.T) {
	msg, err := kafkaMessage("d7", sampleEvent())
	if err != nil {
		t.Fatalf("kafkaMessage: %v", err)
	}
	if string(msg.Key) != "r1" {
		t.Fatalf("key = %q, want r1", msg.Key)
	}
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["recipient"] != "d7" || headers["type"] != "ride_cancelled" {
		t.Fatalf("headers = %v", headers)
	}
}
