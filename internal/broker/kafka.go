package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"taxidispatch/internal/events"
)

// KafkaSink writes events to one topic keyed by ride id, so every event of a
// ride lands on the same partition in order. Driver status events are keyed
// by driver id.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(ctx context.Context, recipient string, evt events.Event) error {
	msg, err := kafkaMessage(recipient, evt)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func kafkaMessage(recipient string, evt events.Event) (kafka.Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(messageKey(recipient, evt)),
		Value: body,
		Time:  evt.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Kind)},
			{Key: "recipient", Value: []byte(recipient)},
		},
	}, nil
}

func messageKey(recipient string, evt events.Event) string {
	if evt.RideID != "" {
		return evt.RideID
	}
	if p, ok := evt.Payload.(events.DriverStatusChanged); ok {
		return p.DriverID
	}
	return recipient
}
