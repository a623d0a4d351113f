package notify

import (
	"context"
	"log/slog"
	"time"

	"taxidispatch/internal/events"
	"taxidispatch/internal/observability"
)

// Sink mirrors events to an external broker.
type Sink interface {
	Name() string
	Publish(ctx context.Context, recipient string, evt events.Event) error
	Close() error
}

type sinkItem struct {
	recipient string
	evt       events.Event
}

// Fanout publishes to the in-process hub and, when configured, queues a copy
// for a broker sink. Neither path blocks the caller.
type Fanout struct {
	hub   *Hub
	sink  Sink
	queue chan sinkItem
	log   *slog.Logger
}

func NewFanout(hub *Hub, sink Sink, log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	f := &Fanout{hub: hub, sink: sink, log: log}
	if sink != nil {
		f.queue = make(chan sinkItem, 1024)
	}
	return f
}

func (f *Fanout) Publish(key string, evt events.Event) {
	f.hub.Publish(key, evt)
	if f.queue == nil || key == "" {
		return
	}
	select {
	case f.queue <- sinkItem{recipient: key, evt: evt}:
	default:
		observability.SinkFailures.WithLabelValues(f.sink.Name()).Inc()
		f.log.Warn("sink queue full, dropping event", "sink", f.sink.Name(), "type", evt.Kind, "ride_id", evt.RideID)
	}
}

// Run drains the sink queue until ctx ends. It returns immediately without a sink.
func (f *Fanout) Run(ctx context.Context) {
	if f.queue == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-f.queue:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := f.sink.Publish(pctx, item.recipient, item.evt)
			cancel()
			if err != nil {
				observability.SinkFailures.WithLabelValues(f.sink.Name()).Inc()
				f.log.Error("sink publish failed", "sink", f.sink.Name(), "type", item.evt.Kind, "ride_id", item.evt.RideID, "error", err)
			}
		}
	}
}
