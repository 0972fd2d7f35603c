// Package events delivers engine facts to interested sinks after the
// originating transaction has committed. Delivery is fire-and-forget: a slow
// or failing sink never stalls or fails the request that produced the event.
package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/pkg/config"
	"github.com/noah-isme/attendance-integrity-api/pkg/jobs"
)

// Sink receives published engine events.
type Sink interface {
	Deliver(ctx context.Context, event models.EngineEvent) error
}

// Dispatcher fans events out to its sinks through a background worker queue.
type Dispatcher struct {
	queue  *jobs.Queue
	sinks  []Sink
	logger *zap.Logger
}

// NewDispatcher builds a dispatcher over the given sinks. Zero config fields
// fall back to the queue defaults.
func NewDispatcher(logger *zap.Logger, cfg config.RealtimeConfig, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{sinks: sinks, logger: logger}
	d.queue = jobs.NewQueue("engine-events", d.handle, jobs.QueueConfig{
		Workers:    2,
		BufferSize: 256,
		MaxRetries: cfg.DispatchRetry,
		RetryDelay: cfg.DispatchDelay,
		Logger:     logger,
	})
	return d
}

// Start begins background delivery.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains workers.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

// Publish enqueues an event for delivery. Errors are logged, never returned:
// publishing happens after commit and must not affect the caller.
func (d *Dispatcher) Publish(event models.EngineEvent) {
	err := d.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(event.Type),
		Payload: event,
	})
	if err != nil {
		d.logger.Warn("failed to enqueue event",
			zap.String("type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}

func (d *Dispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.EngineEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	var firstErr error
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HubSink forwards events to the realtime hub.
type HubSink struct {
	hub interface {
		Publish(event models.EngineEvent)
	}
}

// NewHubSink wraps a realtime hub as a sink.
func NewHubSink(hub interface{ Publish(event models.EngineEvent) }) *HubSink {
	return &HubSink{hub: hub}
}

// Deliver hands the event to the hub's broadcast buffer.
func (s *HubSink) Deliver(_ context.Context, event models.EngineEvent) error {
	s.hub.Publish(event)
	return nil
}

// LogSink writes every event to the structured log for offline audit.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver logs the event.
func (s *LogSink) Deliver(_ context.Context, event models.EngineEvent) error {
	s.logger.Info("engine event",
		zap.String("type", string(event.Type)),
		zap.String("session_id", event.SessionID),
		zap.Time("timestamp", event.Timestamp),
		zap.Any("payload", event.Payload))
	return nil
}
