package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-integrity-api/internal/models"
	"github.com/noah-isme/attendance-integrity-api/pkg/config"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []models.EngineEvent
	fail   int
}

func (s *sinkRecorder) Deliver(_ context.Context, event models.EngineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	first := &sinkRecorder{}
	second := &sinkRecorder{}
	d := NewDispatcher(nil, config.RealtimeConfig{}, first, second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Publish(models.EngineEvent{
		Type:      models.EventAttendanceMarked,
		SessionID: "session-1",
		Timestamp: time.Now(),
	})

	require.Eventually(t, func() bool {
		return first.count() == 1 && second.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	first.mu.Lock()
	defer first.mu.Unlock()
	assert.Equal(t, models.EventAttendanceMarked, first.events[0].Type)
	assert.Equal(t, "session-1", first.events[0].SessionID)
}

func TestDispatcherRetriesFailedDelivery(t *testing.T) {
	sink := &sinkRecorder{fail: 2}
	d := NewDispatcher(nil, config.RealtimeConfig{DispatchDelay: 20 * time.Millisecond}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	d.Publish(models.EngineEvent{Type: models.EventAlertRaised, SessionID: "session-1"})

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDispatcherPublishNeverReturnsOrBlocks(t *testing.T) {
	d := NewDispatcher(nil, config.RealtimeConfig{}, &sinkRecorder{})
	// Workers intentionally not started; every enqueue fails and is logged,
	// the caller never sees an error.
	for i := 0; i < 500; i++ {
		d.Publish(models.EngineEvent{Type: models.EventAttendanceMarked, SessionID: "session-1"})
	}
}
