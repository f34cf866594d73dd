// File: internal/events/bus_test.go
package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

func receive(t *testing.T, ch <-chan schemas.Event) schemas.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return schemas.Event{}
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	a := bus.Subscribe()
	b := bus.Subscribe()

	require.NoError(t, bus.Publish(context.Background(), schemas.Event{
		Type:      schemas.EventSessionStarted,
		SessionID: "sess-1",
	}))

	for _, ch := range []<-chan schemas.Event{a, b} {
		evt := receive(t, ch)
		assert.Equal(t, schemas.EventSessionStarted, evt.Type)
		assert.Equal(t, "sess-1", evt.SessionID)
		assert.NotEmpty(t, evt.ID)
		assert.False(t, evt.Timestamp.IsZero())
		bus.Acknowledge(evt)
	}
	bus.Shutdown()
}

func TestFiltersRestrictDelivery(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	failures := bus.Subscribe(schemas.EventSessionFailed)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, schemas.Event{Type: schemas.EventSessionStarted, SessionID: "s1"}))
	require.NoError(t, bus.Publish(ctx, schemas.Event{Type: schemas.EventSessionFailed, SessionID: "s2"}))

	evt := receive(t, failures)
	assert.Equal(t, schemas.EventSessionFailed, evt.Type)
	assert.Equal(t, "s2", evt.SessionID)
	bus.Acknowledge(evt)

	select {
	case extra := <-failures:
		t.Fatalf("unexpected event delivered through filter: %s", extra.Type)
	default:
	}
	bus.Shutdown()
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 1)
	ch := bus.Subscribe()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, schemas.Event{Type: schemas.EventStepCompleted, SessionID: "s1"}))

	// The buffer is full and nobody is reading; this must return immediately.
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, bus.Publish(ctx, schemas.Event{Type: schemas.EventStepCompleted, SessionID: "s2"}))
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	evt := receive(t, ch)
	assert.Equal(t, "s1", evt.SessionID)
	bus.Acknowledge(evt)
	bus.Shutdown()
}

func TestShutdownWaitsForAcknowledgements(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	ch := bus.Subscribe()

	require.NoError(t, bus.Publish(context.Background(), schemas.Event{Type: schemas.EventStepCompleted}))
	evt := receive(t, ch)

	shutdownDone := make(chan struct{})
	go func() {
		bus.Shutdown()
		close(shutdownDone)
	}()

	// The event is still unacknowledged, so shutdown must be waiting.
	select {
	case <-shutdownDone:
		t.Fatal("shutdown completed with an event in flight")
	case <-time.After(50 * time.Millisecond):
	}

	bus.Acknowledge(evt)
	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish after the last acknowledgement")
	}

	// Channels are closed and further publishes are refused.
	_, open := <-ch
	assert.False(t, open)
	assert.Error(t, bus.Publish(context.Background(), schemas.Event{Type: schemas.EventStepCompleted}))
}

func TestPublishWithoutSubscribersIsANoOp(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), 4)
	assert.NoError(t, bus.Publish(context.Background(), schemas.Event{Type: schemas.EventStepCompleted}))
	bus.Shutdown()
}
