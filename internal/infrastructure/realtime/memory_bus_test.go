package realtime

import (
	"context"
	"testing"
	"time"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRowFansOutToCallSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var got []ports.RowEvent
	cancel, err := bus.SubscribeCall(ctx, "call-1", func(e ports.RowEvent) {
		got = append(got, e)
	})
	require.NoError(t, err)
	defer cancel()

	call := &domain.Call{ID: "call-1", ReceiverID: "bob", Status: domain.CallStatusRinging}
	bus.PublishRow(ctx, "insert", call)
	bus.PublishRow(ctx, "update", call)

	require.Len(t, got, 2)
	assert.Equal(t, "insert", got[0].Kind)
	assert.Equal(t, "update", got[1].Kind)

	// Unrelated call ids are not delivered.
	bus.PublishRow(ctx, "insert", &domain.Call{ID: "call-2", ReceiverID: "bob"})
	assert.Len(t, got, 2)
}

func TestInsertsReachReceiverInbox(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var inbox []ports.RowEvent
	cancel, err := bus.SubscribeReceiver(ctx, "bob", func(e ports.RowEvent) {
		inbox = append(inbox, e)
	})
	require.NoError(t, err)
	defer cancel()

	call := &domain.Call{ID: "call-1", ReceiverID: "bob", Status: domain.CallStatusRinging}
	bus.PublishRow(ctx, "insert", call)
	// Updates stay off the inbox; it exists for invitation delivery.
	bus.PublishRow(ctx, "update", call)
	bus.PublishRow(ctx, "insert", &domain.Call{ID: "call-2", ReceiverID: "carol"})

	require.Len(t, inbox, 1)
	assert.Equal(t, domain.CallID("call-1"), inbox[0].Call.ID)
}

func TestSideChannelOrderPreserved(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var seen []string
	cancel, err := bus.Subscribe(ctx, "call-1", func(env domain.SignalEnvelope) {
		seen = append(seen, env.Candidate.Candidate)
	})
	require.NoError(t, err)
	defer cancel()

	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Publish(ctx, domain.SignalEnvelope{
			CallID:    "call-1",
			SenderID:  "alice",
			Candidate: &domain.Candidate{Candidate: c},
			Timestamp: time.Now(),
		}))
	}

	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var count int
	cancel, err := bus.Subscribe(ctx, "call-1", func(domain.SignalEnvelope) { count++ })
	require.NoError(t, err)

	cancel()
	cancel() // releasing twice is harmless

	require.NoError(t, bus.Publish(ctx, domain.SignalEnvelope{CallID: "call-1", SenderID: "alice"}))
	assert.Zero(t, count)
}
