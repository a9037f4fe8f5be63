package signaling

import (
	"context"
	"testing"
	"time"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"
	"ringlink/internal/infrastructure/realtime"
	"ringlink/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, ports.CallRepository, *realtime.MemoryBus) {
	t.Helper()
	bus := realtime.NewMemoryBus()
	store := memory.NewMemoryCallRepository(bus)
	mgr := NewManager(store, bus, bus, cfg, zaptest.NewLogger(t).Sugar())
	return mgr, store, bus
}

func seedCall(t *testing.T, store ports.CallRepository, id domain.CallID, caller, receiver domain.UserID) *domain.Call {
	t.Helper()
	call := &domain.Call{
		ID:          id,
		CallerID:    caller,
		ReceiverID:  receiver,
		RoomName:    domain.RoomName("call-" + string(id)),
		Status:      domain.CallStatusRinging,
		Media:       domain.MediaAudio,
		InitiatedAt: time.Now(),
	}
	require.NoError(t, store.Create(context.Background(), call))
	return call
}

func TestSubscribeToCallIsIdempotent(t *testing.T) {
	mgr, store, bus := newTestManager(t, Config{})
	mgr.Initialize("alice")
	seedCall(t, store, "call-1", "alice", "bob")

	var candidates int
	handlers := ports.CallHandlers{
		OnCandidate: func(domain.Candidate) { candidates++ },
	}
	require.NoError(t, mgr.SubscribeToCall(context.Background(), "call-1", handlers))
	require.NoError(t, mgr.SubscribeToCall(context.Background(), "call-1", handlers))

	require.NoError(t, bus.Publish(context.Background(), domain.SignalEnvelope{
		CallID:    "call-1",
		SenderID:  "bob",
		Candidate: &domain.Candidate{Candidate: "candidate:1"},
	}))

	assert.Equal(t, 1, candidates, "double subscribe must not duplicate delivery")
}

func TestSubscribeToCallDropsOwnSignals(t *testing.T) {
	mgr, store, bus := newTestManager(t, Config{})
	mgr.Initialize("alice")
	seedCall(t, store, "call-1", "alice", "bob")

	var received []string
	require.NoError(t, mgr.SubscribeToCall(context.Background(), "call-1", ports.CallHandlers{
		OnCandidate: func(c domain.Candidate) { received = append(received, c.Candidate) },
	}))

	for _, sender := range []domain.UserID{"alice", "bob"} {
		require.NoError(t, bus.Publish(context.Background(), domain.SignalEnvelope{
			CallID:    "call-1",
			SenderID:  sender,
			Candidate: &domain.Candidate{Candidate: "from-" + string(sender)},
		}))
	}

	assert.Equal(t, []string{"from-bob"}, received)
}

func TestRowDispatchFiresOfferAndAnswerOnce(t *testing.T) {
	mgr, store, _ := newTestManager(t, Config{})
	mgr.Initialize("bob")
	seedCall(t, store, "call-1", "alice", "bob")

	var offers, answers, updates int
	require.NoError(t, mgr.SubscribeToCall(context.Background(), "call-1", ports.CallHandlers{
		OnOffer:       func(domain.SessionDescription) { offers++ },
		OnAnswer:      func(domain.SessionDescription) { answers++ },
		OnCallUpdated: func(*domain.Call) { updates++ },
	}))

	ctx := context.Background()
	_, err := store.SetOffer(ctx, "call-1", domain.SessionDescription{Type: "offer", SDP: "v=0 offer"})
	require.NoError(t, err)
	_, err = store.SetAnswer(ctx, "call-1", domain.SessionDescription{Type: "answer", SDP: "v=0 answer"})
	require.NoError(t, err)
	// Unrelated mutation re-announces the row with both descriptions
	// still set; the one-shot handlers must not re-fire.
	require.NoError(t, store.SetAudioRoute(ctx, "call-1", domain.RouteSpeaker))

	assert.Equal(t, 1, offers)
	assert.Equal(t, 1, answers)
	assert.Equal(t, 3, updates)
}

func TestRowDispatchFiresCallEndedOnTerminalStatus(t *testing.T) {
	mgr, store, _ := newTestManager(t, Config{})
	mgr.Initialize("alice")
	seedCall(t, store, "call-1", "alice", "bob")

	var ended *domain.Call
	require.NoError(t, mgr.SubscribeToCall(context.Background(), "call-1", ports.CallHandlers{
		OnCallEnded: func(c *domain.Call) { ended = c },
	}))

	_, err := mgr.UpdateCallStatus(context.Background(), "call-1", domain.CallStatusCancelled)
	require.NoError(t, err)

	require.NotNil(t, ended)
	assert.Equal(t, domain.CallStatusCancelled, ended.Status)
}

func TestUpdateCallStatusDerivedFields(t *testing.T) {
	mgr, store, _ := newTestManager(t, Config{})
	mgr.Initialize("alice")
	seedCall(t, store, "call-1", "alice", "bob")

	ctx := context.Background()
	active, err := mgr.UpdateCallStatus(ctx, "call-1", domain.CallStatusActive)
	require.NoError(t, err)
	require.NotNil(t, active.StartedAt)
	assert.Nil(t, active.EndedAt)

	endedCall, err := mgr.UpdateCallStatus(ctx, "call-1", domain.CallStatusEnded)
	require.NoError(t, err)
	require.NotNil(t, endedCall.EndedAt)
	assert.GreaterOrEqual(t, endedCall.Duration, int64(0))
}

func TestUpdateCallStatusZeroDurationSideExits(t *testing.T) {
	mgr, store, _ := newTestManager(t, Config{})
	mgr.Initialize("alice")

	for _, status := range []domain.CallStatus{
		domain.CallStatusRejected,
		domain.CallStatusCancelled,
		domain.CallStatusMissed,
	} {
		id := domain.CallID("call-" + string(status))
		seedCall(t, store, id, "alice", "bob")

		call, err := mgr.UpdateCallStatus(context.Background(), id, status)
		require.NoError(t, err)
		require.NotNil(t, call.EndedAt)
		assert.Zero(t, call.Duration)
		assert.Nil(t, call.StartedAt)
	}
}

func TestUpdateCallStatusRejectsIllegalTransition(t *testing.T) {
	mgr, store, _ := newTestManager(t, Config{})
	mgr.Initialize("alice")
	seedCall(t, store, "call-1", "alice", "bob")

	_, err := mgr.UpdateCallStatus(context.Background(), "call-1", domain.CallStatusEnded)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSubscribeInboundRequiresIdentity(t *testing.T) {
	mgr, _, _ := newTestManager(t, Config{})

	err := mgr.SubscribeInbound(context.Background(), func(*domain.Call) {})
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestSubscribeInboundDeliversRingingInserts(t *testing.T) {
	mgr, store, _ := newTestManager(t, Config{})
	mgr.Initialize("bob")

	var invites []domain.CallID
	require.NoError(t, mgr.SubscribeInbound(context.Background(), func(c *domain.Call) {
		invites = append(invites, c.ID)
	}))

	seedCall(t, store, "call-1", "alice", "bob")
	seedCall(t, store, "call-2", "alice", "carol") // different receiver

	assert.Equal(t, []domain.CallID{"call-1"}, invites)
}

func TestSubscribeInboundShedsInviteFloods(t *testing.T) {
	mgr, store, _ := newTestManager(t, Config{InvitesPerMinute: 1, InviteBurst: 2})
	mgr.Initialize("bob")

	var invites int
	require.NoError(t, mgr.SubscribeInbound(context.Background(), func(*domain.Call) {
		invites++
	}))

	for _, id := range []domain.CallID{"call-1", "call-2", "call-3"} {
		seedCall(t, store, id, "alice", "bob")
	}

	assert.Equal(t, 2, invites, "invites beyond the burst must be shed")
}

func TestUnsubscribeFromCallIsIdempotent(t *testing.T) {
	mgr, store, bus := newTestManager(t, Config{})
	mgr.Initialize("alice")
	seedCall(t, store, "call-1", "alice", "bob")

	var candidates int
	require.NoError(t, mgr.SubscribeToCall(context.Background(), "call-1", ports.CallHandlers{
		OnCandidate: func(domain.Candidate) { candidates++ },
	}))

	mgr.UnsubscribeFromCall("call-1")
	mgr.UnsubscribeFromCall("call-1")
	mgr.UnsubscribeFromCall("call-unknown")

	require.NoError(t, bus.Publish(context.Background(), domain.SignalEnvelope{
		CallID:    "call-1",
		SenderID:  "bob",
		Candidate: &domain.Candidate{Candidate: "candidate:1"},
	}))
	assert.Zero(t, candidates)
}

func TestSendCandidateStampsSender(t *testing.T) {
	mgr, _, bus := newTestManager(t, Config{})
	mgr.Initialize("alice")

	var got domain.SignalEnvelope
	_, err := bus.Subscribe(context.Background(), "call-1", func(env domain.SignalEnvelope) {
		got = env
	})
	require.NoError(t, err)

	require.NoError(t, mgr.SendCandidate(context.Background(), "call-1",
		domain.Candidate{Candidate: "candidate:1"}, "bob"))

	assert.Equal(t, domain.UserID("alice"), got.SenderID)
	assert.Equal(t, domain.UserID("bob"), got.ReceiverID)
	require.NotNil(t, got.Candidate)
	assert.False(t, got.Timestamp.IsZero())
}

func TestCloseReleasesEverything(t *testing.T) {
	mgr, store, bus := newTestManager(t, Config{})
	mgr.Initialize("bob")
	seedCall(t, store, "call-1", "alice", "bob")

	var candidates, invites int
	require.NoError(t, mgr.SubscribeToCall(context.Background(), "call-1", ports.CallHandlers{
		OnCandidate: func(domain.Candidate) { candidates++ },
	}))
	require.NoError(t, mgr.SubscribeInbound(context.Background(), func(*domain.Call) { invites++ }))

	require.NoError(t, mgr.Close())

	require.NoError(t, bus.Publish(context.Background(), domain.SignalEnvelope{
		CallID:    "call-1",
		SenderID:  "alice",
		Candidate: &domain.Candidate{Candidate: "candidate:1"},
	}))
	seedCall(t, store, "call-2", "alice", "bob")

	assert.Zero(t, candidates)
	assert.Zero(t, invites)
}
