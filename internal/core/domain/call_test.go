package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to CallStatus }{
		{CallStatusRinging, CallStatusActive},
		{CallStatusRinging, CallStatusRejected},
		{CallStatusRinging, CallStatusCancelled},
		{CallStatusRinging, CallStatusMissed},
		{CallStatusActive, CallStatusEnded},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s must be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to CallStatus }{
		{CallStatusRinging, CallStatusEnded},
		{CallStatusActive, CallStatusRejected},
		{CallStatusActive, CallStatusMissed},
		{CallStatusEnded, CallStatusActive},
		{CallStatusRejected, CallStatusRinging},
		{CallStatusCancelled, CallStatusEnded},
		{CallStatusMissed, CallStatusActive},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s must be illegal", tc.from, tc.to)
	}
}

func TestTerminalStatusesAreFinal(t *testing.T) {
	for _, status := range []CallStatus{CallStatusEnded, CallStatusRejected, CallStatusCancelled, CallStatusMissed} {
		assert.True(t, status.IsTerminal())
		for _, to := range []CallStatus{CallStatusRinging, CallStatusActive, CallStatusEnded} {
			assert.False(t, CanTransition(status, to))
		}
	}
	assert.False(t, CallStatusRinging.IsTerminal())
	assert.False(t, CallStatusActive.IsTerminal())
}

func TestComputeDuration(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	started := base.Add(10 * time.Second)

	assert.Equal(t, int64(35), ComputeDuration(base, &started, base.Add(45*time.Second)))

	// Never answered: falls back to initiated_at.
	assert.Equal(t, int64(45), ComputeDuration(base, nil, base.Add(45*time.Second)))

	zero := time.Time{}
	assert.Equal(t, int64(45), ComputeDuration(base, &zero, base.Add(45*time.Second)))

	// Clock skew between writers clamps to zero instead of going negative.
	assert.Equal(t, int64(0), ComputeDuration(base, &started, base.Add(5*time.Second)))
}

func TestPeer(t *testing.T) {
	call := &Call{CallerID: "alice", ReceiverID: "bob"}
	assert.Equal(t, UserID("bob"), call.Peer("alice"))
	assert.Equal(t, UserID("alice"), call.Peer("bob"))
}
