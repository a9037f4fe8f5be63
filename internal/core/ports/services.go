package ports

import (
	"context"

	"ringlink/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// CallHandlers is the per-call handler set registered with the signal
// manager. Nil handlers are skipped.
type CallHandlers struct {
	OnOffer       func(domain.SessionDescription)
	OnAnswer      func(domain.SessionDescription)
	OnCandidate   func(domain.Candidate)
	OnCallUpdated func(*domain.Call)
	OnCallEnded   func(*domain.Call)
}

// SignalManager multiplexes durable (call row) and ephemeral
// (side channel) signaling by call id.
type SignalManager interface {
	// Initialize binds the local identity used to drop self-originated
	// side-channel events. Idempotent.
	Initialize(userID domain.UserID)

	// SubscribeToCall opens or reuses the subscription for callID.
	// Calling it twice for the same id must not create a second
	// underlying channel.
	SubscribeToCall(ctx context.Context, callID domain.CallID, handlers CallHandlers) error

	// SubscribeInbound delivers newly created ringing calls addressed
	// to the bound identity.
	SubscribeInbound(ctx context.Context, handler func(*domain.Call)) error

	SendOffer(ctx context.Context, callID domain.CallID, desc domain.SessionDescription, receiver domain.UserID) error
	SendAnswer(ctx context.Context, callID domain.CallID, desc domain.SessionDescription, receiver domain.UserID) error
	SendCandidate(ctx context.Context, callID domain.CallID, cand domain.Candidate, receiver domain.UserID) error

	// UpdateCallStatus performs the transition and computes the derived
	// timestamp and duration fields in one place.
	UpdateCallStatus(ctx context.Context, callID domain.CallID, to domain.CallStatus) (*domain.Call, error)

	// UnsubscribeFromCall releases the channel for callID. Idempotent;
	// releasing an unknown id is a no-op.
	UnsubscribeFromCall(callID domain.CallID)

	Close() error
}

// RowEvent is a change-feed notification about a call row.
type RowEvent struct {
	Kind string // "insert" or "update"
	Call *domain.Call
}

// ChangeFeed pushes call-row insert/update events to subscribers.
type ChangeFeed interface {
	// SubscribeCall filters on the call id.
	SubscribeCall(ctx context.Context, callID domain.CallID, handler func(RowEvent)) (func(), error)
	// SubscribeReceiver filters on receiver_id, for inbound-call detection.
	SubscribeReceiver(ctx context.Context, receiver domain.UserID, handler func(RowEvent)) (func(), error)
}

// SideChannel is the ephemeral broadcast path for latency-sensitive
// signaling payloads. Nothing published here is persisted.
type SideChannel interface {
	Publish(ctx context.Context, env domain.SignalEnvelope) error
	Subscribe(ctx context.Context, callID domain.CallID, handler func(domain.SignalEnvelope)) (func(), error)
}

// LocalMedia is an acquired set of local tracks, exclusively owned by
// the call service instance that acquired it.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// SetAudioEnabled flips every local audio track and reports the
	// resulting muted state.
	SetAudioEnabled(enabled bool)
	AudioEnabled() bool
	Close() error
}

// MediaSource acquires local media. Acquisition failure due to a
// refused device permission surfaces domain.ErrPermissionDenied.
type MediaSource interface {
	Acquire(ctx context.Context, kind domain.MediaKind) (LocalMedia, error)
}

// PeerSession wraps one transport-layer peer connection.
type PeerSession interface {
	AttachLocalTracks(media LocalMedia) error
	CreateOffer(ctx context.Context, iceRestart bool) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(desc domain.SessionDescription) error
	// AddCandidate requires the remote description to be set first;
	// premature candidates are the caller's to buffer.
	AddCandidate(cand domain.Candidate) error
	HasRemoteDescription() bool

	OnCandidate(fn func(domain.Candidate))
	OnConnectionStateChange(fn func(domain.ConnectionState))
	OnRemoteStream(fn func())

	Close() error
}

// PeerSessionFactory builds fresh peer sessions; reconnects discard
// the old session and request a new one.
type PeerSessionFactory interface {
	NewSession() (PeerSession, error)
}

// EventSink receives the call service's typed event stream. At most
// one sink is registered per service instance.
type EventSink interface {
	HandleCallEvent(event domain.Event)
}

// CallMetrics is implemented by the monitoring collector; a no-op
// implementation is used when metrics are disabled.
type CallMetrics interface {
	RecordCallStarted(media domain.MediaKind)
	RecordCallFinished(status domain.CallStatus, durationSeconds int64)
	RecordSetupDuration(seconds float64)
	RecordCandidateBuffered()
	RecordReconnectAttempt()
	RecordSignalLatency(seconds float64)
}
