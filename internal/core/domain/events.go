package domain

// Event is the closed set of notifications the call service emits to
// its registered sink. Consumers switch on the concrete type.
type Event interface {
	isEvent()
}

// ConnectionStateChanged reports a transport connection state change.
type ConnectionStateChanged struct {
	CallID CallID
	State  ConnectionState
}

// RemoteStreamReady fires once the first remote media track arrives.
type RemoteStreamReady struct {
	CallID CallID
}

// CallEventKind names a call-level lifecycle notification.
type CallEventKind string

const (
	CallAnswered  CallEventKind = "answered"
	CallRejected  CallEventKind = "rejected"
	CallCancelled CallEventKind = "cancelled"
	CallMissed    CallEventKind = "missed"
	CallEnded     CallEventKind = "ended"
)

// CallLifecycle reports a lifecycle transition observed on the shared
// call row, including transitions driven by the peer.
type CallLifecycle struct {
	CallID CallID
	Kind   CallEventKind
	Status CallStatus
}

// AudioRouteChanged reports a speaker-routing change.
type AudioRouteChanged struct {
	CallID CallID
	Route  AudioRoute
}

func (ConnectionStateChanged) isEvent() {}
func (RemoteStreamReady) isEvent()      {}
func (CallLifecycle) isEvent()          {}
func (AudioRouteChanged) isEvent()      {}
