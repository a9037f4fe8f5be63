package domain

import "time"

type (
	CallID   string
	UserID   string
	RoomName string
)

// CallStatus is the lifecycle state of a call row. Values are stored
// verbatim, keep them stable.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusRejected  CallStatus = "rejected"
	CallStatusCancelled CallStatus = "cancelled"
	CallStatusMissed    CallStatus = "missed"
)

// MediaKind selects which local devices a call acquires.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// AudioRoute is the remote-audio playback target.
type AudioRoute string

const (
	RouteEarpiece AudioRoute = "earpiece"
	RouteSpeaker  AudioRoute = "speaker"
)

// Call is the shared persisted record of one call. Both parties mutate
// it; CallerID/ReceiverID are immutable after creation.
type Call struct {
	ID          CallID     `json:"id"`
	CallerID    UserID     `json:"caller_id"`
	ReceiverID  UserID     `json:"receiver_id"`
	RoomName    RoomName   `json:"room_name"`
	Status      CallStatus `json:"status"`
	Media       MediaKind  `json:"media"`
	AudioRoute  AudioRoute `json:"audio_route,omitempty"`
	SDPOffer    string     `json:"sdp_offer,omitempty"`
	SDPAnswer   string     `json:"sdp_answer,omitempty"`
	InitiatedAt time.Time  `json:"initiated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Duration    int64      `json:"duration,omitempty"` // seconds
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Peer returns the other party's id from self's point of view.
func (c *Call) Peer(self UserID) UserID {
	if c.CallerID == self {
		return c.ReceiverID
	}
	return c.CallerID
}

// IsTerminal reports whether the status accepts no further transitions.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusRejected, CallStatusCancelled, CallStatusMissed:
		return true
	}
	return false
}

// legal transitions of the call state machine
var transitions = map[CallStatus][]CallStatus{
	CallStatusRinging: {CallStatusActive, CallStatusRejected, CallStatusCancelled, CallStatusMissed},
	CallStatusActive:  {CallStatusEnded},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to CallStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ComputeDuration derives call duration in whole seconds at end of
// call. Falls back to initiatedAt when the call never started and
// clamps negative results (clock skew between writers) to zero.
func ComputeDuration(initiatedAt time.Time, startedAt *time.Time, endedAt time.Time) int64 {
	from := initiatedAt
	if startedAt != nil && !startedAt.IsZero() {
		from = *startedAt
	}
	d := int64(endedAt.Sub(from).Seconds())
	if d < 0 {
		return 0
	}
	return d
}
