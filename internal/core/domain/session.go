package domain

import "time"

// SessionDescription is an opaque serialized media-session proposal.
// Type is "offer" or "answer"; SDP is carried verbatim.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is one discovered connectivity path endpoint. Exchanged
// over the ephemeral side channel, never persisted.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// SignalEnvelope is the side-channel broadcast payload.
type SignalEnvelope struct {
	CallID     CallID     `json:"call_id"`
	SenderID   UserID     `json:"sender_id"`
	ReceiverID UserID     `json:"receiver_id"`
	Candidate  *Candidate `json:"candidate,omitempty"`
	Event      string     `json:"event,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ConnectionState mirrors the transport-layer connection lifecycle.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)
