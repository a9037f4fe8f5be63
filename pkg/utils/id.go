package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateCallID generates a unique call ID.
func GenerateCallID() string {
	return uuid.New().String()
}

// GenerateRoomName generates the media-session namespace identifier
// correlating a call with its transport room.
func GenerateRoomName(callID string) string {
	short := callID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("call-%s", short)
}

// GenerateClientID generates a unique identifier for a realtime
// client connection.
func GenerateClientID() string {
	return fmt.Sprintf("client-%s", uuid.New().String()[:13])
}
