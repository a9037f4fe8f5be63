package widget

import (
	"fmt"
	"net/url"

	"ringlink/internal/core/domain"
)

// JoinURLBuilder constructs the hosted-widget join URL for the iframe
// call paths. The widget owns the media there; our side only embeds a
// correctly parameterized URL and tracks status via the call row.
type JoinURLBuilder struct {
	baseURL string
}

// NewJoinURLBuilder creates a builder on the conferencing base URL,
// e.g. "https://meet.example.com".
func NewJoinURLBuilder(baseURL string) *JoinURLBuilder {
	return &JoinURLBuilder{baseURL: baseURL}
}

// Build returns the join URL for room. The widget opens straight into
// the call: prejoin screen skipped, phone dial-in hidden, microphone
// on and camera off preselected.
func (b *JoinURLBuilder) Build(room domain.RoomName, displayName string) (string, error) {
	base, err := url.Parse(b.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid widget base URL %q: %w", b.baseURL, err)
	}
	joined, err := base.Parse(string(room))
	if err != nil {
		return "", fmt.Errorf("invalid room name %q: %w", room, err)
	}

	query := joined.Query()
	query.Set("config.prejoinPageEnabled", "false")
	query.Set("config.disableDialIn", "true")
	query.Set("config.startWithAudioMuted", "false")
	query.Set("config.startWithVideoMuted", "true")
	if displayName != "" {
		query.Set("userInfo.displayName", displayName)
	}
	joined.RawQuery = query.Encode()

	return joined.String(), nil
}
