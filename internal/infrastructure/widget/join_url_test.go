package widget

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildJoinURL(t *testing.T) {
	builder := NewJoinURLBuilder("https://meet.example.com")

	raw, err := builder.Build("call-abc123", "Alice")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "meet.example.com", parsed.Host)
	assert.Equal(t, "/call-abc123", parsed.Path)

	query := parsed.Query()
	assert.Equal(t, "false", query.Get("config.prejoinPageEnabled"))
	assert.Equal(t, "true", query.Get("config.disableDialIn"))
	assert.Equal(t, "false", query.Get("config.startWithAudioMuted"))
	assert.Equal(t, "true", query.Get("config.startWithVideoMuted"))
	assert.Equal(t, "Alice", query.Get("userInfo.displayName"))
}

func TestBuildJoinURLWithoutDisplayName(t *testing.T) {
	builder := NewJoinURLBuilder("https://meet.example.com")

	raw, err := builder.Build("call-abc123", "")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.False(t, parsed.Query().Has("userInfo.displayName"))
}

func TestBuildJoinURLRejectsBadBase(t *testing.T) {
	builder := NewJoinURLBuilder("://broken")

	_, err := builder.Build("call-abc123", "Alice")
	assert.Error(t, err)
}
