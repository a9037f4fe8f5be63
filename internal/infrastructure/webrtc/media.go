package webrtc

import (
	"context"
	"fmt"
	"sync"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

// Permissions models which device classes the environment lets us
// capture from. A refused class surfaces domain.ErrPermissionDenied at
// acquisition time, exactly like a rejected browser prompt.
type Permissions struct {
	Audio bool
	Video bool
}

// StaticMediaSource produces RTP-fed local tracks. The capture
// pipeline that writes samples into them lives outside this package;
// the source only owns track lifecycle and permission checks.
type StaticMediaSource struct {
	permissions Permissions
}

// NewStaticMediaSource creates a source with the given permissions.
func NewStaticMediaSource(permissions Permissions) *StaticMediaSource {
	return &StaticMediaSource{permissions: permissions}
}

func (s *StaticMediaSource) Acquire(ctx context.Context, kind domain.MediaKind) (ports.LocalMedia, error) {
	if !s.permissions.Audio {
		return nil, domain.ErrPermissionDenied
	}
	if kind == domain.MediaVideo && !s.permissions.Video {
		return nil, domain.ErrPermissionDenied
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"ringlink-audio",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	tracks := []webrtc.TrackLocal{audioTrack}
	if kind == domain.MediaVideo {
		videoTrack, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video",
			"ringlink-video",
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create video track: %w", err)
		}
		tracks = append(tracks, videoTrack)
	}

	return &localMedia{tracks: tracks, audioEnabled: true}, nil
}

// localMedia is one acquired track set, owned by a single call.
type localMedia struct {
	mu           sync.Mutex
	tracks       []webrtc.TrackLocal
	audioEnabled bool
	closed       bool
}

func (m *localMedia) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]webrtc.TrackLocal, len(m.tracks))
	copy(out, m.tracks)
	return out
}

// SetAudioEnabled flips the capture gate. The writer feeding the audio
// track checks this before pushing samples.
func (m *localMedia) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioEnabled = enabled
}

func (m *localMedia) AudioEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioEnabled
}

func (m *localMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.tracks = nil
	return nil
}

var (
	_ ports.MediaSource = (*StaticMediaSource)(nil)
	_ ports.LocalMedia  = (*localMedia)(nil)
)
