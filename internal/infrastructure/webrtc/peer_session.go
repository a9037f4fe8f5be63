package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config is the transport-layer configuration shared by every session.
type Config struct {
	ICEServers []string
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// SessionFactory builds peer sessions on a shared API instance so the
// ephemeral port range is claimed once per process.
type SessionFactory struct {
	config  Config
	api     *webrtc.API
	metrics ports.CallMetrics
	logger  *zap.SugaredLogger
}

// NewSessionFactory creates the factory.
func NewSessionFactory(config Config, metrics ports.CallMetrics, logger *zap.SugaredLogger) *SessionFactory {
	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max)
	}
	return &SessionFactory{
		config:  config,
		api:     webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		metrics: metrics,
		logger:  logger,
	}
}

// NewSession creates a fresh peer connection. Reconnects discard the
// old session and call this again.
func (f *SessionFactory) NewSession() (ports.PeerSession, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(f.config.ICEServers))
	for _, url := range f.config.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   iceServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := &peerSession{
		pc:      pc,
		metrics: f.metrics,
		logger:  f.logger,
	}
	pc.OnTrack(session.handleRemoteTrack)
	pc.OnICECandidate(session.handleLocalCandidate)
	pc.OnConnectionStateChange(session.handleConnectionState)
	return session, nil
}

// peerSession wraps one peer connection for a two-party call.
type peerSession struct {
	pc      *webrtc.PeerConnection
	metrics ports.CallMetrics
	logger  *zap.SugaredLogger

	mu                sync.RWMutex
	onCandidate       func(domain.Candidate)
	onStateChange     func(domain.ConnectionState)
	onRemoteStream    func()
	remoteDescription bool

	remoteOnce sync.Once
	closeOnce  sync.Once
}

func (s *peerSession) AttachLocalTracks(media ports.LocalMedia) error {
	for _, track := range media.Tracks() {
		sender, err := s.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add local track %s: %w", track.ID(), err)
		}
		go s.drainSenderRTCP(sender)
	}
	return nil
}

// drainSenderRTCP reads receiver reports for our outgoing tracks. The
// read also keeps interceptor feedback flowing.
func (s *peerSession) drainSenderRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		s.recordQuality(packets)
	}
}

// recordQuality extracts loss and jitter from receiver reports. The
// numbers feed the debug log only; alerting works off the call
// counters, not per-packet stats.
func (s *peerSession) recordQuality(packets []rtcp.Packet) {
	for _, packet := range packets {
		report, ok := packet.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, block := range report.Reports {
			fractionLost := float64(block.FractionLost) / 255.0
			if block.Delay != 0 {
				rtt := time.Duration(block.Delay) * time.Second / 65536
				s.metrics.RecordSignalLatency(rtt.Seconds())
			}
			s.logger.Debugw("remote receiver report",
				"ssrc", block.SSRC,
				"fraction_lost", fractionLost,
				"jitter", block.Jitter,
			)
		}
	}
}

func (s *peerSession) handleRemoteTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	s.logger.Infow("remote track started",
		"track_id", track.ID(),
		"codec", track.Codec().MimeType,
	)
	go s.drainReceiverRTCP(receiver)

	buf := make([]byte, 1500) // MTU size
	pkt := &rtp.Packet{}
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			s.logger.Debugw("remote track closed", "track_id", track.ID(), "error", err)
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Warnw("failed to unmarshal RTP packet", "track_id", track.ID(), "error", err)
			continue
		}
		// First media packet is the playback-ready signal.
		s.remoteOnce.Do(func() {
			s.mu.RLock()
			fn := s.onRemoteStream
			s.mu.RUnlock()
			if fn != nil {
				fn()
			}
		})
	}
}

func (s *peerSession) drainReceiverRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			return
		}
		s.recordQuality(packets)
	}
}

func (s *peerSession) handleLocalCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		// End-of-gathering marker, nothing to exchange.
		return
	}
	init := candidate.ToJSON()

	s.mu.RLock()
	fn := s.onCandidate
	s.mu.RUnlock()
	if fn != nil {
		fn(domain.Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	}
}

func (s *peerSession) handleConnectionState(state webrtc.PeerConnectionState) {
	s.logger.Infow("peer connection state changed", "connection_state", state)

	s.mu.RLock()
	fn := s.onStateChange
	s.mu.RUnlock()
	if fn != nil {
		fn(mapConnectionState(state))
	}
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnectionNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	default:
		return domain.ConnectionClosed
	}
}

func (s *peerSession) CreateOffer(ctx context.Context, iceRestart bool) (domain.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}

	offer, err := s.pc.CreateOffer(opts)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local offer: %w", err)
	}
	return domain.SessionDescription{Type: "offer", SDP: offer.SDP}, nil
}

func (s *peerSession) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to set local answer: %w", err)
	}
	return domain.SessionDescription{Type: "answer", SDP: answer.SDP}, nil
}

func (s *peerSession) SetRemoteDescription(desc domain.SessionDescription) error {
	sdpType := webrtc.SDPTypeOffer
	if desc.Type == "answer" {
		sdpType = webrtc.SDPTypeAnswer
	}
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("failed to set remote %s: %w", desc.Type, err)
	}

	s.mu.Lock()
	s.remoteDescription = true
	s.mu.Unlock()
	return nil
}

func (s *peerSession) AddCandidate(cand domain.Candidate) error {
	if !s.HasRemoteDescription() {
		return fmt.Errorf("remote description not set")
	}
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add candidate: %w", err)
	}
	return nil
}

func (s *peerSession) HasRemoteDescription() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteDescription
}

func (s *peerSession) OnCandidate(fn func(domain.Candidate)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

func (s *peerSession) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	s.mu.Lock()
	s.onStateChange = fn
	s.mu.Unlock()
}

func (s *peerSession) OnRemoteStream(fn func()) {
	s.mu.Lock()
	s.onRemoteStream = fn
	s.mu.Unlock()
}

func (s *peerSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pc.Close()
	})
	return err
}

var (
	_ ports.PeerSessionFactory = (*SessionFactory)(nil)
	_ ports.PeerSession        = (*peerSession)(nil)
)
