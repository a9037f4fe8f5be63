package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"
	"ringlink/pkg/retry"
	"ringlink/pkg/tracing"

	"go.uber.org/zap"
)

// Config tunes the call lifecycle timers.
type Config struct {
	RingTimeout       time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func (c *Config) applyDefaults() {
	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 3
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
}

type role int

const (
	roleCaller role = iota
	roleReceiver
)

// activeCall is the in-memory state of the one call this service
// instance is driving. All fields are guarded by CallService.mu.
type activeCall struct {
	id            domain.CallID
	peer          domain.UserID
	role          role
	media         domain.MediaKind
	status        domain.CallStatus
	session       ports.PeerSession
	local         ports.LocalMedia
	pending       []domain.Candidate
	remoteSet     bool
	speakerOn     bool
	answered      bool
	connected     bool
	reconnecting  bool
	appliedOffer  string
	appliedAnswer string
	ringTimer     *time.Timer
	setupStart    time.Time
	initiatedAt   time.Time
	startedAt     *time.Time
}

// CallService owns the peer connection, the local media and the call
// lifecycle for at most one call at a time. One instance per session
// controller; construct, exercise, discard.
type CallService struct {
	store    ports.CallRepository
	signals  ports.SignalManager
	media    ports.MediaSource
	sessions ports.PeerSessionFactory
	metrics  ports.CallMetrics
	config   Config
	logger   *zap.SugaredLogger

	mu          sync.Mutex
	userID      domain.UserID
	initialized bool
	sink        ports.EventSink
	current     *activeCall
}

// NewCallService wires the service. metrics may be a noop collector
// but never nil.
func NewCallService(
	store ports.CallRepository,
	signals ports.SignalManager,
	media ports.MediaSource,
	sessions ports.PeerSessionFactory,
	metrics ports.CallMetrics,
	config Config,
	logger *zap.SugaredLogger,
) *CallService {
	config.applyDefaults()
	return &CallService{
		store:    store,
		signals:  signals,
		media:    media,
		sessions: sessions,
		metrics:  metrics,
		config:   config,
		logger:   logger,
	}
}

// SetEventSink registers the single event consumer. Replaces any
// previously registered sink.
func (s *CallService) SetEventSink(sink ports.EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *CallService) emit(event domain.Event) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.HandleCallEvent(event)
	}
}

// Initialize binds the service to an authenticated identity. Must be
// called before any other operation. Idempotent.
func (s *CallService) Initialize(userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	s.userID = userID
	s.initialized = true
	s.signals.Initialize(userID)
	return nil
}

// InCall reports whether a call is currently in progress.
func (s *CallService) InCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// InitiateCall places an outbound call to peer. Resources acquired
// before a failing step are released; a row persisted before the
// failure stays ringing until the peer or the ring timeout resolves it.
func (s *CallService) InitiateCall(ctx context.Context, peer domain.UserID, kind domain.MediaKind) (*domain.Call, error) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil, domain.ErrNotInitialized
	}
	if peer == s.userID {
		s.mu.Unlock()
		return nil, domain.ErrSelfCall
	}
	if s.current != nil {
		s.mu.Unlock()
		return nil, domain.ErrAlreadyInCall
	}
	ac := &activeCall{
		role:       roleCaller,
		peer:       peer,
		media:      kind,
		status:     domain.CallStatusRinging,
		setupStart: time.Now(),
	}
	s.current = ac
	self := s.userID
	s.mu.Unlock()

	call, err := s.setupOutbound(ctx, ac, self, peer, kind)
	if err != nil {
		s.abortSetup(ac)
		return nil, err
	}
	return call, nil
}

func (s *CallService) setupOutbound(ctx context.Context, ac *activeCall, self, peer domain.UserID, kind domain.MediaKind) (*domain.Call, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "initiate", "")
	defer span.End()

	local, err := s.media.Acquire(ctx, kind)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	now := time.Now()
	call := &domain.Call{
		CallerID:    self,
		ReceiverID:  peer,
		Status:      domain.CallStatusRinging,
		Media:       kind,
		AudioRoute:  domain.RouteEarpiece,
		InitiatedAt: now,
	}

	s.mu.Lock()
	ac.local = local
	ac.initiatedAt = now
	s.mu.Unlock()

	// The store assigns the id and room name on insert.
	if err := s.store.Create(ctx, call); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	id := call.ID
	span.SetAttributes(tracing.CallIDKey.String(string(id)))

	s.mu.Lock()
	ac.id = id
	s.mu.Unlock()

	session, err := s.buildSession(id, peer, local)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	offer, err := session.CreateOffer(ctx, false)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if err := s.signals.SendOffer(ctx, id, offer, peer); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if err := s.signals.SubscribeToCall(ctx, id, s.callHandlers(id)); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	s.mu.Lock()
	ac.ringTimer = time.AfterFunc(s.config.RingTimeout, func() {
		s.handleRingTimeout(id)
	})
	s.mu.Unlock()

	s.metrics.RecordCallStarted(kind)
	s.logger.Infow("call initiated",
		"call_id", id,
		"receiver_id", peer,
		"media", kind,
	)
	return call, nil
}

// buildSession creates a peer session, attaches the local tracks and
// wires the transport callbacks. Outbound candidates are forwarded the
// moment they are generated; none are buffered locally.
func (s *CallService) buildSession(id domain.CallID, peer domain.UserID, local ports.LocalMedia) (ports.PeerSession, error) {
	session, err := s.sessions.NewSession()
	if err != nil {
		return nil, err
	}
	if err := session.AttachLocalTracks(local); err != nil {
		session.Close()
		return nil, err
	}

	session.OnCandidate(func(cand domain.Candidate) {
		if err := s.signals.SendCandidate(context.Background(), id, cand, peer); err != nil {
			s.logger.Warnw("failed to send candidate", "call_id", id, "error", err)
		}
	})
	session.OnConnectionStateChange(func(state domain.ConnectionState) {
		s.handleConnectionState(id, state)
	})
	session.OnRemoteStream(func() {
		s.emit(domain.RemoteStreamReady{CallID: id})
	})

	s.mu.Lock()
	if ac := s.current; ac != nil && (ac.id == id || ac.id == "") {
		ac.session = session
	}
	s.mu.Unlock()
	return session, nil
}

// abortSetup releases whatever a failed setup acquired. The ringing
// row, if one was persisted, is left for the ring timeout to resolve.
func (s *CallService) abortSetup(ac *activeCall) {
	s.mu.Lock()
	if s.current == ac {
		s.current = nil
	}
	id := ac.id
	session := ac.session
	local := ac.local
	timer := ac.ringTimer
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if session != nil {
		session.Close()
	}
	if local != nil {
		local.Close()
	}
	if id != "" {
		s.signals.UnsubscribeFromCall(id)
	}
}

// AnswerCall accepts the inbound call callID. The signaling
// subscription opens before the session exists, so early candidates
// land in the buffer instead of being lost.
func (s *CallService) AnswerCall(ctx context.Context, callID domain.CallID) (*domain.Call, error) {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil, domain.ErrNotInitialized
	}
	if s.current != nil {
		s.mu.Unlock()
		return nil, domain.ErrAlreadyInCall
	}
	ac := &activeCall{
		id:         callID,
		role:       roleReceiver,
		status:     domain.CallStatusRinging,
		setupStart: time.Now(),
	}
	s.current = ac
	self := s.userID
	s.mu.Unlock()

	call, err := s.setupInbound(ctx, ac, self, callID)
	if err != nil {
		s.abortSetup(ac)
		return nil, err
	}
	return call, nil
}

func (s *CallService) setupInbound(ctx context.Context, ac *activeCall, self domain.UserID, callID domain.CallID) (*domain.Call, error) {
	ctx, span := tracing.TraceCallOperation(ctx, "answer", string(callID))
	defer span.End()

	call, err := s.store.GetByID(ctx, callID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	if call.SDPOffer == "" {
		tracing.RecordError(ctx, domain.ErrMissingOffer)
		return nil, domain.ErrMissingOffer
	}

	s.mu.Lock()
	ac.peer = call.Peer(self)
	ac.media = call.Media
	ac.initiatedAt = call.InitiatedAt
	ac.appliedOffer = call.SDPOffer
	s.mu.Unlock()

	if err := s.signals.SubscribeToCall(ctx, callID, s.callHandlers(callID)); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	local, err := s.media.Acquire(ctx, call.Media)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	s.mu.Lock()
	ac.local = local
	s.mu.Unlock()

	session, err := s.buildSession(callID, ac.peer, local)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	if err := session.SetRemoteDescription(domain.SessionDescription{Type: "offer", SDP: call.SDPOffer}); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	s.flushPending(callID)

	answer, err := session.CreateAnswer(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	s.mu.Lock()
	ac.appliedAnswer = answer.SDP
	s.mu.Unlock()

	if err := s.signals.SendAnswer(ctx, callID, answer, ac.peer); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	updated, err := s.signals.UpdateCallStatus(ctx, callID, domain.CallStatusActive)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	s.mu.Lock()
	ac.status = domain.CallStatusActive
	ac.startedAt = updated.StartedAt
	s.mu.Unlock()

	s.metrics.RecordCallStarted(call.Media)
	s.logger.Infow("call answered", "call_id", callID, "caller_id", call.CallerID)
	return updated, nil
}

// DeclineCall rejects the inbound ringing call without acquiring any
// local resources.
func (s *CallService) DeclineCall(ctx context.Context, callID domain.CallID) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return domain.ErrNotInitialized
	}
	s.mu.Unlock()

	ctx, span := tracing.TraceCallOperation(ctx, "decline", string(callID))
	defer span.End()

	call, err := s.signals.UpdateCallStatus(ctx, callID, domain.CallStatusRejected)
	if err != nil {
		tracing.RecordError(ctx, err)
		return err
	}
	s.metrics.RecordCallFinished(domain.CallStatusRejected, 0)
	s.emit(domain.CallLifecycle{CallID: callID, Kind: domain.CallRejected, Status: call.Status})
	return nil
}

// CancelCall withdraws the current outbound call while it is still
// ringing.
func (s *CallService) CancelCall(ctx context.Context) error {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.role != roleCaller || ac.status != domain.CallStatusRinging {
		s.mu.Unlock()
		return domain.ErrNotInCall
	}
	id := ac.id
	s.mu.Unlock()

	ctx, span := tracing.TraceCallOperation(ctx, "cancel", string(id))
	defer span.End()

	_, err := s.signals.UpdateCallStatus(ctx, id, domain.CallStatusCancelled)
	// Teardown still finding the call current means the terminal row
	// event was not observed here; report the outcome locally.
	if removed := s.teardownIfCurrent(id); removed {
		s.metrics.RecordCallFinished(domain.CallStatusCancelled, 0)
		s.emit(domain.CallLifecycle{CallID: id, Kind: domain.CallCancelled, Status: domain.CallStatusCancelled})
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("failed to persist call cancellation", "call_id", id, "error", err)
	}
	return err
}

// ToggleMute flips every local audio track and returns the new muted
// state. Returns false without side effects when no local stream
// exists. Never renegotiates.
func (s *CallService) ToggleMute() bool {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.local == nil {
		s.mu.Unlock()
		return false
	}
	local := ac.local
	s.mu.Unlock()

	enabled := local.AudioEnabled()
	local.SetAudioEnabled(!enabled)
	muted := enabled
	s.logger.Debugw("mute toggled", "call_id", ac.id, "muted", muted)
	return muted
}

// ToggleSpeakerRouting re-routes remote audio playback and persists
// the routing hint. On persistence failure the toggle is rolled back
// and the prior value returned.
func (s *CallService) ToggleSpeakerRouting(ctx context.Context) (bool, error) {
	s.mu.Lock()
	ac := s.current
	if ac == nil {
		s.mu.Unlock()
		return false, domain.ErrNotInCall
	}
	id := ac.id
	prior := ac.speakerOn
	next := !prior
	ac.speakerOn = next
	s.mu.Unlock()

	route := domain.RouteEarpiece
	if next {
		route = domain.RouteSpeaker
	}
	if err := s.store.SetAudioRoute(ctx, id, route); err != nil {
		s.mu.Lock()
		if s.current == ac {
			ac.speakerOn = prior
		}
		s.mu.Unlock()
		s.logger.Warnw("failed to persist audio route, rolled back",
			"call_id", id,
			"error", err,
		)
		return prior, err
	}

	s.emit(domain.AudioRouteChanged{CallID: id, Route: route})
	return next, nil
}

// EndCall finishes the current call. Local resources are released
// unconditionally, even when the persistence write fails; the write
// error is returned after teardown completes. No-op without a call.
func (s *CallService) EndCall(ctx context.Context) error {
	s.mu.Lock()
	ac := s.current
	if ac == nil {
		s.mu.Unlock()
		return nil
	}
	id := ac.id
	status := ac.status
	callRole := ac.role
	initiatedAt := ac.initiatedAt
	startedAt := ac.startedAt
	s.mu.Unlock()

	ctx, span := tracing.TraceCallOperation(ctx, "end", string(id))
	defer span.End()

	target := domain.CallStatusEnded
	if status == domain.CallStatusRinging {
		if callRole == roleCaller {
			target = domain.CallStatusCancelled
		} else {
			target = domain.CallStatusRejected
		}
	}

	updated, err := s.signals.UpdateCallStatus(ctx, id, target)

	// Resource release is never conditioned on the write outcome. When
	// teardown still finds the call current, the terminal row event was
	// not observed here and the outcome is reported locally.
	if removed := s.teardownIfCurrent(id); removed {
		duration := domain.ComputeDuration(initiatedAt, startedAt, time.Now())
		if updated != nil {
			duration = updated.Duration
		}
		s.metrics.RecordCallFinished(target, duration)
		s.emit(domain.CallLifecycle{CallID: id, Kind: kindForStatus(target), Status: target})
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Warnw("failed to persist end of call", "call_id", id, "error", err)
	}
	return err
}

// Close ends any call in progress and releases the signaling layer.
func (s *CallService) Close() error {
	if err := s.EndCall(context.Background()); err != nil {
		s.logger.Warnw("best-effort end on close failed", "error", err)
	}
	return s.signals.Close()
}

// callHandlers builds the handler set for the per-call subscription.
func (s *CallService) callHandlers(id domain.CallID) ports.CallHandlers {
	return ports.CallHandlers{
		OnOffer: func(desc domain.SessionDescription) {
			s.handleRemoteOffer(id, desc)
		},
		OnAnswer: func(desc domain.SessionDescription) {
			s.handleRemoteAnswer(id, desc)
		},
		OnCandidate: func(cand domain.Candidate) {
			s.handleInboundCandidate(id, cand)
		},
		OnCallUpdated: func(call *domain.Call) {
			s.handleRowUpdated(id, call)
		},
		OnCallEnded: func(call *domain.Call) {
			s.handleRowTerminal(id, call)
		},
	}
}

// handleRemoteOffer reacts to a new or republished offer. Only the
// receiver answers offers; a republished offer means the caller is
// doing an ICE restart.
func (s *CallService) handleRemoteOffer(id domain.CallID, desc domain.SessionDescription) {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.id != id || ac.role != roleReceiver || desc.SDP == ac.appliedOffer {
		s.mu.Unlock()
		return
	}
	ac.appliedOffer = desc.SDP
	ac.remoteSet = false
	session := ac.session
	peer := ac.peer
	s.mu.Unlock()

	if session == nil {
		return
	}
	if err := session.SetRemoteDescription(desc); err != nil {
		s.logger.Warnw("failed to apply restarted offer", "call_id", id, "error", err)
		return
	}
	s.flushPending(id)

	ctx := context.Background()
	answer, err := session.CreateAnswer(ctx)
	if err != nil {
		s.logger.Warnw("failed to answer restarted offer", "call_id", id, "error", err)
		return
	}
	s.mu.Lock()
	if s.current == ac {
		ac.appliedAnswer = answer.SDP
	}
	s.mu.Unlock()
	if err := s.signals.SendAnswer(ctx, id, answer, peer); err != nil {
		s.logger.Warnw("failed to republish answer", "call_id", id, "error", err)
	}
}

// handleRemoteAnswer applies the peer's answer on the caller side and
// flushes any candidates buffered while it was missing.
func (s *CallService) handleRemoteAnswer(id domain.CallID, desc domain.SessionDescription) {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.id != id || ac.role != roleCaller || desc.SDP == ac.appliedAnswer {
		s.mu.Unlock()
		return
	}
	ac.appliedAnswer = desc.SDP
	session := ac.session
	s.mu.Unlock()

	if session == nil {
		return
	}
	if err := session.SetRemoteDescription(desc); err != nil {
		s.logger.Warnw("failed to apply answer", "call_id", id, "error", err)
		return
	}
	s.flushPending(id)
}

// handleInboundCandidate applies the candidate, or buffers it when the
// session is not yet eligible. Buffered candidates keep arrival order.
func (s *CallService) handleInboundCandidate(id domain.CallID, cand domain.Candidate) {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.id != id {
		s.mu.Unlock()
		return
	}
	if ac.session == nil || !ac.remoteSet {
		ac.pending = append(ac.pending, cand)
		s.mu.Unlock()
		s.metrics.RecordCandidateBuffered()
		return
	}
	session := ac.session
	s.mu.Unlock()

	if err := session.AddCandidate(cand); err != nil {
		s.logger.Warnw("failed to add candidate", "call_id", id, "error", err)
	}
}

// flushPending marks the session eligible and applies the buffered
// candidates in arrival order, each exactly once.
func (s *CallService) flushPending(id domain.CallID) {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.id != id {
		s.mu.Unlock()
		return
	}
	ac.remoteSet = true
	pending := ac.pending
	ac.pending = nil
	session := ac.session
	s.mu.Unlock()

	for _, cand := range pending {
		if err := session.AddCandidate(cand); err != nil {
			s.logger.Warnw("failed to add buffered candidate", "call_id", id, "error", err)
		}
	}
}

// handleRowUpdated tracks the shared row. The caller fires its
// answered notification exactly once, on the first active status.
func (s *CallService) handleRowUpdated(id domain.CallID, call *domain.Call) {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.id != id {
		s.mu.Unlock()
		return
	}
	ac.status = call.Status
	if call.StartedAt != nil {
		ac.startedAt = call.StartedAt
	}
	fireAnswered := ac.role == roleCaller && call.Status == domain.CallStatusActive && !ac.answered
	if fireAnswered {
		ac.answered = true
		if ac.ringTimer != nil {
			ac.ringTimer.Stop()
		}
	}
	s.mu.Unlock()

	if fireAnswered {
		s.emit(domain.CallLifecycle{CallID: id, Kind: domain.CallAnswered, Status: call.Status})
	}
}

// handleRowTerminal reacts to the row reaching a terminal status, no
// matter which party drove the transition. Local resources are torn
// down without further writes.
func (s *CallService) handleRowTerminal(id domain.CallID, call *domain.Call) {
	if removed := s.teardownIfCurrent(id); !removed {
		return
	}
	s.metrics.RecordCallFinished(call.Status, call.Duration)
	s.emit(domain.CallLifecycle{CallID: id, Kind: kindForStatus(call.Status), Status: call.Status})
	s.logger.Infow("call finished",
		"call_id", id,
		"status", call.Status,
		"duration_seconds", call.Duration,
	)
}

// handleRingTimeout marks an unanswered outbound call missed and tears
// the local view down.
func (s *CallService) handleRingTimeout(id domain.CallID) {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.id != id || ac.status != domain.CallStatusRinging {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Infow("ring timeout, marking call missed", "call_id", id)
	_, err := s.signals.UpdateCallStatus(context.Background(), id, domain.CallStatusMissed)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// The peer's answer won the race; the row handlers drive the
		// outcome for the now-active call.
		s.logger.Debugw("missed write lost to a concurrent transition", "call_id", id)
		return
	}
	if removed := s.teardownIfCurrent(id); removed {
		s.metrics.RecordCallFinished(domain.CallStatusMissed, 0)
		s.emit(domain.CallLifecycle{CallID: id, Kind: domain.CallMissed, Status: domain.CallStatusMissed})
	}
	if err != nil {
		s.logger.Warnw("failed to persist missed call", "call_id", id, "error", err)
	}
}

// handleConnectionState feeds the event stream and drives the
// reconnect loop on transport failure.
func (s *CallService) handleConnectionState(id domain.CallID, state domain.ConnectionState) {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.id != id {
		s.mu.Unlock()
		return
	}
	var setupSeconds float64
	if state == domain.ConnectionConnected {
		ac.reconnecting = false
		if !ac.connected {
			ac.connected = true
			setupSeconds = time.Since(ac.setupStart).Seconds()
		}
	}
	startReconnect := (state == domain.ConnectionFailed || state == domain.ConnectionDisconnected) &&
		!ac.reconnecting
	if startReconnect {
		ac.reconnecting = true
	}
	s.mu.Unlock()

	if setupSeconds > 0 {
		s.metrics.RecordSetupDuration(setupSeconds)
	}
	s.emit(domain.ConnectionStateChanged{CallID: id, State: state})

	if startReconnect {
		go s.reconnect(id)
	}
}

// reconnect rebuilds the session with a bounded number of attempts and
// a fixed delay between them. Exceeding the bound ends the call rather
// than retrying forever.
func (s *CallService) reconnect(id domain.CallID) {
	cfg := retry.Fixed(s.config.ReconnectAttempts, s.config.ReconnectDelay)
	err := retry.Do(context.Background(), cfg, func(ctx context.Context) error {
		s.metrics.RecordReconnectAttempt()
		return s.rebuildSession(ctx, id)
	})
	if err == nil {
		return
	}

	s.logger.Warnw("reconnect attempts exhausted, ending call", "call_id", id, "error", err)
	s.mu.Lock()
	stillCurrent := s.current != nil && s.current.id == id
	s.mu.Unlock()
	if stillCurrent {
		if endErr := s.EndCall(context.Background()); endErr != nil {
			s.logger.Warnw("failed to end call after reconnect failure", "call_id", id, "error", endErr)
		}
	}
}

// rebuildSession discards the failed session, builds a fresh one with
// the same local tracks and republishes an ICE-restart offer.
func (s *CallService) rebuildSession(ctx context.Context, id domain.CallID) error {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.id != id {
		s.mu.Unlock()
		return nil
	}
	old := ac.session
	local := ac.local
	peer := ac.peer
	ac.remoteSet = false
	ac.appliedAnswer = ""
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}

	session, err := s.buildSession(id, peer, local)
	if err != nil {
		return err
	}

	offer, err := session.CreateOffer(ctx, true)
	if err != nil {
		return err
	}
	return s.signals.SendOffer(ctx, id, offer, peer)
}

// teardownIfCurrent releases the peer session, the local tracks and
// the signaling subscription for id, exactly once. Reports whether id
// was still the current call.
func (s *CallService) teardownIfCurrent(id domain.CallID) bool {
	s.mu.Lock()
	ac := s.current
	if ac == nil || ac.id != id {
		s.mu.Unlock()
		return false
	}
	s.current = nil
	session := ac.session
	local := ac.local
	timer := ac.ringTimer
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if session != nil {
		session.Close()
	}
	if local != nil {
		local.Close()
	}
	s.signals.UnsubscribeFromCall(id)
	return true
}

func kindForStatus(status domain.CallStatus) domain.CallEventKind {
	switch status {
	case domain.CallStatusRejected:
		return domain.CallRejected
	case domain.CallStatusCancelled:
		return domain.CallCancelled
	case domain.CallStatusMissed:
		return domain.CallMissed
	default:
		return domain.CallEnded
	}
}
