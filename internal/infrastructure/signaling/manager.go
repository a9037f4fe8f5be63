package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// subscription is the per-call handler set plus the underlying feed
// and side-channel handles. released guards double release.
type subscription struct {
	handlers  ports.CallHandlers
	cancelRow func()
	cancelSig func()
	release   sync.Once

	mu         sync.Mutex
	lastOffer  string
	lastAnswer string
	lastStatus domain.CallStatus
}

// Manager multiplexes durable and ephemeral signaling by call id. One
// underlying channel pair exists per subscribed call regardless of how
// many times SubscribeToCall is invoked for it.
type Manager struct {
	store  ports.CallRepository
	feed   ports.ChangeFeed
	side   ports.SideChannel
	logger *zap.SugaredLogger

	inviteRate  rate.Limit
	inviteBurst int

	mu            sync.Mutex
	userID        domain.UserID
	initialized   bool
	subs          map[domain.CallID]*subscription
	cancelInbound func()
	limiters      map[domain.UserID]*rate.Limiter
}

// Config tunes the manager.
type Config struct {
	InvitesPerMinute int
	InviteBurst      int
}

// NewManager creates a signaling manager over the given store, change
// feed and side channel.
func NewManager(store ports.CallRepository, feed ports.ChangeFeed, side ports.SideChannel, cfg Config, logger *zap.SugaredLogger) *Manager {
	if cfg.InvitesPerMinute <= 0 {
		cfg.InvitesPerMinute = 10
	}
	if cfg.InviteBurst <= 0 {
		cfg.InviteBurst = 3
	}
	return &Manager{
		store:       store,
		feed:        feed,
		side:        side,
		logger:      logger,
		inviteRate:  rate.Limit(float64(cfg.InvitesPerMinute) / 60.0),
		inviteBurst: cfg.InviteBurst,
		subs:        make(map[domain.CallID]*subscription),
		limiters:    make(map[domain.UserID]*rate.Limiter),
	}
}

// Initialize binds the local identity used for self-originated-event
// filtering. Idempotent; later calls are ignored.
func (m *Manager) Initialize(userID domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return
	}
	m.userID = userID
	m.initialized = true
}

// SubscribeToCall opens the subscription for callID, or keeps the
// existing one when called again for the same id.
func (m *Manager) SubscribeToCall(ctx context.Context, callID domain.CallID, handlers ports.CallHandlers) error {
	m.mu.Lock()
	if _, exists := m.subs[callID]; exists {
		m.mu.Unlock()
		m.logger.Debugw("call subscription already open", "call_id", callID)
		return nil
	}
	sub := &subscription{handlers: handlers}
	m.subs[callID] = sub
	self := m.userID
	m.mu.Unlock()

	cancelRow, err := m.feed.SubscribeCall(ctx, callID, func(event ports.RowEvent) {
		m.dispatchRow(sub, event)
	})
	if err != nil {
		m.dropSubscription(callID)
		return fmt.Errorf("failed to open change feed for call %s: %w", callID, err)
	}
	sub.cancelRow = cancelRow

	cancelSig, err := m.side.Subscribe(ctx, callID, func(env domain.SignalEnvelope) {
		// Drop echoes of our own broadcasts.
		if env.SenderID == self {
			return
		}
		m.dispatchSignal(sub, env)
	})
	if err != nil {
		cancelRow()
		m.dropSubscription(callID)
		return fmt.Errorf("failed to open side channel for call %s: %w", callID, err)
	}
	sub.cancelSig = cancelSig

	m.logger.Debugw("subscribed to call", "call_id", callID)
	return nil
}

// dispatchRow routes a row event to the registered handlers. Offer and
// answer handlers fire once per stored description; a changed SDP
// (ICE-restart republish) fires them again. Terminal statuses fire
// OnCallEnded once.
func (m *Manager) dispatchRow(sub *subscription, event ports.RowEvent) {
	call := event.Call
	if call == nil {
		return
	}

	sub.mu.Lock()
	newOffer := call.SDPOffer != "" && call.SDPOffer != sub.lastOffer
	if newOffer {
		sub.lastOffer = call.SDPOffer
	}
	newAnswer := call.SDPAnswer != "" && call.SDPAnswer != sub.lastAnswer
	if newAnswer {
		sub.lastAnswer = call.SDPAnswer
	}
	statusChanged := call.Status != sub.lastStatus
	sub.lastStatus = call.Status
	sub.mu.Unlock()

	if newOffer && sub.handlers.OnOffer != nil {
		sub.handlers.OnOffer(domain.SessionDescription{Type: "offer", SDP: call.SDPOffer})
	}
	if newAnswer && sub.handlers.OnAnswer != nil {
		sub.handlers.OnAnswer(domain.SessionDescription{Type: "answer", SDP: call.SDPAnswer})
	}
	if sub.handlers.OnCallUpdated != nil {
		sub.handlers.OnCallUpdated(call)
	}
	if statusChanged && call.Status.IsTerminal() && sub.handlers.OnCallEnded != nil {
		sub.handlers.OnCallEnded(call)
	}
}

func (m *Manager) dispatchSignal(sub *subscription, env domain.SignalEnvelope) {
	if env.Candidate != nil && sub.handlers.OnCandidate != nil {
		sub.handlers.OnCandidate(*env.Candidate)
	}
}

// SubscribeInbound delivers newly created ringing calls addressed to
// the bound identity. Invitation floods from a single caller are shed
// by a per-caller limiter.
func (m *Manager) SubscribeInbound(ctx context.Context, handler func(*domain.Call)) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return domain.ErrNotInitialized
	}
	if m.cancelInbound != nil {
		m.mu.Unlock()
		return nil
	}
	self := m.userID
	m.mu.Unlock()

	cancel, err := m.feed.SubscribeReceiver(ctx, self, func(event ports.RowEvent) {
		call := event.Call
		if call == nil || event.Kind != "insert" || call.Status != domain.CallStatusRinging {
			return
		}
		if !m.allowInvite(call.CallerID) {
			m.logger.Warnw("dropping invite, caller rate limited",
				"call_id", call.ID,
				"caller_id", call.CallerID,
			)
			return
		}
		handler(call)
	})
	if err != nil {
		return fmt.Errorf("failed to open inbound feed: %w", err)
	}

	m.mu.Lock()
	m.cancelInbound = cancel
	m.mu.Unlock()
	return nil
}

func (m *Manager) allowInvite(caller domain.UserID) bool {
	m.mu.Lock()
	limiter, exists := m.limiters[caller]
	if !exists {
		limiter = rate.NewLimiter(m.inviteRate, m.inviteBurst)
		m.limiters[caller] = limiter
	}
	m.mu.Unlock()
	return limiter.Allow()
}

// SendOffer persists the caller's session description into the call
// row. This is the durable path, written once per role per call.
func (m *Manager) SendOffer(ctx context.Context, callID domain.CallID, desc domain.SessionDescription, receiver domain.UserID) error {
	if _, err := m.store.SetOffer(ctx, callID, desc); err != nil {
		return fmt.Errorf("failed to store offer: %w", err)
	}
	m.logger.Debugw("offer stored", "call_id", callID, "receiver_id", receiver)
	return nil
}

// SendAnswer persists the receiver's session description. Fails with
// domain.ErrMissingOffer when no offer is stored for the call.
func (m *Manager) SendAnswer(ctx context.Context, callID domain.CallID, desc domain.SessionDescription, receiver domain.UserID) error {
	if _, err := m.store.SetAnswer(ctx, callID, desc); err != nil {
		return fmt.Errorf("failed to store answer: %w", err)
	}
	m.logger.Debugw("answer stored", "call_id", callID, "receiver_id", receiver)
	return nil
}

// SendCandidate broadcasts a connectivity candidate on the ephemeral
// side channel. Candidates are numerous and latency sensitive, they
// never touch the call row.
func (m *Manager) SendCandidate(ctx context.Context, callID domain.CallID, cand domain.Candidate, receiver domain.UserID) error {
	m.mu.Lock()
	self := m.userID
	m.mu.Unlock()

	env := domain.SignalEnvelope{
		CallID:     callID,
		SenderID:   self,
		ReceiverID: receiver,
		Candidate:  &cand,
		Timestamp:  time.Now(),
	}
	if err := m.side.Publish(ctx, env); err != nil {
		return fmt.Errorf("failed to publish candidate: %w", err)
	}
	return nil
}

// UpdateCallStatus performs the transition and is the single place
// computing the derived timestamp and duration fields.
func (m *Manager) UpdateCallStatus(ctx context.Context, callID domain.CallID, to domain.CallStatus) (*domain.Call, error) {
	now := time.Now()
	update := ports.StatusUpdate{}

	switch to {
	case domain.CallStatusActive:
		update.StartedAt = &now
	case domain.CallStatusEnded:
		call, err := m.store.GetByID(ctx, callID)
		if err != nil {
			return nil, err
		}
		duration := domain.ComputeDuration(call.InitiatedAt, call.StartedAt, now)
		update.EndedAt = &now
		update.Duration = &duration
	case domain.CallStatusRejected, domain.CallStatusCancelled, domain.CallStatusMissed:
		var zero int64
		update.EndedAt = &now
		update.Duration = &zero
	}

	updated, err := m.store.UpdateStatus(ctx, callID, to, update)
	if err != nil {
		return nil, err
	}
	m.logger.Infow("call status updated", "call_id", callID, "status", to)
	return updated, nil
}

// UnsubscribeFromCall releases the channel pair for callID. Idempotent;
// unknown ids are a no-op.
func (m *Manager) UnsubscribeFromCall(callID domain.CallID) {
	m.mu.Lock()
	sub, exists := m.subs[callID]
	delete(m.subs, callID)
	m.mu.Unlock()

	if !exists {
		return
	}
	sub.release.Do(func() {
		if sub.cancelRow != nil {
			sub.cancelRow()
		}
		if sub.cancelSig != nil {
			sub.cancelSig()
		}
	})
	m.logger.Debugw("unsubscribed from call", "call_id", callID)
}

// Close releases every open subscription including the inbound feed.
func (m *Manager) Close() error {
	m.mu.Lock()
	ids := make([]domain.CallID, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	cancelInbound := m.cancelInbound
	m.cancelInbound = nil
	m.mu.Unlock()

	for _, id := range ids {
		m.UnsubscribeFromCall(id)
	}
	if cancelInbound != nil {
		cancelInbound()
	}
	return nil
}

func (m *Manager) dropSubscription(callID domain.CallID) {
	m.mu.Lock()
	delete(m.subs, callID)
	m.mu.Unlock()
}

var _ ports.SignalManager = (*Manager)(nil)
