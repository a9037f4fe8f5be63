package reliability

import (
	"context"
	"errors"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"
	"ringlink/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// CallStoreWrapper guards the call record store with a circuit
// breaker so a dead backend fails fast instead of stalling call
// teardown on every write.
type CallStoreWrapper struct {
	store   ports.CallRepository
	breaker *circuitbreaker.Breaker
	logger  *zap.SugaredLogger
}

// NewCallStoreWrapper wraps store with the given breaker config.
func NewCallStoreWrapper(store ports.CallRepository, cfg circuitbreaker.Config, logger *zap.SugaredLogger) *CallStoreWrapper {
	return &CallStoreWrapper{
		store:   store,
		breaker: circuitbreaker.New(cfg),
		logger:  logger,
	}
}

func (w *CallStoreWrapper) Create(ctx context.Context, call *domain.Call) error {
	return w.do("create", func() error {
		return w.store.Create(ctx, call)
	})
}

func (w *CallStoreWrapper) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	var call *domain.Call
	err := w.do("get", func() error {
		var ferr error
		call, ferr = w.store.GetByID(ctx, id)
		return ferr
	})
	return call, err
}

func (w *CallStoreWrapper) SetOffer(ctx context.Context, id domain.CallID, desc domain.SessionDescription) (*domain.Call, error) {
	var call *domain.Call
	err := w.do("set_offer", func() error {
		var ferr error
		call, ferr = w.store.SetOffer(ctx, id, desc)
		return ferr
	})
	return call, err
}

func (w *CallStoreWrapper) SetAnswer(ctx context.Context, id domain.CallID, desc domain.SessionDescription) (*domain.Call, error) {
	var call *domain.Call
	err := w.do("set_answer", func() error {
		var ferr error
		call, ferr = w.store.SetAnswer(ctx, id, desc)
		return ferr
	})
	return call, err
}

func (w *CallStoreWrapper) UpdateStatus(ctx context.Context, id domain.CallID, to domain.CallStatus, update ports.StatusUpdate) (*domain.Call, error) {
	var call *domain.Call
	err := w.do("update_status", func() error {
		var ferr error
		call, ferr = w.store.UpdateStatus(ctx, id, to, update)
		return ferr
	})
	return call, err
}

func (w *CallStoreWrapper) SetAudioRoute(ctx context.Context, id domain.CallID, route domain.AudioRoute) error {
	return w.do("set_audio_route", func() error {
		return w.store.SetAudioRoute(ctx, id, route)
	})
}

func (w *CallStoreWrapper) ListRecent(ctx context.Context, user domain.UserID, limit int) ([]*domain.Call, error) {
	var calls []*domain.Call
	err := w.do("list_recent", func() error {
		var ferr error
		calls, ferr = w.store.ListRecent(ctx, user, limit)
		return ferr
	})
	return calls, err
}

// do runs fn through the breaker. Domain-level outcomes (missing
// offer, illegal transition, unknown call) are not backend failures
// and must not trip the circuit.
func (w *CallStoreWrapper) do(op string, fn func() error) error {
	var opErr error
	err := w.breaker.Do(func() error {
		opErr = fn()
		if isDomainOutcome(opErr) {
			return nil
		}
		return opErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		if w.logger != nil {
			w.logger.Warnw("call store request rejected, circuit open", "op", op)
		}
		return err
	}
	return opErr
}

func isDomainOutcome(err error) bool {
	return errors.Is(err, domain.ErrCallNotFound) ||
		errors.Is(err, domain.ErrMissingOffer) ||
		errors.Is(err, domain.ErrInvalidTransition)
}

var _ ports.CallRepository = (*CallStoreWrapper)(nil)
