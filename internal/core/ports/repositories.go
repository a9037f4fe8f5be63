package ports

import (
	"context"
	"time"

	"ringlink/internal/core/domain"
)

// StatusUpdate carries the derived fields written together with a
// status transition. Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	StartedAt *time.Time
	EndedAt   *time.Time
	Duration  *int64
}

// RowPublisher announces call row mutations to the realtime change
// feed. Publishing is best effort: a failed announce never fails the
// write that caused it.
type RowPublisher interface {
	PublishRow(ctx context.Context, kind string, call *domain.Call)
}

// CallRepository is the durable call record store. UpdateStatus is a
// conditional write: it applies only when the stored status still
// admits the requested transition, so a row already in a terminal
// state rejects further lifecycle writes.
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error)
	SetOffer(ctx context.Context, id domain.CallID, desc domain.SessionDescription) (*domain.Call, error)
	// SetAnswer fails with domain.ErrMissingOffer when no offer is stored.
	SetAnswer(ctx context.Context, id domain.CallID, desc domain.SessionDescription) (*domain.Call, error)
	UpdateStatus(ctx context.Context, id domain.CallID, to domain.CallStatus, update StatusUpdate) (*domain.Call, error)
	SetAudioRoute(ctx context.Context, id domain.CallID, route domain.AudioRoute) error
	ListRecent(ctx context.Context, user domain.UserID, limit int) ([]*domain.Call, error)
}
