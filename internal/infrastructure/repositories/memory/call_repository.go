package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"
	"ringlink/pkg/utils"
)

type MemoryCallRepository struct {
	calls     map[domain.CallID]*domain.Call
	mu        sync.RWMutex
	publisher ports.RowPublisher
}

// NewMemoryCallRepository creates an in-process call store. publisher
// may be nil when no change feed is attached.
func NewMemoryCallRepository(publisher ports.RowPublisher) ports.CallRepository {
	return &MemoryCallRepository{
		calls:     make(map[domain.CallID]*domain.Call),
		publisher: publisher,
	}
}

// Create inserts the row, assigning the id and the room name when the
// caller left them empty.
func (r *MemoryCallRepository) Create(ctx context.Context, call *domain.Call) error {
	assignIdentity(call)

	r.mu.Lock()
	if _, exists := r.calls[call.ID]; exists {
		r.mu.Unlock()
		return domain.ErrPersistenceFailed
	}
	stored := *call
	stored.UpdatedAt = time.Now()
	r.calls[call.ID] = &stored
	r.mu.Unlock()

	r.announce(ctx, "insert", &stored)
	return nil
}

func (r *MemoryCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	call, exists := r.calls[id]
	if !exists {
		return nil, domain.ErrCallNotFound
	}
	copied := *call
	return &copied, nil
}

func (r *MemoryCallRepository) SetOffer(ctx context.Context, id domain.CallID, desc domain.SessionDescription) (*domain.Call, error) {
	return r.mutate(ctx, id, func(call *domain.Call) error {
		call.SDPOffer = desc.SDP
		return nil
	})
}

func (r *MemoryCallRepository) SetAnswer(ctx context.Context, id domain.CallID, desc domain.SessionDescription) (*domain.Call, error) {
	return r.mutate(ctx, id, func(call *domain.Call) error {
		if call.SDPOffer == "" {
			return domain.ErrMissingOffer
		}
		call.SDPAnswer = desc.SDP
		return nil
	})
}

func (r *MemoryCallRepository) UpdateStatus(ctx context.Context, id domain.CallID, to domain.CallStatus, update ports.StatusUpdate) (*domain.Call, error) {
	return r.mutate(ctx, id, func(call *domain.Call) error {
		if !domain.CanTransition(call.Status, to) {
			return domain.ErrInvalidTransition
		}
		call.Status = to
		if update.StartedAt != nil {
			call.StartedAt = update.StartedAt
		}
		if update.EndedAt != nil {
			call.EndedAt = update.EndedAt
		}
		if update.Duration != nil {
			call.Duration = *update.Duration
		}
		return nil
	})
}

func (r *MemoryCallRepository) SetAudioRoute(ctx context.Context, id domain.CallID, route domain.AudioRoute) error {
	_, err := r.mutate(ctx, id, func(call *domain.Call) error {
		call.AudioRoute = route
		return nil
	})
	return err
}

func (r *MemoryCallRepository) ListRecent(ctx context.Context, user domain.UserID, limit int) ([]*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var recent []*domain.Call
	for _, call := range r.calls {
		if call.CallerID == user || call.ReceiverID == user {
			copied := *call
			recent = append(recent, &copied)
		}
	}
	sort.Slice(recent, func(i, j int) bool {
		return recent[i].InitiatedAt.After(recent[j].InitiatedAt)
	})
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

// mutate applies fn to the stored row under lock and announces the
// update on success.
func (r *MemoryCallRepository) mutate(ctx context.Context, id domain.CallID, fn func(*domain.Call) error) (*domain.Call, error) {
	r.mu.Lock()
	call, exists := r.calls[id]
	if !exists {
		r.mu.Unlock()
		return nil, domain.ErrCallNotFound
	}
	if err := fn(call); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	call.UpdatedAt = time.Now()
	copied := *call
	r.mu.Unlock()

	r.announce(ctx, "update", &copied)
	return &copied, nil
}

func (r *MemoryCallRepository) announce(ctx context.Context, kind string, call *domain.Call) {
	if r.publisher != nil {
		r.publisher.PublishRow(ctx, kind, call)
	}
}

// assignIdentity fills the store-generated fields of a fresh row.
func assignIdentity(call *domain.Call) {
	if call.ID == "" {
		call.ID = domain.CallID(utils.GenerateCallID())
	}
	if call.RoomName == "" {
		call.RoomName = domain.RoomName(utils.GenerateRoomName(string(call.ID)))
	}
}
