package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"
	"ringlink/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const txRetries = 5

type RedisCallRepository struct {
	client    *redis.Client
	prefix    string
	publisher ports.RowPublisher
}

// NewRedisCallRepository creates a Redis-backed call store. Rows live
// as JSON values; per-user recent lists are capped.
func NewRedisCallRepository(client *redis.Client, publisher ports.RowPublisher) ports.CallRepository {
	return &RedisCallRepository{
		client:    client,
		prefix:    "ringlink:call:",
		publisher: publisher,
	}
}

func (r *RedisCallRepository) callKey(id domain.CallID) string {
	return r.prefix + string(id)
}

func (r *RedisCallRepository) recentKey(user domain.UserID) string {
	return fmt.Sprintf("ringlink:user:%s:calls", user)
}

// Create inserts the row, assigning the id and the room name when the
// caller left them empty. SetNX keeps a duplicate id from clobbering
// an existing row.
func (r *RedisCallRepository) Create(ctx context.Context, call *domain.Call) error {
	if call.ID == "" {
		call.ID = domain.CallID(utils.GenerateCallID())
	}
	if call.RoomName == "" {
		call.RoomName = domain.RoomName(utils.GenerateRoomName(string(call.ID)))
	}

	stored := *call
	stored.UpdatedAt = time.Now()

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal call: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.callKey(call.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	if !ok {
		return domain.ErrPersistenceFailed
	}

	for _, user := range []domain.UserID{call.CallerID, call.ReceiverID} {
		pipe := r.client.TxPipeline()
		pipe.LPush(ctx, r.recentKey(user), string(call.ID))
		pipe.LTrim(ctx, r.recentKey(user), 0, 99)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to record recent call for %s: %w", user, err)
		}
	}

	r.announce(ctx, "insert", &stored)
	return nil
}

func (r *RedisCallRepository) GetByID(ctx context.Context, id domain.CallID) (*domain.Call, error) {
	data, err := r.client.Get(ctx, r.callKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}

	var call domain.Call
	if err := json.Unmarshal([]byte(data), &call); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call: %w", err)
	}
	return &call, nil
}

func (r *RedisCallRepository) SetOffer(ctx context.Context, id domain.CallID, desc domain.SessionDescription) (*domain.Call, error) {
	return r.mutate(ctx, id, func(call *domain.Call) error {
		call.SDPOffer = desc.SDP
		return nil
	})
}

func (r *RedisCallRepository) SetAnswer(ctx context.Context, id domain.CallID, desc domain.SessionDescription) (*domain.Call, error) {
	return r.mutate(ctx, id, func(call *domain.Call) error {
		if call.SDPOffer == "" {
			return domain.ErrMissingOffer
		}
		call.SDPAnswer = desc.SDP
		return nil
	})
}

func (r *RedisCallRepository) UpdateStatus(ctx context.Context, id domain.CallID, to domain.CallStatus, update ports.StatusUpdate) (*domain.Call, error) {
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

func (r *RedisCallRepository) SetAudioRoute(ctx context.Context, id domain.CallID, route domain.AudioRoute) error {
	_, err := r.mutate(ctx, id, func(call *domain.Call) error {
		call.AudioRoute = route
		return nil
	})
	return err
}

func (r *RedisCallRepository) ListRecent(ctx context.Context, user domain.UserID, limit int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := r.client.LRange(ctx, r.recentKey(user), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}

	var calls []*domain.Call
	for _, id := range ids {
		call, err := r.GetByID(ctx, domain.CallID(id))
		if err != nil {
			// Skip rows that have expired meanwhile.
			continue
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// mutate applies fn to the stored row inside a WATCH transaction so a
// concurrent writer cannot interleave between read and write. Both
// parties mutate the same row; the transition guard in fn is what
// keeps a terminal row final.
func (r *RedisCallRepository) mutate(ctx context.Context, id domain.CallID, fn func(*domain.Call) error) (*domain.Call, error) {
	key := r.callKey(id)
	var updated *domain.Call

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return domain.ErrCallNotFound
		}
		if err != nil {
			return err
		}

		var call domain.Call
		if err := json.Unmarshal([]byte(data), &call); err != nil {
			return fmt.Errorf("failed to unmarshal call: %w", err)
		}
		if err := fn(&call); err != nil {
			return err
		}
		call.UpdatedAt = time.Now()

		out, err := json.Marshal(&call)
		if err != nil {
			return fmt.Errorf("failed to marshal call: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err == nil {
			updated = &call
		}
		return err
	}

	for i := 0; i < txRetries; i++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			r.announce(ctx, "update", updated)
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrCallNotFound) ||
			errors.Is(err, domain.ErrMissingOffer) ||
			errors.Is(err, domain.ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	return nil, fmt.Errorf("%w: transaction contention on %s", domain.ErrPersistenceFailed, id)
}

func (r *RedisCallRepository) announce(ctx context.Context, kind string, call *domain.Call) {
	if r.publisher != nil && call != nil {
		r.publisher.PublishRow(ctx, kind, call)
	}
}
