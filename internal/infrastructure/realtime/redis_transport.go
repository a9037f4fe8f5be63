package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// rowMessage is the change-feed wire format.
type rowMessage struct {
	Kind string       `json:"kind"`
	Call *domain.Call `json:"call"`
}

// RedisTransport carries the change feed and the candidate side
// channel over Redis pub/sub. Row events fan out on a per-call channel
// plus a per-receiver inbox for invitation delivery; candidates ride a
// separate ephemeral channel and are never persisted.
type RedisTransport struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisTransport creates the transport on an existing client.
func NewRedisTransport(client *redis.Client, logger *zap.SugaredLogger) *RedisTransport {
	return &RedisTransport{client: client, logger: logger}
}

func rowChannel(callID domain.CallID) string {
	return fmt.Sprintf("ringlink:call:%s:row", callID)
}

func inboxChannel(user domain.UserID) string {
	return fmt.Sprintf("ringlink:user:%s:inbox", user)
}

func signalChannel(callID domain.CallID) string {
	return fmt.Sprintf("ringlink:call:%s:signal", callID)
}

// PublishRow announces a row mutation. Best effort: failures are
// logged, never propagated to the write that caused them.
func (t *RedisTransport) PublishRow(ctx context.Context, kind string, call *domain.Call) {
	data, err := json.Marshal(rowMessage{Kind: kind, Call: call})
	if err != nil {
		t.logger.Warnw("failed to marshal row event", "call_id", call.ID, "error", err)
		return
	}

	channels := []string{rowChannel(call.ID)}
	if kind == "insert" {
		channels = append(channels, inboxChannel(call.ReceiverID))
	}
	for _, ch := range channels {
		if err := t.client.Publish(ctx, ch, data).Err(); err != nil {
			t.logger.Warnw("failed to publish row event",
				"call_id", call.ID,
				"channel", ch,
				"error", err,
			)
		}
	}
}

func (t *RedisTransport) SubscribeCall(ctx context.Context, callID domain.CallID, handler func(ports.RowEvent)) (func(), error) {
	return t.subscribeRows(ctx, rowChannel(callID), handler)
}

func (t *RedisTransport) SubscribeReceiver(ctx context.Context, receiver domain.UserID, handler func(ports.RowEvent)) (func(), error) {
	return t.subscribeRows(ctx, inboxChannel(receiver), handler)
}

func (t *RedisTransport) subscribeRows(ctx context.Context, channel string, handler func(ports.RowEvent)) (func(), error) {
	pubsub := t.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var row rowMessage
			if err := json.Unmarshal([]byte(msg.Payload), &row); err != nil {
				t.logger.Warnw("failed to unmarshal row event",
					"channel", channel,
					"error", err,
				)
				continue
			}
			handler(ports.RowEvent{Kind: row.Kind, Call: row.Call})
		}
	}()

	return func() { pubsub.Close() }, nil
}

func (t *RedisTransport) Publish(ctx context.Context, env domain.SignalEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal signal envelope: %w", err)
	}
	if err := t.client.Publish(ctx, signalChannel(env.CallID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, callID domain.CallID, handler func(domain.SignalEnvelope)) (func(), error) {
	pubsub := t.client.Subscribe(ctx, signalChannel(callID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to signal channel: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var env domain.SignalEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				t.logger.Warnw("failed to unmarshal signal envelope",
					"call_id", callID,
					"error", err,
				)
				continue
			}
			handler(env)
		}
	}()

	return func() { pubsub.Close() }, nil
}

var (
	_ ports.RowPublisher = (*RedisTransport)(nil)
	_ ports.ChangeFeed   = (*RedisTransport)(nil)
	_ ports.SideChannel  = (*RedisTransport)(nil)
)
