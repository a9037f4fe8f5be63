package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ringlink/internal/core/domain"
	"ringlink/internal/core/ports"
	"ringlink/pkg/retry"
	"ringlink/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// frame is the gateway wire format: topic-scoped JSON envelopes over a
// single websocket connection.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"` // join, leave, row, signal
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// GatewayConfig configures the realtime gateway connection.
type GatewayConfig struct {
	URL          string
	AccessToken  string
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// GatewayClient is a websocket client for a hosted realtime gateway.
// It multiplexes change-feed and side-channel topics over one
// connection and transparently reconnects, re-joining every topic it
// was subscribed to.
type GatewayClient struct {
	cfg      GatewayConfig
	clientID string
	logger   *zap.SugaredLogger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]func(frame)

	closed chan struct{}
	once   sync.Once
}

// NewGatewayClient creates a client; Connect must be called before use.
func NewGatewayClient(cfg GatewayConfig, logger *zap.SugaredLogger) *GatewayClient {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &GatewayClient{
		cfg:      cfg,
		clientID: utils.GenerateClientID(),
		logger:   logger,
		handlers: make(map[string]map[int]func(frame)),
		closed:   make(chan struct{}),
	}
}

// Connect dials the gateway and starts the read and ping loops.
func (c *GatewayClient) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop()
	go c.pingLoop()
	return nil
}

func (c *GatewayClient) dial(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("failed to dial gateway %s: %w", c.cfg.URL, err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	// Re-join every topic we were subscribed to before the drop.
	c.mu.RLock()
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	for _, topic := range topics {
		if err := c.writeFrame(frame{Topic: topic, Event: "join", Ref: c.clientID}); err != nil {
			return err
		}
	}
	return nil
}

func (c *GatewayClient) readLoop() {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.logger.Warnw("gateway read failed, reconnecting", "error", err)
			if rerr := c.reconnect(); rerr != nil {
				c.logger.Errorw("gateway reconnect failed", "error", rerr)
				return
			}
			continue
		}
		c.dispatch(f)
	}
}

func (c *GatewayClient) reconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return retry.Do(ctx, retry.DefaultConfig(), c.dial)
}

func (c *GatewayClient) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn := c.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Debugw("gateway ping failed", "error", err)
				}
			}
			c.writeMu.Unlock()
		}
	}
}

func (c *GatewayClient) dispatch(f frame) {
	c.mu.RLock()
	var handlers []func(frame)
	for _, h := range c.handlers[f.Topic] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(f)
	}
}

func (c *GatewayClient) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(f)
}

// subscribe registers handler on topic, joining the topic on first
// registration and leaving it when the last handler is removed.
func (c *GatewayClient) subscribe(topic string, handler func(frame)) (func(), error) {
	c.mu.Lock()
	first := c.handlers[topic] == nil
	if first {
		c.handlers[topic] = make(map[int]func(frame))
	}
	id := c.nextID
	c.nextID++
	c.handlers[topic][id] = handler
	c.mu.Unlock()

	if first {
		if err := c.writeFrame(frame{Topic: topic, Event: "join", Ref: c.clientID}); err != nil {
			c.mu.Lock()
			delete(c.handlers[topic], id)
			c.mu.Unlock()
			return nil, err
		}
	}

	return func() {
		c.mu.Lock()
		delete(c.handlers[topic], id)
		last := len(c.handlers[topic]) == 0
		if last {
			delete(c.handlers, topic)
		}
		c.mu.Unlock()

		if last {
			if err := c.writeFrame(frame{Topic: topic, Event: "leave", Ref: c.clientID}); err != nil {
				c.logger.Debugw("gateway leave failed", "topic", topic, "error", err)
			}
		}
	}, nil
}

func (c *GatewayClient) subscribeRows(topic string, handler func(ports.RowEvent)) (func(), error) {
	return c.subscribe(topic, func(f frame) {
		if f.Event != "row" {
			return
		}
		var row rowMessage
		if err := json.Unmarshal(f.Payload, &row); err != nil {
			c.logger.Warnw("failed to unmarshal row frame", "topic", topic, "error", err)
			return
		}
		handler(ports.RowEvent{Kind: row.Kind, Call: row.Call})
	})
}

func (c *GatewayClient) SubscribeCall(_ context.Context, callID domain.CallID, handler func(ports.RowEvent)) (func(), error) {
	return c.subscribeRows(fmt.Sprintf("call:%s:row", callID), handler)
}

func (c *GatewayClient) SubscribeReceiver(_ context.Context, receiver domain.UserID, handler func(ports.RowEvent)) (func(), error) {
	return c.subscribeRows(fmt.Sprintf("user:%s:inbox", receiver), handler)
}

func (c *GatewayClient) Publish(_ context.Context, env domain.SignalEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal signal envelope: %w", err)
	}
	return c.writeFrame(frame{
		Topic:   fmt.Sprintf("call:%s:signal", env.CallID),
		Event:   "signal",
		Payload: payload,
		Ref:     c.clientID,
	})
}

func (c *GatewayClient) Subscribe(_ context.Context, callID domain.CallID, handler func(domain.SignalEnvelope)) (func(), error) {
	return c.subscribe(fmt.Sprintf("call:%s:signal", callID), func(f frame) {
		if f.Event != "signal" {
			return
		}
		var env domain.SignalEnvelope
		if err := json.Unmarshal(f.Payload, &env); err != nil {
			c.logger.Warnw("failed to unmarshal signal frame", "call_id", callID, "error", err)
			return
		}
		handler(env)
	})
}

// Close shuts the connection down; subscriptions are discarded.
func (c *GatewayClient) Close() error {
	c.once.Do(func() { close(c.closed) })

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

var (
	_ ports.ChangeFeed  = (*GatewayClient)(nil)
	_ ports.SideChannel = (*GatewayClient)(nil)
)
