package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tidepay/realtime/internal/wire"
)

// Transport owns one physical WebSocket connection to the payment service.
// It handles open/close/send/receive, heartbeat, and reconnection; message
// semantics beyond the envelope are the orchestrator's concern.
type Transport struct {
	cfg    Config
	logger *slog.Logger

	mu              sync.Mutex
	status          Status
	conn            *websocket.Conn
	sessionDone     chan struct{} // closed when the current connection's loops must stop
	attempt         *connectAttempt
	reconnecting    bool
	reconnectCancel context.CancelFunc
	closing         bool
	subnetHint      string
	connectedAt     time.Time
	lastReply       time.Time
	metrics         Metrics

	// Write serialization
	writeMu sync.Mutex

	subs *registry

	statusMu   sync.Mutex
	statusSubs map[uuid.UUID]StatusHandler
}

// connectAttempt lets concurrent Connect callers wait on one dial.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// New creates a Transport. It does not connect.
func New(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		cfg:        cfg,
		logger:     logger,
		status:     StatusDisconnected,
		subs:       newRegistry(),
		statusSubs: make(map[uuid.UUID]StatusHandler),
	}
}

// Connect establishes the WebSocket connection. It returns once the
// connection is open or the dial definitively failed. A concurrent call
// while a connect is in flight — including the reconnect loop's backoff
// window — waits on that attempt's outcome instead of opening a second
// connection. subnetHint, when non-empty, pins the connection to a
// backend partition.
func (t *Transport) Connect(ctx context.Context, subnetHint string) error {
	t.mu.Lock()
	if t.status == StatusConnected {
		t.mu.Unlock()
		return nil
	}
	if att := t.attempt; att != nil {
		t.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-att.done:
			return att.err
		}
	}

	att := &connectAttempt{done: make(chan struct{})}
	t.attempt = att
	t.closing = false
	if subnetHint != "" {
		t.subnetHint = subnetHint
	}
	t.mu.Unlock()

	t.transition(StatusConnecting)
	err := t.dial(ctx)

	t.mu.Lock()
	t.attempt = nil
	t.mu.Unlock()

	if err != nil {
		t.transition(StatusError)
		return fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}
	return nil
}

// Disconnect closes cleanly: no reconnect follows, any pending reconnect
// timer is cancelled. Calling it twice is safe.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	t.closing = true
	cancel := t.reconnectCancel
	t.reconnectCancel = nil
	conn := t.conn
	t.conn = nil
	if t.sessionDone != nil {
		close(t.sessionDone)
		t.sessionDone = nil
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	t.transition(StatusDisconnected)
	return nil
}

// Send marshals and writes a frame. While not connected it logs and
// reports ErrNotConnected without side effects.
func (t *Transport) Send(env wire.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.status == StatusConnected && conn != nil
	t.mu.Unlock()

	if !connected {
		t.logger.Error("send while not connected, dropping frame", "type", env.Type)
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.mu.Lock()
		t.metrics.ErrorCount++
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.metrics.MessagesSent++
	t.mu.Unlock()
	return nil
}

// Subscribe registers a callback for a topic. The first subscription for a
// topic sends a subscribe frame upstream.
func (t *Transport) Subscribe(topic string, fn MessageHandler) uuid.UUID {
	id, first := t.subs.add(topic, fn)
	if first {
		t.sendSubscribeFrame(wire.TypeSubscribe, topic)
	}
	return id
}

// Unsubscribe removes a subscription. Removing the last subscription for a
// topic sends an unsubscribe frame upstream.
func (t *Transport) Unsubscribe(id uuid.UUID) {
	topic, last, ok := t.subs.remove(id)
	if ok && last {
		t.sendSubscribeFrame(wire.TypeUnsubscribe, topic)
	}
}

// OnStatusChange registers a status listener and returns its unregister.
func (t *Transport) OnStatusChange(fn StatusHandler) func() {
	id := uuid.New()
	t.statusMu.Lock()
	t.statusSubs[id] = fn
	t.statusMu.Unlock()

	return func() {
		t.statusMu.Lock()
		delete(t.statusSubs, id)
		t.statusMu.Unlock()
	}
}

// Status returns the current connection state.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Metrics returns a snapshot of the connection counters.
func (t *Transport) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.metrics
	if t.status == StatusConnected && !t.connectedAt.IsZero() {
		m.Uptime = time.Since(t.connectedAt)
	}
	return m
}

// Quality returns the connection quality band for the last measured
// heartbeat latency. A transport that is not connected is always poor.
func (t *Transport) Quality() Quality {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusConnected {
		return QualityPoor
	}
	return QualityForLatency(t.metrics.Latency)
}

// dial opens the connection and starts the session loops.
func (t *Transport) dial(ctx context.Context) error {
	target := t.cfg.URL
	t.mu.Lock()
	hint := t.subnetHint
	t.mu.Unlock()
	if hint != "" {
		sep := "?"
		if u, err := url.Parse(target); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		target += sep + "subnet=" + url.QueryEscape(hint)
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
	}
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, target, header)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.sessionDone = make(chan struct{})
	done := t.sessionDone
	now := time.Now()
	t.connectedAt = now
	t.lastReply = now
	t.mu.Unlock()

	t.transition(StatusConnected)

	go t.readLoop(conn, done)
	if t.cfg.HeartbeatInterval > 0 {
		go t.heartbeatLoop(conn, done)
	}

	t.resubscribe()

	t.logger.Debug("websocket connected", "url", t.cfg.URL, "subnet_hint", hint)
	return nil
}

// readLoop reads frames from the connection until it closes.
func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			// Ignore errors after Disconnect
			select {
			case <-done:
				return
			default:
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.logger.Info("connection closed cleanly")
				t.endSession(conn)
				t.transition(StatusDisconnected)
				return
			}

			t.mu.Lock()
			t.metrics.ErrorCount++
			t.mu.Unlock()
			t.logger.Warn("connection error", "error", err)
			t.scheduleReconnect(conn)
			return
		}

		env, err := wire.Parse(data)
		if err != nil || env.Type == "" {
			// Malformed frames are counted and dropped, never propagated.
			t.mu.Lock()
			t.metrics.MalformedFrames++
			t.mu.Unlock()
			continue
		}

		switch env.Type {
		case wire.TypeHeartbeatReply:
			now := time.Now()
			t.mu.Lock()
			t.lastReply = now
			t.metrics.Latency = now.Sub(time.UnixMilli(env.Timestamp))
			t.mu.Unlock()
			continue

		case wire.TypeHeartbeat:
			// Server-initiated heartbeat: echo the timestamp back.
			t.Send(wire.Envelope{Type: wire.TypeHeartbeatReply, Timestamp: env.Timestamp})
			continue
		}

		if wire.IsReserved(env.Type) {
			continue
		}

		t.mu.Lock()
		t.metrics.MessagesReceived++
		t.mu.Unlock()

		t.subs.dispatch(env)
	}
}

// heartbeatLoop sends heartbeat frames and watches for stale replies.
func (t *Transport) heartbeatLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := t.Send(wire.NewHeartbeat(time.Now())); err != nil {
				t.logger.Debug("failed to send heartbeat", "error", err)
			}

			t.mu.Lock()
			last := t.lastReply
			t.mu.Unlock()

			if time.Since(last) > 2*t.cfg.HeartbeatInterval {
				t.logger.Warn("no heartbeat reply, connection stale",
					"last_reply", last,
					"interval", t.cfg.HeartbeatInterval,
				)
				t.mu.Lock()
				t.metrics.ErrorCount++
				t.mu.Unlock()
				t.scheduleReconnect(conn)
				return
			}
		}
	}
}

// endSession tears down the current connection's loops without reconnecting.
func (t *Transport) endSession(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	if t.sessionDone != nil {
		close(t.sessionDone)
		t.sessionDone = nil
	}
	t.mu.Unlock()
	conn.Close()
}

// scheduleReconnect starts the backoff loop for a failed connection.
// Only one loop runs at a time regardless of which session goroutine
// observed the failure first. The loop registers itself as the pending
// connect attempt so a manual Connect call waits on its outcome rather
// than racing it with a second dial.
func (t *Transport) scheduleReconnect(conn *websocket.Conn) {
	t.mu.Lock()
	if t.closing || t.reconnecting || t.attempt != nil {
		t.mu.Unlock()
		return
	}
	t.reconnecting = true
	att := &connectAttempt{done: make(chan struct{})}
	t.attempt = att
	if t.conn == conn {
		t.conn = nil
	}
	if t.sessionDone != nil {
		close(t.sessionDone)
		t.sessionDone = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.reconnectCancel = cancel
	t.mu.Unlock()

	conn.Close()
	t.transition(StatusConnecting)

	go t.reconnectLoop(ctx, att)
}

// reconnectLoop retries the dial with exponential backoff until it
// succeeds, attempts run out, or Disconnect cancels it.
func (t *Transport) reconnectLoop(ctx context.Context, att *connectAttempt) {
	var loopErr error
	defer func() {
		t.mu.Lock()
		t.reconnecting = false
		if t.attempt == att {
			t.attempt = nil
		}
		t.mu.Unlock()
		att.err = loopErr
		close(att.done)
	}()

	policy := t.cfg.Reconnect

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		delay := policy.Delay(attempt)
		t.logger.Info("attempting reconnection",
			"attempt", attempt+1,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
		)

		select {
		case <-ctx.Done():
			loopErr = ctx.Err()
			return
		case <-time.After(delay):
		}

		t.mu.Lock()
		if t.closing || t.status == StatusConnected {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		if err := t.dial(ctx); err != nil {
			t.mu.Lock()
			t.metrics.ErrorCount++
			t.mu.Unlock()
			t.logger.Warn("reconnection failed", "attempt", attempt+1, "error", err)
			continue
		}

		t.mu.Lock()
		t.metrics.ReconnectCount++
		t.metrics.LastReconnect = time.Now()
		t.mu.Unlock()

		t.logger.Info("reconnected", "attempt", attempt+1)
		return
	}

	loopErr = ErrAttemptsExhausted
	t.logger.Error("reconnect attempts exhausted", "max_attempts", policy.MaxAttempts)
	t.transition(StatusError)
}

// resubscribe replays subscribe frames for every registered topic.
func (t *Transport) resubscribe() {
	for _, topic := range t.subs.topics() {
		t.sendSubscribeFrame(wire.TypeSubscribe, topic)
	}
}

// sendSubscribeFrame sends a subscribe/unsubscribe frame; failures are
// logged, the registry stays authoritative and resubscribe repairs the
// server-side view on the next connect.
func (t *Transport) sendSubscribeFrame(frameType, topic string) {
	data, _ := json.Marshal(wire.SubscribeFrame{Type: frameType, Channel: topic})

	t.mu.Lock()
	conn := t.conn
	connected := t.status == StatusConnected && conn != nil
	t.mu.Unlock()

	if !connected {
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Warn("failed to send subscription frame",
			"type", frameType,
			"channel", topic,
			"error", err,
		)
	}
}

// transition updates the status and notifies listeners in order.
func (t *Transport) transition(s Status) {
	t.mu.Lock()
	if t.status == s {
		t.mu.Unlock()
		return
	}
	t.status = s
	t.mu.Unlock()

	t.statusMu.Lock()
	handlers := make([]StatusHandler, 0, len(t.statusSubs))
	for _, fn := range t.statusSubs {
		handlers = append(handlers, fn)
	}
	t.statusMu.Unlock()

	for _, fn := range handlers {
		fn(s)
	}
}
