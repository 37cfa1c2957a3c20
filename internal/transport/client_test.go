package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidepay/realtime/internal/wire"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:              url,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     2 * time.Second,
		// Heartbeat off unless the test needs it
		Reconnect: ReconnectPolicy{
			MaxAttempts:       3,
			InitialDelay:      10 * time.Millisecond,
			MaxDelay:          100 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	}
}

func TestTransport_Connect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := tp.Status(); got != StatusConnected {
		t.Errorf("Status = %s, want %s", got, StatusConnected)
	}

	if err := tp.Disconnect(); err != nil {
		t.Errorf("Disconnect failed: %v", err)
	}
	if got := tp.Status(); got != StatusDisconnected {
		t.Errorf("Status after Disconnect = %s, want %s", got, StatusDisconnected)
	}
}

func TestTransport_ConnectAlreadyConnected(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		upgrades.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)
	defer tp.Disconnect()

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	if n := upgrades.Load(); n != 1 {
		t.Errorf("server saw %d connections, want 1", n)
	}
}

func TestTransport_ConcurrentConnect(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		upgrades.Add(1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)
	defer tp.Disconnect()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tp.Connect(context.Background(), "")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Connect %d failed: %v", i, err)
		}
	}
	if n := upgrades.Load(); n != 1 {
		t.Errorf("server saw %d connections, want 1", n)
	}
}

func TestTransport_ConnectFailure(t *testing.T) {
	cfg := testConfig("ws://localhost:1")
	cfg.HandshakeTimeout = 200 * time.Millisecond

	tp := New(cfg, nil)

	if err := tp.Connect(context.Background(), ""); err == nil {
		t.Fatal("expected Connect to fail")
	}
	if got := tp.Status(); got != StatusError {
		t.Errorf("Status = %s, want %s", got, StatusError)
	}
}

func TestTransport_SendNotConnected(t *testing.T) {
	tp := New(testConfig("ws://localhost:1"), nil)

	err := tp.Send(wire.Envelope{Type: "metrics_update"})
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if n := tp.Metrics().MessagesSent; n != 0 {
		t.Errorf("MessagesSent = %d, want 0", n)
	}
}

func TestTransport_SubscribeDispatch(t *testing.T) {
	frames := make(chan string, 10)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)
	defer tp.Disconnect()

	var mu sync.Mutex
	var metricsA, metricsB, txs []wire.Envelope
	tp.Subscribe(wire.TopicMetrics, func(env wire.Envelope) {
		mu.Lock()
		metricsA = append(metricsA, env)
		mu.Unlock()
	})
	tp.Subscribe(wire.TopicMetrics, func(env wire.Envelope) {
		mu.Lock()
		metricsB = append(metricsB, env)
		mu.Unlock()
	})
	tp.Subscribe(wire.TopicTransactions, func(env wire.Envelope) {
		mu.Lock()
		txs = append(txs, env)
		mu.Unlock()
	})

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	frames <- `{"type":"metrics_update","timestamp":1,"data":{"total_transactions":5}}`
	frames <- `{"type":"transaction_update","timestamp":2,"data":[]}`
	frames <- `not json at all`
	close(frames)

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(metricsA) != 1 || len(metricsB) != 1 {
		t.Errorf("metrics subscribers got %d/%d frames, want 1/1", len(metricsA), len(metricsB))
	}
	if len(txs) != 1 {
		t.Errorf("transactions subscriber got %d frames, want 1", len(txs))
	}
	if len(metricsA) > 0 && metricsA[0].Timestamp != 1 {
		t.Errorf("Timestamp = %d, want 1", metricsA[0].Timestamp)
	}

	m := tp.Metrics()
	if m.MessagesReceived != 2 {
		t.Errorf("MessagesReceived = %d, want 2", m.MessagesReceived)
	}
	if m.MalformedFrames != 1 {
		t.Errorf("MalformedFrames = %d, want 1", m.MalformedFrames)
	}
}

func TestTransport_SubscribeFrames(t *testing.T) {
	subFrames := make(chan wire.SubscribeFrame, 10)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f wire.SubscribeFrame
			if json.Unmarshal(data, &f) == nil && (f.Type == "subscribe" || f.Type == "unsubscribe") {
				subFrames <- f
			}
		}
	})
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)
	defer tp.Disconnect()

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// First subscription for a topic emits a subscribe frame
	id1 := tp.Subscribe(wire.TopicMetrics, func(wire.Envelope) {})
	select {
	case f := <-subFrames:
		if f.Type != "subscribe" || f.Channel != wire.TopicMetrics {
			t.Errorf("got frame %+v, want subscribe %s", f, wire.TopicMetrics)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for subscribe frame")
	}

	// Second subscription for the same topic is local only
	id2 := tp.Subscribe(wire.TopicMetrics, func(wire.Envelope) {})
	select {
	case f := <-subFrames:
		t.Errorf("unexpected frame %+v for second subscriber", f)
	case <-time.After(100 * time.Millisecond):
	}

	// Unsubscribing the last handler emits an unsubscribe frame
	tp.Unsubscribe(id1)
	tp.Unsubscribe(id2)
	select {
	case f := <-subFrames:
		if f.Type != "unsubscribe" || f.Channel != wire.TopicMetrics {
			t.Errorf("got frame %+v, want unsubscribe %s", f, wire.TopicMetrics)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unsubscribe frame")
	}
}

func TestTransport_HeartbeatLatency(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.Parse(data)
			if err != nil || env.Type != wire.TypeHeartbeat {
				continue
			}
			time.Sleep(50 * time.Millisecond)
			reply, _ := json.Marshal(wire.Envelope{Type: wire.TypeHeartbeatReply, Timestamp: env.Timestamp})
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.HeartbeatInterval = 50 * time.Millisecond

	tp := New(cfg, nil)
	defer tp.Disconnect()

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Wait for at least one round trip
	deadline := time.After(2 * time.Second)
	for tp.Metrics().Latency == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for heartbeat reply")
		case <-time.After(10 * time.Millisecond):
		}
	}

	latency := tp.Metrics().Latency
	if latency < 50*time.Millisecond || latency >= 150*time.Millisecond {
		t.Errorf("Latency = %v, want between 50ms and 150ms", latency)
	}
	if got := tp.Quality(); got != QualityExcellent {
		t.Errorf("Quality = %s, want %s", got, QualityExcellent)
	}
}

func TestTransport_ReconnectOnAbnormalClose(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		n := upgrades.Add(1)
		if n == 1 {
			// Drop the first connection without a close frame
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)
	defer tp.Disconnect()

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for tp.Metrics().ReconnectCount == 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for reconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := tp.Status(); got != StatusConnected {
		t.Errorf("Status = %s, want %s", got, StatusConnected)
	}
	if n := tp.Metrics().ReconnectCount; n != 1 {
		t.Errorf("ReconnectCount = %d, want 1", n)
	}
	// No runaway dials after the single successful reconnect
	time.Sleep(100 * time.Millisecond)
	if n := upgrades.Load(); n != 2 {
		t.Errorf("server saw %d connections, want 2", n)
	}
}

func TestTransport_ConnectDuringBackoffWaitsOnReconnect(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		n := upgrades.Add(1)
		if n == 1 {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	// Wide backoff window so Connect lands inside it
	cfg.Reconnect.InitialDelay = 300 * time.Millisecond
	cfg.Reconnect.MaxDelay = 300 * time.Millisecond

	tp := New(cfg, nil)
	defer tp.Disconnect()

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for tp.Status() != StatusConnecting {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for reconnect to be scheduled")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A manual Connect inside the backoff window must not open its own
	// connection; it waits for the reconnect loop's dial.
	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect during backoff failed: %v", err)
	}
	if got := tp.Status(); got != StatusConnected {
		t.Errorf("Status = %s, want %s", got, StatusConnected)
	}
	if n := tp.Metrics().ReconnectCount; n != 1 {
		t.Errorf("ReconnectCount = %d, want 1", n)
	}

	// Let any straggler backoff timer fire
	time.Sleep(400 * time.Millisecond)
	if n := upgrades.Load(); n != 2 {
		t.Errorf("server saw %d connections, want 2", n)
	}
}

func TestTransport_CleanCloseNoReconnect(t *testing.T) {
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		upgrades.Add(1)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		// Wait for the client's close response
		conn.ReadMessage()
	})
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for tp.Status() != StatusDisconnected {
		select {
		case <-deadline:
			t.Fatalf("Status = %s, want %s", tp.Status(), StatusDisconnected)
		case <-time.After(10 * time.Millisecond):
		}
	}

	time.Sleep(100 * time.Millisecond)
	if n := upgrades.Load(); n != 1 {
		t.Errorf("server saw %d connections, want 1", n)
	}
}

func TestTransport_AttemptsExhausted(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})

	cfg := testConfig(wsURL(server))
	cfg.HandshakeTimeout = 200 * time.Millisecond
	cfg.Reconnect.MaxAttempts = 2

	tp := New(cfg, nil)
	defer tp.Disconnect()

	statusCh := make(chan Status, 10)
	tp.OnStatusChange(func(s Status) { statusCh <- s })

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// All reconnect dials fail once the server is gone
	server.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-statusCh:
			if s == StatusError {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s, status %s", StatusError, tp.Status())
		}
	}
}

func TestTransport_ResubscribeAfterReconnect(t *testing.T) {
	subFrames := make(chan wire.SubscribeFrame, 10)
	var upgrades atomic.Int64
	server := mockWSServer(t, func(conn *websocket.Conn) {
		n := upgrades.Add(1)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f wire.SubscribeFrame
			if json.Unmarshal(data, &f) == nil && f.Type == "subscribe" {
				if n > 1 {
					subFrames <- f
				}
				if n == 1 {
					// Drop the first connection after the initial subscribe
					conn.Close()
					return
				}
			}
		}
	})
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)
	defer tp.Disconnect()

	tp.Subscribe(wire.TopicMetrics, func(wire.Envelope) {})

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case f := <-subFrames:
		if f.Channel != wire.TopicMetrics {
			t.Errorf("resubscribed channel = %s, want %s", f.Channel, wire.TopicMetrics)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for resubscribe after reconnect")
	}
}

func TestTransport_StatusTransitions(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)

	var mu sync.Mutex
	var seen []Status
	unregister := tp.OnStatusChange(func(s Status) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := tp.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tp.Disconnect()

	mu.Lock()
	got := append([]Status(nil), seen...)
	mu.Unlock()

	want := []Status{StatusConnecting, StatusConnected, StatusDisconnected}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}

	// A removed listener sees nothing further
	unregister()
	tp.Connect(context.Background(), "")
	tp.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Errorf("unregistered listener saw %d transitions, want %d", len(seen), len(want))
	}
}

func TestTransport_SubnetHint(t *testing.T) {
	hintCh := make(chan string, 1)
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hintCh <- r.URL.Query().Get("subnet")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	tp := New(testConfig(wsURL(server)), nil)
	defer tp.Disconnect()

	if err := tp.Connect(context.Background(), "subnet-7"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case hint := <-hintCh:
		if hint != "subnet-7" {
			t.Errorf("subnet hint = %q, want %q", hint, "subnet-7")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handshake")
	}
}
