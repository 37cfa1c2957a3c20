package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidepay/realtime/internal/api"
	"github.com/tidepay/realtime/internal/model"
	"github.com/tidepay/realtime/internal/poller"
	"github.com/tidepay/realtime/internal/transport"
	"github.com/tidepay/realtime/internal/wire"
)

// mockStream is a WebSocket server that tracks subscribed channels and can
// push frames to the connected client.
type mockStream struct {
	server *httptest.Server

	mu       sync.Mutex
	channels map[string]bool
	conn     *websocket.Conn
}

func newMockStream(t *testing.T) *mockStream {
	ms := &mockStream{channels: make(map[string]bool)}
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	ms.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		ms.mu.Lock()
		ms.conn = conn
		ms.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f wire.SubscribeFrame
			if json.Unmarshal(data, &f) != nil {
				continue
			}
			ms.mu.Lock()
			switch f.Type {
			case "subscribe":
				ms.channels[f.Channel] = true
			case "unsubscribe":
				delete(ms.channels, f.Channel)
			}
			ms.mu.Unlock()
		}
	}))

	return ms
}

func (ms *mockStream) url() string {
	return "ws" + strings.TrimPrefix(ms.server.URL, "http")
}

func (ms *mockStream) subscribed(channel string) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.channels[channel]
}

func (ms *mockStream) push(t *testing.T, frameType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame, _ := json.Marshal(wire.Envelope{
		Type:      frameType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})

	ms.mu.Lock()
	conn := ms.conn
	ms.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("push frame: %v", err)
	}
}

func (ms *mockStream) close() {
	ms.server.Close()
}

// mockDashboardAPI serves the snapshot endpoint the polling fallback hits.
func mockDashboardAPI(t *testing.T, snap model.DashboardSnapshot, polls *sync.WaitGroup) *httptest.Server {
	var once sync.Once
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/dashboard" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
		if polls != nil {
			once.Do(polls.Done)
		}
	}))
}

func newTransport(url string) *transport.Transport {
	return transport.New(transport.Config{
		URL:              url,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     2 * time.Second,
		Reconnect: transport.ReconnectPolicy{
			MaxAttempts:       2,
			InitialDelay:      10 * time.Millisecond,
			MaxDelay:          50 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	}, nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStart_TransportPreferred(t *testing.T) {
	ms := newMockStream(t)
	defer ms.close()

	o := New(Config{Fallback: FallbackPolling}, newTransport(ms.url()), nil, nil, nil)

	var mu sync.Mutex
	var gotMetrics []model.DashboardMetrics
	o.OnMetrics(func(m model.DashboardMetrics) {
		mu.Lock()
		gotMetrics = append(gotMetrics, m)
		mu.Unlock()
	})

	if err := o.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop(context.Background())

	if o.Health().PollingActive {
		t.Error("polling active with a healthy transport")
	}

	// All three channels are subscribed without bandwidth optimization
	for _, ch := range []string{wire.TopicMetrics, wire.TopicTransactions, wire.TopicErrors} {
		waitFor(t, "subscription to "+ch, func() bool { return ms.subscribed(ch) })
	}

	ms.push(t, wire.TopicMetrics, model.DashboardMetrics{TotalVolume: 1250.5, ActiveUsers: 42})

	waitFor(t, "metrics callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotMetrics) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if gotMetrics[0].TotalVolume != 1250.5 || gotMetrics[0].ActiveUsers != 42 {
		t.Errorf("metrics = %+v, want TotalVolume 1250.5, ActiveUsers 42", gotMetrics[0])
	}
}

func TestStart_FallbackToPolling(t *testing.T) {
	snap := model.DashboardSnapshot{
		Metrics: model.DashboardMetrics{TotalVolume: 900, ActiveUsers: 7},
		Errors:  []model.ServiceError{{Code: "CANISTER_BUSY", Message: "canister under load"}},
	}
	var polls sync.WaitGroup
	polls.Add(1)
	apiServer := mockDashboardAPI(t, snap, &polls)
	defer apiServer.Close()

	client := api.NewClient(apiServer.URL, "test-key")

	o := New(Config{
		Fallback: FallbackPolling,
		Poll:     poller.Config{Interval: 20 * time.Millisecond, Timeout: time.Second},
	}, newTransport("ws://localhost:1"), client, nil, nil)

	var mu sync.Mutex
	var gotMetrics []model.DashboardMetrics
	var gotErrors []model.ServiceError
	o.OnMetrics(func(m model.DashboardMetrics) {
		mu.Lock()
		gotMetrics = append(gotMetrics, m)
		mu.Unlock()
	})
	o.OnErrors(func(e model.ServiceError) {
		mu.Lock()
		gotErrors = append(gotErrors, e)
		mu.Unlock()
	})

	if err := o.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start should fall back to polling, got: %v", err)
	}
	defer o.Stop(context.Background())

	if !o.Health().PollingActive {
		t.Error("polling not active after transport connect failure")
	}

	polls.Wait()
	waitFor(t, "polled snapshot fanout", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotMetrics) > 0 && len(gotErrors) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if gotMetrics[0].TotalVolume != 900 {
		t.Errorf("TotalVolume = %v, want 900", gotMetrics[0].TotalVolume)
	}
	if gotErrors[0].Code != "CANISTER_BUSY" {
		t.Errorf("error code = %s, want CANISTER_BUSY", gotErrors[0].Code)
	}
}

func TestStart_FallbackDisabled(t *testing.T) {
	o := New(Config{Fallback: FallbackNone}, newTransport("ws://localhost:1"), nil, nil, nil)

	if err := o.Start(context.Background(), ""); err == nil {
		t.Fatal("expected Start to fail with fallback disabled")
	}
	if o.Health().PollingActive {
		t.Error("polling active despite disabled fallback")
	}

	// A failed Start leaves the orchestrator stopped
	if err := o.Stop(context.Background()); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestStop_Idempotent(t *testing.T) {
	ms := newMockStream(t)
	defer ms.close()

	o := New(Config{Fallback: FallbackPolling}, newTransport(ms.url()), nil, nil, nil)

	if err := o.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := o.Stop(context.Background()); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestHandleSnapshot(t *testing.T) {
	o := New(Config{}, newTransport("ws://localhost:1"), nil, nil, nil)

	var gotMetrics []model.DashboardMetrics
	var gotTxs [][]model.Transaction
	var gotErrors []model.ServiceError
	o.OnMetrics(func(m model.DashboardMetrics) { gotMetrics = append(gotMetrics, m) })
	o.OnTransactions(func(txs []model.Transaction) { gotTxs = append(gotTxs, txs) })
	o.OnErrors(func(e model.ServiceError) { gotErrors = append(gotErrors, e) })

	err := o.HandleSnapshot(model.DashboardSnapshot{
		Metrics:      model.DashboardMetrics{ActiveUsers: 3},
		Transactions: []model.Transaction{{Amount: 10}, {Amount: 20}},
		Errors:       []model.ServiceError{{Code: "A"}, {Code: "B"}},
	})
	if err != nil {
		t.Fatalf("HandleSnapshot failed: %v", err)
	}

	if len(gotMetrics) != 1 || gotMetrics[0].ActiveUsers != 3 {
		t.Errorf("metrics fanout = %v, want one snapshot with 3 active users", gotMetrics)
	}
	if len(gotTxs) != 1 || len(gotTxs[0]) != 2 {
		t.Errorf("transactions fanout = %v, want one batch of 2", gotTxs)
	}
	if len(gotErrors) != 2 {
		t.Errorf("errors fanout = %v, want 2 individual errors", gotErrors)
	}

	h := o.Health()
	if h.LastMetricsAt.IsZero() || h.LastTransactionsAt.IsZero() || h.LastErrorsAt.IsZero() {
		t.Error("last-update timestamps not recorded")
	}
}

func TestCallbackUnregister(t *testing.T) {
	o := New(Config{}, newTransport("ws://localhost:1"), nil, nil, nil)

	calls := 0
	unregister := o.OnMetrics(func(model.DashboardMetrics) { calls++ })

	o.HandleSnapshot(model.DashboardSnapshot{})
	unregister()
	o.HandleSnapshot(model.DashboardSnapshot{})

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestBandwidthOptimization_TopicScoping(t *testing.T) {
	ms := newMockStream(t)
	defer ms.close()

	o := New(Config{
		Fallback:              FallbackPolling,
		BandwidthOptimization: true,
	}, newTransport(ms.url()), nil, nil, nil)

	if err := o.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop(context.Background())

	// No listeners yet, so no channels are subscribed
	time.Sleep(100 * time.Millisecond)
	if ms.subscribed(wire.TopicMetrics) || ms.subscribed(wire.TopicTransactions) {
		t.Error("channels subscribed without listeners under bandwidth optimization")
	}

	unregister := o.OnMetrics(func(model.DashboardMetrics) {})
	waitFor(t, "metrics subscription", func() bool { return ms.subscribed(wire.TopicMetrics) })
	if ms.subscribed(wire.TopicTransactions) {
		t.Error("transaction channel subscribed without listeners")
	}

	unregister()
	waitFor(t, "metrics unsubscription", func() bool { return !ms.subscribed(wire.TopicMetrics) })

	// Turning optimization off subscribes everything
	o.SetBandwidthOptimization(false)
	for _, ch := range []string{wire.TopicMetrics, wire.TopicTransactions, wire.TopicErrors} {
		waitFor(t, "subscription to "+ch, func() bool { return ms.subscribed(ch) })
	}

	if o.BandwidthOptimization() {
		t.Error("BandwidthOptimization() = true after disabling")
	}
}

func TestSwitchToPolling(t *testing.T) {
	ms := newMockStream(t)
	defer ms.close()

	var polls sync.WaitGroup
	polls.Add(1)
	apiServer := mockDashboardAPI(t, model.DashboardSnapshot{}, &polls)
	defer apiServer.Close()

	client := api.NewClient(apiServer.URL, "test-key")

	o := New(Config{
		Fallback: FallbackPolling,
		Poll:     poller.Config{Interval: 20 * time.Millisecond, Timeout: time.Second},
	}, newTransport(ms.url()), client, nil, nil)

	if err := o.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop(context.Background())

	if err := o.SwitchToPolling(context.Background()); err != nil {
		t.Fatalf("SwitchToPolling failed: %v", err)
	}
	if !o.Health().PollingActive {
		t.Error("polling not active after SwitchToPolling")
	}
	polls.Wait()

	// Calling it again is a no-op
	if err := o.SwitchToPolling(context.Background()); err != nil {
		t.Errorf("second SwitchToPolling failed: %v", err)
	}
}

func TestFallbackAfterExhaustion_DropsStreamSubscriptions(t *testing.T) {
	ms := newMockStream(t)

	var polls sync.WaitGroup
	polls.Add(1)
	apiServer := mockDashboardAPI(t, model.DashboardSnapshot{}, &polls)
	defer apiServer.Close()

	client := api.NewClient(apiServer.URL, "test-key")

	o := New(Config{
		Fallback: FallbackPolling,
		Poll:     poller.Config{Interval: 20 * time.Millisecond, Timeout: time.Second},
	}, newTransport(ms.url()), client, nil, nil)

	o.OnMetrics(func(model.DashboardMetrics) {})

	if err := o.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer o.Stop(context.Background())

	waitFor(t, "metrics subscription", func() bool { return ms.subscribed(wire.TopicMetrics) })

	// Kill the stream so reconnect attempts exhaust and polling takes over
	ms.close()
	waitFor(t, "polling fallback", func() bool { return o.Health().PollingActive })
	polls.Wait()

	// The stream subscriptions must be gone: a later successful dial would
	// otherwise replay them while polling is still delivering, making both
	// sources active at once.
	o.mu.Lock()
	retained := len(o.topicSubs)
	o.mu.Unlock()
	if retained != 0 {
		t.Errorf("%d stream subscriptions retained during polling, want 0", retained)
	}
}
