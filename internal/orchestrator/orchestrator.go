package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tidepay/realtime/internal/api"
	"github.com/tidepay/realtime/internal/faults"
	"github.com/tidepay/realtime/internal/model"
	"github.com/tidepay/realtime/internal/poller"
	"github.com/tidepay/realtime/internal/transport"
	"github.com/tidepay/realtime/internal/wire"
)

// Fallback modes.
const (
	FallbackPolling = "polling"
	FallbackNone    = "none"
)

// Config holds orchestrator configuration.
type Config struct {
	// Fallback selects what happens when the transport cannot connect:
	// FallbackPolling activates the polling loop, FallbackNone fails Start.
	Fallback string

	// BandwidthOptimization starts with reduced polling cadence and
	// topic subscriptions limited to registered listeners.
	BandwidthOptimization bool

	Poll poller.Config
}

// Health is the combined connection-health snapshot.
type Health struct {
	TransportStatus    transport.Status
	TransportQuality   transport.Quality
	PollingActive      bool
	ErrorCount         int64
	LastMetricsAt      time.Time
	LastTransactionsAt time.Time
	LastErrorsAt       time.Time
}

// Typed update callbacks.
type (
	MetricsCallback      func(model.DashboardMetrics)
	TransactionsCallback func([]model.Transaction)
	ErrorsCallback       func(model.ServiceError)
)

// Orchestrator prefers the streaming transport and falls back to polling,
// unifying both sources behind one set of typed callbacks. At most one
// source is active at a time.
type Orchestrator struct {
	cfg    Config
	tp     *transport.Transport
	client *api.Client
	faults *faults.Handler
	logger *slog.Logger

	mu            sync.Mutex
	running       bool
	pollingActive bool
	poll          *poller.Poller
	subnetHint    string
	bwOpt         bool
	topicSubs     map[string]uuid.UUID // topic -> transport subscription
	statusUnsub   func()
	ctx           context.Context
	cancel        context.CancelFunc

	lastMu             sync.Mutex
	lastMetricsAt      time.Time
	lastTransactionsAt time.Time
	lastErrorsAt       time.Time

	errorCount atomic.Int64

	cbMu        sync.RWMutex
	metricsSubs map[uuid.UUID]MetricsCallback
	txSubs      map[uuid.UUID]TransactionsCallback
	errSubs     map[uuid.UUID]ErrorsCallback
}

// New creates an Orchestrator.
func New(cfg Config, tp *transport.Transport, client *api.Client, fh *faults.Handler, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg,
		tp:          tp,
		client:      client,
		faults:      fh,
		logger:      logger,
		bwOpt:       cfg.BandwidthOptimization,
		topicSubs:   make(map[string]uuid.UUID),
		metricsSubs: make(map[uuid.UUID]MetricsCallback),
		txSubs:      make(map[uuid.UUID]TransactionsCallback),
		errSubs:     make(map[uuid.UUID]ErrorsCallback),
	}
}

// Start activates real-time updates. It tries the transport first; if the
// connect fails and the polling fallback is enabled, polling is activated
// and Start still succeeds. With fallback disabled a connect failure fails
// Start outright.
func (o *Orchestrator) Start(ctx context.Context, subnetHint string) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	o.subnetHint = subnetHint
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	err := o.tp.Connect(ctx, subnetHint)
	if err == nil {
		o.syncTopics()
		o.watchStatus()
		o.logger.Info("real-time updates started", "source", "transport", "subnet_hint", subnetHint)
		return nil
	}

	if o.cfg.Fallback != FallbackPolling {
		o.mu.Lock()
		o.running = false
		if o.cancel != nil {
			o.cancel()
		}
		o.mu.Unlock()
		return fmt.Errorf("start real-time updates: %w", err)
	}

	o.recordFault(err, "connect")
	o.logger.Warn("transport connect failed, falling back to polling", "error", err)

	if err := o.startPolling(); err != nil {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return fmt.Errorf("start polling fallback: %w", err)
	}

	o.watchStatus()
	o.logger.Info("real-time updates started", "source", "polling", "subnet_hint", subnetHint)
	return nil
}

// Stop tears down whichever data source is active. Calling it twice is
// safe.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	unsub := o.statusUnsub
	o.statusUnsub = nil
	poll := o.poll
	o.poll = nil
	o.pollingActive = false
	if o.cancel != nil {
		o.cancel()
	}
	for topic, id := range o.topicSubs {
		o.tp.Unsubscribe(id)
		delete(o.topicSubs, topic)
	}
	o.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	o.tp.Disconnect()

	if poll != nil {
		if err := poll.Stop(ctx); err != nil {
			return err
		}
	}

	o.logger.Info("real-time updates stopped")
	return nil
}

// OnMetrics registers a metrics listener and returns its unregister.
func (o *Orchestrator) OnMetrics(fn MetricsCallback) func() {
	id := uuid.New()
	o.cbMu.Lock()
	o.metricsSubs[id] = fn
	o.cbMu.Unlock()
	o.syncTopics()

	return func() {
		o.cbMu.Lock()
		delete(o.metricsSubs, id)
		o.cbMu.Unlock()
		o.syncTopics()
	}
}

// OnTransactions registers a transaction-feed listener.
func (o *Orchestrator) OnTransactions(fn TransactionsCallback) func() {
	id := uuid.New()
	o.cbMu.Lock()
	o.txSubs[id] = fn
	o.cbMu.Unlock()
	o.syncTopics()

	return func() {
		o.cbMu.Lock()
		delete(o.txSubs, id)
		o.cbMu.Unlock()
		o.syncTopics()
	}
}

// OnErrors registers a backend-error listener.
func (o *Orchestrator) OnErrors(fn ErrorsCallback) func() {
	id := uuid.New()
	o.cbMu.Lock()
	o.errSubs[id] = fn
	o.cbMu.Unlock()
	o.syncTopics()

	return func() {
		o.cbMu.Lock()
		delete(o.errSubs, id)
		o.cbMu.Unlock()
		o.syncTopics()
	}
}

// SetBandwidthOptimization toggles reduced polling cadence and listener-
// scoped topic subscriptions without restarting the active source.
func (o *Orchestrator) SetBandwidthOptimization(enabled bool) {
	o.mu.Lock()
	if o.bwOpt == enabled {
		o.mu.Unlock()
		return
	}
	o.bwOpt = enabled
	poll := o.poll
	o.mu.Unlock()

	if poll != nil {
		interval := o.cfg.Poll.Interval
		if interval == 0 {
			interval = poller.DefaultConfig().Interval
		}
		if enabled {
			interval *= 2
		}
		poll.SetInterval(interval)
	}

	o.syncTopics()
	o.logger.Info("bandwidth optimization toggled", "enabled", enabled)
}

// BandwidthOptimization reports the current setting.
func (o *Orchestrator) BandwidthOptimization() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bwOpt
}

// Health returns the combined health snapshot.
func (o *Orchestrator) Health() Health {
	o.mu.Lock()
	pollingActive := o.pollingActive
	o.mu.Unlock()

	o.lastMu.Lock()
	h := Health{
		TransportStatus:    o.tp.Status(),
		TransportQuality:   o.tp.Quality(),
		PollingActive:      pollingActive,
		ErrorCount:         o.errorCount.Load() + o.tp.Metrics().ErrorCount,
		LastMetricsAt:      o.lastMetricsAt,
		LastTransactionsAt: o.lastTransactionsAt,
		LastErrorsAt:       o.lastErrorsAt,
	}
	o.lastMu.Unlock()
	return h
}

// Reconnect forces a fresh transport connection attempt. Used as a
// recovery action.
func (o *Orchestrator) Reconnect(ctx context.Context) error {
	o.mu.Lock()
	hint := o.subnetHint
	o.mu.Unlock()

	if err := o.tp.Connect(ctx, hint); err != nil {
		return err
	}
	o.stopPollingIfActive(ctx)
	o.syncTopics()
	return nil
}

// SwitchToPolling abandons the transport and activates the polling
// fallback. Used as a recovery action.
func (o *Orchestrator) SwitchToPolling(ctx context.Context) error {
	o.mu.Lock()
	if o.pollingActive {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	o.dropTopics()
	o.tp.Disconnect()
	return o.startPolling()
}

// dropTopics removes every transport subscription so that a later dial's
// resubscribe replays nothing while polling is the active source.
func (o *Orchestrator) dropTopics() {
	o.mu.Lock()
	for topic, id := range o.topicSubs {
		o.tp.Unsubscribe(id)
		delete(o.topicSubs, topic)
	}
	o.mu.Unlock()
}

// HandleSnapshot feeds a polled snapshot through the same typed callbacks
// the streamed topics use. Implements poller.SnapshotHandler.
func (o *Orchestrator) HandleSnapshot(snap model.DashboardSnapshot) error {
	o.fanMetrics(snap.Metrics)
	if len(snap.Transactions) > 0 {
		o.fanTransactions(snap.Transactions)
	}
	for _, e := range snap.Errors {
		o.fanError(e)
	}
	return nil
}

// watchStatus escalates the transport's terminal failure to the fault
// handler and, when enabled, switches the data source to polling.
func (o *Orchestrator) watchStatus() {
	unsub := o.tp.OnStatusChange(func(s transport.Status) {
		if s != transport.StatusError {
			return
		}

		o.mu.Lock()
		running := o.running
		pollingActive := o.pollingActive
		o.mu.Unlock()
		if !running || pollingActive {
			return
		}

		// Automatic recovery is exhausted; this is the first moment the
		// fault becomes user-visible.
		o.recordFault(transport.ErrAttemptsExhausted, "stream")

		if o.cfg.Fallback != FallbackPolling {
			return
		}
		o.logger.Warn("transport exhausted reconnect attempts, switching to polling")
		o.dropTopics()
		if err := o.startPolling(); err != nil {
			o.logger.Error("failed to activate polling fallback", "error", err)
		}
	})

	o.mu.Lock()
	o.statusUnsub = unsub
	o.mu.Unlock()
}

// startPolling activates the polling loop if it is not already active.
func (o *Orchestrator) startPolling() error {
	o.mu.Lock()
	if o.pollingActive {
		o.mu.Unlock()
		return nil
	}

	cfg := o.cfg.Poll
	if cfg.Interval == 0 {
		cfg.Interval = poller.DefaultConfig().Interval
	}
	if o.bwOpt {
		cfg.Interval *= 2
	}

	p := poller.New(cfg, o.client, o, o.logger.With("component", "poller"))
	o.poll = p
	o.pollingActive = true
	ctx := o.ctx
	o.mu.Unlock()

	return p.Start(ctx)
}

// stopPollingIfActive stops the fallback after the transport recovers.
func (o *Orchestrator) stopPollingIfActive(ctx context.Context) {
	o.mu.Lock()
	poll := o.poll
	o.poll = nil
	o.pollingActive = false
	o.mu.Unlock()

	if poll != nil {
		if err := poll.Stop(ctx); err != nil {
			o.logger.Warn("failed to stop polling fallback", "error", err)
		}
	}
}

// syncTopics reconciles transport subscriptions with the desired topic
// set: all topics normally, listener-backed topics only under bandwidth
// optimization.
func (o *Orchestrator) syncTopics() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running || o.pollingActive {
		return
	}

	desired := make(map[string]bool)
	if o.bwOpt {
		o.cbMu.RLock()
		desired[wire.TopicMetrics] = len(o.metricsSubs) > 0
		desired[wire.TopicTransactions] = len(o.txSubs) > 0
		desired[wire.TopicErrors] = len(o.errSubs) > 0
		o.cbMu.RUnlock()
	} else {
		desired[wire.TopicMetrics] = true
		desired[wire.TopicTransactions] = true
		desired[wire.TopicErrors] = true
	}

	for topic, want := range desired {
		_, have := o.topicSubs[topic]
		switch {
		case want && !have:
			o.topicSubs[topic] = o.tp.Subscribe(topic, o.handlerFor(topic))
		case !want && have:
			o.tp.Unsubscribe(o.topicSubs[topic])
			delete(o.topicSubs, topic)
		}
	}
}

// handlerFor returns the transport callback that parses and fans out one
// topic's payloads.
func (o *Orchestrator) handlerFor(topic string) transport.MessageHandler {
	switch topic {
	case wire.TopicMetrics:
		return func(env wire.Envelope) {
			var m model.DashboardMetrics
			if err := json.Unmarshal(env.Data, &m); err != nil {
				o.payloadError(topic, err)
				return
			}
			o.fanMetrics(m)
		}
	case wire.TopicTransactions:
		return func(env wire.Envelope) {
			var txs []model.Transaction
			if err := json.Unmarshal(env.Data, &txs); err != nil {
				// Single-transaction payloads are also valid.
				var tx model.Transaction
				if err := json.Unmarshal(env.Data, &tx); err != nil {
					o.payloadError(topic, err)
					return
				}
				txs = []model.Transaction{tx}
			}
			o.fanTransactions(txs)
		}
	default:
		return func(env wire.Envelope) {
			var se model.ServiceError
			if err := json.Unmarshal(env.Data, &se); err != nil {
				o.payloadError(topic, err)
				return
			}
			o.fanError(se)
		}
	}
}

func (o *Orchestrator) payloadError(topic string, err error) {
	o.errorCount.Add(1)
	o.logger.Debug("dropping unparsable payload", "topic", topic, "error", err)
}

// recordFault routes an escalated fault through the handler.
func (o *Orchestrator) recordFault(err error, operation string) {
	o.errorCount.Add(1)
	if o.faults == nil {
		return
	}
	o.faults.Handle(err, faults.Context{
		Component: "orchestrator",
		Operation: operation,
		SubnetID:  o.subnetHint,
	})
}

func (o *Orchestrator) fanMetrics(m model.DashboardMetrics) {
	o.lastMu.Lock()
	o.lastMetricsAt = time.Now()
	o.lastMu.Unlock()

	o.cbMu.RLock()
	subs := make([]MetricsCallback, 0, len(o.metricsSubs))
	for _, fn := range o.metricsSubs {
		subs = append(subs, fn)
	}
	o.cbMu.RUnlock()

	for _, fn := range subs {
		fn(m)
	}
}

func (o *Orchestrator) fanTransactions(txs []model.Transaction) {
	o.lastMu.Lock()
	o.lastTransactionsAt = time.Now()
	o.lastMu.Unlock()

	o.cbMu.RLock()
	subs := make([]TransactionsCallback, 0, len(o.txSubs))
	for _, fn := range o.txSubs {
		subs = append(subs, fn)
	}
	o.cbMu.RUnlock()

	for _, fn := range subs {
		fn(txs)
	}
}

func (o *Orchestrator) fanError(se model.ServiceError) {
	o.lastMu.Lock()
	o.lastErrorsAt = time.Now()
	o.lastMu.Unlock()

	o.cbMu.RLock()
	subs := make([]ErrorsCallback, 0, len(o.errSubs))
	for _, fn := range o.errSubs {
		subs = append(subs, fn)
	}
	o.cbMu.RUnlock()

	for _, fn := range subs {
		fn(se)
	}
}
