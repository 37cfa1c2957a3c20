package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidepay/realtime/internal/api"
	"github.com/tidepay/realtime/internal/model"
)

// SnapshotHandler receives fetched dashboard snapshots.
type SnapshotHandler interface {
	HandleSnapshot(snapshot model.DashboardSnapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(model.DashboardSnapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(s model.DashboardSnapshot) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 10s)
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Poller periodically fetches the dashboard snapshot over REST. It is the
// fallback data source when the streaming transport is unavailable.
type Poller struct {
	cfg     Config
	client  *api.Client
	handler SnapshotHandler
	logger  *slog.Logger

	interval atomic.Int64 // Current interval in nanoseconds, adjustable at runtime
	ticker   *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	polls  atomic.Int64
	errors atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, client *api.Client, handler SnapshotHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	p := &Poller{
		cfg:     cfg,
		client:  client,
		handler: handler,
		logger:  logger,
	}
	p.interval.Store(int64(cfg.Interval))
	return p
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.ticker = time.NewTicker(p.Interval())

	p.wg.Add(1)
	go p.run()

	p.logger.Info("polling fallback started", "interval", p.Interval())
	return nil
}

// Stop gracefully shuts down the poller. Calling it twice is safe.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("polling fallback stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interval returns the current polling interval.
func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetInterval changes the polling cadence without restarting the loop.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.interval.Store(int64(d))
	if p.ticker != nil {
		p.ticker.Reset(d)
	}
	p.logger.Debug("poll interval changed", "interval", d)
}

// Stats returns cumulative poll and error counts.
func (p *Poller) Stats() (polls, errors int64) {
	return p.polls.Load(), p.errors.Load()
}

// run is the main polling loop. A failed poll never halts the next tick.
func (p *Poller) run() {
	defer p.wg.Done()
	defer p.ticker.Stop()

	// Poll immediately on start.
	p.poll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.ticker.C:
			p.poll()
		}
	}
}

// poll fetches one snapshot and hands it to the handler.
func (p *Poller) poll() {
	start := time.Now()
	p.polls.Add(1)

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	snap, err := p.client.GetDashboardSnapshot(ctx)
	if err != nil {
		p.errors.Add(1)
		p.logger.Warn("failed to poll dashboard snapshot", "err", err)
		return
	}

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(*snap); err != nil {
			p.errors.Add(1)
			p.logger.Warn("snapshot handler failed", "err", err)
			return
		}
	}

	p.logger.Debug("poll cycle complete",
		"transactions", len(snap.Transactions),
		"errors", len(snap.Errors),
		"duration", time.Since(start),
	)
}
