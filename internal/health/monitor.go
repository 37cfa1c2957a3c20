package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tidepay/realtime/internal/model"
)

// Monitor periodically samples registered subnets, scores them, and raises
// deduplicated alerts when thresholds are crossed.
type Monitor struct {
	cfg     Config
	sampler Sampler
	logger  *slog.Logger

	mu        sync.Mutex
	subnets   map[string]model.SubnetInfo
	latest    map[string]Score
	history   map[string][]Score
	alerts    []*Alert
	rules     []Rule
	subsMu    sync.Mutex
	subs      map[uuid.UUID]func(Alert)
	scoreSubs map[uuid.UUID]func(string, Score)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewMonitor creates a Monitor. The sampler may be nil when scores arrive
// only via UpdateSubnetHealth.
func NewMonitor(cfg Config, sampler Sampler, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.SampleTimeout == 0 {
		cfg.SampleTimeout = DefaultConfig().SampleTimeout
	}
	if cfg.AlertCooldown == 0 {
		cfg.AlertCooldown = DefaultConfig().AlertCooldown
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}

	m := &Monitor{
		cfg:       cfg,
		sampler:   sampler,
		logger:    logger,
		subnets:   make(map[string]model.SubnetInfo),
		latest:    make(map[string]Score),
		history:   make(map[string][]Score),
		subs:      make(map[uuid.UUID]func(Alert)),
		scoreSubs: make(map[uuid.UUID]func(string, Score)),
		now:       time.Now,
	}
	m.rules = []Rule{m.uptimeRule, m.performanceRule}
	return m
}

// RegisterSubnet adds a subnet to the monitored set.
func (m *Monitor) RegisterSubnet(info model.SubnetInfo) {
	m.mu.Lock()
	m.subnets[info.ID] = info
	m.mu.Unlock()

	m.logger.Info("subnet registered",
		"subnet_id", info.ID,
		"name", info.Name,
		"nodes", info.NodeCount,
	)
}

// Subnets returns the registered subnets.
func (m *Monitor) Subnets() []model.SubnetInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.SubnetInfo, 0, len(m.subnets))
	for _, info := range m.subnets {
		out = append(out, info)
	}
	return out
}

// AddRule installs an additional alert rule evaluated on every new score.
func (m *Monitor) AddRule(r Rule) {
	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// UpdateSubnetHealth appends a score to the subnet's bounded history and
// evaluates the alert rules against it.
func (m *Monitor) UpdateSubnetHealth(subnetID string, s Score) {
	if s.SampledAt.IsZero() {
		s.SampledAt = m.now()
	}

	m.mu.Lock()
	m.latest[subnetID] = s
	hist := append(m.history[subnetID], s)
	if len(hist) > m.cfg.HistoryLimit {
		hist = hist[len(hist)-m.cfg.HistoryLimit:]
	}
	m.history[subnetID] = hist
	rules := make([]Rule, len(m.rules))
	copy(rules, m.rules)
	m.mu.Unlock()

	m.subsMu.Lock()
	scoreSubs := make([]func(string, Score), 0, len(m.scoreSubs))
	for _, fn := range m.scoreSubs {
		scoreSubs = append(scoreSubs, fn)
	}
	m.subsMu.Unlock()
	for _, fn := range scoreSubs {
		fn(subnetID, s)
	}

	for _, rule := range rules {
		alert, crossed := rule(subnetID, s)
		if !crossed {
			continue
		}
		m.raise(alert)
	}
}

// OnScore registers a subscriber invoked with every accepted score.
// The returned func unregisters it.
func (m *Monitor) OnScore(fn func(subnetID string, s Score)) func() {
	id := uuid.New()
	m.subsMu.Lock()
	m.scoreSubs[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.scoreSubs, id)
		m.subsMu.Unlock()
	}
}

// HealthStatus returns the latest score per subnet.
func (m *Monitor) HealthStatus() map[string]Score {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Score, len(m.latest))
	for id, s := range m.latest {
		out[id] = s
	}
	return out
}

// ScoreHistory returns the retained scores for one subnet, oldest first.
func (m *Monitor) ScoreHistory(subnetID string) []Score {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist := m.history[subnetID]
	out := make([]Score, len(hist))
	copy(out, hist)
	return out
}

// ActiveAlerts returns unacknowledged alerts; subnetID filters when
// non-empty.
func (m *Monitor) ActiveAlerts(subnetID string) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alert
	for _, a := range m.alerts {
		if a.Acknowledged {
			continue
		}
		if subnetID != "" && a.SubnetID != subnetID {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Acknowledge marks an alert as seen. Returns false for unknown IDs.
func (m *Monitor) Acknowledge(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.alerts {
		if a.ID == id {
			a.Acknowledged = true
			return true
		}
	}
	return false
}

// Resolve stamps an alert resolved. Implies acknowledgement.
func (m *Monitor) Resolve(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.alerts {
		if a.ID == id {
			now := m.now()
			a.Acknowledged = true
			a.ResolvedAt = &now
			return true
		}
	}
	return false
}

// OnAlert registers an alert subscriber and returns its unregister.
func (m *Monitor) OnAlert(fn func(Alert)) func() {
	id := uuid.New()
	m.subsMu.Lock()
	m.subs[id] = fn
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

// Start begins the sampling loop.
func (m *Monitor) Start(ctx context.Context) error {
	if m.sampler == nil {
		return fmt.Errorf("monitor has no sampler")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("health monitor started",
		"interval", m.cfg.Interval,
		"uptime_min", m.cfg.UptimeMin,
		"performance_floor", m.cfg.PerformanceFloor,
	)
	return nil
}

// Stop cancels the sampling loop. Calling it twice is safe.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("health monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the sampling loop. A failed sample never halts subsequent ticks.
func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.sampleAll()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sampleAll()
		}
	}
}

// sampleAll fetches a score for every registered subnet.
func (m *Monitor) sampleAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subnets))
	for id := range m.subnets {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		ctx, cancel := context.WithTimeout(m.ctx, m.cfg.SampleTimeout)
		score, err := m.sampler.Sample(ctx, id)
		cancel()

		if err != nil {
			m.logger.Warn("failed to sample subnet", "subnet_id", id, "error", err)
			continue
		}
		m.UpdateSubnetHealth(id, score)
	}
}

// raise creates an alert unless an unacknowledged alert of the same
// (subnet, type) already exists within the cooldown window.
func (m *Monitor) raise(alert Alert) {
	now := m.now()

	m.mu.Lock()
	for _, a := range m.alerts {
		if a.SubnetID == alert.SubnetID && a.Type == alert.Type &&
			!a.Acknowledged && now.Sub(a.Timestamp) < m.cfg.AlertCooldown {
			m.mu.Unlock()
			return
		}
	}

	alert.ID = uuid.New()
	alert.Timestamp = now
	stored := alert
	m.alerts = append(m.alerts, &stored)
	m.compactAlertsLocked()
	m.mu.Unlock()

	m.logger.Warn("health alert raised",
		"subnet_id", alert.SubnetID,
		"type", alert.Type,
		"level", alert.Level,
		"value", alert.Metadata.CurrentValue,
		"threshold", alert.Metadata.Threshold,
	)

	m.notify(alert)
}

// compactAlertsLocked bounds the alert records at the history limit,
// evicting acknowledged entries first, then the oldest. Caller holds m.mu.
func (m *Monitor) compactAlertsLocked() {
	over := len(m.alerts) - m.cfg.HistoryLimit
	if over <= 0 {
		return
	}

	kept := make([]*Alert, 0, m.cfg.HistoryLimit)
	for _, a := range m.alerts {
		if over > 0 && a.Acknowledged {
			over--
			continue
		}
		kept = append(kept, a)
	}
	if over > 0 {
		kept = kept[over:]
	}
	m.alerts = kept
}

// notify fans the alert out to subscribers. A panicking subscriber is
// logged and does not stop delivery to the rest.
func (m *Monitor) notify(alert Alert) {
	m.subsMu.Lock()
	subs := make([]func(Alert), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.subsMu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("alert subscriber panicked", "panic", r)
				}
			}()
			fn(alert)
		}()
	}
}

func (m *Monitor) uptimeRule(subnetID string, s Score) (Alert, bool) {
	if s.Uptime >= m.cfg.UptimeMin {
		return Alert{}, false
	}
	return Alert{
		SubnetID: subnetID,
		Level:    LevelCritical,
		Type:     AlertUptime,
		Title:    "Subnet uptime below minimum",
		Message:  fmt.Sprintf("uptime %.2f%% below minimum %.2f%%", s.Uptime, m.cfg.UptimeMin),
		Metadata: AlertMetadata{
			CurrentValue:    s.Uptime,
			Threshold:       m.cfg.UptimeMin,
			EstimatedImpact: "payments on this subnet may fail",
		},
	}, true
}

func (m *Monitor) performanceRule(subnetID string, s Score) (Alert, bool) {
	if s.Performance >= m.cfg.PerformanceFloor {
		return Alert{}, false
	}
	return Alert{
		SubnetID: subnetID,
		Level:    LevelWarning,
		Type:     AlertPerformance,
		Title:    "Subnet performance degraded",
		Message:  fmt.Sprintf("performance %.1f below floor %.1f", s.Performance, m.cfg.PerformanceFloor),
		Metadata: AlertMetadata{
			CurrentValue:    s.Performance,
			Threshold:       m.cfg.PerformanceFloor,
			EstimatedImpact: "settlement latency elevated",
		},
	}, true
}
