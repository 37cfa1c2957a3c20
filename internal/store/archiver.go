package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tidepay/realtime/internal/faults"
	"github.com/tidepay/realtime/internal/health"
)

// ArchiverConfig holds batch settings for the archive writer.
type ArchiverConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// errorRow is the persisted shape of a fault report.
type errorRow struct {
	ID          string
	Fingerprint string
	Type        string
	Severity    string
	Category    string
	Message     string
	Component   string
	Operation   string
	OccurredAt  time.Time
}

// scoreRow is the persisted shape of a subnet health sample.
type scoreRow struct {
	SubnetID    string
	Overall     float64
	Uptime      float64
	Performance float64
	Reliability float64
	ErrorRate   float64
	SampledAt   time.Time
}

// Archiver batches fault reports and health scores into Postgres for
// durable trend reporting. Entirely optional; the in-memory histories
// remain the source of truth for the live dashboard.
type Archiver struct {
	cfg    ArchiverConfig
	db     *pgxpool.Pool
	logger *slog.Logger

	batchMu     sync.Mutex
	errorBatch  []errorRow
	scoreBatch  []scoreRow
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewArchiver creates an Archiver writing to the given pool.
func NewArchiver(cfg ArchiverConfig, db *pgxpool.Pool, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		cfg:        cfg,
		db:         db,
		logger:     logger,
		errorBatch: make([]errorRow, 0, cfg.BatchSize),
		scoreBatch: make([]scoreRow, 0, cfg.BatchSize),
	}
}

// Start begins the periodic flush loop.
func (a *Archiver) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.flushTicker = time.NewTicker(a.cfg.FlushInterval)

	a.wg.Add(1)
	go a.flushLoop()

	a.logger.Info("archiver started",
		"batch_size", a.cfg.BatchSize,
		"flush_interval", a.cfg.FlushInterval,
	)
	return nil
}

// Stop flushes remaining rows and shuts down.
func (a *Archiver) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("archiver stop timed out")
	}

	// Final flush
	a.flush()

	a.logger.Info("archiver stopped")
	return nil
}

// RecordError queues a fault report for archival.
func (a *Archiver) RecordError(r *faults.Report) {
	row := errorRow{
		ID:          r.ID.String(),
		Fingerprint: faults.Fingerprint(r),
		Type:        string(r.Type),
		Severity:    string(r.Severity),
		Category:    string(r.Category),
		Message:     r.Message,
		Component:   r.Context.Component,
		Operation:   r.Context.Operation,
		OccurredAt:  r.Timestamp,
	}

	a.batchMu.Lock()
	a.errorBatch = append(a.errorBatch, row)
	shouldFlush := len(a.errorBatch) >= a.cfg.BatchSize
	a.batchMu.Unlock()

	if shouldFlush {
		a.flush()
	}
}

// RecordScore queues a subnet health sample for archival.
func (a *Archiver) RecordScore(subnetID string, s health.Score) {
	row := scoreRow{
		SubnetID:    subnetID,
		Overall:     s.Overall,
		Uptime:      s.Uptime,
		Performance: s.Performance,
		Reliability: s.Reliability,
		ErrorRate:   s.Factors.ErrorRate,
		SampledAt:   s.SampledAt,
	}

	a.batchMu.Lock()
	a.scoreBatch = append(a.scoreBatch, row)
	shouldFlush := len(a.scoreBatch) >= a.cfg.BatchSize
	a.batchMu.Unlock()

	if shouldFlush {
		a.flush()
	}
}

// flushLoop periodically flushes both batches.
func (a *Archiver) flushLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.flushTicker.C:
			a.flush()
		}
	}
}

// flush writes the current batches to the database.
func (a *Archiver) flush() {
	a.batchMu.Lock()
	errs := a.errorBatch
	scores := a.scoreBatch
	a.errorBatch = make([]errorRow, 0, a.cfg.BatchSize)
	a.scoreBatch = make([]scoreRow, 0, a.cfg.BatchSize)
	a.batchMu.Unlock()

	if len(errs) == 0 && len(scores) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, row := range errs {
		batch.Queue(
			`INSERT INTO error_reports
			 (id, fingerprint, type, severity, category, message, component, operation, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO NOTHING`,
			row.ID, row.Fingerprint, row.Type, row.Severity, row.Category,
			row.Message, row.Component, row.Operation, row.OccurredAt,
		)
	}
	for _, row := range scores {
		batch.Queue(
			`INSERT INTO subnet_scores
			 (subnet_id, overall, uptime, performance, reliability, error_rate, sampled_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			row.SubnetID, row.Overall, row.Uptime, row.Performance,
			row.Reliability, row.ErrorRate, row.SampledAt,
		)
	}

	results := a.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			a.logger.Warn("archive insert failed", "error", err)
		}
	}

	a.logger.Debug("archive flushed",
		"errors", len(errs),
		"scores", len(scores),
	)
}
