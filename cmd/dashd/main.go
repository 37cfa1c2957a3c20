package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tidepay/realtime/internal/api"
	"github.com/tidepay/realtime/internal/config"
	"github.com/tidepay/realtime/internal/faults"
	"github.com/tidepay/realtime/internal/health"
	"github.com/tidepay/realtime/internal/metrics"
	"github.com/tidepay/realtime/internal/model"
	"github.com/tidepay/realtime/internal/orchestrator"
	"github.com/tidepay/realtime/internal/poller"
	"github.com/tidepay/realtime/internal/store"
	"github.com/tidepay/realtime/internal/transport"
	"github.com/tidepay/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/dashd.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting dashd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.Realtime.WSURL,
		"api_url", cfg.API.BaseURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create API client (polling fallback + health sampler)
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Create transport
	tp := transport.New(transport.Config{
		URL:               cfg.Realtime.WSURL,
		HandshakeTimeout:  cfg.Realtime.HandshakeTimeout,
		WriteTimeout:      cfg.Realtime.WriteTimeout,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		Reconnect: transport.ReconnectPolicy{
			MaxAttempts:       cfg.Realtime.Reconnect.MaxAttempts,
			InitialDelay:      cfg.Realtime.Reconnect.InitialDelay,
			MaxDelay:          cfg.Realtime.Reconnect.MaxDelay,
			BackoffMultiplier: cfg.Realtime.Reconnect.BackoffMultiplier,
			Jitter:            cfg.Realtime.Reconnect.Jitter,
		},
	}, logger)

	// Fault handler with recovery actions wired to the orchestrator. The
	// orchestrator does not exist yet, so the closures bind late.
	var orch *orchestrator.Orchestrator
	fh := faults.New(logger, faults.ActionFuncs{
		Retry:     func(ctx context.Context) error { return orch.Reconnect(ctx) },
		Reconnect: func(ctx context.Context) error { return orch.Reconnect(ctx) },
		Fallback:  func(ctx context.Context) error { return orch.SwitchToPolling(ctx) },
	})

	orch = orchestrator.New(orchestrator.Config{
		Fallback:              cfg.Realtime.Fallback,
		BandwidthOptimization: cfg.Realtime.BandwidthOptimization,
		Poll: poller.Config{
			Interval: cfg.Poller.Interval,
			Timeout:  cfg.Poller.Timeout,
		},
	}, tp, apiClient, fh, logger)

	// Subnet health monitor sampling the REST API
	monitor := health.NewMonitor(health.Config{
		Interval:         cfg.Health.Interval,
		SampleTimeout:    cfg.Health.SampleTimeout,
		UptimeMin:        cfg.Health.UptimeMin,
		PerformanceFloor: cfg.Health.PerformanceFloor,
		AlertCooldown:    cfg.Health.AlertCooldown,
	}, health.SamplerFunc(func(ctx context.Context, subnetID string) (health.Score, error) {
		sample, err := apiClient.GetSubnetHealth(ctx, subnetID)
		if err != nil {
			return health.Score{}, err
		}
		return health.Score{
			Overall:     sample.Overall,
			Uptime:      sample.Uptime,
			Performance: sample.Performance,
			Reliability: sample.Reliability,
			Factors: health.Factors{
				ResponseTime:    sample.ResponseTimeMs,
				Throughput:      sample.Throughput,
				ErrorRate:       sample.ErrorRate,
				ConsensusHealth: sample.ConsensusHealth,
				NodeHealth:      sample.NodeHealth,
			},
			Recommendations: sample.Recommendations,
			SampledAt:       time.Now(),
		}, nil
	}), logger)

	for _, sn := range cfg.Health.Subnets {
		monitor.RegisterSubnet(model.SubnetInfo{
			ID:        sn.ID,
			Name:      sn.Name,
			NodeCount: sn.NodeCount,
			Region:    sn.Region,
		})
	}

	monitor.OnAlert(func(a health.Alert) {
		logger.Warn("subnet alert",
			"subnet_id", a.SubnetID,
			"level", a.Level,
			"type", a.Type,
			"message", a.Message,
		)
	})

	// Optional Postgres archive for fault reports and health scores
	var archiver *store.Archiver
	if cfg.Store.Enabled {
		logger.Info("connecting to postgres",
			"host", cfg.Store.Postgres.Host,
			"port", cfg.Store.Postgres.Port,
			"database", cfg.Store.Postgres.Name,
		)
		db, err := store.Connect(ctx, cfg.Store.Postgres)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		archiver = store.NewArchiver(store.ArchiverConfig{
			BatchSize:     cfg.Store.BatchSize,
			FlushInterval: cfg.Store.FlushInterval,
		}, db, logger)

		fh.OnReport(func(r *faults.Report) { archiver.RecordError(r) })
		monitor.OnScore(func(subnetID string, s health.Score) { archiver.RecordScore(subnetID, s) })
	}

	// Prometheus registry and scrape endpoint
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics.Register(reg, tp, orch, monitor)

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler(orch, monitor))
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}

	// Start components
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "port", cfg.Metrics.Port)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if archiver != nil {
		if err := archiver.Start(gctx); err != nil {
			logger.Error("failed to start archiver", "error", err)
			os.Exit(1)
		}
	}

	if err := monitor.Start(gctx); err != nil {
		logger.Error("failed to start health monitor", "error", err)
		os.Exit(1)
	}

	if err := orch.Start(gctx, ""); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}

	logger.Info("dashd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	// Wait for shutdown
	<-gctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", "error", err)
	}
	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.Error("health monitor shutdown error", "error", err)
	}
	if archiver != nil {
		if err := archiver.Stop(shutdownCtx); err != nil {
			logger.Error("archiver shutdown error", "error", err)
		}
	}
	httpServer.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil {
		logger.Error("component error", "error", err)
	}

	logger.Info("dashd stopped")
}

// healthHandler reports the combined connection and subnet health.
func healthHandler(orch *orchestrator.Orchestrator, monitor *health.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := orch.Health()

		resp := struct {
			Status       string                 `json:"status"`
			Transport    string                 `json:"transport"`
			Quality      string                 `json:"quality"`
			Polling      bool                   `json:"polling"`
			ActiveAlerts int                    `json:"active_alerts"`
			Subnets      map[string]interface{} `json:"subnets"`
		}{
			Status:       "healthy",
			Transport:    string(h.TransportStatus),
			Quality:      string(h.TransportQuality),
			Polling:      h.PollingActive,
			ActiveAlerts: len(monitor.ActiveAlerts("")),
			Subnets:      make(map[string]interface{}),
		}

		scores := monitor.HealthStatus()
		for _, info := range monitor.Subnets() {
			entry := map[string]interface{}{"name": info.Name}
			if score, ok := scores[info.ID]; ok {
				entry["overall"] = score.Overall
			}
			resp.Subnets[info.ID] = entry
		}

		w.Header().Set("Content-Type", "application/json")
		if h.TransportStatus == transport.StatusError && !h.PollingActive {
			resp.Status = "unhealthy"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else if h.PollingActive {
			resp.Status = "degraded"
		}
		json.NewEncoder(w).Encode(resp)
	}
}
