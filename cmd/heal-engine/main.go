package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-heal/internal/automation"
	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/classify"
	"github.com/miradorstack/mirador-heal/internal/collector"
	"github.com/miradorstack/mirador-heal/internal/config"
	"github.com/miradorstack/mirador-heal/internal/faults"
	"github.com/miradorstack/mirador-heal/internal/graph"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/notify"
	"github.com/miradorstack/mirador-heal/internal/patterns"
	"github.com/miradorstack/mirador-heal/internal/remediation"
	"github.com/miradorstack/mirador-heal/internal/repo"
	"github.com/miradorstack/mirador-heal/internal/store"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-heal",
		slog.String("metrics_address", cfg.Server.MetricsAddress),
		slog.Duration("detection_tick", cfg.Detection.TickInterval))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var cacheCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			cacheCloser = provider
		}
	}
	if cacheCloser != nil {
		defer cacheCloser.Close()
	}

	coreClient := repo.NewCoreClient(repo.CoreClientConfig{
		BaseURL:             cfg.Clients.Core.BaseURL,
		SummaryPath:         cfg.Clients.Core.SummaryPath,
		HistoryPath:         cfg.Clients.Core.HistoryPath,
		ErrorStatsPath:      cfg.Clients.Core.ErrorStatsPath,
		RecommendationsPath: cfg.Clients.Core.RecommendationsPath,
		Timeout:             cfg.Clients.Core.Timeout,
		SummaryTTL:          cfg.Cache.SummaryTTL,
		ErrorStatsTTL:       cfg.Cache.ErrorStatsTTL,
		RecommendationsTTL:  cfg.Cache.RecommendationsTTL,
	}, cacheProvider)

	metricStore := store.NewMetricStore(store.DefaultCapacity)

	depGraph := graph.NewDependencyGraph()
	for _, service := range cfg.Topology {
		for _, dep := range service.Dependencies {
			err := depGraph.Register(models.ServiceDependency{
				ServiceName:      service.Name,
				DependencyName:   dep.Name,
				Type:             models.DependencyType(dep.Type),
				TimeoutThreshold: dep.TimeoutThreshold,
				FailureThreshold: dep.FailureThreshold,
			})
			if err != nil {
				logger.Error("failed to register dependency",
					slog.String("service", service.Name),
					slog.String("dependency", dep.Name),
					slog.Any("error", err))
				os.Exit(1)
			}
		}
	}

	registry := classify.NewPatternRegistry()
	for _, spec := range cfg.Patterns {
		registry.Register(models.FaultPattern{
			ID:        spec.ID,
			Type:      spec.Type,
			Features:  spec.Features,
			Threshold: spec.Threshold,
		})
	}

	classifier := classify.NewClassifier(logger, metricStore, depGraph, coreClient, registry)
	notifier := notify.NewLogNotifier(logger)

	manager := faults.NewManager(logger, metricStore, classifier, notifier)
	manager.SetTickInterval(cfg.Detection.TickInterval)
	manager.SetHistorySize(cfg.Detection.HistorySize)

	miner := patterns.NewRunner(logger, patterns.NewMiner(logger), manager, classifier.Patterns(), patterns.DefaultMineInterval)

	poller, err := collector.New(coreClient, metricStore, cfg.Detection.SampleInterval, logger)
	if err != nil {
		logger.Error("failed to build collector", slog.Any("error", err))
		os.Exit(1)
	}

	driver := remediation.NewSimDriver(logger, 100*time.Millisecond)

	scaler := automation.NewScaler(logger, driver, automation.ScalingPolicy{
		MinInstances:      cfg.Scaling.MinInstances,
		MaxInstances:      cfg.Scaling.MaxInstances,
		StartInstances:    cfg.Scaling.StartInstances,
		ScaleUpCooldown:   cfg.Scaling.UpCooldown,
		ScaleDownCooldown: cfg.Scaling.DownCooldown,
	})
	coordinator := notify.NewEscalationCoordinator(logger, notifier)
	recovery := automation.NewRecoveryRunner(logger, driver, depGraph, scaler, coordinator, 2*time.Second)

	rules, err := automation.LoadRules(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	engine := automation.NewEngine(logger, metricStore, driver, scaler, recovery, coreClient, automation.EngineConfig{
		EvaluationInterval:      cfg.Automation.EvaluationInterval,
		MaxConcurrentOperations: cfg.Automation.MaxConcurrentOperations,
		MaxRecoveriesPerHour:    cfg.Automation.MaxRecoveriesPerHour,
		RecoveryOptOut:          cfg.Automation.RecoveryOptOut,
	})
	for _, rule := range rules {
		if err := engine.AddRule(rule); err != nil {
			logger.Error("failed to install rule", slog.String("rule_id", rule.RuleID), slog.Any("error", err))
			os.Exit(1)
		}
	}

	manager.Subscribe(engine.HandleFault)
	engine.SetEmergencyCheck(func() bool {
		for _, fault := range manager.ActiveFaults() {
			if fault.Severity == models.SeverityCritical {
				return true
			}
		}
		return false
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	warmupCtx, cancelWarmup := context.WithTimeout(ctx, 30*time.Second)
	if err := poller.Warmup(warmupCtx, cfg.Detection.BaselineMinSamples); err != nil {
		logger.Warn("baseline warmup skipped", slog.Any("error", err))
	}
	cancelWarmup()

	poller.Start(ctx)
	manager.Start(ctx)
	engine.Start(ctx)
	miner.Start(ctx)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	miner.Stop()
	engine.Stop()
	manager.Stop()
	poller.Stop()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("mirador-heal stopped")
}
