package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/t77yq/crisiswatch/internal/analysis"
	"github.com/t77yq/crisiswatch/internal/api"
	"github.com/t77yq/crisiswatch/internal/channel"
	"github.com/t77yq/crisiswatch/internal/collector"
	"github.com/t77yq/crisiswatch/internal/config"
	"github.com/t77yq/crisiswatch/internal/delivery"
	"github.com/t77yq/crisiswatch/internal/directory"
	"github.com/t77yq/crisiswatch/internal/llm"
	"github.com/t77yq/crisiswatch/internal/logging"
	"github.com/t77yq/crisiswatch/internal/monitor"
	"github.com/t77yq/crisiswatch/internal/routing"
	"github.com/t77yq/crisiswatch/internal/storage"
	"github.com/t77yq/crisiswatch/internal/workflow"
)

const defaultSchedule = "0 */5 * * * *"

func main() {
	// Secrets may live in .env; a missing file is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to NATS
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Delivery
	registry := channel.BuildRegistry(cfg.Channels, logger)
	if missing := registry.Unavailable(cfg.EnabledChannels()); len(missing) > 0 {
		logger.Warn("Enabled channels are missing provider settings and will be skipped",
			zap.Any("channels", missing))
	}

	history, err := storage.NewSQLiteDeliveryHistory(logger, cfg.History.DBPath)
	if err != nil {
		logger.Fatal("Failed to open delivery history", zap.Error(err))
	}
	defer history.Close()

	escalator := delivery.NewJetStreamEscalator(js, logger)
	if err := escalator.EnsureStream(); err != nil {
		logger.Fatal("Failed to create escalation stream", zap.Error(err))
	}

	manager, err := delivery.NewManager(registry, delivery.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Retry:       delivery.BackoffList(cfg.Retry.Backoff),
		SendTimeout: cfg.Delivery.SendTimeout,
		Limiter:     delivery.NewProviderLimiter(cfg.RateLimit),
		History:     history,
		Escalator:   escalator,
		Registerer:  prometheus.DefaultRegisterer,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create delivery manager", zap.Error(err))
	}

	// Analysis
	var reasoner analysis.Reasoner
	if cfg.Reasoning.Enabled {
		client, err := llm.NewClient(ctx, cfg.Reasoning.APIKey, cfg.Reasoning.Model, logger)
		if err != nil {
			logger.Fatal("Failed to create reasoning client", zap.Error(err))
		}
		defer client.Close()
		reasoner = client
	}
	engine := analysis.NewEngine(logger, reasoner, analysis.NewPatternLibrary())

	// Routing
	dir, err := directory.NewStaticDirectory(cfg.Recipients)
	if err != nil {
		logger.Fatal("Failed to load recipients", zap.Error(err))
	}
	router := routing.NewEngine(logger, dir, routing.Config{
		HighDelayMinutes:      cfg.Escalation.HighDelayMinutes,
		CriticalDelayMinutes:  cfg.Escalation.CriticalDelayMinutes,
		EscalationRecipientID: cfg.Escalation.RecipientID,
	})

	// Collection
	mentions := collector.NewStreamCollector(js, cfg.Collector.Retention, logger)
	if err := mentions.Start(ctx); err != nil {
		logger.Fatal("Failed to start collector", zap.Error(err))
	}

	orchestrator := workflow.NewOrchestrator(mentions, mentions, engine, router, manager, workflow.Config{
		AlertThreshold:      cfg.AlertThreshold,
		LearningSeverityMin: cfg.LearningSeverityMin,
		MaxParallelRoutes:   cfg.Delivery.MaxParallelRoutes,
	}, logger)

	// Scheduled scans
	mon := monitor.NewMonitor(js, orchestrator, cfg.Monitor.Lookback, logger)
	for _, c := range cfg.Campaigns {
		schedule := c.Schedule
		if schedule == "" {
			schedule = defaultSchedule
		}
		if _, err := mon.AddCampaign(c.Context(), schedule); err != nil {
			logger.Fatal("Failed to schedule campaign",
				zap.String("campaign_id", c.ID),
				zap.Error(err))
		}
	}
	if err := mon.Start(ctx); err != nil {
		logger.Fatal("Failed to start monitor", zap.Error(err))
	}

	sampler := monitor.NewHealthSampler(cfg.Monitor.HealthInterval, prometheus.DefaultRegisterer, logger)
	sampler.Start(ctx)

	// HTTP API
	server := api.New(api.Config{
		Addr:       cfg.HTTP.Addr,
		Mode:       cfg.HTTP.Mode,
		Delivery:   manager,
		Health:     sampler,
		Mentions:   mentions,
		Campaigns:  mon,
		Providers:  registry,
		Patterns:   engine.Patterns(),
		Recipients: dir,
		Gatherer:   prometheus.DefaultGatherer,
	}, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("HTTP server stopped", zap.Error(err))
			cancel()
		}
	}()

	// Delivery history retention
	go func() {
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanupTicker.C:
				cutoff := time.Now().Add(-cfg.History.Retention)
				if _, err := history.DeleteBefore(ctx, cutoff); err != nil {
					logger.Error("Failed to cleanup old delivery history", zap.Error(err))
				}
			}
		}
	}()

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("Crisis monitor running",
		zap.Int("campaigns", len(cfg.Campaigns)),
		zap.Int("recipients", len(cfg.Recipients)),
		zap.Any("channels", registry.Available()))

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	mon.Stop()
	mentions.Stop()
	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}

	logger.Info("Server shutting down gracefully")
}
