package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"catalyst-bot/internal/alerts"
	"catalyst-bot/internal/api"
	"catalyst-bot/internal/broker"
	"catalyst-bot/internal/engine"
	"catalyst-bot/internal/interfaces"
	"catalyst-bot/internal/llm"
	"catalyst-bot/internal/logger"
	"catalyst-bot/internal/marketdata"
	"catalyst-bot/internal/sentiment"
	"catalyst-bot/internal/store"
	"catalyst-bot/internal/velocity"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()
	must(logger.Init())

	cfg, err := store.LoadConfig(*configPath)
	must(err)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, err := store.OpenEventStore(cfg.Store.Path)
	must(err)
	defer events.Close()

	var tracker *velocity.Tracker
	if cfg.Features.VelocityEnabled {
		tracker = velocity.New(events, cfg.Velocity.RetentionDays)
	}

	weights := sentiment.Weights{
		Lexical:    cfg.Fusion.Weights.Lexical,
		Classifier: cfg.Fusion.Weights.Classifier,
		Velocity:   cfg.Fusion.Weights.Velocity,
		LLM:        cfg.Fusion.Weights.LLM,
		HardData:   cfg.Fusion.Weights.HardData,
	}
	fuser := sentiment.NewFuser(weights, tracker, cfg.Velocity.BaselinePerDay)

	var backend llm.Client
	if cfg.LLM.Provider == "OPENAI" {
		backend = llm.NewOpenAIClient(cfg)
	} else {
		backend = llm.NewNoopClient()
	}
	scheduler := llm.NewScheduler(
		backend,
		cfg.LLM.BatchSize,
		time.Duration(cfg.LLM.BatchDelaySeconds*float64(time.Second)),
		cfg.LLM.PrescaleThreshold,
		cfg.LLM.Warmup,
	)

	batchTimeout := time.Duration(cfg.MarketData.BatchTimeoutSeconds) * time.Second
	providers := []marketdata.Provider{
		marketdata.NewTiingoProvider(batchTimeout),
		marketdata.NewAlphaVantageProvider(batchTimeout),
	}
	reg := prometheus.NewRegistry()
	feed := marketdata.NewFeed(
		providers,
		time.Duration(cfg.MarketData.CacheTTLSeconds)*time.Second,
		batchTimeout,
		marketdata.NewMetrics(reg),
	)

	// Order placement stays on the paper broker until a live integration
	// is wired in; quotes above are live either way.
	var brk interfaces.Broker = broker.NewPaper()
	if cfg.Mode == "DRY_RUN" {
		logger.Info(ctx, ">> DRY_RUN mode")
	}

	var alerter interfaces.Alerter = alerts.NopAlerter{}
	if cfg.Alerts.Enabled {
		alerter = alerts.NewWebhookAlerter(os.Getenv(cfg.Alerts.WebhookEnv))
	}

	eng := engine.New(cfg, feed, brk, alerter)
	runner := engine.NewRunner(cfg, tracker, fuser, scheduler, eng)
	server := api.NewServer(cfg.API.Addr, eng, feed, reg)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		tick := time.NewTicker(time.Duration(cfg.UpdateIntervalSeconds) * time.Second)
		defer tick.Stop()
		sweep := time.NewTicker(1 * time.Hour)
		defer sweep.Stop()

		logger.Info(ctx, "Bot started",
			"mode", cfg.Mode,
			"universe", len(cfg.Universe),
			"interval_seconds", cfg.UpdateIntervalSeconds)
		for {
			select {
			case <-tick.C:
				runner.RunCycle(ctx)
			case <-sweep.C:
				runner.Sweep(ctx)
			case <-ctx.Done():
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.ErrorWithErr(context.Background(), "Bot stopped with error", err)
	}
	logger.Info(context.Background(), "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = logger.Shutdown(shutdownCtx)
}
