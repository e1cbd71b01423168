package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gyaneshwarpardhi/quakerisk/internal/access"
	"github.com/gyaneshwarpardhi/quakerisk/internal/alert"
	"github.com/gyaneshwarpardhi/quakerisk/internal/api"
	"github.com/gyaneshwarpardhi/quakerisk/internal/config"
	"github.com/gyaneshwarpardhi/quakerisk/internal/engine"
	"github.com/gyaneshwarpardhi/quakerisk/internal/feed"
	"github.com/gyaneshwarpardhi/quakerisk/internal/ident"
	"github.com/gyaneshwarpardhi/quakerisk/internal/ingest"
	"github.com/gyaneshwarpardhi/quakerisk/internal/ledger"
	"github.com/gyaneshwarpardhi/quakerisk/internal/logging"
	"github.com/gyaneshwarpardhi/quakerisk/internal/market"
	"github.com/gyaneshwarpardhi/quakerisk/internal/notify"
	"github.com/gyaneshwarpardhi/quakerisk/internal/risk"
	"github.com/gyaneshwarpardhi/quakerisk/internal/store"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	cfgPath := flag.String("config", "configs/quakerisk.yaml", "Path to YAML config; empty uses defaults")
	envPath := flag.String("env", ".env", "Optional dotenv file")
	once := flag.Bool("once", false, "Run a single ingestion cycle and exit")
	flag.Parse()

	bootLog := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootLog)

	// ── Load config ──────────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envPath); err != nil {
		slog.Error("failed to load env file", "err", err)
		os.Exit(1)
	}
	loader, err := config.NewLoader(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validation failed", "err", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		MaxBackups: cfg.Log.MaxBackups,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		slog.Error("failed to build logger", "err", err)
		os.Exit(1)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	// ── Domain components ────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(store.WithWindow(cfg.Store.Window))

	seed := cfg.Risk.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	scorer, err := risk.NewScorer(st, cfg.Risk.Tables, risk.NewRand(seed))
	if err != nil {
		slog.Error("invalid risk tables", "err", err)
		os.Exit(1)
	}

	src, err := newFeed(cfg.Feed)
	if err != nil {
		slog.Error("failed to build feed", "err", err)
		os.Exit(1)
	}

	var rates market.RateSource
	switch cfg.Market.Source {
	case "http":
		rates = market.NewHTTPSource(cfg.Market.BaseURL, cfg.Market.Timeout)
	default:
		rates = market.NewSynthetic(cfg.Market.Seed, cfg.Market.Rates)
	}

	// ── Notifiers ────────────────────────────────────────────────────────────
	hub := notify.NewHub(cfg.Notify.ReplaySize, logger.Logger)
	go hub.Run(ctx)

	reg := notify.NewRegistry()
	reg.Register(hub)
	reg.Register(notify.NewLogNotifier(logger.Logger))
	if cfg.Notify.RedisAddr != "" {
		rdb := notify.NewRedisClient(cfg.Notify.RedisAddr, cfg.Notify.RedisPassword, cfg.Notify.RedisDB)
		defer rdb.Close()
		reg.Register(notify.NewRedisPublisher(rdb, cfg.Notify.RedisChannel))
	}
	slog.Info("notifiers registered", "types", reg.Types())

	// ── Engine ────────────────────────────────────────────────────────────────
	p, err := engine.New(ctx, engine.Deps{
		Store:      st,
		Feed:       src,
		Ingestor:   ingest.New(st, ident.New("evt_", nil), logger.Logger),
		Classifier: alert.NewClassifier(ident.New("alr_", nil), nil),
		Scorer:     scorer,
		Rates:      rates,
		Ledger:     ledger.NewMemory(),
		Notifiers:  reg,
		Logger:     logger.Logger,
	}, cfg.Engine, engine.WithMaxCorrelationDays(cfg.Market.MaxDays))
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}

	if *once {
		res, err := p.RunCycle(ctx)
		p.Shutdown()
		if err != nil {
			slog.Error("ingestion cycle failed", "err", err)
			os.Exit(1)
		}
		_ = json.NewEncoder(os.Stdout).Encode(res)
		return
	}

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.AppConfig) {
		if err := logger.SetLevel(newCfg.Log.Level); err != nil {
			slog.Warn("hot-reload skipped: bad log level", "err", err)
			return
		}
		slog.Info("config hot-reloaded", "log_level", newCfg.Log.Level)
	})
	if *cfgPath != "" {
		stopWatch, err := loader.Watch()
		if err != nil {
			slog.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
		} else {
			defer stopWatch()
		}
	}

	sched := engine.NewScheduler(p, cfg.Engine.Interval, logger.Logger)
	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.New(p, st, access.New(), hub, api.Options{
		RatePerSecond: cfg.Access.RatePerSecond,
		Burst:         cfg.Access.Burst,
		AdminToken:    cfg.Access.AdminToken,
	})
	if cfg.Access.AdminToken == "" {
		slog.Warn("access.admin_token not set: key management routes are disabled")
	}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := handler.CleanupLimiters(); n > 0 {
					slog.Debug("idle rate limiters dropped", "count", n)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel() // stop scheduler, hub and workers
	<-schedDone
	p.Shutdown()
	slog.Info("goodbye")
}

func newFeed(c config.FeedConf) (feed.Source, error) {
	if c.Type == "static" {
		if c.URL == "" {
			return feed.NewStatic("static"), nil
		}
		return feed.LoadFile(c.URL)
	}
	return feed.NewUSGS(feed.USGSConfig{URL: c.URL, Timeout: c.Timeout, Attempts: c.Attempts}), nil
}
