package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"quarterwatch/internal/analyzer"
	"quarterwatch/internal/config"
	"quarterwatch/internal/db"
	"quarterwatch/internal/feed"
	"quarterwatch/internal/metrics"
	"quarterwatch/internal/oracle"
	"quarterwatch/internal/polymarket"
	"quarterwatch/internal/reconciler"
	"quarterwatch/internal/recorder"
	"quarterwatch/internal/replay"
	"quarterwatch/internal/report"
	"quarterwatch/internal/tracker"
)

func main() {
	// Parse CLI flags.
	replayMode := flag.Bool("replay", false, "Re-run the correlation report over stored windows")
	replayFrom := flag.String("from", "", "Replay start date (YYYY-MM-DD)")
	replayTo := flag.String("to", "", "Replay end date (YYYY-MM-DD)")
	flag.Parse()

	// Load configuration before logging setup so log_level applies.
	configPath := "config.toml"
	if p := os.Getenv("QW_CONFIG_PATH"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.General.LogLevel),
	})))

	slog.Info("quarterwatch starting")

	// Initialize database.
	database, err := db.Open(cfg.General.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database initialized", "path", cfg.General.DBPath)

	reporter := report.New(cfg.Report)

	// Replay mode.
	if *replayMode {
		runner := replay.NewRunner(database, reporter)
		if err := runner.Run(*replayFrom, *replayTo); err != nil {
			slog.Error("replay failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Live mode.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := polymarket.NewClient(cfg.Polymarket)
	oracleSrc := oracle.New(cfg.Oracle)
	rec := reconciler.New(cfg.Reconciler, client, oracleSrc)
	an := analyzer.New(cfg.Analyzer)
	store := recorder.New(database)

	var hub *feed.Hub
	if cfg.Feed.Enabled {
		hub = feed.NewHub()
		go func() {
			if err := hub.Serve(ctx, cfg.Feed.ListenAddr); err != nil {
				slog.Error("feed server error", "error", err)
			}
		}()
	}

	var promRec *metrics.Recorder
	if cfg.Metrics.Enabled {
		promRec = metrics.New()
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	trk := tracker.New(
		cfg.Schedule, cfg.Report,
		client, rec, an, reporter, store,
		hub, promRec,
	)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := trk.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("tracker error", "error", err)
		os.Exit(1)
	}

	slog.Info("quarterwatch stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
