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

	"github.com/joho/godotenv"

	"github.com/pschmitt/jcalapi/internal/config"
	"github.com/pschmitt/jcalapi/internal/refresh"
	"github.com/pschmitt/jcalapi/internal/store"
	"github.com/pschmitt/jcalapi/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	// A .env file next to the binary is optional.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not load .env file", "error", err)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		slog.Error("failed to load config", "config_path", flags.configPath, "error", err)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	setupLogger(conf.LogLevel)
	slog.Info("jcalapi starting",
		"listen", conf.Listen,
		"cache_dir", conf.CacheDir,
		"refresh", conf.RefreshCron,
		"past_days", conf.PastDays,
		"future_days", conf.FutureDays,
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	cache, err := store.NewDiskCache(conf.CacheDir)
	if err != nil {
		slog.Error("failed to open cache directory", "cache_dir", conf.CacheDir, "error", err)
		os.Exit(1)
	}
	orch := refresh.New(conf, store.New(cache))

	if flags.once {
		results := orch.RefreshAll(ctx, refresh.Overrides{})
		for p, n := range results {
			if n == nil {
				slog.Info("backend skipped", "backend", p)
				continue
			}
			slog.Info("backend refreshed", "backend", p, "events", *n)
		}
		return
	}

	if err := orch.Start(ctx); err != nil {
		slog.Error("failed to start refresh schedule", "error", err)
		os.Exit(1)
	}
	defer orch.Stop()

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(orch).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("jcalapi exiting")
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "", "Path to config file (created with defaults when missing)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Refresh all backends once, print counts and exit")

	flag.Parse()

	return cfg
}
