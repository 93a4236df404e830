package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/omdarshan-4964/CodeStream/bus"
	"github.com/omdarshan-4964/CodeStream/config"
	"github.com/omdarshan-4964/CodeStream/metrics"
	"github.com/omdarshan-4964/CodeStream/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	flags := pflag.NewFlagSet("codestream", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Logging)

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var b *bus.RedisBus
	if cfg.Redis.Addr != "" {
		var err error
		if b, err = bus.Dial(ctx, cfg.Redis); err != nil {
			return err
		}
		defer func() { _ = b.Close() }()
	}

	relay := server.New(cfg, m, b)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: relay.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Server.Addr, "bus", b != nil)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if b != nil {
		g.Go(func() error { return b.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// http.Server.Shutdown does not touch hijacked connections, so the
		// gateways close their sockets themselves.
		return errors.Join(srv.Shutdown(shutdownCtx), relay.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func setupLogger(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
