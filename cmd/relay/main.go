package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/snake-relay/internal/config"
	"github.com/DoyleJ11/snake-relay/internal/httpapi"
	"github.com/DoyleJ11/snake-relay/internal/logging"
	"github.com/DoyleJ11/snake-relay/internal/relay"
	"github.com/DoyleJ11/snake-relay/internal/upstream"
	"github.com/DoyleJ11/snake-relay/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() {
		// stderr sync fails with EINVAL on some terminals
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	rl := relay.New(ctx, logger, relay.Options{InboxSize: cfg.InboxSize})

	client := upstream.New(logger, rl, upstream.Options{
		Addr:              cfg.UpstreamAddr,
		FrameBufferSize:   cfg.FrameBufferSize,
		ReconnectAttempts: cfg.ReconnectAttempts,
		InitialBackoff:    cfg.ReconnectInitial,
		MaxBackoff:        cfg.ReconnectMax,
	})

	// Build the router *with* the relay injected
	handler := httpapi.SetupRoutes(rl, logger, ws.Options{
		OutboxSize:     cfg.OutboxSize,
		ReadLimit:      cfg.ClientMessageLimit,
		WriteTimeout:   cfg.WriteTimeout,
		ControlRate:    rate.Limit(cfg.ControlRate),
		ControlBurst:   cfg.ControlBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		return client.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("upstream", cfg.UpstreamAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs error
		errs = multierr.Append(errs, srv.Shutdown(sctx))
		if !rl.Send(sctx, relay.Shutdown{}) {
			logger.Debug("relay already stopped")
		}
		select {
		case <-rl.Done():
		case <-sctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("relay shutdown: %w", sctx.Err()))
		}
		return errs
	})

	if err := g.Wait(); err != nil {
		logger.Error("relay exited", zap.Error(err))
		return err
	}
	return nil
}
