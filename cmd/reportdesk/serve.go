package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/reportdesk/pkg/config"
	"github.com/Mindburn-Labs/reportdesk/pkg/logging"
)

const version = "0.1.0"

func runServer(stdout, stderr io.Writer) int {
	cfg := config.Load()
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "%sreportdesk %s starting on %s%s\n", colorBold+colorBlue, version, cfg.Addr(), colorReset)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sys, err := buildSubsystems(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           sys.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr, "lite_mode", cfg.LiteMode)
		errCh <- srv.ListenAndServe()
	}()

	code := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
		code = 1
	}
	if err := sys.close(shutdownCtx); err != nil {
		slog.Error("subsystem shutdown", "error", err)
		code = 1
	}
	slog.Info("stopped")
	return code
}
