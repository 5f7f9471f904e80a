package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"zhatRelay/internal/app/runtime"
	"zhatRelay/internal/infrastructure/config"
	"zhatRelay/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	cfg := config.Load(bootstrap)
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	run, err := runtime.Start(ctx, runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.WithError(err).Fatal("relay: startup failed")
	}

	<-ctx.Done()

	logger.Info("relay: shutting down")
	if err := run.Stop(); err != nil {
		logger.WithError(err).Error("relay: shutdown")
		os.Exit(1)
	}
	logger.Info("relay: stopped")
}
