package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"setman/internal/app"
	"setman/internal/platform/config"
	"setman/internal/platform/httpserver"
	"setman/internal/platform/logger"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start settings server", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := httpserver.New(cfg.Addr, a.Router())
	if err := httpserver.Run(ctx, srv, log); err != nil {
		log.Error("settings server stopped", "error", err)
		os.Exit(1)
	}
}
