package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/cscf/internal/cscf/app"
	"github.com/sebas/cscf/internal/cscf/config"
	"github.com/sebas/cscf/internal/cscf/logger"
)

func main() {
	cfg := config.Load()

	logger.Init(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	core, err := app.New(cfg)
	if err != nil {
		slog.Error("[APP] failed to create CSCF core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	run(core, cfg)
}

func run(core *app.CSCF, cfg *config.Config) {
	slog.Info("Starting CSCF core",
		"role", cfg.NodeRole,
		"port", cfg.Port,
		"hss", cfg.HSSBaseURL,
	)
	slog.Info("API available at http://0.0.0.0:8080")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := core.Start(ctx); err != nil {
			slog.Error("[APP] server error", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)
	cancel()

	time.Sleep(1 * time.Second)
}
