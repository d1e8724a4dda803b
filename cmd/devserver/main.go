package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/driver-agent/internal/config"
	"github.com/example/driver-agent/internal/devserver"
	"github.com/example/driver-agent/internal/logging"
)

func main() {
	cfg, err := config.LoadDevServerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := devserver.NewServerFromConfig(cfg, log)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("devserver stopped", "error", err)
		os.Exit(1)
	}
	log.Info("devserver stopped")
}
