package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"redeem/internal/platform/config"
	"redeem/internal/platform/logger"
)

// main parses configuration and hands the process lifecycle to run. Business
// logic lives in the internal service packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("redeem stopped with error", "error", err)
		os.Exit(1)
	}
}
