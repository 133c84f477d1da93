package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/covercontrol/covercontrol/internal/cmd"
)

var (
	// overridden during build
	version = "change-me"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd.RootCmd.Version = version
	if err := cmd.RootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}
}
