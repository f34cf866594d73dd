// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/cicerone-dev/cicerone/cmd"
	"github.com/cicerone-dev/cicerone/internal/observability"
)

// main is the entry point for the cicerone CLI application.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	cmd.ExecuteContext(ctx)
}
