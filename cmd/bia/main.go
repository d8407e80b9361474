// Command bia is a deployment orchestrator for a containerized application
// on ECS: it builds a git-versioned image, publishes it to ECR, registers
// a task definition revision for it, updates the service, and waits for
// the rollout to stabilize. Rollback redeploys any previously published
// version through the same path.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vitorbretz/bia/internal/cli"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cli.NewRootCmd(version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, cli.ErrUnconfirmed) {
			fmt.Fprintln(os.Stderr, "Warning:", err)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
