// Command app runs one-shot invoice pipeline commands against the configured
// database and ERP.
//
// Usage: go run ./cmd/app <command> [args]
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"invoice-agent/internal/adapters/cli"
	"invoice-agent/internal/app"
	"invoice-agent/internal/config"
	"invoice-agent/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, cli.Usage)
		os.Exit(2)
	}
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	// Logs go to stderr so command output stays parseable.
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	logger.SetOutput(os.Stderr)

	ctx := context.Background()
	svc, cleanup, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}

	err = cli.Run(ctx, svc, os.Args[1:], os.Stdin, os.Stdout)
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
