// sync-suppliers is a one-shot supplier master sync meant for cron. It pulls
// changed suppliers from the ERP and refreshes stale embeddings.
//
// Usage: go run ./cmd/sync-suppliers [-mode full|delta] [-since 2026-03-01T00:00:00Z]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/app"
	"invoice-agent/internal/config"
	"invoice-agent/internal/core"
	"invoice-agent/internal/logging"
)

func main() {
	mode := flag.String("mode", "delta", "full or delta")
	since := flag.String("since", "", "RFC 3339 change date for delta syncs (default: the configured window)")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall deadline")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	log := logging.Module(logger, "sync-suppliers")

	req := app.SyncSuppliersRequest{Mode: core.SyncMode(*mode)}
	if *since != "" {
		t, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			log.WithError(err).Fatal("invalid -since")
		}
		req.Since = &t
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	svc, cleanup, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer cleanup()

	res, err := svc.SyncSupplierMaster(ctx, req)
	if err != nil {
		log.WithError(err).Error("supplier sync failed")
		cleanup()
		os.Exit(1)
	}
	log.WithFields(logrus.Fields{
		"mode":                 res.Mode,
		"fetched":              res.Fetched,
		"synced":               res.Synced,
		"failed":               res.Failed,
		"embeddings_refreshed": res.EmbeddingsRefreshed,
		"embeddings_failed":    res.EmbeddingsFailed,
		"duration":             res.Duration.String(),
	}).Info("supplier sync finished")
}
