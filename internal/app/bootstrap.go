package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/config"
	"invoice-agent/internal/core"
	"invoice-agent/internal/db"
	"invoice-agent/internal/embedding"
	"invoice-agent/internal/erp"
	"invoice-agent/internal/extraction"
	"invoice-agent/internal/logging"
	"invoice-agent/internal/repository"
)

// Bootstrap connects every backing system described by cfg and returns the
// wired ApplicationService. The returned cleanup closes them in reverse order.
// Redis is optional: when unset or unreachable the service runs without the
// embedding cache and the posting lock.
func Bootstrap(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (ApplicationService, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	closers = append(closers, pool.Close)
	store := repository.NewPgStore(pool)

	erpClient, err := erp.New(cfg.ERP, logging.Module(logger, "erp"))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("erp client: %w", err)
	}
	closers = append(closers, erpClient.Close)

	rdb := connectRedis(ctx, cfg.Redis, logging.Module(logger, "redis"))
	if rdb != nil {
		closers = append(closers, func() { _ = rdb.Close() })
	}

	oracle := embedding.NewOpenAIEmbedder(cfg.Embedding)
	embedder := embedding.NewCachedEmbedder(oracle, rdb, oracle.Model(), cfg.Embedding.CacheTTL, logging.Module(logger, "embedding"))

	mapper, err := extraction.NewMapper(cfg.ERP.DefaultCompanyCode)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("extraction schema: %w", err)
	}

	deps := Dependencies{
		Invoices:   core.NewInvoiceService(store, logging.Module(logger, "invoice")),
		Suppliers:  core.NewSupplierService(store, embedder, erpClient, cfg.Matching, logging.Module(logger, "supplier")),
		POMatch:    core.NewPOMatchService(store, embedder, erpClient, cfg.Matching, logging.Module(logger, "po_match")),
		Validation: core.NewValidationService(store, logging.Module(logger, "validation")),
		Posting:    core.NewPostingService(store, erpClient, cfg.Policy, logging.Module(logger, "posting")),
		Mapper:     mapper,
		Logs:       store,
		Store:      store,
		Log:        logging.Module(logger, "app"),
	}
	if rdb != nil {
		deps.Locker = NewRedisPostingLocker(redislock.New(rdb), cfg.Redis.LockTimeout, logging.Module(logger, "posting_lock"))
	}
	return NewAppService(deps), cleanup, nil
}

// connectRedis returns nil when Redis is not configured or does not answer.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logrus.Entry) *redis.Client {
	if cfg.Addr == "" {
		log.Info("redis not configured; embedding cache and posting lock disabled")
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		logging.LogError(log, "connectRedis", "ping redis; continuing without it", cfg.Addr, err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}
