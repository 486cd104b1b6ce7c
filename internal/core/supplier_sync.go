package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-agent/internal/logging"
)

// maxSyncPages bounds a single sync run against a source that never reports the last page.
const maxSyncPages = 10000

// SyncSupplierMaster pulls supplier records from the master-data source, upserts them
// one by one and then refreshes missing or stale embeddings. Record failures are
// counted and skipped.
func (s *supplierService) SyncSupplierMaster(ctx context.Context, mode SyncMode, since *time.Time) (*SupplierSyncResult, error) {
	start := time.Now()
	result := &SupplierSyncResult{Mode: mode}

	switch mode {
	case SyncFull:
		since = nil
	case SyncDelta:
		if since == nil {
			t := start.Add(-s.cfg.DefaultDeltaWindow).UTC()
			since = &t
		}
		result.Since = since
	default:
		return nil, NewInputError("mode", fmt.Sprintf("unknown sync mode %q (want full or delta)", mode))
	}
	if s.source == nil {
		return nil, fmt.Errorf("supplier master source is not configured: %w", ErrInvalidState)
	}

	skip := 0
	for page := 0; page < maxSyncPages; page++ {
		p, err := s.source.ListSuppliers(ctx, since, skip)
		if err != nil {
			result.Duration = time.Since(start)
			return result, External("supplier master source", err)
		}
		result.Fetched += len(p.Records)
		for i := range p.Records {
			if err := s.upsertSupplier(ctx, &p.Records[i]); err != nil {
				result.Failed++
				logging.LogError(s.log, "SyncSupplierMaster", "upsert supplier", p.Records[i].SupplierNumber, err)
				continue
			}
			result.Synced++
		}
		if !p.HasMore || len(p.Records) == 0 {
			break
		}
		skip = p.NextSkip
	}

	refreshed, failed, err := s.refreshEmbeddings(ctx)
	result.EmbeddingsRefreshed = refreshed
	result.EmbeddingsFailed = failed
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	s.log.WithFields(logrus.Fields{
		"mode":                 mode,
		"fetched":              result.Fetched,
		"synced":               result.Synced,
		"failed":               result.Failed,
		"embeddings_refreshed": refreshed,
		"embeddings_failed":    failed,
		"duration_ms":          result.Duration.Milliseconds(),
	}).Info("supplier master sync finished")
	return result, nil
}

func (s *supplierService) upsertSupplier(ctx context.Context, rec *SupplierRecord) error {
	rec.SupplierNumber = NormalizeSupplierNumber(rec.SupplierNumber)
	rec.Name = strings.TrimSpace(rec.Name)
	if rec.SupplierNumber == "" {
		return NewInputError("supplier_number", "missing in source record")
	}
	if rec.Name == "" {
		return NewInputError("name", fmt.Sprintf("supplier %s has no name", rec.SupplierNumber))
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		return tx.UpsertSupplier(ctx, rec)
	})
}

// refreshEmbeddings recomputes embeddings for suppliers that have none or an expired
// one. An oracle failure still stamps the attempt so the retry backoff applies.
func (s *supplierService) refreshEmbeddings(ctx context.Context) (refreshed, failed int, err error) {
	for {
		now := time.Now().UTC()
		staleBefore := now.Add(-s.cfg.EmbeddingMaxAge)
		retryBefore := now.Add(-s.cfg.EmbeddingRetryBackoff)

		var batch []SupplierRecord
		err := s.store.InTx(ctx, func(tx Tx) error {
			var err error
			batch, err = tx.ListSuppliersNeedingEmbedding(ctx, staleBefore, retryBefore, s.cfg.EmbeddingBatchSize)
			return err
		})
		if err != nil {
			return refreshed, failed, fmt.Errorf("list suppliers needing embedding: %w", err)
		}
		if len(batch) == 0 {
			return refreshed, failed, nil
		}

		for _, sup := range batch {
			if ctx.Err() != nil {
				return refreshed, failed, ctx.Err()
			}
			emb, embErr := s.embedder.Embed(ctx, sup.EmbeddingText())
			if embErr != nil {
				failed++
				logging.LogError(s.log, "refreshEmbeddings", "embed supplier", sup.SupplierNumber, embErr)
				emb = nil
			}
			err := s.store.InTx(ctx, func(tx Tx) error {
				return tx.UpdateSupplierEmbedding(ctx, sup.SupplierNumber, emb, time.Now().UTC())
			})
			if err != nil {
				return refreshed, failed, fmt.Errorf("store embedding for supplier %s: %w", sup.SupplierNumber, err)
			}
			if embErr == nil {
				refreshed++
			}
		}
		if len(batch) < s.cfg.EmbeddingBatchSize {
			return refreshed, failed, nil
		}
	}
}
