package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"invoice-agent/internal/core"
	"invoice-agent/internal/logging"
)

// PostingLocker serialises ERP posts of one invoice across server instances.
// Lock returns core.ErrInvalidState when another post of the invoice holds it.
type PostingLocker interface {
	Lock(ctx context.Context, invoiceID uuid.UUID) (unlock func(), err error)
}

type redisPostingLocker struct {
	client *redislock.Client
	ttl    time.Duration
	log    *logrus.Entry
}

// NewRedisPostingLocker returns a PostingLocker backed by redislock. The TTL
// should exceed the ERP request timeout.
func NewRedisPostingLocker(client *redislock.Client, ttl time.Duration, log *logrus.Entry) PostingLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if log == nil {
		log = logging.Discard()
	}
	return &redisPostingLocker{client: client, ttl: ttl, log: log}
}

func postingLockKey(invoiceID uuid.UUID) string {
	return "lock:post:" + invoiceID.String()
}

func (l *redisPostingLocker) Lock(ctx context.Context, invoiceID uuid.UUID) (func(), error) {
	key := postingLockKey(invoiceID)
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("invoice %s is already being posted: %w", invoiceID, core.ErrInvalidState)
	}
	if err != nil {
		logging.LogError(l.log, "Lock", "obtain posting lock", key, err)
		return nil, core.External("redis", err)
	}
	return func() {
		// The request context may already be cancelled; release on a fresh one.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.WithField("invoice_id", invoiceID).Warn("failed to release posting lock: " + err.Error())
		}
	}, nil
}
