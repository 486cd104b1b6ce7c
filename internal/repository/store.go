// Package repository is the PostgreSQL implementation of core.Store.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"invoice-agent/internal/core"
)

// PgStore runs units of work against a pgx pool.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a store backed by pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// InTx begins a transaction, runs fn and commits if fn succeeds.
func (s *PgStore) InTx(ctx context.Context, fn func(tx core.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping checks database connectivity for the health endpoint.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func notFound(err error, what string, key any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, key, core.ErrNotFound)
	}
	return fmt.Errorf("load %s %v: %w", what, key, err)
}
