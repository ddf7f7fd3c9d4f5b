// Package store defines the persistence contracts the match engine and
// ledger consume. The postgres and redis packages provide the production
// implementations; Memory backs tests and single-node development.
package store

import (
	"context"

	"github.com/pokegambler-engine/internal/domain"
)

// ProfileStore loads and saves player profiles. Save is an atomic replace
// guarded by the profile version: it fails with domain.ErrConflict when the
// stored version changed since load, and callers reload and retry. Save
// never touches balances; those move only through the ledger.
type ProfileStore interface {
	Load(ctx context.Context, playerID string) (*domain.Profile, error)
	Create(ctx context.Context, profile *domain.Profile) error
	Save(ctx context.Context, profile *domain.Profile) error
}

// MatchLocker enforces the one-active-match-per-player invariant. A lock is
// acquired before any stake is escrowed and released only after settlement
// or cancellation completes. MatchLockOwner reports the holding match id,
// empty when the player is free.
type MatchLocker interface {
	TryAcquireMatchLock(ctx context.Context, playerID, matchID string) error
	ReleaseMatchLock(ctx context.Context, playerID, matchID string) error
	MatchLockOwner(ctx context.Context, playerID string) (string, error)
}

// LedgerEntry is one row of the append-only transaction log. Seq orders
// the log and serves as the restartable history cursor.
type LedgerEntry struct {
	Seq int64              `json:"seq"`
	Tx  domain.Transaction `json:"tx"`
}

// LedgerStore applies balance deltas atomically and serves the log.
// ApplyTransactions commits the whole batch or nothing: if any non-house
// account would go negative at any point, it fails with
// domain.ErrInsufficientFunds and mutates nothing.
type LedgerStore interface {
	ApplyTransactions(ctx context.Context, txs []domain.Transaction) error
	Transactions(ctx context.Context, playerID string, afterSeq int64, limit int) ([]LedgerEntry, error)
}
