package store

import (
	"context"
	"sync"
	"time"

	"github.com/pokegambler-engine/internal/domain"
)

// Memory is an in-process implementation of ProfileStore, MatchLocker and
// LedgerStore with the same semantics as the postgres/redis pair.
type Memory struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
	locks    map[string]string // playerID -> matchID
	log      []LedgerEntry
	nextSeq  int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]domain.Profile),
		locks:    make(map[string]string),
		nextSeq:  1,
	}
}

// Load returns a copy of the stored profile.
func (m *Memory) Load(ctx context.Context, playerID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[playerID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := p
	return &out, nil
}

// Create stores a new profile. Balances start at whatever the caller set;
// onboarding bonuses are ledger transactions, not profile writes.
func (m *Memory) Create(ctx context.Context, profile *domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[profile.ID]; ok {
		return domain.ErrConflict
	}
	now := time.Now()
	profile.Version = 1
	profile.CreatedAt = now
	profile.UpdatedAt = now
	m.profiles[profile.ID] = *profile
	return nil
}

// Save replaces the win counter and tier under optimistic concurrency.
// Balance fields are deliberately left untouched.
func (m *Memory) Save(ctx context.Context, profile *domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.profiles[profile.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != profile.Version {
		return domain.ErrConflict
	}
	stored.Wins = profile.Wins
	stored.Tier = profile.Tier
	stored.Version++
	stored.UpdatedAt = time.Now()
	m.profiles[profile.ID] = stored
	profile.Version = stored.Version
	return nil
}

// TryAcquireMatchLock marks the player as in-match. Re-acquiring for the
// same match is a no-op; any other holder fails with ErrAlreadyInMatch.
func (m *Memory) TryAcquireMatchLock(ctx context.Context, playerID, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.locks[playerID]; ok {
		if held == matchID {
			return nil
		}
		return domain.ErrAlreadyInMatch
	}
	m.locks[playerID] = matchID
	return nil
}

// ReleaseMatchLock releases the player's lock if this match holds it.
// Releasing an unheld lock is a no-op so cancellation stays idempotent.
func (m *Memory) ReleaseMatchLock(ctx context.Context, playerID, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if held, ok := m.locks[playerID]; ok && held == matchID {
		delete(m.locks, playerID)
	}
	return nil
}

// MatchLockOwner returns the match currently holding the player's lock,
// or the empty string when the player is free.
func (m *Memory) MatchLockOwner(ctx context.Context, playerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[playerID], nil
}

// ApplyTransactions applies a batch against scratch balances first, so a
// failing transaction anywhere in the batch leaves nothing mutated.
func (m *Memory) ApplyTransactions(ctx context.Context, txs []domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Project the batch onto copies of every touched account.
	scratch := make(map[string]domain.Profile)
	fetch := func(id string) (domain.Profile, bool) {
		if p, ok := scratch[id]; ok {
			return p, true
		}
		p, ok := m.profiles[id]
		if ok {
			scratch[id] = p
		}
		return p, ok
	}

	for _, tx := range txs {
		if tx.Amount <= 0 {
			return domain.ErrInvalidAmount
		}
		if tx.From != domain.HouseAccount {
			p, ok := fetch(tx.From)
			if !ok {
				return domain.ErrNotFound
			}
			switch tx.Currency {
			case domain.CurrencyBonds:
				p.Bonds -= tx.Amount
				if p.Bonds < 0 {
					return domain.ErrInsufficientFunds
				}
			default:
				p.Balance -= tx.Amount
				if p.Balance < 0 {
					return domain.ErrInsufficientFunds
				}
			}
			scratch[tx.From] = p
		}
		if tx.To != domain.HouseAccount {
			p, ok := fetch(tx.To)
			if !ok {
				return domain.ErrNotFound
			}
			if tx.Currency == domain.CurrencyBonds {
				p.Bonds += tx.Amount
			} else {
				p.Balance += tx.Amount
			}
			scratch[tx.To] = p
		}
	}

	// Commit.
	now := time.Now()
	for id, p := range scratch {
		p.UpdatedAt = now
		m.profiles[id] = p
	}
	for _, tx := range txs {
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		m.log = append(m.log, LedgerEntry{Seq: m.nextSeq, Tx: tx})
		m.nextSeq++
	}
	return nil
}

// Transactions pages the player's ledger history in log order.
func (m *Memory) Transactions(ctx context.Context, playerID string, afterSeq int64, limit int) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []LedgerEntry
	for _, entry := range m.log {
		if entry.Seq <= afterSeq {
			continue
		}
		if entry.Tx.From != playerID && entry.Tx.To != playerID {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
