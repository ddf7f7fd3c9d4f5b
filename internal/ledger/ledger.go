// Package ledger is the only code path permitted to mutate balances.
// It serializes movements per account and keeps the append-only
// transaction log consistent with every balance it derives.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/store"
)

// Ledger applies signed balance deltas atomically with history.
type Ledger struct {
	store  store.LedgerStore
	logger *slog.Logger

	mu       sync.Mutex
	accounts map[string]*sync.Mutex
}

// New creates a ledger over the given transaction store.
func New(st store.LedgerStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:    st,
		logger:   logger,
		accounts: make(map[string]*sync.Mutex),
	}
}

// accountMu returns the serialization mutex for one account.
func (l *Ledger) accountMu(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.accounts[id]
	if !ok {
		mu = &sync.Mutex{}
		l.accounts[id] = mu
	}
	return mu
}

// lockAccounts takes every touched account mutex in sorted order so
// overlapping batches cannot deadlock. The house account is exempt: it is
// a pseudo-account with no balance check to serialize.
func (l *Ledger) lockAccounts(txs []domain.Transaction) func() {
	seen := make(map[string]bool)
	var ids []string
	for _, tx := range txs {
		for _, id := range []string{tx.From, tx.To} {
			if id == domain.HouseAccount || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	locked := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		mu := l.accountMu(id)
		mu.Lock()
		locked = append(locked, mu)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

// Apply atomically commits a single transaction. It fails with
// domain.ErrInsufficientFunds, mutating nothing, if the post-condition
// balance of any affected account would be negative.
func (l *Ledger) Apply(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	txs, err := l.ApplyBatch(ctx, []domain.Transaction{tx})
	if err != nil {
		return domain.Transaction{}, err
	}
	return txs[0], nil
}

// ApplyBatch commits a list of transactions as a single all-or-nothing
// unit, used for multi-party payouts so a mid-batch failure cannot leave a
// pot partially distributed. Transactions touching a single player commit
// in submission order.
func (l *Ledger) ApplyBatch(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error) {
	if len(txs) == 0 {
		return nil, nil
	}
	stamped := make([]domain.Transaction, len(txs))
	now := time.Now()
	for i, tx := range txs {
		if tx.Amount <= 0 {
			return nil, domain.ErrInvalidAmount
		}
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		if tx.Currency == "" {
			tx.Currency = domain.CurrencyChips
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = now
		}
		stamped[i] = tx
	}

	unlock := l.lockAccounts(stamped)
	defer unlock()

	if err := l.store.ApplyTransactions(ctx, stamped); err != nil {
		return nil, fmt.Errorf("applying transaction batch: %w", err)
	}

	for _, tx := range stamped {
		l.logger.Debug("transaction committed",
			"tx_id", tx.ID,
			"from", tx.From,
			"to", tx.To,
			"amount", tx.Amount,
			"currency", tx.Currency,
			"reason", tx.Reason,
			"match_id", tx.MatchID,
		)
	}
	return stamped, nil
}

// defaultPageSize bounds one History page.
const defaultPageSize = 100

// Cursor is a lazy, restartable view over one player's transactions in
// chronological order. Resume a cursor by constructing it with the last
// sequence number already seen.
type Cursor struct {
	ledger   *Ledger
	playerID string
	afterSeq int64
	pageSize int
	done     bool
}

// History opens a cursor over the player's ledger starting after the
// given sequence number (0 for the beginning).
func (l *Ledger) History(playerID string, afterSeq int64, pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Cursor{
		ledger:   l,
		playerID: playerID,
		afterSeq: afterSeq,
		pageSize: pageSize,
	}
}

// Next returns the next page of entries, or an empty slice once the log
// is exhausted.
func (c *Cursor) Next(ctx context.Context) ([]store.LedgerEntry, error) {
	if c.done {
		return nil, nil
	}
	entries, err := c.ledger.store.Transactions(ctx, c.playerID, c.afterSeq, c.pageSize)
	if err != nil {
		return nil, fmt.Errorf("reading transaction history: %w", err)
	}
	if len(entries) == 0 {
		c.done = true
		return nil, nil
	}
	c.afterSeq = entries[len(entries)-1].Seq
	if len(entries) < c.pageSize {
		c.done = true
	}
	return entries, nil
}

// Pos reports the sequence number the cursor will resume after.
func (c *Cursor) Pos() int64 {
	return c.afterSeq
}
