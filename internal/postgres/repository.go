package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pokegambler-engine/internal/config"
	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/store"
)

// Repository provides PostgreSQL-based persistence for profiles, the
// transaction ledger and the match event archive.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id VARCHAR(64) PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0,
			bonds BIGINT NOT NULL DEFAULT 0,
			wins BIGINT NOT NULL DEFAULT 0,
			tier INT NOT NULL DEFAULT 1,
			version BIGINT NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_transactions (
			seq BIGSERIAL PRIMARY KEY,
			id VARCHAR(64) NOT NULL,
			from_account VARCHAR(64) NOT NULL,
			to_account VARCHAR(64) NOT NULL,
			currency VARCHAR(10) NOT NULL DEFAULT 'chips',
			amount BIGINT NOT NULL,
			reason VARCHAR(20) NOT NULL,
			match_id VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS match_events (
			id BIGSERIAL PRIMARY KEY,
			match_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(40) NOT NULL,
			payload JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_from ON ledger_transactions(from_account, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_to ON ledger_transactions(to_account, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_match ON ledger_transactions(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_match_events_match ON match_events(match_id, created_at)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// Load retrieves a player profile by ID
func (r *Repository) Load(ctx context.Context, playerID string) (*domain.Profile, error) {
	query := `
		SELECT id, balance, bonds, wins, tier, version, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`
	var p domain.Profile
	err := r.pool.QueryRow(ctx, query, playerID).Scan(
		&p.ID,
		&p.Balance,
		&p.Bonds,
		&p.Wins,
		&p.Tier,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	return &p, nil
}

// Create inserts a new profile. A concurrent insert of the same player
// fails with domain.ErrConflict.
func (r *Repository) Create(ctx context.Context, profile *domain.Profile) error {
	query := `
		INSERT INTO profiles (id, balance, bonds, wins, tier, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`
	now := time.Now()
	result, err := r.pool.Exec(ctx, query,
		profile.ID,
		profile.Balance,
		profile.Bonds,
		profile.Wins,
		profile.Tier,
		now,
	)
	if err != nil {
		return fmt.Errorf("creating profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	profile.Version = 1
	profile.CreatedAt = now
	profile.UpdatedAt = now
	return nil
}

// Save replaces the win counter and tier under optimistic concurrency.
// Balances move only through ApplyTransactions.
func (r *Repository) Save(ctx context.Context, profile *domain.Profile) error {
	query := `
		UPDATE profiles
		SET wins = $2, tier = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $5
	`
	result, err := r.pool.Exec(ctx, query,
		profile.ID,
		profile.Wins,
		profile.Tier,
		time.Now(),
		profile.Version,
	)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.Load(ctx, profile.ID); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	profile.Version++
	return nil
}

// ApplyTransactions applies a ledger batch in a single database
// transaction. Every involved account row is locked, the batch is
// projected onto the locked balances one transaction at a time, and the
// whole thing commits only if no account ever dips below zero.
func (r *Repository) ApplyTransactions(ctx context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	dbtx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer dbtx.Rollback(ctx)

	type balances struct {
		chips int64
		bonds int64
	}
	accounts := make(map[string]*balances)
	for _, t := range txs {
		for _, id := range []string{t.From, t.To} {
			if id == domain.HouseAccount || accounts[id] != nil {
				continue
			}
			accounts[id] = nil
		}
	}

	// Lock rows in sorted order so concurrent batches cannot deadlock.
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		var b balances
		err := dbtx.QueryRow(ctx,
			`SELECT balance, bonds FROM profiles WHERE id = $1 FOR UPDATE`, id,
		).Scan(&b.chips, &b.bonds)
		if err != nil {
			if err == pgx.ErrNoRows {
				return domain.ErrNotFound
			}
			return fmt.Errorf("locking account %s: %w", id, err)
		}
		accounts[id] = &b
	}

	for _, t := range txs {
		if t.Amount <= 0 {
			return domain.ErrInvalidAmount
		}
		if from := accounts[t.From]; from != nil {
			switch t.Currency {
			case domain.CurrencyBonds:
				from.bonds -= t.Amount
				if from.bonds < 0 {
					return domain.ErrInsufficientFunds
				}
			default:
				from.chips -= t.Amount
				if from.chips < 0 {
					return domain.ErrInsufficientFunds
				}
			}
		}
		if to := accounts[t.To]; to != nil {
			if t.Currency == domain.CurrencyBonds {
				to.bonds += t.Amount
			} else {
				to.chips += t.Amount
			}
		}
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, id := range ids {
		b := accounts[id]
		batch.Queue(
			`UPDATE profiles SET balance = $2, bonds = $3, updated_at = $4 WHERE id = $1`,
			id, b.chips, b.bonds, now,
		)
	}
	for _, t := range txs {
		batch.Queue(
			`INSERT INTO ledger_transactions (id, from_account, to_account, currency, amount, reason, match_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.From, t.To, string(t.Currency), t.Amount, string(t.Reason), t.MatchID, t.CreatedAt,
		)
	}

	br := dbtx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("writing ledger batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing ledger batch: %w", err)
	}

	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("committing ledger transaction: %w", err)
	}
	return nil
}

// Transactions pages a player's ledger history after the given sequence
// number, oldest first.
func (r *Repository) Transactions(ctx context.Context, playerID string, afterSeq int64, limit int) ([]store.LedgerEntry, error) {
	query := `
		SELECT seq, id, from_account, to_account, currency, amount, reason, match_id, created_at
		FROM ledger_transactions
		WHERE (from_account = $1 OR to_account = $1) AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, playerID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var entries []store.LedgerEntry
	for rows.Next() {
		var e store.LedgerEntry
		var currency, reason string
		err := rows.Scan(
			&e.Seq,
			&e.Tx.ID,
			&e.Tx.From,
			&e.Tx.To,
			&currency,
			&e.Tx.Amount,
			&reason,
			&e.Tx.MatchID,
			&e.Tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		e.Tx.Currency = domain.Currency(currency)
		e.Tx.Reason = domain.Reason(reason)
		entries = append(entries, e)
	}
	return entries, nil
}

// RecordEvent archives a match lifecycle event for auditing.
func (r *Repository) RecordEvent(ctx context.Context, event domain.Event) error {
	var payload []byte
	var err error
	if event.Data != nil {
		payload, err = json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshaling event payload: %w", err)
		}
	}

	query := `
		INSERT INTO match_events (match_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = r.pool.Exec(ctx, query, event.MatchID, event.Type, payload, event.Timestamp)
	if err != nil {
		return fmt.Errorf("recording match event: %w", err)
	}
	return nil
}

// MatchEvents returns the archived lifecycle events for a match, oldest
// first.
func (r *Repository) MatchEvents(ctx context.Context, matchID string) ([]domain.Event, error) {
	query := `
		SELECT match_id, event_type, payload, created_at
		FROM match_events
		WHERE match_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("querying match events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var payload []byte
		if err := rows.Scan(&ev.MatchID, &ev.Type, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning match event: %w", err)
		}
		if len(payload) > 0 {
			var data map[string]interface{}
			if err := json.Unmarshal(payload, &data); err == nil {
				ev.Data = data
			}
		}
		events = append(events, ev)
	}
	return events, nil
}
