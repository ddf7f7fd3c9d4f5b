package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/pokegambler-engine/internal/config"
	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/engine"
	"github.com/pokegambler-engine/internal/ledger"
	"github.com/pokegambler-engine/internal/registry"
	"github.com/pokegambler-engine/internal/store"
)

// Bond cash-in rate and coin-flip stake bounds.
const (
	ChipsPerBond = 10
	FlipMinStake = 50
	FlipMaxStake = 9999
)

// EventArchive serves the persisted lifecycle events of past matches.
type EventArchive interface {
	MatchEvents(ctx context.Context, matchID string) ([]domain.Event, error)
}

// GameService provides business logic for matches, profiles and the
// currency operations that do not run through a match.
type GameService struct {
	registry *registry.Registry
	profiles store.ProfileStore
	ledger   *ledger.Ledger
	archive  EventArchive
	config   *config.EngineConfig
	newRand  func() *rand.Rand
	logger   *slog.Logger
}

// NewGameService creates a new game service. archive may be nil when no
// event store is configured.
func NewGameService(
	reg *registry.Registry,
	profiles store.ProfileStore,
	led *ledger.Ledger,
	archive EventArchive,
	cfg *config.EngineConfig,
	logger *slog.Logger,
) *GameService {
	return &GameService{
		registry: reg,
		profiles: profiles,
		ledger:   led,
		archive:  archive,
		config:   cfg,
		newRand:  engine.NewSeededRand,
		logger:   logger,
	}
}

// CreateMatch validates the stake, resolves the ruleset and opens a match
// with the caller seated as initiator.
func (s *GameService) CreateMatch(ctx context.Context, playerID, gameType string, lowerWins bool, stake int64) (domain.MatchView, error) {
	if stake < s.config.MinStake || stake > s.config.MaxStake {
		return domain.MatchView{}, domain.ErrInvalidStake
	}
	ruleset, err := domain.RulesetFor(gameType)
	if err != nil {
		return domain.MatchView{}, err
	}
	ruleset = ruleset.Variant(lowerWins)

	if _, err := s.ensureProfile(ctx, playerID); err != nil {
		return domain.MatchView{}, err
	}

	m, err := s.registry.CreateMatch(ctx, playerID, ruleset, stake)
	if err != nil {
		return domain.MatchView{}, err
	}
	return m.View(), nil
}

// JoinMatch seats a player in a forming match.
func (s *GameService) JoinMatch(ctx context.Context, matchID, playerID string) (domain.MatchView, error) {
	if _, err := s.ensureProfile(ctx, playerID); err != nil {
		return domain.MatchView{}, err
	}
	if err := s.registry.Join(ctx, matchID, playerID); err != nil {
		return domain.MatchView{}, err
	}
	m, err := s.registry.Lookup(matchID)
	if err != nil {
		return domain.MatchView{}, err
	}
	return m.View(), nil
}

// SubmitAction routes a player action to a match.
func (s *GameService) SubmitAction(ctx context.Context, matchID, playerID string, action domain.Action) error {
	return s.registry.SubmitAction(ctx, matchID, playerID, action)
}

// BeginMatch closes formation early on behalf of the initiator.
func (s *GameService) BeginMatch(ctx context.Context, matchID, requesterID string) error {
	return s.registry.Begin(ctx, matchID, requesterID)
}

// CancelMatch aborts a match on behalf of its initiator.
func (s *GameService) CancelMatch(ctx context.Context, matchID, requesterID string) error {
	return s.registry.Cancel(ctx, matchID, requesterID)
}

// GetMatch returns a snapshot of a live match.
func (s *GameService) GetMatch(ctx context.Context, matchID string) (domain.MatchView, error) {
	m, err := s.registry.Lookup(matchID)
	if err != nil {
		return domain.MatchView{}, err
	}
	return m.View(), nil
}

// ActiveMatch returns the match the player is currently seated in.
func (s *GameService) ActiveMatch(ctx context.Context, playerID string) (domain.MatchView, error) {
	m, err := s.registry.ActiveMatch(playerID)
	if err != nil {
		return domain.MatchView{}, err
	}
	return m.View(), nil
}

// GetProfile returns the player's profile, creating it with the signup
// bonus on first contact.
func (s *GameService) GetProfile(ctx context.Context, playerID string) (*domain.Profile, error) {
	return s.ensureProfile(ctx, playerID)
}

// MatchEvents returns the archived lifecycle events of a match, for
// audits and dispute resolution.
func (s *GameService) MatchEvents(ctx context.Context, matchID string) ([]domain.Event, error) {
	if s.archive == nil {
		return nil, domain.ErrNotFound
	}
	events, err := s.archive.MatchEvents(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("reading match events: %w", err)
	}
	if len(events) == 0 {
		return nil, domain.ErrNotFound
	}
	return events, nil
}

// Transactions pages a player's ledger history from the given sequence
// cursor.
func (s *GameService) Transactions(ctx context.Context, playerID string, afterSeq int64, limit int) ([]store.LedgerEntry, error) {
	cursor := s.ledger.History(playerID, afterSeq, limit)
	entries, err := cursor.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading ledger history: %w", err)
	}
	return entries, nil
}

// Exchange cashes bonds in for chips at the fixed rate, atomically: the
// bonds leave and the chips arrive in one ledger batch or not at all.
func (s *GameService) Exchange(ctx context.Context, playerID string, bonds int64) (*domain.Profile, error) {
	if bonds <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if _, err := s.ensureProfile(ctx, playerID); err != nil {
		return nil, err
	}

	_, err := s.ledger.ApplyBatch(ctx, []domain.Transaction{
		{
			From:     playerID,
			To:       domain.HouseAccount,
			Currency: domain.CurrencyBonds,
			Amount:   bonds,
			Reason:   domain.ReasonCashIn,
		},
		{
			From:     domain.HouseAccount,
			To:       playerID,
			Currency: domain.CurrencyChips,
			Amount:   bonds * ChipsPerBond,
			Reason:   domain.ReasonCashIn,
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("bonds exchanged", "player_id", playerID, "bonds", bonds, "chips", bonds*ChipsPerBond)
	return s.profiles.Load(ctx, playerID)
}

// FlipResult reports the outcome of a coin flip against the house.
type FlipResult struct {
	Won    bool  `json:"won"`
	Stake  int64 `json:"stake"`
	Payout int64 `json:"payout"`
}

// Flip plays double-or-nothing against the house. The stake and the
// payout (on a win) land in a single ledger batch, so the player's
// balance never reflects a half-applied flip.
func (s *GameService) Flip(ctx context.Context, playerID string, stake int64) (FlipResult, error) {
	if stake < FlipMinStake || stake > FlipMaxStake {
		return FlipResult{}, domain.ErrInvalidAmount
	}
	profile, err := s.ensureProfile(ctx, playerID)
	if err != nil {
		return FlipResult{}, err
	}
	if profile.Balance < stake {
		return FlipResult{}, domain.ErrInsufficientFunds
	}

	won := s.newRand().Intn(2) == 0
	txs := []domain.Transaction{
		{
			From:   playerID,
			To:     domain.HouseAccount,
			Amount: stake,
			Reason: domain.ReasonStake,
		},
	}
	result := FlipResult{Won: won, Stake: stake}
	if won {
		result.Payout = stake * 2
		txs = append(txs, domain.Transaction{
			From:   domain.HouseAccount,
			To:     playerID,
			Amount: result.Payout,
			Reason: domain.ReasonPayout,
		})
	}

	if _, err := s.ledger.ApplyBatch(ctx, txs); err != nil {
		return FlipResult{}, err
	}

	s.logger.Info("coin flip played", "player_id", playerID, "stake", stake, "won", won)
	return result, nil
}

// ensureProfile loads the profile, creating it with the signup bonus on
// first contact. The bonus is a house grant so the audit law holds from
// the very first transaction.
func (s *GameService) ensureProfile(ctx context.Context, playerID string) (*domain.Profile, error) {
	profile, err := s.profiles.Load(ctx, playerID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	fresh := &domain.Profile{ID: playerID, Tier: domain.TierFor(0)}
	if err := s.profiles.Create(ctx, fresh); err != nil {
		// Lost a creation race; the other writer's profile is fine.
		if errors.Is(err, domain.ErrConflict) {
			return s.profiles.Load(ctx, playerID)
		}
		return nil, fmt.Errorf("creating profile: %w", err)
	}

	if s.config.StartingBalance > 0 {
		_, err = s.ledger.Apply(ctx, domain.Transaction{
			From:   domain.HouseAccount,
			To:     playerID,
			Amount: s.config.StartingBalance,
			Reason: domain.ReasonBonus,
		})
		if err != nil {
			return nil, fmt.Errorf("granting signup bonus: %w", err)
		}
	}

	s.logger.Info("profile created", "player_id", playerID, "bonus", s.config.StartingBalance)
	return s.profiles.Load(ctx, playerID)
}
