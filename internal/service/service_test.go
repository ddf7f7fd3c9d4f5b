package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/pokegambler-engine/internal/config"
	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/engine"
	"github.com/pokegambler-engine/internal/events"
	"github.com/pokegambler-engine/internal/ledger"
	"github.com/pokegambler-engine/internal/registry"
	"github.com/pokegambler-engine/internal/store"
)

func newTestService(t *testing.T) (*GameService, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	led := ledger.New(mem, logger)
	deps := engine.Deps{
		Profiles: mem,
		Locks:    mem,
		Ledger:   led,
		Emitter:  events.NewCapture(),
		Logger:   logger,
	}
	// Long timers: these tests drive matches explicitly, never by timeout.
	engineCfg := engine.Config{
		JoinWindow:  time.Minute,
		TurnTimeout: time.Minute,
	}
	reg := registry.New(engineCfg, deps, logger)
	cfg := &config.EngineConfig{
		MinStake:        10,
		MaxStake:        10000,
		StartingBalance: 100,
	}
	return NewGameService(reg, mem, led, nil, cfg, logger), mem
}

func TestEnsureProfileGrantsSignupBonusOnce(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)

	profile, err := svc.GetProfile(ctx, "ash")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile.Balance != 100 {
		t.Fatalf("signup balance = %d, want 100", profile.Balance)
	}
	if profile.Tier != 1 || profile.Wins != 0 {
		t.Fatalf("fresh profile = %+v", profile)
	}

	// Second contact must not grant again.
	profile, err = svc.GetProfile(ctx, "ash")
	if err != nil {
		t.Fatalf("GetProfile again: %v", err)
	}
	if profile.Balance != 100 {
		t.Fatalf("balance after second load = %d, want 100", profile.Balance)
	}

	// The bonus is a house grant, visible in the ledger.
	entries, err := mem.Transactions(ctx, "ash", 0, 10)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(entries) != 1 || entries[0].Tx.Reason != domain.ReasonBonus || entries[0].Tx.From != domain.HouseAccount {
		t.Fatalf("unexpected ledger entries: %+v", entries)
	}
}

func TestCreateMatchStakeBounds(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	for _, stake := range []int64{0, 9, 10001, -5} {
		if _, err := svc.CreateMatch(ctx, "ash", domain.GameTypeDuel, false, stake); !errors.Is(err, domain.ErrInvalidStake) {
			t.Fatalf("stake %d: expected ErrInvalidStake, got %v", stake, err)
		}
	}
	if _, err := svc.CreateMatch(ctx, "ash", "poker", false, 50); !errors.Is(err, domain.ErrUnknownGameType) {
		t.Fatalf("expected ErrUnknownGameType, got %v", err)
	}
}

func TestCreateAndJoinThroughService(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	view, err := svc.CreateMatch(ctx, "ash", domain.GameTypeDuel, false, 50)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if view.State != domain.StateForming || view.Stake != 50 {
		t.Fatalf("unexpected view: %+v", view)
	}

	view, err = svc.JoinMatch(ctx, view.ID, "gary")
	if err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}
	if len(view.Participants) != 2 {
		t.Fatalf("participants = %v", view.Participants)
	}
	if _, err := svc.ActiveMatch(ctx, "gary"); err != nil {
		t.Fatalf("ActiveMatch: %v", err)
	}
}

func TestExchangeIsAtomic(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)
	if err := mem.Create(ctx, &domain.Profile{ID: "ash", Balance: 100, Bonds: 5, Tier: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	profile, err := svc.Exchange(ctx, "ash", 3)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if profile.Bonds != 2 {
		t.Fatalf("bonds = %d, want 2", profile.Bonds)
	}
	if profile.Balance != 130 {
		t.Fatalf("balance = %d, want 130", profile.Balance)
	}
}

func TestExchangeRejectsBadAmounts(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)
	if err := mem.Create(ctx, &domain.Profile{ID: "ash", Balance: 100, Bonds: 2, Tier: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, bonds := range []int64{0, -1} {
		if _, err := svc.Exchange(ctx, "ash", bonds); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("bonds %d: expected ErrInvalidAmount, got %v", bonds, err)
		}
	}

	// More bonds than held: the whole batch fails, chips untouched.
	if _, err := svc.Exchange(ctx, "ash", 10); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	profile, err := mem.Load(ctx, "ash")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if profile.Balance != 100 || profile.Bonds != 2 {
		t.Fatalf("failed exchange mutated profile: %+v", profile)
	}
}

func TestFlipStakeBounds(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	for _, stake := range []int64{0, 49, 10000} {
		if _, err := svc.Flip(ctx, "ash", stake); !errors.Is(err, domain.ErrInvalidAmount) {
			t.Fatalf("stake %d: expected ErrInvalidAmount, got %v", stake, err)
		}
	}
	// Signup bonus is 100, below a 500 stake.
	if _, err := svc.Flip(ctx, "ash", 500); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestFlipWinAndLossSettleInOneBatch(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)
	if err := mem.Create(ctx, &domain.Profile{ID: "ash", Balance: 1000, Tier: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Pin both outcomes by searching for seeds whose first Intn(2)
	// lands each way.
	winSeed, lossSeed := int64(-1), int64(-1)
	for seed := int64(0); seed < 64 && (winSeed < 0 || lossSeed < 0); seed++ {
		if rand.New(rand.NewSource(seed)).Intn(2) == 0 {
			if winSeed < 0 {
				winSeed = seed
			}
		} else if lossSeed < 0 {
			lossSeed = seed
		}
	}

	svc.newRand = func() *rand.Rand { return rand.New(rand.NewSource(winSeed)) }
	result, err := svc.Flip(ctx, "ash", 100)
	if err != nil {
		t.Fatalf("Flip: %v", err)
	}
	if !result.Won || result.Payout != 200 {
		t.Fatalf("unexpected win result: %+v", result)
	}
	profile, _ := mem.Load(ctx, "ash")
	if profile.Balance != 1100 {
		t.Fatalf("balance after win = %d, want 1100", profile.Balance)
	}

	svc.newRand = func() *rand.Rand { return rand.New(rand.NewSource(lossSeed)) }
	result, err = svc.Flip(ctx, "ash", 100)
	if err != nil {
		t.Fatalf("Flip: %v", err)
	}
	if result.Won || result.Payout != 0 {
		t.Fatalf("unexpected loss result: %+v", result)
	}
	profile, _ = mem.Load(ctx, "ash")
	if profile.Balance != 1000 {
		t.Fatalf("balance after loss = %d, want 1000", profile.Balance)
	}
}

func TestTransactionsPagesFromCursor(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)
	if err := mem.Create(ctx, &domain.Profile{ID: "ash", Balance: 1000, Tier: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	led := ledger.New(mem, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < 5; i++ {
		if _, err := led.Apply(ctx, domain.Transaction{
			From: "ash", To: domain.HouseAccount, Amount: 10, Reason: domain.ReasonStake,
		}); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	first, err := svc.Transactions(ctx, "ash", 0, 3)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("first page len = %d, want 3", len(first))
	}
	rest, err := svc.Transactions(ctx, "ash", first[len(first)-1].Seq, 10)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("second page len = %d, want 2", len(rest))
	}
	if rest[0].Seq <= first[len(first)-1].Seq {
		t.Fatalf("cursor did not advance: %d then %d", first[len(first)-1].Seq, rest[0].Seq)
	}
}
