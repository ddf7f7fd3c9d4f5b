package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedProfiles(t *testing.T, m *store.Memory, balances map[string]int64) {
	t.Helper()
	for id, balance := range balances {
		p := &domain.Profile{ID: id, Balance: balance, Tier: 1}
		if err := m.Create(context.Background(), p); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}
}

func TestApplyStampsAndCommits(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedProfiles(t, mem, map[string]int64{"ash": 100})
	led := New(mem, testLogger())

	tx, err := led.Apply(ctx, domain.Transaction{
		From:    "ash",
		To:      domain.HouseAccount,
		Amount:  40,
		Reason:  domain.ReasonStake,
		MatchID: "m1",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tx.ID == "" {
		t.Fatalf("transaction ID not stamped")
	}
	if tx.Currency != domain.CurrencyChips {
		t.Fatalf("currency = %q, want chips", tx.Currency)
	}
	if tx.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not stamped")
	}

	p, _ := mem.Load(ctx, "ash")
	if p.Balance != 60 {
		t.Fatalf("balance = %d, want 60", p.Balance)
	}
}

func TestApplyRejectsNonPositiveAmount(t *testing.T) {
	led := New(store.NewMemory(), testLogger())
	_, err := led.Apply(context.Background(), domain.Transaction{
		From: "ash", To: domain.HouseAccount, Amount: -5, Reason: domain.ReasonStake,
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestApplyInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedProfiles(t, mem, map[string]int64{"ash": 10})
	led := New(mem, testLogger())

	_, err := led.Apply(ctx, domain.Transaction{
		From: "ash", To: domain.HouseAccount, Amount: 50, Reason: domain.ReasonStake,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	p, _ := mem.Load(ctx, "ash")
	if p.Balance != 10 {
		t.Fatalf("failed apply mutated balance: %d", p.Balance)
	}
}

// The audit law: the signed sum of a player's transactions equals their
// balance delta, across any interleaving of concurrent transfers.
func TestConcurrentTransfersPreserveAuditLaw(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedProfiles(t, mem, map[string]int64{"ash": 1000, "gary": 1000, "misty": 1000})
	led := New(mem, testLogger())

	players := []string{"ash", "gary", "misty"}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := players[i%3]
			to := players[(i+1)%3]
			_, err := led.Apply(ctx, domain.Transaction{
				From: from, To: to, Amount: 7, Reason: domain.ReasonPayout,
			})
			if err != nil {
				t.Errorf("Apply(%s->%s): %v", from, to, err)
			}
		}(i)
	}
	wg.Wait()

	total := int64(0)
	for _, id := range players {
		p, _ := mem.Load(ctx, id)
		total += p.Balance

		// Replay the log for this player and compare.
		signed := int64(0)
		cursor := led.History(id, 0, 8)
		for {
			entries, err := cursor.Next(ctx)
			if err != nil {
				t.Fatalf("History(%s): %v", id, err)
			}
			if len(entries) == 0 {
				break
			}
			for _, e := range entries {
				if e.Tx.To == id {
					signed += e.Tx.Amount
				}
				if e.Tx.From == id {
					signed -= e.Tx.Amount
				}
			}
		}
		if p.Balance != 1000+signed {
			t.Fatalf("audit law broken for %s: balance=%d, signed sum=%d", id, p.Balance, signed)
		}
	}
	if total != 3000 {
		t.Fatalf("chips created or destroyed: total=%d", total)
	}
}

func TestApplyBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedProfiles(t, mem, map[string]int64{"ash": 100, "gary": 5})
	led := New(mem, testLogger())

	_, err := led.ApplyBatch(ctx, []domain.Transaction{
		{From: "ash", To: domain.HouseAccount, Amount: 20, Reason: domain.ReasonStake},
		{From: "gary", To: domain.HouseAccount, Amount: 20, Reason: domain.ReasonStake},
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	ash, _ := mem.Load(ctx, "ash")
	if ash.Balance != 100 {
		t.Fatalf("partial batch applied: ash=%d", ash.Balance)
	}
}

func TestHistoryCursorResumes(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedProfiles(t, mem, map[string]int64{"ash": 1000})
	led := New(mem, testLogger())

	for i := 0; i < 7; i++ {
		if _, err := led.Apply(ctx, domain.Transaction{
			From: "ash", To: domain.HouseAccount, Amount: 1, Reason: domain.ReasonStake,
		}); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}

	cursor := led.History("ash", 0, 3)
	first, err := cursor.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("first page len = %d, want 3", len(first))
	}

	// Restart from the recorded position, as a caller would after a crash.
	resumed := led.History("ash", cursor.Pos(), 10)
	rest, err := resumed.Next(ctx)
	if err != nil {
		t.Fatalf("resumed Next: %v", err)
	}
	if len(rest) != 4 {
		t.Fatalf("resumed page len = %d, want 4", len(rest))
	}
	if rest[0].Seq <= first[len(first)-1].Seq {
		t.Fatalf("resumed cursor replayed entries")
	}

	if more, _ := resumed.Next(ctx); len(more) != 0 {
		t.Fatalf("exhausted cursor returned %d entries", len(more))
	}
}
