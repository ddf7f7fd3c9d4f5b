package worker

import (
	"context"
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

func newSweepFixture(t *testing.T, engineCfg engine.Config) (*SweepWorker, *registry.Registry, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := engine.Deps{
		Profiles: mem,
		Locks:    mem,
		Ledger:   ledger.New(mem, logger),
		Emitter:  events.NewCapture(),
		Logger:   logger,
	}
	reg := registry.New(engineCfg, deps, logger)
	w := NewSweepWorker(reg, engineCfg, &config.SweepConfig{Interval: 5 * time.Millisecond}, logger)
	return w, reg, mem
}

func TestRunOnceExpiresStaleMatch(t *testing.T) {
	ctx := context.Background()
	// A forming match goes stale immediately; the join-window timer is
	// too far out to beat the sweep.
	engineCfg := engine.Config{
		JoinWindow:  time.Minute,
		TurnTimeout: time.Minute,
		StateTimeouts: map[domain.MatchState]time.Duration{
			domain.StateForming: 0,
		},
		NewRand: func() *rand.Rand { return rand.New(rand.NewSource(7)) },
	}
	w, reg, mem := newSweepFixture(t, engineCfg)
	if err := mem.Create(ctx, &domain.Profile{ID: "ash", Balance: 100, Tier: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rs, err := domain.RulesetFor(domain.GameTypeDuel)
	if err != nil {
		t.Fatalf("RulesetFor: %v", err)
	}
	m, err := reg.CreateMatch(ctx, "ash", rs, 20)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	w.RunOnce(ctx)

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("sweep did not expire the match")
	}
	if state := m.State(); state != domain.StateExpired {
		t.Fatalf("state = %s, want expired", state)
	}
	if owner, _ := mem.MatchLockOwner(ctx, "ash"); owner != "" {
		t.Fatalf("expiry left the lock held by %s", owner)
	}
}

func TestRunOnceLeavesFreshMatchesAlone(t *testing.T) {
	ctx := context.Background()
	engineCfg := engine.Config{
		JoinWindow:   time.Minute,
		TurnTimeout:  time.Minute,
		MatchTimeout: time.Hour,
		NewRand:      func() *rand.Rand { return rand.New(rand.NewSource(7)) },
	}
	w, reg, mem := newSweepFixture(t, engineCfg)
	if err := mem.Create(ctx, &domain.Profile{ID: "ash", Balance: 100, Tier: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rs, err := domain.RulesetFor(domain.GameTypeDuel)
	if err != nil {
		t.Fatalf("RulesetFor: %v", err)
	}
	m, err := reg.CreateMatch(ctx, "ash", rs, 20)
	if err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	defer m.Cancel(ctx, "ash")

	w.RunOnce(ctx)

	if state := m.State(); state != domain.StateForming {
		t.Fatalf("fresh match state = %s, want forming", state)
	}
	if reg.Len() != 1 {
		t.Fatalf("fresh match removed by sweep")
	}
}

func TestStartAndStop(t *testing.T) {
	ctx := context.Background()
	w, _, _ := newSweepFixture(t, engine.Config{JoinWindow: time.Minute, TurnTimeout: time.Minute})

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !w.IsRunning() {
		t.Fatal("worker should report running")
	}
	// Starting twice is a no-op.
	if err := w.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if w.IsRunning() {
		t.Fatal("worker should report stopped")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
