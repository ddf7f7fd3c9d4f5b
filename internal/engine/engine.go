// Package engine runs each wagered match as its own goroutine-backed
// state machine: Forming -> Collecting -> Playing -> Resolving -> Settled,
// with Cancelled and Expired as the failure terminals. All balance
// movement goes through the ledger and all persistent player state goes
// through the profile store.
package engine

import (
	crand "crypto/rand"
	"encoding/binary"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/events"
	"github.com/pokegambler-engine/internal/ledger"
	"github.com/pokegambler-engine/internal/store"
)

// Config holds per-match timing and randomness knobs.
type Config struct {
	// JoinWindow is how long a Forming match waits for joiners.
	JoinWindow time.Duration
	// TurnTimeout is how long Playing waits for reveal actions before
	// folding the silent hands.
	TurnTimeout time.Duration
	// MatchTimeout is the blanket staleness bound the sweep applies to
	// any state without an explicit entry in StateTimeouts.
	MatchTimeout time.Duration
	// StateTimeouts overrides the staleness bound per state.
	StateTimeouts map[domain.MatchState]time.Duration
	// NewRand supplies the shuffle randomness for one match. Tests
	// inject seeded sources here.
	NewRand func() *rand.Rand
}

func (c Config) withDefaults() Config {
	if c.JoinWindow == 0 {
		c.JoinWindow = 30 * time.Second
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = 10 * time.Second
	}
	if c.MatchTimeout == 0 {
		c.MatchTimeout = 5 * time.Minute
	}
	if c.NewRand == nil {
		c.NewRand = NewSeededRand
	}
	return c
}

// TimeoutFor returns the staleness bound for a state.
func (c Config) TimeoutFor(state domain.MatchState) time.Duration {
	if d, ok := c.StateTimeouts[state]; ok {
		return d
	}
	return c.MatchTimeout
}

// NewSeededRand returns a rand.Rand seeded from the OS entropy source.
func NewSeededRand() *rand.Rand {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(buf[:]))))
}

// Deps are the collaborators a match needs to run.
type Deps struct {
	Profiles store.ProfileStore
	Locks    store.MatchLocker
	Ledger   *ledger.Ledger
	Emitter  events.Emitter
	Logger   *slog.Logger
}
