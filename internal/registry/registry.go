package registry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pokegambler-engine/internal/domain"
	"github.com/pokegambler-engine/internal/engine"
)

// Registry tracks live matches and routes player requests to them. It is
// the only writer of the match index; matches remove themselves on
// termination through the OnTerminal hook.
type Registry struct {
	cfg    engine.Config
	deps   engine.Deps
	logger *slog.Logger

	mu       sync.RWMutex
	matches  map[string]*engine.Match
	byPlayer map[string]string
}

// New creates an empty registry.
func New(cfg engine.Config, deps engine.Deps, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		matches:  make(map[string]*engine.Match),
		byPlayer: make(map[string]string),
	}
}

// CreateMatch builds a match for the given ruleset, seats the initiator
// and starts the match goroutine. The initiator's lock and balance are
// verified synchronously so creation errors surface to the caller.
func (r *Registry) CreateMatch(ctx context.Context, initiatorID string, ruleset domain.Ruleset, stake int64) (*engine.Match, error) {
	m := engine.NewMatch(r.cfg, r.deps, ruleset, initiatorID, stake)
	m.OnTerminal(r.remove)

	if err := m.SeedInitiator(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.matches[m.ID()] = m
	r.byPlayer[initiatorID] = m.ID()
	r.mu.Unlock()

	m.Start()
	r.logger.Info("match created",
		"match_id", m.ID(), "game_type", ruleset.Name,
		"initiator", initiatorID, "stake", stake)
	return m, nil
}

// Join routes a join request to a forming match.
func (r *Registry) Join(ctx context.Context, matchID, playerID string) error {
	m, err := r.Lookup(matchID)
	if err != nil {
		return err
	}
	if err := m.Join(ctx, playerID); err != nil {
		return err
	}
	r.mu.Lock()
	// A filled match can run to termination before this write lands, and
	// remove only scans routes that exist when it runs. Recording the
	// route for an already-removed match would leave it stale until the
	// player's next match.
	if _, live := r.matches[matchID]; live {
		r.byPlayer[playerID] = matchID
	}
	r.mu.Unlock()
	return nil
}

// SubmitAction routes a player action to their active match.
func (r *Registry) SubmitAction(ctx context.Context, matchID, playerID string, action domain.Action) error {
	m, err := r.Lookup(matchID)
	if err != nil {
		return err
	}
	return m.SubmitAction(ctx, playerID, action)
}

// RouteAction forwards an action to whichever match the player is
// seated in, so callers that only know the player can still act.
func (r *Registry) RouteAction(ctx context.Context, playerID string, action domain.Action) error {
	m, err := r.ActiveMatch(playerID)
	if err != nil {
		return err
	}
	return m.SubmitAction(ctx, playerID, action)
}

// Begin routes an early-start request to a forming match.
func (r *Registry) Begin(ctx context.Context, matchID, requesterID string) error {
	m, err := r.Lookup(matchID)
	if err != nil {
		return err
	}
	return m.Begin(ctx, requesterID)
}

// Cancel routes a cancellation request.
func (r *Registry) Cancel(ctx context.Context, matchID, requesterID string) error {
	m, err := r.Lookup(matchID)
	if err != nil {
		return err
	}
	return m.Cancel(ctx, requesterID)
}

// Lookup returns the live match with the given id.
func (r *Registry) Lookup(matchID string) (*engine.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[matchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

// ActiveMatch returns the match the player is currently seated in.
func (r *Registry) ActiveMatch(playerID string) (*engine.Match, error) {
	r.mu.RLock()
	matchID, ok := r.byPlayer[playerID]
	if !ok {
		r.mu.RUnlock()
		return nil, domain.ErrNoActiveMatch
	}
	m, ok := r.matches[matchID]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNoActiveMatch
	}
	return m, nil
}

// Snapshot returns views of every live match, for the sweep and listings.
func (r *Registry) Snapshot() []domain.MatchView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]domain.MatchView, 0, len(r.matches))
	for _, m := range r.matches {
		views = append(views, m.View())
	}
	return views
}

// Len reports the number of live matches.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// remove drops a terminated match and its player routes.
func (r *Registry) remove(m *engine.Match) {
	view := m.View()
	r.mu.Lock()
	delete(r.matches, view.ID)
	// Scan rather than walk view.Participants: players dropped during
	// stake collection still route here until the match ends.
	for p, id := range r.byPlayer {
		if id == view.ID {
			delete(r.byPlayer, p)
		}
	}
	r.mu.Unlock()
	r.logger.Debug("match removed", "match_id", view.ID, "state", view.State)
}
