package domain

import "time"

// MatchState is one stage of a match's lifecycle.
type MatchState string

const (
	StateForming    MatchState = "forming"
	StateCollecting MatchState = "collecting"
	StatePlaying    MatchState = "playing"
	StateResolving  MatchState = "resolving"
	StateSettled    MatchState = "settled"
	StateCancelled  MatchState = "cancelled"
	StateExpired    MatchState = "expired"
)

// legalTransitions enumerates every permitted state change. Expiry is
// legal from any non-terminal state.
var legalTransitions = map[MatchState][]MatchState{
	StateForming:    {StateCollecting, StateCancelled, StateExpired},
	StateCollecting: {StatePlaying, StateCancelled, StateExpired},
	StatePlaying:    {StateResolving, StateCancelled, StateExpired},
	StateResolving:  {StateSettled, StateCancelled, StateExpired},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to MatchState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state ends the match.
func (s MatchState) Terminal() bool {
	switch s {
	case StateSettled, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Action types a participant may submit during play.
const (
	ActionReveal = "reveal"
)

// Action is an inbound player action routed to a live match.
type Action struct {
	Type string `json:"type"`
}

// MatchView is a read-only snapshot of a live or finished match.
type MatchView struct {
	ID           string     `json:"id"`
	GameType     string     `json:"game_type"`
	State        MatchState `json:"state"`
	Participants []string   `json:"participants"`
	Stake        int64      `json:"stake"`
	Pot          int64      `json:"pot"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
}
