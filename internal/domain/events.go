package domain

import "time"

// Outbound event types delivered to collaborator layers.
const (
	EventMatchStateChanged = "match_state_changed"
	EventMatchSettled      = "match_settled"
	EventMatchCancelled    = "match_cancelled"
)

// Event is the envelope published for every match lifecycle change.
type Event struct {
	Type      string      `json:"type"`
	MatchID   string      `json:"match_id"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// StateChanged reports a lifecycle transition.
type StateChanged struct {
	State MatchState `json:"state"`
}

// Settled carries the final payout breakdown of a completed match.
type Settled struct {
	Winners []string         `json:"winners"`
	Payouts map[string]int64 `json:"payouts"`
	Fee     int64            `json:"fee,omitempty"`
}

// Cancelled reports why a match terminated without settling.
type Cancelled struct {
	Reason string `json:"reason"`
}

// Cancellation reasons.
const (
	CancelReasonBelowMinimum = "below_minimum_participants"
	CancelReasonRequested    = "requested"
	CancelReasonExpired      = "expired"
	CancelReasonLedger       = "ledger_failure"
	CancelReasonAllFolded    = "all_hands_folded"
	CancelReasonInternal     = "internal_error"
)
