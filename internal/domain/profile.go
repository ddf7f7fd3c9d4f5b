package domain

import "time"

// Profile is a player's persistent record. Balances move only through the
// ledger; Version backs optimistic concurrency on saves.
type Profile struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	Bonds     int64     `json:"bonds"`
	Wins      int64     `json:"wins"`
	Tier      int       `json:"tier"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tier thresholds by cumulative wins. Tiers never regress because the win
// counter is monotonic.
const (
	tier2Wins = 10
	tier3Wins = 100
)

// TierFor maps a cumulative win count to its tier.
func TierFor(wins int64) int {
	switch {
	case wins >= tier3Wins:
		return 3
	case wins >= tier2Wins:
		return 2
	default:
		return 1
	}
}

// RewardMultiplier is the loot/daily-reward multiplier a tier grants.
// Collaborator systems apply it; the core only keeps the tier current.
func RewardMultiplier(tier int) int {
	switch tier {
	case 3:
		return 5
	case 2:
		return 2
	default:
		return 1
	}
}
