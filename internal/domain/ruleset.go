package domain

// Game type tags for the built-in rulesets.
const (
	GameTypeHighCard = "highcard"
	GameTypeDuel     = "duel"
)

// Ruleset parametrizes one game type: how many may play, how many cards
// each hand holds, how the winner is ordered and what the house takes.
type Ruleset struct {
	Name           string `json:"name"`
	MinPlayers     int    `json:"min_players"`
	MaxPlayers     int    `json:"max_players"`
	CardsPerHand   int    `json:"cards_per_hand"`
	LowerWins      bool   `json:"lower_wins"`
	JokerCount     int    `json:"joker_count"`
	BaseFeePercent int    `json:"base_fee_percent"`
}

// Fee scaling above this participant count, in percent per step.
const (
	feeScaleThreshold = 12
	feeScaleStep      = 3
	feeScalePercent   = 5
)

// FeePercent returns the house cut for a pot with the given participant
// count. Rulesets with no base fee take nothing regardless of size.
func (r Ruleset) FeePercent(players int) int {
	if r.BaseFeePercent == 0 {
		return 0
	}
	extra := 0
	if players > feeScaleThreshold {
		extra = (players - feeScaleThreshold) / feeScaleStep * feeScalePercent
	}
	return r.BaseFeePercent + extra
}

var rulesets = map[string]Ruleset{
	GameTypeHighCard: {
		Name:           GameTypeHighCard,
		MinPlayers:     2,
		MaxPlayers:     12,
		CardsPerHand:   1,
		JokerCount:     2,
		BaseFeePercent: 10,
	},
	GameTypeDuel: {
		Name:         GameTypeDuel,
		MinPlayers:   2,
		MaxPlayers:   2,
		CardsPerHand: 3,
	},
}

// RulesetFor resolves a game type tag to its ruleset.
func RulesetFor(gameType string) (Ruleset, error) {
	rs, ok := rulesets[gameType]
	if !ok {
		return Ruleset{}, ErrUnknownGameType
	}
	return rs, nil
}

// Variant returns a copy of the ruleset with the lower-wins flag applied.
func (r Ruleset) Variant(lowerWins bool) Ruleset {
	r.LowerWins = lowerWins
	return r
}

// Score is the totally ordered result of evaluating a frozen hand.
// Total compares first, then the single highest card power. Card powers
// are unique within a deck, so rankings between revealed hands are strict.
type Score struct {
	Total  int  `json:"total"`
	High   int  `json:"high"`
	Folded bool `json:"folded"`
}

// Evaluate scores a frozen hand. It is a pure function of the cards.
func Evaluate(hand []Card) Score {
	var s Score
	for _, c := range hand {
		s.Total += c.Rank
		if p := c.Power(); p > s.High {
			s.High = p
		}
	}
	return s
}

// FoldedScore is the score assigned to a hand that was never revealed.
// A folded hand loses to every revealed hand in either mode.
func FoldedScore() Score {
	return Score{Folded: true}
}

// Beats reports whether s strictly outranks other under the ruleset's
// ordering. Folded hands never beat revealed hands, even in lower-wins
// mode where a voided hand might otherwise claim the low card.
func (r Ruleset) Beats(s, other Score) bool {
	if s.Folded {
		return false
	}
	if other.Folded {
		return true
	}
	if s.Total != other.Total {
		if r.LowerWins {
			return s.Total < other.Total
		}
		return s.Total > other.Total
	}
	if r.LowerWins {
		return s.High < other.High
	}
	return s.High > other.High
}
