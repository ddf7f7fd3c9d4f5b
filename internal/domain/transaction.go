package domain

import "time"

// HouseAccount is the escrow pseudo-account. Stakes sit here between
// collection and settlement; it is exempt from the non-negative check.
const HouseAccount = "house"

// Currency identifies which balance a transaction moves.
type Currency string

const (
	CurrencyChips Currency = "chips"
	CurrencyBonds Currency = "bonds"
)

// Reason codes for ledger transactions.
type Reason string

const (
	ReasonStake  Reason = "stake"
	ReasonPayout Reason = "payout"
	ReasonRefund Reason = "refund"
	ReasonFee    Reason = "fee"
	ReasonCashIn Reason = "cash-in"
	ReasonBonus  Reason = "bonus"
)

// Transaction is an immutable ledger record. The signed sum of all
// transactions touching a player equals that player's balance.
type Transaction struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Currency  Currency  `json:"currency"`
	Amount    int64     `json:"amount"`
	Reason    Reason    `json:"reason"`
	MatchID   string    `json:"match_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
