package domain

import "fmt"

// Suit identifies a card suit. Jokers carry their own suit tag.
type Suit string

const (
	SuitSpade   Suit = "spade"
	SuitHeart   Suit = "heart"
	SuitClub    Suit = "club"
	SuitDiamond Suit = "diamond"
	SuitJoker   Suit = "joker"
)

// suitWeight orders suits for tie-breaking: a spade beats a heart of the
// same rank, and so on down to diamond.
var suitWeight = map[Suit]int{
	SuitJoker:   5,
	SuitSpade:   4,
	SuitHeart:   3,
	SuitClub:    2,
	SuitDiamond: 1,
}

// Rank values carried by cards. Ace is low (1), face cards run 11-13 and
// the Joker outranks everything.
const (
	RankAce   = 1
	RankJack  = 11
	RankQueen = 12
	RankKing  = 13
	RankJoker = 100
)

// Card is an immutable playing card. Equality is structural.
type Card struct {
	Rank int  `json:"rank"`
	Suit Suit `json:"suit"`
}

// Power returns a strict total ordering key over all distinct cards.
// Rank dominates; suit weight breaks rank ties.
func (c Card) Power() int {
	return c.Rank*8 + suitWeight[c.Suit]
}

// String renders the card for logs and events.
func (c Card) String() string {
	var name string
	switch c.Rank {
	case RankAce:
		name = "A"
	case RankJack:
		name = "J"
	case RankQueen:
		name = "Q"
	case RankKing:
		name = "K"
	case RankJoker:
		return "Joker"
	default:
		name = fmt.Sprintf("%d", c.Rank)
	}
	return fmt.Sprintf("%s of %ss", name, c.Suit)
}
