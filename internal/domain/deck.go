package domain

import "math/rand"

// standardSuits is the deterministic suit order used when building decks.
var standardSuits = []Suit{SuitSpade, SuitHeart, SuitClub, SuitDiamond}

// Deck is an ordered sequence of unique cards owned by a single match.
// Cards move from the deck to hands and never return.
type Deck struct {
	cards []Card
	next  int
}

// NewDeck builds the full, unshuffled card pool for a ruleset: the
// rank x suit cross product plus the ruleset's fixed joker count.
func NewDeck(rs Ruleset) *Deck {
	cards := make([]Card, 0, 52+rs.JokerCount)
	for rank := RankAce; rank <= RankKing; rank++ {
		for _, suit := range standardSuits {
			cards = append(cards, Card{Rank: rank, Suit: suit})
		}
	}
	for i := 0; i < rs.JokerCount; i++ {
		cards = append(cards, Card{Rank: RankJoker, Suit: SuitJoker})
	}
	return &Deck{cards: cards}
}

// Shuffle permutes the undealt cards with Fisher-Yates, consuming the
// supplied randomness source so tests can seed it.
func (d *Deck) Shuffle(rng *rand.Rand) {
	cards := d.cards[d.next:]
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}

// Deal removes and returns n cards from the front of the deck.
func (d *Deck) Deal(n int) ([]Card, error) {
	if n < 0 || d.next+n > len(d.cards) {
		return nil, ErrInsufficientCards
	}
	dealt := make([]Card, n)
	copy(dealt, d.cards[d.next:d.next+n])
	d.next += n
	return dealt, nil
}

// Remaining reports how many cards are still undealt.
func (d *Deck) Remaining() int {
	return len(d.cards) - d.next
}

// Cards returns a copy of every card in the deck, dealt or not.
func (d *Deck) Cards() []Card {
	out := make([]Card, len(d.cards))
	copy(out, d.cards)
	return out
}
