package domain

import "testing"

func TestRulesetFor(t *testing.T) {
	if _, err := RulesetFor("roulette"); err != ErrUnknownGameType {
		t.Fatalf("expected ErrUnknownGameType, got %v", err)
	}
	rs, err := RulesetFor(GameTypeHighCard)
	if err != nil {
		t.Fatalf("RulesetFor: %v", err)
	}
	if rs.MinPlayers != 2 || rs.MaxPlayers != 12 || rs.CardsPerHand != 1 {
		t.Fatalf("unexpected highcard ruleset: %+v", rs)
	}

	duel, err := RulesetFor(GameTypeDuel)
	if err != nil {
		t.Fatalf("RulesetFor: %v", err)
	}
	if duel.MaxPlayers != 2 || duel.CardsPerHand != 3 {
		t.Fatalf("unexpected duel ruleset: %+v", duel)
	}
}

func TestFeePercentScalesWithPlayers(t *testing.T) {
	rs, _ := RulesetFor(GameTypeHighCard)

	cases := []struct {
		players int
		want    int
	}{
		{2, 10},
		{12, 10},
		{13, 10},
		{15, 15},
		{18, 20},
	}
	for _, tc := range cases {
		if got := rs.FeePercent(tc.players); got != tc.want {
			t.Fatalf("FeePercent(%d) = %d, want %d", tc.players, got, tc.want)
		}
	}

	duel, _ := RulesetFor(GameTypeDuel)
	if got := duel.FeePercent(2); got != 0 {
		t.Fatalf("duel fee = %d, want 0", got)
	}
}

func TestEvaluateSumsRanksAndTracksHighCard(t *testing.T) {
	hand := []Card{
		{Rank: RankKing, Suit: SuitDiamond},
		{Rank: 5, Suit: SuitSpade},
		{Rank: RankAce, Suit: SuitHeart},
	}
	s := Evaluate(hand)
	if s.Total != 19 {
		t.Fatalf("Total = %d, want 19", s.Total)
	}
	if want := (Card{Rank: RankKing, Suit: SuitDiamond}).Power(); s.High != want {
		t.Fatalf("High = %d, want %d", s.High, want)
	}
	if s.Folded {
		t.Fatalf("evaluated hand must not be folded")
	}
}

func TestBeatsOrdering(t *testing.T) {
	rs, _ := RulesetFor(GameTypeHighCard)

	high := Evaluate([]Card{{Rank: RankQueen, Suit: SuitClub}})
	low := Evaluate([]Card{{Rank: 4, Suit: SuitSpade}})

	if !rs.Beats(high, low) {
		t.Fatalf("queen should beat four")
	}
	if rs.Beats(low, high) {
		t.Fatalf("four should not beat queen")
	}

	// Same rank falls through to suit weight.
	spade := Evaluate([]Card{{Rank: 9, Suit: SuitSpade}})
	heart := Evaluate([]Card{{Rank: 9, Suit: SuitHeart}})
	if !rs.Beats(spade, heart) {
		t.Fatalf("spade should break the rank tie")
	}

	joker := Evaluate([]Card{{Rank: RankJoker, Suit: SuitJoker}})
	if !rs.Beats(joker, high) {
		t.Fatalf("joker should beat a queen")
	}
}

func TestBeatsLowerWins(t *testing.T) {
	rs, _ := RulesetFor(GameTypeHighCard)
	rs = rs.Variant(true)

	high := Evaluate([]Card{{Rank: RankQueen, Suit: SuitClub}})
	low := Evaluate([]Card{{Rank: 4, Suit: SuitSpade}})

	if !rs.Beats(low, high) {
		t.Fatalf("lower-wins: four should beat queen")
	}

	// A folded hand never claims the low slot.
	if rs.Beats(FoldedScore(), low) {
		t.Fatalf("folded hand must not beat a revealed one")
	}
	if !rs.Beats(high, FoldedScore()) {
		t.Fatalf("any revealed hand beats a folded one")
	}
}

func TestFoldedNeverBeatsFolded(t *testing.T) {
	rs, _ := RulesetFor(GameTypeDuel)
	if rs.Beats(FoldedScore(), FoldedScore()) {
		t.Fatalf("folded vs folded must not produce a winner")
	}
}
