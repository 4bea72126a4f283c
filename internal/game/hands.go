// internal/game/hands.go
package game

import "sort"

// HandCategory ranks a five-card draw hand. Order matters: higher is better.
type HandCategory int

const (
	HandNothing HandCategory = iota
	HandJacksOrBetter
	HandTwoPair
	HandThreeOfAKind
	HandStraight
	HandFlush
	HandFullHouse
	HandFourOfAKind
	HandStraightFlush
	HandRoyalFlush
)

// handNames indexed by HandCategory.
var handNames = [...]string{
	"nothing", "jacks_or_better", "two_pair", "three_of_a_kind",
	"straight", "flush", "full_house", "four_of_a_kind",
	"straight_flush", "royal_flush",
}

func (h HandCategory) String() string {
	if h < HandNothing || int(h) >= len(handNames) {
		return "unknown"
	}
	return handNames[h]
}

// drawPayouts is the fixed multiplier table. A no-pair or low-pair hand
// pays zero; jacks-or-better returns the stake at parity.
var drawPayouts = map[HandCategory]float64{
	HandRoyalFlush:    250,
	HandStraightFlush: 50,
	HandFourOfAKind:   25,
	HandFullHouse:     9,
	HandFlush:         6,
	HandStraight:      4,
	HandThreeOfAKind:  3,
	HandTwoPair:       2,
	HandJacksOrBetter: 1,
	HandNothing:       0,
}

// Multiplier returns the payout multiplier for the hand category.
func (h HandCategory) Multiplier() float64 { return drawPayouts[h] }

// ClassifyHand evaluates exactly five cards.
func ClassifyHand(hand []Card) HandCategory {
	if len(hand) != 5 {
		return HandNothing
	}

	ranks := make([]int, 5)
	flush := true
	for i, c := range hand {
		ranks[i] = int(c.Rank())
		if c.Suit() != hand[0].Suit() {
			flush = false
		}
	}
	sort.Ints(ranks)

	counts := map[int]int{}
	for _, r := range ranks {
		counts[r]++
	}

	straight := len(counts) == 5 && ranks[4]-ranks[0] == 4
	// Wheel: A-2-3-4-5 (ace plays low).
	wheel := len(counts) == 5 && ranks[4] == int(RankAce) && ranks[3] == int(RankFive)
	straight = straight || wheel

	switch {
	case straight && flush && ranks[0] == int(RankTen):
		return HandRoyalFlush
	case straight && flush:
		return HandStraightFlush
	}

	var pairs, trips, quads int
	var highPair bool
	for r, n := range counts {
		switch n {
		case 4:
			quads++
		case 3:
			trips++
		case 2:
			pairs++
			if r >= int(RankJack) {
				highPair = true
			}
		}
	}

	switch {
	case quads == 1:
		return HandFourOfAKind
	case trips == 1 && pairs == 1:
		return HandFullHouse
	case flush:
		return HandFlush
	case straight:
		return HandStraight
	case trips == 1:
		return HandThreeOfAKind
	case pairs == 2:
		return HandTwoPair
	case pairs == 1 && highPair:
		return HandJacksOrBetter
	default:
		return HandNothing
	}
}
