// internal/game/deck.go
package game

import "math/rand/v2"

// Suit constants — packed into upper 4 bits of Card.
const (
	SuitHearts   uint8 = 0
	SuitDiamonds uint8 = 1
	SuitClubs    uint8 = 2
	SuitSpades   uint8 = 3
)

// Rank constants — packed into lower 4 bits of Card, ordered for poker
// comparison (Two lowest, Ace highest).
const (
	RankTwo   uint8 = 0
	RankThree uint8 = 1
	RankFour  uint8 = 2
	RankFive  uint8 = 3
	RankSix   uint8 = 4
	RankSeven uint8 = 5
	RankEight uint8 = 6
	RankNine  uint8 = 7
	RankTen   uint8 = 8
	RankJack  uint8 = 9
	RankQueen uint8 = 10
	RankKing  uint8 = 11
	RankAce   uint8 = 12
)

// DeckSize is a standard deck without jokers.
const DeckSize = 52

// Card is a packed uint8: upper 4 bits = suit, lower 4 bits = rank.
type Card uint8

// EmptyCard represents the absence of a card.
const EmptyCard Card = 0xFF

// NewCard constructs a Card from suit and rank.
func NewCard(suit, rank uint8) Card {
	return Card((suit << 4) | (rank & 0x0F))
}

// Suit returns the suit bits (upper 4).
func (c Card) Suit() uint8 { return uint8(c) >> 4 }

// Rank returns the rank bits (lower 4).
func (c Card) Rank() uint8 { return uint8(c) & 0x0F }

var rankStrings = [...]string{"2", "3", "4", "5", "6", "7", "8", "9", "T", "J", "Q", "K", "A"}
var suitStrings = [...]string{"H", "D", "C", "S"}

// String renders the card as rank+suit, e.g. "AS" for the ace of spades.
func (c Card) String() string {
	if c == EmptyCard || c.Rank() > RankAce || c.Suit() > SuitSpades {
		return "??"
	}
	return rankStrings[c.Rank()] + suitStrings[c.Suit()]
}

// NewDeck returns the 52 cards in suit-major order.
func NewDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for suit := SuitHearts; suit <= SuitSpades; suit++ {
		for rank := RankTwo; rank <= RankAce; rank++ {
			deck = append(deck, NewCard(suit, rank))
		}
	}
	return deck
}

// Shuffle performs an in-place Fisher-Yates shuffle with the given source.
func Shuffle(deck []Card, rng *rand.Rand) {
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
}

// PackCards converts a card slice to raw bytes for session persistence.
func PackCards(cards []Card) []uint8 {
	out := make([]uint8, len(cards))
	for i, c := range cards {
		out[i] = uint8(c)
	}
	return out
}

// UnpackCards converts persisted bytes back to cards.
func UnpackCards(raw []uint8) []Card {
	out := make([]Card, len(raw))
	for i, b := range raw {
		out[i] = Card(b)
	}
	return out
}
