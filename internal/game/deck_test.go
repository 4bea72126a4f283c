package game

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardPacking(t *testing.T) {
	c := NewCard(SuitSpades, RankAce)
	assert.Equal(t, SuitSpades, c.Suit())
	assert.Equal(t, RankAce, c.Rank())
	assert.Equal(t, "AS", c.String())

	c = NewCard(SuitHearts, RankTwo)
	assert.Equal(t, "2H", c.String())
	assert.Equal(t, "TD", NewCard(SuitDiamonds, RankTen).String())
	assert.Equal(t, "??", EmptyCard.String())
}

func TestNewDeckComplete(t *testing.T) {
	deck := NewDeck()
	require.Len(t, deck, DeckSize)

	seen := make(map[Card]bool, DeckSize)
	for _, c := range deck {
		assert.False(t, seen[c], "duplicate card %s", c)
		seen[c] = true
		assert.LessOrEqual(t, c.Rank(), RankAce)
		assert.LessOrEqual(t, c.Suit(), SuitSpades)
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	deck := NewDeck()
	rng := rand.New(rand.NewPCG(42, 99))
	Shuffle(deck, rng)

	require.Len(t, deck, DeckSize)
	seen := make(map[Card]bool, DeckSize)
	for _, c := range deck {
		assert.False(t, seen[c])
		seen[c] = true
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	deck := NewDeck()
	assert.Equal(t, deck, UnpackCards(PackCards(deck)))
}
