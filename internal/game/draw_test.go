package game

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
	"github.com/aquacommander/CasinoGame/internal/store/memory"
)

// riggedDraw opens a draw session whose deck starts with the given cards,
// bypassing the shuffle.
func riggedDraw(t *testing.T, st store.Store, d *DrawSessions, addr string, amount int64, deck []Card) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	bet, err := st.PlaceBet(ctx, addr, uuid.New(), models.GameDraw, amount, 0)
	require.NoError(t, err)
	state := models.DrawState{
		Deck:    PackCards(deck),
		Hand:    PackCards(deck[:HandSize]),
		DeckPos: HandSize,
	}
	require.NoError(t, st.SaveSession(ctx, bet.ID, models.SessionState{Draw: &state}))
	return bet.ID
}

// frontload returns a full deck with the given cards moved to the front.
func frontload(front ...Card) []Card {
	isFront := make(map[Card]bool, len(front))
	for _, c := range front {
		isFront[c] = true
	}
	deck := append([]Card{}, front...)
	for _, c := range NewDeck() {
		if !isFront[c] {
			deck = append(deck, c)
		}
	}
	return deck
}

func TestDrawOpenDealsFive(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDrawSessions(st, NewSettler(st), NewSeededGenerator(1))
	fund(t, st, "alice", 100, "d1")

	bet, deal, err := d.Open(ctx, "alice", 40)
	require.NoError(t, err)
	assert.Len(t, deal.Hand, HandSize)
	assert.False(t, deal.Resolved)
	assert.Equal(t, models.PhaseInProgress, deal.Phase)

	_, locked := balance(t, st, "alice")
	assert.Equal(t, int64(40), locked)

	sess, err := st.GetSession(ctx, bet.ID)
	require.NoError(t, err)
	require.NotNil(t, sess.Draw)
	assert.Equal(t, HandSize, sess.Draw.DeckPos)
}

func TestDrawHoldAllResolvesDealtHand(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDrawSessions(st, NewSettler(st), NewSeededGenerator(1))
	fund(t, st, "alice", 100, "d2")

	royal := []Card{
		NewCard(SuitSpades, RankTen),
		NewCard(SuitSpades, RankJack),
		NewCard(SuitSpades, RankQueen),
		NewCard(SuitSpades, RankKing),
		NewCard(SuitSpades, RankAce),
	}
	betID := riggedDraw(t, st, d, "alice", 10, frontload(royal...))

	res, err := d.Draw(ctx, betID, []bool{true, true, true, true, true})
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "royal_flush", res.Category)
	assert.Equal(t, 250.0, res.Multiplier)
	assert.Equal(t, models.BetWon, res.Bet.Status)
	assert.Equal(t, int64(2500), res.Bet.Payout)

	bal, locked := balance(t, st, "alice")
	assert.Equal(t, int64(100-10+2500), bal)
	assert.Zero(t, locked)
}

func TestDrawReplacesNonHeld(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDrawSessions(st, NewSettler(st), NewSeededGenerator(1))
	fund(t, st, "alice", 100, "d3")

	// Four kings dealt with junk in the last slot; the replacement card at
	// deck position 5 is junk too, keeping the quads.
	deck := frontload(
		NewCard(SuitSpades, RankKing),
		NewCard(SuitDiamonds, RankKing),
		NewCard(SuitClubs, RankKing),
		NewCard(SuitHearts, RankKing),
		NewCard(SuitSpades, RankTwo),
		NewCard(SuitDiamonds, RankFive),
	)
	betID := riggedDraw(t, st, d, "alice", 10, deck)

	res, err := d.Draw(ctx, betID, []bool{true, true, true, true, false})
	require.NoError(t, err)
	assert.Equal(t, "four_of_a_kind", res.Category)
	assert.Equal(t, "5D", res.Hand[4], "replacement comes from the next deck position")
	assert.Equal(t, int64(250), res.Bet.Payout)
}

func TestDrawLosingHand(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDrawSessions(st, NewSettler(st), NewSeededGenerator(1))
	fund(t, st, "alice", 100, "d4")

	junk := frontload(
		NewCard(SuitSpades, RankTwo),
		NewCard(SuitDiamonds, RankFive),
		NewCard(SuitClubs, RankEight),
		NewCard(SuitHearts, RankJack),
		NewCard(SuitSpades, RankKing),
	)
	betID := riggedDraw(t, st, d, "alice", 40, junk)

	res, err := d.Draw(ctx, betID, []bool{true, true, true, true, true})
	require.NoError(t, err)
	assert.Equal(t, "nothing", res.Category)
	assert.Equal(t, models.BetLost, res.Bet.Status)

	bal, locked := balance(t, st, "alice")
	assert.Equal(t, int64(60), bal)
	assert.Zero(t, locked)
}

func TestDrawIsTerminal(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDrawSessions(st, NewSettler(st), NewSeededGenerator(1))
	fund(t, st, "alice", 100, "d5")

	_, _, err := d.Open(ctx, "bob", 0)
	assert.ErrorIs(t, err, ErrInvalidBet)

	opened, _, err := d.Open(ctx, "alice", 10)
	require.NoError(t, err)
	_, err = d.Draw(ctx, opened.ID, []bool{true, true, true, true, true})
	require.NoError(t, err)

	// The session is resolved; a second draw is rejected.
	_, err = d.Draw(ctx, opened.ID, []bool{true, true, true, true, true})
	assert.ErrorIs(t, err, ErrRoundResolved)
}

func TestDrawRetriesAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	st := &flakyStore{Store: mem, failures: 1}
	d := NewDrawSessions(st, NewSettler(st), NewSeededGenerator(1))
	fund(t, mem, "alice", 100, "d7")

	royal := []Card{
		NewCard(SuitSpades, RankTen),
		NewCard(SuitSpades, RankJack),
		NewCard(SuitSpades, RankQueen),
		NewCard(SuitSpades, RankKing),
		NewCard(SuitSpades, RankAce),
	}
	betID := riggedDraw(t, st, d, "alice", 10, frontload(royal...))
	holds := []bool{true, true, true, true, true}

	_, err := d.Draw(ctx, betID, holds)
	require.ErrorIs(t, err, store.ErrStore)

	// The session survives the transient failure: the bet is still open
	// and the same draw resubmits cleanly.
	open, err := mem.GetBet(ctx, betID)
	require.NoError(t, err)
	assert.Equal(t, models.BetOpen, open.Status)

	res, err := d.Draw(ctx, betID, holds)
	require.NoError(t, err)
	assert.Equal(t, "royal_flush", res.Category)
	assert.Equal(t, models.BetWon, res.Bet.Status)

	_, locked := balance(t, mem, "alice")
	assert.Zero(t, locked)
}

func TestDrawHoldsValidation(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d := NewDrawSessions(st, NewSettler(st), NewSeededGenerator(1))
	fund(t, st, "alice", 100, "d6")

	bet, _, err := d.Open(ctx, "alice", 40)
	require.NoError(t, err)

	_, err = d.Draw(ctx, bet.ID, []bool{true, true})
	assert.ErrorIs(t, err, ErrBadReveal)
}
