// internal/game/draw.go
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aquacommander/CasinoGame/internal/metrics"
	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

// HandSize is the five-card draw hand.
const HandSize = 5

// ErrDrawDone rejects a second draw in the same session.
var ErrDrawDone = errors.New("draw already used")

// DrawSession is one five-card draw run. The deck is shuffled once at
// creation; the single draw action is the terminal action that resolves
// the session.
type DrawSession struct {
	mu    sync.Mutex
	bet   *models.Bet
	phase models.Phase
	state models.DrawState
}

// DrawResult reports the dealt or final hand.
type DrawResult struct {
	Hand       []string        `json:"hand"`
	Category   string          `json:"category,omitempty"`
	Multiplier float64         `json:"multiplier"`
	Resolved   bool            `json:"resolved"`
	Bet        *models.Bet     `json:"bet,omitempty"`
	Phase      models.Phase    `json:"phase"`
	Game       models.GameType `json:"game"`
}

// DrawSessions owns all live draw sessions, keyed by bet.
type DrawSessions struct {
	mu      sync.Mutex
	active  map[uuid.UUID]*DrawSession
	store   store.Store
	settler *Settler
	gen     *Generator
	log     *logrus.Entry
}

// NewDrawSessions wires the session manager.
func NewDrawSessions(st store.Store, settler *Settler, gen *Generator) *DrawSessions {
	return &DrawSessions{
		active:  make(map[uuid.UUID]*DrawSession),
		store:   st,
		settler: settler,
		gen:     gen,
		log:     logrus.WithField("game", "draw"),
	}
}

// Open locks the stake, shuffles the deck and deals the initial hand.
func (d *DrawSessions) Open(ctx context.Context, addr string, amount int64) (*models.Bet, *DrawResult, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidBet
	}
	bet, err := d.store.PlaceBet(ctx, addr, uuid.New(), models.GameDraw, amount, 0)
	if err != nil {
		return nil, nil, err
	}
	deck := d.gen.ShuffledDeck()
	state := models.DrawState{
		Deck:    PackCards(deck),
		Hand:    PackCards(deck[:HandSize]),
		DeckPos: HandSize,
	}
	if err := d.store.SaveSession(ctx, bet.ID, models.SessionState{Draw: &state}); err != nil {
		return nil, nil, err
	}
	sess := &DrawSession{bet: bet, phase: models.PhaseInProgress, state: state}

	d.mu.Lock()
	d.active[bet.ID] = sess
	d.mu.Unlock()

	metrics.BetsPlaced.WithLabelValues(string(models.GameDraw)).Inc()
	d.log.WithFields(logrus.Fields{"bet": bet.ID, "user": addr}).Info("session opened")
	return bet, &DrawResult{
		Hand:  cardStrings(deck[:HandSize]),
		Phase: models.PhaseInProgress,
		Game:  models.GameDraw,
	}, nil
}

// get fetches a live session, reloading it from the store after a restart.
func (d *DrawSessions) get(ctx context.Context, betID uuid.UUID) (*DrawSession, error) {
	d.mu.Lock()
	sess, ok := d.active[betID]
	d.mu.Unlock()
	if ok {
		return sess, nil
	}

	bet, err := d.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if bet.Status != models.BetOpen || bet.Game != models.GameDraw {
		return nil, ErrRoundResolved
	}
	st, err := d.store.GetSession(ctx, betID)
	if err != nil {
		return nil, err
	}
	if st.Draw == nil {
		return nil, store.ErrNotFound
	}
	sess = &DrawSession{bet: bet, phase: models.PhaseInProgress, state: *st.Draw}

	d.mu.Lock()
	if existing, ok := d.active[betID]; ok {
		sess = existing
	} else {
		d.active[betID] = sess
	}
	d.mu.Unlock()
	return sess, nil
}

// Draw replaces the non-held cards and resolves the session: the ranked
// hand maps to a fixed multiplier, zero settles as a loss. holds indexes
// the current hand; len(holds) must equal HandSize.
func (d *DrawSessions) Draw(ctx context.Context, betID uuid.UUID, holds []bool) (*DrawResult, error) {
	sess, err := d.get(ctx, betID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.phase == models.PhaseResolved {
		return nil, ErrRoundResolved
	}
	if sess.state.DrawUsed {
		return nil, ErrDrawDone
	}
	if len(holds) != HandSize {
		return nil, fmt.Errorf("%w: need %d hold flags, got %d", ErrBadReveal, HandSize, len(holds))
	}

	deck := UnpackCards(sess.state.Deck)
	hand := UnpackCards(sess.state.Hand)
	pos := sess.state.DeckPos
	for i, hold := range holds {
		if !hold {
			hand[i] = deck[pos]
			pos++
		}
	}

	category := ClassifyHand(hand)
	mult := category.Multiplier()
	status := models.BetLost
	payout := int64(0)
	if mult > 0 {
		status = models.BetWon
		payout = Payout(sess.bet.Amount, mult)
	}

	// Settle through the store before committing any session state; a
	// transient store failure leaves the session untouched so the draw
	// can be resubmitted.
	settled, err := d.settler.SettleSessionBet(ctx, betID, status, payout)
	if errors.Is(err, store.ErrBetSettled) {
		// Another manager copy settled it first; retire this one.
		sess.phase = models.PhaseResolved
		d.mu.Lock()
		delete(d.active, betID)
		d.mu.Unlock()
		return nil, ErrRoundResolved
	}
	if err != nil {
		return nil, err
	}
	sess.state.Hand = PackCards(hand)
	sess.state.DeckPos = pos
	sess.state.DrawUsed = true
	sess.phase = models.PhaseResolved
	_ = d.store.SaveSession(ctx, betID, models.SessionState{Draw: &sess.state})

	d.mu.Lock()
	delete(d.active, betID)
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{"bet": betID, "hand": category.String(), "payout": payout}).Info("session resolved")
	return &DrawResult{
		Hand:       cardStrings(hand),
		Category:   category.String(),
		Multiplier: mult,
		Resolved:   true,
		Bet:        settled,
		Phase:      models.PhaseResolved,
		Game:       models.GameDraw,
	}, nil
}

func cardStrings(cards []Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.String()
	}
	return out
}
