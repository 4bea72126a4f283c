// internal/game/mines.go
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

// ErrBadReveal rejects an out-of-range or already-revealed cell.
var ErrBadReveal = errors.New("invalid cell reveal")

// MineSession is one player's mine-field run:
//
//	CREATED (bet locked, layout generated, hidden)
//	  -> IN_PROGRESS (reveals accepted)
//	  -> RESOLVED (mine hit, cashout, or board cleared)
//
// The layout is generated once at session creation and never changes.
type MineSession struct {
	mu    sync.Mutex
	bet   *models.Bet
	phase models.Phase
	state models.MineState
}

// MineReveal is the outcome of one reveal action.
type MineReveal struct {
	Cell         int             `json:"cell"`
	Mine         bool            `json:"mine"`
	SafeRevealed int             `json:"safeRevealed"`
	Multiplier   float64         `json:"multiplier"`
	Resolved     bool            `json:"resolved"`
	Mines        []int           `json:"mines,omitempty"` // layout, revealed only on resolution
	Bet          *models.Bet     `json:"bet,omitempty"`
	Phase        models.Phase    `json:"phase"`
	Game         models.GameType `json:"game"`
}

// MineSessions owns all live mine sessions, keyed by bet.
type MineSessions struct {
	mu      sync.Mutex
	active  map[uuid.UUID]*MineSession
	store   store.Store
	settler *Settler
	gen     *Generator
	log     *logrus.Entry
}

// NewMineSessions wires the session manager.
func NewMineSessions(st store.Store, settler *Settler, gen *Generator) *MineSessions {
	return &MineSessions{
		active:  make(map[uuid.UUID]*MineSession),
		store:   st,
		settler: settler,
		gen:     gen,
		log:     logrus.WithField("game", "mines"),
	}
}

// Open locks the stake, generates the hidden layout and stores the session
// — one bet per session, the session id is the bet id.
func (m *MineSessions) Open(ctx context.Context, addr string, amount int64, mineCount int) (*models.Bet, error) {
	if amount <= 0 {
		return nil, ErrInvalidBet
	}
	if mineCount < 1 || mineCount >= MineCells {
		return nil, fmt.Errorf("%w: mine count %d out of range", ErrBadReveal, mineCount)
	}
	bet, err := m.store.PlaceBet(ctx, addr, uuid.New(), models.GameMines, amount, 0)
	if err != nil {
		return nil, err
	}
	state := models.MineState{
		Cells:      MineCells,
		MineCount:  mineCount,
		Mines:      m.gen.MineLayout(MineCells, mineCount),
		Multiplier: 1.0,
	}
	if err := m.store.SaveSession(ctx, bet.ID, models.SessionState{Mines: &state}); err != nil {
		return nil, err
	}
	sess := &MineSession{bet: bet, phase: models.PhaseCreated, state: state}

	m.mu.Lock()
	m.active[bet.ID] = sess
	m.mu.Unlock()

	metrics.BetsPlaced.WithLabelValues(string(models.GameMines)).Inc()
	m.log.WithFields(logrus.Fields{"bet": bet.ID, "user": addr, "mines": mineCount}).Info("session opened")
	return bet, nil
}

// get fetches a live session, reloading it from the store after a restart.
func (m *MineSessions) get(ctx context.Context, betID uuid.UUID) (*MineSession, error) {
	m.mu.Lock()
	sess, ok := m.active[betID]
	m.mu.Unlock()
	if ok {
		return sess, nil
	}

	bet, err := m.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if bet.Status != models.BetOpen || bet.Game != models.GameMines {
		return nil, ErrRoundResolved
	}
	st, err := m.store.GetSession(ctx, betID)
	if err != nil {
		return nil, err
	}
	if st.Mines == nil {
		return nil, store.ErrNotFound
	}
	sess = &MineSession{bet: bet, phase: models.PhaseInProgress, state: *st.Mines}

	m.mu.Lock()
	if existing, ok := m.active[betID]; ok {
		sess = existing
	} else {
		m.active[betID] = sess
	}
	m.mu.Unlock()
	return sess, nil
}

// Reveal uncovers one cell. A mine ends the session as a loss; a safe cell
// compounds the running multiplier by safe/(safe-n+1) for the nth safe
// reveal; clearing every safe cell auto-settles as a win.
func (m *MineSessions) Reveal(ctx context.Context, betID uuid.UUID, cell int) (*MineReveal, error) {
	sess, err := m.get(ctx, betID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.phase == models.PhaseResolved {
		return nil, ErrRoundResolved
	}
	if cell < 0 || cell >= sess.state.Cells {
		return nil, fmt.Errorf("%w: cell %d", ErrBadReveal, cell)
	}
	for _, c := range sess.state.Revealed {
		if c == cell {
			return nil, fmt.Errorf("%w: cell %d already revealed", ErrBadReveal, cell)
		}
	}
	sess.phase = models.PhaseInProgress
	sess.state.Revealed = append(sess.state.Revealed, cell)

	for _, mine := range sess.state.Mines {
		if mine == cell {
			res, err := m.resolveLocked(ctx, sess, models.BetLost, 0, &MineReveal{Cell: cell, Mine: true})
			if err != nil {
				// Settlement did not land; take the reveal back so the
				// same cell can be resubmitted.
				sess.state.Revealed = sess.state.Revealed[:len(sess.state.Revealed)-1]
				return nil, err
			}
			return res, nil
		}
	}

	safe := sess.state.Cells - sess.state.MineCount
	sess.state.SafeRevealed++
	n := sess.state.SafeRevealed
	prevMult := sess.state.Multiplier
	sess.state.Multiplier *= float64(safe) / float64(safe-n+1)

	if n == safe {
		// Board cleared: nothing left to reveal, settle as a win.
		payout := Payout(sess.bet.Amount, sess.state.Multiplier)
		res, err := m.resolveLocked(ctx, sess, models.BetWon, payout, &MineReveal{Cell: cell})
		if err != nil {
			sess.state.Revealed = sess.state.Revealed[:len(sess.state.Revealed)-1]
			sess.state.SafeRevealed--
			sess.state.Multiplier = prevMult
			return nil, err
		}
		return res, nil
	}

	if err := m.store.SaveSession(ctx, betID, models.SessionState{Mines: &sess.state}); err != nil {
		return nil, err
	}
	return &MineReveal{
		Cell:         cell,
		SafeRevealed: n,
		Multiplier:   sess.state.Multiplier,
		Phase:        sess.phase,
		Game:         models.GameMines,
	}, nil
}

// Cashout settles the session at the running multiplier. Allowed before
// the first reveal, paying at parity (stake returned).
func (m *MineSessions) Cashout(ctx context.Context, betID uuid.UUID) (*models.Bet, error) {
	sess, err := m.get(ctx, betID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.phase == models.PhaseResolved {
		return nil, ErrRoundResolved
	}
	payout := Payout(sess.bet.Amount, sess.state.Multiplier)
	res, err := m.resolveLocked(ctx, sess, models.BetCashedOut, payout, &MineReveal{})
	if err != nil {
		return nil, err
	}
	return res.Bet, nil
}

// resolveLocked applies the terminal settlement exactly once and flips
// the session to RESOLVED only after the store accepts it. A transient
// store failure leaves the session live so the action can be resubmitted.
// Assumes the session lock is held by caller.
func (m *MineSessions) resolveLocked(ctx context.Context, sess *MineSession, status models.BetStatus, payout int64, result *MineReveal) (*MineReveal, error) {
	settled, err := m.settler.SettleSessionBet(ctx, sess.bet.ID, status, payout)
	if errors.Is(err, store.ErrBetSettled) {
		// Another manager copy settled it first; retire this one.
		sess.phase = models.PhaseResolved
		m.mu.Lock()
		delete(m.active, sess.bet.ID)
		m.mu.Unlock()
		return nil, ErrRoundResolved
	}
	if err != nil {
		return nil, err
	}
	sess.phase = models.PhaseResolved
	_ = m.store.SaveSession(ctx, sess.bet.ID, models.SessionState{Mines: &sess.state})

	m.mu.Lock()
	delete(m.active, sess.bet.ID)
	m.mu.Unlock()

	result.SafeRevealed = sess.state.SafeRevealed
	result.Multiplier = sess.state.Multiplier
	result.Resolved = true
	result.Mines = sess.state.Mines
	result.Bet = settled
	result.Phase = models.PhaseResolved
	result.Game = models.GameMines
	m.log.WithFields(logrus.Fields{"bet": settled.ID, "status": settled.Status, "payout": payout}).Info("session resolved")
	return result, nil
}
