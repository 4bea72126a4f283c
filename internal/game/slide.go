// internal/game/slide.go
package game

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquacommander/CasinoGame/internal/cache"
	"github.com/aquacommander/CasinoGame/internal/metrics"
	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

// SlideConfig tunes the discrete-outcome round timers.
type SlideConfig struct {
	Countdown     time.Duration
	BettingWindow time.Duration
	IdlePause     time.Duration
	HistorySize   int
}

// DefaultSlideConfig returns the production timings.
func DefaultSlideConfig() SlideConfig {
	return SlideConfig{
		Countdown:     3 * time.Second,
		BettingWindow: 7 * time.Second,
		IdlePause:     2 * time.Second,
		HistorySize:   50,
	}
}

// SlideGame drives the discrete-outcome game:
//
//	IDLE -> COUNTDOWN -> BETTING -> RESOLVED -> IDLE -> ...
//
// The loop runs autonomously regardless of player presence. Each bet names
// a target multiplier; the bet wins its target when the drawn slide point
// reaches it.
type SlideGame struct {
	mu  sync.Mutex
	cfg SlideConfig

	store   store.Store
	settler *Settler
	gen     *Generator
	history *History
	log     *logrus.Entry

	Broadcast BroadcastFunc

	round     *Round
	actionIdx int
	timer     *time.Timer
	stopped   bool
}

// NewSlideGame wires the scheduler; call Start to begin the loop.
func NewSlideGame(st store.Store, settler *Settler, gen *Generator, cfg SlideConfig) *SlideGame {
	return &SlideGame{
		cfg:     cfg,
		store:   st,
		settler: settler,
		gen:     gen,
		history: NewHistory(models.GameSlide, cfg.HistorySize),
		log:     logrus.WithField("game", "slide"),
	}
}

// Start kicks off the autonomous round loop.
func (g *SlideGame) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.round != nil {
		return
	}
	g.beginCountdownLocked()
}

// beginCountdownLocked opens the next round.
// Assumes lock is held by caller.
func (g *SlideGame) beginCountdownLocked() {
	g.round = NewRound(models.GameSlide, models.PhaseCountdown)
	g.fireEvent(Event{Type: EventPhase, Game: models.GameSlide, Payload: map[string]interface{}{
		"phase":   models.PhaseCountdown,
		"roundId": g.round.ID(),
	}})
	g.timer = time.AfterFunc(g.cfg.Countdown, g.openBetting)
}

// openBetting transitions COUNTDOWN -> BETTING for the fixed window.
func (g *SlideGame) openBetting() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.round == nil {
		return
	}
	if !g.round.SetPhase(models.PhaseBetting) {
		return
	}
	g.fireEvent(Event{Type: EventPhase, Game: models.GameSlide, Payload: map[string]interface{}{
		"phase":   models.PhaseBetting,
		"roundId": g.round.ID(),
		"closes":  time.Now().Add(g.cfg.BettingWindow),
	}})
	g.timer = time.AfterFunc(g.cfg.BettingWindow, g.resolve)
}

// resolve draws the slide point and settles every bet against its target.
func (g *SlideGame) resolve() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.round == nil {
		return
	}

	round := g.round
	point := g.gen.SlidePoint()
	settled := g.settler.ResolveRound(context.Background(), round, point, slideRule)
	g.history.Add(round.ID(), point)
	g.logAction("", "round_resolved", map[string]interface{}{"slidePoint": point, "settled": len(settled)})
	g.fireEvent(Event{Type: EventOutcome, Game: models.GameSlide, Payload: map[string]interface{}{
		"roundId":    round.ID(),
		"slidePoint": point,
	}})
	g.log.WithFields(logrus.Fields{"round": round.ID(), "slidePoint": point, "settled": len(settled)}).Info("round resolved")

	g.timer = time.AfterFunc(g.cfg.IdlePause, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.stopped {
			return
		}
		g.beginCountdownLocked()
	})
}

// slideRule: the bet wins its target multiplier when the outcome reaches
// it, otherwise the stake is lost.
func slideRule(bet *models.Bet, outcome float64) (models.BetStatus, int64) {
	if bet.Target > 0 && bet.Target <= outcome {
		return models.BetWon, Payout(bet.Amount, bet.Target)
	}
	return models.BetLost, 0
}

// Register joins the current round during its betting window.
func (g *SlideGame) Register(ctx context.Context, addr string, amount int64, target float64) (*models.Bet, error) {
	g.mu.Lock()
	round := g.round
	g.mu.Unlock()

	if round == nil {
		return nil, ErrInvalidPhase
	}
	if target < SlideMinMultiplier || target > SlideMaxMultiplier {
		return nil, ErrInvalidBet
	}
	bet, err := round.Register(ctx, g.store, addr, amount, target, models.PhaseBetting)
	if err != nil {
		return nil, err
	}
	metrics.BetsPlaced.WithLabelValues(string(models.GameSlide)).Inc()
	g.mu.Lock()
	g.logAction(addr, "bet_placed", map[string]interface{}{"amount": amount, "target": target})
	g.fireEvent(Event{Type: EventBetPlaced, Game: models.GameSlide, Payload: map[string]interface{}{
		"user":   addr,
		"amount": amount,
		"betId":  bet.ID,
	}})
	g.mu.Unlock()
	return bet, nil
}

// Cashout does not exist for the discrete game; bets settle at resolution.
func (g *SlideGame) Cashout(context.Context, string) (*models.Bet, float64, error) {
	return nil, 0, ErrInvalidPhase
}

// Round returns the live round, or nil before Start.
func (g *SlideGame) Round() *Round {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.round
}

// History returns recent resolved rounds, most-recent-first.
func (g *SlideGame) History() []HistoryEntry { return g.history.Recent() }

// Stop halts the loop.
func (g *SlideGame) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	if g.timer != nil {
		g.timer.Stop()
	}
}

// fireEvent broadcasts when a sink is attached.
// Assumes lock is held by caller.
func (g *SlideGame) fireEvent(ev Event) {
	if g.Broadcast != nil {
		g.Broadcast(ev)
	}
}

// logAction publishes to the historian stream.
// Assumes lock is held by caller.
func (g *SlideGame) logAction(addr, action string, payload map[string]interface{}) {
	g.actionIdx++
	rec := cache.GameActionRecord{
		Game:        string(models.GameSlide),
		ActionIndex: g.actionIdx,
		UserAddress: addr,
		ActionType:  action,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}
	if g.round != nil {
		rec.RoundID = g.round.ID()
	}
	cache.LogAction(rec)
}
