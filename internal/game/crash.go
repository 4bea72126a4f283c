// internal/game/crash.go
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

// CrashConfig tunes the continuous-multiplier round timers.
type CrashConfig struct {
	Countdown     time.Duration // betting window before the run starts
	TickInterval  time.Duration // multiplier update cadence
	Cooldown      time.Duration // pause after resolution before IDLE
	GrowthPerTick float64       // geometric multiplier growth per tick
	HistorySize   int
}

// DefaultCrashConfig returns the production timings.
func DefaultCrashConfig() CrashConfig {
	return CrashConfig{
		Countdown:     5 * time.Second,
		TickInterval:  100 * time.Millisecond,
		Cooldown:      3 * time.Second,
		GrowthPerTick: 1.007,
		HistorySize:   50,
	}
}

// CrashGame drives the continuous-multiplier game:
//
//	IDLE -> COUNTDOWN -> RUNNING -> RESOLVED -> (cooldown) -> IDLE
//
// A round may only enter COUNTDOWN when no round is open; the first player
// to register while IDLE triggers the transition. Players who never cash
// out before the crash point lose their stake.
type CrashGame struct {
	mu  sync.Mutex
	cfg CrashConfig

	store   store.Store
	settler *Settler
	gen     *Generator
	history *History
	log     *logrus.Entry

	// Broadcast fans events out to every connected client. Nil is fine in
	// tests.
	Broadcast BroadcastFunc

	round      *Round
	crashPoint float64
	multiplier float64
	actionIdx  int

	countdownTimer *time.Timer
	tickTimer      *time.Timer
	cooldownTimer  *time.Timer
	stopped        bool
}

// NewCrashGame wires the scheduler. Call Stop to release its timers.
func NewCrashGame(st store.Store, settler *Settler, gen *Generator, cfg CrashConfig) *CrashGame {
	return &CrashGame{
		cfg:     cfg,
		store:   st,
		settler: settler,
		gen:     gen,
		history: NewHistory(models.GameCrash, cfg.HistorySize),
		log:     logrus.WithField("game", "crash"),
	}
}

// Register places a bet in the current round. While IDLE this opens a new
// round and schedules the countdown; during COUNTDOWN it joins the pending
// round; any other phase is rejected with ErrInvalidPhase. target, when
// positive, is an auto-cashout multiplier.
func (g *CrashGame) Register(ctx context.Context, addr string, amount int64, target float64) (*models.Bet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return nil, ErrInvalidPhase
	}
	// target 0 means manual cashout only.
	if target != 0 && (target < CrashMinMultiplier || target > CrashMaxMultiplier) {
		return nil, ErrInvalidBet
	}
	if g.round == nil {
		g.round = NewRound(models.GameCrash, models.PhaseCountdown)
		g.countdownTimer = time.AfterFunc(g.cfg.Countdown, g.startRunning)
		g.fireEvent(Event{Type: EventPhase, Game: models.GameCrash, Payload: map[string]interface{}{
			"phase":   models.PhaseCountdown,
			"roundId": g.round.ID(),
		}})
		g.log.WithField("round", g.round.ID()).Info("countdown started")
	}

	bet, err := g.round.Register(ctx, g.store, addr, amount, target, models.PhaseCountdown)
	if err != nil {
		return nil, err
	}
	metrics.BetsPlaced.WithLabelValues(string(models.GameCrash)).Inc()
	g.logAction(addr, "bet_placed", map[string]interface{}{"amount": amount, "target": target})
	g.fireEvent(Event{Type: EventBetPlaced, Game: models.GameCrash, Payload: map[string]interface{}{
		"user":   addr,
		"amount": amount,
		"betId":  bet.ID,
	}})
	return bet, nil
}

// Cashout settles addr's open bet at the current multiplier. Valid only
// while RUNNING; losing the race against resolution yields
// ErrRoundResolved.
func (g *CrashGame) Cashout(ctx context.Context, addr string) (*models.Bet, float64, error) {
	g.mu.Lock()
	round := g.round
	mult := g.multiplier
	g.mu.Unlock()

	if round == nil {
		return nil, 0, ErrInvalidPhase
	}
	betID, ok := round.OpenBetFor(addr)
	if !ok {
		return nil, 0, ErrNoOpenBet
	}
	bet, err := g.settler.Cashout(ctx, round, betID, mult)
	if err != nil {
		return nil, 0, err
	}
	g.logAction(addr, "cashout", map[string]interface{}{"multiplier": mult, "payout": bet.Payout})
	g.fireEvent(Event{Type: EventCashout, Game: models.GameCrash, Payload: map[string]interface{}{
		"user":       addr,
		"multiplier": mult,
		"payout":     bet.Payout,
	}})
	return bet, mult, nil
}

// startRunning transitions COUNTDOWN -> RUNNING and generates the crash
// point. The outcome is fixed here and immutable for the rest of the round.
func (g *CrashGame) startRunning() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped || g.round == nil {
		return
	}
	if !g.round.SetPhase(models.PhaseRunning) {
		return
	}
	g.crashPoint = g.gen.CrashPoint()
	g.multiplier = 1.0
	g.fireEvent(Event{Type: EventPhase, Game: models.GameCrash, Payload: map[string]interface{}{
		"phase":   models.PhaseRunning,
		"roundId": g.round.ID(),
	}})
	g.log.WithField("round", g.round.ID()).Debug("running")
	g.tickTimer = time.AfterFunc(g.cfg.TickInterval, g.tick)
}

// tick advances the multiplier, applies auto-cashouts whose targets were
// reached, and resolves the round once the crash point is hit.
func (g *CrashGame) tick() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped || g.round == nil || g.round.Phase() != models.PhaseRunning {
		return
	}
	g.multiplier *= g.cfg.GrowthPerTick

	if g.multiplier >= g.crashPoint {
		g.resolveLocked()
		return
	}

	// Auto-cashouts pay at their target, not the tick value.
	for _, bet := range g.round.Bets() {
		if bet.Target > 0 && bet.Target <= g.multiplier {
			if settled, err := g.settler.Cashout(context.Background(), g.round, bet.ID, bet.Target); err == nil {
				g.fireEvent(Event{Type: EventCashout, Game: models.GameCrash, Payload: map[string]interface{}{
					"user":       settled.UserAddress,
					"multiplier": bet.Target,
					"payout":     settled.Payout,
					"auto":       true,
				}})
			}
		}
	}

	g.fireEvent(Event{Type: EventTick, Game: models.GameCrash, Payload: map[string]interface{}{
		"multiplier": g.multiplier,
	}})
	g.tickTimer = time.AfterFunc(g.cfg.TickInterval, g.tick)
}

// resolveLocked settles every still-open bet as a loss at the crash point
// and schedules the cooldown back to IDLE.
// Assumes lock is held by caller.
func (g *CrashGame) resolveLocked() {
	round := g.round
	point := g.crashPoint

	settled := g.settler.ResolveRound(context.Background(), round, point, crashRule)
	g.history.Add(round.ID(), point)
	g.logAction("", "round_resolved", map[string]interface{}{"crashPoint": point, "settled": len(settled)})
	g.fireEvent(Event{Type: EventOutcome, Game: models.GameCrash, Payload: map[string]interface{}{
		"roundId":    round.ID(),
		"crashPoint": point,
	}})
	g.log.WithFields(logrus.Fields{"round": round.ID(), "crashPoint": point, "settled": len(settled)}).Info("round resolved")

	g.cooldownTimer = time.AfterFunc(g.cfg.Cooldown, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.round = nil
		g.multiplier = 0
		g.fireEvent(Event{Type: EventPhase, Game: models.GameCrash, Payload: map[string]interface{}{
			"phase": models.PhaseIdle,
		}})
	})
}

// crashRule: a player who never cashed out before the crash loses the
// stake.
func crashRule(_ *models.Bet, _ float64) (models.BetStatus, int64) {
	return models.BetLost, 0
}

// Multiplier returns the live multiplier (0 outside RUNNING).
func (g *CrashGame) Multiplier() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.round == nil || g.round.Phase() != models.PhaseRunning {
		return 0
	}
	return g.multiplier
}

// Round returns the live round, or nil while IDLE.
func (g *CrashGame) Round() *Round {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.round
}

// History returns recent resolved rounds, most-recent-first.
func (g *CrashGame) History() []HistoryEntry { return g.history.Recent() }

// Stop halts all timers. In-flight bets stay open and are settled by the
// normal resolution path on restart recovery.
func (g *CrashGame) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	for _, t := range []*time.Timer{g.countdownTimer, g.tickTimer, g.cooldownTimer} {
		if t != nil {
			t.Stop()
		}
	}
}

// fireEvent broadcasts when a sink is attached.
// Assumes lock is held by caller.
func (g *CrashGame) fireEvent(ev Event) {
	if g.Broadcast != nil {
		g.Broadcast(ev)
	}
}

// logAction publishes to the historian stream.
// Assumes lock is held by caller.
func (g *CrashGame) logAction(addr, action string, payload map[string]interface{}) {
	g.actionIdx++
	rec := cache.GameActionRecord{
		Game:        string(models.GameCrash),
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
