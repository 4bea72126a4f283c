// internal/game/round.go
package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

var (
	// ErrInvalidPhase means the action arrived outside its valid
	// state-machine window. No state changes.
	ErrInvalidPhase = errors.New("action not valid in current phase")

	// ErrRoundResolved means a cashout lost the race against round
	// resolution. Reported to the caller, never treated as an engine fault.
	ErrRoundResolved = errors.New("round already resolved")

	// ErrNoOpenBet means the user has no open bet in the current round.
	ErrNoOpenBet = errors.New("no open bet for user")

	// ErrInvalidBet means the stake or target is out of range.
	ErrInvalidBet = errors.New("invalid bet parameters")
)

// EventType identifies a broadcast message on the real-time channel.
type EventType string

const (
	EventPhase     EventType = "phase"
	EventTick      EventType = "tick"
	EventBetPlaced EventType = "bet_placed"
	EventCashout   EventType = "cashout"
	EventOutcome   EventType = "outcome"
	EventHistory   EventType = "history"
)

// Event is the structure fanned out to every connected client of a game.
type Event struct {
	Type    EventType              `json:"type"`
	Game    models.GameType        `json:"game"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// BroadcastFunc sends an event to all clients subscribed to a game type.
type BroadcastFunc func(ev Event)

// Round owns the live state of one shared-timer play cycle: its phase and
// the registry of active bets. All access goes through its mutex; the
// resolution path flips the phase before draining bets, so a cashout that
// arrives after the flip is rejected rather than double-paid.
type Round struct {
	mu       sync.Mutex
	id       uuid.UUID
	game     models.GameType
	phase    models.Phase
	result   float64
	openedAt time.Time
	bets     map[uuid.UUID]*models.Bet
	byUser   map[string]uuid.UUID
}

// NewRound opens a round in the given initial phase.
func NewRound(game models.GameType, phase models.Phase) *Round {
	return &Round{
		id:       uuid.New(),
		game:     game,
		phase:    phase,
		openedAt: time.Now(),
		bets:     make(map[uuid.UUID]*models.Bet),
		byUser:   make(map[string]uuid.UUID),
	}
}

// ID returns the round identity.
func (r *Round) ID() uuid.UUID { return r.id }

// Phase returns the current phase.
func (r *Round) Phase() models.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// SetPhase transitions the round. Returns false when the round is already
// resolved — resolution is one-way.
func (r *Round) SetPhase(p models.Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == models.PhaseResolved {
		return false
	}
	r.phase = p
	return true
}

// Result returns the outcome value, valid once resolved.
func (r *Round) Result() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Snapshot returns the round as a model value.
func (r *Round) Snapshot() models.Round {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.Round{ID: r.id, Game: r.game, Phase: r.phase, Result: r.result, OpenedAt: r.openedAt}
}

// Register places a bet for addr if the round is in one of the accepting
// phases. The balance lock and bet insert happen in one store transaction;
// the registry insert happens under the round mutex in the same critical
// section as the phase check, so resolution can never observe a
// half-registered bet.
func (r *Round) Register(ctx context.Context, st store.Store, addr string, amount int64, target float64, accepting ...models.Phase) (*models.Bet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ok := false
	for _, p := range accepting {
		if r.phase == p {
			ok = true
			break
		}
	}
	if !ok {
		return nil, ErrInvalidPhase
	}
	if amount <= 0 {
		return nil, ErrInvalidBet
	}
	if _, exists := r.byUser[addr]; exists {
		return nil, ErrInvalidPhase
	}

	bet, err := st.PlaceBet(ctx, addr, r.id, r.game, amount, target)
	if err != nil {
		return nil, err
	}
	r.bets[bet.ID] = bet
	r.byUser[addr] = bet.ID
	return bet, nil
}

// OpenBetFor returns the bet id registered by addr, if any.
func (r *Round) OpenBetFor(addr string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byUser[addr]
	return id, ok
}

// BetCount returns the number of registered bets.
func (r *Round) BetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bets)
}

// Bets returns a snapshot of the registered bets.
func (r *Round) Bets() []*models.Bet {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Bet, 0, len(r.bets))
	for _, b := range r.bets {
		out = append(out, b)
	}
	return out
}

// BeginResolve atomically flips the round into RESOLVED with the given
// result and drains the bet registry. The flip is the single flag
// transition that decides the cashout race: whoever sees RESOLVED after
// this point is rejected. Returns the drained bets and whether this call
// won the transition (a second call gets nil, false).
func (r *Round) BeginResolve(result float64) ([]*models.Bet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == models.PhaseResolved {
		return nil, false
	}
	r.phase = models.PhaseResolved
	r.result = result
	drained := make([]*models.Bet, 0, len(r.bets))
	for _, b := range r.bets {
		drained = append(drained, b)
	}
	r.bets = make(map[uuid.UUID]*models.Bet)
	r.byUser = make(map[string]uuid.UUID)
	return drained, true
}

// CheckCashoutPhase verifies the round still accepts cashouts (RUNNING or
// IN_PROGRESS). Called by the settler before paying out.
func (r *Round) CheckCashoutPhase() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.phase {
	case models.PhaseRunning, models.PhaseInProgress:
		return nil
	case models.PhaseResolved:
		return ErrRoundResolved
	default:
		return ErrInvalidPhase
	}
}

// Forget removes a bet from the registry after it settled via cashout.
func (r *Round) Forget(betID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bets[betID]; ok {
		delete(r.byUser, b.UserAddress)
		delete(r.bets, betID)
	}
}
