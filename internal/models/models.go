// internal/models/models.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// GameType identifies one of the supported wagering games.
type GameType string

const (
	GameCrash GameType = "crash"
	GameSlide GameType = "slide"
	GameMines GameType = "mines"
	GameDraw  GameType = "draw"
)

// Phase is the lifecycle state of a round or turn-based session.
type Phase string

const (
	// Shared-round phases (crash, slide).
	PhaseIdle      Phase = "idle"
	PhaseCountdown Phase = "countdown"
	PhaseBetting   Phase = "betting"
	PhaseRunning   Phase = "running"
	PhaseResolved  Phase = "resolved"

	// Turn-based session phases (mines, draw).
	PhaseCreated    Phase = "created"
	PhaseInProgress Phase = "in_progress"
)

// BetStatus is the settlement status of a bet. A bet leaves "open" exactly
// once; every terminal status carries the paired ledger effect with it.
type BetStatus string

const (
	BetOpen      BetStatus = "open"
	BetCashedOut BetStatus = "cashed_out"
	BetWon       BetStatus = "won"
	BetLost      BetStatus = "lost"
)

// Terminal reports whether the status is one of the final states.
func (s BetStatus) Terminal() bool { return s != BetOpen }

// TxType classifies ledger transactions.
type TxType string

const (
	TxBet        TxType = "bet"
	TxCashout    TxType = "cashout"
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
)

// TxStatus tracks external confirmation of a transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// User is a ledger account keyed by an external public address.
// LockedBalance is the sum of all currently-open bet amounts plus pending
// withdrawals; 0 <= LockedBalance <= Balance must hold at every instant.
type User struct {
	Address       string    `json:"address"`
	Balance       int64     `json:"balance"`
	LockedBalance int64     `json:"lockedBalance"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Available returns the balance not reserved against open bets.
func (u *User) Available() int64 { return u.Balance - u.LockedBalance }

// Round is one play cycle of a shared-timer game.
type Round struct {
	ID       uuid.UUID `json:"id"`
	Game     GameType  `json:"game"`
	Phase    Phase     `json:"phase"`
	Result   float64   `json:"result,omitempty"`
	OpenedAt time.Time `json:"openedAt"`
}

// Bet is a single wager registered against a round or session.
// Amount is locked at creation; Payout is set once, at settlement.
type Bet struct {
	ID          uuid.UUID  `json:"id"`
	UserAddress string     `json:"userAddress"`
	RoundID     uuid.UUID  `json:"roundId"`
	Game        GameType   `json:"game"`
	Amount      int64      `json:"amount"`
	Target      float64    `json:"target,omitempty"`
	Status      BetStatus  `json:"status"`
	Payout      int64      `json:"payout"`
	PlacedAt    time.Time  `json:"placedAt"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
}

// Transaction is one ledger movement. Proof, when set, references an
// external payment event and is globally unique across all transactions —
// the double-spend barrier.
type Transaction struct {
	ID          uuid.UUID  `json:"id"`
	UserAddress string     `json:"userAddress"`
	Type        TxType     `json:"type"`
	Amount      int64      `json:"amount"`
	Proof       string     `json:"proof,omitempty"`
	Status      TxStatus   `json:"status"`
	BetID       *uuid.UUID `json:"betId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// MineState is the hidden layout and progress of a mines session.
type MineState struct {
	Cells        int     `json:"cells"`
	MineCount    int     `json:"mineCount"`
	Mines        []int   `json:"mines"`
	Revealed     []int   `json:"revealed"`
	SafeRevealed int     `json:"safeRevealed"`
	Multiplier   float64 `json:"multiplier"`
}

// DrawState is the deck and hand of a five-card draw session. Cards are
// packed uint8 values (see internal/game deck encoding).
type DrawState struct {
	Deck     []uint8 `json:"deck"`
	Hand     []uint8 `json:"hand"`
	DeckPos  int     `json:"deckPos"`
	DrawUsed bool    `json:"drawUsed"`
}

// SessionState is the tagged per-game variant for turn-based sessions.
// Exactly one field is non-nil.
type SessionState struct {
	Mines *MineState `json:"mines,omitempty"`
	Draw  *DrawState `json:"draw,omitempty"`
}
