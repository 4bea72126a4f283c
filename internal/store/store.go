// internal/store/store.go
//
// Store is the single serialization point for every mutation that touches
// ledger balances or bet/transaction status. Each method executes as one
// atomic unit: either the whole effect applies or none of it does. The
// game schedulers hold their own per-round mutexes, but no in-memory lock
// is sufficient on its own — the persisted ledger and the in-process round
// state must move together, and the store transaction is what guarantees
// the ledger half.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aquacommander/CasinoGame/internal/models"
)

var (
	// ErrInsufficientFunds means balance - lockedBalance < amount. No lock
	// is taken.
	ErrInsufficientFunds = errors.New("insufficient available balance")

	// ErrDuplicateProof means a transaction already holds the submitted
	// external proof. The request is rejected with no balance effect.
	ErrDuplicateProof = errors.New("external proof already used")

	// ErrBetSettled means the bet has already left the open status. It is
	// the exactly-once guard: a duplicate settlement attempt observes it
	// and applies nothing.
	ErrBetSettled = errors.New("bet already settled")

	// ErrNotFound is returned for unknown bets, transactions or sessions.
	ErrNotFound = errors.New("not found")

	// ErrStore wraps a persistence failure. The triggering request fails;
	// the engine keeps serving other rounds and bets.
	ErrStore = errors.New("store failure")
)

// SettleOutcome describes the terminal transition applied to an open bet.
// Payout is the gross amount credited (0 on a loss); the stake itself is
// always consumed from the balance at settlement.
type SettleOutcome struct {
	Status models.BetStatus
	Payout int64
}

// Store is the persistence contract shared by the memory and postgres
// implementations.
type Store interface {
	// GetUser returns the user for addr, creating the account on first
	// reference. Users are never deleted.
	GetUser(ctx context.Context, addr string) (*models.User, error)

	// Primitive ledger adjustments. Lock fails with ErrInsufficientFunds
	// when the available balance cannot cover amount. None of them may
	// drive a balance or locked balance negative.
	Lock(ctx context.Context, addr string, amount int64) error
	Unlock(ctx context.Context, addr string, amount int64) error
	Credit(ctx context.Context, addr string, amount int64) error
	Debit(ctx context.Context, addr string, amount int64) error

	// PlaceBet checks available balance, locks amount, inserts an open bet
	// and its bet-type transaction — one atomic unit, so a concurrent
	// resolution can never observe a half-registered bet.
	PlaceBet(ctx context.Context, addr string, roundID uuid.UUID, game models.GameType, amount int64, target float64) (*models.Bet, error)

	// SettleBet performs the open -> terminal compare-and-set. On success
	// it releases the locked stake, applies payout-minus-stake to the
	// balance and appends the cashout transaction, all atomically. A bet
	// that already left open returns ErrBetSettled untouched.
	SettleBet(ctx context.Context, betID uuid.UUID, out SettleOutcome) (*models.Bet, error)

	GetBet(ctx context.Context, betID uuid.UUID) (*models.Bet, error)

	// Deposit credits amount against a unique external proof. When
	// confirmed is false the credit is provisional: the same amount is
	// locked until the reconciler confirms or expires the proof.
	Deposit(ctx context.Context, addr string, amount int64, proof string, confirmed bool) (*models.Transaction, error)

	// BeginWithdrawal locks amount and records a pending withdrawal.
	// FinishWithdrawal either debits and unlocks (confirmed) or only
	// unlocks (failed).
	BeginWithdrawal(ctx context.Context, addr string, amount int64, proof string) (*models.Transaction, error)
	FinishWithdrawal(ctx context.Context, txID uuid.UUID, confirmed bool) error

	// HasConfirmedProof reports whether a confirmed transaction already
	// holds proof.
	HasConfirmedProof(ctx context.Context, proof string) (bool, error)

	// ClaimPendingProofs returns pending proof-bearing transactions not
	// currently claimed by another pass and marks them claimed. A pass
	// only ever touches rows it successfully claimed.
	ClaimPendingProofs(ctx context.Context, limit int) ([]models.Transaction, error)
	// ConfirmProof finalizes a provisional transaction: deposits release
	// their provisional lock, withdrawals debit and unlock.
	ConfirmProof(ctx context.Context, txID uuid.UUID) error
	// FailProof marks the transaction failed and reverses any provisional
	// balance effect (deposit credit clawed back, withdrawal lock freed).
	FailProof(ctx context.Context, txID uuid.UUID) error
	// ReleaseProofClaim returns a still-pending row to the claimable pool.
	ReleaseProofClaim(ctx context.Context, txID uuid.UUID) error

	// Turn-based session state, keyed by the owning bet.
	SaveSession(ctx context.Context, betID uuid.UUID, st models.SessionState) error
	GetSession(ctx context.Context, betID uuid.UUID) (models.SessionState, error)

	// Queries used by the API layer and the invariant checks.
	Users(ctx context.Context) ([]models.User, error)
	OpenBets(ctx context.Context) ([]models.Bet, error)
	Transactions(ctx context.Context, addr string, limit int) ([]models.Transaction, error)
}

// PendingAge returns how long a pending transaction has been waiting.
func PendingAge(tx *models.Transaction, now time.Time) time.Duration {
	return now.Sub(tx.CreatedAt)
}
