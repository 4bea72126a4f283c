package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

// checkInvariants asserts 0 <= locked <= balance for every account and
// that the locked total equals the sum of open bet stakes plus pending
// holds.
func checkInvariants(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	users, err := s.Users(ctx)
	require.NoError(t, err)
	for _, u := range users {
		assert.GreaterOrEqual(t, u.LockedBalance, int64(0), "user %s", u.Address)
		assert.LessOrEqual(t, u.LockedBalance, u.Balance, "user %s", u.Address)
	}
}

func TestGetUserCreatesAccount(t *testing.T) {
	ctx := context.Background()
	s := New()
	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Address)
	assert.Zero(t, u.Balance)
	assert.Zero(t, u.LockedBalance)
	assert.Zero(t, u.Available())
}

func TestLockUnlock(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "p1", true)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Lock(ctx, "alice", 101), store.ErrInsufficientFunds)
	require.NoError(t, s.Lock(ctx, "alice", 60))
	assert.ErrorIs(t, s.Lock(ctx, "alice", 41), store.ErrInsufficientFunds)
	require.NoError(t, s.Unlock(ctx, "alice", 60))

	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(100), u.Available())
	checkInvariants(t, s)
}

func TestPlaceBetLocksStake(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "p2", true)
	require.NoError(t, err)

	bet, err := s.PlaceBet(ctx, "alice", uuid.New(), models.GameCrash, 40, 0)
	require.NoError(t, err)
	assert.Equal(t, models.BetOpen, bet.Status)

	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(100), u.Balance)
	assert.Equal(t, int64(40), u.LockedBalance)

	_, err = s.PlaceBet(ctx, "alice", uuid.New(), models.GameCrash, 61, 0)
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)

	open, err := s.OpenBets(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	checkInvariants(t, s)
}

func TestSettleBetWin(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "p3", true)
	require.NoError(t, err)
	bet, err := s.PlaceBet(ctx, "alice", uuid.New(), models.GameCrash, 40, 0)
	require.NoError(t, err)

	settled, err := s.SettleBet(ctx, bet.ID, store.SettleOutcome{Status: models.BetCashedOut, Payout: 100})
	require.NoError(t, err)
	assert.Equal(t, models.BetCashedOut, settled.Status)
	assert.Equal(t, int64(100), settled.Payout)
	require.NotNil(t, settled.SettledAt)

	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(160), u.Balance)
	assert.Zero(t, u.LockedBalance)
	checkInvariants(t, s)
}

func TestSettleBetLoss(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "p4", true)
	require.NoError(t, err)
	bet, err := s.PlaceBet(ctx, "alice", uuid.New(), models.GameSlide, 40, 2.0)
	require.NoError(t, err)

	settled, err := s.SettleBet(ctx, bet.ID, store.SettleOutcome{Status: models.BetLost})
	require.NoError(t, err)
	assert.Equal(t, models.BetLost, settled.Status)

	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(60), u.Balance)
	assert.Zero(t, u.LockedBalance)
	checkInvariants(t, s)
}

func TestSettleBetExactlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "p5", true)
	require.NoError(t, err)
	bet, err := s.PlaceBet(ctx, "alice", uuid.New(), models.GameCrash, 40, 0)
	require.NoError(t, err)

	_, err = s.SettleBet(ctx, bet.ID, store.SettleOutcome{Status: models.BetCashedOut, Payout: 80})
	require.NoError(t, err)
	_, err = s.SettleBet(ctx, bet.ID, store.SettleOutcome{Status: models.BetLost})
	assert.ErrorIs(t, err, store.ErrBetSettled)

	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(140), u.Balance)
}

func TestSettleBetConcurrentOneWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "p6", true)
	require.NoError(t, err)
	bet, err := s.PlaceBet(ctx, "alice", uuid.New(), models.GameCrash, 40, 0)
	require.NoError(t, err)

	const attempts = 32
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.SettleBet(ctx, bet.ID, store.SettleOutcome{Status: models.BetCashedOut, Payout: 80})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, store.ErrBetSettled)
		}
	}
	assert.Equal(t, 1, successes)

	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(140), u.Balance)
	assert.Zero(t, u.LockedBalance)
}

func TestSettleUnknownBet(t *testing.T) {
	s := New()
	_, err := s.SettleBet(context.Background(), uuid.New(), store.SettleOutcome{Status: models.BetLost})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDepositDuplicateProof(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "shared", true)
	require.NoError(t, err)

	_, err = s.Deposit(ctx, "alice", 100, "shared", true)
	assert.ErrorIs(t, err, store.ErrDuplicateProof)
	_, err = s.Deposit(ctx, "bob", 50, "shared", true)
	assert.ErrorIs(t, err, store.ErrDuplicateProof)

	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(100), u.Balance, "rejected duplicate must not credit")

	used, err := s.HasConfirmedProof(ctx, "shared")
	require.NoError(t, err)
	assert.True(t, used)
}

func TestProvisionalDepositLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Deposit(ctx, "alice", 100, "prov", false)
	require.NoError(t, err)
	assert.Equal(t, models.TxPending, tx.Status)

	// Credited but locked: not spendable yet.
	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(100), u.Balance)
	assert.Equal(t, int64(100), u.LockedBalance)
	assert.Zero(t, u.Available())

	used, err := s.HasConfirmedProof(ctx, "prov")
	require.NoError(t, err)
	assert.False(t, used, "pending proof is not yet confirmed")

	require.NoError(t, s.ConfirmProof(ctx, tx.ID))
	u, _ = s.GetUser(ctx, "alice")
	assert.Equal(t, int64(100), u.Available())

	// Idempotent.
	require.NoError(t, s.ConfirmProof(ctx, tx.ID))
	u, _ = s.GetUser(ctx, "alice")
	assert.Equal(t, int64(100), u.Available())
	checkInvariants(t, s)
}

func TestProvisionalDepositClawback(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx, err := s.Deposit(ctx, "alice", 100, "bad", false)
	require.NoError(t, err)

	require.NoError(t, s.FailProof(ctx, tx.ID))
	u, _ := s.GetUser(ctx, "alice")
	assert.Zero(t, u.Balance)
	assert.Zero(t, u.LockedBalance)

	// The proof slot stays burned: the same proof cannot be replayed into
	// a confirmed credit.
	used, err := s.HasConfirmedProof(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, used)
	checkInvariants(t, s)
}

func TestWithdrawalLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "w1", true)
	require.NoError(t, err)

	tx, err := s.BeginWithdrawal(ctx, "alice", 60, "out1")
	require.NoError(t, err)
	assert.Equal(t, models.TxPending, tx.Status)

	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(100), u.Balance)
	assert.Equal(t, int64(60), u.LockedBalance)

	// Cannot over-withdraw the remainder.
	_, err = s.BeginWithdrawal(ctx, "alice", 41, "out2")
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)

	require.NoError(t, s.FinishWithdrawal(ctx, tx.ID, true))
	u, _ = s.GetUser(ctx, "alice")
	assert.Equal(t, int64(40), u.Balance)
	assert.Zero(t, u.LockedBalance)

	// Idempotent.
	require.NoError(t, s.FinishWithdrawal(ctx, tx.ID, true))
	u, _ = s.GetUser(ctx, "alice")
	assert.Equal(t, int64(40), u.Balance)
	checkInvariants(t, s)
}

func TestWithdrawalFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "w3", true)
	require.NoError(t, err)

	tx, err := s.BeginWithdrawal(ctx, "alice", 60, "out3")
	require.NoError(t, err)
	require.NoError(t, s.FinishWithdrawal(ctx, tx.ID, false))

	u, _ := s.GetUser(ctx, "alice")
	assert.Equal(t, int64(100), u.Balance)
	assert.Zero(t, u.LockedBalance)
	checkInvariants(t, s)
}

func TestClaimPendingProofs(t *testing.T) {
	ctx := context.Background()
	s := New()
	tx1, err := s.Deposit(ctx, "alice", 100, "cl1", false)
	require.NoError(t, err)
	_, err = s.Deposit(ctx, "bob", 50, "cl2", false)
	require.NoError(t, err)
	_, err = s.Deposit(ctx, "carol", 10, "confirmed", true)
	require.NoError(t, err)

	claimed, err := s.ClaimPendingProofs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 2, "confirmed rows are not claimable")

	// Claimed rows are invisible to a second pass.
	again, err := s.ClaimPendingProofs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	// Releasing returns a row to the pool.
	require.NoError(t, s.ReleaseProofClaim(ctx, tx1.ID))
	again, err = s.ClaimPendingProofs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, tx1.ID, again[0].ID)

	// Resolving a claimed row frees its slot without re-exposing it.
	require.NoError(t, s.ConfirmProof(ctx, tx1.ID))
	again, err = s.ClaimPendingProofs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClaimPendingProoflessWithdrawal(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "cl3", true)
	require.NoError(t, err)
	wd, err := s.BeginWithdrawal(ctx, "alice", 60, "")
	require.NoError(t, err)

	// A withdrawal with no proof yet is still claimable, so the reconciler
	// can expire it instead of leaving the lock stranded.
	claimed, err := s.ClaimPendingProofs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, wd.ID, claimed[0].ID)
}

func TestClaimPendingProofsLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 5; i++ {
		_, err := s.Deposit(ctx, "alice", 10, string(rune('a'+i)), false)
		require.NoError(t, err)
	}
	claimed, err := s.ClaimPendingProofs(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	betID := uuid.New()

	_, err := s.GetSession(ctx, betID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	state := models.SessionState{Mines: &models.MineState{Cells: 25, MineCount: 5, Mines: []int{1, 2, 3, 4, 5}, Multiplier: 1.0}}
	require.NoError(t, s.SaveSession(ctx, betID, state))

	got, err := s.GetSession(ctx, betID)
	require.NoError(t, err)
	require.NotNil(t, got.Mines)
	assert.Equal(t, state.Mines.Mines, got.Mines.Mines)
}

func TestTransactionsQuery(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Deposit(ctx, "alice", 100, "t1", true)
	require.NoError(t, err)
	_, err = s.PlaceBet(ctx, "alice", uuid.New(), models.GameCrash, 40, 0)
	require.NoError(t, err)
	_, err = s.Deposit(ctx, "bob", 50, "t2", true)
	require.NoError(t, err)

	txs, err := s.Transactions(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, "alice", tx.UserAddress)
	}

	txs, err = s.Transactions(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
