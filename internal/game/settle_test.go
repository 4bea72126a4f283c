package game

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
	"github.com/aquacommander/CasinoGame/internal/store/memory"
)

// flakyStore fails the next settle attempts, then delegates.
type flakyStore struct {
	store.Store
	failures int
}

func (s *flakyStore) SettleBet(ctx context.Context, betID uuid.UUID, out store.SettleOutcome) (*models.Bet, error) {
	if s.failures > 0 {
		s.failures--
		return nil, store.ErrStore
	}
	return s.Store.SettleBet(ctx, betID, out)
}

// fund creates addr with a confirmed deposit.
func fund(t *testing.T, st store.Store, addr string, amount int64, proof string) {
	t.Helper()
	_, err := st.Deposit(context.Background(), addr, amount, proof, true)
	require.NoError(t, err)
}

func balance(t *testing.T, st store.Store, addr string) (int64, int64) {
	t.Helper()
	u, err := st.GetUser(context.Background(), addr)
	require.NoError(t, err)
	return u.Balance, u.LockedBalance
}

func TestCashoutSettlesOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	settler := NewSettler(st)
	fund(t, st, "alice", 100, "p1")

	r := NewRound(models.GameCrash, models.PhaseRunning)
	bet, err := r.Register(ctx, st, "alice", 40, 0, models.PhaseRunning)
	require.NoError(t, err)

	bal, locked := balance(t, st, "alice")
	assert.Equal(t, int64(100), bal)
	assert.Equal(t, int64(40), locked)

	settled, err := settler.Cashout(ctx, r, bet.ID, 2.5)
	require.NoError(t, err)
	assert.Equal(t, models.BetCashedOut, settled.Status)
	assert.Equal(t, int64(100), settled.Payout)

	bal, locked = balance(t, st, "alice")
	assert.Equal(t, int64(160), bal)
	assert.Zero(t, locked)

	// A second cashout of the same bet finds it gone from the registry.
	_, err = settler.Cashout(ctx, r, bet.ID, 3.0)
	assert.ErrorIs(t, err, ErrRoundResolved)
}

func TestCashoutAfterResolveRejected(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	settler := NewSettler(st)
	fund(t, st, "bob", 100, "p2")

	r := NewRound(models.GameCrash, models.PhaseRunning)
	bet, err := r.Register(ctx, st, "bob", 40, 0, models.PhaseRunning)
	require.NoError(t, err)

	settled := settler.ResolveRound(ctx, r, 1.8, crashRule)
	require.Len(t, settled, 1)
	assert.Equal(t, models.BetLost, settled[0].Status)

	_, err = settler.Cashout(ctx, r, bet.ID, 1.5)
	assert.ErrorIs(t, err, ErrRoundResolved)

	bal, locked := balance(t, st, "bob")
	assert.Equal(t, int64(60), bal)
	assert.Zero(t, locked)
}

func TestResolveRoundSkipsCashedOut(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	settler := NewSettler(st)
	fund(t, st, "alice", 100, "p3")
	fund(t, st, "bob", 100, "p4")

	r := NewRound(models.GameCrash, models.PhaseRunning)
	aliceBet, err := r.Register(ctx, st, "alice", 40, 0, models.PhaseRunning)
	require.NoError(t, err)
	_, err = r.Register(ctx, st, "bob", 40, 0, models.PhaseRunning)
	require.NoError(t, err)

	_, err = settler.Cashout(ctx, r, aliceBet.ID, 2.0)
	require.NoError(t, err)

	settled := settler.ResolveRound(ctx, r, 2.2, crashRule)
	require.Len(t, settled, 1)
	assert.Equal(t, "bob", settled[0].UserAddress)

	aliceBal, _ := balance(t, st, "alice")
	bobBal, _ := balance(t, st, "bob")
	assert.Equal(t, int64(140), aliceBal)
	assert.Equal(t, int64(60), bobBal)
}

func TestResolveRoundSecondCallNoop(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	settler := NewSettler(st)
	fund(t, st, "alice", 100, "p5")

	r := NewRound(models.GameCrash, models.PhaseRunning)
	_, err := r.Register(ctx, st, "alice", 40, 0, models.PhaseRunning)
	require.NoError(t, err)

	first := settler.ResolveRound(ctx, r, 1.5, crashRule)
	second := settler.ResolveRound(ctx, r, 1.5, crashRule)
	assert.Len(t, first, 1)
	assert.Empty(t, second)

	bal, locked := balance(t, st, "alice")
	assert.Equal(t, int64(60), bal)
	assert.Zero(t, locked)
}

// TestCashoutResolveRace hammers the cashout-vs-resolution race. Exactly
// one side may settle the bet, and the final balance must match whichever
// side won.
func TestCashoutResolveRace(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		st := memory.New()
		settler := NewSettler(st)
		fund(t, st, "alice", 100, "race")

		r := NewRound(models.GameCrash, models.PhaseRunning)
		bet, err := r.Register(ctx, st, "alice", 40, 0, models.PhaseRunning)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var cashoutErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cashoutErr = settler.Cashout(ctx, r, bet.ID, 2.0)
		}()
		go func() {
			defer wg.Done()
			settler.ResolveRound(ctx, r, 1.9, crashRule)
		}()
		wg.Wait()

		final, err := st.GetBet(ctx, bet.ID)
		require.NoError(t, err)
		require.True(t, final.Status.Terminal())

		bal, locked := balance(t, st, "alice")
		assert.Zero(t, locked)
		if cashoutErr == nil {
			assert.Equal(t, models.BetCashedOut, final.Status)
			assert.Equal(t, int64(140), bal)
		} else {
			assert.ErrorIs(t, cashoutErr, ErrRoundResolved)
			assert.Equal(t, models.BetLost, final.Status)
			assert.Equal(t, int64(60), bal)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	fund(t, st, "alice", 100, "p6")

	r := NewRound(models.GameCrash, models.PhaseRunning)

	_, err := r.Register(ctx, st, "alice", 0, 0, models.PhaseRunning)
	assert.ErrorIs(t, err, ErrInvalidBet)

	_, err = r.Register(ctx, st, "alice", 40, 0, models.PhaseCountdown)
	assert.ErrorIs(t, err, ErrInvalidPhase)

	_, err = r.Register(ctx, st, "alice", 200, 0, models.PhaseRunning)
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)

	// One bet per user per round.
	_, err = r.Register(ctx, st, "alice", 40, 0, models.PhaseRunning)
	require.NoError(t, err)
	_, err = r.Register(ctx, st, "alice", 10, 0, models.PhaseRunning)
	assert.ErrorIs(t, err, ErrInvalidPhase)
}
