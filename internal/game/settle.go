// internal/game/settle.go
package game

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/aquacommander/CasinoGame/internal/metrics"
	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

// WinRule decides a single bet's terminal status and gross payout from the
// round outcome.
type WinRule func(bet *models.Bet, outcome float64) (models.BetStatus, int64)

// Settler applies bet settlements. It is the only writer of Bet.status and
// the paired ledger/transaction mutation; the store performs both as one
// atomic unit, and the store-side open -> terminal compare-and-set makes
// every settlement path idempotent per bet.
type Settler struct {
	store store.Store
	log   *logrus.Entry
}

// NewSettler wires a settler over the shared store.
func NewSettler(st store.Store) *Settler {
	return &Settler{store: st, log: logrus.WithField("component", "settler")}
}

// Payout converts a stake and multiplier into ledger units, rounding
// half away from zero.
func Payout(amount int64, multiplier float64) int64 {
	return int64(math.Round(float64(amount) * multiplier))
}

// Cashout settles a single bet early at the current multiplier. Valid only
// while the round still accepts cashouts; a cashout that lost the race
// against resolution gets ErrRoundResolved, from either the phase check or
// the store-side settle guard.
func (s *Settler) Cashout(ctx context.Context, r *Round, betID uuid.UUID, multiplier float64) (*models.Bet, error) {
	if err := r.CheckCashoutPhase(); err != nil {
		return nil, err
	}

	bet, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	win := Payout(bet.Amount, multiplier)
	settled, err := s.store.SettleBet(ctx, betID, store.SettleOutcome{
		Status: models.BetCashedOut,
		Payout: win,
	})
	if errors.Is(err, store.ErrBetSettled) {
		// Resolution got there first.
		return nil, ErrRoundResolved
	}
	if err != nil {
		return nil, err
	}
	r.Forget(betID)
	metrics.BetsSettled.WithLabelValues(string(settled.Game), string(settled.Status)).Inc()
	metrics.PayoutUnits.WithLabelValues(string(settled.Game)).Add(float64(win))
	s.log.WithFields(logrus.Fields{
		"bet":        settled.ID,
		"user":       settled.UserAddress,
		"multiplier": multiplier,
		"payout":     win,
	}).Info("bet cashed out")
	return settled, nil
}

// ResolveRound flips the round to RESOLVED and settles every bet that is
// still open under the game-specific rule. Already-settled bets (cashouts
// that won their race) are skipped via the store guard, so a duplicate
// scheduler tick or retry never settles a bet twice. A store failure on
// one bet is logged and does not stop the loop for the others.
func (s *Settler) ResolveRound(ctx context.Context, r *Round, outcome float64, rule WinRule) []*models.Bet {
	drained, won := r.BeginResolve(outcome)
	if !won {
		return nil
	}
	metrics.RoundsResolved.WithLabelValues(string(r.game)).Inc()

	settled := make([]*models.Bet, 0, len(drained))
	for _, bet := range drained {
		status, payout := rule(bet, outcome)
		final, err := s.store.SettleBet(ctx, bet.ID, store.SettleOutcome{Status: status, Payout: payout})
		if errors.Is(err, store.ErrBetSettled) {
			continue // cashed out before the flip
		}
		if err != nil {
			s.log.WithError(err).WithField("bet", bet.ID).Error("settlement failed; bet left for reconciliation")
			continue
		}
		metrics.BetsSettled.WithLabelValues(string(final.Game), string(final.Status)).Inc()
		if payout > 0 {
			metrics.PayoutUnits.WithLabelValues(string(final.Game)).Add(float64(payout))
		}
		settled = append(settled, final)
	}
	return settled
}

// SettleSessionBet resolves a turn-based session bet directly (no shared
// round). The same store-side guard applies.
func (s *Settler) SettleSessionBet(ctx context.Context, betID uuid.UUID, status models.BetStatus, payout int64) (*models.Bet, error) {
	settled, err := s.store.SettleBet(ctx, betID, store.SettleOutcome{Status: status, Payout: payout})
	if err != nil {
		return nil, err
	}
	metrics.BetsSettled.WithLabelValues(string(settled.Game), string(settled.Status)).Inc()
	if payout > 0 {
		metrics.PayoutUnits.WithLabelValues(string(settled.Game)).Add(float64(payout))
	}
	return settled, nil
}
