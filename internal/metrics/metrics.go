// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BetsPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casino_bets_placed_total",
		Help: "Bets registered, by game type.",
	}, []string{"game"})

	BetsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casino_bets_settled_total",
		Help: "Bets settled, by game type and terminal status.",
	}, []string{"game", "status"})

	PayoutUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casino_payout_units_total",
		Help: "Gross payout credited, in ledger units, by game type.",
	}, []string{"game"})

	RoundsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casino_rounds_resolved_total",
		Help: "Rounds resolved, by game type.",
	}, []string{"game"})

	ProofVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casino_proof_verifications_total",
		Help: "External proof verification results.",
	}, []string{"result"})

	ReconcilerPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "casino_reconciler_passes_total",
		Help: "Completed reconciliation passes.",
	})
)
