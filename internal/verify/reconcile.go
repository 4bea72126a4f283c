// internal/verify/reconcile.go
package verify

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquacommander/CasinoGame/internal/metrics"
	"github.com/aquacommander/CasinoGame/internal/models"
	"github.com/aquacommander/CasinoGame/internal/store"
)

// ReconcilerConfig tunes the pending-proof reconciliation job.
type ReconcilerConfig struct {
	Interval   time.Duration
	MaxAge     time.Duration // pending proofs older than this are failed
	BatchLimit int
	// HouseAddress is the engine's own external address: deposits flow
	// user -> house, withdrawals house -> user.
	HouseAddress string
}

// DefaultReconcilerConfig returns the production settings.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:   30 * time.Second,
		MaxAge:     30 * time.Minute,
		BatchLimit: 100,
	}
}

// Reconciler periodically re-verifies pending external proofs until they
// confirm or expire. Passes never overlap: an atomic in-flight flag skips
// a pass that would start while one is running, and the store claim marks
// the rows a pass owns.
type Reconciler struct {
	store    store.Store
	verifier *Verifier
	cfg      ReconcilerConfig
	log      *logrus.Entry
	inFlight atomic.Bool
	stop     chan struct{}
}

// NewReconciler wires the job; call Run to start it.
func NewReconciler(st store.Store, verifier *Verifier, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		store:    st,
		verifier: verifier,
		cfg:      cfg,
		log:      logrus.WithField("component", "reconciler"),
		stop:     make(chan struct{}),
	}
}

// Run loops on the fixed interval until Stop or ctx cancellation.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop terminates the loop.
func (r *Reconciler) Stop() { close(r.stop) }

// RunOnce executes a single reconciliation pass. Safe to call directly;
// returns immediately when another pass is already in flight.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer r.inFlight.Store(false)

	pending, err := r.store.ClaimPendingProofs(ctx, r.cfg.BatchLimit)
	if err != nil {
		r.log.WithError(err).Error("claiming pending proofs failed")
		return
	}
	now := time.Now()
	for i := range pending {
		r.reconcile(ctx, &pending[i], now)
	}
	metrics.ReconcilerPasses.Inc()
	if len(pending) > 0 {
		r.log.WithField("count", len(pending)).Info("reconciliation pass complete")
	}
}

// reconcile finalizes or expires one claimed pending transaction.
func (r *Reconciler) reconcile(ctx context.Context, tx *models.Transaction, now time.Time) {
	if store.PendingAge(tx, now) > r.cfg.MaxAge {
		// Expired: mark failed and release whatever balance was
		// provisionally locked against it.
		if err := r.store.FailProof(ctx, tx.ID); err != nil {
			r.log.WithError(err).WithField("tx", tx.ID).Error("expiring proof failed")
			return
		}
		r.log.WithFields(logrus.Fields{"tx": tx.ID, "proof": tx.Proof}).Warn("pending proof expired")
		return
	}

	if tx.Proof == "" {
		// Withdrawal whose outgoing transfer has not produced a proof yet
		// (no wallet adapter). Nothing to verify; the age check above is
		// what eventually fails it and releases the lock.
		if err := r.store.ReleaseProofClaim(ctx, tx.ID); err != nil {
			r.log.WithError(err).WithField("tx", tx.ID).Error("releasing claim failed")
		}
		return
	}

	err := r.verifier.Confirm(ctx, tx.Proof, r.expected(tx))
	switch {
	case err == nil:
		if err := r.store.ConfirmProof(ctx, tx.ID); err != nil {
			r.log.WithError(err).WithField("tx", tx.ID).Error("confirming proof failed")
		}
	case errors.Is(err, ErrProofMismatch):
		// The external record will never match; no point waiting for the
		// age limit.
		if err := r.store.FailProof(ctx, tx.ID); err != nil {
			r.log.WithError(err).WithField("tx", tx.ID).Error("failing mismatched proof failed")
		}
	default:
		// Transport trouble or not yet visible: put the row back for the
		// next pass.
		if err := r.store.ReleaseProofClaim(ctx, tx.ID); err != nil {
			r.log.WithError(err).WithField("tx", tx.ID).Error("releasing claim failed")
		}
	}
}

// expected derives the transfer a pending transaction must match.
func (r *Reconciler) expected(tx *models.Transaction) Expected {
	if tx.Type == models.TxWithdrawal {
		return Expected{From: r.cfg.HouseAddress, To: tx.UserAddress, Amount: tx.Amount}
	}
	return Expected{From: tx.UserAddress, To: r.cfg.HouseAddress, Amount: tx.Amount}
}
