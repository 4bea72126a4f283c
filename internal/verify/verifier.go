// internal/verify/verifier.go
//
// External payment-proof verification. A proof is an opaque reference to a
// transaction on an external ledger network; Submit confirms it against an
// expected sender/receiver/amount with bounded retries and endpoint
// failover. The store's proof uniqueness is the double-spend barrier;
// Submit checks it before ever touching the network.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquacommander/CasinoGame/internal/metrics"
	"github.com/aquacommander/CasinoGame/internal/store"
)

var (
	// ErrVerificationFailed means external confirmation exhausted its
	// retries. In production this always rejects the request; outside
	// production the verifier may downgrade it to provisional acceptance.
	ErrVerificationFailed = errors.New("external verification failed")

	// ErrProofMismatch means the external record exists but does not match
	// the expected sender, receiver or amount. Never retried.
	ErrProofMismatch = errors.New("proof does not match expected transfer")

	// errNotFound is an internal marker: the endpoint answered but does
	// not know the transaction yet. Retried.
	errNotFound = errors.New("transaction not found on endpoint")
)

// ChainTx is the external ledger's view of a transaction.
type ChainTx struct {
	Hash   string `json:"hash"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// Expected is the transfer a proof must match.
type Expected struct {
	From   string
	To     string
	Amount int64
}

// Client fetches a transaction record from the external network.
type Client interface {
	Transaction(ctx context.Context, proof string) (*ChainTx, error)
}

// HTTPClient queries a prioritized list of REST endpoints, failing over to
// the next endpoint on transport error. The first endpoint that answers —
// found or not-found — decides the attempt.
type HTTPClient struct {
	Endpoints []string
	HTTP      *http.Client
	log       *logrus.Entry
}

// NewHTTPClient builds a client over the endpoint list with a default
// request timeout.
func NewHTTPClient(endpoints []string) *HTTPClient {
	return &HTTPClient{
		Endpoints: endpoints,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		log:       logrus.WithField("component", "chain-client"),
	}
}

func (c *HTTPClient) Transaction(ctx context.Context, proof string) (*ChainTx, error) {
	var lastErr error
	for _, base := range c.Endpoints {
		tx, err := c.query(ctx, base, proof)
		if err == nil {
			return tx, nil
		}
		if errors.Is(err, errNotFound) {
			// The endpoint is healthy and authoritative; no failover.
			return nil, err
		}
		c.log.WithError(err).WithField("endpoint", base).Warn("endpoint failed, trying next")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured")
	}
	return nil, lastErr
}

func (c *HTTPClient) query(ctx context.Context, base, proof string) (*ChainTx, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/txs/"+proof, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		var tx ChainTx
		if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
			return nil, err
		}
		return &tx, nil
	case http.StatusNotFound:
		return nil, errNotFound
	default:
		return nil, fmt.Errorf("endpoint %s: status %d", base, resp.StatusCode)
	}
}

// Result is the verdict of a Submit call.
type Result int

const (
	// Confirmed: the proof matched the expected transfer.
	Confirmed Result = iota
	// Provisional: verification exhausted retries but the configuration
	// allows provisional acceptance (never in production). The
	// reconciliation job owns the proof from here.
	Provisional
)

// Config tunes the verifier.
type Config struct {
	MaxAttempts      int
	RetryDelay       time.Duration
	AmountTolerance  int64 // absorbs external rounding, in ledger units
	AllowProvisional bool  // never set in production
}

// DefaultConfig returns the production verification settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		RetryDelay:      2 * time.Second,
		AmountTolerance: 1,
	}
}

// Verifier confirms external payment proofs.
type Verifier struct {
	store  store.Store
	client Client
	cfg    Config
	log    *logrus.Entry
}

// NewVerifier wires a verifier over the shared store and chain client.
func NewVerifier(st store.Store, client Client, cfg Config) *Verifier {
	return &Verifier{store: st, client: client, cfg: cfg, log: logrus.WithField("component", "verifier")}
}

// Submit verifies proof against the expected transfer. Rejects immediately
// with store.ErrDuplicateProof when a confirmed transaction already holds
// the proof. A found-but-mismatched record fails without retry; transport
// errors and not-yet-visible transactions are retried up to MaxAttempts
// with RetryDelay between, across all endpoints.
func (v *Verifier) Submit(ctx context.Context, proof string, exp Expected) (Result, error) {
	used, err := v.store.HasConfirmedProof(ctx, proof)
	if err != nil {
		return 0, err
	}
	if used {
		metrics.ProofVerifications.WithLabelValues("duplicate").Inc()
		return 0, store.ErrDuplicateProof
	}

	var lastErr error
	for attempt := 1; attempt <= v.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(v.cfg.RetryDelay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		tx, err := v.client.Transaction(ctx, proof)
		if err != nil {
			lastErr = err
			v.log.WithError(err).WithFields(logrus.Fields{"proof": proof, "attempt": attempt}).Warn("verification attempt failed")
			continue
		}
		if err := v.match(tx, exp); err != nil {
			metrics.ProofVerifications.WithLabelValues("mismatch").Inc()
			return 0, err
		}
		metrics.ProofVerifications.WithLabelValues("confirmed").Inc()
		return Confirmed, nil
	}

	if v.cfg.AllowProvisional {
		metrics.ProofVerifications.WithLabelValues("provisional").Inc()
		v.log.WithField("proof", proof).Warn("verification exhausted; accepting provisionally (non-production mode)")
		return Provisional, nil
	}
	metrics.ProofVerifications.WithLabelValues("failed").Inc()
	return 0, fmt.Errorf("%w: %v", ErrVerificationFailed, lastErr)
}

// match validates sender, receiver and amount within tolerance.
func (v *Verifier) match(tx *ChainTx, exp Expected) error {
	if tx.From != exp.From || tx.To != exp.To {
		return fmt.Errorf("%w: parties %s->%s, expected %s->%s", ErrProofMismatch, tx.From, tx.To, exp.From, exp.To)
	}
	diff := tx.Amount - exp.Amount
	if diff < 0 {
		diff = -diff
	}
	if diff > v.cfg.AmountTolerance {
		return fmt.Errorf("%w: amount %d, expected %d", ErrProofMismatch, tx.Amount, exp.Amount)
	}
	return nil
}

// Confirm is the reconciler's single-shot re-check: one pass over the
// endpoints, no retry loop.
func (v *Verifier) Confirm(ctx context.Context, proof string, exp Expected) error {
	tx, err := v.client.Transaction(ctx, proof)
	if err != nil {
		return err
	}
	return v.match(tx, exp)
}
