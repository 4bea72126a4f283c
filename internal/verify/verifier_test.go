package verify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquacommander/CasinoGame/internal/store"
	"github.com/aquacommander/CasinoGame/internal/store/memory"
)

// fakeClient scripts the external network's answers. Each call consumes the
// next response; the last one repeats.
type fakeClient struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	tx  *ChainTx
	err error
}

func (f *fakeClient) Transaction(_ context.Context, _ string) (*ChainTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	return r.tx, r.err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() Config {
	return Config{MaxAttempts: 3, RetryDelay: 0, AmountTolerance: 1}
}

var expAlice = Expected{From: "alice", To: "house", Amount: 100}

func matchingTx() *ChainTx {
	return &ChainTx{Hash: "h", From: "alice", To: "house", Amount: 100}
}

func TestSubmitConfirmsFirstTry(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{{tx: matchingTx()}}}
	v := NewVerifier(memory.New(), client, testConfig())

	result, err := v.Submit(context.Background(), "proof", expAlice)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, result)
	assert.Equal(t, 1, client.callCount())
}

func TestSubmitRetriesTransportErrors(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{err: errors.New("connection refused")},
		{err: errNotFound},
		{tx: matchingTx()},
	}}
	v := NewVerifier(memory.New(), client, testConfig())

	result, err := v.Submit(context.Background(), "proof", expAlice)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, result)
	assert.Equal(t, 3, client.callCount())
}

func TestSubmitExhaustionFails(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{{err: errors.New("down")}}}
	v := NewVerifier(memory.New(), client, testConfig())

	_, err := v.Submit(context.Background(), "proof", expAlice)
	assert.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, 3, client.callCount())
}

func TestSubmitExhaustionProvisional(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{{err: errors.New("down")}}}
	cfg := testConfig()
	cfg.AllowProvisional = true
	v := NewVerifier(memory.New(), client, cfg)

	result, err := v.Submit(context.Background(), "proof", expAlice)
	require.NoError(t, err)
	assert.Equal(t, Provisional, result)
}

func TestSubmitMismatchNeverRetried(t *testing.T) {
	tests := []struct {
		name string
		tx   *ChainTx
	}{
		{"wrong sender", &ChainTx{From: "mallory", To: "house", Amount: 100}},
		{"wrong receiver", &ChainTx{From: "alice", To: "mallory", Amount: 100}},
		{"amount off past tolerance", &ChainTx{From: "alice", To: "house", Amount: 98}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{responses: []fakeResponse{{tx: tt.tx}}}
			v := NewVerifier(memory.New(), client, testConfig())

			_, err := v.Submit(context.Background(), "proof", expAlice)
			assert.ErrorIs(t, err, ErrProofMismatch)
			assert.Equal(t, 1, client.callCount(), "a found-but-wrong record is authoritative")
		})
	}
}

func TestSubmitAmountWithinTolerance(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{tx: &ChainTx{From: "alice", To: "house", Amount: 101}},
	}}
	v := NewVerifier(memory.New(), client, testConfig())

	result, err := v.Submit(context.Background(), "proof", expAlice)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, result)
}

func TestSubmitRejectsUsedProof(t *testing.T) {
	st := memory.New()
	_, err := st.Deposit(context.Background(), "alice", 100, "used", true)
	require.NoError(t, err)

	client := &fakeClient{responses: []fakeResponse{{tx: matchingTx()}}}
	v := NewVerifier(st, client, testConfig())

	_, err = v.Submit(context.Background(), "used", expAlice)
	assert.ErrorIs(t, err, store.ErrDuplicateProof)
	assert.Zero(t, client.callCount(), "duplicate check precedes any network call")
}

func TestSubmitHonorsContext(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{{err: errors.New("down")}}}
	cfg := testConfig()
	cfg.RetryDelay = 1 // nanosecond timer still checks ctx first on cancel

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := NewVerifier(memory.New(), client, cfg)

	_, err := v.Submit(ctx, "proof", expAlice)
	assert.Error(t, err)
}

func TestConfirmSingleShot(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{{err: errNotFound}}}
	v := NewVerifier(memory.New(), client, testConfig())

	err := v.Confirm(context.Background(), "proof", expAlice)
	assert.Error(t, err)
	assert.Equal(t, 1, client.callCount(), "reconciler re-checks do not retry")
}
