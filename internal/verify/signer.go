// internal/verify/signer.go
package verify

import (
	"context"
	"errors"
)

// ErrNoSigner means no wallet adapter is wired; outgoing transfers stay
// pending for manual processing.
var ErrNoSigner = errors.New("no signing adapter configured")

// Signer is the capability interface for the external wallet adapter. The
// engine never depends on whether a concrete adapter is present — a
// withdrawal path that needs signing asks for it and degrades to pending
// when it is not there.
type Signer interface {
	// Sign produces signed transaction bytes for the external network.
	Sign(raw []byte) ([]byte, error)
	// SequenceNumber returns the wallet's current external sequence.
	SequenceNumber(ctx context.Context) (uint64, error)
}

// NopSigner is the adapter-absent implementation.
type NopSigner struct{}

func (NopSigner) Sign([]byte) ([]byte, error) { return nil, ErrNoSigner }

func (NopSigner) SequenceNumber(context.Context) (uint64, error) { return 0, ErrNoSigner }
