package modulecache

import (
	"github.com/nuclio/errors"
)

// NegotiationState is one step of the two-phase cache negotiation
type NegotiationState string

const (
	StateProbing          NegotiationState = "probing"
	StateHitConfirmed     NegotiationState = "hitConfirmed"
	StateMissFallbackSent NegotiationState = "missFallbackSent"
	StateCompleted        NegotiationState = "completed"
)

// Negotiation drives one invocation's "identifier-only probe, full source on
// miss" exchange as an explicit state machine:
//
//	Probing -> (HitConfirmed | MissFallbackSent) -> Completed
//
// A negotiation without a fallback body (cache-only invocations) completes
// directly on a miss; the caller reports not-found.
type Negotiation struct {
	state       NegotiationState
	cacheID     string
	hasFallback bool
}

// NewNegotiation returns a negotiation in the probing state
func NewNegotiation(cacheID string, hasFallback bool) *Negotiation {
	return &Negotiation{
		state:       StateProbing,
		cacheID:     cacheID,
		hasFallback: hasFallback,
	}
}

// State returns the current state
func (n *Negotiation) State() NegotiationState {
	return n.state
}

// CacheID returns the identifier being negotiated
func (n *Negotiation) CacheID() string {
	return n.cacheID
}

// OnProbeHit records that the probe was answered from cache
func (n *Negotiation) OnProbeHit() error {
	if n.state != StateProbing {
		return errors.Errorf("Unexpected probe hit in state %s", n.state)
	}

	n.state = StateHitConfirmed
	return nil
}

// OnProbeMiss records a cache miss. The returned flag tells the caller whether
// a fallback full-source send should follow; without one the negotiation is
// complete and the outcome is not-found.
func (n *Negotiation) OnProbeMiss() (bool, error) {
	if n.state != StateProbing {
		return false, errors.Errorf("Unexpected probe miss in state %s", n.state)
	}

	if !n.hasFallback {
		n.state = StateCompleted
		return false, nil
	}

	n.state = StateMissFallbackSent
	return true, nil
}

// Complete finalizes the negotiation after a hit or a fallback round trip
func (n *Negotiation) Complete() error {
	switch n.state {
	case StateHitConfirmed, StateMissFallbackSent:
		n.state = StateCompleted
		return nil
	default:
		return errors.Errorf("Unexpected completion in state %s", n.state)
	}
}
