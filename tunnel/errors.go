// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitClosed is the terminal error surfaced to streams when
	// their tunnel is gone.
	ErrCircuitClosed = errors.New("tunnel: circuit closed")

	// ErrStreamClosed is returned by stream handle operations after the
	// stream ended.
	ErrStreamClosed = errors.New("tunnel: stream closed")

	// ErrNotLinked is returned for conflux operations on a leg that has
	// not completed the LINK handshake.
	ErrNotLinked = errors.New("tunnel: leg is not conflux linked")

	// ErrNoSuchLeg is returned for operations naming an unknown leg id.
	ErrNoSuchLeg = errors.New("tunnel: no such leg")

	// ErrGapTimeout indicates a conflux sequence gap went unfilled for
	// longer than the configured tolerance.
	ErrGapTimeout = errors.New("tunnel: conflux sequence gap timeout")

	// ErrReorderOverflow indicates the conflux reorder buffer exceeded
	// its bounded capacity, which means the peer is violating the
	// sequencing rules or a leg stalled far beyond tolerance.
	ErrReorderOverflow = errors.New("tunnel: conflux reorder buffer overflow")

	// ErrStaleSequence indicates a data cell arrived with a sequence
	// number behind the delivery cursor, which happens when a failed
	// leg's gap was flushed before the cell got through.  The cell is
	// dropped rather than delivered out of order.
	ErrStaleSequence = errors.New("tunnel: conflux sequence number behind delivery cursor")
)

// LegError wraps an error that is fatal to one leg but not necessarily
// to the tunnel.  The reactor decides leg-vs-tunnel fatality based on
// whether linked legs survive.
type LegError struct {
	LegID uint64
	Err   error
}

func (e *LegError) Error() string {
	return fmt.Sprintf("tunnel: leg %d failed: %v", e.LegID, e.Err)
}

// Unwrap returns the wrapped error.
func (e *LegError) Unwrap() error {
	return e.Err
}

// InternalBugError reports a violated internal invariant.  It is kept
// distinct from peer-caused protocol errors so operators can tell our
// bug from their bug.
type InternalBugError struct {
	Msg string
}

func (e *InternalBugError) Error() string {
	return fmt.Sprintf("tunnel: BUG: %s", e.Msg)
}
