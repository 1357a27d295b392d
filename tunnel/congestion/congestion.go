// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package congestion

import (
	"errors"
	"time"
)

// ErrSendmeUnexpected is returned when a SENDME acknowledges more cells
// than are in flight.  The reactor treats this as a protocol violation
// fatal to the leg it arrived on.
var ErrSendmeUnexpected = errors.New("congestion: SENDME with insufficient data in flight")

// Control is the interface shared by all congestion control algorithms,
// so the reactor is agnostic to which is active.  Implementations hold
// no timers of their own; the reactor drives all time-dependent
// evaluation by passing its own clock reading.  None of the methods are
// safe for concurrent use: all state is owned by the reactor goroutine.
type Control interface {
	// OnCellSent records that one data cell was handed to the leg for
	// transmission at the given time.
	OnCellSent(now time.Time) error

	// OnSendmeReceived folds one accepted SENDME acknowledgement into
	// the window and RTT state.
	OnSendmeReceived(now time.Time) error

	// CanSend reports whether the window currently admits another cell.
	CanSend() bool

	// Inflight returns the number of unacknowledged cells.
	Inflight() uint32

	// Window returns the current congestion window, in cells.
	Window() uint32

	// InSlowStart reports whether the algorithm is in its slow start
	// phase.  The fixed window algorithm is never in slow start.
	InSlowStart() bool

	// SendmeInc returns the number of cells one SENDME acknowledges.
	SendmeInc() uint32

	// Algorithm returns the active algorithm's consensus identifier.
	Algorithm() AlgorithmType
}

// New constructs the Control selected by the validated parameters.
func New(p *Params) Control {
	switch p.Alg {
	case AlgorithmVegas:
		return newVegas(p)
	default:
		return newFixedWindow(p)
	}
}

// RecvWindow tracks the cells received from one hop and decides when a
// flow control acknowledgement must be emitted back to it.
type RecvWindow struct {
	sendmeInc uint32
	pending   uint32
}

// NewRecvWindow creates a RecvWindow that requests a SENDME for every
// sendmeInc cells delivered.
func NewRecvWindow(sendmeInc uint32) *RecvWindow {
	return &RecvWindow{sendmeInc: sendmeInc}
}

// NoteDataReceived records one received data cell and reports whether a
// SENDME acknowledging sendmeInc cells is now owed to the sender.
func (w *RecvWindow) NoteDataReceived() bool {
	w.pending++
	if w.pending >= w.sendmeInc {
		w.pending -= w.sendmeInc
		return true
	}
	return false
}
