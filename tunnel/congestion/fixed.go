// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package congestion

import (
	"time"
)

// fixedWindow is the legacy SENDME v0 fixed window algorithm.  The
// window only moves in response to acknowledgement receipt, never
// speculatively.
type fixedWindow struct {
	params *Params
	rtt    *rttEstimator

	cwnd     uint32
	inflight uint32
}

func newFixedWindow(p *Params) *fixedWindow {
	return &fixedWindow{
		params: p,
		rtt:    newRTTEstimator(&p.RTT),
		cwnd:   uint32(p.FixedWindow.CircWindowStart),
	}
}

// OnCellSent implements Control.
func (f *fixedWindow) OnCellSent(now time.Time) error {
	f.inflight++
	// Every sendme_inc-th cell is the one whose SENDME will carry an
	// RTT sample.
	inc := f.SendmeInc()
	if f.inflight%inc == 0 {
		f.rtt.expectAck(now)
	}
	return nil
}

// OnSendmeReceived implements Control.
func (f *fixedWindow) OnSendmeReceived(now time.Time) error {
	inc := f.SendmeInc()
	if f.inflight < inc {
		return ErrSendmeUnexpected
	}
	if f.rtt.ackExpected() {
		if err := f.rtt.onAck(now, f.cwnd, inc, false); err != nil {
			return err
		}
	}
	f.inflight -= inc

	f.cwnd += inc
	if f.cwnd > uint32(f.params.FixedWindow.CircWindowMax) {
		f.cwnd = uint32(f.params.FixedWindow.CircWindowMax)
	}
	if f.cwnd < uint32(f.params.FixedWindow.CircWindowMin) {
		f.cwnd = uint32(f.params.FixedWindow.CircWindowMin)
	}
	return nil
}

// CanSend implements Control.
func (f *fixedWindow) CanSend() bool {
	return f.inflight < f.cwnd
}

// Inflight implements Control.
func (f *fixedWindow) Inflight() uint32 { return f.inflight }

// Window implements Control.
func (f *fixedWindow) Window() uint32 { return f.cwnd }

// InSlowStart implements Control.
func (f *fixedWindow) InSlowStart() bool { return false }

// SendmeInc implements Control.
func (f *fixedWindow) SendmeInc() uint32 {
	// The fixed window world predates the negotiable SENDME increment;
	// the historical value is 100 cells unless the consensus supplies
	// a window parameter block.
	if f.params.Window.SendmeInc != 0 {
		return f.params.Window.SendmeInc
	}
	return 100
}

// Algorithm implements Control.
func (f *fixedWindow) Algorithm() AlgorithmType { return AlgorithmFixedWindow }
