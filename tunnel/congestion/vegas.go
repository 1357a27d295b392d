// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package congestion

import (
	"time"
)

// vegas estimates the number of cells queued at the bottleneck from the
// spread between the minimum and smoothed RTT, and steers the window to
// keep that queue between the consensus alpha and beta thresholds.
type vegas struct {
	params *Params
	rtt    *rttEstimator

	cwnd        uint32
	inflight    uint32
	inSlowStart bool

	// acksSinceUpdate counts acknowledgements toward the once-per-
	// window-per-inc-rate steady state update cadence.
	acksSinceUpdate uint32
}

func newVegas(p *Params) *vegas {
	return &vegas{
		params:      p,
		rtt:         newRTTEstimator(&p.RTT),
		cwnd:        p.Window.CwndInit,
		inSlowStart: true,
	}
}

// OnCellSent implements Control.
func (v *vegas) OnCellSent(now time.Time) error {
	v.inflight++
	if v.inflight%v.params.Window.SendmeInc == 0 {
		v.rtt.expectAck(now)
	}
	return nil
}

// OnSendmeReceived implements Control.
func (v *vegas) OnSendmeReceived(now time.Time) error {
	inc := v.params.Window.SendmeInc
	if v.inflight < inc {
		return ErrSendmeUnexpected
	}
	if v.rtt.ackExpected() {
		if err := v.rtt.onAck(now, v.cwnd, inc, v.inSlowStart); err != nil {
			return err
		}
	}
	v.inflight -= inc

	bdp := v.rtt.bdp(v.cwnd)
	var queueUse uint32
	if v.cwnd > bdp {
		queueUse = v.cwnd - bdp
	}

	if v.inSlowStart {
		v.updateSlowStart(bdp, queueUse)
	} else {
		v.acksSinceUpdate++
		if v.acksSinceUpdate >= v.updateCadence() {
			v.acksSinceUpdate = 0
			v.updateSteadyState(bdp, queueUse)
		}
	}

	v.clampWindow()
	return nil
}

// updateSlowStart grows the window aggressively until the queue estimate
// crosses gamma, then drops to steady state at the measured BDP.
func (v *vegas) updateSlowStart(bdp, queueUse uint32) {
	q := v.params.Vegas.Queue
	w := v.params.Window

	if queueUse < q.Gamma {
		var inc uint32
		if q.SSCwndCap != 0 && v.cwnd >= q.SSCwndCap {
			// Past the RFC3742 cap, fall back to linear growth.
			inc = w.CwndInc
		} else {
			inc = uint32(w.CwndIncPctSS.Of(uint64(v.cwnd)))
			if inc == 0 {
				inc = w.CwndInc
			}
		}
		v.cwnd += inc
		if v.cwnd > v.params.Vegas.SSCwndMax {
			v.cwnd = v.params.Vegas.SSCwndMax
		}
	} else {
		// The queue started to build; exit slow start at the BDP plus
		// the tolerated queue.
		v.cwnd = bdp + q.Gamma
		v.inSlowStart = false
	}
}

// updateSteadyState applies the Vegas alpha/beta/delta comparison once
// per update period.
func (v *vegas) updateSteadyState(bdp, queueUse uint32) {
	q := v.params.Vegas.Queue
	w := v.params.Window

	switch {
	case q.Delta != 0 && queueUse > q.Delta:
		// Hard backoff: snap below the estimated path capacity.
		if bdp+q.Delta > w.CwndInc {
			v.cwnd = bdp + q.Delta - w.CwndInc
		} else {
			v.cwnd = w.CwndMin
		}
	case queueUse > q.Beta:
		if v.cwnd > w.CwndInc {
			v.cwnd -= w.CwndInc
		}
	case queueUse < q.Alpha:
		v.cwnd += w.CwndInc
	default:
		// Queue within [alpha, beta]: hold.
	}
}

// updateCadence returns how many acknowledgements make up one steady
// state update period.
func (v *vegas) updateCadence() uint32 {
	w := v.params.Window
	acksPerCwnd := v.cwnd / w.SendmeInc
	if acksPerCwnd == 0 {
		acksPerCwnd = 1
	}
	cadence := acksPerCwnd / w.CwndIncRate
	if cadence == 0 {
		cadence = 1
	}
	return cadence
}

func (v *vegas) clampWindow() {
	w := v.params.Window
	if v.cwnd > w.CwndMax {
		v.cwnd = w.CwndMax
	}
	if v.cwnd < w.CwndMin {
		v.cwnd = w.CwndMin
		// A window pinned at its minimum means our RTT_min may be
		// stale; drift it toward the smoothed estimate.
		v.rtt.resetMin()
	}
}

// CanSend implements Control.
func (v *vegas) CanSend() bool {
	return v.inflight < v.cwnd
}

// Inflight implements Control.
func (v *vegas) Inflight() uint32 { return v.inflight }

// Window implements Control.
func (v *vegas) Window() uint32 { return v.cwnd }

// InSlowStart implements Control.
func (v *vegas) InSlowStart() bool { return v.inSlowStart }

// SendmeInc implements Control.
func (v *vegas) SendmeInc() uint32 { return v.params.Window.SendmeInc }

// Algorithm implements Control.
func (v *vegas) Algorithm() AlgorithmType { return AlgorithmVegas }
