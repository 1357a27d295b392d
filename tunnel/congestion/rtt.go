// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package congestion

import (
	"errors"
	"time"
)

// ErrNoAckExpected is returned when an acknowledgement arrives with no
// outstanding cell awaiting one.
var ErrNoAckExpected = errors.New("congestion: acknowledgement arrived with none expected")

// rttEstimator tracks smoothed round trip time for one hop, driven by
// the reactor's clock.  It keeps one timestamp per expected SENDME, so
// memory use is bounded by the window divided by the SENDME increment.
type rttEstimator struct {
	params *RoundTripEstimatorParams

	// sendTimes holds the send timestamps of the cells whose
	// acknowledgements are still outstanding, oldest first.
	sendTimes []time.Time

	ewma    time.Duration
	min     time.Duration
	samples uint64
}

func newRTTEstimator(params *RoundTripEstimatorParams) *rttEstimator {
	return &rttEstimator{
		params: params,
	}
}

// expectAck records that a cell requiring acknowledgement was sent at
// the given time.
func (r *rttEstimator) expectAck(now time.Time) {
	r.sendTimes = append(r.sendTimes, now)
}

// ackExpected reports whether at least one acknowledgement is owed.
func (r *rttEstimator) ackExpected() bool {
	return len(r.sendTimes) > 0
}

// onAck consumes the oldest outstanding timestamp and folds the new RTT
// sample into the estimate.  cwnd and sendmeInc size the smoothing
// window; inSlowStart selects the slow start EWMA bound.
func (r *rttEstimator) onAck(now time.Time, cwnd, sendmeInc uint32, inSlowStart bool) error {
	if len(r.sendTimes) == 0 {
		return ErrNoAckExpected
	}
	sample := now.Sub(r.sendTimes[0])
	r.sendTimes = r.sendTimes[1:]
	if sample <= 0 {
		// A non-monotonic clock reading; ignore the sample but still
		// consume the timestamp.
		return nil
	}

	r.samples++
	if r.min == 0 || sample < r.min {
		r.min = sample
	}

	// N-EWMA smoothing: N is ewma_cwnd_pct percent of the SENDMEs in
	// one congestion window, bounded by ewma_max (ewma_ss_max in slow
	// start), and never below 2.
	acksPerCwnd := uint64(cwnd / sendmeInc)
	n := r.params.EwmaCwndPct.Of(acksPerCwnd)
	maxN := uint64(r.params.EwmaMax)
	if inSlowStart {
		maxN = uint64(r.params.EwmaSSMax)
	}
	if n > maxN {
		n = maxN
	}
	if n < 2 {
		n = 2
	}

	if r.ewma == 0 {
		r.ewma = sample
	} else {
		// EWMA_new = (sample*2 + EWMA_old*(N-1)) / (N+1), in integer
		// nanoseconds for reproducibility.
		num := uint64(sample)*2 + uint64(r.ewma)*(n-1)
		r.ewma = time.Duration(num / (n + 1))
	}
	return nil
}

// resetMin moves RTT_min toward the current EWMA by rtt_reset_pct,
// invoked when the congestion window collapses to its minimum.
func (r *rttEstimator) resetMin() {
	if r.ewma == 0 {
		return
	}
	pct := uint64(r.params.RTTResetPct)
	newMin := (uint64(r.min)*(100-pct) + uint64(r.ewma)*pct) / 100
	r.min = time.Duration(newMin)
}

// bdp estimates the bandwidth-delay product in cells: the window scaled
// by the ratio of minimum to smoothed RTT.
func (r *rttEstimator) bdp(cwnd uint32) uint32 {
	if r.ewma == 0 || r.min == 0 {
		return cwnd
	}
	est := uint64(cwnd) * uint64(r.min) / uint64(r.ewma)
	if est > uint64(cwnd) {
		return cwnd
	}
	return uint32(est)
}
