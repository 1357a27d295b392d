// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package congestion implements the per-hop congestion control engine:
// the fixed window and Vegas algorithms, parameterized by
// consensus-derived values that both ends must interpret identically.
package congestion

import (
	"fmt"
)

// Pct is a fixed-point percentage.  All percentage parameters use this
// type rather than floating point so that behavior is deterministic and
// bit-reproducible against the same consensus input.
type Pct uint32

// Of returns pct percent of v, truncated.
func (p Pct) Of(v uint64) uint64 {
	return v * uint64(p) / 100
}

// AlgorithmType selects a congestion control algorithm by its consensus
// numeric value.  Values not defined here are preserved numerically.
type AlgorithmType int32

// Defined algorithm types.
const (
	AlgorithmFixedWindow AlgorithmType = 0
	AlgorithmVegas       AlgorithmType = 2
)

func (a AlgorithmType) String() string {
	switch a {
	case AlgorithmFixedWindow:
		return "fixed_window"
	case AlgorithmVegas:
		return "vegas"
	default:
		return fmt.Sprintf("AlgorithmType(%d)", int32(a))
	}
}

// FixedWindowParams are the parameters of the fixed window algorithm.
type FixedWindowParams struct {
	// CircWindowStart is the circuit window starting point.
	CircWindowStart uint16

	// CircWindowMin is the circuit window minimum value.
	CircWindowMin uint16

	// CircWindowMax is the circuit window maximum value.
	CircWindowMax uint16
}

func (p *FixedWindowParams) validate() error {
	if p.CircWindowMin == 0 || p.CircWindowMin > p.CircWindowMax {
		return fmt.Errorf("congestion: fixed window bounds invalid: min=%d max=%d",
			p.CircWindowMin, p.CircWindowMax)
	}
	if p.CircWindowStart < p.CircWindowMin || p.CircWindowStart > p.CircWindowMax {
		return fmt.Errorf("congestion: circ_window_start %d outside [%d, %d]",
			p.CircWindowStart, p.CircWindowMin, p.CircWindowMax)
	}
	return nil
}

// VegasQueueParams are the queue thresholds of the Vegas algorithm.
type VegasQueueParams struct {
	// Alpha is the queue estimate below which the window grows.
	Alpha uint32

	// Beta is the queue estimate above which the window shrinks.
	Beta uint32

	// Delta is the queue estimate treated as a hard backoff signal.
	Delta uint32

	// Gamma bounds queue growth during slow start.
	Gamma uint32

	// SSCwndCap is the RFC3742 style cap after which slow start window
	// increments are reduced.
	SSCwndCap uint32
}

// VegasParams are the parameters of the Vegas algorithm.
type VegasParams struct {
	Queue VegasQueueParams

	// SSCwndMax is a hard maximum on the congestion window while in
	// slow start.
	SSCwndMax uint32
}

func (p *VegasParams) validate() error {
	if p.Queue.Delta != 0 && p.Queue.Delta < p.Queue.Beta {
		return fmt.Errorf("congestion: vegas delta %d below beta %d", p.Queue.Delta, p.Queue.Beta)
	}
	if p.Queue.Alpha > p.Queue.Beta {
		return fmt.Errorf("congestion: vegas alpha %d above beta %d", p.Queue.Alpha, p.Queue.Beta)
	}
	if p.SSCwndMax == 0 {
		return fmt.Errorf("congestion: vegas ss_cwnd_max is zero")
	}
	return nil
}

// RoundTripEstimatorParams control N-EWMA smoothing of RTT samples.
type RoundTripEstimatorParams struct {
	// EwmaCwndPct is the "N" in N-EWMA smoothing, as a percentage of
	// the number of SENDME acks in a congestion window.  Over 100%
	// smooths with more than one window's worth of SENDMEs.
	EwmaCwndPct Pct

	// EwmaMax is the maximum "N" in steady state.
	EwmaMax uint32

	// EwmaSSMax is the maximum "N" in slow start.
	EwmaSSMax uint32

	// RTTResetPct is the percentile between RTT_min and the current
	// EWMA used to reset RTT_min when the window hits its minimum.
	RTTResetPct Pct
}

func (p *RoundTripEstimatorParams) validate() error {
	if p.EwmaMax == 0 || p.EwmaSSMax == 0 {
		return fmt.Errorf("congestion: EWMA bounds must be nonzero")
	}
	if p.RTTResetPct > 100 {
		return fmt.Errorf("congestion: rtt_reset_pct %d over 100", p.RTTResetPct)
	}
	return nil
}

// WindowParams are the algorithm-independent congestion window
// parameters.
type WindowParams struct {
	// CwndInit is the initial window size, in cells.
	CwndInit uint32

	// CwndIncPctSS is the percent of the current window to increment by
	// per acknowledgement during slow start.
	CwndIncPctSS Pct

	// CwndInc is the number of cells to increment the window by in
	// steady state.
	CwndInc uint32

	// CwndIncRate is the number of updates per congestion window made
	// in response to congestion signals.
	CwndIncRate uint32

	// CwndMin is the minimum window.  Must be at least SendmeInc.
	CwndMin uint32

	// CwndMax is the maximum window.
	CwndMax uint32

	// SendmeInc is the number of cells acknowledged by one SENDME.
	SendmeInc uint32
}

func (p *WindowParams) validate() error {
	if p.SendmeInc == 0 {
		return fmt.Errorf("congestion: sendme_inc is zero")
	}
	if p.CwndMin < p.SendmeInc {
		return fmt.Errorf("congestion: cwnd_min %d below sendme_inc %d", p.CwndMin, p.SendmeInc)
	}
	if p.CwndMin > p.CwndMax {
		return fmt.Errorf("congestion: cwnd_min %d above cwnd_max %d", p.CwndMin, p.CwndMax)
	}
	if p.CwndInit < p.CwndMin || p.CwndInit > p.CwndMax {
		return fmt.Errorf("congestion: cwnd_init %d outside [%d, %d]", p.CwndInit, p.CwndMin, p.CwndMax)
	}
	if p.CwndIncRate == 0 {
		return fmt.Errorf("congestion: cwnd_inc_rate is zero")
	}
	return nil
}

// Params are the complete consensus-sourced congestion control
// parameters for one circuit.  They are immutable once negotiated.
type Params struct {
	// Alg selects the active algorithm.
	Alg AlgorithmType

	// FixedWindow is used when Alg is AlgorithmFixedWindow.
	FixedWindow FixedWindowParams

	// Vegas is used when Alg is AlgorithmVegas.
	Vegas VegasParams

	// RTT controls the round trip estimator.
	RTT RoundTripEstimatorParams

	// Window holds the algorithm-independent window parameters.
	Window WindowParams
}

// NewParams validates the provided parameter values, rejecting
// out-of-range consensus input at the boundary rather than deep inside
// the algorithms.
func NewParams(p Params) (*Params, error) {
	switch p.Alg {
	case AlgorithmFixedWindow:
		if err := p.FixedWindow.validate(); err != nil {
			return nil, err
		}
	case AlgorithmVegas:
		if err := p.Vegas.validate(); err != nil {
			return nil, err
		}
		if err := p.Window.validate(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("congestion: unsupported algorithm %v", p.Alg)
	}
	if err := p.RTT.validate(); err != nil {
		return nil, err
	}
	out := p
	return &out, nil
}

// SendmeInc returns the number of cells one SENDME acknowledges under
// these parameters, regardless of the active algorithm.
func (p *Params) SendmeInc() uint32 {
	if p.Window.SendmeInc != 0 {
		return p.Window.SendmeInc
	}
	// Historical fixed window value.
	return 100
}

// DefaultParams returns parameters mirroring current consensus defaults,
// for use when the directory layer has not yet supplied a document.
func DefaultParams() *Params {
	p, err := NewParams(Params{
		Alg: AlgorithmVegas,
		FixedWindow: FixedWindowParams{
			CircWindowStart: 1000,
			CircWindowMin:   100,
			CircWindowMax:   1000,
		},
		Vegas: VegasParams{
			Queue: VegasQueueParams{
				Alpha:     3 * 31,
				Beta:      4 * 31,
				Delta:     5 * 31,
				Gamma:     3 * 31,
				SSCwndCap: 500,
			},
			SSCwndMax: 5000,
		},
		RTT: RoundTripEstimatorParams{
			EwmaCwndPct: 50,
			EwmaMax:     10,
			EwmaSSMax:   2,
			RTTResetPct: 100,
		},
		Window: WindowParams{
			CwndInit:     124,
			CwndIncPctSS: 100,
			CwndInc:      31,
			CwndIncRate:  1,
			CwndMin:      124,
			CwndMax:      10000,
			SendmeInc:    31,
		},
	})
	if err != nil {
		panic("BUG: default congestion parameters failed validation: " + err.Error())
	}
	return p
}
