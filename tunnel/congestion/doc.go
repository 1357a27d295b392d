// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package congestion

import (
	"github.com/fxamacker/cbor/v2"
)

// ParamsDocument is the consensus congestion control snapshot as
// delivered by the directory layer.  Field names mirror the consensus
// parameter names; the document is transported and cached as CBOR.
type ParamsDocument struct {
	Epoch uint64 `cbor:"epoch"`

	CCAlg int32 `cbor:"cc_alg"`

	// Fixed window world.
	CircWindow    uint16 `cbor:"circwindow"`
	CircWindowMin uint16 `cbor:"circwindow_min"`
	CircWindowMax uint16 `cbor:"circwindow_max"`

	// Vegas queue thresholds.
	CCVegasAlpha     uint32 `cbor:"cc_vegas_alpha"`
	CCVegasBeta      uint32 `cbor:"cc_vegas_beta"`
	CCVegasDelta     uint32 `cbor:"cc_vegas_delta"`
	CCVegasGamma     uint32 `cbor:"cc_vegas_gamma"`
	CCSSCapPathtype  uint32 `cbor:"cc_sscap_pathtype"`
	CCVegasSSCwndMax uint32 `cbor:"cc_ss_max"`

	// RTT estimation.
	CCEwmaCwndPct uint32 `cbor:"cc_ewma_cwnd_pct"`
	CCEwmaMax     uint32 `cbor:"cc_ewma_max"`
	CCEwmaSSMax   uint32 `cbor:"cc_ewma_ss"`
	CCRTTResetPct uint32 `cbor:"cc_rtt_reset_pct"`

	// Window parameters.
	CCCwndInit     uint32 `cbor:"cc_cwnd_init"`
	CCCwndIncPctSS uint32 `cbor:"cc_cwnd_inc_pct_ss"`
	CCCwndInc      uint32 `cbor:"cc_cwnd_inc"`
	CCCwndIncRate  uint32 `cbor:"cc_cwnd_inc_rate"`
	CCCwndMin      uint32 `cbor:"cc_cwnd_min"`
	CCCwndMax      uint32 `cbor:"cc_cwnd_max"`
	CCSendmeInc    uint32 `cbor:"cc_sendme_inc"`
}

// Marshal serializes the document.
func (d *ParamsDocument) Marshal() ([]byte, error) {
	return cbor.Marshal(d)
}

// UnmarshalParamsDocument parses a serialized document.
func UnmarshalParamsDocument(b []byte) (*ParamsDocument, error) {
	d := new(ParamsDocument)
	if err := cbor.Unmarshal(b, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate converts the raw document into validated immutable Params.
func (d *ParamsDocument) Validate() (*Params, error) {
	return NewParams(Params{
		Alg: AlgorithmType(d.CCAlg),
		FixedWindow: FixedWindowParams{
			CircWindowStart: d.CircWindow,
			CircWindowMin:   d.CircWindowMin,
			CircWindowMax:   d.CircWindowMax,
		},
		Vegas: VegasParams{
			Queue: VegasQueueParams{
				Alpha:     d.CCVegasAlpha,
				Beta:      d.CCVegasBeta,
				Delta:     d.CCVegasDelta,
				Gamma:     d.CCVegasGamma,
				SSCwndCap: d.CCSSCapPathtype,
			},
			SSCwndMax: d.CCVegasSSCwndMax,
		},
		RTT: RoundTripEstimatorParams{
			EwmaCwndPct: Pct(d.CCEwmaCwndPct),
			EwmaMax:     d.CCEwmaMax,
			EwmaSSMax:   d.CCEwmaSSMax,
			RTTResetPct: Pct(d.CCRTTResetPct),
		},
		Window: WindowParams{
			CwndInit:     d.CCCwndInit,
			CwndIncPctSS: Pct(d.CCCwndIncPctSS),
			CwndInc:      d.CCCwndInc,
			CwndIncRate:  d.CCCwndIncRate,
			CwndMin:      d.CCCwndMin,
			CwndMax:      d.CCCwndMax,
			SendmeInc:    d.CCSendmeInc,
		},
	})
}
