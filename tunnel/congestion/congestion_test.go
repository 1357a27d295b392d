// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedTestParams(t *testing.T) *Params {
	p, err := NewParams(Params{
		Alg: AlgorithmFixedWindow,
		FixedWindow: FixedWindowParams{
			CircWindowStart: 1000,
			CircWindowMin:   100,
			CircWindowMax:   1000,
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
			CwndMin:      100,
			CwndMax:      1000,
			SendmeInc:    100,
		},
	})
	require.NoError(t, err)
	return p
}

func TestFixedWindowExhaustion(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cc := New(fixedTestParams(t))
	require.Equal(AlgorithmFixedWindow, cc.Algorithm())
	require.False(cc.InSlowStart())

	now := time.Unix(1000, 0)
	for i := 0; i < 1000; i++ {
		require.True(cc.CanSend(), "cell %d", i)
		require.NoError(cc.OnCellSent(now))
		now = now.Add(time.Millisecond)
	}
	// Window exhausted: no SENDME received yet.
	require.False(cc.CanSend())
	require.Equal(uint32(1000), cc.Inflight())

	// One SENDME for 100 cells opens exactly 100 more slots.
	require.NoError(cc.OnSendmeReceived(now))
	require.True(cc.CanSend())
	for i := 0; i < 100; i++ {
		require.True(cc.CanSend(), "post-SENDME cell %d", i)
		require.NoError(cc.OnCellSent(now))
	}
	require.False(cc.CanSend())
}

func TestFixedWindowInvariants(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	p := fixedTestParams(t)
	cc := New(p)
	now := time.Unix(1000, 0)

	// Arbitrary interleaving of sends and acks never violates the
	// window invariants.
	for round := 0; round < 50; round++ {
		for cc.CanSend() {
			require.NoError(cc.OnCellSent(now))
			require.LessOrEqual(cc.Inflight(), cc.Window())
			now = now.Add(100 * time.Microsecond)
		}
		require.NoError(cc.OnSendmeReceived(now))
		require.LessOrEqual(cc.Window(), uint32(p.FixedWindow.CircWindowMax))
		require.GreaterOrEqual(cc.Window(), uint32(p.FixedWindow.CircWindowMin))
		now = now.Add(10 * time.Millisecond)
	}
}

func TestFixedWindowSpuriousSendme(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cc := New(fixedTestParams(t))
	// No data in flight: a SENDME is a protocol violation.
	require.ErrorIs(cc.OnSendmeReceived(time.Unix(1000, 0)), ErrSendmeUnexpected)
}

func vegasTestParams(t *testing.T) *Params {
	p := DefaultParams()
	require.Equal(t, AlgorithmVegas, p.Alg)
	return p
}

// runWindow sends until the window is full, then acknowledges everything
// with the given per-ack RTT.
func runWindow(t *testing.T, cc Control, now *time.Time, rtt time.Duration) {
	require := require.New(t)
	sent := uint32(0)
	for cc.CanSend() {
		require.NoError(cc.OnCellSent(*now))
		sent++
	}
	require.Equal(cc.Window(), cc.Inflight())
	*now = now.Add(rtt)
	for cc.Inflight() >= cc.SendmeInc() {
		require.NoError(cc.OnSendmeReceived(*now))
		// The window may shrink below the in-flight count; what must
		// hold is that sending is refused until it drains.
		if cc.Inflight() >= cc.Window() {
			require.False(cc.CanSend())
		}
	}
}

func TestVegasSlowStartGrowth(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	p := vegasTestParams(t)
	cc := New(p)
	require.True(cc.InSlowStart())
	initial := cc.Window()

	now := time.Unix(1000, 0)
	// With a constant RTT there is no queue estimate, so slow start
	// keeps growing the window.
	runWindow(t, cc, &now, 100*time.Millisecond)
	runWindow(t, cc, &now, 100*time.Millisecond)
	require.Greater(cc.Window(), initial)
	require.LessOrEqual(cc.Window(), p.Vegas.SSCwndMax)
}

func TestVegasSlowStartExit(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	p := vegasTestParams(t)
	cc := New(p)
	now := time.Unix(1000, 0)

	// Constant-RTT warmup.
	runWindow(t, cc, &now, 100*time.Millisecond)
	// A sharply growing RTT signals queueing; the algorithm must leave
	// slow start rather than keep doubling.
	rtt := 100 * time.Millisecond
	for i := 0; i < 30 && cc.InSlowStart(); i++ {
		rtt += 200 * time.Millisecond
		runWindow(t, cc, &now, rtt)
	}
	require.False(cc.InSlowStart())
	require.GreaterOrEqual(cc.Window(), p.Window.CwndMin)
	require.LessOrEqual(cc.Window(), p.Window.CwndMax)
}

func TestVegasWindowInvariants(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	p := vegasTestParams(t)
	cc := New(p)
	now := time.Unix(1000, 0)

	rtts := []time.Duration{
		100 * time.Millisecond,
		150 * time.Millisecond,
		400 * time.Millisecond,
		900 * time.Millisecond,
		100 * time.Millisecond,
		2 * time.Second,
		50 * time.Millisecond,
	}
	for round := 0; round < 40; round++ {
		runWindow(t, cc, &now, rtts[round%len(rtts)])
		require.GreaterOrEqual(cc.Window(), p.Window.CwndMin, "round %d", round)
		require.LessOrEqual(cc.Window(), p.Window.CwndMax, "round %d", round)
		require.LessOrEqual(cc.Inflight(), cc.Window(), "round %d", round)
	}
}

func TestParamsValidation(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	// cwnd_min below sendme_inc.
	p := *DefaultParams()
	p.Window.CwndMin = 1
	_, err := NewParams(p)
	require.Error(err)

	// cwnd_init outside bounds.
	p = *DefaultParams()
	p.Window.CwndInit = p.Window.CwndMax + 1
	_, err = NewParams(p)
	require.Error(err)

	// Inverted fixed window bounds.
	p = *DefaultParams()
	p.Alg = AlgorithmFixedWindow
	p.FixedWindow = FixedWindowParams{CircWindowStart: 10, CircWindowMin: 500, CircWindowMax: 100}
	_, err = NewParams(p)
	require.Error(err)

	// Unknown algorithm numeric value.
	p = *DefaultParams()
	p.Alg = AlgorithmType(7)
	_, err = NewParams(p)
	require.Error(err)
}

func TestParamsDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	doc := &ParamsDocument{
		Epoch:            42,
		CCAlg:            int32(AlgorithmVegas),
		CCVegasAlpha:     93,
		CCVegasBeta:      124,
		CCVegasDelta:     155,
		CCVegasGamma:     93,
		CCSSCapPathtype:  500,
		CCVegasSSCwndMax: 5000,
		CCEwmaCwndPct:    50,
		CCEwmaMax:        10,
		CCEwmaSSMax:      2,
		CCRTTResetPct:    100,
		CCCwndInit:       124,
		CCCwndIncPctSS:   100,
		CCCwndInc:        31,
		CCCwndIncRate:    1,
		CCCwndMin:        124,
		CCCwndMax:        10000,
		CCSendmeInc:      31,
	}
	b, err := doc.Marshal()
	require.NoError(err)

	out, err := UnmarshalParamsDocument(b)
	require.NoError(err)
	require.Equal(doc, out)

	params, err := out.Validate()
	require.NoError(err)
	require.Equal(AlgorithmVegas, params.Alg)
	require.Equal(uint32(31), params.Window.SendmeInc)
}

func TestRecvWindow(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	w := NewRecvWindow(3)
	require.False(w.NoteDataReceived())
	require.False(w.NoteDataReceived())
	require.True(w.NoteDataReceived())
	require.False(w.NoteDataReceived())
}

func TestRTTEstimator(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	params := &RoundTripEstimatorParams{
		EwmaCwndPct: 100,
		EwmaMax:     4,
		EwmaSSMax:   2,
		RTTResetPct: 50,
	}
	r := newRTTEstimator(params)
	require.False(r.ackExpected())
	require.ErrorIs(r.onAck(time.Unix(0, 0), 100, 10, false), ErrNoAckExpected)

	base := time.Unix(1000, 0)
	r.expectAck(base)
	require.NoError(r.onAck(base.Add(100*time.Millisecond), 100, 10, false))
	require.Equal(100*time.Millisecond, r.ewma)
	require.Equal(100*time.Millisecond, r.min)

	// Second sample of 200ms with N=4: (200*2 + 100*3)/5 = 140ms.
	r.expectAck(base)
	require.NoError(r.onAck(base.Add(200*time.Millisecond), 100, 10, false))
	require.Equal(140*time.Millisecond, r.ewma)
	require.Equal(100*time.Millisecond, r.min)

	// Reset drifts min halfway toward the EWMA.
	r.resetMin()
	require.Equal(120*time.Millisecond, r.min)
}
