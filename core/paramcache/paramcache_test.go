// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package paramcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/congestion"
)

func testDoc(epoch uint64) *congestion.ParamsDocument {
	return &congestion.ParamsDocument{
		Epoch:            epoch,
		CCAlg:            int32(congestion.AlgorithmVegas),
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
}

func TestCacheRoundTrip(t *testing.T) {
	require := require.New(t)

	c, err := New(filepath.Join(t.TempDir(), "params.db"))
	require.NoError(err)
	defer c.Close()

	_, err = c.Get(7)
	require.ErrorIs(err, ErrNotFound)
	_, err = c.Latest()
	require.ErrorIs(err, ErrNotFound)

	require.NoError(c.Store(testDoc(7)))
	require.NoError(c.Store(testDoc(9)))

	doc, err := c.Get(7)
	require.NoError(err)
	require.Equal(testDoc(7), doc)

	latest, err := c.Latest()
	require.NoError(err)
	require.Equal(uint64(9), latest.Epoch)

	// The cached document must validate into usable parameters.
	params, err := latest.Validate()
	require.NoError(err)
	require.Equal(congestion.AlgorithmVegas, params.Alg)
}

func TestCachePersists(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "params.db")
	c, err := New(f)
	require.NoError(err)
	require.NoError(c.Store(testDoc(3)))
	c.Close()

	c, err = New(f)
	require.NoError(err)
	defer c.Close()
	doc, err := c.Get(3)
	require.NoError(err)
	require.Equal(uint64(3), doc.Epoch)
}
