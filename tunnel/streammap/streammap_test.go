// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package streammap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/relay"
)

func TestBeginStreamUniqueness(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	m := New()
	first := &Entry{Hop: 2}
	require.NoError(m.BeginStream(7, first))

	// Duplicate insert fails and leaves the existing entry untouched.
	err := m.BeginStream(7, &Entry{Hop: 1})
	require.ErrorIs(err, ErrIDInUse)

	e, err := m.Lookup(7)
	require.NoError(err)
	require.Same(first, e)
	require.Equal(2, e.Hop)

	// Id zero is never valid.
	require.Error(m.BeginStream(0, &Entry{}))
}

func TestEndStream(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	m := New()
	require.NoError(m.BeginStream(3, &Entry{}))

	e, err := m.EndStream(3)
	require.NoError(err)
	require.Equal(relay.StreamID(3), e.ID)

	_, err = m.EndStream(3)
	require.ErrorIs(err, ErrNotFound)
	_, err = m.Lookup(3)
	require.ErrorIs(err, ErrNotFound)

	// Reuse of an ended id is permitted after removal.
	require.NoError(m.BeginStream(3, &Entry{}))
}

func TestAllocateID(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	m := New()
	id1, err := m.AllocateID()
	require.NoError(err)
	require.NoError(m.BeginStream(id1, &Entry{}))

	id2, err := m.AllocateID()
	require.NoError(err)
	require.NotEqual(id1, id2)
	require.NotZero(id2)
}

func TestForEachOpen(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	m := New()
	require.NoError(m.BeginStream(1, &Entry{}))
	require.NoError(m.BeginStream(2, &Entry{}))
	require.NoError(m.BeginStream(3, &Entry{}))

	seen := make(map[relay.StreamID]bool)
	m.ForEachOpen(func(e *Entry) {
		seen[e.ID] = true
	})
	require.Len(seen, 3)
	require.Equal(3, m.Len())
}
