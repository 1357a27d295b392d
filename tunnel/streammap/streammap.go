// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package streammap tracks the open streams multiplexed onto one hop of a
// circuit.  It is a pure lookup/lifecycle ledger: the decision of when a
// stream is done belongs to the reactor, not to the map.
package streammap

import (
	"errors"

	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/relay"
)

var (
	// ErrIDInUse is returned by BeginStream when the stream id is
	// already present.  The existing entry is left untouched.
	ErrIDInUse = errors.New("streammap: stream id already in use")

	// ErrNotFound is returned when no entry exists for a stream id.
	ErrNotFound = errors.New("streammap: no such stream")

	// ErrMapFull is returned when every non-zero stream id is in use.
	ErrMapFull = errors.New("streammap: all stream ids in use")
)

// State is the lifecycle state of a stream entry.
type State int

// Stream lifecycle states.
const (
	// StateOpen is a fully established stream.
	StateOpen State = iota

	// StateEndSent means we sent END and await the peer's END.
	StateEndSent

	// StateEndReceived means the peer sent END but local handles still
	// reference the stream.
	StateEndReceived
)

// Entry is the per-stream record owned by the map.
type Entry struct {
	// ID is the stream's identifier within its hop.
	ID relay.StreamID

	// Hop is the index of the hop terminating this stream.
	Hop int

	// State is the entry's lifecycle state.
	State State

	// Deliver is the bounded channel carrying inbound events toward the
	// stream's reader.
	Deliver chan<- interface{}
}

// Map is the stream table for one hop.  It is not safe for concurrent
// use; the owning reactor goroutine is the only caller.
type Map struct {
	entries map[relay.StreamID]*Entry
	nextID  relay.StreamID
}

// New creates an empty Map.
func New() *Map {
	return &Map{
		entries: make(map[relay.StreamID]*Entry),
		nextID:  1,
	}
}

// BeginStream inserts the entry under the given id.  Ids must be unique
// within a hop at any instant; inserting a duplicate fails without
// mutating existing state.
func (m *Map) BeginStream(id relay.StreamID, e *Entry) error {
	if id == 0 {
		return ErrNotFound
	}
	if _, ok := m.entries[id]; ok {
		return ErrIDInUse
	}
	e.ID = id
	m.entries[id] = e
	return nil
}

// AllocateID returns an unused non-zero stream id, advancing cyclically
// so recently ended ids are not reused immediately.
func (m *Map) AllocateID() (relay.StreamID, error) {
	for i := 0; i < 65535; i++ {
		id := m.nextID
		m.nextID++
		if m.nextID == 0 {
			m.nextID = 1
		}
		if id == 0 {
			continue
		}
		if _, ok := m.entries[id]; !ok {
			return id, nil
		}
	}
	return 0, ErrMapFull
}

// Lookup returns the entry for the given id.
func (m *Map) Lookup(id relay.StreamID) (*Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// EndStream removes and returns the entry for the given id.  After
// removal the id may be reused.
func (m *Map) EndStream(id relay.StreamID) (*Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.entries, id)
	return e, nil
}

// ForEachOpen invokes fn for every entry in the map, for circuit-wide
// operations such as broadcasting a teardown error.  fn must not mutate
// the map.
func (m *Map) ForEachOpen(fn func(*Entry)) {
	for _, e := range m.entries {
		fn(e)
	}
}

// Len returns the number of live entries.
func (m *Map) Len() int {
	return len(m.entries)
}
