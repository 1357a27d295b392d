// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import (
	"context"
	"sync"

	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/relay"
)

// Event is one inbound stream event, delivered on the stream's receive
// channel.  Concrete types are *DataEvent, *EndEvent and *ErrorEvent.
// An EndEvent or ErrorEvent is terminal: nothing follows it, and the
// reactor delivers at most one terminal event per stream.
type Event = interface{}

// DataEvent carries one chunk of stream payload.
type DataEvent struct {
	Payload []byte
}

// EndEvent signals an orderly remote close.
type EndEvent struct {
	Reason relay.EndReason
}

// ErrorEvent signals abnormal stream termination, including circuit
// teardown (ErrCircuitClosed).
type ErrorEvent struct {
	Err error
}

// streamSend is one outbound chunk queued from a stream handle toward
// the reactor.
type streamSend struct {
	id      relay.StreamID
	payload []byte
}

// Stream is the application-facing handle for one multiplexed stream.
// It communicates with the reactor only via bounded channels; it never
// touches reactor-owned state directly.
type Stream struct {
	t   *Tunnel
	id  relay.StreamID
	hop int

	events chan Event

	closeOnce sync.Once
	closedCh  chan interface{}
}

// ID returns the stream's identifier within its hop.
func (s *Stream) ID() relay.StreamID {
	return s.id
}

// Recv returns the channel yielding inbound events.  The reactor stops
// sending after a terminal event; the channel is never closed, so
// receivers must treat EndEvent/ErrorEvent as final.
func (s *Stream) Recv() <-chan Event {
	return s.events
}

// Send queues b for transmission, splitting it into relay cell sized
// chunks.  It blocks when the outbound channel is full, which is how
// congestion backpressure reaches the caller.
func (s *Stream) Send(ctx context.Context, b []byte) error {
	select {
	case <-s.closedCh:
		return ErrStreamClosed
	default:
	}
	for len(b) > 0 {
		n := len(b)
		if n > relay.MaxBodyLen {
			n = relay.MaxBodyLen
		}
		chunk := make([]byte, n)
		copy(chunk, b[:n])
		b = b[n:]

		select {
		case s.t.dataCh <- &streamSend{id: s.id, payload: chunk}:
		case <-s.closedCh:
			return ErrStreamClosed
		case <-s.t.HaltCh():
			return ErrCircuitClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close releases the handle.  The reactor emits END on the stream's
// behalf; a second Close is a no-op.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closedCh)
		replyCh := make(chan error, 1)
		select {
		case s.t.opCh <- &opCloseStream{id: s.id, replyCh: replyCh}:
		case <-s.t.HaltCh():
			err = ErrCircuitClosed
			return
		}
		select {
		case err = <-replyCh:
		case <-s.t.HaltCh():
			err = ErrCircuitClosed
		}
	})
	return err
}
