// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import (
	"github.com/s7g4/arti-hs-keymgmt-sub001/core/queue"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/relay"
)

// confluxSet tracks the tunnel-wide conflux sequencing state: the
// absolute sequence numbers assigned to outbound and inbound data cells
// and the bounded reorder buffer that restores delivery order across
// legs.  Owned by the reactor goroutine.
type confluxSet struct {
	nonce relay.LinkNonce
	ux    relay.DesiredUX

	// sendSeq is the absolute sequence number of the last data cell
	// sent on any leg; deliverSeq is the absolute sequence number of
	// the next data cell to hand to its stream.
	sendSeq    uint64
	deliverSeq uint64

	reorder  *queue.PriorityQueue
	capacity int
}

func newConfluxSet(capacity int) *confluxSet {
	return &confluxSet{
		ux:         relay.UXNoOpinion,
		deliverSeq: 1,
		reorder:    queue.New(),
		capacity:   capacity,
	}
}

// nextSendSeq allocates the absolute sequence number for one outbound
// data cell.
func (c *confluxSet) nextSendSeq() uint64 {
	c.sendSeq++
	return c.sendSeq
}

// accept folds one inbound data cell with the given absolute sequence
// number into the delivery order.  It returns the run of messages that
// became deliverable, in sequence order; an empty return means the cell
// was buffered behind a gap.
func (c *confluxSet) accept(seq uint64, m *relay.MsgOuter) ([]*relay.MsgOuter, error) {
	if seq < c.deliverSeq {
		return nil, ErrStaleSequence
	}
	if seq != c.deliverSeq {
		if c.reorder.Len() >= c.capacity {
			return nil, ErrReorderOverflow
		}
		c.reorder.Enqueue(seq, m)
		reorderedCells.Inc()
		return nil, nil
	}

	out := []*relay.MsgOuter{m}
	c.deliverSeq++
	for {
		head := c.reorder.Peek()
		if head == nil {
			break
		}
		if head.Priority < c.deliverSeq {
			// The same sequence number arrived twice.
			return nil, &InternalBugError{Msg: "duplicate conflux sequence number"}
		}
		if head.Priority != c.deliverSeq {
			break
		}
		e := c.reorder.Dequeue()
		out = append(out, e.Value.(*relay.MsgOuter))
		c.deliverSeq++
	}
	return out, nil
}

// blocked reports whether buffered cells are stalled behind a sequence
// gap.
func (c *confluxSet) blocked() bool {
	return c.reorder.Len() > 0
}

// flush drains everything buffered regardless of gaps, in sequence
// order, and advances deliverSeq past the highest buffered number.  It
// is used when a leg dies with cells it will never deliver: the gap can
// no longer close, so the surviving data is handed over as-is.
func (c *confluxSet) flush() []*relay.MsgOuter {
	var out []*relay.MsgOuter
	for c.reorder.Len() > 0 {
		e := c.reorder.Dequeue()
		out = append(out, e.Value.(*relay.MsgOuter))
		if e.Priority >= c.deliverSeq {
			c.deliverSeq = e.Priority + 1
		}
	}
	return out
}
