// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package tunnel

import (
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/cell"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/congestion"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/hopcrypto"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/relay"
)

// hopState is the per-hop, per-leg mutable state: the onion crypto for
// that hop and its congestion bookkeeping.  Owned by the reactor
// goroutine.
type hopState struct {
	cryptor hopcrypto.Cryptor
	cc      congestion.Control
	recvWin *congestion.RecvWindow
}

// Leg is one physical circuit participating in a tunnel.  All fields
// are owned by the reactor goroutine; the only exception is ch, whose
// RecvCell side is driven by the leg's dedicated reader.
type Leg struct {
	id     uint64
	circID uint32
	ch     Channel
	hops   []*hopState

	// linked is set once the conflux LINK handshake completed on this
	// leg.
	linked bool

	// sendSeq is the tunnel-absolute sequence number of the last data
	// cell sent on this leg; recvSeq is the absolute sequence number
	// the next inbound data cell on this leg will be assigned.
	sendSeq uint64
	recvSeq uint64
}

func newLeg(id uint64, circID uint32, ch Channel, cryptors []hopcrypto.Cryptor, params *congestion.Params) *Leg {
	hops := make([]*hopState, 0, len(cryptors))
	for _, cr := range cryptors {
		hops = append(hops, &hopState{
			cryptor: cr,
			cc:      congestion.New(params),
			recvWin: congestion.NewRecvWindow(params.SendmeInc()),
		})
	}
	return &Leg{
		id:      id,
		circID:  circID,
		ch:      ch,
		hops:    hops,
		recvSeq: 1,
	}
}

// ID returns the tunnel-assigned leg identifier.
func (l *Leg) ID() uint64 {
	return l.id
}

// exitHop is the index of the final hop, where streams terminate.
func (l *Leg) exitHop() int {
	return len(l.hops) - 1
}

// sendMsg encodes the relay message, applies the onion layers for every
// hop up to and including the target hop, and writes the cell.
func (l *Leg) sendMsg(hop int, outer *relay.MsgOuter) error {
	payload, err := outer.Encode()
	if err != nil {
		return err
	}
	for i := hop; i >= 0; i-- {
		if err := l.hops[i].cryptor.EncryptOutbound(payload); err != nil {
			return err
		}
	}
	return l.ch.SendCell(&cell.Cell{
		CircID:  l.circID,
		Command: cell.Relay,
		Payload: payload,
	})
}

// decryptInbound peels onion layers until some hop recognizes the
// payload, returning that hop's index.  Failure to recognize at any hop
// is fatal to the leg.
func (l *Leg) decryptInbound(payload []byte) (int, error) {
	for i, h := range l.hops {
		recognized, err := h.cryptor.DecryptInbound(payload)
		if err != nil {
			return 0, err
		}
		if recognized {
			return i, nil
		}
	}
	return 0, &hopcrypto.DecryptError{Hop: l.exitHop()}
}
