// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"net"

	"gopkg.in/op/go-logging.v1"

	"github.com/s7g4/arti-hs-keymgmt-sub001/core/log"
	"github.com/s7g4/arti-hs-keymgmt-sub001/core/worker"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/cell"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/hopcrypto"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/relay"
	"github.com/s7g4/arti-hs-keymgmt-sub001/transport"
)

// echoRelay is a single hop loopback relay: it accepts one leg at a
// time, confirms stream opens and echoes stream data back.  It exists
// so the demo binary has something protocol-correct to talk to.
type echoRelay struct {
	worker.Worker

	log      *logging.Logger
	listener net.Listener
	key      []byte
	version  uint16
}

func newEchoRelay(logBackend *log.Backend, key []byte, version uint16) (*echoRelay, error) {
	listener, err := transport.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	r := &echoRelay{
		log:      logBackend.GetLogger("echo-relay"),
		listener: listener,
		key:      key,
		version:  version,
	}
	r.Go(r.acceptLoop)
	return r, nil
}

func (r *echoRelay) Addr() net.Addr {
	return r.listener.Addr()
}

func (r *echoRelay) Halt() {
	_ = r.listener.Close()
	r.Worker.Halt()
}

func (r *echoRelay) acceptLoop() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			return
		}
		r.Go(func() { r.serve(conn) })
	}
}

func (r *echoRelay) serve(conn net.Conn) {
	defer conn.Close()

	ch, err := tunnel.NewConnChannel(conn, r.version)
	if err != nil {
		r.log.Errorf("channel setup: %v", err)
		return
	}
	cr, err := hopcrypto.NewChaChaCryptorPeer(r.key)
	if err != nil {
		r.log.Errorf("cryptor setup: %v", err)
		return
	}

	send := func(circID uint32, outer *relay.MsgOuter) bool {
		payload, err := outer.Encode()
		if err != nil {
			r.log.Errorf("encode: %v", err)
			return false
		}
		if err = cr.EncryptOutbound(payload); err != nil {
			r.log.Errorf("encrypt: %v", err)
			return false
		}
		cl := &cell.Cell{CircID: circID, Command: cell.Relay, Payload: payload}
		if err = ch.SendCell(cl); err != nil {
			r.log.Debugf("send: %v", err)
			return false
		}
		return true
	}

	for {
		cl, err := ch.RecvCell()
		if err != nil {
			r.log.Debugf("recv: %v", err)
			return
		}
		if cl.Command != cell.Relay && cl.Command != cell.RelayEarly {
			continue
		}
		recognized, err := cr.DecryptInbound(cl.Payload)
		if err != nil || !recognized {
			r.log.Warningf("unrecognized cell, dropping leg")
			return
		}
		outer, err := relay.DecodeMsgOuter(cl.Payload)
		if err != nil {
			r.log.Warningf("decode: %v", err)
			return
		}

		switch msg := outer.Msg.(type) {
		case *relay.BeginMsg:
			r.log.Debugf("stream %d open to %s:%d", outer.StreamID, msg.Addr, msg.Port)
			if !send(cl.CircID, &relay.MsgOuter{StreamID: outer.StreamID, Msg: &relay.ConnectedMsg{}}) {
				return
			}
		case *relay.DataMsg:
			if !send(cl.CircID, &relay.MsgOuter{StreamID: outer.StreamID, Msg: msg}) {
				return
			}
		case *relay.EndMsg:
			if !send(cl.CircID, &relay.MsgOuter{StreamID: outer.StreamID, Msg: &relay.EndMsg{Reason: relay.EndReasonDone}}) {
				return
			}
		case *relay.SendmeMsg:
			// The demo exchange never fills a window.
		case *relay.LinkMsg:
			linked := &relay.LinkedMsg{Payload: msg.Payload}
			if !send(cl.CircID, &relay.MsgOuter{Msg: linked}) {
				return
			}
		case *relay.LinkedAckMsg:
		default:
			r.log.Debugf("ignoring %v", outer.Msg.Cmd())
		}
	}
}
