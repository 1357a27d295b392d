// SPDX-FileCopyrightText: © 2026 The tunneld authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package tunnel implements the client side circuit tunnel reactor: a
// single goroutine owning all mutable state for one logical tunnel (one
// or more physical circuit legs under conflux), fed exclusively through
// channels by leg readers and stream handles.
package tunnel

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/s7g4/arti-hs-keymgmt-sub001/core/log"
	"github.com/s7g4/arti-hs-keymgmt-sub001/core/worker"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/cell"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/congestion"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/hopcrypto"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/relay"
	"github.com/s7g4/arti-hs-keymgmt-sub001/tunnel/streammap"
)

const (
	defaultReorderCapacity = 128
	defaultGapTimeout      = 10 * time.Second
	defaultDrainTimeout    = 5 * time.Second
	defaultEventBuffer     = 64

	// maxPendingSends bounds the data the reactor holds while the
	// congestion window is closed; beyond it the shared data channel is
	// left undrained and senders block.
	maxPendingSends = 64

	dataChCapacity    = 16
	opChCapacity      = 8
	inboundChCapacity = 16
)

// State is the tunnel lifecycle state.
type State int32

// Tunnel lifecycle states.
const (
	// StateBuilding means no leg is usable yet.
	StateBuilding State = iota

	// StateOpen means at least one leg is ready.
	StateOpen

	// StateDraining means teardown was requested and pending sends are
	// being flushed.
	StateDraining

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "Building"
	case StateOpen:
		return "Open"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return "Invalid"
	}
}

// Config holds the immutable inputs of one tunnel.
type Config struct {
	// LogBackend is the logging backend, or nil to disable logging.
	LogBackend *log.Backend

	// Params are the validated consensus congestion control parameters
	// for this tunnel's circuits.
	Params *congestion.Params

	// ReorderCapacity bounds the conflux reorder buffer, in cells.
	ReorderCapacity int

	// GapTimeout bounds how long delivery may stall behind a sequence
	// gap before the stalled leg is declared failed.
	GapTimeout time.Duration

	// DrainTimeout bounds the flush on close.
	DrainTimeout time.Duration

	// EventBuffer is the per-stream inbound event channel capacity.
	EventBuffer int
}

func (c *Config) applyDefaults() error {
	if c.Params == nil {
		c.Params = congestion.DefaultParams()
	}
	if c.ReorderCapacity <= 0 {
		c.ReorderCapacity = defaultReorderCapacity
	}
	if c.GapTimeout <= 0 {
		c.GapTimeout = defaultGapTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.LogBackend == nil {
		b, err := log.New("", "NOTICE", true)
		if err != nil {
			return err
		}
		c.LogBackend = b
	}
	return nil
}

// legInbound is one reader-to-reactor handoff: a cell or the error that
// killed the leg's channel.
type legInbound struct {
	leg *Leg
	c   *cell.Cell
	err error
}

type pendingOpen struct {
	stream  *Stream
	replyCh chan interface{}
}

// Control operations, issued by external callers and serviced by the
// reactor goroutine.
type opAddLeg struct {
	ch       Channel
	cryptors []hopcrypto.Cryptor
	replyCh  chan interface{}
}

type opLinkLeg struct {
	legID   uint64
	replyCh chan error
}

type opSwitchLeg struct {
	legID   uint64
	replyCh chan error
}

type opOpenStream struct {
	addr    string
	port    uint16
	replyCh chan interface{}
}

type opCloseStream struct {
	id      relay.StreamID
	replyCh chan error
}

type opShutdown struct {
	replyCh chan error
}

// Tunnel is one logical multiplexed transport over one or more circuit
// legs.  All mutable state below the channels is owned by the reactor
// goroutine.
type Tunnel struct {
	worker.Worker

	cfg *Config
	log *logging.Logger

	opCh      chan interface{}
	dataCh    chan *streamSend
	inboundCh chan *legInbound

	haltOnce    sync.Once
	stateMirror atomic.Int32

	// Reactor-owned state.
	state     State
	legs      map[uint64]*Leg
	nextLegID uint64
	numHops   int
	active    *Leg
	cflx      *confluxSet
	smaps     []*streammap.Map

	pendingOpens map[relay.StreamID]*pendingOpen
	pendingLinks map[uint64]chan error
	pendingSends []*streamSend

	gapDeadline   time.Time
	drainDeadline time.Time
}

// New creates a tunnel in the Building state and starts its reactor.
func New(cfg *Config) (*Tunnel, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	t := &Tunnel{
		cfg:          cfg,
		log:          cfg.LogBackend.GetLogger("tunnel/reactor"),
		opCh:         make(chan interface{}, opChCapacity),
		dataCh:       make(chan *streamSend, dataChCapacity),
		inboundCh:    make(chan *legInbound, inboundChCapacity),
		state:        StateBuilding,
		legs:         make(map[uint64]*Leg),
		cflx:         newConfluxSet(cfg.ReorderCapacity),
		pendingOpens: make(map[relay.StreamID]*pendingOpen),
		pendingLinks: make(map[uint64]chan error),
	}
	t.Go(t.reactor)
	return t, nil
}

// State returns the tunnel's lifecycle state.
func (t *Tunnel) State() State {
	return State(t.stateMirror.Load())
}

func (t *Tunnel) setState(s State) {
	if t.state == s {
		return
	}
	t.log.Debugf("state %v -> %v", t.state, s)
	t.state = s
	t.stateMirror.Store(int32(s))
}

// AddLeg attaches an established circuit to the tunnel.  The first leg
// moves the tunnel from Building to Open.
func (t *Tunnel) AddLeg(ctx context.Context, ch Channel, cryptors []hopcrypto.Cryptor) (uint64, error) {
	replyCh := make(chan interface{}, 1)
	if err := t.submit(ctx, &opAddLeg{ch: ch, cryptors: cryptors, replyCh: replyCh}); err != nil {
		return 0, err
	}
	v, err := t.await(ctx, replyCh)
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// LinkLeg performs the conflux LINK handshake on the given leg and
// blocks until the peer's LINKED is acknowledged.
func (t *Tunnel) LinkLeg(ctx context.Context, legID uint64) error {
	replyCh := make(chan error, 1)
	if err := t.submit(ctx, &opLinkLeg{legID: legID, replyCh: replyCh}); err != nil {
		return err
	}
	return t.awaitErr(ctx, replyCh)
}

// SwitchEgress moves new outbound traffic onto the given linked leg.
func (t *Tunnel) SwitchEgress(ctx context.Context, legID uint64) error {
	replyCh := make(chan error, 1)
	if err := t.submit(ctx, &opSwitchLeg{legID: legID, replyCh: replyCh}); err != nil {
		return err
	}
	return t.awaitErr(ctx, replyCh)
}

// OpenStream opens a stream to addr:port through the tunnel's exit and
// blocks until the far end confirms or refuses it.
func (t *Tunnel) OpenStream(ctx context.Context, addr string, port uint16) (*Stream, error) {
	replyCh := make(chan interface{}, 1)
	if err := t.submit(ctx, &opOpenStream{addr: addr, port: port, replyCh: replyCh}); err != nil {
		return nil, err
	}
	v, err := t.await(ctx, replyCh)
	if err != nil {
		return nil, err
	}
	return v.(*Stream), nil
}

// Shutdown requests an orderly teardown, flushing pending sends within
// the drain timeout, and waits for the reactor to finish.
func (t *Tunnel) Shutdown(ctx context.Context) error {
	replyCh := make(chan error, 1)
	if err := t.submit(ctx, &opShutdown{replyCh: replyCh}); err == nil {
		_ = t.awaitErr(ctx, replyCh)
	}
	t.Halt()
	return nil
}

// Halt stops the reactor and waits for its goroutines to return.  It is
// safe to call more than once, and after Shutdown.
func (t *Tunnel) Halt() {
	t.haltOnce.Do(t.Worker.Halt)
}

func (t *Tunnel) submit(ctx context.Context, op interface{}) error {
	select {
	case t.opCh <- op:
		return nil
	case <-t.HaltCh():
		return ErrCircuitClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tunnel) await(ctx context.Context, replyCh chan interface{}) (interface{}, error) {
	select {
	case v := <-replyCh:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v, nil
	case <-t.HaltCh():
		return nil, ErrCircuitClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Tunnel) awaitErr(ctx context.Context, replyCh chan error) error {
	select {
	case err := <-replyCh:
		return err
	case <-t.HaltCh():
		return ErrCircuitClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reactor is the tunnel's single threaded main loop.  Every wait point
// is a channel receive; no other goroutine touches the state it owns.
func (t *Tunnel) reactor() {
	t.log.Debugf("reactor started")
	defer t.log.Debugf("reactor terminated")

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		d := time.Hour
		if deadline := t.nearestDeadline(); !deadline.IsZero() {
			d = time.Until(deadline)
			if d < 0 {
				d = 0
			}
		}
		timer.Reset(d)

		// Leave the shared data channel undrained when the reactor has
		// nowhere to put more: senders block instead of the reactor
		// buffering unboundedly.
		dataCh := t.dataCh
		if t.state != StateOpen || t.active == nil || len(t.pendingSends) >= maxPendingSends {
			dataCh = nil
		}

		select {
		case <-t.HaltCh():
			t.startDraining(nil)
			t.setClosed()
			return
		case op := <-t.opCh:
			t.onOp(op)
		case s := <-dataCh:
			t.pendingSends = append(t.pendingSends, s)
			t.pumpSends()
		case in := <-t.inboundCh:
			t.onInbound(in)
		case <-timer.C:
			t.onTimer(time.Now())
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}

		if t.state == StateDraining && len(t.pendingSends) == 0 {
			t.setClosed()
		}
		if t.state == StateClosed {
			return
		}
	}
}

func (t *Tunnel) nearestDeadline() time.Time {
	deadline := t.gapDeadline
	if !t.drainDeadline.IsZero() && (deadline.IsZero() || t.drainDeadline.Before(deadline)) {
		deadline = t.drainDeadline
	}
	return deadline
}

func (t *Tunnel) onTimer(now time.Time) {
	if !t.gapDeadline.IsZero() && !now.Before(t.gapDeadline) {
		t.gapDeadline = time.Time{}
		if t.cflx.blocked() {
			t.onGapTimeout()
		}
	}
	if !t.drainDeadline.IsZero() && !now.Before(t.drainDeadline) {
		t.drainDeadline = time.Time{}
		if t.state == StateDraining {
			t.log.Warningf("drain timeout elapsed with %d sends pending", len(t.pendingSends))
			t.setClosed()
		}
	}
}

// onGapTimeout fires when the reorder buffer stalled behind a sequence
// gap for too long: the leg that owes the missing cell is declared
// failed.
func (t *Tunnel) onGapTimeout() {
	for _, leg := range t.legs {
		if leg.linked && leg.recvSeq == t.cflx.deliverSeq {
			t.log.Warningf("leg %d stalled at seqno %d, failing it", leg.id, leg.recvSeq)
			t.failLeg(leg, &LegError{LegID: leg.id, Err: ErrGapTimeout})
			return
		}
	}
	// No live leg owes the gap cell; it is never going to arrive.
	t.deliverRun(t.cflx.flush())
}

func (t *Tunnel) onOp(op interface{}) {
	if t.state == StateDraining || t.state == StateClosed {
		t.refuseOp(op)
		return
	}
	switch o := op.(type) {
	case *opAddLeg:
		t.onAddLeg(o)
	case *opLinkLeg:
		t.onLinkLeg(o)
	case *opSwitchLeg:
		t.onSwitchLeg(o)
	case *opOpenStream:
		t.onOpenStream(o)
	case *opCloseStream:
		t.onCloseStream(o)
	case *opShutdown:
		t.startDraining(nil)
		o.replyCh <- nil
	default:
		t.log.Errorf("BUG: unknown op %T", op)
	}
}

func (t *Tunnel) refuseOp(op interface{}) {
	switch o := op.(type) {
	case *opAddLeg:
		o.replyCh <- ErrCircuitClosed
	case *opLinkLeg:
		o.replyCh <- ErrCircuitClosed
	case *opSwitchLeg:
		o.replyCh <- ErrCircuitClosed
	case *opOpenStream:
		o.replyCh <- ErrCircuitClosed
	case *opCloseStream:
		o.replyCh <- ErrCircuitClosed
	case *opShutdown:
		o.replyCh <- nil
	}
}

func (t *Tunnel) onAddLeg(op *opAddLeg) {
	if len(op.cryptors) == 0 {
		op.replyCh <- &InternalBugError{Msg: "leg with zero hops"}
		return
	}
	if t.numHops == 0 {
		t.numHops = len(op.cryptors)
		t.smaps = make([]*streammap.Map, t.numHops)
		for i := range t.smaps {
			t.smaps[i] = streammap.New()
		}
	} else if len(op.cryptors) != t.numHops {
		op.replyCh <- &InternalBugError{Msg: "legs of one tunnel must have equal depth"}
		return
	}

	t.nextLegID++
	id := t.nextLegID
	// Client-allocated circuit ids have the high bit set.
	circID := uint32(id) | 0x80000000
	leg := newLeg(id, circID, op.ch, op.cryptors, t.cfg.Params)
	t.legs[id] = leg
	t.Go(func() { t.legReader(leg) })

	if t.active == nil {
		t.active = leg
	}
	if t.state == StateBuilding {
		t.setState(StateOpen)
	}
	t.log.Debugf("leg %d attached (%d hops)", id, t.numHops)
	op.replyCh <- id
}

func (t *Tunnel) onLinkLeg(op *opLinkLeg) {
	leg, ok := t.legs[op.legID]
	if !ok {
		op.replyCh <- ErrNoSuchLeg
		return
	}
	if leg.linked {
		op.replyCh <- nil
		return
	}
	var zero relay.LinkNonce
	if t.cflx.nonce == zero {
		if _, err := rand.Read(t.cflx.nonce[:]); err != nil {
			op.replyCh <- err
			return
		}
	}
	link := &relay.LinkMsg{Payload: relay.V1LinkPayload{
		Nonce:         t.cflx.nonce,
		LastSeqnoSent: t.cflx.sendSeq,
		LastSeqnoRecv: t.cflx.deliverSeq - 1,
		DesiredUX:     t.cflx.ux,
	}}
	if err := leg.sendMsg(leg.exitHop(), &relay.MsgOuter{Msg: link}); err != nil {
		t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
		op.replyCh <- err
		return
	}
	cellsOut.Inc()
	t.pendingLinks[leg.id] = op.replyCh
}

func (t *Tunnel) onSwitchLeg(op *opSwitchLeg) {
	leg, ok := t.legs[op.legID]
	if !ok {
		op.replyCh <- ErrNoSuchLeg
		return
	}
	if !leg.linked {
		op.replyCh <- ErrNotLinked
		return
	}
	if err := t.switchEgress(leg); err != nil {
		op.replyCh <- err
		return
	}
	op.replyCh <- nil
	t.pumpSends()
}

// switchEgress makes leg the egress for new outbound traffic.  Sends
// are written to the previous leg synchronously, so everything at a
// lower sequence number has already been flushed by the time the SWITCH
// goes out.
func (t *Tunnel) switchEgress(leg *Leg) error {
	if leg == t.active {
		return nil
	}
	rel := t.cflx.sendSeq - leg.sendSeq
	if rel > 0 {
		sw := &relay.SwitchMsg{Seqno: uint32(rel)}
		if err := leg.sendMsg(leg.exitHop(), &relay.MsgOuter{Msg: sw}); err != nil {
			t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
			return err
		}
		cellsOut.Inc()
		leg.sendSeq = t.cflx.sendSeq
	}
	t.log.Debugf("egress switched to leg %d", leg.id)
	t.active = leg
	return nil
}

func (t *Tunnel) onOpenStream(op *opOpenStream) {
	if t.state != StateOpen || t.active == nil {
		op.replyCh <- ErrCircuitClosed
		return
	}
	hop := t.active.exitHop()
	id, err := t.smaps[hop].AllocateID()
	if err != nil {
		op.replyCh <- err
		return
	}
	s := &Stream{
		t:        t,
		id:       id,
		hop:      hop,
		events:   make(chan Event, t.cfg.EventBuffer),
		closedCh: make(chan interface{}),
	}
	entry := &streammap.Entry{
		Hop:     hop,
		State:   streammap.StateOpen,
		Deliver: s.events,
	}
	if err := t.smaps[hop].BeginStream(id, entry); err != nil {
		op.replyCh <- err
		return
	}
	begin := &relay.BeginMsg{Addr: op.addr, Port: op.port}
	if err := t.sendOnActive(&relay.MsgOuter{StreamID: id, Msg: begin}); err != nil {
		_, _ = t.smaps[hop].EndStream(id)
		op.replyCh <- err
		return
	}
	t.pendingOpens[id] = &pendingOpen{stream: s, replyCh: op.replyCh}
}

func (t *Tunnel) onCloseStream(op *opCloseStream) {
	hop, entry := t.lookupStream(op.id)
	if entry == nil {
		// Already ended from the peer side.
		op.replyCh <- nil
		return
	}
	switch entry.State {
	case streammap.StateOpen:
		end := &relay.EndMsg{Reason: relay.EndReasonDone}
		if err := t.sendEnd(hop, op.id, end); err != nil {
			op.replyCh <- err
			return
		}
		entry.State = streammap.StateEndSent
	case streammap.StateEndReceived:
		_, _ = t.smaps[hop].EndStream(op.id)
	case streammap.StateEndSent:
		// Double close is a handle bug; the sync.Once should have
		// stopped it.
		op.replyCh <- &InternalBugError{Msg: "stream closed twice"}
		return
	}
	op.replyCh <- nil
}

func (t *Tunnel) lookupStream(id relay.StreamID) (int, *streammap.Entry) {
	for hop, m := range t.smaps {
		if e, err := m.Lookup(id); err == nil {
			return hop, e
		}
	}
	return 0, nil
}

func (t *Tunnel) sendOnActive(outer *relay.MsgOuter) error {
	if t.active == nil {
		return ErrCircuitClosed
	}
	leg := t.active
	if err := leg.sendMsg(leg.exitHop(), outer); err != nil {
		t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
		return err
	}
	cellsOut.Inc()
	return nil
}

func (t *Tunnel) sendEnd(hop int, id relay.StreamID, end *relay.EndMsg) error {
	if t.active == nil {
		return ErrCircuitClosed
	}
	leg := t.active
	if err := leg.sendMsg(hop, &relay.MsgOuter{StreamID: id, Msg: end}); err != nil {
		t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
		return err
	}
	cellsOut.Inc()
	return nil
}

// pumpSends drains the pending send queue onto the active leg for as
// long as the exit hop's congestion window stays open.
func (t *Tunnel) pumpSends() {
	for len(t.pendingSends) > 0 {
		if t.active == nil {
			return
		}
		leg := t.active
		hs := leg.hops[leg.exitHop()]
		if !hs.cc.CanSend() {
			return
		}
		s := t.pendingSends[0]
		t.pendingSends = t.pendingSends[1:]
		if _, entry := t.lookupStream(s.id); entry == nil || entry.State != streammap.StateOpen {
			// The stream ended while the chunk was queued.
			continue
		}
		outer := &relay.MsgOuter{StreamID: s.id, Msg: &relay.DataMsg{Body: s.payload}}
		if err := leg.sendMsg(leg.exitHop(), outer); err != nil {
			t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
			return
		}
		leg.sendSeq = t.cflx.nextSendSeq()
		if err := hs.cc.OnCellSent(time.Now()); err != nil {
			t.log.Errorf("BUG: OnCellSent: %v", err)
		}
		cellsOut.Inc()
	}
}

// legReader pulls cells off one leg's channel and hands them to the
// reactor.  It is the only goroutine besides the reactor that a tunnel
// runs per leg.
func (t *Tunnel) legReader(leg *Leg) {
	for {
		c, err := leg.ch.RecvCell()
		in := &legInbound{leg: leg, c: c, err: err}
		select {
		case t.inboundCh <- in:
		case <-t.HaltCh():
			return
		}
		if err != nil {
			return
		}
	}
}

func (t *Tunnel) onInbound(in *legInbound) {
	leg := in.leg
	if _, ok := t.legs[leg.id]; !ok {
		// Stale delivery from an already failed leg.
		return
	}
	if in.err != nil {
		t.failLeg(leg, &LegError{LegID: leg.id, Err: in.err})
		return
	}
	cellsIn.Inc()

	switch in.c.Command {
	case cell.Relay, cell.RelayEarly:
	case cell.Padding, cell.VPadding:
		return
	case cell.Destroy:
		t.failLeg(leg, &LegError{LegID: leg.id, Err: ErrCircuitClosed})
		return
	default:
		t.failLeg(leg, &LegError{LegID: leg.id, Err: cell.ErrUnknownCommand})
		return
	}

	hop, err := leg.decryptInbound(in.c.Payload)
	if err != nil {
		t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
		return
	}
	outer, err := relay.DecodeMsgOuter(in.c.Payload)
	if err != nil {
		// Any decode error is a protocol violation serious enough to
		// tear down the leg; retrying a corrupted stream risks protocol
		// confusion.
		t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
		return
	}
	t.dispatchRelay(leg, hop, outer)
}

func (t *Tunnel) dispatchRelay(leg *Leg, hop int, outer *relay.MsgOuter) {
	now := time.Now()
	hs := leg.hops[hop]

	switch msg := outer.Msg.(type) {
	case *relay.DataMsg:
		t.onData(leg, hop, outer)

	case *relay.SendmeMsg:
		if outer.StreamID != 0 {
			// Stream level SENDMEs are obsolete; ignore.
			return
		}
		if err := hs.cc.OnSendmeReceived(now); err != nil {
			t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
			return
		}
		t.pumpSends()

	case *relay.EndMsg:
		t.onEnd(hop, outer.StreamID, msg)

	case *relay.ConnectedMsg:
		t.onConnected(outer.StreamID)

	case *relay.LinkedMsg:
		t.onLinked(leg, &msg.Payload)

	case *relay.LinkedAckMsg:
		t.log.Debugf("leg %d: unexpected LINKED_ACK, ignoring", leg.id)

	case *relay.SwitchMsg:
		if !leg.linked || msg.Seqno == 0 {
			t.failLeg(leg, &LegError{LegID: leg.id, Err: &relay.BadMessageError{
				Cmd: relay.ConfluxSwitch, Msg: "SWITCH on unlinked leg or zero seqno"}})
			return
		}
		leg.recvSeq += uint64(msg.Seqno)

	case *relay.LinkMsg:
		// Clients never accept inbound link proposals.
		t.failLeg(leg, &LegError{LegID: leg.id, Err: &relay.BadMessageError{
			Cmd: relay.ConfluxLink, Msg: "LINK at client"}})

	case *relay.BeginMsg:
		// Remote initiated streams are not offered here.
		end := &relay.EndMsg{Reason: relay.EndReasonExitPolicy}
		if err := leg.sendMsg(hop, &relay.MsgOuter{StreamID: outer.StreamID, Msg: end}); err != nil {
			t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
		}

	default:
		t.log.Warningf("leg %d: ignoring relay message %v", leg.id, outer.Msg.Cmd())
	}
}

func (t *Tunnel) onData(leg *Leg, hop int, outer *relay.MsgOuter) {
	hs := leg.hops[hop]
	if hs.recvWin.NoteDataReceived() {
		sendme := &relay.SendmeMsg{Version: 0}
		if err := leg.sendMsg(hop, &relay.MsgOuter{Msg: sendme}); err != nil {
			t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
			return
		}
		cellsOut.Inc()
	}

	if hop != leg.exitHop() {
		// Only exit traffic participates in conflux sequencing.
		t.deliverData(hop, outer)
		return
	}

	seq := leg.recvSeq
	leg.recvSeq++
	run, err := t.cflx.accept(seq, outer)
	if errors.Is(err, ErrStaleSequence) {
		// The delivery cursor moved past this cell when a failed leg's
		// gap was flushed; its contents were already given up on.
		t.log.Warningf("leg %d: dropping stale cell at seqno %d", leg.id, seq)
		return
	}
	if err != nil {
		t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
		return
	}
	t.deliverRun(run)

	if t.cflx.blocked() {
		if t.gapDeadline.IsZero() {
			t.gapDeadline = time.Now().Add(t.cfg.GapTimeout)
		}
	} else {
		t.gapDeadline = time.Time{}
	}
}

func (t *Tunnel) deliverRun(run []*relay.MsgOuter) {
	for _, outer := range run {
		t.deliverData(t.numHops-1, outer)
	}
}

func (t *Tunnel) deliverData(hop int, outer *relay.MsgOuter) {
	entry, err := t.smaps[hop].Lookup(outer.StreamID)
	if err != nil {
		t.log.Warningf("dropping data for unknown stream %d", outer.StreamID)
		return
	}
	if entry.State != streammap.StateOpen {
		return
	}
	data, ok := outer.Msg.(*relay.DataMsg)
	if !ok {
		t.log.Errorf("BUG: non-data message in delivery path")
		return
	}
	t.deliverEvent(entry, &DataEvent{Payload: data.Body}, false)
}

func (t *Tunnel) onEnd(hop int, id relay.StreamID, msg *relay.EndMsg) {
	if po, ok := t.pendingOpens[id]; ok {
		delete(t.pendingOpens, id)
		_, _ = t.smaps[hop].EndStream(id)
		po.replyCh <- &streamRefusedError{reason: msg.Reason}
		return
	}
	entry, err := t.smaps[hop].Lookup(id)
	if err != nil {
		t.log.Debugf("END for unknown stream %d", id)
		return
	}
	switch entry.State {
	case streammap.StateOpen:
		t.deliverEvent(entry, &EndEvent{Reason: msg.Reason}, true)
		// Acknowledge the close so the far end can forget the id.  The
		// local handle still references the id, so the entry is held
		// until Close; late cells for it are dropped silently and the
		// id is not reused in the meantime.
		end := &relay.EndMsg{Reason: relay.EndReasonDone}
		_ = t.sendEnd(hop, id, end)
		entry.State = streammap.StateEndReceived
	case streammap.StateEndSent:
		// Our END crossed theirs; the stream is fully closed.
		_, _ = t.smaps[hop].EndStream(id)
	case streammap.StateEndReceived:
		t.log.Debugf("duplicate END for stream %d", id)
	}
}

func (t *Tunnel) onConnected(id relay.StreamID) {
	po, ok := t.pendingOpens[id]
	if !ok {
		t.log.Debugf("CONNECTED for unknown stream %d", id)
		return
	}
	delete(t.pendingOpens, id)
	streamsOpened.Inc()
	po.replyCh <- po.stream
}

func (t *Tunnel) onLinked(leg *Leg, payload *relay.V1LinkPayload) {
	replyCh, ok := t.pendingLinks[leg.id]
	if !ok {
		t.failLeg(leg, &LegError{LegID: leg.id, Err: &relay.BadMessageError{
			Cmd: relay.ConfluxLinked, Msg: "LINKED without pending LINK"}})
		return
	}
	delete(t.pendingLinks, leg.id)
	if payload.Nonce != t.cflx.nonce {
		err := &relay.BadMessageError{Cmd: relay.ConfluxLinked, Msg: "nonce mismatch"}
		t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
		replyCh <- err
		return
	}
	ack := &relay.LinkedAckMsg{}
	if err := leg.sendMsg(leg.exitHop(), &relay.MsgOuter{Msg: ack}); err != nil {
		t.failLeg(leg, &LegError{LegID: leg.id, Err: err})
		replyCh <- err
		return
	}
	cellsOut.Inc()

	// Baseline the new leg's sequence positions at the set's current
	// state; a SWITCH rebases them before the leg carries data.
	leg.linked = true
	leg.sendSeq = t.cflx.sendSeq
	leg.recvSeq = t.cflx.deliverSeq
	// The founding leg joins the set implicitly with the first link.
	if t.active != nil && !t.active.linked {
		t.active.linked = true
		t.active.sendSeq = t.cflx.sendSeq
	}
	t.log.Debugf("leg %d conflux linked", leg.id)
	replyCh <- nil
}

// failLeg tears down one leg.  The tunnel survives iff another linked
// leg remains; otherwise it drains and every open stream is notified
// exactly once.
func (t *Tunnel) failLeg(leg *Leg, cause error) {
	if _, ok := t.legs[leg.id]; !ok {
		return
	}
	t.log.Warningf("leg %d torn down: %v", leg.id, cause)
	legsFailed.Inc()
	delete(t.legs, leg.id)
	_ = leg.ch.Close()
	if replyCh, ok := t.pendingLinks[leg.id]; ok {
		delete(t.pendingLinks, leg.id)
		replyCh <- cause
	}

	if leg.linked && leg.recvSeq == t.cflx.deliverSeq && t.cflx.blocked() {
		// The dead leg owed the next cell to deliver and that gap can
		// never close now; hand over what is buffered, in order.  When
		// another leg owes the cursor the buffer stays put: the gap
		// cell may still arrive on it.
		t.gapDeadline = time.Time{}
		t.deliverRun(t.cflx.flush())
	}
	if len(t.legs) == 0 {
		t.active = nil
		t.startDraining(cause)
		return
	}
	if t.active != leg {
		// A non-egress leg died; the tunnel continues unaffected.
		return
	}

	t.active = nil
	for t.state == StateBuilding || t.state == StateOpen {
		var survivor *Leg
		for _, l := range t.legs {
			if l.linked {
				survivor = l
				break
			}
		}
		if survivor == nil {
			t.startDraining(cause)
			return
		}
		// A failed switch tears the survivor down too; keep looking.
		if err := t.switchEgress(survivor); err == nil {
			break
		}
	}
	t.pumpSends()
}

// startDraining moves the tunnel out of service: every open stream and
// pending operation observes exactly one terminal error, then pending
// sends are flushed until done or the drain deadline fires.
func (t *Tunnel) startDraining(cause error) {
	if t.state == StateDraining || t.state == StateClosed {
		return
	}
	t.setState(StateDraining)
	t.drainDeadline = time.Now().Add(t.cfg.DrainTimeout)

	termErr := ErrCircuitClosed
	if cause != nil {
		t.log.Warningf("tunnel draining: %v", cause)
	}

	for id, po := range t.pendingOpens {
		delete(t.pendingOpens, id)
		po.replyCh <- termErr
	}
	for id, replyCh := range t.pendingLinks {
		delete(t.pendingLinks, id)
		replyCh <- termErr
	}
	for _, m := range t.smaps {
		var ids []relay.StreamID
		m.ForEachOpen(func(e *streammap.Entry) {
			// Streams already ended by the peer got their terminal
			// EndEvent; they must not see a second terminal event.
			if e.State != streammap.StateEndReceived {
				t.deliverEvent(e, &ErrorEvent{Err: termErr}, true)
			}
			ids = append(ids, e.ID)
		})
		for _, id := range ids {
			_, _ = m.EndStream(id)
		}
	}

	if len(t.legs) == 0 {
		t.pendingSends = nil
	}
	if len(t.pendingSends) == 0 {
		t.setClosed()
	}
}

func (t *Tunnel) setClosed() {
	if t.state == StateClosed {
		return
	}
	for id, leg := range t.legs {
		delete(t.legs, id)
		_ = leg.ch.Close()
	}
	t.active = nil
	t.setState(StateClosed)
}

// deliverEvent hands one event to a stream's reader without ever
// blocking the reactor.  Terminal events must not be lost, so on a full
// channel their delivery moves to a helper goroutine; ordinary data is
// dropped and counted, with flow control expected to keep this rare.
func (t *Tunnel) deliverEvent(entry *streammap.Entry, ev Event, terminal bool) {
	select {
	case entry.Deliver <- ev:
		return
	default:
	}
	if !terminal {
		droppedEvents.Inc()
		t.log.Warningf("dropping event for stream %d: reader too slow", entry.ID)
		return
	}
	deliver := entry.Deliver
	t.Go(func() {
		select {
		case deliver <- ev:
		case <-t.HaltCh():
		}
	})
}

// streamRefusedError reports a BEGIN refused by the far end.
type streamRefusedError struct {
	reason relay.EndReason
}

func (e *streamRefusedError) Error() string {
	return "tunnel: stream refused: " + e.reason.String()
}
