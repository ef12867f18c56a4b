// Package transport implements the shared Transport state machine of
// spec.md §3: every layer in the ICE → DTLS → SRTP chain embeds one of
// these to track connection state and dispatch callbacks on its confining
// TaskQueue, the same "stack of layered transports" shape the teacher
// uses for its WHEP/Cloudflare session chain in pkg/bridge, generalized
// from a fixed two-layer chain into an arbitrary-depth one.
package transport

import (
	"github.com/ethan/rtcpeer/pkg/taskqueue"
)

// State is a Transport's connectivity state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lower is the interface a Transport's lower layer must satisfy so it can
// be chained: something this transport sends through, and whose packets
// this transport reads.
type Lower interface {
	Send(buf []byte) error
}

// Base implements the bookkeeping every concrete transport in the chain
// (ICE, DTLS, SRTP) shares: state, the confining queue, and the two
// callbacks. Concrete transports embed Base and add protocol-specific
// Send/receive logic around it.
type Base struct {
	Queue *taskqueue.TaskQueue
	Lower Lower

	state   State
	stopped bool

	onPacket       func(buf []byte)
	onStateChanged func(s State)
}

// NewBase returns a Base confined to queue, wrapping lower (nil for the
// bottom of the chain, e.g. ICE itself).
func NewBase(queue *taskqueue.TaskQueue, lower Lower) *Base {
	return &Base{Queue: queue, Lower: lower, state: StateDisconnected}
}

// OnPacketReceived registers the single packet-received callback.
func (b *Base) OnPacketReceived(fn func(buf []byte)) { b.onPacket = fn }

// OnStateChanged registers the single state-changed callback.
func (b *Base) OnStateChanged(fn func(s State)) { b.onStateChanged = fn }

// State returns the current connectivity state.
func (b *Base) State() State { return b.state }

// SetState transitions to s and fires the state-changed callback on the
// confining queue, unless the transport has been stopped or s is already
// the current state.
func (b *Base) SetState(s State) {
	if b.stopped || b.state == s {
		return
	}
	b.state = s
	cb := b.onStateChanged
	if cb == nil {
		return
	}
	b.Queue.Dispatch(func() { cb(s) })
}

// DeliverPacket dispatches buf to the packet-received callback on the
// confining queue. A stopped transport silently drops further packets.
func (b *Base) DeliverPacket(buf []byte) {
	if b.stopped {
		return
	}
	cb := b.onPacket
	if cb == nil {
		return
	}
	cp := append([]byte(nil), buf...)
	b.Queue.Dispatch(func() { cb(cp) })
}

// Send writes buf to the lower layer. A stopped transport ignores sends.
func (b *Base) Send(buf []byte) error {
	if b.stopped || b.Lower == nil {
		return nil
	}
	return b.Lower.Send(buf)
}

// Stop transitions to FAILED if not already terminal, and makes every
// subsequent Send/DeliverPacket a no-op (spec.md §3: "a stopped transport
// ignores further send/receive").
func (b *Base) Stop() {
	if b.stopped {
		return
	}
	b.stopped = true
	b.state = StateFailed
}

// Stopped reports whether Stop has been called.
func (b *Base) Stopped() bool { return b.stopped }
