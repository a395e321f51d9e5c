package session

import (
	"sync/atomic"
	"time"

	"clipsync/internal/protocol"
)

// sendTimeout bounds how long a forward may block on a slow peer before it
// is treated as transiently unavailable. Mirrors the bounded-wait "safe
// send" every outbound write in this system goes through.
const sendTimeout = 200 * time.Millisecond

// Peer is the server-side handle for one bound connection. It owns nothing
// about the transport itself — writes go out over Send, and Terminate asks
// whatever owns the live socket to close it. This keeps session decoupled
// from the websocket layer: the per-connection driver is the only thing
// that holds a *websocket.Conn.
type Peer struct {
	Role       Role
	DeviceName string
	ConnID     string

	Send chan protocol.Message

	alive atomic.Bool

	terminate func(reason string)
	ping      func() error
}

// NewPeer creates a peer with a buffered outbound queue. terminate is called
// on every Terminate: when the peer's slot is displaced, when it misses a
// heartbeat, or when its never-fully-bound pair expires.
// ping sends one transport-level ping frame; it may be nil in tests that
// don't exercise the heartbeat sweep.
func NewPeer(role Role, deviceName, connID string, sendBuf int, terminate func(reason string), ping func() error) *Peer {
	if sendBuf <= 0 {
		sendBuf = 32
	}
	p := &Peer{
		Role:       role,
		DeviceName: deviceName,
		ConnID:     connID,
		Send:       make(chan protocol.Message, sendBuf),
		terminate:  terminate,
		ping:       ping,
	}
	p.alive.Store(true)
	return p
}

// MarkAlive records that a liveness signal (inbound frame or pong) was seen.
func (p *Peer) MarkAlive() { p.alive.Store(true) }

// ClearAlive resets the liveness flag before a new heartbeat probe.
func (p *Peer) ClearAlive() { p.alive.Store(false) }

// IsAlive reports the current liveness flag.
func (p *Peer) IsAlive() bool { return p.alive.Load() }

// Terminate closes the underlying transport with the given reason.
func (p *Peer) Terminate(reason string) {
	if p.terminate != nil {
		p.terminate(reason)
	}
}

// Ping sends one transport-level liveness probe.
func (p *Peer) Ping() error {
	if p.ping == nil {
		return nil
	}
	return p.ping()
}

// SafeSend enqueues msg for delivery without blocking the caller
// indefinitely. It reports whether the message was handed off; a false
// return (full queue, or the peer's writer having exited) means the send
// was dropped, exactly as a disconnected or backpressured peer is treated
// as transiently unavailable elsewhere in this design.
func (p *Peer) SafeSend(msg protocol.Message) (ok bool) {
	if p == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case p.Send <- msg:
		return true
	case <-time.After(sendTimeout):
		return false
	}
}
