package bgp

import (
	"fmt"
	"net"
	"time"

	"github.com/jwhited/corebgp"
)

// ConnState is the per-connection BGP FSM state (§3/§4.3).
type ConnState uint8

const (
	StateIdle ConnState = iota
	StateConnect
	StateActive
	StateOpenSent
	StateOpenConfirm
	StateEstablished
	StateClose
)

func (s ConnState) String() string {
	switch s {
	case StateConnect:
		return "Connect"
	case StateActive:
		return "Active"
	case StateOpenSent:
		return "OpenSent"
	case StateOpenConfirm:
		return "OpenConfirm"
	case StateEstablished:
		return "Established"
	case StateClose:
		return "Close"
	default:
		return "Idle"
	}
}

// Connection is one TCP attempt belonging to a Peer (§3/§4.3). Unlike
// davidcoles/cue's Session, which runs its own goroutine end to end,
// every method here executes exclusively on the owning Peer's single
// control goroutine (see Peer.run): this is what makes the engine
// "single-threaded cooperative on one event loop" per §5 — the only
// genuine goroutines are the raw socket reader/writer pair (blocking
// I/O primitives), the outbound dialer and toClose's drain poller; the
// dialer and the poller hand results back to the Peer loop via Peer.do
// rather than touching Connection fields themselves.
type Connection struct {
	peer     *Peer
	outgoing bool

	state ConnState
	sock  *socket
	raddr string // dial target, outgoing only

	connectRetry *BgpTimer
	hold         *BgpTimer
	keepalive    *BgpTimer

	startupSnapshot StartupState
	wantAS4         bool
	peerAS4         bool
	advertisedAS    uint32

	notifyCode uint8
	notifySub  uint8
	notifyData []byte

	holdNominal      uint16
	keepaliveNominal uint16
}

func newConnection(p *Peer, outgoing bool) *Connection {
	return &Connection{
		peer:         p,
		outgoing:     outgoing,
		connectRetry: NewBgpTimer(p.clock, p.rand),
		hold:         NewBgpTimer(p.clock, p.rand),
		keepalive:    NewBgpTimer(p.clock, p.rand),
	}
}

// stateOf reports the connection's current state. Callers on the
// owning Peer's control goroutine may read c.state directly; this
// wrapper exists for callers (acceptable, highestState) that reach a
// Connection only via Peer.do, which already runs on that goroutine.
func (c *Connection) stateOf() ConnState { return c.state }

// start begins an outgoing connection attempt (active=true) or parks
// the outgoing slot in Active awaiting its connect-retry timer
// (active=false, the passive case, §4.3 "Idle, start (active)" — the
// row is named for the *event*, not the config flag; our passive
// configuration flag is the `active` parameter here being false).
func (c *Connection) start(active bool) {
	cfg := c.peer.cfg
	c.startupSnapshot = c.peer.startupState
	if active {
		c.dialOutgoing(cfg)
		return
	}
	c.state = StateActive
	delay := cfg.StartDelayTime
	if delay < 1 {
		delay = 1
	}
	c.connectRetry.Arm(delay)
}

func (c *Connection) dialOutgoing(cfg PeerConfig) {
	c.state = StateConnect
	c.connectRetry.Arm(cfg.ConnectRetryTime)
	c.raddr = net.JoinHostPort(cfg.RemoteIP.String(), fmt.Sprintf("%d", BgpPort))

	peer := c.peer
	go func() {
		dialer := net.Dialer{Timeout: 10 * time.Second}
		if cfg.SourceIP.IsValid() {
			dialer.LocalAddr = &net.TCPAddr{IP: net.IP(cfg.SourceIP.AsSlice())}
		}
		conn, err := dialer.Dial("tcp", c.raddr)
		peer.do(func() {
			if c.state != StateConnect {
				if conn != nil {
					conn.Close()
				}
				return
			}
			if err != nil {
				peer.storeConnError(c, LastError{Class: ErrorSocket})
				c.toIdle()
				return
			}
			c.onTCPConnected(conn)
		})
	}()
}

// attachIncoming implements §4.4: a new Connection is attached to the
// incoming slot and Open is sent. Called on the Peer control loop
// (via Peer.accept, itself invoked through Peer.do).
func (c *Connection) attachIncoming(conn net.Conn) {
	c.startupSnapshot = c.peer.startupState
	c.onTCPConnected(conn)
}

// onTCPConnected implements the §4.3 "Connect / TCP connected" row,
// and doubles as the inbound-accept transition into OpenSent.
func (c *Connection) onTCPConnected(conn net.Conn) {
	c.connectRetry.Stop()
	c.sock = newSocket(conn)

	cfg := c.peer.cfg
	c.holdNominal = cfg.InitialHoldTime
	c.wantAS4 = cfg.EnableAS4 && c.startupSnapshot == StartupConnect

	open := c.peer.codec.EncodeOpen(cfg, c.peer.localID, c.holdNominal, c.wantAS4)
	c.sock.Queue(MsgOpen, open)

	c.hold.Arm(c.holdNominal)
	c.state = StateOpenSent
}

func (c *Connection) onConnectRetry() {
	switch c.state {
	case StateConnect:
		if c.sock != nil {
			c.sock.Close()
			c.sock = nil
		}
		c.dialOutgoing(c.peer.cfg)
	case StateActive:
		if c.peer.cfg.Passive {
			// a passive peer's outgoing slot only ever parks here
			// (start with active=false); it waits on the incoming
			// slot forever and must never dial out, so re-arm and
			// keep waiting instead of falling through to connect.
			c.connectRetry.Arm(c.peer.cfg.ConnectRetryTime)
			return
		}
		if c.outgoing {
			c.dialOutgoing(c.peer.cfg)
		}
	}
}

func (c *Connection) onFrame(f frame) {
	c.hold.Arm(c.holdNominal)

	switch f.typ {
	case MsgNotification:
		code, sub := uint8(0), uint8(0)
		if len(f.body) >= 2 {
			code, sub = f.body[0], f.body[1]
		}
		c.peer.storeConnError(c, LastError{Class: ErrorBgpRx, Code: bgpTxCode(code, sub)})
		c.toClose(NewNotification(code, sub, nil), false)

	case MsgKeepalive:
		switch c.state {
		case StateOpenSent:
			c.bgpError(FSM_ERROR, 0, nil)
		case StateOpenConfirm:
			c.toEstablished()
		case StateEstablished:
			// no-op besides the hold-timer restart above
		}

	case MsgOpen:
		c.onOpen(f.body)

	case MsgUpdate:
		if c.state != StateEstablished {
			c.bgpError(FSM_ERROR, 0, nil)
			return
		}
		delta, notify := c.peer.codec.DecodeUpdate(f.body)
		if notify != nil {
			c.toClose(*notify, notify.Code != CEASE)
			return
		}
		c.peer.importedRouteCount(uint64(delta))

	default:
		c.bgpError(MESSAGE_HEADER_ERROR, BAD_MESSAGE_TYPE, nil)
	}
}

func (c *Connection) onOpen(body []byte) {
	if c.state != StateOpenSent {
		c.bgpError(FSM_ERROR, 0, nil)
		return
	}

	// Capability parsing belongs to the opaque wire codec (§1 non-goal);
	// we hand the codec the raw Open body's parsed capability set,
	// which — since capability decoding is itself out of scope — is
	// represented here only as the collaborator boundary, not decoded.
	var caps []corebgp.Capability
	as4, notify := c.peer.codec.DecodeOpen(c.peer.cfg, c.peer.localID, caps)
	if notify != nil {
		c.toClose(*notify, notify.Code != CEASE)
		return
	}
	c.peerAS4 = as4

	keepaliveNominal := c.peer.cfg.EffectiveKeepalive()
	c.keepaliveNominal = keepaliveNominal
	c.keepalive.Arm(keepaliveNominal)

	c.sock.Queue(MsgKeepalive, c.peer.codec.EncodeKeepalive())
	c.state = StateOpenConfirm
}

// toEstablished implements the OpenConfirm->Established transition
// and the collision-arbitration entry point of §4.4: if the sibling
// connection is already Established, collision resolution decides the
// survivor instead of both connections standing.
func (c *Connection) toEstablished() {
	c.hold.Arm(c.peer.cfg.HoldTime)
	c.holdNominal = c.peer.cfg.HoldTime
	c.state = StateEstablished

	other := c.peer.sibling(c)
	if other != nil && other.state == StateEstablished {
		c.resolveCollision(other)
		if c.state != StateEstablished {
			return
		}
	}

	if c.peer.active != nil && c.peer.active != c {
		return
	}
	c.peer.active = c
	c.peer.state = PeerUp
	if c.peer.log != nil {
		c.peer.log.Info("session established", "remote", c.peer.cfg.RemoteIP, "outgoing", c.outgoing)
	}
	if c.peer.handle != nil {
		c.peer.handle.SessionUp(c.peer.localID, c.peer.cfg.RemoteIP)
	}
	if c.peer.metrics != nil {
		c.peer.metrics.SessionUp.Set(1)
		c.peer.metrics.EstablishedTotal.Inc()
	}
}

// resolveCollision implements §4.4: the codec's collision-resolution
// entry decides which connection survives; the loser is closed with
// Cease/7 (connection collision resolution).
func (c *Connection) resolveCollision(other *Connection) {
	keepOutgoing := c.peer.codec.Resolve(c.peer.localID, c.peer.cfg.RemoteIP, c.outgoing)
	loser := other
	if keepOutgoing != c.outgoing {
		loser = c
	}
	loser.toClose(NewNotification(CEASE, 7, nil), false)
}

// bgpError implements §4.6 bgp_error: logs and records the error,
// queues a Notification, transitions to Close, and — for any code
// other than Cease (6) — applies back-off and recoverably stops the
// peer, so it re-attempts once back-off elapses rather than staying
// down. A call on a connection already in Close or Idle is a no-op.
func (c *Connection) bgpError(code, sub uint8, data []byte) {
	if c.state == StateClose || c.state == StateIdle {
		return
	}
	if c.peer.log != nil {
		c.peer.log.Warn("bgp protocol error", "remote", c.peer.cfg.RemoteIP, "note", noteFor(code, sub))
	}
	c.peer.storeConnError(c, LastError{Class: ErrorBgpTx, Code: bgpTxCode(code, sub)})
	c.toClose(NewNotification(code, sub, data), code != CEASE)
}

// sendNotification is the external entry point Peer uses to tear a
// connection down administratively (shutdown, route-limit, a
// collision loss decided elsewhere).
func (c *Connection) sendNotification(code, sub uint8, data []byte) {
	c.toClose(NewNotification(code, sub, data), false)
}

// toClose implements the Close-state entry of §4.3/§4.6: hold and
// keepalive timers stop and the Notification is queued for
// transmission; the socket lingers only long enough to flush it
// (§3 invariant), after which the connection enters Idle.
func (c *Connection) toClose(n Notification, applyBackoff bool) {
	if c.state == StateClose {
		return
	}
	c.notifyCode, c.notifySub, c.notifyData = n.Code, n.Subcode, n.Data
	c.hold.Stop()
	c.keepalive.Stop()
	c.state = StateClose

	sock := c.sock
	if sock != nil {
		body := c.peer.codec.EncodeNotification(n)
		sock.Queue(MsgNotification, body)
	}

	if applyBackoff {
		c.peer.backoff.Update(c.peer.cfg)
		c.peer.stopRecoverably()
	}

	peer := c.peer
	go func() {
		deadline := time.After(3 * time.Second)
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-deadline:
				peer.do(c.toIdle)
				return
			case <-ticker.C:
				if sock == nil || sock.Pending() == 0 {
					peer.do(c.toIdle)
					return
				}
			}
		}
	}()
}

// toIdle implements the §3 invariant: a Connection in Idle owns none
// of its timers or socket. Entering Idle schedules the peer's decision
// event.
func (c *Connection) toIdle() {
	if c.state == StateIdle {
		return
	}
	c.connectRetry.Stop()
	c.hold.Stop()
	c.keepalive.Stop()
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.state = StateIdle

	if c.peer.active == c {
		c.peer.active = nil
		if c.peer.metrics != nil {
			c.peer.metrics.SessionUp.Set(0)
		}
		if c.peer.handle != nil {
			c.peer.handle.SessionDown(c.peer.lastError.Message())
		}
		if c.peer.state == PeerUp {
			c.peer.state = PeerStop
		}
	}
	c.peer.decision.Schedule()
}

func (c *Connection) onSocketClosed() {
	if c.state == StateEstablished || c.state == StateOpenSent || c.state == StateOpenConfirm {
		c.peer.storeConnError(c, LastError{Class: ErrorSocket})
		c.toIdle()
	}
}

// onHoldExpired implements the §4.3 Established congestion-relief
// exception: if the socket still has bytes queued to send, the hold
// timer is given a further 10s instead of failing immediately.
func (c *Connection) onHoldExpired() {
	if c.state == StateEstablished && c.sock != nil && c.sock.Pending() != 0 {
		c.hold.Arm(10)
		return
	}
	c.bgpError(HOLD_TIMER_EXPIRED, 0, nil)
}

func (c *Connection) onKeepaliveFired() {
	if c.state != StateEstablished {
		return
	}
	c.sock.Queue(MsgKeepalive, c.peer.codec.EncodeKeepalive())
	c.keepalive.Arm(c.keepaliveNominal)
}
