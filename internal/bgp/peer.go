package bgp

import (
	"net"
	"net/netip"
	"time"

	"github.com/jonboulle/clockwork"
)

// PeerState is the coarse peer-level status, independent of which
// connection slot currently carries the session.
type PeerState uint8

const (
	PeerDown PeerState = iota
	PeerPrepare
	PeerStart
	PeerUp
	PeerStop
)

func (s PeerState) String() string {
	switch s {
	case PeerPrepare:
		return "Prepare"
	case PeerStart:
		return "Start"
	case PeerUp:
		return "Up"
	case PeerStop:
		return "Stop"
	default:
		return "Down"
	}
}

// StartupState mirrors §3's startup_state: how far the peer has
// progressed towards attempting connections, and whether capability
// negotiation is enabled for those attempts.
type StartupState uint8

const (
	StartupPrepare StartupState = iota
	StartupConnect
	StartupConnectNoCap
)

// ProtocolHandle is the upward collaborator described in §6: the
// surrounding routing core that the engine notifies of session
// transitions and asks to import routes. Only the members this engine
// exercises are modeled; RIB policy and attribute semantics are the
// codec/RIB collaborators' concern (§1 non-goals).
type ProtocolHandle interface {
	// SessionUp is called exactly once per Established entry (§5).
	SessionUp(localID, remoteID netip.Addr)
	// SessionDown is called exactly once per Established exit (§5).
	SessionDown(reason string)
}

// Peer is a PeerInstance (§3): one per configured neighbor, created at
// config load and destroyed at shutdown/reload.
//
// All mutable state belongs to the single goroutine started by run();
// it is the only writer and the only reader outside of do's closures.
// Callers interact through the exported methods, which enqueue a
// closure onto cmds and block until it has run, emulating the
// single-threaded cooperative loop of §5 without requiring one literal
// OS thread for the whole daemon — multiple Peers make independent
// forward progress, but each Peer's own state is only ever touched by
// its own goroutine.
type Peer struct {
	cfg      PeerConfig
	codec    Codec
	rib      RIBImporter
	neighbor NeighborCache
	listener *Listener
	locks    *ObjectLockManager
	clock    clockwork.Clock
	rand     RandSource
	log      Logger
	metrics  *Metrics
	handle   ProtocolHandle

	state        PeerState
	startupState StartupState
	outgoing     *Connection
	incoming     *Connection
	active       *Connection
	decision     *Event
	startupTimer *BgpTimer
	backoff      *Backoff
	lastError    LastError
	lastWasStop  bool // true once Stop has recorded an error, so cascades don't overwrite it
	autoRestart  bool // set by stopRecoverably; onDecision re-initiates instead of tearing down
	lock         *ObjectLock
	neighbor_    NeighborHandle
	localID      netip.Addr
	nextHop      netip.Addr
	disabled     bool

	cmds chan func()
	done chan struct{}
}

// NewPeer constructs a Peer in state Down; call Start to bring it up.
func NewPeer(cfg PeerConfig, codec Codec, rib RIBImporter, neighbor NeighborCache, listener *Listener, locks *ObjectLockManager, clock clockwork.Clock, rand RandSource, log Logger, metrics *Metrics, handle ProtocolHandle) *Peer {
	p := &Peer{
		cfg:      cfg,
		codec:    codec,
		rib:      rib,
		neighbor: neighbor,
		listener: listener,
		locks:    locks,
		clock:    clock,
		rand:     rand,
		log:      log,
		metrics:  metrics,
		handle:   handle,
		decision: NewEvent(),
		backoff:  NewBackoff(clock),
		cmds:     make(chan func(), 16),
		done:     make(chan struct{}),
	}
	p.startupTimer = NewBgpTimer(clock, rand)
	go p.run()
	return p
}

// do serializes fn onto the peer's control loop and blocks until it
// has run, so callers observe a consistent post-state.
func (p *Peer) do(fn func()) {
	reply := make(chan struct{})
	select {
	case p.cmds <- func() { fn(); close(reply) }:
		<-reply
	case <-p.done:
	}
}

// run is the single control goroutine backing §5's "single-threaded
// cooperative" event loop for this peer: every Connection method it
// drives mutates only this Peer's and its own Connections' fields, and
// does so exclusively from here, so no locking is needed between
// commands, timers, and socket events.
func (p *Peer) run() {
	defer close(p.done)
	for {
		var outRx <-chan frame
		var outRetry, outHold, outKA <-chan time.Time
		var inRx <-chan frame
		var inRetry, inHold, inKA <-chan time.Time

		if p.outgoing != nil {
			if p.outgoing.sock != nil {
				outRx = p.outgoing.sock.rx
			}
			outRetry, outHold, outKA = p.outgoing.connectRetry.Chan(), p.outgoing.hold.Chan(), p.outgoing.keepalive.Chan()
		}
		if p.incoming != nil {
			if p.incoming.sock != nil {
				inRx = p.incoming.sock.rx
			}
			inRetry, inHold, inKA = p.incoming.connectRetry.Chan(), p.incoming.hold.Chan(), p.incoming.keepalive.Chan()
		}

		select {
		case fn, ok := <-p.cmds:
			if !ok {
				return
			}
			fn()

		case <-p.decision.Chan():
			p.onDecision()

		case <-p.startupTimer.Chan():
			p.onStartupTimerFired()

		case f, ok := <-outRx:
			if !ok {
				p.outgoing.onSocketClosed()
			} else {
				p.outgoing.onFrame(f)
			}
		case <-outRetry:
			p.outgoing.onConnectRetry()
		case <-outHold:
			p.outgoing.onHoldExpired()
		case <-outKA:
			p.outgoing.onKeepaliveFired()

		case f, ok := <-inRx:
			if !ok {
				p.incoming.onSocketClosed()
			} else {
				p.incoming.onFrame(f)
			}
		case <-inRetry:
			p.incoming.onConnectRetry()
		case <-inHold:
			p.incoming.onHoldExpired()
		case <-inKA:
			p.incoming.onKeepaliveFired()
		}
	}
}

// sibling returns the other of the peer's two connection slots.
func (p *Peer) sibling(c *Connection) *Connection {
	if c == p.outgoing {
		return p.incoming
	}
	return p.outgoing
}

// Start begins the peer lifecycle (§4.2): enters Prepare, allocates
// the decision event and startup timer, and acquires the object lock
// for (remote_ip, TCP, BGP_PORT).
func (p *Peer) Start() {
	p.do(func() {
		if p.log != nil {
			p.log.Info("peer starting", "remote", p.cfg.RemoteIP)
		}
		p.state = PeerPrepare
		p.startupState = StartupPrepare
		key := LockKey{Addr: p.cfg.RemoteIP, Proto: "TCP", Port: BgpPort}
		p.lock = p.locks.Acquire(key, func() {
			p.do(p.onLockGranted)
		})
	})
}

// onLockGranted runs once the object lock is held; see §4.2 "On lock
// grant".
func (p *Peer) onLockGranted() {
	p.nextHop = p.cfg.EffectiveNextHop()
	p.localID = p.cfg.SourceIP

	handle, reachable := p.neighbor.Find(p.nextHop, p.cfg.Interface, true)
	p.neighbor_ = handle
	p.neighbor.Notify(func(h NeighborHandle) {
		if h == p.neighbor_ {
			p.NeighborChanged(h.Reachable())
		}
	})

	if !reachable {
		if p.log != nil {
			p.log.Warn("next hop unreachable, disabling peer", "next_hop", p.nextHop)
		}
		p.storeError(LastError{Class: ErrorMisc, Code: MiscInvalidNextHop})
		p.toDown()
		return
	}

	if err := p.open(); err != nil {
		if p.log != nil {
			p.log.Error("failed to acquire listener", "error", err)
		}
		p.storeError(LastError{Class: ErrorMisc, Code: MiscInvalidMd5})
		p.toDown()
		return
	}

	p.initiate()
}

// open increments the listening refcount (opening it lazily) and
// installs the MD5 key, if configured. §4.2.
func (p *Peer) open() error {
	if err := p.listener.Acquire(net.IP(p.cfg.RemoteIP.AsSlice()), p); err != nil {
		return err
	}
	if p.cfg.Password != "" {
		p.listener.SetMD5(net.IP(p.cfg.RemoteIP.AsSlice()), p.cfg.Password)
	}
	if p.metrics != nil {
		p.metrics.ListenerRefcount.Set(float64(p.listener.Refcount()))
	}
	return nil
}

// initiate arms the startup timer if startup_delay > 0, else calls
// startup immediately. §4.2.
func (p *Peer) initiate() {
	p.state = PeerStart
	delay := p.backoff.Delay()
	if delay > 0 {
		p.startupTimer.Arm(delay)
		return
	}
	p.startup()
}

func (p *Peer) onStartupTimerFired() {
	p.startup()
}

// startup sets startup_state and, unless passive, begins an outgoing
// connection attempt. §4.2.
func (p *Peer) startup() {
	if p.state != PeerStart {
		return
	}
	if p.cfg.Capabilities {
		p.startupState = StartupConnect
	} else {
		p.startupState = StartupConnectNoCap
	}

	p.outgoing = newConnection(p, true)
	p.incoming = newConnection(p, false)

	if !p.cfg.Passive {
		p.outgoing.start(true)
	} else {
		p.outgoing.start(false)
	}
	p.incoming.state = StateActive
}

// Shutdown implements the §4.2 "On shutdown requested" transition.
// subcode selects the Cease reason: 2 admin, 3 de-configured, 6 other
// configuration change.
func (p *Peer) Shutdown(subcode uint8) {
	p.do(func() {
		if p.log != nil {
			p.log.Info("peer shutdown requested", "remote", p.cfg.RemoteIP, "subcode", subcode)
		}
		p.storeError(LastError{Class: ErrorManDown})
		p.lastWasStop = true
		p.autoRestart = false
		p.backoff.Reset()
		if p.active != nil {
			p.active.sendNotification(CEASE, subcode, nil)
		}
		p.state = PeerStop
		p.decision.Schedule()
	})
}

// onDecision is the coalesced decision event handler, run once both
// connection slots have settled to Idle after a PeerStop. A stop
// raised via stopRecoverably (§7 Recovery) re-enters the lifecycle at
// initiate rather than releasing the object lock and listener
// refcount; every other stop (administrative Shutdown, neighbor lost,
// disable_after_error) tears the peer all the way down to PeerDown.
func (p *Peer) onDecision() {
	if p.outgoing == nil && p.incoming == nil {
		return
	}
	outIdle := p.outgoing == nil || p.outgoing.stateOf() == StateIdle
	inIdle := p.incoming == nil || p.incoming.stateOf() == StateIdle
	if !(outIdle && inIdle && p.state == PeerStop) {
		return
	}
	if p.autoRestart {
		p.initiate()
		return
	}
	p.teardown()
}

func (p *Peer) teardown() {
	if p.lock != nil {
		p.lock.Release()
		p.lock = nil
	}
	p.listener.Release(net.IP(p.cfg.RemoteIP.AsSlice()))
	if p.metrics != nil {
		p.metrics.ListenerRefcount.Set(float64(p.listener.Refcount()))
	}
	p.state = PeerDown
}

func (p *Peer) toDown() {
	p.disabled = true
	p.state = PeerDown
}

// storeError implements §4.6 store_error: ignored while the peer is
// Stop (preserving the error that caused the stop) and, while Up,
// ignored for connections other than the active session connection
// (enforced by storeConnError).
func (p *Peer) storeError(e LastError) {
	if p.lastWasStop || p.state == PeerStop {
		return
	}
	p.lastError = e
	if p.metrics != nil {
		p.metrics.LastErrorClass.Set(float64(e.Class))
	}
}

// storeConnError applies the "ignore errors on non-session connections
// while Up" rule before delegating to storeError.
func (p *Peer) storeConnError(c *Connection, e LastError) {
	if p.state == PeerUp && p.active != nil && c != p.active {
		return
	}
	p.storeError(e)
}

// importedRouteCount is called by the codec/RIB boundary after each
// Update is applied; when it crosses cfg.RouteLimit, §4.7 fires.
func (p *Peer) importedRouteCount(n uint64) {
	if p.cfg.RouteLimit == 0 || n <= p.cfg.RouteLimit {
		return
	}
	p.storeError(LastError{Class: ErrorAutoDown, Code: AutoDownRouteLimitExceeded})
	p.backoff.Update(p.cfg)
	if p.active != nil {
		p.active.sendNotification(CEASE, 1, nil)
	}
	p.stopRecoverably()
}

// NeighborChanged implements §4.2 "On neighbor-cache notification".
func (p *Peer) NeighborChanged(reachable bool) {
	p.do(func() {
		if reachable && p.state == PeerPrepare {
			p.startNeighbor()
			return
		}
		if !reachable && (p.state == PeerStart || p.state == PeerUp) {
			p.storeError(LastError{Class: ErrorMisc, Code: MiscNeighborLost})
			p.stopNow()
		}
	})
}

func (p *Peer) startNeighbor() {
	p.onLockGranted()
}

// stopNow is a terminal stop: once both connections reach Idle,
// onDecision tears the peer all the way down to PeerDown, releasing
// the object lock and listener refcount.
func (p *Peer) stopNow() {
	p.lastWasStop = true
	p.autoRestart = false
	if p.active != nil {
		p.active.sendNotification(CEASE, 6, nil)
	}
	p.state = PeerStop
	p.decision.Schedule()
}

// stopRecoverably implements the §7 Recovery path: unlike stopNow,
// onDecision re-enters the lifecycle at initiate (re-arming the
// startup timer per the back-off just computed by the caller) once
// both connections reach Idle, instead of releasing the object lock
// and listener refcount. disable_after_error overrides this back to a
// terminal stop, matching its "disable the peer" semantics.
func (p *Peer) stopRecoverably() {
	p.autoRestart = !p.cfg.DisableAfterError
	p.state = PeerStop
	p.decision.Schedule()
}

// Reconfigure implements the §6 reconfigure contract: returns true
// ("same") without resetting the session when every non-password field
// matches and passwords string-compare equal; otherwise the caller is
// expected to tear the peer down and recreate it (a full session reset
// is a Manager-level concern, see manager.go).
func (p *Peer) Reconfigure(newCfg PeerConfig) (same bool) {
	var result bool
	p.do(func() {
		if p.cfg.Same(newCfg) {
			p.cfg = newCfg
			result = true
			return
		}
		result = false
	})
	return result
}

// Status renders the §6 get_status grammar.
func (p *Peer) Status() string {
	var s string
	p.do(func() {
		s = formatStatus(p)
	})
	return s
}

// --- acceptHandler, satisfied for Listener dispatch ---

func (p *Peer) remoteIP() net.IP {
	return net.IP(p.cfg.RemoteIP.AsSlice())
}

// acceptable implements the §4.4 acceptance predicate: peer is Start
// or Up, startup_state has progressed past Prepare, and there is no
// existing incoming connection. Per the DESIGN NOTES open question,
// this does not special-case an already-Established outgoing
// connection: acceptance is still granted and relies on collision
// resolution (§4.4), matching observed upstream behavior.
func (p *Peer) acceptable() bool {
	var ok bool
	p.do(func() {
		ok = (p.state == PeerStart || p.state == PeerUp) &&
			p.startupState != StartupPrepare &&
			(p.incoming == nil || p.incoming.stateOf() == StateIdle)
	})
	return ok
}

func (p *Peer) accept(conn net.Conn) {
	p.do(func() {
		if p.incoming == nil {
			p.incoming = newConnection(p, false)
		}
		p.incoming.attachIncoming(conn)
	})
}
