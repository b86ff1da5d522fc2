package bgp

import (
	"fmt"
	"net"
	"sync"
)

// BgpPort is the well-known BGP TCP port.
const BgpPort = 179

// acceptHandler is called for an accepted connection whose remote
// address matched a configured peer; see Listener.dispatch.
type acceptHandler interface {
	// remoteIP returns the address this handler accepts connections
	// from.
	remoteIP() net.IP
	// acceptable reports whether the handler is currently willing to
	// take an inbound connection (§4.4 acceptance predicate).
	acceptable() bool
	// accept attaches sock as the incoming connection.
	accept(sock net.Conn)
}

// Listener is the process-wide passive BGP socket described in §4.1:
// one listener shared by all configured peers, reference-counted by
// the peers that have progressed past Prepare. It is "model[ed] ...
// as a ref-counted singleton whose acquire/release is the only way
// active peers reach it" per the DESIGN NOTES — no package-level
// global listener exists; the caller that builds the peers owns it
// (cmd/bgpd creates one and hands it to every Peer through the
// Manager's factory).
type Listener struct {
	mu       sync.Mutex
	addr     string
	listener net.Listener
	refcount int
	peers    map[string]acceptHandler // keyed by remote IP string
	md5Keys  map[string]string        // remote IP -> password, for reinstall

	onAcceptError func(error)
}

// NewListener constructs an unopened Listener bound lazily on first
// Acquire. addr is the configured BGP local address; port is always
// BgpPort.
func NewListener(addr string) *Listener {
	return &Listener{
		addr:    addr,
		peers:   make(map[string]acceptHandler),
		md5Keys: make(map[string]string),
	}
}

// Acquire increments the refcount, opening the underlying socket on
// the first call. It also associates remoteIP with handler so an
// inbound connection from that address is dispatched to it.
func (l *Listener) Acquire(remoteIP net.IP, handler acceptHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.peers[remoteIP.String()] = handler

	if l.refcount == 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", l.addr, BgpPort))
		if err != nil {
			delete(l.peers, remoteIP.String())
			return err
		}
		l.listener = ln
		go l.acceptLoop(ln)
	}
	l.refcount++
	return nil
}

// Release decrements the refcount, closing the socket when the last
// active peer releases it. remoteIP's dispatch entry is always
// removed.
func (l *Listener) Release(remoteIP net.IP) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.peers, remoteIP.String())
	delete(l.md5Keys, remoteIP.String())

	if l.refcount == 0 {
		return
	}
	l.refcount--
	if l.refcount == 0 && l.listener != nil {
		l.listener.Close()
		l.listener = nil
	}
}

// Refcount reports the number of peers currently holding the listener
// open; testable property 4 in §8 pins this to "bgp_counter".
func (l *Listener) Refcount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refcount
}

// SetMD5 records (or clears, with pass="") the TCP-MD5 key to install
// for connections from remoteIP. Installing MD5 on a live listening
// socket is a kernel/socket-layer concern (out of scope, §1); this
// records intent for the socket layer to apply.
func (l *Listener) SetMD5(remoteIP net.IP, pass string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pass == "" {
		delete(l.md5Keys, remoteIP.String())
		return
	}
	l.md5Keys[remoteIP.String()] = pass
}

func (l *Listener) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		l.dispatch(conn)
	}
}

// dispatch implements the §4.1 scan-and-accept-or-drop rule.
func (l *Listener) dispatch(conn net.Conn) {
	remote, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return
	}

	l.mu.Lock()
	handler, ok := l.peers[remote]
	l.mu.Unlock()

	if !ok || !handler.acceptable() {
		if l.onAcceptError != nil {
			l.onAcceptError(fmt.Errorf("bgp: dropping connection from unrecognized or unready peer %s", remote))
		}
		conn.Close()
		return
	}

	handler.accept(conn)
}
