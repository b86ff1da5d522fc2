package bgp

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jwhited/corebgp"
	"github.com/stretchr/testify/require"
)

// fakeCodec is a Codec test double that never rejects anything, so
// tests can drive the FSM without a real attribute/wire layer.
type fakeCodec struct{}

func (fakeCodec) Capabilities(cfg PeerConfig) []corebgp.Capability { return nil }
func (fakeCodec) DecodeOpen(cfg PeerConfig, routerID netip.Addr, caps []corebgp.Capability) (bool, *Notification) {
	return cfg.EnableAS4, nil
}
func (fakeCodec) Resolve(localID, remoteID netip.Addr, localIsOutgoing bool) bool { return localIsOutgoing }
func (fakeCodec) DecodeUpdate(body []byte) (int, *Notification)                  { return 1, nil }
func (fakeCodec) EncodeOpen(cfg PeerConfig, routerID netip.Addr, holdTime uint16, as4 bool) []byte {
	return []byte("open")
}
func (fakeCodec) EncodeKeepalive() []byte { return nil }
func (fakeCodec) EncodeNotification(n Notification) []byte {
	return append([]byte{n.Code, n.Subcode}, n.Data...)
}

// fakeHandle records SessionUp/SessionDown calls for assertions.
type fakeHandle struct {
	mu   sync.Mutex
	ups  int
	down []string
}

func (h *fakeHandle) SessionUp(localID, remoteID netip.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ups++
}

func (h *fakeHandle) SessionDown(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.down = append(h.down, reason)
}

func (h *fakeHandle) upCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ups
}

func newTestPeer(t *testing.T, handle ProtocolHandle) (*Peer, clockwork.FakeClock) {
	t.Helper()
	cfg := DefaultPeerConfig()
	cfg.RemoteIP = netip.MustParseAddr("192.0.2.1")
	cfg.EnableAS4 = true

	clock := clockwork.NewFakeClock()
	p := NewPeer(cfg, fakeCodec{}, &CounterRIB{}, NewNetlinkNeighborCache(), NewListener("127.0.0.1"), NewObjectLockManager(), clock, fixedRand{v: 1}, nil, nil, handle)
	return p, clock
}

// establishOutgoing wires p.outgoing directly to one end of a net.Pipe,
// bypassing Start/dialOutgoing (which would need a live listener on
// the real network), and returns the peer's end of the pipe so the
// test can play the role of the remote speaker.
func establishOutgoing(t *testing.T, p *Peer) net.Conn {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	p.do(func() {
		p.state = PeerStart
		p.startupState = StartupConnect
		p.outgoing = newConnection(p, true)
		p.incoming = newConnection(p, false)
		p.outgoing.startupSnapshot = StartupConnect
		p.outgoing.onTCPConnected(clientConn)
	})

	return serverConn
}

func readFrame(t *testing.T, conn net.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var header [19]byte
	_, err := readFull(conn, header[:])
	require.NoError(t, err)
	length := int(header[16])<<8 | int(header[17])
	typ := MsgType(header[18])
	body := make([]byte, length-19)
	_, err = readFull(conn, body)
	require.NoError(t, err)
	return frame{typ: typ, body: body}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeFrame(t *testing.T, conn net.Conn, typ MsgType, body []byte) {
	t.Helper()
	_, err := conn.Write(addHeader(typ, body))
	require.NoError(t, err)
}

func TestPeerHandshakeReachesEstablished(t *testing.T) {
	handle := &fakeHandle{}
	p, _ := newTestPeer(t, handle)

	remote := establishOutgoing(t, p)
	defer remote.Close()

	openFrame := readFrame(t, remote)
	require.Equal(t, MsgOpen, openFrame.typ)

	writeFrame(t, remote, MsgOpen, []byte("open"))

	kaFrame := readFrame(t, remote)
	require.Equal(t, MsgKeepalive, kaFrame.typ)

	writeFrame(t, remote, MsgKeepalive, nil)

	require.Eventually(t, func() bool {
		var state ConnState
		p.do(func() { state = p.outgoing.state })
		return state == StateEstablished
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return handle.upCount() == 1 }, time.Second, 5*time.Millisecond)

	var peerState PeerState
	p.do(func() { peerState = p.state })
	require.Equal(t, PeerUp, peerState)
}

func TestPeerShutdownSendsNotificationAndTearsDown(t *testing.T) {
	handle := &fakeHandle{}
	p, _ := newTestPeer(t, handle)

	remote := establishOutgoing(t, p)
	defer remote.Close()

	readFrame(t, remote) // Open
	writeFrame(t, remote, MsgOpen, []byte("open"))
	readFrame(t, remote) // Keepalive
	writeFrame(t, remote, MsgKeepalive, nil)

	require.Eventually(t, func() bool { return handle.upCount() == 1 }, time.Second, 5*time.Millisecond)

	p.Shutdown(ADMINISTRATIVE_SHUTDOWN)

	notif := readFrame(t, remote)
	require.Equal(t, MsgNotification, notif.typ)
	require.Equal(t, uint8(CEASE), notif.body[0])
	require.Equal(t, uint8(ADMINISTRATIVE_SHUTDOWN), notif.body[1])

	require.Eventually(t, func() bool {
		var state PeerState
		p.do(func() { state = p.state })
		return state == PeerDown
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRouteLimitExceededReattemptsWithoutReleasingLock(t *testing.T) {
	handle := &fakeHandle{}
	p, _ := newTestPeer(t, handle)
	p.do(func() { p.cfg.RouteLimit = 5 })

	key := LockKey{Addr: p.cfg.RemoteIP, Proto: "TCP", Port: BgpPort}
	p.do(func() { p.lock = p.locks.Acquire(key, func() {}) })

	remote := establishOutgoing(t, p)
	defer remote.Close()

	readFrame(t, remote) // Open
	writeFrame(t, remote, MsgOpen, []byte("open"))
	readFrame(t, remote) // Keepalive
	writeFrame(t, remote, MsgKeepalive, nil)

	require.Eventually(t, func() bool { return handle.upCount() == 1 }, time.Second, 5*time.Millisecond)

	p.do(func() { p.importedRouteCount(6) })

	notif := readFrame(t, remote) // Cease/RouteLimitExceeded, queued by importedRouteCount
	require.Equal(t, MsgNotification, notif.typ)
	require.Equal(t, uint8(CEASE), notif.body[0])

	require.Eventually(t, func() bool {
		var state PeerState
		var lockHeld bool
		p.do(func() { state = p.state; lockHeld = p.lock != nil })
		return state == PeerStart && lockHeld
	}, 5*time.Second, 10*time.Millisecond, "a route-limit stop must re-initiate rather than tear the peer down")

	var status string
	p.do(func() { status = formatStatus(p) })
	require.Equal(t, "Idle Automatic shutdown: Route limit exceeded", status)
}

func TestAcceptableRequiresStartupPastPrepare(t *testing.T) {
	p, _ := newTestPeer(t, &fakeHandle{})
	require.False(t, p.acceptable(), "a peer still in Prepare must not accept inbound connections")

	p.do(func() {
		p.state = PeerStart
		p.startupState = StartupConnect
	})
	require.True(t, p.acceptable())
}
