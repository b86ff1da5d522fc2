package bgp

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBgpErrorNoOpWhenAlreadyClosedOrIdle(t *testing.T) {
	p, _ := newTestPeer(t, &fakeHandle{})
	c := newConnection(p, true)

	c.state = StateClose
	c.bgpError(FSM_ERROR, 0, nil)
	assert.Equal(t, ErrorClass(0), p.lastError.Class, "bgpError on a Close connection must not record a new error")

	c.state = StateIdle
	c.bgpError(FSM_ERROR, 0, nil)
	assert.Equal(t, ErrorClass(0), p.lastError.Class, "bgpError on an Idle connection must not record a new error")
}

func TestImportedRouteCountExceedingLimitSendsCease(t *testing.T) {
	p, _ := newTestPeer(t, &fakeHandle{})
	p.cfg.RouteLimit = 10

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	p.outgoing = newConnection(p, true)
	p.outgoing.state = StateEstablished
	p.outgoing.sock = newSocket(clientConn)
	p.active = p.outgoing

	p.importedRouteCount(11)

	assert.Equal(t, ErrorAutoDown, p.lastError.Class)
	assert.Equal(t, AutoDownRouteLimitExceeded, p.lastError.Code)
	assert.Equal(t, PeerStop, p.state)
	assert.NotZero(t, p.backoff.Delay())
	assert.Equal(t, StateClose, p.outgoing.state)
}

func TestImportedRouteCountWithinLimitIsNoop(t *testing.T) {
	p, _ := newTestPeer(t, &fakeHandle{})
	p.cfg.RouteLimit = 10
	p.state = PeerUp

	p.importedRouteCount(5)

	assert.Equal(t, ErrorNone, p.lastError.Class)
	assert.Equal(t, PeerUp, p.state)
}

func TestOnHoldExpiredExtendsWhileSocketHasPendingBytes(t *testing.T) {
	p, _ := newTestPeer(t, &fakeHandle{})
	c := newConnection(p, true)
	c.state = StateEstablished
	c.holdNominal = 90

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	// a pending bit left set without signaling the writer, standing in
	// for one whose writer goroutine is still mid-drain on a congested
	// connection.
	c.sock = newSocket(clientConn)
	c.sock.pending = PendingUpdate

	c.onHoldExpired()

	assert.Equal(t, StateEstablished, c.state, "a socket with bytes still queued must not fail the hold timer")
}

func TestOnHoldExpiredFailsWhenSocketIsIdle(t *testing.T) {
	p, _ := newTestPeer(t, &fakeHandle{})
	c := newConnection(p, true)
	c.state = StateEstablished
	c.holdNominal = 90

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()
	c.sock = newSocket(clientConn)

	c.onHoldExpired()

	assert.Equal(t, StateClose, c.state)
	assert.Equal(t, ErrorBgpTx, p.lastError.Class)
}

func TestDefaultCodecResolveKeepsHigherIDOutgoing(t *testing.T) {
	codec := NewDefaultCodec(&CounterRIB{})
	low := netip.MustParseAddr("10.0.0.1")
	high := netip.MustParseAddr("10.0.0.2")

	// the answer depends only on the ID pair, never on which
	// connection happens to be asking
	assert.True(t, codec.Resolve(high, low, true))
	assert.True(t, codec.Resolve(high, low, false))
	assert.False(t, codec.Resolve(low, high, true))
	assert.False(t, codec.Resolve(low, high, false))
}

func TestPassiveOutgoingNeverDialsAcrossRepeatedConnectRetry(t *testing.T) {
	p, _ := newTestPeer(t, &fakeHandle{})
	p.cfg.Passive = true

	c := newConnection(p, true)
	c.start(false)
	assert.Equal(t, StateActive, c.state)
	assert.Nil(t, c.sock)

	for i := 0; i < 5; i++ {
		c.onConnectRetry()
		assert.Equal(t, StateActive, c.state, "passive outgoing slot must stay parked in Active")
		assert.Nil(t, c.sock, "passive outgoing slot must never dial out")
	}
}

func TestResolveCollisionClosesTheLoser(t *testing.T) {
	p, _ := newTestPeer(t, &fakeHandle{})
	p.localID = netip.MustParseAddr("10.0.0.1")
	p.cfg.RemoteIP = netip.MustParseAddr("10.0.0.2")
	p.codec = NewDefaultCodec(&CounterRIB{})

	p.outgoing = newConnection(p, true)
	p.incoming = newConnection(p, false)
	p.outgoing.state = StateEstablished
	p.incoming.state = StateOpenConfirm

	// p.localID (10.0.0.1) is lower than RemoteIP (10.0.0.2), so our
	// outgoing connection is the one collision resolution closes.
	p.incoming.toEstablished()

	assert.Equal(t, StateClose, p.outgoing.state)
	assert.Equal(t, PeerUp, p.state)
	assert.Equal(t, p.incoming, p.active)
}
