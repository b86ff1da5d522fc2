package bgp

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObjectLockGrantsUncontendedAsynchronously(t *testing.T) {
	m := NewObjectLockManager()
	key := LockKey{Addr: netip.MustParseAddr("192.0.2.1"), Proto: "TCP", Port: BgpPort}

	granted := make(chan struct{})
	lock := m.Acquire(key, func() { close(granted) })
	require.NotNil(t, lock)

	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("grant callback never ran")
	}
}

func TestObjectLockSerializesContendedWaiters(t *testing.T) {
	m := NewObjectLockManager()
	key := LockKey{Addr: netip.MustParseAddr("192.0.2.1"), Proto: "TCP", Port: BgpPort}

	firstGranted := make(chan struct{})
	first := m.Acquire(key, func() { close(firstGranted) })
	<-firstGranted

	secondGranted := make(chan struct{})
	m.Acquire(key, func() { close(secondGranted) })

	select {
	case <-secondGranted:
		t.Fatal("second waiter must not be granted while the first holds the lock")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	select {
	case <-secondGranted:
	case <-time.After(time.Second):
		t.Fatal("second waiter was never granted after release")
	}
}

func TestObjectLockReleaseIsIdempotent(t *testing.T) {
	m := NewObjectLockManager()
	key := LockKey{Addr: netip.MustParseAddr("192.0.2.1"), Proto: "TCP", Port: BgpPort}
	granted := make(chan struct{})
	lock := m.Acquire(key, func() { close(granted) })
	<-granted

	lock.Release()
	lock.Release() // must not panic or double-release to a waiter
}
