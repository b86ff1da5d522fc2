package bgp

import (
	"fmt"
	"net/netip"
	"sync"
)

// LockKey identifies the (address, protocol, port) triple serialized
// by the object-lock subsystem, per the GLOSSARY.
type LockKey struct {
	Addr  netip.Addr
	Proto string
	Port  uint16
}

func (k LockKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Addr, k.Proto, k.Port)
}

// ObjectLock is a handle returned by ObjectLockManager.Acquire. The
// caller's grant callback runs once, when the lock becomes available;
// Release gives it back.
type ObjectLock struct {
	key     LockKey
	mgr     *ObjectLockManager
	granted bool
}

// Release relinquishes the lock, running the next waiter's grant
// callback (if any) synchronously. Safe to call once; a second call is
// a no-op.
func (l *ObjectLock) Release() {
	if l == nil || l.mgr == nil {
		return
	}
	l.mgr.release(l.key)
	l.mgr = nil
}

// ObjectLockManager serializes peer-IP contention across instances
// sharing this process, matching the GLOSSARY's "external mutual
// exclusion primitive". It is in-process only: the spec's "external
// object-lock protocol that serializes peer-IP contention across
// multiple instances" assumes a daemon-wide (possibly cross-process)
// manager; this is the default, in-memory implementation a single
// daemon instance uses for its own peer set.
type ObjectLockManager struct {
	mu      sync.Mutex
	holders map[LockKey]bool
	waiters map[LockKey][]func()
}

// NewObjectLockManager returns an empty manager.
func NewObjectLockManager() *ObjectLockManager {
	return &ObjectLockManager{
		holders: make(map[LockKey]bool),
		waiters: make(map[LockKey][]func()),
	}
}

// Acquire requests the lock for key. grant is always invoked
// asynchronously (never on the calling goroutine), so a caller that
// serializes its own state through a single control goroutine — as
// Peer does — can safely call Acquire from within that goroutine
// without deadlocking on an uncontended grant. Until granted, the
// caller remains in Prepare per §4.2.
func (m *ObjectLockManager) Acquire(key LockKey, grant func()) *ObjectLock {
	m.mu.Lock()
	lock := &ObjectLock{key: key, mgr: m}
	if !m.holders[key] {
		m.holders[key] = true
		m.mu.Unlock()
		lock.granted = true
		go grant()
		return lock
	}
	m.waiters[key] = append(m.waiters[key], func() {
		lock.granted = true
		grant()
	})
	m.mu.Unlock()
	return lock
}

func (m *ObjectLockManager) release(key LockKey) {
	m.mu.Lock()
	next, ok := m.waiters[key]
	if !ok || len(next) == 0 {
		delete(m.holders, key)
		m.mu.Unlock()
		return
	}
	fn := next[0]
	m.waiters[key] = next[1:]
	m.mu.Unlock()
	fn()
}
