package bgp

import (
	"net/netip"
)

// Manager owns the full set of configured peers for one daemon
// instance, adapted from davidcoles/cue's Pool: a single control
// goroutine applies configuration diffs (new peer / changed peer /
// removed peer) and serves status snapshots, so callers never touch
// the peer map directly.
type Manager struct {
	newPeer func(cfg PeerConfig) *Peer

	configure chan map[string]PeerConfig
	status    chan chan map[string]string
	closed    chan struct{}
}

// NewManager starts a Manager. newPeer is the factory the manager uses
// to build a Peer for a config key it has not seen before; production
// callers supply one that closes over the shared codec, RIB, neighbor
// cache, listener, lock manager, clock, logger and metrics.
func NewManager(newPeer func(cfg PeerConfig) *Peer) *Manager {
	m := &Manager{
		newPeer:   newPeer,
		configure: make(chan map[string]PeerConfig),
		status:    make(chan chan map[string]string),
		closed:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Manager) run() {
	peers := map[string]*Peer{}

	defer func() {
		for _, p := range peers {
			p.Shutdown(PEER_DECONFIGURED)
		}
	}()

	for {
		select {
		case cfgs, ok := <-m.configure:
			if !ok {
				return
			}
			for key, cfg := range cfgs {
				if p, exists := peers[key]; exists {
					if !p.Reconfigure(cfg) {
						p.Shutdown(OTHER_CONFIGURATION_CHANGE)
						np := m.newPeer(cfg)
						np.Start()
						peers[key] = np
					}
					continue
				}
				p := m.newPeer(cfg)
				p.Start()
				peers[key] = p
			}
			for key, p := range peers {
				if _, ok := cfgs[key]; !ok {
					p.Shutdown(PEER_DECONFIGURED)
					delete(peers, key)
				}
			}

		case reply := <-m.status:
			s := make(map[string]string, len(peers))
			for key, p := range peers {
				s[key] = p.Status()
			}
			reply <- s
		}
	}
}

// Configure applies a full desired peer set, keyed by remote address
// text. Peers absent from cfgs are shut down and removed; peers
// present but unchanged per PeerConfig.Same keep their session.
func (m *Manager) Configure(cfgs map[string]PeerConfig) {
	select {
	case m.configure <- cfgs:
	case <-m.closed:
	}
}

// Status returns the current §6 status string for every managed peer.
func (m *Manager) Status() map[string]string {
	reply := make(chan map[string]string)
	select {
	case m.status <- reply:
		return <-reply
	case <-m.closed:
		return nil
	}
}

// Close shuts down every managed peer and stops the manager goroutine.
func (m *Manager) Close() {
	select {
	case <-m.closed:
	default:
		close(m.closed)
		close(m.configure)
	}
}

// Key formats the map key Manager and callers use to identify a peer
// by its remote address.
func Key(remote netip.Addr) string { return remote.String() }
