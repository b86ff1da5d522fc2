package bgp

import (
	"net/netip"

	"github.com/vishvananda/netlink"
)

// NeighborHandle is an opaque entry in the daemon-wide neighbor cache,
// consumed but not owned by the engine (§6 "neigh_find").
type NeighborHandle interface {
	// Reachable reports whether the next hop is currently reachable.
	Reachable() bool
}

// NeighborCache is the interface/neighbor-cache collaborator the
// PURPOSE section places out of scope. Find must support a "sticky"
// option that returns an entry even when currently unreachable, so the
// peer can keep watching it for a reachable transition.
type NeighborCache interface {
	Find(nextHop netip.Addr, iface string, sticky bool) (NeighborHandle, bool)

	// Notify registers fn to be called when any handle's reachability
	// changes; used to drive the §4.2 "neighbor-cache notification"
	// transitions.
	Notify(fn func(NeighborHandle))
}

// netlinkNeighborHandle adapts a netlink.Neigh entry to NeighborHandle.
type netlinkNeighborHandle struct {
	neigh netlink.Neigh
}

func (h *netlinkNeighborHandle) Reachable() bool {
	switch h.neigh.State {
	case netlink.NUD_REACHABLE, netlink.NUD_PERMANENT, netlink.NUD_NOARP, netlink.NUD_STALE, netlink.NUD_DELAY, netlink.NUD_PROBE:
		return true
	default:
		return false
	}
}

// NetlinkNeighborCache is the default NeighborCache, backed by the
// kernel neighbor table via vishvananda/netlink — grounded on
// other_examples' n-netman, which uses the same library for
// interface/route introspection. The spec treats the neighbor cache's
// internals as out of scope; this is one concrete, swappable
// implementation of its interface.
type NetlinkNeighborCache struct {
	callbacks []func(NeighborHandle)
}

// NewNetlinkNeighborCache constructs a neighbor cache backed by the
// running kernel's neighbor table.
func NewNetlinkNeighborCache() *NetlinkNeighborCache {
	return &NetlinkNeighborCache{}
}

func (c *NetlinkNeighborCache) Find(nextHop netip.Addr, iface string, sticky bool) (NeighborHandle, bool) {
	var link netlink.Link
	var err error

	if iface != "" {
		link, err = netlink.LinkByName(iface)
		if err != nil {
			if sticky {
				return &netlinkNeighborHandle{}, true
			}
			return nil, false
		}
	}

	family := netlink.FAMILY_V4
	if nextHop.Is6() {
		family = netlink.FAMILY_V6
	}

	var neighs []netlink.Neigh
	if link != nil {
		neighs, err = netlink.NeighList(link.Attrs().Index, family)
	} else {
		neighs, err = netlink.NeighList(0, family)
	}
	if err != nil {
		if sticky {
			return &netlinkNeighborHandle{}, true
		}
		return nil, false
	}

	for _, n := range neighs {
		addr, ok := netip.AddrFromSlice(n.IP)
		if !ok {
			continue
		}
		if addr.Unmap() == nextHop.Unmap() {
			return &netlinkNeighborHandle{neigh: n}, true
		}
	}

	if sticky {
		return &netlinkNeighborHandle{}, true
	}
	return nil, false
}

// Notify registers fn for reachability-change callbacks. The default
// implementation does not subscribe to kernel netlink notifications
// (that belongs to the interface/neighbor cache module the spec
// places out of scope); it exists so test doubles and future socket
// subscribers share one interface.
func (c *NetlinkNeighborCache) Notify(fn func(NeighborHandle)) {
	c.callbacks = append(c.callbacks, fn)
}
