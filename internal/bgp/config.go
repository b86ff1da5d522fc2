package bgp

import "net/netip"

// MissingLLAddr is the policy applied when an IPv6 peer advertises a
// next hop with no link-local address attached.
type MissingLLAddr uint8

const (
	MissingLLAddrSelf MissingLLAddr = iota
	MissingLLAddrDrop
	MissingLLAddrIgnore
)

// PeerConfig is immutable for the lifetime of a running PeerInstance.
// Fields are compared field-by-field (except Password) by Same, which
// backs the "reconfigure returns same" contract in the spec.
type PeerConfig struct {
	LocalAS  uint32
	RemoteAS uint32
	RemoteIP netip.Addr

	Interface string
	SourceIP  netip.Addr

	HoldTime         uint16 // default 240
	InitialHoldTime  uint16 // default 240
	ConnectRetryTime uint16 // default 120
	KeepaliveTime    uint16 // 0 == derive from HoldTime/3

	MultihopTTL uint8
	MultihopVia netip.Addr

	Passive        bool
	Capabilities   bool
	EnableAS4      bool
	EnableRefresh  bool
	RouteRefresh   bool
	RRClient       bool
	RSClient       bool
	RRClusterID    uint32
	Password       string
	RouteLimit     uint64
	NextHopSelf    bool
	PreferOlder    bool
	DefaultMED     uint32
	DefaultLocalPref uint32

	StartDelayTime   uint16 // default 5
	ErrorAmnesiaTime uint16 // default 300
	ErrorDelayMin    uint16 // default 60
	ErrorDelayMax    uint16 // default 300
	DisableAfterError bool

	MissingLLAddr MissingLLAddr
}

// DefaultPeerConfig returns a config with every documented default
// filled in; callers overlay user-supplied fields on top of this.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		HoldTime:         240,
		InitialHoldTime:  240,
		ConnectRetryTime: 120,
		Capabilities:     true,
		EnableAS4:        true,
		EnableRefresh:    true,
		DefaultLocalPref: 100,
		StartDelayTime:   5,
		ErrorAmnesiaTime: 300,
		ErrorDelayMin:    60,
		ErrorDelayMax:    300,
	}
}

// EffectiveKeepalive returns KeepaliveTime if set, else HoldTime/3.
func (c PeerConfig) EffectiveKeepalive() uint16 {
	if c.KeepaliveTime != 0 {
		return c.KeepaliveTime
	}
	return c.HoldTime / 3
}

// EffectiveNextHop returns MultihopVia when multihop is configured via
// an explicit next hop, else RemoteIP.
func (c PeerConfig) EffectiveNextHop() netip.Addr {
	if c.MultihopVia.IsValid() {
		return c.MultihopVia
	}
	return c.RemoteIP
}

// Same implements the §6 reconfigure contract: every field except
// Password must be identical, and Password must string-compare equal.
// It is a plain struct comparison because PeerConfig holds only
// comparable fields (netip.Addr is comparable).
func (c PeerConfig) Same(other PeerConfig) bool {
	a, b := c, other
	a.Password, b.Password = "", ""
	return a == b && c.Password == other.Password
}
