package bgp

import (
	"net/netip"

	"github.com/jwhited/corebgp"
	gobgp "github.com/osrg/gobgp/pkg/packet/bgp"
)

// DefaultCodec is a minimal Codec that exercises the corebgp/gobgp
// vocabulary for message construction without implementing the full
// attribute-translation layer the spec places out of scope (§1 "a
// packet codec module" is a named non-goal). It advertises only the
// IPv4 unicast multiprotocol capability, accepts any Open unconditionally,
// and resolves collisions by BGP identifier per RFC 4271 §6.8 (the
// connection initiated by the speaker with the numerically lower
// router ID is the one that is closed). Production deployments are
// expected to supply their own Codec wrapping the NLRI/attribute
// semantics they actually speak; this implementation is wired up by
// cmd/bgpd as the default when none is configured.
type DefaultCodec struct {
	rib RIBImporter
}

// NewDefaultCodec builds a DefaultCodec reporting import counts from rib.
func NewDefaultCodec(rib RIBImporter) *DefaultCodec {
	return &DefaultCodec{rib: rib}
}

func (c *DefaultCodec) Capabilities(cfg PeerConfig) []corebgp.Capability {
	caps := []corebgp.Capability{
		corebgp.NewMPExtensionsCapability(corebgp.AFI_IPV4, corebgp.SAFI_UNICAST),
	}
	return caps
}

func (c *DefaultCodec) DecodeOpen(cfg PeerConfig, routerID netip.Addr, caps []corebgp.Capability) (bool, *Notification) {
	return cfg.EnableAS4, nil
}

// Resolve implements RFC 4271 §6.8 collision resolution: the
// connection initiated by the BGP speaker with the lower BGP
// Identifier is closed. The answer is a global fact about the pair of
// connections (which one we dialed ourselves), not about whichever
// connection happens to be asking, so localIsOutgoing plays no part in
// the decision itself.
func (c *DefaultCodec) Resolve(localID, remoteID netip.Addr, localIsOutgoing bool) bool {
	return compareAddr(localID, remoteID) > 0
}

func compareAddr(a, b netip.Addr) int {
	ab, bb := a.As4(), b.As4()
	for i := range ab {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (c *DefaultCodec) DecodeUpdate(body []byte) (int, *Notification) {
	update := gobgp.BGPUpdate{}
	if err := update.DecodeFromBytes(body); err != nil {
		n := NewNotification(UPDATE_MESSAGE_ERROR, 0, nil)
		return 0, &n
	}

	delta := len(update.NLRI) - len(update.WithdrawnRoutes)
	if c.rib != nil {
		delta = int(c.rib.Imported())
	}
	return delta, nil
}

func (c *DefaultCodec) EncodeOpen(cfg PeerConfig, routerID netip.Addr, holdTime uint16, as4 bool) []byte {
	as := uint16(cfg.LocalAS)
	if cfg.LocalAS > 0xffff {
		as = 23456 // AS_TRANS, per RFC 6793; this Open carries no optional parameters, so the four-octet value is not sent
	}
	msg := gobgp.NewBGPOpenMessage(as, holdTime, routerID.String(), nil)
	body, _ := msg.Body.Serialize()
	return body
}

func (c *DefaultCodec) EncodeKeepalive() []byte {
	msg := gobgp.NewBGPKeepAliveMessage()
	body, _ := msg.Body.Serialize()
	return body
}

func (c *DefaultCodec) EncodeNotification(n Notification) []byte {
	msg := gobgp.NewBGPNotificationMessage(n.Code, n.Subcode, n.Data)
	body, _ := msg.Body.Serialize()
	return body
}
