package bgp

import (
	"net/netip"

	"github.com/jwhited/corebgp"
)

// Notification is the (code, subcode, data) triple transmitted
// immediately before a connection is torn down, per the GLOSSARY.
// It embeds corebgp.Notification so the wire encoding of a BGP
// NOTIFICATION message — explicitly out of scope for this engine — is
// produced by the codec collaborator, not reimplemented here.
type Notification struct {
	corebgp.Notification
}

// NewNotification builds a Notification from a BGP error code/subcode
// pair, optionally carrying diagnostic data.
func NewNotification(code, sub uint8, data []byte) Notification {
	return Notification{corebgp.Notification{Code: code, Subcode: sub, Data: data}}
}

// Codec is the opaque collaborator described in §6 "Downward
// (consumed)": message encode/decode and BGP attribute translation.
// Its shape mirrors corebgp.Plugin (see
// github.com/jwhited/corebgp and the adaptation in
// malbeclabs-doublezero's client/doublezerod/internal/bgp/plugin.go),
// but it is driven by OUR connection FSM rather than corebgp's own, so
// this engine remains the thing that decides state transitions.
type Codec interface {
	// Capabilities returns the capability set to advertise in this
	// peer's Open message.
	Capabilities(cfg PeerConfig) []corebgp.Capability

	// DecodeOpen validates a received Open's capabilities against cfg
	// and returns whether 4-byte AS numbers were negotiated, or a
	// Notification to send instead of proceeding.
	DecodeOpen(cfg PeerConfig, routerID netip.Addr, caps []corebgp.Capability) (as4 bool, notify *Notification)

	// Resolve implements the collision-resolution entry called from
	// Open receipt (§4.4): given the two candidate connections'
	// router IDs, it reports which should survive.
	Resolve(localID, remoteID netip.Addr, localIsOutgoing bool) (keepOutgoing bool)

	// DecodeUpdate translates an Update message into RIB import calls
	// via the opaque RIB importer and returns the peer's imported route
	// count afterwards, which the engine compares against route_limit;
	// it is invoked only in Established.
	DecodeUpdate(body []byte) (imported int, notify *Notification)

	// EncodeKeepalive, EncodeOpen and EncodeNotification build the
	// message bodies queued for transmission; body serialization is
	// delegated to the codec, matching "message encoding/decoding ...
	// a packet codec module" in §1, while the 19-byte header is added
	// by the socket layer.
	EncodeOpen(cfg PeerConfig, routerID netip.Addr, holdTime uint16, as4 bool) []byte
	EncodeKeepalive() []byte
	EncodeNotification(n Notification) []byte
}

// RIBImporter is the opaque routing-information-base collaborator:
// the codec reads the imported route count from it after applying an
// Update, and the engine compares that count with the configured
// route_limit (§4.7).
type RIBImporter interface {
	// Imported returns the current count of routes imported from this
	// peer, after the most recent DecodeUpdate call has been applied.
	Imported() uint64
}
