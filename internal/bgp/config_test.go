package bgp

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeerConfigSameRequiresIdenticalPassword(t *testing.T) {
	base := DefaultPeerConfig()
	base.RemoteIP = netip.MustParseAddr("192.0.2.1")
	base.Password = "hunter2"

	other := base
	other.Password = "different"

	assert.False(t, base.Same(other), "passwords must string-compare equal for Same")
}

func TestPeerConfigSameDetectsOtherFieldChanges(t *testing.T) {
	base := DefaultPeerConfig()
	base.RemoteIP = netip.MustParseAddr("192.0.2.1")

	other := base
	other.HoldTime = base.HoldTime + 1

	assert.False(t, base.Same(other))
}

func TestPeerConfigSameRequiresExactPasswordMatch(t *testing.T) {
	base := DefaultPeerConfig()
	base.Password = "abc"
	other := base
	other.Password = "ABC"

	assert.False(t, base.Same(other), "password comparison is a plain string compare, case included")
}

func TestPeerConfigSameTrueWhenIdentical(t *testing.T) {
	base := DefaultPeerConfig()
	base.RemoteIP = netip.MustParseAddr("192.0.2.1")
	base.Password = "hunter2"

	other := base
	assert.True(t, base.Same(other))
}

func TestEffectiveKeepaliveDerivesFromHoldTime(t *testing.T) {
	cfg := DefaultPeerConfig()
	cfg.HoldTime = 90
	assert.Equal(t, uint16(30), cfg.EffectiveKeepalive())

	cfg.KeepaliveTime = 10
	assert.Equal(t, uint16(10), cfg.EffectiveKeepalive())
}

func TestEffectiveNextHopPrefersMultihopVia(t *testing.T) {
	cfg := DefaultPeerConfig()
	cfg.RemoteIP = netip.MustParseAddr("192.0.2.1")
	assert.Equal(t, cfg.RemoteIP, cfg.EffectiveNextHop())

	cfg.MultihopVia = netip.MustParseAddr("198.51.100.1")
	assert.Equal(t, cfg.MultihopVia, cfg.EffectiveNextHop())
}
