package bgp

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesWithinAmnesiaWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBackoff(clock)
	cfg := DefaultPeerConfig()
	cfg.ErrorDelayMin = 10
	cfg.ErrorDelayMax = 160
	cfg.ErrorAmnesiaTime = 300

	b.Update(cfg)
	assert.Equal(t, uint16(10), b.Delay())

	clock.Advance(5 * time.Second)
	b.Update(cfg)
	assert.Equal(t, uint16(20), b.Delay())

	clock.Advance(5 * time.Second)
	b.Update(cfg)
	assert.Equal(t, uint16(40), b.Delay())
}

func TestBackoffCapsAtMax(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBackoff(clock)
	cfg := DefaultPeerConfig()
	cfg.ErrorDelayMin = 60
	cfg.ErrorDelayMax = 120
	cfg.ErrorAmnesiaTime = 300

	for i := 0; i < 5; i++ {
		b.Update(cfg)
		clock.Advance(time.Second)
	}
	assert.Equal(t, cfg.ErrorDelayMax, b.Delay())
}

func TestBackoffResetsAfterAmnesiaWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBackoff(clock)
	cfg := DefaultPeerConfig()
	cfg.ErrorDelayMin = 10
	cfg.ErrorDelayMax = 160
	cfg.ErrorAmnesiaTime = 30

	b.Update(cfg)
	clock.Advance(10 * time.Second)
	b.Update(cfg)
	assert.Equal(t, uint16(20), b.Delay())

	clock.Advance(31 * time.Second)
	b.Update(cfg)
	assert.Equal(t, uint16(10), b.Delay(), "a gap beyond error_amnesia_time should reset back-off to the minimum")
}

func TestBackoffDisableAfterError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBackoff(clock)
	cfg := DefaultPeerConfig()
	cfg.DisableAfterError = true
	cfg.ErrorDelayMin = 10

	b.Update(cfg)
	assert.Equal(t, uint16(0), b.Delay())
}

func TestBackoffReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBackoff(clock)
	cfg := DefaultPeerConfig()
	b.Update(cfg)
	assert.NotZero(t, b.Delay())
	b.Reset()
	assert.Zero(t, b.Delay())
}

func TestLastErrorMessageByClass(t *testing.T) {
	assert.Equal(t, "", LastError{}.Message())
	assert.Equal(t, "Neighbor lost", LastError{Class: ErrorMisc, Code: MiscNeighborLost}.Message())
	assert.Contains(t, LastError{Class: ErrorBgpTx, Code: bgpTxCode(CEASE, ADMINISTRATIVE_SHUTDOWN)}.Message(), "administrative shutdown")
}
