package bgp

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

func TestJitterBounds(t *testing.T) {
	nominal := 120 * time.Second

	// Property 6 in §8: actual interval in [3v/4, v].
	lower := jitter(nominal, fixedRand{v: 1}) // maximal reduction
	upper := jitter(nominal, fixedRand{v: 0}) // no reduction

	assert.Equal(t, 90*time.Second, lower)
	assert.Equal(t, 120*time.Second, upper)
}

func TestJitterZeroDisables(t *testing.T) {
	assert.Equal(t, time.Duration(0), jitter(0, fixedRand{v: 0.5}))
}

func TestBgpTimerArmStop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timer := NewBgpTimer(clock, fixedRand{v: 0})

	require.True(t, timer.Arm(10))
	require.NotNil(t, timer.Chan())

	clock.Advance(10 * time.Second)
	select {
	case <-timer.Chan():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	timer.Stop()
	assert.Nil(t, timer.Chan())
}

func TestBgpTimerArmZeroStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	timer := NewBgpTimer(clock, NewDefaultRand())
	timer.Arm(5)
	assert.False(t, timer.Arm(0))
	assert.Nil(t, timer.Chan())
}
