package bgp

import (
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
)

func secondsDuration(s uint16) time.Duration {
	return time.Duration(s) * time.Second
}

// RandSource is the single pluggable RNG the randomized timer wrapper
// draws from, per the DESIGN NOTES: tests pin it to return 0 (upper
// bound) or 1 (lower bound) to make the up-to-25% reduction
// deterministic.
type RandSource interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
}

type defaultRand struct{ r *rand.Rand }

func (d defaultRand) Float64() float64 { return d.r.Float64() }

// NewDefaultRand returns a RandSource backed by math/rand, seeded from
// the current time.
func NewDefaultRand() RandSource {
	return defaultRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// jitter applies the RFC 1771 §9.2.3.3 reduction: actual = nominal -
// rand(0, nominal/4). nominal of 0 yields 0 (timer disabled).
func jitter(nominal time.Duration, src RandSource) time.Duration {
	if nominal <= 0 {
		return 0
	}
	quarter := nominal / 4
	reduction := time.Duration(src.Float64() * float64(quarter))
	return nominal - reduction
}

// BgpTimer wraps a clockwork.Timer with the jitter rule applied at
// Arm time. A nominal value of 0 stops the timer, matching §4.5.
type BgpTimer struct {
	clock clockwork.Clock
	rand  RandSource
	timer clockwork.Timer
}

// NewBgpTimer constructs a stopped BgpTimer on the given clock/rand.
func NewBgpTimer(clock clockwork.Clock, rand RandSource) *BgpTimer {
	return &BgpTimer{clock: clock, rand: rand}
}

// Arm (re)starts the timer for nominalSeconds, jittered. Arming with 0
// stops any running timer and returns false.
func (t *BgpTimer) Arm(nominalSeconds uint16) bool {
	t.Stop()
	if nominalSeconds == 0 {
		return false
	}
	d := jitter(secondsDuration(nominalSeconds), t.rand)
	t.timer = t.clock.NewTimer(d)
	return true
}

// Stop releases the underlying timer, if any. Safe to call repeatedly.
func (t *BgpTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Chan returns the firing channel of the currently armed timer, or nil
// if unarmed (a nil channel blocks forever in a select, which is the
// behavior we want for "no timer").
func (t *BgpTimer) Chan() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.Chan()
}
