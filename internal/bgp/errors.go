package bgp

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrorClass classifies the last recorded error on a peer, per §3/§7.
type ErrorClass uint8

const (
	ErrorNone ErrorClass = iota
	ErrorMisc
	ErrorSocket
	ErrorBgpRx
	ErrorBgpTx
	ErrorAutoDown
	ErrorManDown
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorMisc:
		return "Misc"
	case ErrorSocket:
		return "Socket"
	case ErrorBgpRx:
		return "BgpRx"
	case ErrorBgpTx:
		return "BgpTx"
	case ErrorAutoDown:
		return "Automatic shutdown"
	case ErrorManDown:
		return "Administratively down"
	default:
		return "None"
	}
}

// Misc error codes.
const (
	MiscNeighborLost uint32 = iota + 1
	MiscInvalidNextHop
	MiscInvalidMd5
)

// AutoDown error codes.
const (
	AutoDownRouteLimitExceeded uint32 = iota + 1
)

func miscMessage(code uint32) string {
	switch code {
	case MiscNeighborLost:
		return "Neighbor lost"
	case MiscInvalidNextHop:
		return "Invalid next hop"
	case MiscInvalidMd5:
		return "Invalid MD5 key"
	default:
		return "Unknown error"
	}
}

func autoDownMessage(code uint32) string {
	switch code {
	case AutoDownRouteLimitExceeded:
		return "Route limit exceeded"
	default:
		return "Unknown"
	}
}

// LastError is the peer's retained error summary used for status
// reporting. BgpRx/BgpTx encode (code<<16)|subcode per §3.
type LastError struct {
	Class ErrorClass
	Code  uint32
}

// Message renders the human summary that formatStatus places after the
// class prefix (the prefix itself comes from classPrefix, not Message).
func (e LastError) Message() string {
	switch e.Class {
	case ErrorNone:
		return ""
	case ErrorMisc:
		return miscMessage(e.Code)
	case ErrorSocket:
		return fmt.Sprintf("Socket error: %d", e.Code)
	case ErrorBgpRx:
		code, sub := uint8(e.Code>>16), uint8(e.Code)
		return fmt.Sprintf("Received: %s", noteFor(code, sub))
	case ErrorBgpTx:
		code, sub := uint8(e.Code>>16), uint8(e.Code)
		return fmt.Sprintf("%s", noteFor(code, sub))
	case ErrorAutoDown:
		return autoDownMessage(e.Code)
	case ErrorManDown:
		return "Administrative shutdown"
	default:
		return "Unknown"
	}
}

func bgpTxCode(code, sub uint8) uint32 {
	return uint32(code)<<16 | uint32(sub)
}

// Backoff tracks the startup-delay state described in §4.6: successive
// protocol errors within ErrorAmnesiaTime double the delay up to
// ErrorDelayMax; an error separated from the last by at least the
// amnesia window resets to zero first.
type Backoff struct {
	clock             clockwork.Clock
	lastProtoError    time.Time
	hasLastProtoError bool
	startupDelay      uint16
}

// NewBackoff constructs a Backoff driven by clock, so tests can advance
// a fake clock instead of sleeping (property 7 in §8).
func NewBackoff(clock clockwork.Clock) *Backoff {
	return &Backoff{clock: clock}
}

// Delay returns the current startup_delay in seconds.
func (b *Backoff) Delay() uint16 { return b.startupDelay }

// Reset clears startup_delay and the remembered last-error time.
func (b *Backoff) Reset() {
	b.startupDelay = 0
	b.hasLastProtoError = false
}

// Update implements update_startup_delay from §4.6. disableAfterError
// and the two error_delay_time bounds come from the owning peer's
// config.
func (b *Backoff) Update(cfg PeerConfig) {
	now := b.clock.Now()

	if !b.hasLastProtoError || now.Sub(b.lastProtoError) >= secondsDuration(cfg.ErrorAmnesiaTime) {
		b.startupDelay = 0
	}

	b.lastProtoError = now
	b.hasLastProtoError = true

	if cfg.DisableAfterError {
		b.startupDelay = 0
		return
	}

	if b.startupDelay == 0 {
		b.startupDelay = cfg.ErrorDelayMin
		return
	}

	doubled := uint32(b.startupDelay) * 2
	max := uint32(cfg.ErrorDelayMax)
	if doubled > max {
		doubled = max
	}
	b.startupDelay = uint16(doubled)
}
