package bgp

import "fmt"

// formatStatus implements the §6 get_status grammar: when Down,
// "<class-prefix><message>"; otherwise "<highest-conn-state-name>
// <class-prefix><message>". "Highest" connection state is whichever of
// the two slots has progressed furthest through the FSM ordering
// Idle < Connect < Active < OpenSent < OpenConfirm < Established <
// Close, matching the one status line Peer.Status renders for a peer
// that may have two connections live during collision resolution.
func formatStatus(p *Peer) string {
	prefix := classPrefix(p.lastError)
	msg := p.lastError.Message()

	if p.state == PeerDown {
		return prefix + msg
	}

	return fmt.Sprintf("%s %s%s", highestState(p), prefix, msg)
}

func classPrefix(e LastError) string {
	if e.Class == ErrorNone {
		return ""
	}
	return e.Class.String() + ": "
}

func highestState(p *Peer) ConnState {
	highest := StateIdle
	for _, c := range []*Connection{p.outgoing, p.incoming} {
		if c == nil {
			continue
		}
		if c.stateOf() > highest {
			highest = c.stateOf()
		}
	}
	return highest
}
