package bgp

// BGP notification error codes and subcodes, per RFC 4271 §4.5. These
// are wire-protocol constants, not part of the opaque codec boundary
// (§1 non-goal): the engine itself decides which notification to send
// and needs the numbers to do so, even though it never parses the
// attribute payload that travels alongside them.
const (
	MESSAGE_HEADER_ERROR = 1
	OPEN_ERROR           = 2
	UPDATE_MESSAGE_ERROR = 3
	HOLD_TIMER_EXPIRED   = 4
	FSM_ERROR            = 5
	CEASE                = 6
)

// MESSAGE_HEADER_ERROR subcodes.
const (
	CONNECTION_NOT_SYNCHRONIZED = 1
	BAD_MESSAGE_LENGTH          = 2
	BAD_MESSAGE_TYPE            = 3
)

// OPEN_ERROR subcodes.
const (
	UNSUPPORTED_VERSION_NUMBER = 1
	BAD_PEER_AS                = 2
	BAD_BGP_ID                 = 3
	UNSUPPORTED_OPTIONAL_PARAM = 4
	UNACCEPTABLE_HOLD_TIME     = 6
)

// CEASE subcodes.
const (
	MAXIMUM_PREFIXES_REACHED        = 1
	ADMINISTRATIVE_SHUTDOWN         = 2
	PEER_DECONFIGURED               = 3
	ADMINISTRATIVE_RESET            = 4
	CONNECTION_REJECTED             = 5
	OTHER_CONFIGURATION_CHANGE      = 6
	CONNECTION_COLLISION_RESOLUTION = 7
	OUT_OF_RESOURCES                = 8
)

// noteFor renders a short human note for a (code, subcode) pair, used
// by LastError.Message for BgpRx/BgpTx classes in the §6 get_status
// grammar.
func noteFor(code, sub uint8) string {
	switch code {
	case MESSAGE_HEADER_ERROR:
		s := "Message header error"
		if sub == BAD_MESSAGE_TYPE {
			s += "; bad message type"
		}
		return s

	case OPEN_ERROR:
		s := "Open error"
		switch sub {
		case UNSUPPORTED_VERSION_NUMBER:
			s += "; unsupported version number"
		case BAD_PEER_AS:
			s += "; bad peer AS"
		case BAD_BGP_ID:
			s += "; bad BGP identifier"
		case UNACCEPTABLE_HOLD_TIME:
			s += "; unacceptable hold time"
		}
		return s

	case UPDATE_MESSAGE_ERROR:
		return "Update message error"

	case FSM_ERROR:
		return "Finite state machine error"

	case HOLD_TIMER_EXPIRED:
		return "Hold timer expired"

	case CEASE:
		s := "Cease"
		switch sub {
		case MAXIMUM_PREFIXES_REACHED:
			s += "; maximum prefixes reached"
		case ADMINISTRATIVE_SHUTDOWN:
			s += "; administrative shutdown"
		case PEER_DECONFIGURED:
			s += "; peer deconfigured"
		case ADMINISTRATIVE_RESET:
			s += "; administrative reset"
		case CONNECTION_REJECTED:
			s += "; connection rejected"
		case OTHER_CONFIGURATION_CHANGE:
			s += "; other configuration change"
		case CONNECTION_COLLISION_RESOLUTION:
			s += "; connection collision resolution"
		case OUT_OF_RESOURCES:
			s += "; out of resources"
		}
		return s

	default:
		return "unrecognised"
	}
}
