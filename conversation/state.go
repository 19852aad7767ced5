package conversation

// State is the Conversation's outward connection state (spec §3). CONNECTING
// subsumes both transport-connecting and in-flight handshaking.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
	ErrorState
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	case ErrorState:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ServerFeedState is the per-serial feed state the Conversation owns
// (spec §3). FeedTerminated is a client-internal state, never observed
// outside this package: callers see it reported as FeedClosing via
// Conversation.FeedState.
type ServerFeedState int

const (
	FeedClosed ServerFeedState = iota
	FeedOpening
	FeedOpen
	FeedClosing
	FeedTerminated
)

func (s ServerFeedState) String() string {
	switch s {
	case FeedClosed:
		return "CLOSED"
	case FeedOpening:
		return "OPENING"
	case FeedOpen:
		return "OPEN"
	case FeedClosing:
		return "CLOSING"
	case FeedTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
