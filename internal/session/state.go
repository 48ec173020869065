package session

// State is the lifecycle stage of the controller's active exchange.
type State int

const (
	// StateIdle means no exchange has been submitted yet.
	StateIdle State = iota
	// StateAwaitingAck means the question is out and the server has not reported answering.
	StateAwaitingAck
	// StateAnswering means fragments are streaming and the stall deadline is armed.
	StateAnswering
	// StateStalled means the stall deadline elapsed and the fallback poller owns the exchange.
	StateStalled
	// StateDone means the exchange reached a terminal outcome.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateAnswering:
		return "answering"
	case StateStalled:
		return "stalled"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// active reports whether s belongs to an in-flight exchange.
func (s State) active() bool {
	return s == StateAwaitingAck || s == StateAnswering || s == StateStalled
}
