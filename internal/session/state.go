package session

// State is the lifecycle phase of a session.
type State int32

const (
	Connecting State = iota
	Active
	Closing
	Terminated
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// Reason names what moved a session to Closing.
type Reason string

const (
	ReasonTool      Reason = "tool"
	ReasonSignal    Reason = "signal"
	ReasonTimeout   Reason = "timeout"
	ReasonTransport Reason = "transport"
	ReasonShutdown  Reason = "shutdown"
)

// Side-channel topics.
const (
	TopicAgentStatus = "agent_status"
	TopicEndCall     = "end_call"
	TopicScorecard   = "scorecard"
	TopicRecord      = "session_record"
)
