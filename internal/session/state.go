package session

// State is the lifecycle position of a call session. Transitions only move
// forward along the graph; Closed is terminal.
type State int

const (
	StateConnecting State = iota
	StateGreeting
	StateAwaitingAnswer
	StateAdvancing
	StateEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateGreeting:
		return "greeting"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateAdvancing:
		return "advancing"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var transitions = map[State][]State{
	StateConnecting:     {StateGreeting, StateEnding},
	StateGreeting:       {StateAwaitingAnswer, StateEnding},
	StateAwaitingAnswer: {StateAdvancing, StateEnding},
	StateAdvancing:      {StateAwaitingAnswer, StateEnding},
	StateEnding:         {StateClosed},
	StateClosed:         {},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Turn is one transcript entry. Turns are append-only, ordered by arrival at
// the orchestrator.
type Turn struct {
	Speaker Speaker
	Text    string
}
