package session

import (
	"strings"
)

// minAnswerRunes is the threshold below which a user utterance is treated as
// filler ("uh", "hello") rather than an answer.
const minAnswerRunes = 10

// TurnCoordinator owns the transcript and the position in the question list.
// It is only ever called from the session's event loop, so it needs no locks.
type TurnCoordinator struct {
	questions []string
	index     int
	turns     []Turn
}

func NewTurnCoordinator(questions []string) *TurnCoordinator {
	return &TurnCoordinator{questions: questions}
}

// AddUser appends a user transcript turn.
func (t *TurnCoordinator) AddUser(text string) {
	t.turns = append(t.turns, Turn{Speaker: SpeakerUser, Text: text})
}

// AddAgent appends an agent transcript turn.
func (t *TurnCoordinator) AddAgent(text string) {
	t.turns = append(t.turns, Turn{Speaker: SpeakerAgent, Text: text})
}

// Substantial reports whether an utterance is long enough to count as an
// answer: more than minAnswerRunes runes after trimming.
func Substantial(text string) bool {
	return len([]rune(strings.TrimSpace(text))) > minAnswerRunes
}

// FirstQuestion returns the opening question without consuming it; the index
// advances only when an answer is accepted.
func (t *TurnCoordinator) FirstQuestion() (string, bool) {
	if len(t.questions) == 0 {
		return "", false
	}
	return t.questions[0], true
}

// NextQuestion moves past the question just answered and returns the next one
// to ask. ok is false when the list is exhausted. The index never decreases
// and never exceeds the number of questions.
func (t *TurnCoordinator) NextQuestion() (string, bool) {
	if t.index < len(t.questions) {
		t.index++
	}
	if t.index >= len(t.questions) {
		return "", false
	}
	return t.questions[t.index], true
}

// Exhausted reports whether every question has been answered, or there were
// none to begin with.
func (t *TurnCoordinator) Exhausted() bool {
	return t.index >= len(t.questions)
}

// Index returns how many questions have been answered.
func (t *TurnCoordinator) Index() int { return t.index }

// TurnCount returns the transcript length.
func (t *TurnCoordinator) TurnCount() int { return len(t.turns) }

// Turns returns a copy of the transcript.
func (t *TurnCoordinator) Turns() []Turn {
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Transcript renders the conversation as text for scoring and delivery.
func (t *TurnCoordinator) Transcript() string {
	return FormatTranscript(t.turns)
}
