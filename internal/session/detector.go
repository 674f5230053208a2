package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/chai-dev682/plivo-interview-phone-agent/pkg/logger"
)

// Classifier is the second detection tier: an external model deciding whether
// the conversation has concluded.
type Classifier interface {
	ClassifyCallEnd(ctx context.Context, transcript string) (bool, error)
}

// minTurnsForClassifier is the transcript size below which the classifier
// tier is skipped; very short conversations never end themselves.
const minTurnsForClassifier = 5

// EndDetector decides whether a conversation is over. It is a pure function
// of the transcript passed in, so repeated calls on the same prefix agree.
type EndDetector struct {
	Phrases    *PhraseSet
	Classifier Classifier
	MinTurns   int
}

func NewEndDetector(phrases *PhraseSet, classifier Classifier) *EndDetector {
	return &EndDetector{Phrases: phrases, Classifier: classifier, MinTurns: minTurnsForClassifier}
}

// ShouldEnd applies the phrase tier to the latest user utterance, then the
// classifier tier on the full transcript. Classifier failure means "keep
// going": ending the call is one-way and a false positive costs the whole
// interview.
func (d *EndDetector) ShouldEnd(ctx context.Context, turns []Turn) bool {
	if last, ok := lastUserTurn(turns); ok && d.Phrases.Matches(last.Text) {
		return true
	}
	if d.Classifier == nil || len(turns) < d.MinTurns {
		return false
	}
	end, err := d.Classifier.ClassifyCallEnd(ctx, FormatTranscript(turns))
	if err != nil {
		logger.Base().Warn("end classifier failed, continuing interview", zap.Error(err))
		return false
	}
	return end
}

func lastUserTurn(turns []Turn) (Turn, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Speaker == SpeakerUser {
			return turns[i], true
		}
	}
	return Turn{}, false
}

// FormatTranscript renders turns one per line, "speaker: text".
func FormatTranscript(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}
