package session

import (
	"context"
	"fmt"
	"testing"
)

type countingClassifier struct {
	calls  int
	answer bool
	err    error
}

func (c *countingClassifier) ClassifyCallEnd(ctx context.Context, transcript string) (bool, error) {
	c.calls++
	return c.answer, c.err
}

func longTranscript(lastUser string) []Turn {
	return []Turn{
		{SpeakerAgent, "Welcome, what is your name?"},
		{SpeakerUser, "My name is Alex."},
		{SpeakerAgent, "Tell me about your experience."},
		{SpeakerUser, "I have five years in sales."},
		{SpeakerAgent, "Anything else to add?"},
		{SpeakerUser, lastUser},
	}
}

func TestShouldEnd_PhraseSkipsClassifier(t *testing.T) {
	cl := &countingClassifier{answer: false}
	d := NewEndDetector(DefaultPhrases(), cl)

	if !d.ShouldEnd(context.Background(), longTranscript("thank you, goodbye")) {
		t.Fatal("phrase hit not detected")
	}
	if cl.calls != 0 {
		t.Fatalf("classifier called %d times on a phrase hit", cl.calls)
	}
}

func TestShouldEnd_ClassifierTier(t *testing.T) {
	cl := &countingClassifier{answer: true}
	d := NewEndDetector(DefaultPhrases(), cl)

	if !d.ShouldEnd(context.Background(), longTranscript("that is all from my side")) {
		t.Fatal("classifier verdict ignored")
	}
	if cl.calls != 1 {
		t.Fatalf("classifier calls = %d, want 1", cl.calls)
	}
}

func TestShouldEnd_ShortTranscriptSkipsClassifier(t *testing.T) {
	cl := &countingClassifier{answer: true}
	d := NewEndDetector(DefaultPhrases(), cl)

	turns := []Turn{
		{SpeakerAgent, "Welcome, what is your name?"},
		{SpeakerUser, "My name is Alex."},
	}
	if d.ShouldEnd(context.Background(), turns) {
		t.Fatal("short transcript should not end")
	}
	if cl.calls != 0 {
		t.Fatalf("classifier called %d times below turn minimum", cl.calls)
	}
}

func TestShouldEnd_ClassifierFailureMeansContinue(t *testing.T) {
	cl := &countingClassifier{err: fmt.Errorf("model unavailable")}
	d := NewEndDetector(DefaultPhrases(), cl)

	if d.ShouldEnd(context.Background(), longTranscript("that is all from my side")) {
		t.Fatal("classifier failure must not end the call")
	}
}

func TestShouldEnd_Idempotent(t *testing.T) {
	cl := &countingClassifier{answer: true}
	d := NewEndDetector(DefaultPhrases(), cl)
	turns := longTranscript("nothing more to add here")

	first := d.ShouldEnd(context.Background(), turns)
	second := d.ShouldEnd(context.Background(), turns)
	if first != second {
		t.Fatalf("detector not idempotent: %v then %v", first, second)
	}
}

func TestShouldEnd_MultilingualPhrases(t *testing.T) {
	d := NewEndDetector(DefaultPhrases(), nil)
	for _, last := range []string{
		"merci beaucoup, au revoir",
		"vielen Danke und auf Wiedersehen",
		"muchas gracias",
		"好的，谢谢",
	} {
		if !d.ShouldEnd(context.Background(), longTranscript(last)) {
			t.Errorf("phrase not detected in %q", last)
		}
	}
}

func TestFormatTranscript(t *testing.T) {
	got := FormatTranscript([]Turn{
		{SpeakerAgent, "Hello"},
		{SpeakerUser, "Hi"},
	})
	want := "agent: Hello\nuser: Hi"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
