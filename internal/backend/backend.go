// Package backend abstracts the realtime speech/LLM channel a session drives.
package backend

import "context"

// EventKind classifies events emitted by a Transport.
type EventKind int

const (
	// KindAudioDelta carries a chunk of agent audio (mu-law 8 kHz bytes).
	KindAudioDelta EventKind = iota
	// KindAgentUtterance carries the text of a finished agent utterance.
	KindAgentUtterance
	// KindUserUtterance carries the transcription of a finished user utterance.
	KindUserUtterance
	// KindSpeechStarted signals the user started speaking while the agent had
	// audio in flight (barge-in cue).
	KindSpeechStarted
	// KindResponseDone signals the backend finished generating a response.
	KindResponseDone
	// KindError carries a backend-reported or transport error. The event
	// channel is closed after a fatal one.
	KindError
)

// Event is one occurrence on the backend channel.
type Event struct {
	Kind  EventKind
	Audio []byte
	Text  string
	Err   error
}

// SessionConfig is the initial configuration for the realtime session.
type SessionConfig struct {
	Instructions string
	Voice        string
	Language     string
}

// Transport is the realtime duplex channel. One Transport belongs to exactly
// one session and must not be shared.
type Transport interface {
	// Connect establishes the channel and starts delivering events.
	Connect(ctx context.Context) error
	// SendConfig configures prompt, voice and turn detection. Call once,
	// right after Connect.
	SendConfig(cfg SessionConfig) error
	// SendAudio appends caller audio (mu-law 8 kHz) to the input buffer.
	SendAudio(mulaw []byte) error
	// RequestResponse asks the backend to produce a spoken response following
	// the given instructions.
	RequestResponse(instructions string) error
	// Events returns the channel of backend events. It is closed when the
	// transport shuts down.
	Events() <-chan Event
	Close() error
}
