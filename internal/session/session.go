// Package session implements the per-call interview engine: the state
// machine bridging the telephony media stream to the realtime speech backend,
// turn taking over the question list, end-of-call detection and the shutdown
// sequence.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chai-dev682/plivo-interview-phone-agent/internal/backend"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/config"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/interview"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/outcome"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/plivo"
	"github.com/chai-dev682/plivo-interview-phone-agent/pkg/logger"
)

// Telephony is the caller-side media connection. *plivo.StreamConn satisfies
// it.
type Telephony interface {
	ReadFrame() (*plivo.InboundFrame, error)
	SetStreamID(id string)
	PlayAudio(mulaw []byte) error
	ClearAudio() error
	Ping() error
	Connected() bool
	Close() error
}

// OutcomePipeline runs the recording and post-call side effects.
// *outcome.Coordinator satisfies it.
type OutcomePipeline interface {
	StartRecording(ctx context.Context, callUUID string) *plivo.RecordingHandle
	StopRecording(ctx context.Context, h *plivo.RecordingHandle)
	Finalize(ctx context.Context, res outcome.Result)
}

// faultBackoff is the pause after a malformed frame before reading again.
var faultBackoff = time.Second

// maxConsecutiveFaults closes the session when protocol errors keep coming.
const maxConsecutiveFaults = 3

// Params carries everything a session needs. All fields are required except
// Interview handling inside Outcome.
type Params struct {
	CallID     string
	FromNumber string
	Interview  *interview.Interview
	Profile    config.AgentProfile
	Backend    backend.Transport
	Telephony  Telephony
	Detector   *EndDetector
	Outcome    OutcomePipeline
}

// Session is one phone call's orchestrator. All state below is mutated only
// by the Run loop; pumps hand events in through channels.
type Session struct {
	id string
	p  Params

	state     State
	visited   []State
	turns     *TurnCoordinator
	recording *plivo.RecordingHandle

	abnormal        bool
	endingLatched   bool
	awaitingGoodbye bool
	closeRequested  bool
	faults          int

	graceTimer *time.Timer
	graceC     <-chan time.Time

	finalizeOnce sync.Once

	log *zap.Logger
}

type frameEvent struct {
	frame *plivo.InboundFrame
	fault error
}

func New(p Params) *Session {
	s := &Session{
		id:    uuid.NewString(),
		p:     p,
		state: StateConnecting,
		turns: NewTurnCoordinator(p.Interview.Questions),
	}
	s.log = logger.Base().With(
		zap.String("sessionId", s.id),
		zap.String("callId", p.CallID),
		zap.String("phone", p.FromNumber),
	)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state. Only meaningful from the Run
// goroutine or after Run returns.
func (s *Session) State() State { return s.state }

// Run drives the call until it is Closed. It owns all session state; inbound
// pumps and timers feed the loop and never mutate state themselves. Run
// returns only after every pump has stopped and finalize has run.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Info("session starting", zap.Int("questions", len(s.p.Interview.Questions)))

	frames := make(chan frameEvent, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.telephonyPump(ctx, frames)
	}()

	defer func() {
		s.finalize()
		_ = s.p.Backend.Close()
		_ = s.p.Telephony.Close()
		cancel()
		wg.Wait()
		s.setState(StateClosed)
		s.log.Info("session closed", zap.Bool("abnormal", s.abnormal))
	}()

	if err := s.p.Backend.Connect(ctx); err != nil {
		s.log.Error("backend connect failed", zap.Error(err))
		s.beginEnding(ctx, true)
		return
	}
	lang := s.p.Interview.InterviewLanguage
	if err := s.p.Backend.SendConfig(backend.SessionConfig{
		Instructions: sessionInstructions(s.p.Profile, lang, s.p.Interview.Questions),
		Voice:        s.p.Profile.Voice,
		Language:     lang,
	}); err != nil {
		s.log.Error("backend session config failed", zap.Error(err))
		s.beginEnding(ctx, true)
		return
	}

	s.recording = s.p.Outcome.StartRecording(ctx, s.p.CallID)

	s.setState(StateGreeting)
	first, _ := s.turns.FirstQuestion()
	if err := s.p.Backend.RequestResponse(greetingInstructions(s.p.Profile, lang, first)); err != nil {
		s.log.Error("greeting request failed", zap.Error(err))
		s.beginEnding(ctx, true)
	}

	keepalive := time.NewTicker(s.p.Profile.KeepAliveInterval)
	defer keepalive.Stop()
	inactivity := time.NewTimer(s.p.Profile.InactivityTimeout)
	defer inactivity.Stop()

	events := s.p.Backend.Events()

	for !s.closeRequested {
		select {
		case <-ctx.Done():
			s.log.Warn("session context cancelled")
			s.beginEnding(ctx, true)

		case fe, ok := <-frames:
			if !ok {
				frames = nil
				s.log.Info("telephony stream ended")
				s.beginEnding(ctx, true)
				continue
			}
			resetTimer(inactivity, s.p.Profile.InactivityTimeout)
			if fe.fault != nil {
				s.onProtocolFault(ctx, fe.fault)
				continue
			}
			s.faults = 0
			s.handleFrame(ctx, fe.frame)

		case ev, ok := <-events:
			if !ok {
				events = nil
				s.log.Warn("backend event stream ended")
				s.beginEnding(ctx, true)
				continue
			}
			s.handleBackendEvent(ctx, ev)

		case <-keepalive.C:
			if s.p.Telephony.Connected() {
				_ = s.p.Telephony.Ping()
			}

		case <-inactivity.C:
			s.log.Warn("inactivity timeout, tearing session down")
			s.beginEnding(ctx, true)

		case <-s.graceC:
			s.log.Info("farewell grace elapsed")
			s.closeRequested = true
		}
	}
}

func (s *Session) telephonyPump(ctx context.Context, frames chan<- frameEvent) {
	defer close(frames)
	for {
		f, err := s.p.Telephony.ReadFrame()
		if err != nil {
			if !s.p.Telephony.Connected() {
				return
			}
			select {
			case frames <- frameEvent{fault: err}:
			case <-ctx.Done():
				return
			}
			// Keep reading after a malformed frame, but not in a tight loop.
			select {
			case <-time.After(faultBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case frames <- frameEvent{frame: f}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, f *plivo.InboundFrame) {
	if s.state == StateClosed {
		return
	}
	switch f.Event {
	case plivo.EventStart:
		if f.Start != nil {
			s.p.Telephony.SetStreamID(f.Start.StreamID)
			s.log.Info("media stream started", zap.String("streamId", f.Start.StreamID))
		}
	case plivo.EventMedia:
		pcm, err := f.Media.PCM()
		if err != nil {
			s.onProtocolFault(ctx, err)
			return
		}
		if err := s.p.Backend.SendAudio(pcm); err != nil {
			s.log.Warn("forwarding caller audio failed", zap.Error(err))
		}
	case plivo.EventStop:
		// Caller hung up; the telephony leg is going away, so no farewell.
		s.log.Info("caller ended the stream")
		s.beginEnding(ctx, true)
	case plivo.EventPing:
	default:
		s.onProtocolFault(ctx, errUnexpectedEvent(f.Event))
	}
}

func (s *Session) handleBackendEvent(ctx context.Context, ev backend.Event) {
	if s.state == StateClosed {
		return
	}
	switch ev.Kind {
	case backend.KindAudioDelta:
		if err := s.p.Telephony.PlayAudio(ev.Audio); err != nil {
			s.log.Warn("playback failed", zap.Error(err))
		}

	case backend.KindSpeechStarted:
		// Barge-in: the caller started talking over the agent.
		_ = s.p.Telephony.ClearAudio()

	case backend.KindUserUtterance:
		s.turns.AddUser(ev.Text)
		s.log.Debug("user utterance", zap.String("text", ev.Text))
		if s.state == StateAwaitingAnswer && Substantial(ev.Text) {
			s.setState(StateAdvancing)
			s.advance(ctx)
		}

	case backend.KindAgentUtterance:
		s.turns.AddAgent(ev.Text)
		s.log.Debug("agent utterance", zap.String("text", ev.Text))
		if s.state != StateEnding && s.p.Detector.ShouldEnd(ctx, s.turns.Turns()) {
			s.beginEnding(ctx, false)
		}

	case backend.KindResponseDone:
		switch {
		case s.state == StateGreeting && s.turns.Exhausted():
			// Nothing to ask; greet and close without awaiting an answer.
			s.beginEnding(ctx, false)
		case s.state == StateGreeting:
			s.setState(StateAwaitingAnswer)
		case s.state == StateEnding && s.awaitingGoodbye:
			s.awaitingGoodbye = false
			s.closeRequested = true
		}

	case backend.KindError:
		s.onProtocolFault(ctx, ev.Err)
	}
}

// advance runs the Advancing step: consult the end detector, then either ask
// the next question or wrap up.
func (s *Session) advance(ctx context.Context) {
	if s.p.Detector.ShouldEnd(ctx, s.turns.Turns()) {
		s.beginEnding(ctx, false)
		return
	}
	q, ok := s.turns.NextQuestion()
	s.log.Info("answer accepted", zap.Int("questionIndex", s.turns.Index()))
	if !ok {
		s.beginEnding(ctx, false)
		return
	}
	if err := s.p.Backend.RequestResponse(questionInstructions(q)); err != nil {
		s.log.Error("next question request failed", zap.Error(err))
		s.beginEnding(ctx, true)
		return
	}
	s.setState(StateAwaitingAnswer)
}

// beginEnding is the single entry into Ending. It is latched: later triggers
// only escalate a farewell already in flight into an immediate close when the
// transport has died.
func (s *Session) beginEnding(ctx context.Context, abnormal bool) {
	if abnormal {
		s.abnormal = true
	}
	if s.endingLatched {
		if abnormal && s.awaitingGoodbye {
			s.awaitingGoodbye = false
			s.closeRequested = true
		}
		return
	}
	s.endingLatched = true
	s.setState(StateEnding)

	// Recording stops before the closing utterance; finalize repeats the stop
	// harmlessly.
	s.p.Outcome.StopRecording(ctx, s.recording)

	if s.abnormal {
		// Transport already dead or caller gone: no farewell.
		s.closeRequested = true
		return
	}

	farewell := goodbyeInstructions(s.p.Profile, s.p.Interview.InterviewLanguage)
	if err := s.p.Backend.RequestResponse(farewell); err != nil {
		s.log.Warn("farewell request failed", zap.Error(err))
		s.closeRequested = true
		return
	}
	s.awaitingGoodbye = true
	s.graceTimer = time.NewTimer(s.p.Profile.EndingGrace)
	s.graceC = s.graceTimer.C
}

func (s *Session) onProtocolFault(ctx context.Context, err error) {
	s.faults++
	s.log.Warn("protocol fault", zap.Int("consecutive", s.faults), zap.Error(err))
	if s.faults >= maxConsecutiveFaults {
		s.log.Error("too many consecutive protocol faults, closing session")
		s.beginEnding(ctx, true)
	}
}

func (s *Session) finalize() {
	s.finalizeOnce.Do(func() {
		if s.graceTimer != nil {
			s.graceTimer.Stop()
		}
		// The session context may already be cancelled; the coordinator
		// bounds each step itself.
		s.p.Outcome.Finalize(context.Background(), outcome.Result{
			Interview:  s.p.Interview,
			Transcript: s.turns.Transcript(),
			Recording:  s.recording,
			Abnormal:   s.abnormal,
		})
	})
}

func (s *Session) setState(to State) {
	if s.state == to {
		return
	}
	if !canTransition(s.state, to) {
		s.log.Warn("illegal state transition ignored",
			zap.String("from", s.state.String()), zap.String("to", to.String()))
		return
	}
	s.log.Info("state transition",
		zap.String("from", s.state.String()), zap.String("to", to.String()))
	s.state = to
	s.visited = append(s.visited, to)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

type errUnexpectedEvent string

func (e errUnexpectedEvent) Error() string { return "unexpected stream event " + string(e) }
