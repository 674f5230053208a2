package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chai-dev682/plivo-interview-phone-agent/pkg/logger"
)

// OpenAIRealtime drives the OpenAI realtime API over a WebSocket. Audio in
// both directions is g711 mu-law at 8 kHz, matching the telephony leg so no
// transcoding is needed.
type OpenAIRealtime struct {
	apiKey  string
	model   string
	baseURL string

	conn      *websocket.Conn
	events    chan Event
	outCh     chan []byte
	stopCh    chan struct{}
	writeDone chan struct{}

	mu        sync.RWMutex
	connected bool

	closeOnce sync.Once
}

// NewOpenAIRealtime creates an unconnected transport.
func NewOpenAIRealtime(apiKey, model string) *OpenAIRealtime {
	return &OpenAIRealtime{
		apiKey:    apiKey,
		model:     model,
		baseURL:   "wss://api.openai.com/v1/realtime",
		events:    make(chan Event, 256),
		outCh:     make(chan []byte, 256),
		stopCh:    make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

// Connect dials the realtime endpoint and starts the read and write pumps.
func (o *OpenAIRealtime) Connect(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.connected {
		return nil
	}
	if o.apiKey == "" {
		return fmt.Errorf("openai realtime: api key missing")
	}

	wsURL := fmt.Sprintf("%s?model=%s", o.baseURL, o.model)
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+o.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("openai realtime: connect failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("openai realtime: connect: %w", err)
	}

	o.conn = conn
	o.connected = true
	go o.readPump()
	go o.writePump()
	return nil
}

// SendConfig issues session.update with prompt, voice and server-side turn
// detection.
func (o *OpenAIRealtime) SendConfig(cfg SessionConfig) error {
	type turnDetection struct {
		Type string `json:"type"`
	}
	type transcription struct {
		Model string `json:"model"`
	}
	type sessionBody struct {
		Modalities        []string       `json:"modalities"`
		Instructions      string         `json:"instructions"`
		Voice             string         `json:"voice"`
		InputAudioFormat  string         `json:"input_audio_format"`
		OutputAudioFormat string         `json:"output_audio_format"`
		InputTranscribe   *transcription `json:"input_audio_transcription,omitempty"`
		TurnDetection     *turnDetection `json:"turn_detection"`
	}
	msg := struct {
		Type    string      `json:"type"`
		Session sessionBody `json:"session"`
	}{
		Type: "session.update",
		Session: sessionBody{
			Modalities:        []string{"audio", "text"},
			Instructions:      cfg.Instructions,
			Voice:             cfg.Voice,
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			InputTranscribe:   &transcription{Model: "whisper-1"},
			TurnDetection:     &turnDetection{Type: "server_vad"},
		},
	}
	return o.send(msg)
}

// SendAudio appends caller audio to the input buffer. The audio is dropped if
// the outbound queue is saturated; the backend's VAD tolerates small gaps.
func (o *OpenAIRealtime) SendAudio(mulaw []byte) error {
	msg := struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(mulaw),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if !o.isConnected() {
		return fmt.Errorf("openai realtime: not connected")
	}
	select {
	case o.outCh <- raw:
	default:
		logger.Base().Warn("openai realtime: audio queue full, dropping chunk")
	}
	return nil
}

// RequestResponse asks for a spoken response with one-off instructions.
func (o *OpenAIRealtime) RequestResponse(instructions string) error {
	type responseBody struct {
		Modalities   []string `json:"modalities"`
		Instructions string   `json:"instructions,omitempty"`
	}
	msg := struct {
		Type     string       `json:"type"`
		Response responseBody `json:"response"`
	}{
		Type:     "response.create",
		Response: responseBody{Modalities: []string{"audio", "text"}, Instructions: instructions},
	}
	return o.send(msg)
}

// Events returns the event channel.
func (o *OpenAIRealtime) Events() <-chan Event { return o.events }

// Close shuts the transport down and closes the event channel.
func (o *OpenAIRealtime) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.stopCh)
		o.mu.Lock()
		o.connected = false
		if o.conn != nil {
			err = o.conn.Close()
		}
		o.mu.Unlock()
	})
	return err
}

func (o *OpenAIRealtime) isConnected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.connected
}

func (o *OpenAIRealtime) markDisconnected() {
	o.mu.Lock()
	o.connected = false
	o.mu.Unlock()
}

func (o *OpenAIRealtime) send(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !o.isConnected() {
		return fmt.Errorf("openai realtime: not connected")
	}
	select {
	case o.outCh <- raw:
		return nil
	case <-o.writeDone:
		return fmt.Errorf("openai realtime: write pump stopped")
	case <-o.stopCh:
		return fmt.Errorf("openai realtime: closed")
	}
}

// writePump is the only writer on the socket. Its exit marks the transport
// disconnected so senders fail instead of parking on a queue nothing drains.
func (o *OpenAIRealtime) writePump() {
	defer func() {
		o.markDisconnected()
		close(o.writeDone)
	}()
	for {
		select {
		case <-o.stopCh:
			return
		case raw := <-o.outCh:
			o.mu.RLock()
			conn := o.conn
			o.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logger.Base().Warn("openai realtime: write failed", zap.Error(err))
				return
			}
		}
	}
}

// Server event payloads we care about. Unknown types are ignored.
type serverEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAIRealtime) readPump() {
	defer close(o.events)
	for {
		select {
		case <-o.stopCh:
			return
		default:
		}
		o.mu.RLock()
		conn := o.conn
		o.mu.RUnlock()
		if conn == nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-o.stopCh: // closed locally, not an error
			default:
				o.emit(Event{Kind: KindError, Err: fmt.Errorf("openai realtime: read: %w", err)})
			}
			return
		}
		o.dispatch(msg)
	}
}

func (o *OpenAIRealtime) dispatch(msg []byte) {
	var ev serverEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		o.emit(Event{Kind: KindError, Err: fmt.Errorf("openai realtime: malformed event: %w", err)})
		return
	}
	switch ev.Type {
	case "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			o.emit(Event{Kind: KindError, Err: fmt.Errorf("openai realtime: bad audio delta: %w", err)})
			return
		}
		o.emit(Event{Kind: KindAudioDelta, Audio: audio})
	case "response.audio_transcript.done":
		o.emit(Event{Kind: KindAgentUtterance, Text: ev.Transcript})
	case "conversation.item.input_audio_transcription.completed":
		o.emit(Event{Kind: KindUserUtterance, Text: ev.Transcript})
	case "input_audio_buffer.speech_started":
		o.emit(Event{Kind: KindSpeechStarted})
	case "response.done":
		o.emit(Event{Kind: KindResponseDone})
	case "error":
		msg := "unknown"
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		o.emit(Event{Kind: KindError, Err: fmt.Errorf("openai realtime: server error: %s", msg)})
	}
}

func (o *OpenAIRealtime) emit(ev Event) {
	select {
	case o.events <- ev:
	case <-o.stopCh:
	}
}
