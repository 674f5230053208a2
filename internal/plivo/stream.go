// Package plivo implements the Plivo side of a call: the bidirectional media
// WebSocket protocol, the inbound-call answer markup and the recording API.
package plivo

import (
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chai-dev682/plivo-interview-phone-agent/pkg/logger"
)

// Stream event names, as they appear on the media WebSocket.
const (
	EventStart      = "start"
	EventMedia      = "media"
	EventStop       = "stop"
	EventPing       = "ping"
	EventPlayAudio  = "playAudio"
	EventClearAudio = "clearAudio"
)

// InboundFrame is a JSON text frame received from Plivo.
type InboundFrame struct {
	Event string     `json:"event"`
	Start *StartInfo `json:"start,omitempty"`
	Media *MediaInfo `json:"media,omitempty"`
}

// StartInfo accompanies the start event.
type StartInfo struct {
	StreamID string `json:"streamId"`
}

// MediaInfo carries one chunk of caller audio, base64 mu-law at 8 kHz.
type MediaInfo struct {
	Payload string `json:"payload"`
}

// PCM returns the decoded audio bytes of a media frame.
func (m *MediaInfo) PCM() ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("media frame without payload")
	}
	return base64.StdEncoding.DecodeString(m.Payload)
}

type outboundFrame struct {
	Event     string     `json:"event"`
	Media     *playMedia `json:"media,omitempty"`
	StreamSid string     `json:"streamSid,omitempty"`
}

type playMedia struct {
	ContentType string `json:"contentType"`
	SampleRate  int    `json:"sampleRate"`
	Payload     string `json:"payload"`
}

// outQueueSize bounds audio we are willing to buffer toward Plivo. Frames past
// the bound are dropped rather than stalling the producer.
const outQueueSize = 256

// StreamConn wraps the Plivo media WebSocket. Outbound frames go through a
// buffered queue drained by a single writer goroutine, so PlayAudio and
// ClearAudio never block the caller.
type StreamConn struct {
	conn      *websocket.Conn
	out       chan []byte
	stopCh    chan struct{}
	writeDone chan struct{}

	mu        sync.RWMutex
	streamID  string
	connected bool

	closeOnce sync.Once
}

// NewStreamConn takes ownership of an upgraded WebSocket and starts the
// writer.
func NewStreamConn(conn *websocket.Conn) *StreamConn {
	s := &StreamConn{
		conn:      conn,
		out:       make(chan []byte, outQueueSize),
		stopCh:    make(chan struct{}),
		writeDone: make(chan struct{}),
		connected: true,
	}
	go s.writePump()
	return s
}

// writePump is the only writer on the socket. When it exits the connection is
// dead for senders: nothing drains the queue anymore, so enqueue must not
// block on it.
func (s *StreamConn) writePump() {
	defer func() {
		s.markDisconnected()
		close(s.writeDone)
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case msg, ok := <-s.out:
			if !ok {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Base().Warn("plivo stream: write failed", zap.Error(err))
				return
			}
		}
	}
}

// ReadFrame blocks for the next inbound frame. A read error marks the
// connection disconnected and is returned for the caller to act on.
func (s *StreamConn) ReadFrame() (*InboundFrame, error) {
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		s.markDisconnected()
		return nil, err
	}
	var f InboundFrame
	if err := json.Unmarshal(msg, &f); err != nil {
		return nil, fmt.Errorf("plivo stream: malformed frame: %w", err)
	}
	return &f, nil
}

// SetStreamID records the stream identifier from the start event. It is needed
// for clearAudio.
func (s *StreamConn) SetStreamID(id string) {
	s.mu.Lock()
	s.streamID = id
	s.mu.Unlock()
}

// StreamID returns the identifier from the start event, or "".
func (s *StreamConn) StreamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamID
}

// Connected reports whether the socket is still usable.
func (s *StreamConn) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *StreamConn) markDisconnected() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// PlayAudio queues mu-law audio toward the caller. It returns immediately; a
// full queue drops the chunk.
func (s *StreamConn) PlayAudio(mulaw []byte) error {
	if !s.Connected() {
		return fmt.Errorf("plivo stream: not connected")
	}
	frame := outboundFrame{
		Event: EventPlayAudio,
		Media: &playMedia{
			ContentType: "audio/x-mulaw",
			SampleRate:  8000,
			Payload:     base64.StdEncoding.EncodeToString(mulaw),
		},
	}
	return s.enqueue(frame, true)
}

// ClearAudio asks Plivo to drop any buffered playback so a new utterance can
// start without delay.
func (s *StreamConn) ClearAudio() error {
	id := s.StreamID()
	if id == "" {
		return nil
	}
	return s.enqueue(outboundFrame{Event: EventClearAudio, StreamSid: id}, false)
}

// Ping sends a keep-alive frame.
func (s *StreamConn) Ping() error {
	if !s.Connected() {
		return fmt.Errorf("plivo stream: not connected")
	}
	return s.enqueue(outboundFrame{Event: EventPing}, false)
}

func (s *StreamConn) enqueue(frame outboundFrame, droppable bool) error {
	if !s.Connected() {
		return fmt.Errorf("plivo stream: not connected")
	}
	msg, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case s.out <- msg:
		return nil
	default:
	}
	if droppable {
		logger.Base().Warn("plivo stream: outbound queue full, dropping frame", zap.String("event", frame.Event))
		return nil
	}
	// Control frames matter more than audio; wait for queue room, but never
	// outlive the writer draining it.
	select {
	case s.out <- msg:
		return nil
	case <-s.writeDone:
		return fmt.Errorf("plivo stream: write pump stopped")
	case <-s.stopCh:
		return fmt.Errorf("plivo stream: closed")
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (s *StreamConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.markDisconnected()
		err = s.conn.Close()
	})
	return err
}

type answerResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Stream  answerStream `xml:"Stream"`
}

type answerStream struct {
	URL           string `xml:",chardata"`
	Bidirectional bool   `xml:"bidirectional,attr"`
	AudioTrack    string `xml:"audioTrack,attr"`
	KeepCallAlive bool   `xml:"keepCallAlive,attr"`
	ContentType   string `xml:"contentType,attr"`
}

// AnswerXML renders the inbound-call response instructing Plivo to open the
// bidirectional media WebSocket at streamURL, fixed at 8 kHz mu-law.
func AnswerXML(streamURL string) (string, error) {
	resp := answerResponse{
		Stream: answerStream{
			URL:           streamURL,
			Bidirectional: true,
			AudioTrack:    "inbound",
			KeepCallAlive: true,
			ContentType:   "audio/x-mulaw;rate=8000",
		},
	}
	out, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("answer xml: %w", err)
	}
	return xml.Header + string(out), nil
}
