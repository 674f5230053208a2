package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chai-dev682/plivo-interview-phone-agent/internal/backend"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/config"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/interview"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/outcome"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/plivo"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/session"
)

type memStore struct {
	mu    sync.Mutex
	items map[string]*interview.Interview
}

func newMemStore() *memStore {
	return &memStore{items: map[string]*interview.Interview{}}
}

func (m *memStore) Create(ctx context.Context, iv interview.Interview) (*interview.Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := iv
	m.items[iv.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memStore) Get(ctx context.Context, id string) (*interview.Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if iv, ok := m.items[id]; ok {
		cp := *iv
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) GetByPhone(ctx context.Context, phone string) (*interview.Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, iv := range m.items {
		if iv.PhoneNumber == phone && !iv.IsCompleted {
			cp := *iv
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) Update(ctx context.Context, id string, patch interview.Update) (*interview.Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	if patch.IsCompleted != nil {
		iv.IsCompleted = *patch.IsCompleted
	}
	if patch.CallRecordingURL != nil {
		iv.CallRecordingURL = *patch.CallRecordingURL
	}
	cp := *iv
	return &cp, nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

// quickBackend finishes every response immediately so sessions wind down fast.
type quickBackend struct {
	mu     sync.Mutex
	events chan backend.Event
	closed bool
}

func newQuickBackend() *quickBackend {
	return &quickBackend{events: make(chan backend.Event, 16)}
}

func (b *quickBackend) Connect(ctx context.Context) error          { return nil }
func (b *quickBackend) SendConfig(cfg backend.SessionConfig) error { return nil }
func (b *quickBackend) SendAudio(mulaw []byte) error               { return nil }
func (b *quickBackend) Events() <-chan backend.Event               { return b.events }

func (b *quickBackend) RequestResponse(instructions string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.events <- backend.Event{Kind: backend.KindResponseDone}
	}
	return nil
}

func (b *quickBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		PublicHost: "agent.example.com",
		Agent: config.AgentProfile{
			WelcomePrompt:     "Greet in {language}.",
			InterviewerPrompt: "Interview in {language}.",
			GoodbyePrompt:     "Say goodbye in {language}.",
			Voice:             "alloy",
			KeepAliveInterval: 25 * time.Second,
			InactivityTimeout: 5 * time.Second,
			EndingGrace:       time.Second,
		},
	}
}

func newTestServer(t *testing.T, store interview.Store) (*httptest.Server, *Handlers) {
	t.Helper()
	oc := outcome.NewCoordinator(nil, nil, store, nil, nil)
	h := NewHandlers(testConfig(), store, oc, session.DefaultPhrases(), nil, nil)
	h.newBackend = func() backend.Transport { return newQuickBackend() }
	e := New()
	h.Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, h
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestInboundCall_AnswersWithStreamXML(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())

	resp, err := http.Get(srv.URL + "/plivo/inbound_call?CallUUID=uuid-1&From=15551234567")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/xml") {
		t.Fatalf("content type = %q", resp.Header.Get("Content-Type"))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	xml := string(raw)
	for _, want := range []string{
		"wss://agent.example.com/plivo/stream",
		"from_number=15551234567",
		"call_uuid=uuid-1",
		"bidirectional",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("answer XML missing %q:\n%s", want, xml)
		}
	}
}

func TestInterviewCRUD(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())

	body := `{"job_id":"job-1","phone_number":"+15551234567","questions":["Q1?"],"evaluation_criteria":["clarity"],"interview_language":"English"}`
	resp, err := http.Post(srv.URL+"/interviews", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created interview.Interview
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if created.ID == "" {
		t.Fatal("no id assigned on create")
	}

	resp, err = http.Get(srv.URL + "/interviews/" + created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/interviews/"+created.ID, strings.NewReader(`{"is_completed":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}
	var patched interview.Interview
	if err := json.NewDecoder(resp.Body).Decode(&patched); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !patched.IsCompleted {
		t.Fatal("patch did not set is_completed")
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/interviews/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/interviews/" + created.ID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", resp.StatusCode)
	}
}

func TestStream_RunsSessionAndCompletes(t *testing.T) {
	store := newMemStore()
	iv := interview.Interview{
		ID:          "iv-1",
		JobID:       "job-1",
		PhoneNumber: "+15551234567",
		Questions:   nil, // greet-and-close keeps the call short
	}
	if _, err := store.Create(context.Background(), iv); err != nil {
		t.Fatal(err)
	}

	srv, _ := newTestServer(t, store)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/plivo/stream?from_number=15551234567&call_uuid=call-1"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := plivo.InboundFrame{Event: plivo.EventStart, Start: &plivo.StartInfo{StreamID: "st-1"}}
	raw, _ := json.Marshal(start)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write start: %v", err)
	}

	// The session greets, closes, and the server shuts the socket.
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	got, err := store.Get(context.Background(), "iv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.IsCompleted {
		t.Fatalf("interview not completed after session: %+v", got)
	}
}

func TestStream_NoInterviewCloses(t *testing.T) {
	srv, _ := newTestServer(t, newMemStore())
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/plivo/stream?from_number=19999999999&call_uuid=call-9"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Log("received a frame before close; acceptable when an announcement is configured")
	}
}
