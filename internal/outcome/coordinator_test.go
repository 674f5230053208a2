package outcome

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/chai-dev682/plivo-interview-phone-agent/internal/eval"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/interview"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/plivo"
)

type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	stops    int
	data     []byte
}

func (f *fakeRecorder) Start(ctx context.Context, callUUID string) (*plivo.RecordingHandle, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &plivo.RecordingHandle{CallUUID: callUUID, URL: "https://media.example.com/" + callUUID + ".mp3"}, nil
}

func (f *fakeRecorder) Stop(ctx context.Context, callUUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRecorder) Download(ctx context.Context, url string) ([]byte, error) {
	if f.data == nil {
		return nil, fmt.Errorf("no recording at %s", url)
	}
	return f.data, nil
}

func (f *fakeRecorder) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeEvaluator struct {
	ev  *eval.Evaluation
	err error
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, transcript string, criteria []string, language string) (*eval.Evaluation, error) {
	return f.ev, f.err
}

type fakeStore struct {
	mu      sync.Mutex
	updates []interview.Update
}

func (f *fakeStore) Create(ctx context.Context, iv interview.Interview) (*interview.Interview, error) {
	return &iv, nil
}
func (f *fakeStore) Get(ctx context.Context, id string) (*interview.Interview, error) {
	return nil, nil
}
func (f *fakeStore) GetByPhone(ctx context.Context, phone string) (*interview.Interview, error) {
	return nil, nil
}
func (f *fakeStore) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeStore) Update(ctx context.Context, id string, patch interview.Update) (*interview.Interview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, patch)
	return &interview.Interview{ID: id}, nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	payloads []eval.WebhookPayload
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, p eval.WebhookPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return nil
}

func testInterview() *interview.Interview {
	return &interview.Interview{
		ID:                 "iv-1",
		JobID:              "job-1",
		PhoneNumber:        "+15551234567",
		EvaluationCriteria: []string{"clarity"},
		EvaluationLanguage: "English",
	}
}

func TestStartRecording_BestEffort(t *testing.T) {
	rec := &fakeRecorder{startErr: fmt.Errorf("api down")}
	c := NewCoordinator(rec, nil, &fakeStore{}, nil, nil)
	if h := c.StartRecording(context.Background(), "call-1"); h != nil {
		t.Fatalf("expected nil handle on start failure, got %+v", h)
	}

	rec.startErr = nil
	h := c.StartRecording(context.Background(), "call-1")
	if h == nil || h.CallUUID != "call-1" {
		t.Fatalf("expected handle, got %+v", h)
	}
}

func TestStopRecording_Idempotent(t *testing.T) {
	rec := &fakeRecorder{}
	c := NewCoordinator(rec, nil, &fakeStore{}, nil, nil)

	c.StopRecording(context.Background(), nil) // nil handle is a no-op

	h := &plivo.RecordingHandle{CallUUID: "call-1"}
	c.StopRecording(context.Background(), h)
	c.StopRecording(context.Background(), h)
	if got := rec.stopCount(); got != 1 {
		t.Fatalf("expected one provider stop call, got %d", got)
	}
}

func TestFinalize_PersistsCompletionEvenWhenEvaluationFails(t *testing.T) {
	rec := &fakeRecorder{}
	store := &fakeStore{}
	wh := &fakeDispatcher{}
	c := NewCoordinator(rec, &fakeEvaluator{err: fmt.Errorf("scorer down")}, store, wh, nil)

	h := &plivo.RecordingHandle{CallUUID: "call-1", URL: "https://media.example.com/r.mp3"}
	c.Finalize(context.Background(), Result{
		Interview:  testInterview(),
		Transcript: "agent: hello\nuser: hi",
		Recording:  h,
	})

	if got := rec.stopCount(); got != 1 {
		t.Fatalf("expected recording stopped once, got %d", got)
	}
	if len(store.updates) != 1 {
		t.Fatalf("expected one store update, got %d", len(store.updates))
	}
	up := store.updates[0]
	if up.IsCompleted == nil || !*up.IsCompleted {
		t.Fatal("interview not marked completed")
	}
	if up.CallRecordingURL == nil || *up.CallRecordingURL != h.URL {
		t.Fatalf("recording url not persisted: %+v", up.CallRecordingURL)
	}
	if len(wh.payloads) != 1 {
		t.Fatalf("expected webhook dispatched, got %d", len(wh.payloads))
	}
	if wh.payloads[0].Evaluation != nil {
		t.Fatal("failed evaluation should be dispatched as null")
	}
}

func TestFinalize_WithEvaluation(t *testing.T) {
	store := &fakeStore{}
	wh := &fakeDispatcher{}
	ev := &eval.Evaluation{FinalScore: 90, Criteria: []eval.CriterionScore{{Name: "clarity", Score: 90, Explanation: "good"}}}
	c := NewCoordinator(&fakeRecorder{}, &fakeEvaluator{ev: ev}, store, wh, nil)

	c.Finalize(context.Background(), Result{
		Interview:  testInterview(),
		Transcript: "agent: hello\nuser: hi",
	})

	if len(wh.payloads) != 1 || wh.payloads[0].Evaluation == nil || wh.payloads[0].Evaluation.FinalScore != 90 {
		t.Fatalf("webhook payload missing evaluation: %+v", wh.payloads)
	}
	if wh.payloads[0].JobID != "job-1" || wh.payloads[0].PhoneNumber != "+15551234567" {
		t.Fatalf("webhook identity fields wrong: %+v", wh.payloads[0])
	}
	if len(store.updates) != 1 || store.updates[0].IsCompleted == nil || !*store.updates[0].IsCompleted {
		t.Fatal("completion not persisted")
	}
}

func TestFinalize_NoInterviewSkipsPersistence(t *testing.T) {
	rec := &fakeRecorder{}
	store := &fakeStore{}
	c := NewCoordinator(rec, nil, store, &fakeDispatcher{}, nil)

	h := &plivo.RecordingHandle{CallUUID: "call-1"}
	c.Finalize(context.Background(), Result{Recording: h})

	if got := rec.stopCount(); got != 1 {
		t.Fatalf("recording should still be stopped, got %d stops", got)
	}
	if len(store.updates) != 0 {
		t.Fatalf("no updates expected without an interview, got %d", len(store.updates))
	}
}
