package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookPayload is the result document POSTed when an interview finishes.
type WebhookPayload struct {
	JobID            string      `json:"job_id"`
	PhoneNumber      string      `json:"phone_number"`
	CallRecordingURL string      `json:"call_recording_url"`
	Evaluation       *Evaluation `json:"evaluation"`
	CallTranscript   string      `json:"call_transcript"`
}

// WebhookDispatcher delivers interview results to a configured endpoint.
type WebhookDispatcher struct {
	HTTPClient *http.Client
	URL        string
}

func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		URL:        url,
	}
}

// Dispatch POSTs the payload. Any 2xx status counts as delivered.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, payload WebhookPayload) error {
	if d.URL == "" {
		return fmt.Errorf("webhook: no url configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook: status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
