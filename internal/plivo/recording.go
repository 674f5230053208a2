package plivo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// RecordingHandle identifies a recording started on a live call. CallUUID and
// URL are immutable once created.
type RecordingHandle struct {
	CallUUID string
	URL      string

	stopped atomic.Bool
}

// MarkStopped flips the handle to stopped and reports whether this call did
// the flip. Lets callers stop a recording exactly once without coordination.
func (h *RecordingHandle) MarkStopped() bool {
	return h.stopped.CompareAndSwap(false, true)
}

// RecordingClient drives Plivo's call-recording REST API.
type RecordingClient struct {
	HTTPClient *http.Client
	BaseURL    string
	AuthID     string
	AuthToken  string
	// TimeLimit caps recording length in seconds; 0 means Plivo's default.
	TimeLimit int
}

// NewRecordingClient builds a client with the standard API endpoint.
func NewRecordingClient(authID, authToken string, timeLimitSeconds int) *RecordingClient {
	return &RecordingClient{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    "https://api.plivo.com",
		AuthID:     authID,
		AuthToken:  authToken,
		TimeLimit:  timeLimitSeconds,
	}
}

type recordResponse struct {
	URL         string `json:"url"`
	RecordingID string `json:"recording_id"`
	Message     string `json:"message"`
}

// Start begins recording the call and returns a handle carrying the recording
// URL.
func (c *RecordingClient) Start(ctx context.Context, callUUID string) (*RecordingHandle, error) {
	if c.AuthID == "" || c.AuthToken == "" {
		return nil, fmt.Errorf("missing Plivo credentials: PLIVO_AUTH_ID and PLIVO_AUTH_TOKEN required to record")
	}

	form := url.Values{}
	if c.TimeLimit > 0 {
		form.Set("time_limit", strconv.Itoa(c.TimeLimit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.recordURL(callUUID), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("start recording: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.AuthID, c.AuthToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("start recording failed with status %d: %s", resp.StatusCode, string(preview))
	}

	var rr recordResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("start recording: decode response: %w", err)
	}
	return &RecordingHandle{CallUUID: callUUID, URL: rr.URL}, nil
}

// Stop ends recording on the call. Stopping a call that is not being recorded
// is not an error on Plivo's side, which keeps this safe to repeat.
func (c *RecordingClient) Stop(ctx context.Context, callUUID string) error {
	if c.AuthID == "" || c.AuthToken == "" {
		return fmt.Errorf("missing Plivo credentials: PLIVO_AUTH_ID and PLIVO_AUTH_TOKEN required to stop recording")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.recordURL(callUUID), nil)
	if err != nil {
		return fmt.Errorf("stop recording: build request: %w", err)
	}
	req.SetBasicAuth(c.AuthID, c.AuthToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("stop recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stop recording failed with status %d: %s", resp.StatusCode, string(preview))
	}
	return nil
}

// Download fetches the finished recording file, e.g. for archival.
func (c *RecordingClient) Download(ctx context.Context, recordingURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download recording: build request: %w", err)
	}
	req.SetBasicAuth(c.AuthID, c.AuthToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("download recording failed with status %d: %s", resp.StatusCode, string(preview))
	}
	return io.ReadAll(resp.Body)
}

func (c *RecordingClient) recordURL(callUUID string) string {
	return fmt.Sprintf("%s/v1/Account/%s/Call/%s/Record/", c.BaseURL, c.AuthID, callUUID)
}
