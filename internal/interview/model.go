// Package interview holds the interview record model and its persistence.
package interview

import (
	"context"
	"time"
)

// Interview is a scheduled phone interview. It is immutable to the session
// engine once loaded for a call; only the completion fields are patched
// afterwards through Update.
type Interview struct {
	ID                 string    `json:"interview_id"`
	JobID              string    `json:"job_id"`
	PhoneNumber        string    `json:"phone_number"`
	Questions          []string  `json:"questions"`
	EvaluationCriteria []string  `json:"evaluation_criteria"`
	InterviewLanguage  string    `json:"interview_language"`
	EvaluationLanguage string    `json:"evaluation_language"`
	IsCompleted        bool      `json:"is_completed"`
	CallRecordingURL   string    `json:"call_recording_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Update patches an interview record. Nil fields are left untouched.
type Update struct {
	IsCompleted      *bool   `json:"is_completed,omitempty"`
	CallRecordingURL *string `json:"call_recording_url,omitempty"`
}

// Store is the persistence boundary for interview records.
type Store interface {
	Create(ctx context.Context, in Interview) (*Interview, error)
	Get(ctx context.Context, id string) (*Interview, error)
	// GetByPhone returns the most recent incomplete interview scheduled for
	// the phone number, or nil if none exists.
	GetByPhone(ctx context.Context, phone string) (*Interview, error)
	Update(ctx context.Context, id string, patch Update) (*Interview, error)
	Delete(ctx context.Context, id string) error
}
