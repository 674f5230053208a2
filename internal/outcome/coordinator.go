// Package outcome coordinates the side effects of an interview call: the call
// recording, the transcript evaluation, persistence of the completion status
// and the result webhook.
package outcome

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chai-dev682/plivo-interview-phone-agent/internal/eval"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/interview"
	"github.com/chai-dev682/plivo-interview-phone-agent/internal/plivo"
	"github.com/chai-dev682/plivo-interview-phone-agent/pkg/logger"
)

// Recorder drives call-recording control on the telephony provider.
type Recorder interface {
	Start(ctx context.Context, callUUID string) (*plivo.RecordingHandle, error)
	Stop(ctx context.Context, callUUID string) error
	Download(ctx context.Context, recordingURL string) ([]byte, error)
}

// Evaluator scores a finished transcript.
type Evaluator interface {
	Evaluate(ctx context.Context, transcript string, criteria []string, language string) (*eval.Evaluation, error)
}

// Dispatcher delivers the final result document.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload eval.WebhookPayload) error
}

// Archiver stores a copy of the recording file.
type Archiver interface {
	Upload(key string, data []byte) error
}

// Result is everything Finalize needs from a finished session.
type Result struct {
	Interview  *interview.Interview
	Transcript string
	Recording  *plivo.RecordingHandle
	// Abnormal marks sessions torn down by transport failure or inactivity.
	Abnormal bool
}

// Coordinator runs the post-call pipeline. Every step degrades independently:
// a failed recording, evaluation or webhook is logged and the remaining steps
// still run. All fields except Store may be nil when the corresponding
// integration is not configured.
type Coordinator struct {
	Recorder  Recorder
	Evaluator Evaluator
	Store     interview.Store
	Webhook   Dispatcher
	Archive   Archiver

	StepTimeout time.Duration
}

func NewCoordinator(rec Recorder, ev Evaluator, store interview.Store, wh Dispatcher, arch Archiver) *Coordinator {
	return &Coordinator{
		Recorder:    rec,
		Evaluator:   ev,
		Store:       store,
		Webhook:     wh,
		Archive:     arch,
		StepTimeout: 30 * time.Second,
	}
}

// StartRecording begins recording the call. Recording is best effort: any
// failure is logged and reported as "no recording".
func (c *Coordinator) StartRecording(ctx context.Context, callUUID string) *plivo.RecordingHandle {
	if c.Recorder == nil {
		return nil
	}
	ctx, cancel := c.step(ctx)
	defer cancel()
	h, err := c.Recorder.Start(ctx, callUUID)
	if err != nil {
		logger.Base().Warn("recording start failed, continuing without recording",
			zap.String("callId", callUUID), zap.Error(err))
		return nil
	}
	logger.Base().Info("recording started", zap.String("callId", callUUID), zap.String("url", h.URL))
	return h
}

// StopRecording ends the recording. Safe on a nil or already-stopped handle.
func (c *Coordinator) StopRecording(ctx context.Context, h *plivo.RecordingHandle) {
	if h == nil || c.Recorder == nil {
		return
	}
	if !h.MarkStopped() {
		return
	}
	ctx, cancel := c.step(ctx)
	defer cancel()
	if err := c.Recorder.Stop(ctx, h.CallUUID); err != nil {
		logger.Base().Warn("recording stop failed", zap.String("callId", h.CallUUID), zap.Error(err))
	}
}

// Finalize runs the post-call pipeline: stop recording, evaluate, persist
// completion, dispatch the webhook, archive the recording. The caller ensures
// it runs at most once per session.
func (c *Coordinator) Finalize(ctx context.Context, res Result) {
	c.StopRecording(ctx, res.Recording)

	recordingURL := ""
	if res.Recording != nil {
		recordingURL = res.Recording.URL
	}

	iv := res.Interview
	if iv == nil {
		logger.Base().Warn("finalize without interview record, skipping persistence")
		return
	}

	log := logger.Base().With(zap.String("interviewId", iv.ID), zap.String("phone", iv.PhoneNumber))

	var evaluation *eval.Evaluation
	if c.Evaluator != nil && res.Transcript != "" {
		evCtx, cancel := c.step(ctx)
		ev, err := c.Evaluator.Evaluate(evCtx, res.Transcript, iv.EvaluationCriteria, iv.EvaluationLanguage)
		cancel()
		if err != nil {
			log.Error("evaluation failed, completing interview without score", zap.Error(err))
		} else {
			evaluation = ev
			log.Info("interview evaluated", zap.Int("finalScore", ev.FinalScore))
		}
	}

	// Completion is persisted regardless of evaluation outcome.
	done := true
	patch := interview.Update{IsCompleted: &done}
	if recordingURL != "" {
		patch.CallRecordingURL = &recordingURL
	}
	upCtx, cancel := c.step(ctx)
	if _, err := c.Store.Update(upCtx, iv.ID, patch); err != nil {
		log.Error("failed to persist interview completion", zap.Error(err))
	}
	cancel()

	if c.Webhook != nil {
		whCtx, cancel := c.step(ctx)
		err := c.Webhook.Dispatch(whCtx, eval.WebhookPayload{
			JobID:            iv.JobID,
			PhoneNumber:      iv.PhoneNumber,
			CallRecordingURL: recordingURL,
			Evaluation:       evaluation,
			CallTranscript:   res.Transcript,
		})
		cancel()
		if err != nil {
			log.Error("webhook dispatch failed", zap.Error(err))
		}
	}

	if c.Archive != nil && c.Recorder != nil && recordingURL != "" {
		if err := c.archiveRecording(ctx, iv.ID, recordingURL); err != nil {
			log.Warn("recording archival failed", zap.Error(err))
		}
	}
}

func (c *Coordinator) archiveRecording(ctx context.Context, interviewID, recordingURL string) error {
	ctx, cancel := c.step(ctx)
	defer cancel()
	data, err := c.Recorder.Download(ctx, recordingURL)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	key := fmt.Sprintf("recordings/%s.mp3", interviewID)
	if err := c.Archive.Upload(key, data); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

func (c *Coordinator) step(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.StepTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
