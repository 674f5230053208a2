package tts

import (
	"context"
	"testing"
	"time"
)

func TestStreamMulaw_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	audioCh, errCh := d.StreamMulaw(ctx, "hello")
	for range audioCh {
	}
	if err := <-errCh; err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestStreamMulaw_EmptyText(t *testing.T) {
	d := NewDeepgramClient("key", "")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	audioCh, errCh := d.StreamMulaw(ctx, "")
	n := 0
	for range audioCh {
		n++
	}
	if n != 0 {
		t.Fatalf("expected no audio for empty text, got %d chunks", n)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewDeepgramClient_Defaults(t *testing.T) {
	d := NewDeepgramClient("key", "")
	if d.model != "aura-asteria-en" {
		t.Fatalf("default model: got %q", d.model)
	}
	if d.sampleRate != 8000 || d.encoding != "mulaw" {
		t.Fatalf("telephony format: got %s/%d", d.encoding, d.sampleRate)
	}
}
