package domain

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to CaptureStatus }{
		{CaptureCreated, CaptureUploaded},
		{CaptureCreated, CaptureFailed},
		{CaptureCreated, CaptureExpired},
		{CaptureUploaded, CaptureTranscribed},
		{CaptureUploaded, CaptureFailed},
		{CaptureUploaded, CaptureExpired},
		{CaptureTranscribed, CaptureParsed},
		{CaptureTranscribed, CaptureFailed},
		{CaptureTranscribed, CaptureExpired},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to CaptureStatus }{
		{CaptureCreated, CaptureParsed},     // skipping steps
		{CaptureCreated, CaptureTranscribed},
		{CaptureUploaded, CaptureCreated},   // backwards
		{CaptureParsed, CaptureFailed},      // out of a terminal state
		{CaptureExpired, CaptureUploaded},
		{CaptureFailed, CaptureParsed},
		{CaptureTranscribed, CaptureUploaded},
	}
	for _, tr := range denied {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tr.from, tr.to)
		}
	}
}

func TestEffectiveStatus(t *testing.T) {
	now := time.Now()
	session := &CaptureSession{
		Status:    CaptureUploaded,
		ExpiresAt: now.Add(10 * time.Minute),
	}

	if got := session.EffectiveStatus(now); got != CaptureUploaded {
		t.Errorf("EffectiveStatus before deadline = %s, want uploaded", got)
	}

	// Any non-terminal status reads as expired after the deadline,
	// regardless of what was last written.
	after := now.Add(11 * time.Minute)
	for _, status := range []CaptureStatus{CaptureCreated, CaptureUploaded, CaptureTranscribed} {
		session.Status = status
		if got := session.EffectiveStatus(after); got != CaptureExpired {
			t.Errorf("EffectiveStatus(%s past deadline) = %s, want expired", status, got)
		}
	}

	// Terminal statuses are not rewritten by expiry.
	for _, status := range []CaptureStatus{CaptureParsed, CaptureFailed} {
		session.Status = status
		if got := session.EffectiveStatus(after); got != status {
			t.Errorf("EffectiveStatus(%s past deadline) = %s, want %s", status, got, status)
		}
	}
}
