package tts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/metrics"
	"github.com/harunnryd/voicegate/pkg/resilience"
)

type stubSynth struct {
	calls int
	err   error
}

func (s *stubSynth) Name() string { return "stub" }

func (s *stubSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte("audio"), nil
}

func (s *stubSynth) ListVoices(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func TestValidateRequest(t *testing.T) {
	if _, err := ValidateRequest(Request{Text: "   ", Format: FormatMP3}); !errorsx.HasKind(err, errorsx.KindValidation) {
		t.Fatalf("expected validation error for blank text, got %v", err)
	}
	if _, err := ValidateRequest(Request{Text: "hi", Format: "OGG"}); !errorsx.HasKind(err, errorsx.KindValidation) {
		t.Fatalf("expected validation error for format, got %v", err)
	}
	req, err := ValidateRequest(Request{Text: "hi", Format: "wav"})
	if err != nil || req.Format != FormatWAV {
		t.Fatalf("unexpected result %+v %v", req, err)
	}
}

func TestDefaultsApply(t *testing.T) {
	d := Defaults{Language: "en-US", Voice: "en-US-Standard-A", Format: FormatMP3}
	req := d.Apply(Request{Text: "hi", Voice: "custom"})
	if req.Language != "en-US" || req.Voice != "custom" || req.Format != FormatMP3 {
		t.Fatalf("unexpected request %+v", req)
	}
	if FormatWAV.Extension() != "wav" {
		t.Fatalf("unexpected extension")
	}
}

func TestBreakerSynthesizerOpensAfterRateLimits(t *testing.T) {
	inner := &stubSynth{err: errorsx.Provider("stub", resilience.RateLimitError{Provider: "stub"})}
	obs := metrics.NewMemoryObserver()
	b := NewBreakerSynthesizer(inner, resilience.NewCircuitBreaker(1, time.Minute))
	b.SetObserver(obs)

	if _, err := b.Synthesize(context.Background(), Request{Text: "hi"}); err == nil {
		t.Fatalf("expected error")
	}
	_, err := b.Synthesize(context.Background(), Request{Text: "hi"})
	if !errorsx.HasKind(err, errorsx.KindProvider) || !resilience.IsRateLimit(err) || !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("expected provider rate-limit error, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected breaker to short-circuit, inner called %d times", inner.calls)
	}
	if len(obs.Events) != 2 {
		t.Fatalf("expected rate limit and denied events, got %d", len(obs.Events))
	}
}

func TestWrapPCMHeader(t *testing.T) {
	out := WrapPCM(make([]byte, 320), 16000, 1, 16)
	if len(out) != 364 {
		t.Fatalf("expected 364 bytes, got %d", len(out))
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" || string(out[36:40]) != "data" {
		t.Fatalf("unexpected header %q", out[:44])
	}
}
