package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/errorsx"
)

type TTSConfig struct {
	SampleRate int
	// Err, when set, is returned as a provider failure from every Synthesize call.
	Err error
}

// TTS produces deterministic audio without network access.
type TTS struct {
	cfg      TTSConfig
	mu       sync.Mutex
	requests []tts.Request
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	return &TTS{cfg: cfg}
}

func (s *TTS) Name() string { return "mock" }

func (s *TTS) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	req, err := tts.ValidateRequest(req)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.cfg.Err != nil {
		return nil, errorsx.Provider(s.Name(), s.cfg.Err)
	}
	if req.Format == tts.FormatWAV {
		// 20ms of silence per character keeps output size proportional to the text.
		pcm := make([]byte, len(req.Text)*s.cfg.SampleRate/50*2)
		return tts.WrapPCM(pcm, s.cfg.SampleRate, 1, 16), nil
	}
	return append([]byte("ID3"), req.Text...), nil
}

func (s *TTS) ListVoices(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`[{"name":"mock-voice","languageCodes":["en-US"]}]`), nil
}

// Requests returns every validated request received so far.
func (s *TTS) Requests() []tts.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tts.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

var _ tts.Synthesizer = (*TTS)(nil)
