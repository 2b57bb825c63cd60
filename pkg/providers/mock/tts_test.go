package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/errorsx"
)

func TestMockTTSRecordsRequests(t *testing.T) {
	s := NewTTS(TTSConfig{})
	audio, err := s.Synthesize(context.Background(), tts.Request{Text: "hello", Format: "mp3"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "ID3hello" {
		t.Fatalf("unexpected audio %q", audio)
	}
	reqs := s.Requests()
	if len(reqs) != 1 || reqs[0].Format != tts.FormatMP3 {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}

func TestMockTTSFailure(t *testing.T) {
	s := NewTTS(TTSConfig{Err: errors.New("down")})
	_, err := s.Synthesize(context.Background(), tts.Request{Text: "hello", Format: tts.FormatWAV})
	if !errorsx.HasKind(err, errorsx.KindProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}
