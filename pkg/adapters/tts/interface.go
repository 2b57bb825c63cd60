package tts

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/harunnryd/voicegate/pkg/errorsx"
)

// Format is the requested audio encoding.
type Format string

const (
	FormatMP3 Format = "MP3"
	// FormatWAV is linear PCM in a WAV-compatible container.
	FormatWAV Format = "WAV"
)

// Extension returns the file extension stored audio gets.
func (f Format) Extension() string {
	return strings.ToLower(string(f))
}

// ParseFormat accepts MP3 or WAV in any case.
func ParseFormat(v string) (Format, error) {
	switch Format(strings.ToUpper(strings.TrimSpace(v))) {
	case FormatMP3:
		return FormatMP3, nil
	case FormatWAV:
		return FormatWAV, nil
	default:
		return "", errorsx.Validation("audio format must be MP3 or WAV, got %q", v)
	}
}

// Request is one synthesis call.
type Request struct {
	Text     string
	Language string
	Voice    string
	Format   Format
}

// Synthesizer defines the contract for any speech vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize returns the encoded audio for req.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	// ListVoices returns the provider's voice catalog verbatim.
	ListVoices(ctx context.Context) (json.RawMessage, error)
}

// Defaults fill in language, voice and format when a request omits them.
type Defaults struct {
	Language string
	Voice    string
	Format   Format
}

func (d Defaults) Apply(req Request) Request {
	if strings.TrimSpace(req.Language) == "" {
		req.Language = d.Language
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = d.Voice
	}
	if strings.TrimSpace(string(req.Format)) == "" {
		req.Format = d.Format
	}
	return req
}

// ValidateRequest rejects blank text and unsupported formats, normalizing the format.
func ValidateRequest(req Request) (Request, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Request{}, errorsx.Validation("text is required")
	}
	f, err := ParseFormat(string(req.Format))
	if err != nil {
		return Request{}, err
	}
	req.Format = f
	return req, nil
}
