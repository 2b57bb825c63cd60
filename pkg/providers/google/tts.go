// Package google synthesizes speech with the Google Cloud Text-to-Speech REST API.
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/resilience"
)

const (
	defaultBaseURL = "https://texttospeech.googleapis.com"
	DefaultVoice   = "en-US-Standard-A"
)

// Config holds the API key and the voice used when a request names none.
type Config struct {
	APIKey     string
	BaseURL    string
	Voice      string
	HTTPClient *http.Client
}

// TTS calls text:synthesize and voices over HTTPS.
type TTS struct {
	cfg    Config
	client *http.Client
}

// New fills in the endpoint, voice and client defaults.
func New(cfg Config) *TTS {
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TTS{cfg: cfg, client: client}
}

func (g *TTS) Name() string { return "google" }

type synthesizeRequest struct {
	Input       synthesisInput `json:"input"`
	Voice       voiceSelection `json:"voice"`
	AudioConfig audioConfig    `json:"audioConfig"`
}

type synthesisInput struct {
	Text string `json:"text"`
}

type voiceSelection struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name,omitempty"`
}

type audioConfig struct {
	AudioEncoding string `json:"audioEncoding"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *TTS) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	req, err := tts.ValidateRequest(req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Voice) == "" {
		req.Voice = g.cfg.Voice
	}
	encoding := "MP3"
	if req.Format == tts.FormatWAV {
		encoding = "LINEAR16"
	}
	body, err := json.Marshal(synthesizeRequest{
		Input:       synthesisInput{Text: req.Text},
		Voice:       voiceSelection{LanguageCode: req.Language, Name: req.Voice},
		AudioConfig: audioConfig{AudioEncoding: encoding},
	})
	if err != nil {
		return nil, errorsx.Provider(g.Name(), err)
	}

	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/text:synthesize", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, errorsx.Provider(g.Name(), fmt.Errorf("decode audioContent: %w", err))
	}
	if len(audio) == 0 {
		return nil, errorsx.Provider(g.Name(), errors.New("empty audioContent"))
	}
	slog.Debug("google_tts_synthesized",
		slog.String("voice", req.Voice),
		slog.String("encoding", encoding),
		slog.Int("size_bytes", len(audio)))
	return audio, nil
}

func (g *TTS) ListVoices(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		Voices json.RawMessage `json:"voices"`
	}
	if err := g.do(ctx, http.MethodGet, "/v1/voices", nil, &out); err != nil {
		return nil, err
	}
	if len(out.Voices) == 0 {
		return json.RawMessage(`[]`), nil
	}
	return out.Voices, nil
}

func (g *TTS) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	if g.cfg.APIKey == "" {
		return errorsx.Provider(g.Name(), errors.New("missing api key"))
	}
	endpoint := g.cfg.BaseURL + path + "?key=" + url.QueryEscape(g.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return errorsx.Provider(g.Name(), err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		// url.Error carries the key in the query string; report the cause only.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return errorsx.Provider(g.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := upstreamMessage(resp.Status, raw)
		if resp.StatusCode == http.StatusTooManyRequests {
			return errorsx.Provider(g.Name(), resilience.RateLimitError{Provider: g.Name(), Message: msg})
		}
		return errorsx.Provider(g.Name(), errors.New(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errorsx.Provider(g.Name(), fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func upstreamMessage(status string, raw []byte) string {
	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		return "Google API Error: " + apiErr.Error.Message
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return "Google API Error: " + status + ": " + text
	}
	return "Google API Error: " + status
}

var _ tts.Synthesizer = (*TTS)(nil)
