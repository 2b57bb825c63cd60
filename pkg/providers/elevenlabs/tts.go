package elevenlabs

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

	"github.com/gorilla/websocket"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/resilience"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultWSBaseURL = "wss://api.elevenlabs.io"
	pcmSampleRate    = 16000
)

type Config struct {
	APIKey    string
	VoiceID   string
	ModelID   string
	BaseURL   string
	WSBaseURL string
}

type ElevenLabsTTS struct {
	cfg    Config
	dialer websocket.Dialer
	client *http.Client
}

func New(cfg Config) *ElevenLabsTTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = defaultWSBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.WSBaseURL = strings.TrimRight(cfg.WSBaseURL, "/")
	return &ElevenLabsTTS{
		cfg:    cfg,
		dialer: websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *ElevenLabsTTS) Name() string { return "elevenlabs" }

type streamMessage struct {
	Audio   *string `json:"audio"`
	IsFinal bool    `json:"isFinal"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
}

// Synthesize streams text over the stream-input websocket and collects every audio chunk.
// The language follows the selected voice; the multilingual models detect it from the text.
func (s *ElevenLabsTTS) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	req, err := tts.ValidateRequest(req)
	if err != nil {
		return nil, err
	}
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = s.cfg.VoiceID
	}
	if s.cfg.APIKey == "" || voice == "" {
		return nil, errorsx.Provider(s.Name(), errors.New("missing elevenlabs config"))
	}

	u := s.streamURL(voice, req.Format)
	conn, resp, err := s.dialer.DialContext(ctx, u, http.Header{"xi-api-key": []string{s.cfg.APIKey}})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			slog.Error("ElevenLabs rate limit exceeded", slog.String("status", resp.Status))
			return nil, errorsx.Provider(s.Name(), resilience.RateLimitError{Provider: s.Name(), Message: resp.Status})
		}
		if resp != nil {
			return nil, errorsx.Provider(s.Name(), fmt.Errorf("connect: %s", resp.Status))
		}
		return nil, errorsx.Provider(s.Name(), fmt.Errorf("connect: %w", err))
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	for _, payload := range []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        0.5,
				"similarity_boost": 0.8,
			},
		},
		{"text": strings.TrimSpace(req.Text) + " ", "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(payload); err != nil {
			return nil, errorsx.Provider(s.Name(), fmt.Errorf("send: %w", err))
		}
	}

	audio, err := s.collect(ctx, conn)
	if err != nil {
		return nil, err
	}
	slog.Debug("elevenlabs_tts_synthesized",
		slog.String("voice_id", voice),
		slog.Int("size_bytes", len(audio)))
	if req.Format == tts.FormatWAV {
		return tts.WrapPCM(audio, pcmSampleRate, 1, 16), nil
	}
	return audio, nil
}

func (s *ElevenLabsTTS) collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var buf bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errorsx.Provider(s.Name(), ctx.Err())
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && buf.Len() > 0 {
				return buf.Bytes(), nil
			}
			return nil, errorsx.Provider(s.Name(), fmt.Errorf("read: %w", err))
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("tts websocket raw data", "data", string(data))
			continue
		}
		if msg.Error != "" {
			detail := msg.Error
			if msg.Message != "" {
				detail += ": " + msg.Message
			}
			return nil, errorsx.Provider(s.Name(), errors.New(detail))
		}
		if msg.Audio != nil && *msg.Audio != "" {
			raw, err := base64.StdEncoding.DecodeString(*msg.Audio)
			if err != nil {
				return nil, errorsx.Provider(s.Name(), fmt.Errorf("decode audio: %w", err))
			}
			buf.Write(raw)
		}
		if msg.IsFinal {
			if buf.Len() == 0 {
				return nil, errorsx.Provider(s.Name(), errors.New("no audio received"))
			}
			return buf.Bytes(), nil
		}
	}
}

func (s *ElevenLabsTTS) streamURL(voice string, format tts.Format) string {
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	if format == tts.FormatWAV {
		q.Set("output_format", fmt.Sprintf("pcm_%d", pcmSampleRate))
	} else {
		q.Set("output_format", "mp3_44100_128")
	}
	return s.cfg.WSBaseURL + "/v1/text-to-speech/" + url.PathEscape(voice) + "/stream-input?" + q.Encode()
}

func (s *ElevenLabsTTS) ListVoices(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/v1/voices", nil)
	if err != nil {
		return nil, errorsx.Provider(s.Name(), err)
	}
	req.Header.Set("xi-api-key", s.cfg.APIKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errorsx.Provider(s.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errorsx.Provider(s.Name(), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, errorsx.Provider(s.Name(), resilience.RateLimitError{Provider: s.Name(), Message: resp.Status})
		}
		return nil, errorsx.Provider(s.Name(), fmt.Errorf("%s: %s", resp.Status, msg))
	}
	var out struct {
		Voices json.RawMessage `json:"voices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errorsx.Provider(s.Name(), fmt.Errorf("decode voices: %w", err))
	}
	if len(out.Voices) == 0 {
		return json.RawMessage(`[]`), nil
	}
	return out.Voices, nil
}

var _ tts.Synthesizer = (*ElevenLabsTTS)(nil)
