// Package gateway assembles the voicegate components from configuration.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/api"
	"github.com/harunnryd/voicegate/pkg/audiostore"
	"github.com/harunnryd/voicegate/pkg/auth"
	"github.com/harunnryd/voicegate/pkg/configutil"
	"github.com/harunnryd/voicegate/pkg/logging"
	"github.com/harunnryd/voicegate/pkg/metrics"
	"github.com/harunnryd/voicegate/pkg/orchestrator"
	"github.com/harunnryd/voicegate/pkg/redact"
	"github.com/harunnryd/voicegate/pkg/resilience"
)

// Gateway holds the wired components of a running process.
type Gateway struct {
	Orchestrator *orchestrator.Orchestrator
	Audio        *audiostore.Store
	Handler      http.Handler
	Observer     metrics.Observer

	cfg     Config
	logger  *slog.Logger
	closers []func()
	once    sync.Once
}

type observerSetter interface {
	SetObserver(metrics.Observer)
}

func Build(ctx context.Context, cfg Config, reg *ProviderRegistry) (*Gateway, error) {
	if reg == nil {
		reg = NewProviderRegistry()
		RegisterBuiltins(reg)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	logger := logging.NewComponentLogger(slog.Default(), "gateway")
	g := &Gateway{cfg: cfg, logger: logger}

	obs, err := g.buildObserver()
	if err != nil {
		return nil, err
	}
	g.Observer = obs

	audio, err := audiostore.New(cfg.Audio.Dir)
	if err != nil {
		g.Close()
		return nil, err
	}
	g.Audio = audio

	speech, err := reg.BuildSpeech(cfg)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("speech: %w", err)
	}
	breaker := resilience.NewCircuitBreaker(cfg.Speech.Breaker.Threshold, configutil.Millis(cfg.Speech.Breaker.CooldownMS, 30*time.Second)).
		WithTrip(resilience.TripOnOutage)
	guarded := tts.NewBreakerSynthesizer(speech, breaker)
	guarded.SetObserver(obs)

	control, err := reg.BuildTelephony(cfg)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("telephony: %w", err)
	}
	if s, ok := control.(observerSetter); ok {
		s.SetObserver(obs)
	}

	store, closeStore, err := reg.BuildStore(ctx, cfg)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	g.closers = append(g.closers, closeStore)

	orch, err := orchestrator.New(orchestrator.Config{
		Speech:           cfg.SpeechDefaults(),
		SpeechTimeout:    configutil.Millis(cfg.Speech.TimeoutMS, 15*time.Second),
		TelephonyTimeout: configutil.Millis(cfg.Telephony.TimeoutMS, 10*time.Second),
	}, orchestrator.Deps{Store: store, Speech: guarded, Audio: audio, Control: control})
	if err != nil {
		g.Close()
		return nil, err
	}
	orch.SetObserver(obs)
	orch.SetLogger(logging.NewComponentLogger(slog.Default(), "orchestrator"))
	g.Orchestrator = orch

	g.Handler = api.NewRouter(&api.Handler{
		Service:     orch,
		Auth:        auth.NewKeyAuthenticator(cfg.Auth.APIKey),
		Media:       audio,
		Environment: cfg.Environment,
		Logger:      logging.NewComponentLogger(slog.Default(), "api"),
		Components:  func() map[string]string {
			return map[string]string{
				"speech":         speech.Name(),
				"speech_breaker": string(breaker.State()),
				"telephony":      control.Name(),
			}
		},
	})

	logger.Info("gateway_ready",
		"speech", speech.Name(),
		"telephony", control.Name(),
		"storage", cfg.Storage.Provider,
		"audio_dir", audio.Dir())
	return g, nil
}

func (g *Gateway) buildObserver() (metrics.Observer, error) {
	var list []metrics.Observer
	if g.cfg.Observability.LogEvents {
		list = append(list, metrics.NewLoggerObserver(logging.NewComponentLogger(slog.Default(), "metrics")))
	}
	if path := g.cfg.Observability.MetricsPath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("metrics dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		g.closers = append(g.closers, func() { _ = f.Close() })
		list = append(list, metrics.NewJSONLObserver(f))
	}
	if len(list) == 0 {
		return metrics.NoopObserver{}, nil
	}
	async := metrics.NewAsyncObserver(metrics.NewMultiObserver(list...), g.cfg.Observability.AsyncBuffer)
	// closers run in reverse, so the async queue flushes before the file closes
	g.closers = append(g.closers, async.Close)
	return async, nil
}

// RunJanitor purges stored audio older than the retention window until ctx ends.
func (g *Gateway) RunJanitor(ctx context.Context) {
	days := g.cfg.Audio.RetentionDays
	if days <= 0 || g.Audio == nil {
		return
	}
	maxAge := time.Duration(days) * 24 * time.Hour
	interval := time.Duration(g.cfg.Audio.PurgeIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	purge := func() {
		n, err := g.Audio.Purge(maxAge)
		if err != nil {
			g.logger.Warn("audio_purge_failed", "error", err)
			return
		}
		if n > 0 {
			g.logger.Info("audio_purged", "files", n)
		}
	}
	purge()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

// Close releases the store, metrics sinks and files, last opened first.
func (g *Gateway) Close() {
	g.once.Do(func() {
		for i := len(g.closers) - 1; i >= 0; i-- {
			if g.closers[i] != nil {
				g.closers[i]()
			}
		}
	})
}

// ErrNoHandler is returned by Server when Build has not produced a handler.
var ErrNoHandler = errors.New("gateway has no handler")

// Server returns an http.Server configured from the server section.
func (g *Gateway) Server() (*http.Server, error) {
	if g.Handler == nil {
		return nil, ErrNoHandler
	}
	return &http.Server{
		Addr:              g.cfg.Server.Addr,
		Handler:           g.Handler,
		ReadTimeout:       configutil.Millis(g.cfg.Server.ReadTimeoutMS, 15*time.Second),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      configutil.Millis(g.cfg.Server.WriteTimeoutMS, 60*time.Second),
	}, nil
}
