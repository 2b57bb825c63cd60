// Package orchestrator turns gateway requests into speech, storage and
// telephony steps, keeping the persisted call record consistent with their outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/calls"
	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/metrics"
	"github.com/harunnryd/voicegate/pkg/redact"
	"github.com/harunnryd/voicegate/pkg/telephony"
)

const (
	defaultSpeechTimeout    = 15 * time.Second
	defaultTelephonyTimeout = 10 * time.Second
)

// AudioStore persists synthesized audio and resolves references to paths.
type AudioStore interface {
	Save(data []byte, ext string) (string, error)
	SaveWithPrefix(prefix string, data []byte, ext string) (string, error)
	Path(ref string) (string, error)
}

// Config holds the speech defaults and the per-step external timeouts.
type Config struct {
	Speech           tts.Defaults
	SpeechTimeout    time.Duration
	TelephonyTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SpeechTimeout <= 0 {
		c.SpeechTimeout = defaultSpeechTimeout
	}
	if c.TelephonyTimeout <= 0 {
		c.TelephonyTimeout = defaultTelephonyTimeout
	}
	if c.Speech.Format == "" {
		c.Speech.Format = tts.FormatMP3
	}
	return c
}

// Deps are the collaborators the orchestrator composes.
type Deps struct {
	Store   calls.Store
	Speech  tts.Synthesizer
	Audio   AudioStore
	Control telephony.ControlClient
}

// Orchestrator sequences synthesis, telephony commands and record updates for a call.
type Orchestrator struct {
	cfg     Config
	store   calls.Store
	speech  tts.Synthesizer
	audio   AudioStore
	control telephony.ControlClient
	obs     metrics.Observer
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New validates deps and applies the timeout and format defaults.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil || deps.Speech == nil || deps.Audio == nil || deps.Control == nil {
		return nil, errors.New("orchestrator: store, speech, audio and control are required")
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		store:   deps.Store,
		speech:  deps.Speech,
		audio:   deps.Audio,
		control: deps.Control,
		obs:     metrics.NoopObserver{},
		logger:  slog.Default().With("component", "orchestrator"),
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

func (o *Orchestrator) SetObserver(obs metrics.Observer) {
	if obs != nil {
		o.obs = obs
	}
}

func (o *Orchestrator) SetLogger(l *slog.Logger) {
	if l != nil {
		o.logger = l
	}
}

// external returns a context that survives caller cancellation but is bounded by d.
func external(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}

func (o *Orchestrator) load(ctx context.Context, id string) (calls.Call, error) {
	c, err := o.store.Get(ctx, id)
	if errors.Is(err, calls.ErrNotFound) {
		return calls.Call{}, errorsx.NotFound("call", id)
	}
	if err != nil {
		return calls.Call{}, errorsx.Storage(errorsx.SubsystemStore, err)
	}
	return c, nil
}

// fail marks the record failed and persists it. A persistence failure is
// joined with cause so neither is lost.
func (o *Orchestrator) fail(ctx context.Context, c *calls.Call, cause error) error {
	subsystem := errorsx.SubsystemOf(cause)
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventCallFailed,
		Time:  o.now(),
		Value: 1,
		Tags:  map[string]string{"subsystem": subsystem, "kind": string(errorsx.KindOf(cause))},
	})
	o.logger.Error("call_failed",
		"call_id", c.ID,
		"subsystem", subsystem,
		"to", redact.Text(c.Destination),
		"error", redact.Text(cause.Error()))

	if subsystem != "" {
		c.Error = fmt.Sprintf("%s: %s", subsystem, cause.Error())
	} else {
		c.Error = cause.Error()
	}
	if err := c.Transition(calls.StatusFailed); err != nil {
		return errors.Join(cause, err)
	}
	if err := o.store.Update(context.WithoutCancel(ctx), c); err != nil {
		return errors.Join(cause, errorsx.Storage(errorsx.SubsystemStore, err))
	}
	return cause
}
