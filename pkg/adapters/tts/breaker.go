package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harunnryd/voicegate/pkg/errorsx"
	"github.com/harunnryd/voicegate/pkg/metrics"
	"github.com/harunnryd/voicegate/pkg/resilience"
)

// BreakerSynthesizer stops calling a degraded provider until its breaker
// lets a probe through.
type BreakerSynthesizer struct {
	inner   Synthesizer
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
}

func NewBreakerSynthesizer(inner Synthesizer, breaker *resilience.CircuitBreaker) *BreakerSynthesizer {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &BreakerSynthesizer{inner: inner, breaker: breaker, obs: metrics.NoopObserver{}}
}

func (b *BreakerSynthesizer) Name() string { return b.inner.Name() }

// SetObserver allows metrics emission for breaker events.
func (b *BreakerSynthesizer) SetObserver(obs metrics.Observer) {
	if obs != nil {
		b.obs = obs
	}
}

func (b *BreakerSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if !b.breaker.Allow() {
		b.record(metrics.EventBreakerDenied)
		return nil, errorsx.Provider(b.Name(), fmt.Errorf("%w: %w", resilience.ErrOpen,
			resilience.RateLimitError{Provider: b.Name(), Message: "speech provider degraded, retry later"}))
	}
	audio, err := b.inner.Synthesize(ctx, req)
	if err != nil {
		if resilience.IsRateLimit(err) {
			b.record(metrics.EventRateLimit)
		}
		b.breaker.OnError(err)
		return nil, err
	}
	b.breaker.OnSuccess()
	return audio, nil
}

func (b *BreakerSynthesizer) ListVoices(ctx context.Context) (json.RawMessage, error) {
	return b.inner.ListVoices(ctx)
}

func (b *BreakerSynthesizer) record(name string) {
	b.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: 1,
		Tags:  map[string]string{"provider": b.Name()},
	})
}

var _ Synthesizer = (*BreakerSynthesizer)(nil)
