package metrics

import "time"

const (
	EventCallInitiated     = "call_initiated"
	EventCallFailed        = "call_failed"
	EventCallEnded         = "call_ended"
	EventSynthesisLatency  = "synthesis_latency_ms"
	EventControlLatency    = "control_latency_ms"
	EventAdvisoryDiagnosis = "telephony_advisory"
	EventRateLimit         = "speech_rate_limit"
	EventBreakerDenied     = "speech_breaker_denied"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Latency records a duration in milliseconds under name.
func Latency(obs Observer, name string, d time.Duration, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(d.Microseconds()) / 1000,
		Tags:  tags,
	})
}
