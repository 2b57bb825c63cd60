package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/calls"
	"github.com/harunnryd/voicegate/pkg/telephony"
)

type SpeechFactory func(cfg Config) (tts.Synthesizer, error)
type TelephonyFactory func(cfg Config) (telephony.ControlClient, error)

// StoreFactory opens a call store; the returned func releases it.
type StoreFactory func(ctx context.Context, cfg Config) (calls.Store, func(), error)

type ProviderRegistry struct {
	speech    map[string]SpeechFactory
	telephony map[string]TelephonyFactory
	store     map[string]StoreFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		speech:    make(map[string]SpeechFactory),
		telephony: make(map[string]TelephonyFactory),
		store:     make(map[string]StoreFactory),
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *ProviderRegistry) RegisterSpeech(name string, factory SpeechFactory) {
	r.speech[normalize(name)] = factory
}

func (r *ProviderRegistry) RegisterTelephony(name string, factory TelephonyFactory) {
	r.telephony[normalize(name)] = factory
}

func (r *ProviderRegistry) RegisterStore(name string, factory StoreFactory) {
	r.store[normalize(name)] = factory
}

func (r *ProviderRegistry) BuildSpeech(cfg Config) (tts.Synthesizer, error) {
	fn := r.speech[normalize(cfg.Speech.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("speech provider not registered: %s", cfg.Speech.Provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTelephony(cfg Config) (telephony.ControlClient, error) {
	fn := r.telephony[normalize(cfg.Telephony.Provider)]
	if fn == nil {
		return nil, fmt.Errorf("telephony provider not registered: %s", cfg.Telephony.Provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildStore(ctx context.Context, cfg Config) (calls.Store, func(), error) {
	fn := r.store[normalize(cfg.Storage.Provider)]
	if fn == nil {
		return nil, nil, fmt.Errorf("storage provider not registered: %s", cfg.Storage.Provider)
	}
	return fn(ctx, cfg)
}
