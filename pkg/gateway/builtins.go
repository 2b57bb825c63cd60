package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
	"github.com/harunnryd/voicegate/pkg/calls"
	"github.com/harunnryd/voicegate/pkg/configutil"
	"github.com/harunnryd/voicegate/pkg/providers/elevenlabs"
	"github.com/harunnryd/voicegate/pkg/providers/google"
	"github.com/harunnryd/voicegate/pkg/providers/mock"
	"github.com/harunnryd/voicegate/pkg/store/memory"
	"github.com/harunnryd/voicegate/pkg/store/postgres"
	"github.com/harunnryd/voicegate/pkg/telephony"
	"github.com/harunnryd/voicegate/pkg/telephony/fake"
	"github.com/harunnryd/voicegate/pkg/telephony/opensips"
	"github.com/harunnryd/voicegate/pkg/telephony/twilio"
)

type googleSettings struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Voice   string `mapstructure:"voice"`
}

type elevenlabsSettings struct {
	APIKey    string `mapstructure:"api_key"`
	VoiceID   string `mapstructure:"voice_id"`
	ModelID   string `mapstructure:"model_id"`
	BaseURL   string `mapstructure:"base_url"`
	WSBaseURL string `mapstructure:"ws_base_url"`
}

type mockSpeechSettings struct {
	SampleRate int    `mapstructure:"sample_rate"`
	FailWith   string `mapstructure:"fail_with"`
}

type opensipsSettings struct {
	Binary    string   `mapstructure:"binary"`
	Prefix    []string `mapstructure:"prefix"`
	SSHHost   string   `mapstructure:"ssh_host"`
	SSHBinary string   `mapstructure:"ssh_binary"`
	SSHArgs   []string `mapstructure:"ssh_args"`
}

// RegisterBuiltins adds every provider shipped with the gateway.
func RegisterBuiltins(reg *ProviderRegistry) {
	reg.RegisterSpeech("google", func(cfg Config) (tts.Synthesizer, error) {
		if err := configutil.Validate("speech.settings", cfg.Speech.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"base_url", "voice"},
		}); err != nil {
			return nil, err
		}
		var settings googleSettings
		if err := configutil.DecodeSettings(cfg.Speech.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "speech.settings.api_key"); err != nil {
			return nil, err
		}
		return google.New(google.Config{APIKey: settings.APIKey, BaseURL: settings.BaseURL, Voice: settings.Voice}), nil
	})

	reg.RegisterSpeech("elevenlabs", func(cfg Config) (tts.Synthesizer, error) {
		if err := configutil.Validate("speech.settings", cfg.Speech.Settings, configutil.Schema{
			Required: []string{"api_key", "voice_id"},
			Optional: []string{"model_id", "base_url", "ws_base_url"},
		}); err != nil {
			return nil, err
		}
		var settings elevenlabsSettings
		if err := configutil.DecodeSettings(cfg.Speech.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "speech.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.VoiceID, "speech.settings.voice_id"); err != nil {
			return nil, err
		}
		if settings.ModelID == "" {
			settings.ModelID = "eleven_multilingual_v2"
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:    settings.APIKey,
			VoiceID:   settings.VoiceID,
			ModelID:   settings.ModelID,
			BaseURL:   settings.BaseURL,
			WSBaseURL: settings.WSBaseURL,
		}), nil
	})

	reg.RegisterSpeech("mock", func(cfg Config) (tts.Synthesizer, error) {
		if err := configutil.Validate("speech.settings", cfg.Speech.Settings, configutil.Schema{
			Optional: []string{"sample_rate", "fail_with"},
		}); err != nil {
			return nil, err
		}
		var settings mockSpeechSettings
		if err := configutil.DecodeSettings(cfg.Speech.Settings, &settings); err != nil {
			return nil, err
		}
		mcfg := mock.TTSConfig{SampleRate: settings.SampleRate}
		if strings.TrimSpace(settings.FailWith) != "" {
			mcfg.Err = errors.New(settings.FailWith)
		}
		return mock.NewTTS(mcfg), nil
	})

	reg.RegisterTelephony("opensips", func(cfg Config) (telephony.ControlClient, error) {
		if err := configutil.Validate("telephony.settings", cfg.Telephony.Settings, configutil.Schema{
			Optional: []string{"binary", "prefix", "ssh_host", "ssh_binary", "ssh_args"},
		}); err != nil {
			return nil, err
		}
		var settings opensipsSettings
		if err := configutil.DecodeSettings(cfg.Telephony.Settings, &settings); err != nil {
			return nil, err
		}
		return opensips.New(opensips.Config{
			Binary:    settings.Binary,
			Prefix:    settings.Prefix,
			SSHHost:   settings.SSHHost,
			SSHBinary: settings.SSHBinary,
			SSHArgs:   settings.SSHArgs,
			Advisory:  cfg.Telephony.AdvisoryMarkers,
		}), nil
	})

	reg.RegisterTelephony("twilio", func(cfg Config) (telephony.ControlClient, error) {
		if err := configutil.Validate("telephony.settings", cfg.Telephony.Settings, configutil.Schema{
			Required: []string{"account_sid", "auth_token", "media_base_url"},
			Optional: []string{"status_callback_url"},
		}); err != nil {
			return nil, err
		}
		var settings twilio.Config
		if err := configutil.DecodeSettings(cfg.Telephony.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.AccountSID, "telephony.settings.account_sid"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.AuthToken, "telephony.settings.auth_token"); err != nil {
			return nil, err
		}
		return twilio.New(settings), nil
	})

	reg.RegisterTelephony("fake", func(cfg Config) (telephony.ControlClient, error) {
		c := fake.New()
		c.Classifier = telephony.Classifier{Advisory: cfg.Telephony.AdvisoryMarkers}
		return c, nil
	})

	reg.RegisterStore("memory", func(ctx context.Context, cfg Config) (calls.Store, func(), error) {
		return memory.New(), func() {}, nil
	})

	reg.RegisterStore("postgres", func(ctx context.Context, cfg Config) (calls.Store, func(), error) {
		if err := configutil.Validate("storage.settings", cfg.Storage.Settings, configutil.Schema{
			Required: []string{"dsn"},
			Optional: []string{"max_conns", "connect_retries"},
		}); err != nil {
			return nil, nil, err
		}
		var settings postgres.Config
		if err := configutil.DecodeSettings(cfg.Storage.Settings, &settings); err != nil {
			return nil, nil, err
		}
		store, err := postgres.Open(ctx, settings)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	})
}
