package gateway

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/harunnryd/voicegate/pkg/adapters/tts"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Storage       VendorConfig        `mapstructure:"storage"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Telephony     TelephonyConfig     `mapstructure:"telephony"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	ReadTimeoutMS  int    `mapstructure:"read_timeout_ms"`
	WriteTimeoutMS int    `mapstructure:"write_timeout_ms"`
	DrainTimeoutMS int    `mapstructure:"drain_timeout_ms"`
}

type AuthConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type AudioConfig struct {
	Dir                  string `mapstructure:"dir"`
	RetentionDays        int    `mapstructure:"retention_days"`
	PurgeIntervalMinutes int    `mapstructure:"purge_interval_minutes"`
}

// SpeechConfig selects the synthesis provider. Voice overrides the provider's
// own voice setting (google settings.voice, elevenlabs settings.voice_id) and
// is empty unless set.
type SpeechConfig struct {
	Provider  string         `mapstructure:"provider"`
	Settings  map[string]any `mapstructure:"settings"`
	Language  string         `mapstructure:"language"`
	Voice     string         `mapstructure:"voice"`
	Format    string         `mapstructure:"format"`
	TimeoutMS int            `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig  `mapstructure:"breaker"`
}

type BreakerConfig struct {
	Threshold  int `mapstructure:"threshold"`
	CooldownMS int `mapstructure:"cooldown_ms"`
}

type TelephonyConfig struct {
	Provider  string         `mapstructure:"provider"`
	Settings  map[string]any `mapstructure:"settings"`
	TimeoutMS int            `mapstructure:"timeout_ms"`
	// AdvisoryMarkers are stderr substrings that do not fail a command.
	AdvisoryMarkers []string `mapstructure:"advisory_markers"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type ObservabilityConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
	LogEvents   bool   `mapstructure:"log_events"`
	AsyncBuffer int    `mapstructure:"async_buffer"`
}

// LoadConfig reads a YAML file (optional when path is empty), applies
// defaults and environment overrides, and validates the result.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	_ = v.BindEnv("auth.api_key", "VOICEGATE_API_KEY", "API_KEY")
	_ = v.BindEnv("server.addr", "VOICEGATE_ADDR")
	_ = v.BindEnv("environment", "VOICEGATE_ENV")

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("server.addr", ":3000")
	v.SetDefault("server.read_timeout_ms", 15000)
	v.SetDefault("server.write_timeout_ms", 60000)
	v.SetDefault("server.drain_timeout_ms", 10000)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("audio.dir", "uploads")
	v.SetDefault("audio.retention_days", 0)
	v.SetDefault("audio.purge_interval_minutes", 60)
	v.SetDefault("speech.provider", "google")
	v.SetDefault("speech.language", "en-US")
	v.SetDefault("speech.format", "MP3")
	v.SetDefault("speech.timeout_ms", 15000)
	v.SetDefault("speech.breaker.threshold", 3)
	v.SetDefault("speech.breaker.cooldown_ms", 30000)
	v.SetDefault("telephony.provider", "opensips")
	v.SetDefault("telephony.timeout_ms", 10000)
	v.SetDefault("telephony.advisory_markers", []string{"warning"})
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.log_events", false)
	v.SetDefault("observability.async_buffer", 256)
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.APIKey) == "" {
		return fmt.Errorf("auth.api_key is required (or set VOICEGATE_API_KEY)")
	}
	if strings.TrimSpace(c.Storage.Provider) == "" {
		return fmt.Errorf("storage.provider is required")
	}
	if strings.TrimSpace(c.Speech.Provider) == "" {
		return fmt.Errorf("speech.provider is required")
	}
	if strings.TrimSpace(c.Telephony.Provider) == "" {
		return fmt.Errorf("telephony.provider is required")
	}
	if strings.TrimSpace(c.Audio.Dir) == "" {
		return fmt.Errorf("audio.dir is required")
	}
	if _, err := tts.ParseFormat(c.Speech.Format); err != nil {
		return fmt.Errorf("speech.format: %w", err)
	}
	if c.Audio.RetentionDays < 0 {
		return fmt.Errorf("audio.retention_days must be >= 0, got %d", c.Audio.RetentionDays)
	}
	return nil
}

// SpeechDefaults returns the language, voice and format applied to requests that omit them.
func (c Config) SpeechDefaults() tts.Defaults {
	f, _ := tts.ParseFormat(c.Speech.Format)
	return tts.Defaults{Language: c.Speech.Language, Voice: c.Speech.Voice, Format: f}
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Storage.Settings = expandSettings(cfg.Storage.Settings)
	cfg.Speech.Settings = expandSettings(cfg.Speech.Settings)
	cfg.Telephony.Settings = expandSettings(cfg.Telephony.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
