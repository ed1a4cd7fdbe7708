// Package config loads the assistant's settings: built-in defaults, then an
// optional YAML file, then LUMEN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "LUMEN_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Intent    IntentConfig    `koanf:"intent"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Memory    MemoryConfig    `koanf:"memory"`
	Session   SessionConfig   `koanf:"session"`
	Apps      AppsConfig      `koanf:"apps"`
	Search    SearchConfig    `koanf:"search"`
	Weather   WeatherConfig   `koanf:"weather"`
	Messaging MessagingConfig `koanf:"messaging"`
	Bus       BusConfig       `koanf:"bus"`
	IPC       IPCConfig       `koanf:"ipc"`
	Speech    SpeechConfig    `koanf:"speech"`
	STT       STTConfig       `koanf:"stt"`
	Audio     AudioConfig     `koanf:"audio"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text, json
}

type LLMConfig struct {
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	Model          string        `koanf:"model"`
	Temperature    float64       `koanf:"temperature"`
	MaxTokens      int64         `koanf:"max_tokens"`
	Timeout        time.Duration `koanf:"timeout"`
	Retries        uint          `koanf:"retries"`
	BackoffInitial time.Duration `koanf:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
	Preamble       string        `koanf:"preamble"`
	Proxy          string        `koanf:"proxy"` // SOCKS5 address for outbound HTTP
}

type IntentConfig struct {
	MinScore float64 `koanf:"min_score"`
}

type DispatchConfig struct {
	ExecTimeout time.Duration `koanf:"exec_timeout"`
}

type MemoryConfig struct {
	Backend      string `koanf:"backend"` // json, sqlite, none
	Path         string `koanf:"path"`
	History      int    `koanf:"history"`
	PromptTurns  int    `koanf:"prompt_turns"`
	FlushOnWrite bool   `koanf:"flush_on_write"`
	Transcript   string `koanf:"transcript"`
}

type SessionConfig struct {
	WakePhrase    string        `koanf:"wake_phrase"`
	SleepTimeout  time.Duration `koanf:"sleep_timeout"`
	SpeechTimeout time.Duration `koanf:"speech_timeout"`
}

type AppsConfig struct {
	Catalog     string        `koanf:"catalog"` // YAML file; empty uses the built-in catalog
	Opener      []string      `koanf:"opener"`
	LaunchGrace time.Duration `koanf:"launch_grace"`
}

type SearchConfig struct {
	Enabled     bool          `koanf:"enabled"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
	MinInterval time.Duration `koanf:"min_interval"`
}

type WeatherConfig struct {
	Enabled         bool          `koanf:"enabled"`
	DefaultLocation string        `koanf:"default_location"`
	Timeout         time.Duration `koanf:"timeout"`
	GeocodeURL      string        `koanf:"geocode_url"`
	ForecastURL     string        `koanf:"forecast_url"`
	CacheTTL        time.Duration `koanf:"cache_ttl"`
}

type MessagingConfig struct {
	Backend      string            `koanf:"backend"` // none, discord, bus
	DiscordToken string            `koanf:"discord_token"`
	Contacts     map[string]string `koanf:"contacts"` // name -> Discord user ID
	Shard        string            `koanf:"shard"`    // messaging shard for the bus backend
}

type BusConfig struct {
	URL       string        `koanf:"url"`
	Shard     string        `koanf:"shard"`
	SpeakTo   string        `koanf:"speak_to"`
	Reconnect time.Duration `koanf:"reconnect"`
}

type IPCConfig struct {
	Socket string `koanf:"socket"`
}

type SpeechConfig struct {
	Voice      string        `koanf:"voice"`
	Rate       int           `koanf:"rate"`
	Duck       bool          `koanf:"duck"`
	DuckFactor float64       `koanf:"duck_factor"`
	DuckFloor  int           `koanf:"duck_floor"`
	Fade       time.Duration `koanf:"fade"`
	Earcon     string        `koanf:"earcon"`
}

type STTConfig struct {
	Model    string `koanf:"model"`
	Language string `koanf:"language"`
	Threads  int    `koanf:"threads"`
}

type AudioConfig struct {
	Threshold float64       `koanf:"threshold"`
	Silence   time.Duration `koanf:"silence"`
	MaxLength time.Duration `koanf:"max_length"`
}

type MetricsConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"llm.base_url":        "http://localhost:1234/v1",
	"llm.model":           "local-model",
	"llm.temperature":     0.2,
	"llm.max_tokens":      500,
	"llm.timeout":         "30s",
	"llm.retries":         2,
	"llm.backoff_initial": "500ms",
	"llm.backoff_max":     "5s",

	"intent.min_score":      0.5,
	"dispatch.exec_timeout": "5s",

	"memory.backend":        "json",
	"memory.path":           "lumen_memory.json",
	"memory.history":        10,
	"memory.prompt_turns":   5,
	"memory.flush_on_write": true,

	"session.sleep_timeout":  "120s",
	"session.speech_timeout": "30s",

	"apps.opener":       []string{"xdg-open"},
	"apps.launch_grace": "300ms",

	"search.enabled":      true,
	"search.base_url":     "https://api.duckduckgo.com/",
	"search.timeout":      "8s",
	"search.cache_ttl":    "10m",
	"search.min_interval": "2s",

	"weather.enabled":      true,
	"weather.timeout":      "10s",
	"weather.geocode_url":  "https://geocoding-api.open-meteo.com/v1/search",
	"weather.forecast_url": "https://api.open-meteo.com/v1/forecast",
	"weather.cache_ttl":    "10m",

	"messaging.backend": "none",
	"messaging.shard":   "messenger",

	"bus.url":       "ws://localhost:8092/ws",
	"bus.shard":     "lumen",
	"bus.speak_to":  "all",
	"bus.reconnect": "2s",

	"ipc.socket": "/tmp/lumen.sock",

	"speech.voice":       "en",
	"speech.rate":        0,
	"speech.duck":        true,
	"speech.duck_factor": 0.3,
	"speech.duck_floor":  10,
	"speech.fade":        "200ms",

	"stt.model":    "models/ggml-base.en.bin",
	"stt.language": "auto",

	"audio.threshold":  0.015,
	"audio.silence":    "600ms",
	"audio.max_length": "10s",

	"metrics.interval": "1m",
}

// Load builds a Config. path may be empty to skip the file layer. Env keys
// map the first underscore after the prefix to a dot, so
// LUMEN_MEMORY_FLUSH_ON_WRITE sets memory.flush_on_write.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// envValue splits comma-separated values for list settings, so
// LUMEN_APPS_OPENER=gio,open sets apps.opener to [gio open].
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if _, ok := defaults[key].([]string); !ok {
		return key, value
	}
	var list []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			list = append(list, v)
		}
	}
	return key, list
}

func (c *Config) Validate() error {
	var errs []error
	if c.Intent.MinScore < 0 || c.Intent.MinScore > 1 {
		errs = append(errs, fmt.Errorf("intent.min_score %v not in [0,1]", c.Intent.MinScore))
	}
	if c.Memory.History <= 0 {
		errs = append(errs, fmt.Errorf("memory.history must be positive, got %d", c.Memory.History))
	}
	switch c.Memory.Backend {
	case "json", "sqlite":
		if c.Memory.Path == "" {
			errs = append(errs, fmt.Errorf("memory.path is required for the %s backend", c.Memory.Backend))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("unknown memory.backend %q", c.Memory.Backend))
	}
	switch c.Messaging.Backend {
	case "none", "bus":
	case "discord":
		if c.Messaging.DiscordToken == "" {
			errs = append(errs, errors.New("messaging.discord_token is required for the discord backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown messaging.backend %q", c.Messaging.Backend))
	}
	if c.Dispatch.ExecTimeout <= 0 {
		errs = append(errs, errors.New("dispatch.exec_timeout must be positive"))
	}
	return errors.Join(errs...)
}
