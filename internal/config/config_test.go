package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Intent.MinScore)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.ExecTimeout)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.EqualValues(t, 2, cfg.LLM.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.BackoffInitial)
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
	assert.EqualValues(t, 500, cfg.LLM.MaxTokens)
	assert.Equal(t, 10, cfg.Memory.History)
	assert.Equal(t, 5, cfg.Memory.PromptTurns)
	assert.True(t, cfg.Memory.FlushOnWrite)
	assert.Equal(t, 8*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Weather.Timeout)
	assert.Empty(t, cfg.Weather.DefaultLocation)
	assert.Empty(t, cfg.Session.WakePhrase)
	assert.Equal(t, 120*time.Second, cfg.Session.SleepTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.SpeechTimeout)
	assert.Equal(t, []string{"xdg-open"}, cfg.Apps.Opener)
	assert.Equal(t, "none", cfg.Messaging.Backend)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lumen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  wake_phrase: "hey lumen"
weather:
  default_location: Lisbon
memory:
  backend: sqlite
  path: /var/lib/lumen/facts.db
  history: 20
messaging:
  backend: discord
  discord_token: from-file
  contacts:
    Mom: "1001"
`), 0o644))

	t.Setenv("LUMEN_MEMORY_HISTORY", "4")
	t.Setenv("LUMEN_MEMORY_FLUSH_ON_WRITE", "false")
	t.Setenv("LUMEN_DISPATCH_EXEC_TIMEOUT", "2s")
	t.Setenv("LUMEN_APPS_OPENER", "gio,open")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "hey lumen", cfg.Session.WakePhrase)
	assert.Equal(t, "Lisbon", cfg.Weather.DefaultLocation)
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, 4, cfg.Memory.History, "env beats file")
	assert.False(t, cfg.Memory.FlushOnWrite)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.ExecTimeout)
	assert.Equal(t, []string{"gio", "open"}, cfg.Apps.Opener)
	assert.Equal(t, "1001", cfg.Messaging.Contacts["Mom"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"score out of range", map[string]string{"LUMEN_INTENT_MIN_SCORE": "1.5"}, "intent.min_score"},
		{"unknown backend", map[string]string{"LUMEN_MEMORY_BACKEND": "redis"}, "memory.backend"},
		{"discord without token", map[string]string{"LUMEN_MESSAGING_BACKEND": "discord"}, "discord_token"},
		{"zero history", map[string]string{"LUMEN_MEMORY_HISTORY": "0"}, "memory.history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "memory.flush_on_write", envKey("LUMEN_MEMORY_FLUSH_ON_WRITE"))
	assert.Equal(t, "log.level", envKey("LUMEN_LOG_LEVEL"))
}

func TestEnvValueSplitsLists(t *testing.T) {
	key, v := envValue("LUMEN_APPS_OPENER", "gio, open,")
	assert.Equal(t, "apps.opener", key)
	assert.Equal(t, []string{"gio", "open"}, v)

	key, v = envValue("LUMEN_WEATHER_DEFAULT_LOCATION", "Lisbon, Portugal")
	assert.Equal(t, "weather.default_location", key)
	assert.Equal(t, "Lisbon, Portugal", v)
}
