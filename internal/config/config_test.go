// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v, want nil", err)
	}
	if cfg.RouterModel != "functiongemma:270m" {
		t.Errorf("RouterModel = %q, want %q", cfg.RouterModel, "functiongemma:270m")
	}
	if cfg.Timeouts.Classify != 10*time.Second {
		t.Errorf("Timeouts.Classify = %v, want 10s", cfg.Timeouts.Classify)
	}
	if cfg.Timeouts.Unload != 5*time.Second || cfg.Timeouts.Ps != 2*time.Second {
		t.Errorf("Timeouts = %+v", cfg.Timeouts)
	}
	if cfg.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("SystemPrompt = %q", cfg.SystemPrompt)
	}
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().MaxHistory, cfg.MaxHistory)
}

func TestLoadFromPath_TOML(t *testing.T) {
	path := writeConfig(t, `
model = "llama3.2:3b"
max_history = 8
tts_enabled = true
idle_unload = "2m"
bypass_words = ["howdy", "cheers"]

[speech]
command = "espeak-ng"
args = ["-s", "170", "{text}"]

[timeouts]
classify = "3s"
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3.2:3b", cfg.Model)
	assert.Equal(t, 8, cfg.MaxHistory)
	assert.True(t, cfg.TTSEnabled)
	assert.Equal(t, 2*time.Minute, cfg.IdleUnload)
	assert.Equal(t, []string{"howdy", "cheers"}, cfg.BypassWords)
	assert.Equal(t, "espeak-ng", cfg.Speech.Command)
	assert.Equal(t, []string{"-s", "170", "{text}"}, cfg.Speech.Args)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Classify)
	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Request)
	assert.Equal(t, "functiongemma:270m", cfg.RouterModel)
}

func TestLoadFromPath_UnknownKey(t *testing.T) {
	path := writeConfig(t, "modle = \"typo\"\n")
	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modle")
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "model = \"from-file\"\nmax_history = 8\n")

	t.Setenv("MURMUR_MODEL", "from-env")
	t.Setenv("MURMUR_MAX_HISTORY", "12")
	t.Setenv("MURMUR_TTS_ENABLED", "true")
	t.Setenv("MURMUR_TIMEOUT_CLASSIFY", "4s")
	t.Setenv("MURMUR_SPEECH_COMMAND", "say")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Model)
	assert.Equal(t, 12, cfg.MaxHistory)
	assert.True(t, cfg.TTSEnabled)
	assert.Equal(t, 4*time.Second, cfg.Timeouts.Classify)
	assert.Equal(t, "say", cfg.Speech.Command)
}

func TestLoadFromPath_BadEnvOverride(t *testing.T) {
	t.Setenv("MURMUR_MAX_HISTORY", "lots")
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoadFromPath_DotEnv(t *testing.T) {
	path := writeConfig(t, "")
	env := filepath.Join(filepath.Dir(path), ".env")
	require.NoError(t, os.WriteFile(env, []byte("MURMUR_ROUTER_MODEL=tiny-router\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("MURMUR_ROUTER_MODEL") })

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny-router", cfg.RouterModel)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"bad scheme", func(c *Config) { c.BaseURL = "ftp://host" }, "base_url"},
		{"missing host", func(c *Config) { c.BaseURL = "http://" }, "base_url"},
		{"short history", func(c *Config) { c.MaxHistory = 1 }, "max_history"},
		{"zero classify timeout", func(c *Config) { c.Timeouts.Classify = 0 }, "timeouts.classify"},
		{"negative idle", func(c *Config) { c.IdleUnload = -time.Second }, "idle_unload"},
		{"empty model", func(c *Config) { c.Model = " " }, "model"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() = %v, want ValidateErrors", err)
			}
			if len(verrs) != 1 || verrs[0].Field != tt.field {
				t.Errorf("Validate() fields = %v, want [%s]", verrs, tt.field)
			}
		})
	}
}

func TestConfig_ValidateAggregates(t *testing.T) {
	cfg := Default()
	cfg.MaxHistory = 0
	cfg.Timeouts.Ps = 0
	cfg.Timeouts.Unload = 0

	var verrs ValidateErrors
	require.ErrorAs(t, cfg.Validate(), &verrs)
	assert.Len(t, verrs, 3)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("max_history", "6"))
	require.NoError(t, cfg.Set("timeouts.classify", "750ms"))
	require.NoError(t, cfg.Set("tts_enabled", "true"))
	require.NoError(t, cfg.Set("bypass_words", "yo, sup"))

	v, err := cfg.Get("max_history")
	require.NoError(t, err)
	assert.Equal(t, 6, v)

	v, err = cfg.Get("timeouts.classify")
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, v)

	assert.True(t, cfg.TTSEnabled)
	assert.Equal(t, []string{"yo", "sup"}, cfg.BypassWords)

	assert.Error(t, cfg.Set("max_history", "many"))
	assert.Error(t, cfg.Set("nope", "1"))
	assert.Error(t, cfg.Set("timeouts", "1s"))
	_, err = cfg.Get("")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	for _, want := range []string{"model", "speech.command", "timeouts.classify", "idle_unload"} {
		assert.Contains(t, keys, want)
	}
	cfg := Default()
	for _, k := range keys {
		if _, err := cfg.Get(k); err != nil {
			t.Errorf("Get(%q) = %v", k, err)
		}
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Model = "saved-model"
	cfg.Timeouts.FirstToken = 90 * time.Second
	cfg.BypassWords = []string{"hiya"}

	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %o, want 600", info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-model", loaded.Model)
	assert.Equal(t, 90*time.Second, loaded.Timeouts.FirstToken)
	assert.Equal(t, []string{"hiya"}, loaded.BypassWords)
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	cfg.BypassWords = []string{"a"}
	clone := cfg.Clone()
	clone.BypassWords[0] = "b"
	clone.Model = "other"
	assert.Equal(t, "a", cfg.BypassWords[0])
	assert.NotEqual(t, cfg.Model, clone.Model)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "max_history = 4\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	errc := make(chan error, 1)
	go func() { errc <- Watch(ctx, path, func(c *Config) { reloaded <- c }) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("max_history = 9\n"), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.MaxHistory)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
