// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/jeranaias/murmur/internal/util"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "MURMUR"

// DefaultSystemPrompt steers the responder toward speakable replies.
const DefaultSystemPrompt = "You are a helpful assistant. Respond in short, complete sentences. " +
	"Never use emojis or special characters. Keep responses concise and conversational."

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete murmur configuration.
type Config struct {
	// Model is the chat responder model
	Model string `toml:"model" envconfig:"MODEL"`
	// RouterModel is the function-calling classifier model
	RouterModel string `toml:"router_model" envconfig:"ROUTER_MODEL"`
	// BaseURL is the Ollama server root
	BaseURL string `toml:"base_url" envconfig:"BASE_URL"`

	// MaxHistory bounds the conversation including the system turn
	MaxHistory int `toml:"max_history" envconfig:"MAX_HISTORY"`
	// SystemPrompt is the leading system turn
	SystemPrompt string `toml:"system_prompt" envconfig:"SYSTEM_PROMPT"`
	// BypassWords are phrases that skip classification (empty = built-in list)
	BypassWords []string `toml:"bypass_words" envconfig:"BYPASS_WORDS"`

	// TTSEnabled turns on speech at startup
	TTSEnabled bool `toml:"tts_enabled" envconfig:"TTS_ENABLED"`
	// IdleUnload releases resident models after this much inactivity (0 = never)
	IdleUnload time.Duration `toml:"idle_unload" envconfig:"IDLE_UNLOAD"`

	// DataDir holds the database and log file
	DataDir string `toml:"data_dir" envconfig:"DATA_DIR"`
	// LogLevel is one of trace, debug, info, warn, error, off
	LogLevel string `toml:"log_level" envconfig:"LOG_LEVEL"`

	Speech   SpeechConfig  `toml:"speech" envconfig:"SPEECH"`
	Timeouts TimeoutConfig `toml:"timeouts" envconfig:"TIMEOUT"`
}

// SpeechConfig selects the speech command. An empty command picks the
// platform default. Args may contain a {text} placeholder.
type SpeechConfig struct {
	Command string   `toml:"command" envconfig:"COMMAND"`
	Args    []string `toml:"args" envconfig:"ARGS"`
}

// TimeoutConfig holds request deadlines.
type TimeoutConfig struct {
	Classify   time.Duration `toml:"classify" envconfig:"CLASSIFY"`
	Request    time.Duration `toml:"request" envconfig:"REQUEST"`
	Unload     time.Duration `toml:"unload" envconfig:"UNLOAD"`
	Ps         time.Duration `toml:"ps" envconfig:"PS"`
	FirstToken time.Duration `toml:"first_token" envconfig:"FIRST_TOKEN"`
	StreamIdle time.Duration `toml:"stream_idle" envconfig:"STREAM_IDLE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model:        "qwen3:1.7b",
		RouterModel:  "functiongemma:270m",
		BaseURL:      "http://127.0.0.1:11434",
		MaxHistory:   20,
		SystemPrompt: DefaultSystemPrompt,
		TTSEnabled:   false,
		IdleUnload:   10 * time.Minute,
		DataDir:      defaultDataDir(),
		LogLevel:     "info",
		Timeouts: TimeoutConfig{
			Classify:   10 * time.Second,
			Request:    30 * time.Second,
			Unload:     5 * time.Second,
			Ps:         2 * time.Second,
			FirstToken: 60 * time.Second,
			StreamIdle: 30 * time.Second,
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// ConfigDir returns the murmur configuration directory (~/.murmur).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".murmur"), nil
}

// ConfigPath returns the path to the TOML configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func defaultDataDir() string {
	dir, err := ConfigDir()
	if err != nil {
		return ".murmur"
	}
	return dir
}

// DatabasePath returns the SQLite file under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "murmur.db")
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadFromPath loads configuration from a TOML file, then applies
// environment overrides, defaults and validation. A missing file yields the
// defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	loadDotEnv(filepath.Dir(path))
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Unknown keys are rejected.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// loadDotEnv loads .env from the working directory and the config directory.
// Existing environment variables win.
func loadDotEnv(dir string) {
	for _, p := range []string{".env", filepath.Join(dir, ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// ApplyEnvOverrides applies MURMUR_* variables, for example MURMUR_MODEL,
// MURMUR_MAX_HISTORY, MURMUR_TTS_ENABLED, MURMUR_SPEECH_COMMAND and
// MURMUR_TIMEOUT_CLASSIFY. Unset variables leave the current value.
func (c *Config) ApplyEnvOverrides() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

// SetDefaults fills zero values that have no meaningful zero setting.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.RouterModel == "" {
		c.RouterModel = d.RouterModel
	}
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# murmur configuration file\n")
	buf.WriteString("# Environment variables (MURMUR_*) override these values\n\n")

	if err := cfg.WriteTOML(&buf); err != nil {
		return err
	}
	if err := util.AtomicWriteFileWithDir(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// WriteTOML encodes the configuration to w.
func (c *Config) WriteTOML(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and returns ValidateErrors listing all problems.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, ValidationError{Field: "model", Message: "must not be empty"})
	}
	if strings.TrimSpace(c.RouterModel) == "" {
		errs = append(errs, ValidationError{Field: "router_model", Message: "must not be empty"})
	}

	if u, err := url.Parse(c.BaseURL); err != nil {
		errs = append(errs, ValidationError{Field: "base_url", Message: err.Error()})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, ValidationError{
			Field:   "base_url",
			Message: fmt.Sprintf("unsupported scheme '%s', must be http or https", u.Scheme),
		})
	} else if u.Host == "" {
		errs = append(errs, ValidationError{Field: "base_url", Message: "missing host"})
	}

	if c.MaxHistory < 2 {
		errs = append(errs, ValidationError{
			Field:   "max_history",
			Message: fmt.Sprintf("must be at least 2, got %d", c.MaxHistory),
		})
	}
	if c.IdleUnload < 0 {
		errs = append(errs, ValidationError{Field: "idle_unload", Message: "must not be negative"})
	}

	timeouts := []struct {
		field string
		value time.Duration
	}{
		{"timeouts.classify", c.Timeouts.Classify},
		{"timeouts.request", c.Timeouts.Request},
		{"timeouts.unload", c.Timeouts.Unload},
		{"timeouts.ps", c.Timeouts.Ps},
		{"timeouts.first_token", c.Timeouts.FirstToken},
		{"timeouts.stream_idle", c.Timeouts.StreamIdle},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			errs = append(errs, ValidationError{
				Field:   t.field,
				Message: fmt.Sprintf("must be positive, got %s", t.value),
			})
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error", "off", "disabled":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("invalid level '%s'", c.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its TOML key path (e.g. "timeouts.classify").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the field named by its TOML key path.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	return setFieldValue(field, value)
}

// lookup walks the struct by toml tags.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("field '%s' is a section", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	name = strings.ReplaceAll(strings.ToLower(name), "-", "_")
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setFieldValue(field reflect.Value, value string) error {
	switch {
	case field.Type() == reflect.TypeOf(time.Duration(0)):
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(value)
	case field.Kind() == reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(int64(n))
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// Keys returns every settable key path in declaration order.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix + f.Tag.Get("toml")
			if f.Type.Kind() == reflect.Struct {
				walk(f.Type, name+".")
				continue
			}
			keys = append(keys, name)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	clone.BypassWords = append([]string(nil), c.BypassWords...)
	clone.Speech.Args = append([]string(nil), c.Speech.Args...)
	return &clone
}
