// Package config loads Concierge settings: built-in defaults, then an
// optional YAML file (plus a profile overlay), then CONCIERGE_ environment
// variables, then explicit key=value overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/concierge/pkg/errors"
)

// EnvPrefix prefixes environment overrides: CONCIERGE_LLM_MODEL sets llm.model.
const EnvPrefix = "CONCIERGE_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Dialog    DialogConfig    `koanf:"dialog"`
	Storage   StorageConfig   `koanf:"storage"`
	Skills    SkillsConfig    `koanf:"skills"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string        `koanf:"provider"` // ollama, openai, anthropic, gemini, mock
	Model    string        `koanf:"model"`
	BaseURL  string        `koanf:"base_url"`
	APIKey   string        `koanf:"api_key"`
	Timeout  time.Duration `koanf:"timeout"`
	Retries  int           `koanf:"retries"`
}

// ParamsConfig bounds one gateway operation.
type ParamsConfig struct {
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

type GatewayConfig struct {
	Classify   ParamsConfig `koanf:"classify"`
	Extract    ParamsConfig `koanf:"extract"`
	Synthesize ParamsConfig `koanf:"synthesize"`
}

type BreakerConfig struct {
	Failures int           `koanf:"failures"`
	Cooldown time.Duration `koanf:"cooldown"`
}

type DialogConfig struct {
	CancelWords []string      `koanf:"cancel_words"`
	MaxAttempts int           `koanf:"max_attempts"`
	History     int           `koanf:"history"`
	IdleTimeout time.Duration `koanf:"idle_timeout"` // 0 keeps sessions forever
}

// StorageConfig locates the files capabilities read and write. An empty
// AuditDB disables the turn audit log.
type StorageConfig struct {
	FilesDir     string `koanf:"files_dir"`
	MediaDir     string `koanf:"media_dir"`
	CalendarPath string `koanf:"calendar_path"`
	MailPath     string `koanf:"mail_path"`
	AuditDB      string `koanf:"audit_db"`
	Timezone     string `koanf:"timezone"`
}

// Location loads the configured time zone.
func (s StorageConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

type SkillsConfig struct {
	// Dir holds SKILL.md manifests overriding the built-in ones.
	Dir string `koanf:"dir"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"llm.provider": "ollama",
	"llm.model":    "qwen2.5:7b-instruct",
	"llm.base_url": "http://localhost:11434",
	"llm.api_key":  "",
	"llm.timeout":  "30s",
	"llm.retries":  1,

	"gateway.classify.temperature":   0.0,
	"gateway.classify.max_tokens":    16,
	"gateway.extract.temperature":    0.0,
	"gateway.extract.max_tokens":     128,
	"gateway.synthesize.temperature": 0.7,
	"gateway.synthesize.max_tokens":  512,

	"breaker.failures": 5,
	"breaker.cooldown": "30s",

	"dialog.cancel_words": []string{"reset", "annule", "annuler", "cancel"},
	"dialog.max_attempts": 3,
	"dialog.history":      6,
	"dialog.idle_timeout": "30m",

	"storage.files_dir":     "./Files",
	"storage.media_dir":     ".",
	"storage.calendar_path": "./data/calendar.ics",
	"storage.mail_path":     "./data/emails.json",
	"storage.audit_db":      "",
	"storage.timezone":      "Europe/Paris",

	"skills.dir": "",

	"telemetry.enabled":       false,
	"telemetry.exporter":      "none",
	"telemetry.otlp_endpoint": "localhost:4317",
	"telemetry.otlp_insecure": true,
}

// Load reads defaults, the YAML file at path (optional) and the environment.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, "", nil)
}

// LoadWithProfile also merges config.<profile>.yaml next to path when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return LoadWithOverrides(path, profile, nil)
}

// LoadWithOverrides applies "key=value" overrides on top of everything else.
func LoadWithOverrides(path, profile string, sets []string) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}
	known := k.Keys()

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if p := profileConfigPath(path, profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", p, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return envKey(known, s)
	}), nil); err != nil {
		return nil, err
	}

	for _, s := range sets {
		key, value, err := parseSet(s)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps CONCIERGE_LLM_BASE_URL to llm.base_url. Unknown variables
// only get their first underscore turned into a dot.
func envKey(known []string, name string) string {
	s := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	for _, key := range known {
		if strings.ReplaceAll(key, ".", "_") == s {
			return key
		}
	}
	return strings.Replace(s, "_", ".", 1)
}

func parseSet(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid override %q, want key=value", s)
	}
	return key, strings.TrimSpace(value), nil
}

// profileConfigPath returns config.<profile>.yaml next to base, or "" when
// there is no such file.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	p := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Validate reports the first invalid setting as an INVALID_CONFIG error.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return errors.Newf(errors.CodeInvalidConfig, format, args...).WithContext("key", key)
	}

	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Log.Format)) {
		return invalid("log.format", "unknown log format %q", c.Log.Format)
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
		if c.LLM.Model == "" {
			return invalid("llm.model", "a model is required for provider %s", c.LLM.Provider)
		}
		if c.LLM.BaseURL == "" {
			return invalid("llm.base_url", "a base URL is required for provider %s", c.LLM.Provider)
		}
	case "anthropic", "gemini":
		if c.LLM.Model == "" {
			return invalid("llm.model", "a model is required for provider %s", c.LLM.Provider)
		}
	case "mock":
	default:
		return invalid("llm.provider", "unknown provider %q", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return invalid("llm.timeout", "timeout must be positive")
	}
	if c.LLM.Retries < 0 || c.LLM.Retries > 1 {
		return invalid("llm.retries", "retries must be 0 or 1, got %d", c.LLM.Retries)
	}
	for name, p := range map[string]ParamsConfig{
		"classify":   c.Gateway.Classify,
		"extract":    c.Gateway.Extract,
		"synthesize": c.Gateway.Synthesize,
	} {
		if p.Temperature < 0 || p.Temperature > 2 {
			return invalid("gateway."+name+".temperature", "temperature %.2f out of [0, 2]", p.Temperature)
		}
		if p.MaxTokens <= 0 {
			return invalid("gateway."+name+".max_tokens", "max_tokens must be positive")
		}
	}
	if c.Breaker.Failures < 1 || c.Breaker.Cooldown <= 0 {
		return invalid("breaker", "breaker needs failures >= 1 and a positive cooldown")
	}
	if len(c.Dialog.CancelWords) == 0 {
		return invalid("dialog.cancel_words", "at least one cancel word is required")
	}
	if c.Dialog.MaxAttempts < 1 {
		return invalid("dialog.max_attempts", "max_attempts must be at least 1")
	}
	if c.Dialog.History < 0 {
		return invalid("dialog.history", "history must not be negative")
	}
	if c.Dialog.IdleTimeout < 0 {
		return invalid("dialog.idle_timeout", "idle_timeout must not be negative")
	}
	if _, err := c.Storage.Location(); err != nil {
		return invalid("storage.timezone", "unknown time zone %q", c.Storage.Timezone)
	}
	switch c.Telemetry.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Telemetry.OTLPEndpoint == "" {
			return invalid("telemetry.otlp_endpoint", "the otlp exporter needs an endpoint")
		}
	default:
		return invalid("telemetry.exporter", "unknown exporter %q", c.Telemetry.Exporter)
	}
	return nil
}

// TelemetryExporter is the exporter to use, "none" when telemetry is off.
func (c *Config) TelemetryExporter() string {
	if !c.Telemetry.Enabled {
		return "none"
	}
	return c.Telemetry.Exporter
}
