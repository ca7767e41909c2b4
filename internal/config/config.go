// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for deskchat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// dotenv files, environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.deskchat/config.toml
//   - ~/.deskchat/config.json
//   - Built-in defaults
//
// DESKCHAT_HOME relocates the ~/.deskchat directory.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete deskchat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	API  APIConfig  `toml:"api" json:"api"`
	Chat ChatConfig `toml:"chat" json:"chat"`
	UI   UIConfig   `toml:"ui" json:"ui"`
	Log  LogConfig  `toml:"log" json:"log"`
}

// APIConfig describes the completion server.
type APIConfig struct {
	BaseURL    string `toml:"base_url" json:"base_url"`
	ChatPath   string `toml:"chat_path" json:"chat_path"`
	ModelsPath string `toml:"models_path" json:"models_path"`
	HealthPath string `toml:"health_path" json:"health_path"`

	// Token is a literal bearer credential. TokenEnv and TokenFile are
	// consulted in that order when Token is empty.
	Token     string `toml:"token" json:"token,omitempty"`
	TokenEnv  string `toml:"token_env" json:"token_env"`
	TokenFile string `toml:"token_file" json:"token_file,omitempty"`

	// Timeout bounds model listing, health checks and the wait for a
	// stream's response headers.
	Timeout Duration `toml:"timeout" json:"timeout"`
}

// ChatConfig contains turn settings.
type ChatConfig struct {
	DefaultModel   string   `toml:"default_model" json:"default_model"`
	Temperature    *float64 `toml:"temperature" json:"temperature,omitempty"`
	TitleMaxLength int      `toml:"title_max_length" json:"title_max_length"`

	// IdleTimeout cancels a turn when the stream goes quiet. Zero disables.
	IdleTimeout Duration `toml:"idle_timeout" json:"idle_timeout"`

	// StrictTruncation records an error when a stream ends without a
	// done frame.
	StrictTruncation bool `toml:"strict_truncation" json:"strict_truncation"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// ScrollThreshold is the distance in lines from the bottom that still
	// counts as following the conversation. Zero means the exact bottom.
	ScrollThreshold int `toml:"scroll_threshold" json:"scroll_threshold"`
	// RenderMarkdown renders finished assistant messages as markdown
	RenderMarkdown bool `toml:"render_markdown" json:"render_markdown"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	// File receives log output. Empty means ~/.deskchat/deskchat.log.
	File string `toml:"file" json:"file,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Bare integers are
// read as seconds.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		API: APIConfig{
			BaseURL:    "http://127.0.0.1:8080",
			ChatPath:   "/api/chat",
			ModelsPath: "/api/models",
			HealthPath: "/api/health",
			TokenEnv:   "DESKCHAT_TOKEN",
			Timeout:    Duration(30 * time.Second),
		},
		Chat: ChatConfig{
			TitleMaxLength: 50,
		},
		UI: UIConfig{
			Theme:           "auto",
			ScrollThreshold: 3,
			RenderMarkdown:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the deskchat configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv("DESKCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".deskchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LogPath returns the effective log file path.
func (c *Config) LogPath() (string, error) {
	if c.Log.File != "" {
		return c.Log.File, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "deskchat.log"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads ~/.deskchat/.env and ./.env into the process environment.
// Variables that are already set win. Missing files are ignored.
func LoadDotEnv() error {
	var paths []string
	if dir, err := ConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}
	paths = append(paths, ".env")

	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Dotenv files and environment overrides are applied last.
func Load() (*Config, error) {
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}

	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation. Files ending in .json are read as JSON, anything else as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

func finish(cfg *Config) error {
	if err := LoadDotEnv(); err != nil {
		return err
	}
	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.API.ChatPath == "" {
		cfg.API.ChatPath = defaults.API.ChatPath
	}
	if cfg.API.ModelsPath == "" {
		cfg.API.ModelsPath = defaults.API.ModelsPath
	}
	if cfg.API.HealthPath == "" {
		cfg.API.HealthPath = defaults.API.HealthPath
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = defaults.API.Timeout
	}

	if cfg.Chat.TitleMaxLength == 0 {
		cfg.Chat.TitleMaxLength = defaults.Chat.TitleMaxLength
	}

	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# deskchat configuration file\n")
	b.WriteString("# Generated by deskchat - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	u, err := url.Parse(c.API.BaseURL)
	switch {
	case err != nil:
		add("api.base_url", "invalid URL: %v", err)
	case u.Scheme != "http" && u.Scheme != "https":
		add("api.base_url", "scheme must be http or https, got '%s'", u.Scheme)
	case u.Host == "":
		add("api.base_url", "missing host")
	}

	for field, p := range map[string]string{
		"api.chat_path":   c.API.ChatPath,
		"api.models_path": c.API.ModelsPath,
		"api.health_path": c.API.HealthPath,
	} {
		if !strings.HasPrefix(p, "/") {
			add(field, "must start with '/', got '%s'", p)
		}
	}
	if c.API.Timeout < 0 {
		add("api.timeout", "must not be negative")
	}

	if t := c.Chat.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("chat.temperature", "must be between 0 and 2, got %g", *t)
	}
	if c.Chat.TitleMaxLength < 4 {
		add("chat.title_max_length", "must be at least 4, got %d", c.Chat.TitleMaxLength)
	}
	if c.Chat.IdleTimeout < 0 {
		add("chat.idle_timeout", "must not be negative")
	}

	switch strings.ToLower(c.UI.Theme) {
	case "auto", "dark", "light":
	default:
		add("ui.theme", "invalid theme '%s', must be one of: auto, dark, light", c.UI.Theme)
	}
	if c.UI.ScrollThreshold < 0 {
		add("ui.scroll_threshold", "must not be negative, got %d", c.UI.ScrollThreshold)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "invalid level '%s'", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", "invalid format '%s', must be one of: text, json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - DESKCHAT_BASE_URL: overrides api.base_url
//   - DESKCHAT_MODEL: overrides chat.default_model
//   - DESKCHAT_TIMEOUT: overrides api.timeout
//   - DESKCHAT_IDLE_TIMEOUT: overrides chat.idle_timeout
//   - DESKCHAT_THEME: overrides ui.theme
//   - DESKCHAT_LOG_LEVEL: overrides log.level
//
// The bearer token is read from the variable named by api.token_env
// (DESKCHAT_TOKEN by default) at request time, not here.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DESKCHAT_BASE_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("DESKCHAT_MODEL"); v != "" {
		c.Chat.DefaultModel = v
	}
	if v := os.Getenv("DESKCHAT_TIMEOUT"); v != "" {
		var d Duration
		if err := d.UnmarshalText([]byte(v)); err == nil {
			c.API.Timeout = d
		}
	}
	if v := os.Getenv("DESKCHAT_IDLE_TIMEOUT"); v != "" {
		var d Duration
		if err := d.UnmarshalText([]byte(v)); err == nil {
			c.Chat.IdleTimeout = d
		}
	}
	if v := os.Getenv("DESKCHAT_THEME"); v != "" {
		c.UI.Theme = v
	}
	if v := os.Getenv("DESKCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// TokenSource returns the credential chain: literal token, then the
// environment variable, then the token file.
func (a APIConfig) TokenSource() transport.TokenSource {
	return transport.ChainTokens{
		transport.StaticToken(a.Token),
		transport.EnvToken(a.TokenEnv),
		transport.FileToken(a.TokenFile),
	}
}

// ClientConfig returns the transport configuration for this API section.
func (a APIConfig) ClientConfig(log logrus.FieldLogger) *transport.ClientConfig {
	return &transport.ClientConfig{
		BaseURL:       a.BaseURL,
		ChatPath:      a.ChatPath,
		ModelsPath:    a.ModelsPath,
		HealthPath:    a.HealthPath,
		Timeout:       a.Timeout.Std(),
		StreamTimeout: a.Timeout.Std(),
		Tokens:        a.TokenSource(),
		Logger:        log,
	}
}

// =============================================================================
// CLONE / STRING
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Chat.Temperature != nil {
		t := *c.Chat.Temperature
		clone.Chat.Temperature = &t
	}
	return &clone
}

// String returns the config as TOML with the token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.API.Token != "" {
		safe.API.Token = "[REDACTED]"
	}

	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(safe); err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return b.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// ErrNoConfig is returned by ReloadGlobal when loading produced nothing.
var ErrNoConfig = errors.New("no configuration loaded")

// Global returns the global configuration instance.
// Loads configuration on first access; on failure the defaults are used.
// Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	if cfg == nil {
		return ErrNoConfig
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
