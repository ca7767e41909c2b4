// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the config directory at a temp dir and runs from another,
// so neither the real ~/.deskchat nor a stray ./.env leaks into the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("DESKCHAT_HOME", home)
	for _, k := range []string{"DESKCHAT_BASE_URL", "DESKCHAT_MODEL", "DESKCHAT_TIMEOUT",
		"DESKCHAT_IDLE_TIMEOUT", "DESKCHAT_THEME", "DESKCHAT_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// called concurrently.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			SetGlobal(Default())
		}()

		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

// TestConfig_ConcurrentReload tests concurrent ReloadGlobal and Global calls.
func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ReloadGlobal()
		}()
	}
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_SetGlobalOverwrites(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	_ = Global()
	custom := Default()
	custom.Chat.DefaultModel = "custom"
	SetGlobal(custom)

	if got := Global().Chat.DefaultModel; got != "custom" {
		t.Errorf("Global().Chat.DefaultModel = %q, want %q", got, "custom")
	}
}

// TestConfig_Default tests that Default() returns a valid config with defaults.
func TestConfig_Default(t *testing.T) {
	cfg := Default()
	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	if cfg.API.ChatPath != "/api/chat" {
		t.Errorf("ChatPath = %q", cfg.API.ChatPath)
	}
	if cfg.UI.ScrollThreshold != 3 {
		t.Errorf("ScrollThreshold = %d, want 3", cfg.UI.ScrollThreshold)
	}
	if cfg.Chat.TitleMaxLength != 50 {
		t.Errorf("TitleMaxLength = %d, want 50", cfg.Chat.TitleMaxLength)
	}
}

// TestConfig_Validate tests configuration validation.
func TestConfig_Validate(t *testing.T) {
	with := func(mutate func(c *Config)) *Config {
		c := Default()
		mutate(c)
		return c
	}
	hot, cold := 2.5, -0.1
	ok := 0.8

	tests := []struct {
		name      string
		config    *Config
		wantField string
	}{
		{"valid default config", Default(), ""},
		{"valid temperature", with(func(c *Config) { c.Chat.Temperature = &ok }), ""},
		{"bad scheme", with(func(c *Config) { c.API.BaseURL = "ftp://host" }), "api.base_url"},
		{"missing host", with(func(c *Config) { c.API.BaseURL = "http://" }), "api.base_url"},
		{"relative chat path", with(func(c *Config) { c.API.ChatPath = "api/chat" }), "api.chat_path"},
		{"negative timeout", with(func(c *Config) { c.API.Timeout = -1 }), "api.timeout"},
		{"temperature too high", with(func(c *Config) { c.Chat.Temperature = &hot }), "chat.temperature"},
		{"temperature negative", with(func(c *Config) { c.Chat.Temperature = &cold }), "chat.temperature"},
		{"title too short", with(func(c *Config) { c.Chat.TitleMaxLength = 3 }), "chat.title_max_length"},
		{"negative idle timeout", with(func(c *Config) { c.Chat.IdleTimeout = Duration(-time.Second) }), "chat.idle_timeout"},
		{"invalid theme", with(func(c *Config) { c.UI.Theme = "neon" }), "ui.theme"},
		{"negative scroll threshold", with(func(c *Config) { c.UI.ScrollThreshold = -1 }), "ui.scroll_threshold"},
		{"invalid log level", with(func(c *Config) { c.Log.Level = "loud" }), "log.level"},
		{"invalid log format", with(func(c *Config) { c.Log.Format = "xml" }), "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "want ValidateErrors, got %v", err)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.wantField, verrs[0].Field)
		})
	}
}

func TestLoad_DefaultsWithoutFiles(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().API.BaseURL, cfg.API.BaseURL)
}

func TestLoad_TOML(t *testing.T) {
	home := isolate(t)
	content := `
[api]
base_url = "https://chat.example.com"
timeout = "5s"

[chat]
default_model = "small"
temperature = 0.3
idle_timeout = "90s"
strict_truncation = true

[ui]
theme = "dark"
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte(content), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout.Std())
	assert.Equal(t, "/api/chat", cfg.API.ChatPath, "unset fields keep defaults")
	assert.Equal(t, "small", cfg.Chat.DefaultModel)
	require.NotNil(t, cfg.Chat.Temperature)
	assert.InDelta(t, 0.3, *cfg.Chat.Temperature, 1e-9)
	assert.Equal(t, 90*time.Second, cfg.Chat.IdleTimeout.Std())
	assert.True(t, cfg.Chat.StrictTruncation)
	assert.Equal(t, "dark", cfg.UI.Theme)
	assert.Equal(t, 3, cfg.UI.ScrollThreshold)
}

func TestLoad_ZeroScrollThresholdIsKept(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte("[ui]\nscroll_threshold = 0\n"), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.UI.ScrollThreshold)
}

func TestLoad_JSONFallback(t *testing.T) {
	home := isolate(t)
	content := `{"api": {"base_url": "http://10.0.0.2:9000", "timeout": "12"}, "log": {"level": "debug"}}`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.json"), []byte(content), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.2:9000", cfg.API.BaseURL)
	assert.Equal(t, 12*time.Second, cfg.API.Timeout.Std())
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidFile(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), []byte("[ui]\ntheme = \"neon\"\n"), 0600))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ui.theme")
}

func TestLoad_EnvOverridesAndDotEnv(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env"), []byte("DESKCHAT_MODEL=from-dotenv\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("DESKCHAT_MODEL") })
	os.Unsetenv("DESKCHAT_MODEL")

	t.Setenv("DESKCHAT_BASE_URL", "https://override.example.com")
	t.Setenv("DESKCHAT_IDLE_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com", cfg.API.BaseURL)
	assert.Equal(t, "from-dotenv", cfg.Chat.DefaultModel)
	assert.Equal(t, 45*time.Second, cfg.Chat.IdleTimeout.Std())
}

func TestSaveAndReload(t *testing.T) {
	home := isolate(t)
	cfg := Default()
	cfg.Chat.DefaultModel = "saved"
	cfg.API.Token = "secret"
	temp := 1.1
	cfg.Chat.Temperature = &temp

	require.NoError(t, Save(cfg))

	info, err := os.Stat(filepath.Join(home, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Chat.DefaultModel)
	assert.Equal(t, "secret", loaded.API.Token)
	assert.InDelta(t, 1.1, *loaded.Chat.Temperature, 1e-9)
	assert.Equal(t, cfg.API.Timeout, loaded.API.Timeout)
}

func TestSaveJSON(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, SaveJSON(Default(), path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, Default().API.Timeout, loaded.API.Timeout)
}

func TestConfig_StringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.API.Token = "super-secret"

	out := cfg.String()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, "super-secret", cfg.API.Token, "String must not modify the original")
}

func TestConfig_Clone(t *testing.T) {
	cfg := Default()
	temp := 0.5
	cfg.Chat.Temperature = &temp

	clone := cfg.Clone()
	*clone.Chat.Temperature = 1.9
	clone.UI.Theme = "light"

	assert.InDelta(t, 0.5, *cfg.Chat.Temperature, 1e-9)
	assert.Equal(t, "auto", cfg.UI.Theme)
}

func TestAPIConfig_TokenSourceChain(t *testing.T) {
	isolate(t)
	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("file-token\n"), 0600))

	api := Default().API
	api.TokenEnv = "DESKCHAT_TEST_CHAIN_TOKEN"
	api.TokenFile = tokenFile

	tok, err := api.TokenSource().Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file-token", tok)

	t.Setenv("DESKCHAT_TEST_CHAIN_TOKEN", "env-token")
	tok, err = api.TokenSource().Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-token", tok)

	api.Token = "literal"
	tok, err = api.TokenSource().Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "literal", tok)

	cc := api.ClientConfig(nil)
	assert.Equal(t, api.BaseURL, cc.BaseURL)
	assert.Equal(t, 30*time.Second, cc.Timeout)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, d.UnmarshalText([]byte(" 7 ")))
	assert.Equal(t, 7*time.Second, d.Std())

	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(2 * time.Minute).MarshalText()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(text), "2m"))
}
