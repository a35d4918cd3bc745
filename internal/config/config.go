/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package config loads the per-user YAML configuration, applies IELTS_*
// environment overrides and keeps service tokens in the OS keyring.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Upload        UploadConfig  `yaml:"upload"`
	Backend       BackendConfig `yaml:"backend"`
	Editor        EditorConfig  `yaml:"editor"`
	Logging       LoggingConfig `yaml:"logging"`
}

type GeneralConfig struct {
	TelemetryOptIn bool `yaml:"telemetry_opt_in"`
	// RemoteStore loads and saves parts through the backend instead of the local manifest.
	RemoteStore bool `yaml:"remote_store"`
}

// UploadConfig points at the media storage service. Its token lives in the keyring.
type UploadConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type BackendConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type EditorConfig struct {
	// StrictVertical keeps dragged fields fully inside the image vertically.
	StrictVertical    bool `yaml:"strict_vertical"`
	PreviewDebounceMs int  `yaml:"preview_debounce_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Upload:        UploadConfig{TimeoutMs: 60000},
		Backend:       BackendConfig{BaseURL: "http://localhost:8080", TimeoutMs: 15000},
		Editor:        EditorConfig{PreviewDebounceMs: 100},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvUploadURL        = "IELTS_UPLOAD_URL"
	EnvUploadTimeoutMs  = "IELTS_UPLOAD_TIMEOUT_MS"
	EnvBackendURL       = "IELTS_BACKEND_URL"
	EnvBackendTimeoutMs = "IELTS_BACKEND_TIMEOUT_MS"
	EnvRemoteStore      = "IELTS_REMOTE_STORE"
	EnvTelemetryOptIn   = "IELTS_TELEMETRY_OPT_IN"
	EnvStrictVertical   = "IELTS_STRICT_VERTICAL"
	EnvLogLevel         = "IELTS_LOG_LEVEL"
	EnvLogFormat        = "IELTS_LOG_FORMAT"
	EnvLogSource        = "IELTS_LOG_SOURCE"
	EnvLogFile          = "IELTS_LOG_FILE"
)

// Keyring service and entries.
const (
	keyringService  = "IELTSAuthor"
	keyUploadToken  = "upload_token"
	keyBackendToken = "backend_token"
)

// Tokens are the secrets kept out of the YAML file.
type Tokens struct {
	Upload  string
	Backend string
}

// TokenStore abstracts the keyring so tests can stub it.
type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

var tokenStore TokenStore = osKeyring{}

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "IELTSAuthor")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "IELTSAuthor")
	default:
		home := os.Getenv("HOME")
		if home == "" {
			return "", errors.New("cannot resolve config directory")
		}
		base = filepath.Join(home, ".config", "ieltsauthor")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file if present, applies defaults and environment
// overrides, and fetches tokens from the keyring. A missing keyring entry is
// not an error.
func Load() (AppConfig, Tokens, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, Tokens{}, err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, Tokens{}, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	}
	applyEnvOverrides(&cfg)
	var tok Tokens
	tok.Upload, _ = tokenStore.Get(keyringService, keyUploadToken)
	tok.Backend, _ = tokenStore.Get(keyringService, keyBackendToken)
	return cfg, tok, nil
}

// Save writes the user config YAML and stores non-empty tokens in the keyring.
func Save(cfg AppConfig, tok Tokens) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	for key, v := range map[string]string{keyUploadToken: tok.Upload, keyBackendToken: tok.Backend} {
		if v == "" {
			continue
		}
		if err := tokenStore.Set(keyringService, key, v); err != nil {
			return fmt.Errorf("store %s: %w", key, err)
		}
	}
	return nil
}

// ForgetTokens removes both tokens from the keyring.
func ForgetTokens() error {
	var errs []error
	for _, key := range []string{keyUploadToken, keyBackendToken} {
		if err := tokenStore.Delete(keyringService, key); err != nil && !errors.Is(err, ErrTokenNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func mergeInto(dst, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans come straight from the file so user preferences persist
	dst.General = src.General
	if src.Upload.URL != "" {
		dst.Upload.URL = strings.TrimSpace(src.Upload.URL)
	}
	if src.Upload.TimeoutMs > 0 {
		dst.Upload.TimeoutMs = src.Upload.TimeoutMs
	}
	if src.Backend.BaseURL != "" {
		dst.Backend.BaseURL = strings.TrimSpace(src.Backend.BaseURL)
	}
	if src.Backend.TimeoutMs > 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	dst.Editor.StrictVertical = src.Editor.StrictVertical
	if src.Editor.PreviewDebounceMs > 0 {
		dst.Editor.PreviewDebounceMs = src.Editor.PreviewDebounceMs
	}
	if v := strings.TrimSpace(src.Logging.Level); v != "" {
		dst.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.Logging.Format); v != "" {
		dst.Logging.Format = strings.ToLower(v)
	}
	dst.Logging.Source = src.Logging.Source
	if v := strings.TrimSpace(src.Logging.File); v != "" {
		dst.Logging.File = v
	}
}

func envBool(name string, dst *bool) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "on", "yes":
			*dst = true
		default:
			*dst = false
		}
	}
}

func envInt(name string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func envString(name string, dst *string, lower bool) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if lower {
			v = strings.ToLower(v)
		}
		*dst = v
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	envString(EnvUploadURL, &cfg.Upload.URL, false)
	envInt(EnvUploadTimeoutMs, &cfg.Upload.TimeoutMs)
	envString(EnvBackendURL, &cfg.Backend.BaseURL, false)
	envInt(EnvBackendTimeoutMs, &cfg.Backend.TimeoutMs)
	envBool(EnvRemoteStore, &cfg.General.RemoteStore)
	envBool(EnvTelemetryOptIn, &cfg.General.TelemetryOptIn)
	envBool(EnvStrictVertical, &cfg.Editor.StrictVertical)
	envString(EnvLogLevel, &cfg.Logging.Level, true)
	envString(EnvLogFormat, &cfg.Logging.Format, true)
	envBool(EnvLogSource, &cfg.Logging.Source)
	envString(EnvLogFile, &cfg.Logging.File, false)
}

var overrides = map[string]string{
	"upload.url":               EnvUploadURL,
	"upload.timeout_ms":        EnvUploadTimeoutMs,
	"backend.base_url":         EnvBackendURL,
	"backend.timeout_ms":       EnvBackendTimeoutMs,
	"general.remote_store":     EnvRemoteStore,
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"editor.strict_vertical":   EnvStrictVertical,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the key is overridden by the environment.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := overrides[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

func millis(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

// Timeout is the upload request timeout.
func (u UploadConfig) Timeout() time.Duration {
	return millis(u.TimeoutMs, Defaults().Upload.TimeoutMs)
}

// Timeout is the backend request timeout.
func (b BackendConfig) Timeout() time.Duration {
	return millis(b.TimeoutMs, Defaults().Backend.TimeoutMs)
}

// Debounce is the preview resize debounce interval.
func (e EditorConfig) Debounce() time.Duration {
	return millis(e.PreviewDebounceMs, Defaults().Editor.PreviewDebounceMs)
}
