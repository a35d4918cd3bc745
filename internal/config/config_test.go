/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type memTokens map[string]string

func (m memTokens) Get(service, key string) (string, error) {
	v, ok := m[service+"/"+key]
	if !ok {
		return "", ErrTokenNotFound
	}
	return v, nil
}

func (m memTokens) Set(service, key, value string) error {
	m[service+"/"+key] = value
	return nil
}

func (m memTokens) Delete(service, key string) error {
	if _, ok := m[service+"/"+key]; !ok {
		return ErrTokenNotFound
	}
	delete(m, service+"/"+key)
	return nil
}

// isolate points HOME at a temp dir and swaps the keyring for a map.
func isolate(t *testing.T) memTokens {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AppData", t.TempDir())
	mem := memTokens{}
	old := tokenStore
	tokenStore = mem
	t.Cleanup(func() { tokenStore = old })
	return mem
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	isolate(t)
	cfg, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8080" || cfg.Editor.Debounce() != 100*time.Millisecond {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if tok != (Tokens{}) {
		t.Fatalf("expected no tokens, got %#v", tok)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	mem := isolate(t)
	cfg := Defaults()
	cfg.Upload.URL = "https://media.example"
	cfg.Editor.StrictVertical = true
	cfg.General.RemoteStore = true
	if err := Save(cfg, Tokens{Upload: "up-secret"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	path, _ := ConfigPath()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file missing: %v", err)
	}
	got, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Upload.URL != "https://media.example" || !got.Editor.StrictVertical || !got.General.RemoteStore {
		t.Fatalf("round trip lost values: %#v", got)
	}
	if tok.Upload != "up-secret" || tok.Backend != "" {
		t.Fatalf("tokens = %#v", tok)
	}
	if err := ForgetTokens(); err != nil {
		t.Fatalf("ForgetTokens() error: %v", err)
	}
	if len(mem) != 0 {
		t.Fatalf("tokens left in keyring: %v", mem)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	isolate(t)
	path, _ := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("upload: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(EnvUploadURL, "https://upload.test")
	t.Setenv(EnvBackendTimeoutMs, "2500")
	t.Setenv(EnvStrictVertical, "yes")
	t.Setenv(EnvTelemetryOptIn, "true")
	t.Setenv(EnvLogLevel, "ERROR")
	t.Setenv(EnvLogFile, "/tmp/ielts.log")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Upload.URL != "https://upload.test" || cfg.Backend.Timeout() != 2500*time.Millisecond {
		t.Fatalf("upload/backend overrides not applied: %#v", cfg)
	}
	if !cfg.Editor.StrictVertical || !cfg.General.TelemetryOptIn {
		t.Fatalf("boolean overrides not applied: %#v", cfg)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.File != "/tmp/ielts.log" {
		t.Fatalf("logging overrides not applied: %#v", cfg.Logging)
	}
	if name, ok := EnvOverrideFor("editor.strict_vertical"); !ok || name != EnvStrictVertical {
		t.Fatalf("EnvOverrideFor = %q %v", name, ok)
	}
	if _, ok := EnvOverrideFor("upload.timeout_ms"); ok {
		t.Fatalf("unset variable reported as override")
	}
}

func TestMergeKeepsDefaultsForZeroValues(t *testing.T) {
	dst := Defaults()
	src := AppConfig{Logging: LoggingConfig{Level: " Debug "}}
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "console" || dst.Upload.TimeoutMs != 60000 {
		t.Fatalf("merge wrong: %#v", dst)
	}
}
