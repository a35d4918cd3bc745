/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type sink struct {
	mu      sync.Mutex
	events  []map[string]any
	crashes [][]byte
}

func (s *sink) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		_ = json.NewDecoder(r.Body).Decode(&m)
		s.mu.Lock()
		s.events = append(s.events, m)
		s.mu.Unlock()
	})
	mux.HandleFunc("/crash", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.crashes = append(s.crashes, b)
		s.mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (s *sink) wait(t *testing.T, n func() int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := n()
		s.mu.Unlock()
		if got > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("nothing received")
}

func TestGroupCommittedPayload(t *testing.T) {
	var s sink
	srv := s.server(t)
	c := New(Config{OptIn: true, EventsURL: srv.URL + "/events", CrashURL: srv.URL + "/crash", Timeout: 2 * time.Second})
	defer c.Close()

	c.GroupCommitted("table", 4, true)
	c.Flush(context.Background())
	s.wait(t, func() int { return len(s.events) })

	s.mu.Lock()
	m := s.events[0]
	s.mu.Unlock()
	if m["name"] != EventGroupCommitted || m["kind"] != "table" || m["shifted"] != true {
		t.Fatalf("unexpected payload: %v", m)
	}
	if q, _ := m["questions"].(float64); q != 4 {
		t.Fatalf("questions = %v", m["questions"])
	}
	if _, ok := m["ts"].(string); !ok {
		t.Fatalf("missing ts field")
	}

	c.UploadCrash([]byte("STACKTRACE"))
	s.wait(t, func() int { return len(s.crashes) })
}

func TestEventDropsNonScalarProps(t *testing.T) {
	var s sink
	srv := s.server(t)
	c := New(Config{OptIn: true, EventsURL: srv.URL + "/events", Timeout: time.Second})
	defer c.Close()

	c.Event("probe", map[string]any{
		"answers": map[int]string{1: "secret"},
		"prompt":  "a very long prompt that certainly exceeds the limit",
		"count":   3,
	})
	s.wait(t, func() int { return len(s.events) })
	s.mu.Lock()
	m := s.events[0]
	s.mu.Unlock()
	if _, ok := m["answers"]; ok {
		t.Fatalf("nested value leaked: %v", m)
	}
	if _, ok := m["prompt"]; ok {
		t.Fatalf("long string leaked: %v", m)
	}
	if m["count"] != float64(3) {
		t.Fatalf("count = %v", m["count"])
	}
}

func TestDisabledSendsNothing(t *testing.T) {
	var s sink
	srv := s.server(t)

	c := New(Config{OptIn: false, EventsURL: srv.URL + "/events", CrashURL: srv.URL + "/crash", Timeout: time.Second})
	defer c.Close()
	if c.Enabled() {
		t.Fatalf("expected disabled client")
	}
	c.GroupCommitted("flow_chart", 1, false)
	c.UploadCrash([]byte("ignored"))

	c2 := New(Config{OptIn: true, EventsURL: srv.URL + "/events", Timeout: time.Second})
	defer c2.Close()
	c2.Event("", nil)
	c2.Flush(nil)

	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events)+len(s.crashes) != 0 {
		t.Fatalf("expected no requests, got %d events %d crashes", len(s.events), len(s.crashes))
	}
}

func TestSendErrorsAreSwallowed(t *testing.T) {
	c := New(Config{OptIn: true, EventsURL: "http://127.0.0.1:1/events", CrashURL: "http://127.0.0.1:1/crash",
		Timeout: 50 * time.Millisecond, DebugLogging: true})
	defer c.Close()
	c.PartOpened(2, 1)
	c.Flush(context.Background())
	c.UploadCrash([]byte("oops"))
	time.Sleep(100 * time.Millisecond)
}

func TestFromEnvAndDefault(t *testing.T) {
	t.Setenv("IELTS_TELEMETRY_OPT_IN", "yes")
	t.Setenv("IELTS_TELEMETRY_URL", "http://127.0.0.1:0")
	t.Setenv("IELTS_CRASH_UPLOAD_URL", "")
	t.Setenv("IELTS_TELEMETRY_TIMEOUT_MS", "100")

	cfg := FromEnv()
	if !cfg.OptIn || cfg.EventsURL == "" || cfg.Timeout != 100*time.Millisecond {
		t.Fatalf("FromEnv did not parse correctly: %+v", cfg)
	}
	NewDefault(cfg)
	if !Enabled() {
		t.Fatalf("default client should be enabled")
	}
}
