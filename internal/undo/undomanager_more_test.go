/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"testing"
	"time"
)

func TestClearAndStats(t *testing.T) {
	m := NewManager(Config{MaxBytes: 1024, MaxPerKey: 10, MinInterval: time.Millisecond})
	m.PushSnapshot(Snapshot{Key: "g7", Blob: []byte("abcdef"), TS: time.Now()})
	tb, keys, total := m.Stats()
	if tb == 0 || keys != 1 || total != 1 {
		t.Fatalf("unexpected stats before clear: tb=%d keys=%d total=%d", tb, keys, total)
	}
	m.Clear("g7")
	tb2, keys2, total2 := m.Stats()
	if tb2 != 0 || keys2 != 0 || total2 != 0 {
		t.Fatalf("expected cleared stats to be zero, got tb=%d keys=%d total=%d", tb2, keys2, total2)
	}
}

func TestGlobalPruneAcrossKeys(t *testing.T) {
	m := NewManager(Config{MaxBytes: 10, MinInterval: time.Millisecond})
	t0 := time.Now()
	m.PushSnapshot(Snapshot{Key: "old", Blob: []byte("123456"), TS: t0})
	m.PushSnapshot(Snapshot{Key: "new", Blob: []byte("abcdef"), TS: t0.Add(time.Second)})
	if m.Depth("old") != 0 {
		t.Fatalf("oldest snapshot should have been pruned")
	}
	if m.Depth("new") != 1 {
		t.Fatalf("newest snapshot should be kept")
	}
}

func TestUndoRedoEmpty(t *testing.T) {
	m := NewManager(Config{})
	if _, ok := m.Undo("none"); ok {
		t.Fatalf("undo on empty should fail")
	}
	if _, ok := m.Redo("none"); ok {
		t.Fatalf("redo on empty should fail")
	}
	if _, ok := m.Peek("none"); ok {
		t.Fatalf("peek on empty should fail")
	}
}
