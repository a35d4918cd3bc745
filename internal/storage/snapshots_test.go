/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotsCRUD(t *testing.T) {
	root := t.TempDir()
	mh := &ModuleHandle{Root: root, ManifestPath: filepath.Join(root, ManifestFileName)}
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := SaveSnapshot(ctx, mh, "g1", []byte("hello"), base); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	blob, ts, err := GetLatestSnapshot(ctx, mh, "g1")
	if err != nil || string(blob) != "hello" || !ts.Equal(base) {
		t.Fatalf("GetLatestSnapshot got %q %v err %v", string(blob), ts, err)
	}
	for i := 0; i < 5; i++ {
		b := []byte{byte('a' + i)}
		// sub-second steps of different precision must still sort correctly
		at := base.Add(time.Duration(i+1) * 100 * time.Millisecond).Add(time.Duration(i) * time.Microsecond)
		if err := SaveSnapshot(ctx, mh, "g1", b, at); err != nil {
			t.Fatalf("SaveSnapshot %d: %v", i, err)
		}
	}
	if err := SaveSnapshot(ctx, mh, "g2", []byte("other"), base); err != nil {
		t.Fatalf("SaveSnapshot g2: %v", err)
	}
	list, err := ListSnapshots(ctx, mh, "g1", 10)
	if err != nil || len(list) != 6 {
		t.Fatalf("ListSnapshots got %d err %v", len(list), err)
	}
	if string(list[0].Blob) != "e" {
		t.Fatalf("newest first expected, got %q", list[0].Blob)
	}
	n, err := PruneOldSnapshots(ctx, mh, "g1", 3)
	if err != nil {
		t.Fatalf("PruneOldSnapshots: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deletions, got %d", n)
	}
	list, err = ListSnapshots(ctx, mh, "g2", 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("other group touched by prune: %d err %v", len(list), err)
	}
	if blob, _, _ := GetLatestSnapshot(ctx, mh, "missing"); blob != nil {
		t.Fatalf("expected nil blob for unknown group")
	}
}
