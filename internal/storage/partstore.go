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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"ieltsauthor/internal/domain"
	applog "ieltsauthor/internal/log"
)

// ErrPartNotFound is returned by LoadPart for an unknown part number.
var ErrPartNotFound = errors.New("part not found")

// PartStore persists whole parts. Editors commit through the synchronizer and
// hand the resulting Part to SavePart; the stored shape is the manifest JSON.
type PartStore interface {
	LoadPart(ctx context.Context, number int) (domain.Part, error)
	SavePart(ctx context.Context, p domain.Part) error
}

// FileStore is a PartStore backed by the module manifest on disk.
type FileStore struct {
	h *ModuleHandle
}

// NewFileStore wraps an open module.
func NewFileStore(h *ModuleHandle) *FileStore { return &FileStore{h: h} }

// Handle returns the underlying module handle.
func (s *FileStore) Handle() *ModuleHandle { return s.h }

// LoadPart returns a deep copy of the stored part.
func (s *FileStore) LoadPart(_ context.Context, number int) (domain.Part, error) {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	p := s.h.Module.FindPart(number)
	if p == nil {
		return domain.Part{}, fmt.Errorf("%w: %d", ErrPartNotFound, number)
	}
	return clonePart(*p)
}

// SavePart replaces (or appends) the part, writes the manifest and refreshes the index.
// The index refresh is best-effort.
func (s *FileStore) SavePart(ctx context.Context, p domain.Part) error {
	cp, err := clonePart(p)
	if err != nil {
		return err
	}
	s.h.mu.Lock()
	prev := append([]domain.Part(nil), s.h.Module.Parts...)
	if cur := s.h.Module.FindPart(p.Number); cur != nil {
		*cur = cp
	} else {
		s.h.Module.Parts = append(s.h.Module.Parts, cp)
		sort.SliceStable(s.h.Module.Parts, func(i, j int) bool {
			return s.h.Module.Parts[i].Number < s.h.Module.Parts[j].Number
		})
	}
	if err := saveLocked(s.h); err != nil {
		s.h.Module.Parts = prev
		s.h.mu.Unlock()
		return err
	}
	m := s.h.Module
	s.h.mu.Unlock()

	if err := UpdateIndex(ctx, s.h.Root, m); err != nil {
		applog.WithOperation(applog.WithComponent("storage"), "save_part").Warn("index update failed",
			slog.Int("part", p.Number), slog.Any("err", err))
	}
	return nil
}

// clonePart deep-copies through the persisted JSON shape, so what callers get
// back is exactly what a reload would produce.
func clonePart(p domain.Part) (domain.Part, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return domain.Part{}, fmt.Errorf("marshal part: %w", err)
	}
	var out domain.Part
	if err := json.Unmarshal(b, &out); err != nil {
		return domain.Part{}, fmt.Errorf("unmarshal part: %w", err)
	}
	return out, nil
}
