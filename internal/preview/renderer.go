/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package preview

import (
	"log/slog"
	"sync"
	"time"

	"ieltsauthor/internal/domain"
	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/vector"
)

// DefaultDebounce lets container layout settle before the overlay is recomputed.
const DefaultDebounce = 100 * time.Millisecond

// stopper is the part of *time.Timer the renderer needs.
type stopper interface{ Stop() bool }

// LayoutFunc receives a recomputed overlay.
type LayoutFunc func(Scale, []Box)

// Options configures a Renderer.
type Options struct {
	Debounce time.Duration
	OnLayout LayoutFunc
	// after schedules f; tests replace it to fire timers by hand.
	after func(time.Duration, func()) stopper
}

// Renderer keeps the overlay of one image in step with its display size.
// Resize events arrive from the UI toolkit, possibly on another goroutine,
// so its state is mutex-guarded.
type Renderer struct {
	mu        sync.Mutex
	natural   vector.Size
	displayed vector.Size
	questions []domain.Question
	scale     Scale
	boxes     []Box
	pending   stopper
	delay     time.Duration
	onLayout  LayoutFunc
	after     func(time.Duration, func()) stopper
	log       *slog.Logger
}

// NewRenderer creates a renderer with no image.
func NewRenderer(opts Options) *Renderer {
	r := &Renderer{delay: opts.Debounce, onLayout: opts.OnLayout, after: opts.after, log: applog.WithComponent("preview")}
	if r.delay <= 0 {
		r.delay = DefaultDebounce
	}
	if r.after == nil {
		r.after = func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) }
	}
	return r
}

// Load sets the image sizes and questions and lays out immediately, as on
// image load.
func (r *Renderer) Load(natural, displayed vector.Size, questions []domain.Question) error {
	r.mu.Lock()
	r.natural = natural
	r.displayed = displayed
	r.questions = append([]domain.Question(nil), questions...)
	r.cancelLocked()
	r.mu.Unlock()
	return r.layout()
}

// Resize records a new display size. The overlay is recomputed once no
// further resize has arrived for the debounce delay.
func (r *Renderer) Resize(displayed vector.Size) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.displayed = displayed
	r.cancelLocked()
	r.pending = r.after(r.delay, func() {
		if err := r.layout(); err != nil {
			r.log.Warn("overlay layout failed", slog.Any("err", err))
		}
	})
}

// Current returns the last computed scale and overlay.
func (r *Renderer) Current() (Scale, []Box) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scale, append([]Box(nil), r.boxes...)
}

// Close cancels a pending layout.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelLocked()
}

func (r *Renderer) cancelLocked() {
	if r.pending != nil {
		r.pending.Stop()
		r.pending = nil
	}
}

func (r *Renderer) layout() error {
	r.mu.Lock()
	s, err := ComputeScale(r.natural, r.displayed)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	boxes := Overlay(r.questions, s)
	r.scale, r.boxes, r.pending = s, boxes, nil
	cb := r.onLayout
	r.mu.Unlock()
	if cb != nil {
		cb(s, append([]Box(nil), boxes...))
	}
	return nil
}
