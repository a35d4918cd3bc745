/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package ui hosts the read-only preview window. The window itself needs the
// fyne build tag; everything else builds headless.
package ui

import (
	"image"
	"strconv"
	"time"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/vector"
)

// PreviewOptions describes what the preview window shows.
type PreviewOptions struct {
	Title     string
	Image     image.Image
	Questions []domain.Question
	// Debounce delays overlay recomputation while the window is being resized.
	Debounce    time.Duration
	ShowAnswers bool
}

// ContainRect fits natural into avail keeping its aspect ratio, centred.
// The returned rect is the displayed image area.
func ContainRect(natural, avail vector.Size) vector.Rect {
	if natural.Empty() || avail.Empty() {
		return vector.Rect{}
	}
	s := min(avail.W/natural.W, avail.H/natural.H)
	w, h := natural.W*s, natural.H*s
	return vector.R((avail.W-w)/2, (avail.H-h)/2, w, h)
}

// label is the caption drawn next to an overlay box.
func label(number int, answer string, showAnswers bool) string {
	if showAnswers && answer != "" {
		return strconv.Itoa(number) + " " + answer
	}
	return strconv.Itoa(number)
}
