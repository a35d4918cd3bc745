/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package field holds the fillable-slot rules shared by both editors: default
// geometry, clamped resize and move, and validation of persisted records.
// Nothing here has persistence side effects.
package field

import (
	"errors"
	"fmt"
	"strings"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/vector"
)

// Image field limits, in authoring-viewport pixels.
const (
	DefaultWidth  = 150.0
	DefaultHeight = 30.0
	MinWidth      = 80.0
	MaxWidth      = 300.0
	MinHeight     = 20.0
	MaxHeight     = 100.0
)

// Table blank limits.
const (
	DefaultBlankWidth = 100.0
	MinBlankWidth     = 50.0
	MaxBlankWidth     = 500.0
)

// New returns a field with default size at p and an empty value.
func New(id string, p vector.Pt) domain.Field {
	return domain.Field{
		ID:     id,
		X:      max(p.X, 0),
		Y:      max(p.Y, 0),
		Width:  DefaultWidth,
		Height: DefaultHeight,
	}
}

// Resize applies the delta and clamps to the image field limits.
func Resize(f domain.Field, dw, dh float64) domain.Field {
	f.Width = vector.Clamp(f.Width+dw, MinWidth, MaxWidth)
	f.Height = vector.Clamp(f.Height+dh, MinHeight, MaxHeight)
	return f
}

// ResizeBlank applies the delta to a blank cell and clamps to the blank limits.
// Text cells are returned unchanged.
func ResizeBlank(c domain.Cell, dw float64) domain.Cell {
	if !c.IsBlank() {
		return c
	}
	w := c.Width
	if w <= 0 {
		w = DefaultBlankWidth
	}
	c.Width = vector.Clamp(w+dw, MinBlankWidth, MaxBlankWidth)
	return c
}

// Bounds is the rendered container a field is moved within.
// StrictVertical keeps the whole field above the lower edge; without it only the
// field's top edge is limited, which lets the box hang below the container.
type Bounds struct {
	Size           vector.Size
	StrictVertical bool
}

// Move applies the delta and clamps the position to b.
func Move(f domain.Field, dx, dy float64, b Bounds) domain.Field {
	return MoveTo(f, vector.Pt{X: f.X + dx, Y: f.Y + dy}, b)
}

// MoveTo places the field's top-left corner at p, clamped to b.
func MoveTo(f domain.Field, p vector.Pt, b Bounds) domain.Field {
	f.X = vector.Clamp(p.X, 0, b.Size.W-f.Width)
	maxY := b.Size.H
	if b.StrictVertical {
		maxY = b.Size.H - f.Height
	}
	f.Y = vector.Clamp(p.Y, 0, maxY)
	return f
}

// Rect returns the field geometry as a rectangle.
func Rect(f domain.Field) vector.Rect { return vector.R(f.X, f.Y, f.Width, f.Height) }

// ErrMalformed marks persisted fields that cannot be edited.
var ErrMalformed = errors.New("malformed field")

// Validate reports why a persisted field is unusable, or nil.
func Validate(f domain.Field) error {
	var problems []string
	if strings.TrimSpace(f.ID) == "" {
		problems = append(problems, "empty id")
	}
	if f.X < 0 || f.Y < 0 {
		problems = append(problems, fmt.Sprintf("negative position (%g,%g)", f.X, f.Y))
	}
	if f.Width <= 0 || f.Height <= 0 {
		problems = append(problems, fmt.Sprintf("non-positive size %gx%g", f.Width, f.Height))
	}
	if f.QuestionNumber < 0 {
		problems = append(problems, "negative question number")
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %s", ErrMalformed, f.ID, strings.Join(problems, ", "))
}

// NewBlank returns a blank cell with the default width.
func NewBlank(id string, blankID int) domain.Cell {
	return domain.Cell{ID: id, Kind: domain.CellBlank, BlankID: blankID, Width: DefaultBlankWidth}
}

// NewText returns a literal text cell.
func NewText(id, text string) domain.Cell {
	return domain.Cell{ID: id, Kind: domain.CellText, Text: text}
}
