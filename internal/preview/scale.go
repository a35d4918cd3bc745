/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package preview renders committed flow-chart questions over their image at
// whatever size the image is displayed. Field coordinates are stored in the
// pixel space the author saw; here they are mapped into the display space by
// displayed/natural scale factors.
package preview

import (
	"errors"
	"fmt"
	"sort"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/field"
	"ieltsauthor/internal/vector"
)

var ErrNoNaturalSize = errors.New("image natural size unknown")

// Scale maps authoring space to display space.
type Scale struct {
	X, Y float64
}

// Identity is the scale of an image displayed at its natural size.
var Identity = Scale{X: 1, Y: 1}

// ComputeScale returns displayed/natural per axis.
func ComputeScale(natural, displayed vector.Size) (Scale, error) {
	if natural.Empty() {
		return Scale{}, fmt.Errorf("%w: %gx%g", ErrNoNaturalSize, natural.W, natural.H)
	}
	return Scale{X: displayed.W / natural.W, Y: displayed.H / natural.H}, nil
}

// Transform returns the scale as an affine transform.
func (s Scale) Transform() vector.Affine2D { return vector.Scale(s.X, s.Y) }

// Box is one overlay rectangle in display pixels.
type Box struct {
	Number int
	Rect   vector.Rect
	Value  string
}

// Overlay transforms the fields of flow-chart questions into display boxes,
// ordered by question number. Other question types are ignored.
func Overlay(questions []domain.Question, s Scale) []Box {
	m := s.Transform()
	var out []Box
	for _, q := range questions {
		if q.Type != domain.TypeFlowChart || q.Field == nil {
			continue
		}
		out = append(out, Box{Number: q.Number, Rect: m.ApplyRect(field.Rect(*q.Field)), Value: q.CorrectAnswer})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
