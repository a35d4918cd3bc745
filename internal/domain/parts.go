/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"errors"
	"fmt"
)

// PartAspect names an editable attribute of a part.
type PartAspect int

const (
	AspectTitle PartAspect = iota + 1
	AspectInstructions
	AspectAudio
)

func (a PartAspect) String() string {
	switch a {
	case AspectTitle:
		return "title"
	case AspectInstructions:
		return "instructions"
	case AspectAudio:
		return "audio"
	default:
		return fmt.Sprintf("aspect(%d)", int(a))
	}
}

// PartKey addresses one attribute of one part.
type PartKey struct {
	Part   int
	Aspect PartAspect
}

// FindPart returns a pointer to the part with the given number, or nil.
func (m *TestModule) FindPart(number int) *Part {
	for i := range m.Parts {
		if m.Parts[i].Number == number {
			return &m.Parts[i]
		}
	}
	return nil
}

// ErrUnknownAspect is returned for an aspect outside the enum.
var ErrUnknownAspect = errors.New("unknown part aspect")

// ParseAspect maps a name as printed by PartAspect.String back to the aspect.
func ParseAspect(name string) (PartAspect, error) {
	for _, a := range []PartAspect{AspectTitle, AspectInstructions, AspectAudio} {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAspect, name)
}

// Attr reads one attribute of the part.
func (p *Part) Attr(a PartAspect) (string, error) {
	switch a {
	case AspectTitle:
		return p.Title, nil
	case AspectInstructions:
		return p.Instructions, nil
	case AspectAudio:
		return p.AudioURL, nil
	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownAspect, a)
	}
}

// SetAttr writes one attribute of the part.
func (p *Part) SetAttr(a PartAspect, value string) error {
	switch a {
	case AspectTitle:
		p.Title = value
	case AspectInstructions:
		p.Instructions = value
	case AspectAudio:
		p.AudioURL = value
	default:
		return fmt.Errorf("%w: %v", ErrUnknownAspect, a)
	}
	return nil
}

// PartAttr reads the attribute addressed by k.
func (m *TestModule) PartAttr(k PartKey) (string, error) {
	p := m.FindPart(k.Part)
	if p == nil {
		return "", fmt.Errorf("part %d not found", k.Part)
	}
	return p.Attr(k.Aspect)
}

// SetPartAttr writes the attribute addressed by k.
func (m *TestModule) SetPartAttr(k PartKey, value string) error {
	p := m.FindPart(k.Part)
	if p == nil {
		return fmt.Errorf("part %d not found", k.Part)
	}
	return p.SetAttr(k.Aspect, value)
}

// MaxQuestionNumber returns the highest question number in the part, or 0.
func (p *Part) MaxQuestionNumber() int {
	maxN := 0
	for _, q := range p.Questions {
		if q.Number > maxN {
			maxN = q.Number
		}
	}
	return maxN
}

// GroupQuestions returns copies of the questions tagged with groupID, in slice order.
func (p *Part) GroupQuestions(groupID string) []Question {
	var out []Question
	for _, q := range p.Questions {
		if q.GroupID == groupID {
			out = append(out, q)
		}
	}
	return out
}
