/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestQuestionPayloadShape(t *testing.T) {
	q := Question{
		Number:        3,
		Type:          TypeTableCompletion,
		GroupID:       "g1",
		Answers:       map[int]string{1: "ocean", 2: "current"},
		BlankID:       1,
		CorrectAnswer: "ocean",
		TableStructure: &TableStructure{
			Title:   "Currents",
			Columns: []Column{{Label: "Name"}},
			Rows:    []Row{{Cells: [][]Cell{{{ID: "c1", Kind: CellBlank, BlankID: 1, Width: 100}}}}},
		},
	}
	b, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"type":"TABLE_COMPLETION"`, `"groupId":"g1"`, `"answers":{"1":"ocean","2":"current"}`, `"correctAnswer":"ocean"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("payload missing %s: %s", want, s)
		}
	}
	var got Question
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Answers[2] != "current" || got.TableStructure.Rows[0].Cells[0][0].BlankID != 1 {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestTableCloneIsDeep(t *testing.T) {
	src := TableStructure{
		Columns: []Column{{Label: "A"}},
		Rows:    []Row{{Cells: [][]Cell{{{ID: "x", Kind: CellText, Text: "hello"}}}}},
	}
	cp := src.Clone()
	cp.Rows[0].Cells[0][0].Text = "changed"
	cp.Columns[0].Label = "B"
	if src.Rows[0].Cells[0][0].Text != "hello" || src.Columns[0].Label != "A" {
		t.Fatalf("clone aliases source: %+v", src)
	}
}

func TestPartAttrByKey(t *testing.T) {
	m := TestModule{Parts: []Part{{Number: 1}, {Number: 2}}}
	if err := m.SetPartAttr(PartKey{Part: 2, Aspect: AspectInstructions}, "Write NO MORE THAN TWO WORDS"); err != nil {
		t.Fatalf("SetPartAttr: %v", err)
	}
	got, err := m.PartAttr(PartKey{Part: 2, Aspect: AspectInstructions})
	if err != nil || got != "Write NO MORE THAN TWO WORDS" {
		t.Fatalf("PartAttr = %q, %v", got, err)
	}
	if m.Parts[0].Instructions != "" {
		t.Fatalf("wrong part updated")
	}
	if err := m.SetPartAttr(PartKey{Part: 9, Aspect: AspectTitle}, "x"); err == nil {
		t.Fatalf("expected missing part error")
	}
	if _, err := m.PartAttr(PartKey{Part: 1, Aspect: PartAspect(42)}); !errors.Is(err, ErrUnknownAspect) {
		t.Fatalf("expected unknown aspect error, got %v", err)
	}
}

func TestParseAspect(t *testing.T) {
	for _, a := range []PartAspect{AspectTitle, AspectInstructions, AspectAudio} {
		got, err := ParseAspect(a.String())
		if err != nil || got != a {
			t.Fatalf("ParseAspect(%q) = %v, %v", a.String(), got, err)
		}
	}
	if _, err := ParseAspect("audioUrl"); !errors.Is(err, ErrUnknownAspect) {
		t.Fatalf("expected ErrUnknownAspect, got %v", err)
	}
}

func TestMaxQuestionNumberAndGroupQuestions(t *testing.T) {
	p := Part{Questions: []Question{{Number: 4, GroupID: "a"}, {Number: 9, GroupID: "b"}, {Number: 5, GroupID: "a"}}}
	if p.MaxQuestionNumber() != 9 {
		t.Fatalf("max = %d", p.MaxQuestionNumber())
	}
	if g := p.GroupQuestions("a"); len(g) != 2 || g[1].Number != 5 {
		t.Fatalf("group a = %+v", g)
	}
}
