/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package groupsync

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"ieltsauthor/internal/domain"
)

func TestTableRoundTripThroughJSON(t *testing.T) {
	s := New(seqIDs())
	p := &domain.Part{Number: 2}
	res, err := s.SaveTableStructure(p, "", oceanTable(true), map[int]string{1: "ocean", 2: "current"}, 7)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	blob, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var loaded domain.Part
	if err := json.Unmarshal(blob, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	arts, warns := s.Reassemble(loaded)
	if len(warns) != 0 || len(arts) != 1 {
		t.Fatalf("reassemble: %d artifacts, warnings %v", len(arts), warns)
	}
	a := arts[0]
	if a.Group.ID != res.GroupID || a.Group.Kind != domain.GroupTable || a.Group.StartQuestionNumber != 7 {
		t.Fatalf("group %+v", a.Group)
	}
	if !reflect.DeepEqual(a.Answers, map[int]string{1: "ocean", 2: "current"}) {
		t.Fatalf("answers %v", a.Answers)
	}
	if a.Table == nil || len(a.Table.Rows) != 2 {
		t.Fatalf("table not restored")
	}
	if !reflect.DeepEqual(a.Numbers, []int{7, 8}) {
		t.Fatalf("numbers %v", a.Numbers)
	}
}

func TestFlowChartReassembleDropsMalformedWithWarnings(t *testing.T) {
	p := domain.Part{Number: 1, Questions: []domain.Question{
		{Number: 1, Type: domain.TypeFlowChart, GroupID: "g", ImageURL: "img", Field: &domain.Field{ID: "a", X: 1, Y: 1, Width: 150, Height: 30}, CorrectAnswer: "one"},
		{Number: 2, Type: domain.TypeFlowChart, GroupID: "g", ImageURL: "img", Field: &domain.Field{ID: "b", X: -5, Y: 1, Width: 150, Height: 30}},
		{Number: 3, Type: domain.TypeFlowChart, GroupID: "g", ImageURL: "img", Field: &domain.Field{ID: "c", X: 1, Y: 1, Width: 0, Height: 30}},
		{Number: 4, Type: domain.TypeFlowChart, GroupID: "g", ImageURL: "img", Field: &domain.Field{ID: "", X: 1, Y: 1, Width: 150, Height: 30}},
		{Number: 5, Type: domain.TypeFlowChart, GroupID: "g", ImageURL: "img"},
		{Number: 6, Type: domain.TypeFlowChart, GroupID: "g", ImageURL: "img", Field: &domain.Field{ID: "f", X: 5, Y: 5, Width: 150, Height: 30}, CorrectAnswer: "six"},
	}}
	arts, warns := New(nil).Reassemble(p)
	if len(arts) != 1 || len(arts[0].Fields) != 2 {
		t.Fatalf("expected one artifact with 2 fields, got %+v", arts)
	}
	if len(warns) != 4 {
		t.Fatalf("expected 4 warnings, got %v", warns)
	}
	a := arts[0]
	if a.Fields[0].Value != "one" || a.Fields[1].Value != "six" {
		t.Fatalf("answers not restored into fields: %+v", a.Fields)
	}
	if a.Fields[0].QuestionNumber != 0 || a.Fields[1].QuestionNumber != 6 {
		t.Fatalf("gap should survive as an override: %+v", a.Fields)
	}
	if a.Group.StartQuestionNumber != 1 || a.ImageURL != "img" {
		t.Fatalf("group %+v image %q", a.Group, a.ImageURL)
	}
}

func TestReassembleLegacyAndPassthrough(t *testing.T) {
	p := domain.Part{Number: 3, Questions: []domain.Question{
		{Number: 1, Type: "MULTIPLE_CHOICE"},
		{Number: 2, Type: domain.TypeFlowChart, ImageURL: "img", Field: &domain.Field{ID: "a", Width: 150, Height: 30}},
	}}
	arts, warns := New(nil).Reassemble(p)
	if len(arts) != 1 || arts[0].Group.ID != "legacy-3-2" {
		t.Fatalf("legacy group: %+v", arts)
	}
	if len(warns) != 1 || !strings.Contains(warns[0].String(), "no group id") {
		t.Fatalf("warnings %v", warns)
	}
}

func TestSoleFieldDeletedLeavesNothingToReload(t *testing.T) {
	s := New(seqIDs())
	p := &domain.Part{Number: 1}
	res, _ := s.SaveFlowChartFields(p, "", "img", 1, fields(1))
	if _, err := s.DeleteQuestion(p, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	arts, _ := s.Reassemble(*p)
	for _, a := range arts {
		if a.Group.ID == res.GroupID {
			t.Fatalf("group should be gone after deleting its sole question")
		}
	}
}

func TestInvalidTableGroupIsReported(t *testing.T) {
	bad := domain.TableStructure{Columns: []domain.Column{{}, {}}, Rows: []domain.Row{{Cells: [][]domain.Cell{{}}}}}
	p := domain.Part{Number: 1, Questions: []domain.Question{
		{Number: 1, Type: domain.TypeTableCompletion, GroupID: "t", TableStructure: &bad, BlankID: 1},
	}}
	arts, warns := New(nil).Reassemble(p)
	if len(arts) != 0 || len(warns) != 2 {
		t.Fatalf("expected no artifacts and 2 warnings, got %d / %v", len(arts), warns)
	}
}
