/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package domain holds the authoring data model: modules, parts, questions and
// the field and table artifacts questions are generated from.
package domain

// This file defines the data model shared by the editors, the synchronizer and
// persistence. JSON tags follow the persisted Part payload, so a manifest written
// by storage can be handed to the remote persistence collaborator unchanged.

// QuestionType tags a persisted question entry.
type QuestionType string

const (
	TypeFlowChart       QuestionType = "FLOW_CHART"
	TypeTableCompletion QuestionType = "TABLE_COMPLETION"
)

// TestModule is one authored test (e.g. a listening or reading module).
type TestModule struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  string `json:"kind,omitempty"` // listening, reading
	Parts []Part `json:"parts"`
}

// Part is a top-level section of a module holding zero or more questions.
type Part struct {
	Number       int        `json:"number"`
	Title        string     `json:"title,omitempty"`
	Instructions string     `json:"instructions,omitempty"`
	AudioURL     string     `json:"audioUrl,omitempty"`
	Questions    []Question `json:"questions"`
}

// Question is one numbered, gradable slot. Flow-chart questions carry the image URL
// and a single Field; table questions carry a snapshot of the whole structure, the
// answers map keyed by blank id and the BlankID they resolve.
type Question struct {
	Number         int             `json:"number" validate:"min=1"`
	Type           QuestionType    `json:"type" validate:"required"`
	GroupID        string          `json:"groupId,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	ImageURL       string          `json:"imageUrl,omitempty"`
	Field          *Field          `json:"field,omitempty"`
	TableStructure *TableStructure `json:"tableStructure,omitempty"`
	Answers        map[int]string  `json:"answers,omitempty"`
	BlankID        int             `json:"blankId,omitempty"`
	CorrectAnswer  string          `json:"correctAnswer"`
}

// Field is a free-form answer box positioned over an image. X/Y/Width/Height are in
// the pixel space of the image as it was rendered while authoring.
type Field struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Value  string  `json:"value"`
	// QuestionNumber overrides the derived number when > 0.
	QuestionNumber int `json:"questionNumber,omitempty"`
}

// CellKind discriminates literal text from answer blanks inside a table run.
type CellKind string

const (
	CellText  CellKind = "text"
	CellBlank CellKind = "blank"
)

// Cell is one element of a run. Text cells use Text; blank cells use BlankID,
// Width and Value.
type Cell struct {
	ID      string   `json:"id"`
	Kind    CellKind `json:"type"`
	Text    string   `json:"content,omitempty"`
	BlankID int      `json:"blankId,omitempty"`
	Width   float64  `json:"width,omitempty"`
	Value   string   `json:"value,omitempty"`
}

// IsBlank reports whether the cell is an answer blank.
func (c Cell) IsBlank() bool { return c.Kind == CellBlank }

// Column is a table column definition.
type Column struct {
	Label string  `json:"label"`
	Width float64 `json:"width,omitempty"`
}

// Row holds one run of cells per column index.
type Row struct {
	Cells [][]Cell `json:"cells"`
}

// TableStructure is the authored grid. Every row has exactly len(Columns) runs.
type TableStructure struct {
	Title   string   `json:"title"`
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Clone returns a deep copy so snapshots held by questions are not aliased with
// the editor's live structure.
func (t TableStructure) Clone() TableStructure {
	out := TableStructure{Title: t.Title}
	out.Columns = append([]Column(nil), t.Columns...)
	out.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		runs := make([][]Cell, len(r.Cells))
		for j, run := range r.Cells {
			runs[j] = append([]Cell(nil), run...)
		}
		out.Rows[i] = Row{Cells: runs}
	}
	return out
}

// GroupKind says which artifact a group came from.
type GroupKind string

const (
	GroupFlowChart GroupKind = "flow_chart"
	GroupTable     GroupKind = "table"
)

// Group binds every question that originated from one authored artifact.
type Group struct {
	ID                  string    `json:"id"`
	Kind                GroupKind `json:"kind"`
	StartQuestionNumber int       `json:"startQuestionNumber"`
}

// KindOf maps a question type to the group kind it belongs to.
func KindOf(t QuestionType) GroupKind {
	switch t {
	case TypeFlowChart:
		return GroupFlowChart
	case TypeTableCompletion:
		return GroupTable
	default:
		return ""
	}
}
