/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package table implements the tabular structure editor: a grid of columns
// and rows where each (row, column) slot holds an ordered run of text and
// blank cells, e.g. "Item with ___ and more text." in one visual line.
//
// Blanks are identified by their blankId, a positive integer unique within
// the structure. Cell ids may be regenerated by structural edits; answers are
// always keyed by blankId.
package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/field"
	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/undo"

	"github.com/google/uuid"
)

var (
	ErrLastColumn   = errors.New("a table needs at least one column")
	ErrOutOfRange   = errors.New("index out of range")
	ErrUnknownBlank = errors.New("unknown blank id")
	ErrNotText      = errors.New("cell is not a text cell")
	ErrInvalid      = errors.New("invalid table structure")
)

// CellRef addresses one cell: row, column, and position within the run.
type CellRef struct {
	Row, Col, Pos int
}

// Options configures an Editor.
type Options struct {
	IDs        func() string
	History    *undo.Manager
	HistoryKey string
	Now        func() time.Time
}

// Editor edits one TableStructure and the answers keyed by its blank ids.
type Editor struct {
	ts      domain.TableStructure
	answers map[int]string
	ids     func() string
	hist    *undo.Manager
	histKey string
	now     func() time.Time
	log     *slog.Logger
}

// New returns an editor over a one-column, zero-row table.
func New(opts Options) *Editor {
	e := &Editor{
		ts:      domain.TableStructure{Columns: []domain.Column{{Label: ""}}},
		answers: map[int]string{},
		ids:     opts.IDs,
		hist:    opts.History,
		histKey: opts.HistoryKey,
		now:     opts.Now,
		log:     applog.WithComponent("table"),
	}
	if e.ids == nil {
		e.ids = uuid.NewString
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.histKey == "" {
		e.histKey = "table"
	}
	e.baseline()
	return e
}

// Load replaces the editor state. The structure is deep-copied and answers
// whose blank id is not present in it are dropped.
func (e *Editor) Load(ts domain.TableStructure, answers map[int]string) error {
	if err := Validate(ts); err != nil {
		return err
	}
	e.ts = ts.Clone()
	e.answers = map[int]string{}
	present := blankSet(e.ts)
	for id, v := range answers {
		if present[id] {
			e.answers[id] = v
		}
	}
	for ri := range e.ts.Rows {
		for ci := range e.ts.Rows[ri].Cells {
			for pi, c := range e.ts.Rows[ri].Cells[ci] {
				if c.IsBlank() {
					if v, ok := e.answers[c.BlankID]; ok {
						e.ts.Rows[ri].Cells[ci][pi].Value = v
					}
				}
			}
		}
	}
	if e.hist != nil {
		e.hist.Clear(e.histKey)
	}
	e.baseline()
	return nil
}

// Structure returns a deep copy of the current structure.
func (e *Editor) Structure() domain.TableStructure { return e.ts.Clone() }

// Answers returns a copy of the answers keyed by blank id.
func (e *Editor) Answers() map[int]string {
	out := make(map[int]string, len(e.answers))
	for k, v := range e.answers {
		out[k] = v
	}
	return out
}

// SetTitle sets the table caption.
func (e *Editor) SetTitle(title string) {
	e.ts.Title = title
	e.checkpoint()
}

// AddColumn appends a column and an empty run to every existing row.
func (e *Editor) AddColumn(label string) int {
	e.ts.Columns = append(e.ts.Columns, domain.Column{Label: label})
	for i := range e.ts.Rows {
		e.ts.Rows[i].Cells = append(e.ts.Rows[i].Cells, []domain.Cell{})
	}
	e.checkpoint()
	return len(e.ts.Columns) - 1
}

// RenameColumn changes a column label.
func (e *Editor) RenameColumn(i int, label string) error {
	if i < 0 || i >= len(e.ts.Columns) {
		return fmt.Errorf("%w: column %d", ErrOutOfRange, i)
	}
	e.ts.Columns[i].Label = label
	e.checkpoint()
	return nil
}

// SetColumnWidth sets the optional width hint of a column; 0 clears it.
func (e *Editor) SetColumnWidth(i int, w float64) error {
	if i < 0 || i >= len(e.ts.Columns) {
		return fmt.Errorf("%w: column %d", ErrOutOfRange, i)
	}
	e.ts.Columns[i].Width = max(w, 0)
	e.checkpoint()
	return nil
}

// RemoveColumn deletes column i and its run in every row. It refuses to
// remove the last column.
func (e *Editor) RemoveColumn(i int) error {
	if i < 0 || i >= len(e.ts.Columns) {
		return fmt.Errorf("%w: column %d", ErrOutOfRange, i)
	}
	if len(e.ts.Columns) == 1 {
		return ErrLastColumn
	}
	e.ts.Columns = append(e.ts.Columns[:i], e.ts.Columns[i+1:]...)
	for r := range e.ts.Rows {
		cells := e.ts.Rows[r].Cells
		e.ts.Rows[r].Cells = append(cells[:i], cells[i+1:]...)
	}
	e.pruneAnswers()
	e.checkpoint()
	return nil
}

// AddRow appends a row with one empty run per column and returns its index.
func (e *Editor) AddRow() int {
	runs := make([][]domain.Cell, len(e.ts.Columns))
	for i := range runs {
		runs[i] = []domain.Cell{}
	}
	e.ts.Rows = append(e.ts.Rows, domain.Row{Cells: runs})
	e.checkpoint()
	return len(e.ts.Rows) - 1
}

// RemoveRow deletes row i; answers of blanks in that row are discarded.
func (e *Editor) RemoveRow(i int) error {
	if i < 0 || i >= len(e.ts.Rows) {
		return fmt.Errorf("%w: row %d", ErrOutOfRange, i)
	}
	e.ts.Rows = append(e.ts.Rows[:i], e.ts.Rows[i+1:]...)
	e.pruneAnswers()
	e.checkpoint()
	return nil
}

func (e *Editor) run(row, col int) (*[]domain.Cell, error) {
	if row < 0 || row >= len(e.ts.Rows) || col < 0 || col >= len(e.ts.Columns) {
		return nil, fmt.Errorf("%w: slot (%d,%d)", ErrOutOfRange, row, col)
	}
	return &e.ts.Rows[row].Cells[col], nil
}

func (e *Editor) cell(ref CellRef) (*domain.Cell, error) {
	run, err := e.run(ref.Row, ref.Col)
	if err != nil {
		return nil, err
	}
	if ref.Pos < 0 || ref.Pos >= len(*run) {
		return nil, fmt.Errorf("%w: cell %v", ErrOutOfRange, ref)
	}
	return &(*run)[ref.Pos], nil
}

// AddText appends a text cell to the run at (row, col).
func (e *Editor) AddText(row, col int, text string) (CellRef, error) {
	run, err := e.run(row, col)
	if err != nil {
		return CellRef{}, err
	}
	*run = append(*run, field.NewText(e.ids(), text))
	e.checkpoint()
	return CellRef{Row: row, Col: col, Pos: len(*run) - 1}, nil
}

// AddBlank appends a blank with the next free blank id to the run at (row, col).
func (e *Editor) AddBlank(row, col int) (CellRef, int, error) {
	run, err := e.run(row, col)
	if err != nil {
		return CellRef{}, 0, err
	}
	id := NextBlankID(e.ts)
	*run = append(*run, field.NewBlank(e.ids(), id))
	e.checkpoint()
	return CellRef{Row: row, Col: col, Pos: len(*run) - 1}, id, nil
}

// RemoveCell deletes one cell from its run.
func (e *Editor) RemoveCell(ref CellRef) error {
	if _, err := e.cell(ref); err != nil {
		return err
	}
	run := &e.ts.Rows[ref.Row].Cells[ref.Col]
	*run = append((*run)[:ref.Pos], (*run)[ref.Pos+1:]...)
	e.pruneAnswers()
	e.checkpoint()
	return nil
}

// SetText changes the content of a text cell.
func (e *Editor) SetText(ref CellRef, text string) error {
	c, err := e.cell(ref)
	if err != nil {
		return err
	}
	if c.IsBlank() {
		return ErrNotText
	}
	c.Text = text
	e.checkpoint()
	return nil
}

// ToggleCellType flips a cell between text and blank. Text becomes a blank
// with the smallest unused positive blank id; a blank becomes an empty text
// cell and its blank id, width, value and answer are cleared.
func (e *Editor) ToggleCellType(ref CellRef) (domain.Cell, error) {
	c, err := e.cell(ref)
	if err != nil {
		return domain.Cell{}, err
	}
	if c.IsBlank() {
		delete(e.answers, c.BlankID)
		*c = domain.Cell{ID: c.ID, Kind: domain.CellText}
	} else {
		*c = field.NewBlank(c.ID, NextBlankID(e.ts))
	}
	out := *c
	e.checkpoint()
	return out, nil
}

// ResizeBlank changes the width of the blank with blankID, clamped to the
// blank width limits.
func (e *Editor) ResizeBlank(blankID int, dw float64) (domain.Cell, error) {
	c := e.findBlank(blankID)
	if c == nil {
		return domain.Cell{}, fmt.Errorf("%w: %d", ErrUnknownBlank, blankID)
	}
	*c = field.ResizeBlank(*c, dw)
	e.checkpoint()
	return *c, nil
}

// SetAnswer stores the correct answer for a blank. The answer input is bound
// to the blank id, not the cell id.
func (e *Editor) SetAnswer(blankID int, v string) error {
	c := e.findBlank(blankID)
	if c == nil {
		return fmt.Errorf("%w: %d", ErrUnknownBlank, blankID)
	}
	c.Value = v
	e.answers[blankID] = v
	e.checkpoint()
	return nil
}

func (e *Editor) findBlank(blankID int) *domain.Cell {
	for ri := range e.ts.Rows {
		for ci := range e.ts.Rows[ri].Cells {
			run := e.ts.Rows[ri].Cells[ci]
			for pi := range run {
				if run[pi].IsBlank() && run[pi].BlankID == blankID {
					return &run[pi]
				}
			}
		}
	}
	return nil
}

func (e *Editor) pruneAnswers() {
	present := blankSet(e.ts)
	for id := range e.answers {
		if !present[id] {
			delete(e.answers, id)
		}
	}
}

// BlankIDs returns the structure's blank ids in canonical order.
func (e *Editor) BlankIDs() []int { return BlankIDs(e.ts) }

// Validate checks the current structure.
func (e *Editor) Validate() error { return Validate(e.ts) }

// BlankIDs scans rows top to bottom and each row left to right, then orders
// the collected ids ascending. Question numbers follow this order.
func BlankIDs(ts domain.TableStructure) []int {
	var ids []int
	for _, r := range ts.Rows {
		for _, run := range r.Cells {
			for _, c := range run {
				if c.IsBlank() {
					ids = append(ids, c.BlankID)
				}
			}
		}
	}
	sort.Ints(ids)
	return ids
}

// NextBlankID returns the smallest positive integer not used as a blank id.
func NextBlankID(ts domain.TableStructure) int {
	used := blankSet(ts)
	for id := 1; ; id++ {
		if !used[id] {
			return id
		}
	}
}

func blankSet(ts domain.TableStructure) map[int]bool {
	used := map[int]bool{}
	for _, id := range BlankIDs(ts) {
		used[id] = true
	}
	return used
}

// Validate checks the row/column invariant and that blank ids are positive
// and unique.
func Validate(ts domain.TableStructure) error {
	if len(ts.Columns) == 0 {
		return fmt.Errorf("%w: no columns", ErrInvalid)
	}
	seen := map[int]bool{}
	for ri, r := range ts.Rows {
		if len(r.Cells) != len(ts.Columns) {
			return fmt.Errorf("%w: row %d has %d runs for %d columns", ErrInvalid, ri, len(r.Cells), len(ts.Columns))
		}
		for _, run := range r.Cells {
			for _, c := range run {
				if !c.IsBlank() {
					continue
				}
				if c.BlankID <= 0 {
					return fmt.Errorf("%w: row %d has a blank without a positive id", ErrInvalid, ri)
				}
				if seen[c.BlankID] {
					return fmt.Errorf("%w: duplicate blank id %d", ErrInvalid, c.BlankID)
				}
				seen[c.BlankID] = true
			}
		}
	}
	return nil
}

type editorState struct {
	Structure domain.TableStructure `json:"structure"`
	Answers   map[int]string        `json:"answers"`
}

func (e *Editor) snapshot(ts time.Time) {
	if e.hist == nil {
		return
	}
	blob, err := json.Marshal(editorState{Structure: e.ts, Answers: e.answers})
	if err != nil {
		e.log.Error("undo snapshot failed", slog.Any("err", err))
		return
	}
	e.hist.PushSnapshot(undo.Snapshot{Key: e.histKey, Blob: blob, TS: ts})
}

func (e *Editor) baseline()   { e.snapshot(time.Time{}) }
func (e *Editor) checkpoint() { e.snapshot(e.now()) }

func (e *Editor) restore(s undo.Snapshot) bool {
	var st editorState
	if err := json.Unmarshal(s.Blob, &st); err != nil {
		e.log.Error("undo restore failed", slog.Any("err", err))
		return false
	}
	e.ts = st.Structure
	e.answers = st.Answers
	if e.answers == nil {
		e.answers = map[int]string{}
	}
	return true
}

// Undo reverts the last edit.
func (e *Editor) Undo() bool {
	if e.hist == nil || e.hist.Depth(e.histKey) < 2 {
		return false
	}
	e.hist.Undo(e.histKey)
	prev, ok := e.hist.Peek(e.histKey)
	return ok && e.restore(prev)
}

// Redo reapplies the last undone edit.
func (e *Editor) Redo() bool {
	if e.hist == nil {
		return false
	}
	s, ok := e.hist.Redo(e.histKey)
	return ok && e.restore(s)
}
