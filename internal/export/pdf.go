/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package export renders a test module to printable formats.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"ieltsauthor/internal/domain"
	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/storage"
)

// AnswerKeyOptions controls the answer key export.
// Units are points; the page is A4 portrait.
type AnswerKeyOptions struct {
	// Parts restricts the export to these part numbers; empty exports all.
	Parts []int
	// Artifacts draws each table as a grid and each flow chart as its field
	// layout above the answer list.
	Artifacts bool
}

// ErrNoParts is returned when the selection matches no part of the module.
var ErrNoParts = errors.New("no parts to export")

// Entry is one line of the answer key.
type Entry struct {
	Number  int
	Type    domain.QuestionType
	GroupID string
	Answer  string
}

// Entries lists the part's questions by number.
func Entries(p domain.Part) []Entry {
	out := make([]Entry, 0, len(p.Questions))
	for _, q := range p.Questions {
		out = append(out, Entry{Number: q.Number, Type: q.Type, GroupID: q.GroupID, Answer: q.CorrectAnswer})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

const (
	pageMargin = 40.0
	lineH      = 16.0
	// flow-chart layouts are drawn into a box of at most this size
	layoutMaxW = 515.0
	layoutMaxH = 260.0
)

// ExportAnswerKey writes the module's answer key. A relative outPath is
// resolved against the module's exports folder.
func ExportAnswerKey(h *storage.ModuleHandle, outPath string, opt AnswerKeyOptions) error {
	if h == nil {
		return fmt.Errorf("module handle is nil")
	}
	if !filepath.IsAbs(outPath) {
		outPath = filepath.Join(h.Root, "exports", outPath)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create pdf: %w", err)
	}
	if err := WriteAnswerKey(f, h.Module, opt); err != nil {
		_ = f.Close()
		_ = os.Remove(outPath)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close pdf: %w", err)
	}
	applog.WithComponent("export").Info("answer key written", "path", outPath)
	return nil
}

// WriteAnswerKey renders one page per selected part to w.
func WriteAnswerKey(w io.Writer, m domain.TestModule, opt AnswerKeyOptions) error {
	parts := selectParts(m.Parts, opt.Parts)
	if len(parts) == 0 {
		return ErrNoParts
	}
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetTitle(m.Title+" answer key", true)
	pdf.SetAuthor("IELTS Author", false)
	// core fonts are cp1252; answers are typed in UTF-8
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, p := range parts {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 16)
		title := fmt.Sprintf("Part %d", p.Number)
		if p.Title != "" {
			title += ": " + p.Title
		}
		pdf.CellFormat(0, 24, tr(title), "", 1, "L", false, 0, "")
		if p.Instructions != "" {
			pdf.SetFont("Helvetica", "I", 10)
			pdf.MultiCell(0, 13, tr(p.Instructions), "", "L", false)
		}
		pdf.Ln(6)
		if opt.Artifacts {
			drawArtifacts(pdf, tr, p)
		}
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, lineH, "Answers", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		for _, e := range Entries(p) {
			pdf.CellFormat(40, lineH, strconv.Itoa(e.Number), "", 0, "R", false, 0, "")
			pdf.CellFormat(12, lineH, "", "", 0, "L", false, 0, "")
			pdf.CellFormat(0, lineH, tr(e.Answer), "", 1, "L", false, 0, "")
		}
	}
	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func selectParts(all []domain.Part, numbers []int) []domain.Part {
	if len(numbers) == 0 {
		return all
	}
	want := map[int]bool{}
	for _, n := range numbers {
		want[n] = true
	}
	var out []domain.Part
	for _, p := range all {
		if want[p.Number] {
			out = append(out, p)
		}
	}
	return out
}

// drawArtifacts walks groups in order of their first question.
func drawArtifacts(pdf *gofpdf.Fpdf, tr func(string) string, p domain.Part) {
	seen := map[string]bool{}
	for _, q := range p.Questions {
		if q.GroupID == "" || seen[q.GroupID] {
			continue
		}
		seen[q.GroupID] = true
		members := p.GroupQuestions(q.GroupID)
		switch domain.KindOf(q.Type) {
		case domain.GroupFlowChart:
			drawFlowChart(pdf, members)
		case domain.GroupTable:
			if q.TableStructure != nil {
				drawTable(pdf, tr, *q.TableStructure, q.Answers, members)
			}
		}
		pdf.Ln(10)
	}
}

// drawFlowChart draws every field at its authored position, scaled to fit,
// labelled with its question number.
func drawFlowChart(pdf *gofpdf.Fpdf, qs []domain.Question) {
	var maxX, maxY float64
	for _, q := range qs {
		if q.Field == nil {
			continue
		}
		maxX = max(maxX, q.Field.X+q.Field.Width)
		maxY = max(maxY, q.Field.Y+q.Field.Height)
	}
	if maxX <= 0 || maxY <= 0 {
		return
	}
	s := min(layoutMaxW/maxX, layoutMaxH/maxY, 1)
	x0, y0 := pdf.GetX(), pdf.GetY()
	pdf.SetDrawColor(160, 160, 160)
	pdf.SetLineWidth(0.5)
	pdf.Rect(x0, y0, maxX*s, maxY*s, "D")
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 8)
	for _, q := range qs {
		if q.Field == nil {
			continue
		}
		f := q.Field
		pdf.Rect(x0+f.X*s, y0+f.Y*s, f.Width*s, f.Height*s, "D")
		pdf.Text(x0+f.X*s+2, y0+f.Y*s+9, strconv.Itoa(q.Number))
	}
	pdf.SetXY(x0, y0+maxY*s+6)
}

// drawTable draws the structure as a grid. Text cells print their content,
// blanks print their question number and answer.
func drawTable(pdf *gofpdf.Fpdf, tr func(string) string, ts domain.TableStructure, answers map[int]string, qs []domain.Question) {
	if len(ts.Columns) == 0 {
		return
	}
	numbers := map[int]int{}
	for _, q := range qs {
		if q.BlankID > 0 {
			numbers[q.BlankID] = q.Number
		}
	}
	colW := (layoutMaxW) / float64(len(ts.Columns))
	if ts.Title != "" {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, lineH, tr(ts.Title), "", 1, "L", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, c := range ts.Columns {
		ln := 0
		if i == len(ts.Columns)-1 {
			ln = 1
		}
		pdf.CellFormat(colW, lineH, tr(c.Label), "1", ln, "L", true, 0, "")
	}
	pdf.SetFont("Helvetica", "", 10)
	for _, r := range ts.Rows {
		texts := make([]string, len(ts.Columns))
		for ci := range ts.Columns {
			if ci >= len(r.Cells) {
				continue
			}
			for _, c := range r.Cells[ci] {
				if texts[ci] != "" {
					texts[ci] += " "
				}
				if c.IsBlank() {
					texts[ci] += fmt.Sprintf("(%d) %s", numbers[c.BlankID], answers[c.BlankID])
				} else {
					texts[ci] += c.Text
				}
			}
		}
		for ci, t := range texts {
			ln := 0
			if ci == len(texts)-1 {
				ln = 1
			}
			pdf.CellFormat(colW, lineH, tr(t), "1", ln, "L", false, 0, "")
		}
	}
}
