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
	"fmt"
	"log/slog"
	"sort"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/field"
	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/table"
)

// Warning describes persisted data that Reassemble could not use. Nothing is
// dropped without one.
type Warning struct {
	GroupID  string
	Question int
	Reason   string
}

func (w Warning) String() string {
	switch {
	case w.Question > 0 && w.GroupID != "":
		return fmt.Sprintf("group %s, question %d: %s", w.GroupID, w.Question, w.Reason)
	case w.Question > 0:
		return fmt.Sprintf("question %d: %s", w.Question, w.Reason)
	default:
		return fmt.Sprintf("group %s: %s", w.GroupID, w.Reason)
	}
}

// Artifact is one editable image or table rebuilt from a group's questions.
type Artifact struct {
	Group domain.Group
	// Numbers are the question numbers of the members that were kept, ascending.
	Numbers []int

	// flow chart
	ImageURL string
	Fields   []domain.Field

	// table
	Table   *domain.TableStructure
	Answers map[int]string
}

// Reassemble merges the questions of part that share a group id back into
// editable artifacts, in order of each group's first question. Questions
// without a group id get a single-member group of their own. Question types
// other than flow chart and table completion are not artifacts and are skipped
// silently.
func (s *Synchronizer) Reassemble(part domain.Part) ([]Artifact, []Warning) {
	var (
		order    []string
		members  = map[string][]domain.Question{}
		warnings []Warning
	)
	for _, q := range part.Questions {
		if domain.KindOf(q.Type) == "" {
			continue
		}
		gid := q.GroupID
		if gid == "" {
			gid = fmt.Sprintf("legacy-%d-%d", part.Number, q.Number)
			warnings = append(warnings, Warning{GroupID: gid, Question: q.Number, Reason: "question has no group id; loaded as its own group"})
			q.GroupID = gid
		}
		if _, ok := members[gid]; !ok {
			order = append(order, gid)
		}
		members[gid] = append(members[gid], q)
	}

	var out []Artifact
	for _, gid := range order {
		qs := members[gid]
		sort.SliceStable(qs, func(i, j int) bool { return qs[i].Number < qs[j].Number })
		kind := domain.KindOf(qs[0].Type)
		var (
			a  Artifact
			ok bool
			ws []Warning
		)
		if kind == domain.GroupFlowChart {
			a, ws, ok = reassembleFlowChart(gid, qs)
		} else {
			a, ws, ok = reassembleTable(gid, qs)
		}
		warnings = append(warnings, ws...)
		if !ok {
			warnings = append(warnings, Warning{GroupID: gid, Reason: "no usable questions; group not loaded"})
			continue
		}
		out = append(out, a)
	}
	if len(warnings) > 0 {
		l := applog.WithOperation(s.log, "reassemble")
		for _, w := range warnings {
			l.Warn("persisted data skipped", slog.Int("part", part.Number), slog.String("warning", w.String()))
		}
	}
	return out, warnings
}

func reassembleFlowChart(gid string, qs []domain.Question) (Artifact, []Warning, bool) {
	var ws []Warning
	a := Artifact{Group: domain.Group{ID: gid, Kind: domain.GroupFlowChart}}
	var kept []domain.Question
	for _, q := range qs {
		switch {
		case q.Type != domain.TypeFlowChart:
			ws = append(ws, Warning{GroupID: gid, Question: q.Number, Reason: fmt.Sprintf("type %s in a flow chart group", q.Type)})
			continue
		case q.Field == nil:
			ws = append(ws, Warning{GroupID: gid, Question: q.Number, Reason: "missing field"})
			continue
		}
		if err := field.Validate(*q.Field); err != nil {
			ws = append(ws, Warning{GroupID: gid, Question: q.Number, Reason: err.Error()})
			continue
		}
		if a.ImageURL == "" {
			a.ImageURL = q.ImageURL
		} else if q.ImageURL != "" && q.ImageURL != a.ImageURL {
			ws = append(ws, Warning{GroupID: gid, Question: q.Number, Reason: "image differs from the rest of the group; using " + a.ImageURL})
		}
		kept = append(kept, q)
	}
	if len(kept) == 0 {
		return Artifact{}, ws, false
	}
	start := kept[0].Number
	for i, q := range kept {
		f := *q.Field
		if q.CorrectAnswer != "" {
			f.Value = q.CorrectAnswer
		}
		// Numbers that no longer follow from the creation index are kept as
		// explicit overrides, so a gap left by a deletion survives the reload.
		f.QuestionNumber = 0
		if q.Number != start+i {
			f.QuestionNumber = q.Number
		}
		a.Fields = append(a.Fields, f)
		a.Numbers = append(a.Numbers, q.Number)
	}
	a.Group.StartQuestionNumber = start
	return a, ws, true
}

func reassembleTable(gid string, qs []domain.Question) (Artifact, []Warning, bool) {
	var ws []Warning
	a := Artifact{Group: domain.Group{ID: gid, Kind: domain.GroupTable}, Answers: map[int]string{}}
	var kept []domain.Question
	for _, q := range qs {
		switch {
		case q.Type != domain.TypeTableCompletion:
			ws = append(ws, Warning{GroupID: gid, Question: q.Number, Reason: fmt.Sprintf("type %s in a table group", q.Type)})
			continue
		case q.TableStructure == nil:
			ws = append(ws, Warning{GroupID: gid, Question: q.Number, Reason: "missing table structure"})
			continue
		}
		if a.Table == nil {
			if err := table.Validate(*q.TableStructure); err != nil {
				ws = append(ws, Warning{GroupID: gid, Question: q.Number, Reason: err.Error()})
				continue
			}
			ts := q.TableStructure.Clone()
			a.Table = &ts
		}
		kept = append(kept, q)
	}
	if a.Table == nil {
		return Artifact{}, ws, false
	}
	present := map[int]bool{}
	for _, id := range table.BlankIDs(*a.Table) {
		present[id] = true
	}
	for _, q := range kept {
		for id, v := range q.Answers {
			if present[id] {
				a.Answers[id] = v
			}
		}
	}
	for _, q := range kept {
		if q.BlankID > 0 && !present[q.BlankID] {
			ws = append(ws, Warning{GroupID: gid, Question: q.Number, Reason: fmt.Sprintf("blank %d not in table", q.BlankID)})
			continue
		}
		if q.BlankID > 0 && q.CorrectAnswer != "" {
			a.Answers[q.BlankID] = q.CorrectAnswer
		}
		a.Numbers = append(a.Numbers, q.Number)
	}
	if len(a.Numbers) == 0 {
		return Artifact{}, ws, false
	}
	a.Group.StartQuestionNumber = a.Numbers[0]
	return a, ws, true
}
