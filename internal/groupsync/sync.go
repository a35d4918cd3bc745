/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package groupsync turns authored artifacts into numbered questions and keeps
// them consistent as the artifacts are edited.
//
// A group is every question that came from one flow-chart image or one table.
// Numbers inside a group are contiguous unless the author overrides them, and
// a block that would collide with numbers used elsewhere in the part is moved
// as a whole to start after the part's highest number.
package groupsync

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/field"
	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/table"

	"github.com/google/uuid"
)

var (
	ErrEmptyGroup      = errors.New("group has no fields to commit")
	ErrDuplicateNumber = errors.New("duplicate question number in group")
	ErrCollision       = errors.New("question number already used in part")
	ErrBadDelta        = errors.New("renumbering would produce a number below 1")
	ErrUnknownGroup    = errors.New("unknown group")
	ErrUnknownQuestion = errors.New("unknown question")
	ErrNoImage         = errors.New("flow chart needs an image url")
)

// Notice is a non-fatal block: nothing was changed and the author is told why.
type Notice struct {
	GroupID string
	Err     error
}

func (n *Notice) Error() string {
	if n.GroupID == "" {
		return n.Err.Error()
	}
	return fmt.Sprintf("group %s: %v", n.GroupID, n.Err)
}

func (n *Notice) Unwrap() error { return n.Err }

// IsNotice reports whether err is a non-fatal Notice.
func IsNotice(err error) bool {
	var n *Notice
	return errors.As(err, &n)
}

// Result describes a committed group.
type Result struct {
	GroupID string
	Start   int
	Numbers []int
	// Shifted is set when the block was moved past the part's highest number.
	Shifted bool
	// Discarded lists blank ids whose answers were dropped because the blank
	// no longer exists.
	Discarded []int
}

// Synchronizer commits artifacts into a Part. It holds no state besides the
// group id generator, so one instance can serve every part of a module.
type Synchronizer struct {
	ids func() string
	log *slog.Logger
}

// New returns a Synchronizer. ids generates new group ids; nil uses UUIDs.
func New(ids func() string) *Synchronizer {
	if ids == nil {
		ids = uuid.NewString
	}
	return &Synchronizer{ids: ids, log: applog.WithComponent("groupsync")}
}

// SaveFlowChartFields replaces every question of groupID with one question per
// field. An empty groupID starts a new group. start is the number of the first
// field; 0 keeps the group's current start, or continues after the part's
// highest number for a new group.
func (s *Synchronizer) SaveFlowChartFields(part *domain.Part, groupID, imageURL string, start int, fields []domain.Field) (Result, error) {
	if len(fields) == 0 {
		return Result{}, &Notice{GroupID: groupID, Err: ErrEmptyGroup}
	}
	if imageURL == "" {
		return Result{}, ErrNoImage
	}
	for _, f := range fields {
		if err := field.Validate(f); err != nil {
			return Result{}, err
		}
	}
	if groupID == "" {
		groupID = s.ids()
	}
	numbers := make([]int, len(fields))
	explicit := make([]bool, len(fields))
	base := s.startFor(part, groupID, start)
	for i, f := range fields {
		numbers[i] = base + i
		if f.QuestionNumber > 0 {
			numbers[i] = f.QuestionNumber
			explicit[i] = true
		}
	}
	shifted, err := placeBlock(part, groupID, numbers)
	if err != nil {
		return Result{}, err
	}

	qs := make([]domain.Question, len(fields))
	for i, f := range fields {
		if explicit[i] {
			f.QuestionNumber = numbers[i]
		}
		qs[i] = domain.Question{
			Number:        numbers[i],
			Type:          domain.TypeFlowChart,
			GroupID:       groupID,
			ImageURL:      imageURL,
			Field:         &f,
			CorrectAnswer: f.Value,
		}
	}
	replaceGroup(part, groupID, qs)
	res := Result{GroupID: groupID, Start: minInt(numbers), Numbers: numbers, Shifted: shifted}
	s.log.Info("flow chart committed",
		slog.Int("part", part.Number), slog.String("group", groupID),
		slog.Int("questions", len(qs)), slog.Int("start", res.Start), slog.Bool("shifted", shifted))
	return res, nil
}

// SaveTableStructure resizes the group to one question per blank, in
// canonical blank order. A non-nil answers map is the complete answer set:
// saved answers it does not carry are discarded, even when a new blank reuses
// their id. With nil answers the saved answers of surviving blanks are kept.
// Answers for removed blanks are always discarded.
func (s *Synchronizer) SaveTableStructure(part *domain.Part, groupID string, ts domain.TableStructure, answers map[int]string, start int) (Result, error) {
	if err := table.Validate(ts); err != nil {
		return Result{}, err
	}
	blanks := table.BlankIDs(ts)
	if len(blanks) == 0 {
		return Result{}, &Notice{GroupID: groupID, Err: ErrEmptyGroup}
	}
	if groupID == "" {
		groupID = s.ids()
	}
	surviving := make(map[int]bool, len(blanks))
	for _, id := range blanks {
		surviving[id] = true
	}
	merged := map[int]string{}
	discarded := map[int]bool{}
	for _, q := range part.GroupQuestions(groupID) {
		saved := copyAnswers(q.Answers)
		if q.BlankID > 0 {
			if _, ok := saved[q.BlankID]; !ok {
				saved[q.BlankID] = q.CorrectAnswer
			}
		}
		for id, v := range saved {
			_, given := answers[id]
			switch {
			case !surviving[id]:
				discarded[id] = true
			case answers == nil:
				merged[id] = v
			case !given && v != "":
				discarded[id] = true
			}
		}
	}
	for id, v := range answers {
		if surviving[id] {
			merged[id] = v
		}
	}

	base := s.startFor(part, groupID, start)
	numbers := make([]int, len(blanks))
	for i := range blanks {
		numbers[i] = base + i
	}
	shifted, err := placeBlock(part, groupID, numbers)
	if err != nil {
		return Result{}, err
	}

	snap := ts.Clone()
	for ri := range snap.Rows {
		for ci := range snap.Rows[ri].Cells {
			for pi, c := range snap.Rows[ri].Cells[ci] {
				if c.IsBlank() {
					snap.Rows[ri].Cells[ci][pi].Value = merged[c.BlankID]
				}
			}
		}
	}
	qs := make([]domain.Question, len(blanks))
	for i, id := range blanks {
		st := snap.Clone()
		qs[i] = domain.Question{
			Number:         numbers[i],
			Type:           domain.TypeTableCompletion,
			GroupID:        groupID,
			TableStructure: &st,
			Answers:        copyAnswers(merged),
			BlankID:        id,
			CorrectAnswer:  merged[id],
		}
	}
	replaceGroup(part, groupID, qs)
	res := Result{GroupID: groupID, Start: numbers[0], Numbers: numbers, Shifted: shifted, Discarded: sortedKeys(discarded)}
	s.log.Info("table committed",
		slog.Int("part", part.Number), slog.String("group", groupID),
		slog.Int("questions", len(qs)), slog.Int("start", res.Start), slog.Any("discarded", res.Discarded))
	return res, nil
}

// Renumber shifts every question of groupID by delta, preserving order.
func (s *Synchronizer) Renumber(part *domain.Part, groupID string, delta int) error {
	members := 0
	used := map[int]bool{}
	for _, q := range part.Questions {
		if q.GroupID == groupID {
			members++
			if q.Number+delta < 1 {
				return fmt.Errorf("%w: %d%+d", ErrBadDelta, q.Number, delta)
			}
		} else {
			used[q.Number] = true
		}
	}
	if members == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	if delta == 0 {
		return nil
	}
	for _, q := range part.Questions {
		if q.GroupID == groupID && used[q.Number+delta] {
			return fmt.Errorf("%w: %d", ErrCollision, q.Number+delta)
		}
	}
	for i := range part.Questions {
		q := &part.Questions[i]
		if q.GroupID != groupID {
			continue
		}
		q.Number += delta
		if q.Field != nil && q.Field.QuestionNumber > 0 {
			f := *q.Field
			f.QuestionNumber += delta
			q.Field = &f
		}
	}
	sortQuestions(part)
	s.log.Info("group renumbered", slog.Int("part", part.Number), slog.String("group", groupID), slog.Int("delta", delta))
	return nil
}

// Deletion reports the effect of DeleteQuestion.
type Deletion struct {
	GroupID      string
	GroupRemoved bool
	// ImageURL is the released image reference when a flow-chart group was removed.
	ImageURL string
}

// DeleteQuestion removes the question numbered n. Siblings keep their
// numbers. Removing the last member of a group removes the group.
func (s *Synchronizer) DeleteQuestion(part *domain.Part, n int) (Deletion, error) {
	idx := -1
	for i, q := range part.Questions {
		if q.Number == n {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Deletion{}, fmt.Errorf("%w: %d", ErrUnknownQuestion, n)
	}
	q := part.Questions[idx]
	part.Questions = append(part.Questions[:idx], part.Questions[idx+1:]...)
	d := Deletion{GroupID: q.GroupID}
	if q.GroupID != "" && len(part.GroupQuestions(q.GroupID)) == 0 {
		d.GroupRemoved = true
		if q.Type == domain.TypeFlowChart {
			d.ImageURL = q.ImageURL
		}
		s.log.Info("group removed with its last question", slog.Int("part", part.Number), slog.String("group", q.GroupID))
	}
	return d, nil
}

// DeleteGroup removes every question of groupID and returns how many were removed.
func (s *Synchronizer) DeleteGroup(part *domain.Part, groupID string) int {
	kept := part.Questions[:0]
	removed := 0
	for _, q := range part.Questions {
		if q.GroupID == groupID {
			removed++
			continue
		}
		kept = append(kept, q)
	}
	part.Questions = kept
	return removed
}

// startFor resolves the first number of a block: the requested start, else
// the group's current lowest number, else one past the part's highest.
func (s *Synchronizer) startFor(part *domain.Part, groupID string, start int) int {
	if start > 0 {
		return start
	}
	if existing := part.GroupQuestions(groupID); len(existing) > 0 {
		n := existing[0].Number
		for _, q := range existing[1:] {
			n = min(n, q.Number)
		}
		return n
	}
	return otherMax(part, groupID) + 1
}

// placeBlock checks numbers for duplicates and, when any collides with a
// number used outside the group, shifts the block in place to start right
// after the highest number used elsewhere.
func placeBlock(part *domain.Part, groupID string, numbers []int) (bool, error) {
	seen := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		if seen[n] {
			return false, fmt.Errorf("%w: %d", ErrDuplicateNumber, n)
		}
		seen[n] = true
	}
	used := map[int]bool{}
	for _, q := range part.Questions {
		if q.GroupID != groupID {
			used[q.Number] = true
		}
	}
	collides := false
	for _, n := range numbers {
		if used[n] {
			collides = true
			break
		}
	}
	if !collides {
		return false, nil
	}
	offset := otherMax(part, groupID) + 1 - minInt(numbers)
	for i := range numbers {
		numbers[i] += offset
	}
	return true, nil
}

func otherMax(part *domain.Part, groupID string) int {
	m := 0
	for _, q := range part.Questions {
		if q.GroupID != groupID && q.Number > m {
			m = q.Number
		}
	}
	return m
}

func replaceGroup(part *domain.Part, groupID string, qs []domain.Question) {
	kept := make([]domain.Question, 0, len(part.Questions)+len(qs))
	for _, q := range part.Questions {
		if q.GroupID != groupID {
			kept = append(kept, q)
		}
	}
	part.Questions = append(kept, qs...)
	sortQuestions(part)
}

func sortQuestions(part *domain.Part) {
	sort.SliceStable(part.Questions, func(i, j int) bool { return part.Questions[i].Number < part.Questions[j].Number })
}

func minInt(ns []int) int {
	m := ns[0]
	for _, n := range ns[1:] {
		m = min(m, n)
	}
	return m
}

func copyAnswers(m map[int]string) map[int]string {
	out := make(map[int]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
