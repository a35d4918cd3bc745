/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package authoring ties the editors to persistence: it reloads a part into
// per-group artifacts, hands them to the spatial or table editor, and commits
// the result through the synchronizer before saving the part.
package authoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/groupsync"
	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/spatial"
	"ieltsauthor/internal/storage"
	"ieltsauthor/internal/table"
	"ieltsauthor/internal/telemetry"
	"ieltsauthor/internal/undo"
	"ieltsauthor/internal/upload"
	"ieltsauthor/internal/vector"
)

var (
	ErrUnknownGroup = errors.New("unknown group")
	ErrWrongKind    = errors.New("group has a different kind")
	ErrOtherPart    = errors.New("key addresses another part")
	ErrNoUploader   = errors.New("no upload collaborator configured")
)

// History records committed group states. storage snapshots implement it via ModuleHistory.
type History interface {
	Record(ctx context.Context, groupID string, blob []byte, ts time.Time) error
}

// Events receives usage events; telemetry.Client satisfies it.
type Events interface {
	GroupCommitted(kind string, questions int, shifted bool)
	PartOpened(groups, warnings int)
}

type defaultEvents struct{}

func (defaultEvents) GroupCommitted(kind string, questions int, shifted bool) {
	telemetry.GroupCommitted(kind, questions, shifted)
}

func (defaultEvents) PartOpened(groups, warnings int) { telemetry.PartOpened(groups, warnings) }

// Options configures a Workspace. Store is required.
type Options struct {
	ModuleID string
	Store    storage.PartStore
	Sync     *groupsync.Synchronizer
	Uploader upload.Collaborator
	History  History
	Events   Events
	// Undo is shared by every editor the workspace opens; keys are per group.
	Undo           *undo.Manager
	Viewport       vector.Size
	StrictVertical bool
	IDs            spatial.IDFunc
	Now            func() time.Time
}

// Workspace is an open part. It is driven from one goroutine.
type Workspace struct {
	opts     Options
	part     domain.Part
	arts     map[string]groupsync.Artifact
	order    []string
	warnings []groupsync.Warning
	log      *slog.Logger
}

// Open loads part number from the store and reassembles its groups.
// Dropped records are reported through Warnings, never silently.
func Open(ctx context.Context, opts Options, number int) (*Workspace, error) {
	if opts.Store == nil {
		return nil, errors.New("authoring: store is required")
	}
	if opts.Sync == nil {
		opts.Sync = groupsync.New(nil)
	}
	if opts.Events == nil {
		opts.Events = defaultEvents{}
	}
	if opts.Undo == nil {
		opts.Undo = undo.NewManager(undo.Config{})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	p, err := opts.Store.LoadPart(ctx, number)
	if errors.Is(err, storage.ErrPartNotFound) {
		p = domain.Part{Number: number}
	} else if err != nil {
		return nil, fmt.Errorf("load part %d: %w", number, err)
	}
	w := &Workspace{
		opts: opts,
		part: p,
		log:  applog.WithComponent("authoring").With(slog.String("module", opts.ModuleID), slog.Int("part", number)),
	}
	w.reassemble()
	w.log.Info("part opened", slog.Int("groups", len(w.order)), slog.Int("warnings", len(w.warnings)))
	opts.Events.PartOpened(len(w.order), len(w.warnings))
	return w, nil
}

func (w *Workspace) reassemble() {
	arts, warns := w.opts.Sync.Reassemble(w.part)
	w.arts = make(map[string]groupsync.Artifact, len(arts))
	w.order = w.order[:0]
	for _, a := range arts {
		w.arts[a.Group.ID] = a
		w.order = append(w.order, a.Group.ID)
	}
	w.warnings = append(w.warnings, warns...)
}

// Part returns a copy of the current part.
func (w *Workspace) Part() domain.Part {
	p := w.part
	p.Questions = append([]domain.Question(nil), w.part.Questions...)
	return p
}

// Warnings lists every record dropped while reassembling the current part.
func (w *Workspace) Warnings() []groupsync.Warning {
	return append([]groupsync.Warning(nil), w.warnings...)
}

// Groups returns the reassembled groups in part order.
func (w *Workspace) Groups() []groupsync.Artifact {
	out := make([]groupsync.Artifact, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.arts[id])
	}
	return out
}

func (w *Workspace) artifact(groupID string, kind domain.GroupKind) (groupsync.Artifact, error) {
	a, ok := w.arts[groupID]
	if !ok {
		return groupsync.Artifact{}, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	if a.Group.Kind != kind {
		return groupsync.Artifact{}, fmt.Errorf("%w: %s is %s", ErrWrongKind, groupID, a.Group.Kind)
	}
	return a, nil
}

func (w *Workspace) undoKey(groupID string) string {
	if groupID == "" {
		return fmt.Sprintf("part-%d/new", w.part.Number)
	}
	return fmt.Sprintf("part-%d/%s", w.part.Number, groupID)
}

// EditFlowChart opens a spatial editor on groupID, or on a new group when groupID is empty.
func (w *Workspace) EditFlowChart(groupID string) (*spatial.Editor, error) {
	ed := spatial.New(spatial.Options{
		Viewport:       w.opts.Viewport,
		StartNumber:    w.part.MaxQuestionNumber() + 1,
		StrictVertical: w.opts.StrictVertical,
		IDs:            w.opts.IDs,
		Uploader:       w.opts.Uploader,
		History:        w.opts.Undo,
		HistoryKey:     w.undoKey(groupID),
		Now:            w.opts.Now,
	})
	if groupID == "" {
		return ed, nil
	}
	a, err := w.artifact(groupID, domain.GroupFlowChart)
	if err != nil {
		return nil, err
	}
	ed.Load(spatial.Artifact{ImageURL: a.ImageURL, StartNumber: a.Group.StartQuestionNumber, Fields: a.Fields})
	return ed, nil
}

// EditTable opens a table editor on groupID, or on a new group when groupID is empty.
func (w *Workspace) EditTable(groupID string) (*table.Editor, error) {
	ed := table.New(table.Options{History: w.opts.Undo, HistoryKey: w.undoKey(groupID), Now: w.opts.Now})
	if groupID == "" {
		return ed, nil
	}
	a, err := w.artifact(groupID, domain.GroupTable)
	if err != nil {
		return nil, err
	}
	if a.Table == nil {
		return ed, nil
	}
	if err := ed.Load(*a.Table, a.Answers); err != nil {
		return nil, err
	}
	return ed, nil
}

// CommitFlowChart saves the editor's fields as the questions of groupID ("" for a new group)
// and persists the part. A Notice (empty group) leaves everything untouched.
func (w *Workspace) CommitFlowChart(ctx context.Context, groupID string, ed *spatial.Editor) (groupsync.Result, error) {
	a, err := ed.Save()
	if err != nil {
		return groupsync.Result{}, err
	}
	return w.commit(ctx, domain.GroupFlowChart, func(p *domain.Part) (groupsync.Result, error) {
		return w.opts.Sync.SaveFlowChartFields(p, groupID, a.ImageURL, a.StartNumber, a.Fields)
	})
}

// CommitTable saves the editor's structure and answers as the questions of groupID.
// start 0 keeps the group's current first number.
func (w *Workspace) CommitTable(ctx context.Context, groupID string, ed *table.Editor, start int) (groupsync.Result, error) {
	if err := ed.Validate(); err != nil {
		return groupsync.Result{}, err
	}
	ts, answers := ed.Structure(), ed.Answers()
	return w.commit(ctx, domain.GroupTable, func(p *domain.Part) (groupsync.Result, error) {
		return w.opts.Sync.SaveTableStructure(p, groupID, ts, answers, start)
	})
}

// Renumber shifts every question of groupID by delta and persists the part.
func (w *Workspace) Renumber(ctx context.Context, groupID string, delta int) error {
	next := w.Part()
	if err := w.opts.Sync.Renumber(&next, groupID, delta); err != nil {
		return err
	}
	return w.persist(ctx, next)
}

// DeleteQuestion removes question n. When it was the last of its group the
// returned Deletion names the group and its image; Orphaned reports whether
// no remaining question in the part references that image.
func (w *Workspace) DeleteQuestion(ctx context.Context, n int) (groupsync.Deletion, bool, error) {
	next := w.Part()
	d, err := w.opts.Sync.DeleteQuestion(&next, n)
	if err != nil {
		return d, false, err
	}
	if err := w.persist(ctx, next); err != nil {
		return d, false, err
	}
	orphaned := d.GroupRemoved && d.ImageURL != "" && !w.imageInUse(d.ImageURL)
	if orphaned {
		w.log.Info("image no longer referenced", slog.String("group", d.GroupID), slog.String("url", d.ImageURL))
	}
	return d, orphaned, nil
}

// DeleteGroup removes every question of groupID.
func (w *Workspace) DeleteGroup(ctx context.Context, groupID string) (int, error) {
	next := w.Part()
	n := w.opts.Sync.DeleteGroup(&next, groupID)
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	if err := w.persist(ctx, next); err != nil {
		return 0, err
	}
	w.opts.Undo.Clear(w.undoKey(groupID))
	return n, nil
}

// PartAttr reads a part-level attribute of the open part.
func (w *Workspace) PartAttr(k domain.PartKey) (string, error) {
	if k.Part != w.part.Number {
		return "", fmt.Errorf("%w: %d", ErrOtherPart, k.Part)
	}
	return w.part.Attr(k.Aspect)
}

// SetPartAttr writes a part-level attribute of the open part and persists it.
func (w *Workspace) SetPartAttr(ctx context.Context, k domain.PartKey, value string) error {
	if k.Part != w.part.Number {
		return fmt.Errorf("%w: %d", ErrOtherPart, k.Part)
	}
	next := w.Part()
	if err := next.SetAttr(k.Aspect, value); err != nil {
		return err
	}
	if err := w.persist(ctx, next); err != nil {
		return err
	}
	w.log.InfoContext(ctx, "part attribute set", slog.String("aspect", k.Aspect.String()))
	return nil
}

// UploadAudio uploads the part's listening audio and stores its URL. Unlike
// images there is no local preview fallback: a failed upload changes nothing.
func (w *Workspace) UploadAudio(ctx context.Context, f upload.File) (upload.Result, error) {
	if err := upload.Check(upload.KindAudio, f); err != nil {
		return upload.Result{}, err
	}
	if w.opts.Uploader == nil {
		return upload.Result{}, ErrNoUploader
	}
	res, err := w.opts.Uploader.Upload(ctx, upload.KindAudio, f)
	if err != nil {
		return upload.Result{}, fmt.Errorf("upload audio: %w", err)
	}
	if err := w.SetPartAttr(ctx, domain.PartKey{Part: w.part.Number, Aspect: domain.AspectAudio}, res.URL); err != nil {
		return res, err
	}
	return res, nil
}

func (w *Workspace) imageInUse(url string) bool {
	for _, q := range w.part.Questions {
		if q.ImageURL == url {
			return true
		}
	}
	return false
}

func (w *Workspace) commit(ctx context.Context, kind domain.GroupKind, apply func(*domain.Part) (groupsync.Result, error)) (groupsync.Result, error) {
	next := w.Part()
	res, err := apply(&next)
	if err != nil {
		if groupsync.IsNotice(err) {
			w.log.Info("commit blocked", slog.Any("reason", err))
		}
		return res, err
	}
	if err := w.persist(ctx, next); err != nil {
		return groupsync.Result{}, err
	}
	ctx = applog.WithAuthoring(ctx, applog.Scope{Module: w.opts.ModuleID, Part: w.part.Number, GroupID: res.GroupID})
	w.log.InfoContext(ctx, "group committed", slog.String("kind", string(kind)),
		slog.Int("start", res.Start), slog.Int("questions", len(res.Numbers)), slog.Bool("shifted", res.Shifted))
	if len(res.Discarded) > 0 {
		w.log.InfoContext(ctx, "answers discarded", slog.Any("blanks", res.Discarded))
	}
	w.record(ctx, res.GroupID)
	w.opts.Events.GroupCommitted(string(kind), len(res.Numbers), res.Shifted)
	return res, nil
}

// persist saves next and makes it current; on failure the current part is kept.
func (w *Workspace) persist(ctx context.Context, next domain.Part) error {
	if err := w.opts.Store.SavePart(ctx, next); err != nil {
		return fmt.Errorf("save part %d: %w", next.Number, err)
	}
	w.part = next
	w.warnings = w.warnings[:0]
	w.reassemble()
	return nil
}

func (w *Workspace) record(ctx context.Context, groupID string) {
	if w.opts.History == nil {
		return
	}
	blob, err := json.Marshal(w.part.GroupQuestions(groupID))
	if err != nil {
		return
	}
	if err := w.opts.History.Record(ctx, groupID, blob, w.opts.Now()); err != nil {
		w.log.WarnContext(ctx, "history record failed", slog.Any("err", err))
	}
}
