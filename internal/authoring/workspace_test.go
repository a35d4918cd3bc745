/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package authoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/groupsync"
	"ieltsauthor/internal/spatial"
	"ieltsauthor/internal/storage"
	"ieltsauthor/internal/table"
	"ieltsauthor/internal/upload"
	"ieltsauthor/internal/vector"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type fakeUploader struct{}

func (fakeUploader) Upload(_ context.Context, _ upload.Kind, f upload.File) (upload.Result, error) {
	return upload.Result{URL: "https://cdn.example/" + f.Name, PublicID: f.Name}, nil
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, upload.Kind, upload.File) (upload.Result, error) {
	return upload.Result{}, errors.New("storage offline")
}

type recordedEvent struct {
	kind      string
	questions int
	shifted   bool
}

type fakeEvents struct {
	got    []recordedEvent
	opened int
}

func (f *fakeEvents) PartOpened(groups, warnings int) { f.opened++ }

func (f *fakeEvents) GroupCommitted(kind string, questions int, shifted bool) {
	f.got = append(f.got, recordedEvent{kind, questions, shifted})
}

type countingStore struct {
	storage.PartStore
	saves int
	fail  error
}

func (c *countingStore) SavePart(ctx context.Context, p domain.Part) error {
	c.saves++
	if c.fail != nil {
		return c.fail
	}
	return c.PartStore.SavePart(ctx, p)
}

func fixtureModule() domain.TestModule {
	ts := domain.TableStructure{
		Title:   "Ocean currents",
		Columns: []domain.Column{{Label: "Name"}, {Label: "Temperature"}},
		Rows: []domain.Row{{Cells: [][]domain.Cell{
			{{ID: "c1", Kind: domain.CellText, Text: "Gulf Stream"}},
			{{ID: "c2", Kind: domain.CellBlank, BlankID: 1, Width: 100}},
		}}},
	}
	return domain.TestModule{
		ID:    "m1",
		Title: "Listening practice",
		Parts: []domain.Part{{
			Number: 1,
			Questions: []domain.Question{
				{Number: 1, Type: domain.TypeFlowChart, GroupID: "g-flow", ImageURL: "https://cdn.example/map.png",
					Field: &domain.Field{ID: "f1", X: 10, Y: 20, Width: 150, Height: 30, Value: "harbour"}, CorrectAnswer: "harbour"},
				{Number: 2, Type: domain.TypeFlowChart, GroupID: "g-flow", ImageURL: "https://cdn.example/map.png",
					Field: &domain.Field{ID: "f2", X: 60, Y: 90, Width: 150, Height: 30, Value: "lighthouse"}, CorrectAnswer: "lighthouse"},
				{Number: 3, Type: domain.TypeTableCompletion, GroupID: "g-table", TableStructure: &ts,
					Answers: map[int]string{1: "warm"}, BlankID: 1, CorrectAnswer: "warm"},
			},
		}},
	}
}

type fixture struct {
	h      *storage.ModuleHandle
	store  *countingStore
	events *fakeEvents
	ws     *Workspace
}

func newFixture(t *testing.T, m domain.TestModule) fixture {
	t.Helper()
	h, err := storage.InitModule(t.TempDir(), m)
	if err != nil {
		t.Fatalf("init module: %v", err)
	}
	f := fixture{h: h, store: &countingStore{PartStore: storage.NewFileStore(h)}, events: &fakeEvents{}}
	ws, err := Open(context.Background(), Options{
		ModuleID: m.ID,
		Store:    f.store,
		Sync:     groupsync.New(spatial.Counter("g")),
		Uploader: fakeUploader{},
		History:  ModuleHistory{H: h},
		Events:   f.events,
		Viewport: vector.Size{W: 400, H: 300},
		IDs:      spatial.Counter("f"),
	}, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.ws = ws
	return f
}

func TestOpenReassemblesGroups(t *testing.T) {
	f := newFixture(t, fixtureModule())
	gs := f.ws.Groups()
	if len(gs) != 2 || gs[0].Group.ID != "g-flow" || gs[1].Group.ID != "g-table" {
		t.Fatalf("unexpected groups: %+v", gs)
	}
	if len(gs[0].Fields) != 2 || gs[0].ImageURL != "https://cdn.example/map.png" {
		t.Fatalf("flow chart not rebuilt: %+v", gs[0])
	}
	if len(f.ws.Warnings()) != 0 {
		t.Fatalf("unexpected warnings: %v", f.ws.Warnings())
	}
	if f.events.opened != 1 {
		t.Fatalf("expected one part-opened event, got %d", f.events.opened)
	}
}

func TestOpenMissingPartStartsEmpty(t *testing.T) {
	h, err := storage.InitModule(t.TempDir(), fixtureModule())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	ws, err := Open(context.Background(), Options{Store: storage.NewFileStore(h), Events: &fakeEvents{}}, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if p := ws.Part(); p.Number != 4 || len(p.Questions) != 0 {
		t.Fatalf("expected empty part 4, got %+v", p)
	}
}

func TestOpenWarnsOnLegacyQuestion(t *testing.T) {
	m := fixtureModule()
	m.Parts[0].Questions[2].GroupID = ""
	f := newFixture(t, m)
	ws := f.ws.Warnings()
	if len(ws) != 1 || ws[0].Question != 3 {
		t.Fatalf("expected one warning for question 3, got %v", ws)
	}
	if len(f.ws.Groups()) != 2 {
		t.Fatalf("legacy question should still load as its own group")
	}
}

func TestCommitNewFlowChartContinuesNumbering(t *testing.T) {
	f := newFixture(t, fixtureModule())
	ctx := context.Background()
	ed, err := f.ws.EditFlowChart("")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := ed.UploadImage(ctx, upload.File{Name: "route.png", Data: pngData}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	for _, p := range []vector.Pt{{X: 10, Y: 10}, {X: 100, Y: 150}} {
		if _, err := ed.Click(p); err != nil {
			t.Fatalf("click: %v", err)
		}
	}
	res, err := f.ws.CommitFlowChart(ctx, "", ed)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Start != 4 || len(res.Numbers) != 2 || res.Numbers[1] != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.events.got) != 1 || f.events.got[0] != (recordedEvent{"flow_chart", 2, false}) {
		t.Fatalf("unexpected events %+v", f.events.got)
	}

	reopened, err := storage.Open(f.h.Root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	qs := reopened.Module.Parts[0].Questions
	if len(qs) != 5 || qs[4].ImageURL != "https://cdn.example/route.png" || qs[4].GroupID != res.GroupID {
		t.Fatalf("commit not persisted: %+v", qs)
	}
	snaps, err := storage.ListSnapshots(ctx, f.h, res.GroupID, 10)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("expected one history snapshot, got %d (%v)", len(snaps), err)
	}
}

func TestEmptyGroupIsNoticeAndLeavesPartAlone(t *testing.T) {
	f := newFixture(t, fixtureModule())
	ctx := context.Background()
	ed, _ := f.ws.EditFlowChart("")
	if err := ed.UploadImage(ctx, upload.File{Name: "blank.png", Data: pngData}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	before := f.ws.Part()
	_, err := f.ws.CommitFlowChart(ctx, "", ed)
	if !groupsync.IsNotice(err) || !errors.Is(err, groupsync.ErrEmptyGroup) {
		t.Fatalf("want empty group notice, got %v", err)
	}
	if f.store.saves != 0 || len(f.ws.Part().Questions) != len(before.Questions) || len(f.events.got) != 0 {
		t.Fatalf("notice must not persist or emit events")
	}
}

func TestCommitTableUpdatesAnswers(t *testing.T) {
	f := newFixture(t, fixtureModule())
	ed, err := f.ws.EditTable("g-table")
	if err != nil {
		t.Fatalf("edit table: %v", err)
	}
	if err := ed.SetAnswer(1, "cold"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if _, err := f.ws.CommitTable(context.Background(), "g-table", ed, 0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	part := f.ws.Part()
	qs := part.GroupQuestions("g-table")
	if len(qs) != 1 || qs[0].Number != 3 || qs[0].CorrectAnswer != "cold" {
		t.Fatalf("table commit wrong: %+v", qs)
	}
	if _, err := f.ws.EditTable("g-flow"); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("want ErrWrongKind, got %v", err)
	}
	if _, err := f.ws.EditFlowChart("nope"); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("want ErrUnknownGroup, got %v", err)
	}
}

func TestRenumberPersists(t *testing.T) {
	f := newFixture(t, fixtureModule())
	if err := f.ws.Renumber(context.Background(), "g-table", 5); err != nil {
		t.Fatalf("renumber: %v", err)
	}
	reopened, err := storage.Open(f.h.Root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Module.Parts[0].GroupQuestions("g-table"); len(got) != 1 || got[0].Number != 8 {
		t.Fatalf("renumber not persisted: %+v", got)
	}
	if err := f.ws.Renumber(context.Background(), "g-flow", 1); !errors.Is(err, groupsync.ErrCollision) {
		t.Fatalf("want collision, got %v", err)
	}
}

func TestDeleteLastQuestionReleasesImage(t *testing.T) {
	f := newFixture(t, fixtureModule())
	ctx := context.Background()
	d, orphaned, err := f.ws.DeleteQuestion(ctx, 1)
	if err != nil || d.GroupRemoved || orphaned {
		t.Fatalf("first delete: %+v %v %v", d, orphaned, err)
	}
	d, orphaned, err = f.ws.DeleteQuestion(ctx, 2)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if !d.GroupRemoved || d.ImageURL != "https://cdn.example/map.png" || !orphaned {
		t.Fatalf("expected released image, got %+v orphaned=%v", d, orphaned)
	}
	if len(f.ws.Groups()) != 1 {
		t.Fatalf("flow group should be gone")
	}
}

func TestDeleteGroup(t *testing.T) {
	f := newFixture(t, fixtureModule())
	n, err := f.ws.DeleteGroup(context.Background(), "g-flow")
	if err != nil || n != 2 {
		t.Fatalf("delete group: %d %v", n, err)
	}
	if _, err := f.ws.DeleteGroup(context.Background(), "g-flow"); !errors.Is(err, ErrUnknownGroup) {
		t.Fatalf("want ErrUnknownGroup, got %v", err)
	}
}

func TestFailedSaveKeepsCurrentPart(t *testing.T) {
	f := newFixture(t, fixtureModule())
	f.store.fail = errors.New("disk full")
	if err := f.ws.Renumber(context.Background(), "g-table", 5); err == nil {
		t.Fatalf("expected save error")
	}
	part := f.ws.Part()
	if got := part.GroupQuestions("g-table"); got[0].Number != 3 {
		t.Fatalf("current part changed after failed save: %+v", got)
	}
}

func TestModuleHistoryPrunes(t *testing.T) {
	h, err := storage.InitModule(t.TempDir(), fixtureModule())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	hist := ModuleHistory{H: h}
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := 0; i < keepSnapshots+5; i++ {
		if err := hist.Record(ctx, "g-flow", []byte(`[]`), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	snaps, err := storage.ListSnapshots(ctx, h, "g-flow", 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snaps) != keepSnapshots {
		t.Fatalf("want %d snapshots, got %d", keepSnapshots, len(snaps))
	}
}

func TestTableBlankReuseDoesNotInheritAnswer(t *testing.T) {
	f := newFixture(t, fixtureModule())
	ctx := context.Background()
	ed, err := f.ws.EditTable("g-table")
	if err != nil {
		t.Fatalf("edit table: %v", err)
	}
	ref, id, err := ed.AddBlank(0, 0)
	if err != nil || id != 2 {
		t.Fatalf("add blank: id=%d %v", id, err)
	}
	if err := ed.SetAnswer(id, "current"); err != nil {
		t.Fatalf("set answer: %v", err)
	}
	if _, err := f.ws.CommitTable(ctx, "g-table", ed, 0); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	ed, err = f.ws.EditTable("g-table")
	if err != nil {
		t.Fatalf("reopen table: %v", err)
	}
	if _, err := ed.ToggleCellType(table.CellRef{Row: 0, Col: 0, Pos: ref.Pos}); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, id, err = ed.AddBlank(0, 1); err != nil || id != 2 {
		t.Fatalf("expected blank id 2 to be reused, got %d %v", id, err)
	}
	res, err := f.ws.CommitTable(ctx, "g-table", ed, 0)
	if err != nil {
		t.Fatalf("second commit: %v", err)
	}
	part := f.ws.Part()
	for _, q := range part.GroupQuestions("g-table") {
		if q.BlankID == 2 && q.CorrectAnswer != "" {
			t.Fatalf("reused blank inherited %q", q.CorrectAnswer)
		}
		if q.BlankID == 1 && q.CorrectAnswer != "warm" {
			t.Fatalf("blank 1 lost its answer: %q", q.CorrectAnswer)
		}
	}
	if len(res.Discarded) != 1 || res.Discarded[0] != 2 {
		t.Fatalf("discarded = %v", res.Discarded)
	}
}

func TestSetPartAttrPersists(t *testing.T) {
	f := newFixture(t, fixtureModule())
	ctx := context.Background()
	k := domain.PartKey{Part: 1, Aspect: domain.AspectInstructions}
	if err := f.ws.SetPartAttr(ctx, k, "Write ONE WORD ONLY"); err != nil {
		t.Fatalf("set attr: %v", err)
	}
	if got, err := f.ws.PartAttr(k); err != nil || got != "Write ONE WORD ONLY" {
		t.Fatalf("PartAttr = %q, %v", got, err)
	}
	reopened, err := storage.Open(f.h.Root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Module.Parts[0].Instructions != "Write ONE WORD ONLY" {
		t.Fatalf("instructions not persisted: %+v", reopened.Module.Parts[0])
	}
	if err := f.ws.SetPartAttr(ctx, domain.PartKey{Part: 2, Aspect: domain.AspectTitle}, "x"); !errors.Is(err, ErrOtherPart) {
		t.Fatalf("want ErrOtherPart, got %v", err)
	}
	if err := f.ws.SetPartAttr(ctx, domain.PartKey{Part: 1, Aspect: domain.PartAspect(9)}, "x"); !errors.Is(err, domain.ErrUnknownAspect) {
		t.Fatalf("want ErrUnknownAspect, got %v", err)
	}
}

func TestUploadAudioSetsPartAudio(t *testing.T) {
	f := newFixture(t, fixtureModule())
	ctx := context.Background()
	res, err := f.ws.UploadAudio(ctx, upload.File{Name: "section1.mp3", ContentType: "audio/mpeg", Data: []byte("ID3 audio")})
	if err != nil {
		t.Fatalf("upload audio: %v", err)
	}
	if res.URL != "https://cdn.example/section1.mp3" || f.ws.Part().AudioURL != res.URL {
		t.Fatalf("audio url not set: %+v / %q", res, f.ws.Part().AudioURL)
	}
	reopened, err := storage.Open(f.h.Root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Module.Parts[0].AudioURL != res.URL {
		t.Fatalf("audio url not persisted")
	}
}

func TestUploadAudioRejections(t *testing.T) {
	f := newFixture(t, fixtureModule())
	ctx := context.Background()
	if _, err := f.ws.UploadAudio(ctx, upload.File{Name: "map.png", Data: pngData}); !errors.Is(err, upload.ErrWrongType) {
		t.Fatalf("want ErrWrongType, got %v", err)
	}
	big := upload.File{Name: "long.mp3", ContentType: "audio/mpeg", Data: make([]byte, upload.MaxAudioBytes+1)}
	if _, err := f.ws.UploadAudio(ctx, big); !errors.Is(err, upload.ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
	f.ws.opts.Uploader = nil
	if _, err := f.ws.UploadAudio(ctx, upload.File{Name: "a.mp3", ContentType: "audio/mpeg", Data: []byte("ID3")}); !errors.Is(err, ErrNoUploader) {
		t.Fatalf("want ErrNoUploader, got %v", err)
	}
	f.ws.opts.Uploader = failingUploader{}
	saves := f.store.saves
	if _, err := f.ws.UploadAudio(ctx, upload.File{Name: "a.mp3", ContentType: "audio/mpeg", Data: []byte("ID3")}); err == nil {
		t.Fatalf("expected upload error")
	}
	if f.store.saves != saves || f.ws.Part().AudioURL != "" {
		t.Fatalf("failed upload must not change the part")
	}
}
