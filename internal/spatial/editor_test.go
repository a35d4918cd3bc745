/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package spatial

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ieltsauthor/internal/undo"
	"ieltsauthor/internal/upload"
	"ieltsauthor/internal/vector"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type fakePointer struct {
	move   func(vector.Pt)
	end    func()
	subs   int
	unsubs int
}

func (f *fakePointer) Subscribe(move func(vector.Pt), end func()) func() {
	f.subs++
	f.move, f.end = move, end
	return func() { f.unsubs++ }
}

type fakeUploader struct {
	err   error
	calls int
}

func (u *fakeUploader) Upload(_ context.Context, _ upload.Kind, f upload.File) (upload.Result, error) {
	u.calls++
	if u.err != nil {
		return upload.Result{}, u.err
	}
	return upload.Result{URL: "https://cdn.example/" + f.Name, PublicID: f.Name}, nil
}

func newTestEditor(t *testing.T, start int) *Editor {
	t.Helper()
	e := New(Options{
		Viewport:    vector.Size{W: 400, H: 300},
		StartNumber: start,
		IDs:         Counter("f"),
		Uploader:    &fakeUploader{},
	})
	if err := e.UploadImage(context.Background(), upload.File{Name: "chart.png", Data: pngData}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	return e
}

func TestClickNumbersInCreationOrder(t *testing.T) {
	e := newTestEditor(t, 5)
	pts := []vector.Pt{{X: 10, Y: 10}, {X: 50, Y: 80}, {X: 120, Y: 40}}
	for _, p := range pts {
		if _, err := e.Click(p); err != nil {
			t.Fatalf("click %v: %v", p, err)
		}
	}
	a, err := e.Save()
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(a.Fields) != 3 || a.StartNumber != 5 || a.ImageURL != "https://cdn.example/chart.png" {
		t.Fatalf("unexpected artifact %+v", a)
	}
	for i, f := range a.Fields {
		if !vector.NearlyEqual(f.X, pts[i].X, 1e-9) || !vector.NearlyEqual(f.Y, pts[i].Y, 1e-9) {
			t.Fatalf("field %d stored at (%g,%g), clicked %v", i, f.X, f.Y, pts[i])
		}
		n, ok := e.QuestionNumber(f.ID)
		if !ok || n != 5+i {
			t.Fatalf("field %d number = %d, want %d", i, n, 5+i)
		}
	}
}

func TestQuestionNumberOverride(t *testing.T) {
	e := newTestEditor(t, 1)
	a, _ := e.Click(vector.Pt{X: 1, Y: 1})
	b, _ := e.Click(vector.Pt{X: 2, Y: 2})
	if _, err := e.SetQuestionNumber(a.ID, 9); err != nil {
		t.Fatalf("override: %v", err)
	}
	if n, _ := e.QuestionNumber(a.ID); n != 9 {
		t.Fatalf("override not applied: %d", n)
	}
	if n, _ := e.QuestionNumber(b.ID); n != 2 {
		t.Fatalf("second field should keep derived number 2, got %d", n)
	}
	if _, err := e.SetQuestionNumber(a.ID, -1); !errors.Is(err, ErrBadNumber) {
		t.Fatalf("want ErrBadNumber, got %v", err)
	}
}

func TestClickOutsideImage(t *testing.T) {
	e := newTestEditor(t, 1)
	if _, err := e.Click(vector.Pt{X: 401, Y: 10}); !errors.Is(err, ErrOutsideImage) {
		t.Fatalf("want ErrOutsideImage, got %v", err)
	}
}

func TestResizeClampedThroughEditor(t *testing.T) {
	e := newTestEditor(t, 1)
	f, _ := e.Click(vector.Pt{X: 0, Y: 0})
	f, _ = e.Resize(f.ID, 10000, 10000)
	if f.Width != 300 || f.Height != 100 {
		t.Fatalf("max clamp failed: %gx%g", f.Width, f.Height)
	}
	f, _ = e.Resize(f.ID, -10000, -10000)
	if f.Width != 80 || f.Height != 20 {
		t.Fatalf("min clamp failed: %gx%g", f.Width, f.Height)
	}
	if _, err := e.Resize("nope", 1, 1); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("want ErrUnknownField, got %v", err)
	}
}

func TestDragClampsAndReleasesOnce(t *testing.T) {
	e := newTestEditor(t, 1)
	f, _ := e.Click(vector.Pt{X: 10, Y: 10})
	src := &fakePointer{}
	d, err := e.BeginDrag(f.ID, vector.Pt{X: 20, Y: 20}, src)
	if err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if src.subs != 1 || d.State() != Dragging {
		t.Fatalf("expected one subscription and dragging state")
	}
	src.move(vector.Pt{X: 60, Y: 50})
	if got, _ := e.Field(f.ID); got.X != 50 || got.Y != 40 {
		t.Fatalf("cumulative delta not applied: (%g,%g)", got.X, got.Y)
	}
	src.move(vector.Pt{X: 5000, Y: 5000})
	got, _ := e.Field(f.ID)
	if got.X != 400-150 {
		t.Fatalf("horizontal clamp should be exact, x=%g", got.X)
	}
	if got.Y != 300 {
		t.Fatalf("vertical clamp limits the top edge to the container height, y=%g", got.Y)
	}
	src.move(vector.Pt{X: -5000, Y: -5000})
	if got, _ := e.Field(f.ID); got.X != 0 || got.Y != 0 {
		t.Fatalf("negative clamp failed: (%g,%g)", got.X, got.Y)
	}
	src.end()
	src.end()
	if src.unsubs != 1 {
		t.Fatalf("listeners removed %d times, want 1", src.unsubs)
	}
	if e.Drag() != nil || d.State() != Idle {
		t.Fatalf("drag should be idle after end")
	}
	src.move(vector.Pt{X: 100, Y: 100})
	if got, _ := e.Field(f.ID); got.X != 0 {
		t.Fatalf("moves after end must be ignored")
	}
}

func TestStrictVerticalClamp(t *testing.T) {
	e := New(Options{Viewport: vector.Size{W: 400, H: 300}, StrictVertical: true, IDs: Counter("f")})
	f, _ := e.Click(vector.Pt{X: 10, Y: 10})
	src := &fakePointer{}
	if _, err := e.BeginDrag(f.ID, vector.Pt{}, src); err != nil {
		t.Fatalf("begin: %v", err)
	}
	src.move(vector.Pt{Y: 1000})
	if got, _ := e.Field(f.ID); got.Y != 300-30 {
		t.Fatalf("strict vertical clamp: y=%g", got.Y)
	}
	src.end()
}

func TestDeleteMidDragReleasesOnce(t *testing.T) {
	e := newTestEditor(t, 1)
	f, _ := e.Click(vector.Pt{X: 10, Y: 10})
	src := &fakePointer{}
	if _, err := e.BeginDrag(f.ID, vector.Pt{}, src); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := e.Delete(f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if src.unsubs != 1 || e.Drag() != nil {
		t.Fatalf("delete mid-drag should release listeners once, got %d", src.unsubs)
	}
	// late events from the source are harmless
	src.move(vector.Pt{X: 3, Y: 3})
	src.end()
	if src.unsubs != 1 {
		t.Fatalf("listeners removed %d times, want 1", src.unsubs)
	}
	if len(e.Fields()) != 0 {
		t.Fatalf("field not deleted")
	}
}

func TestOneGestureAtATime(t *testing.T) {
	e := newTestEditor(t, 1)
	a, _ := e.Click(vector.Pt{X: 10, Y: 10})
	b, _ := e.Click(vector.Pt{X: 50, Y: 50})
	src := &fakePointer{}
	if _, err := e.BeginDrag(a.ID, vector.Pt{}, src); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := e.BeginDrag(b.ID, vector.Pt{}, &fakePointer{}); !errors.Is(err, ErrGestureActive) {
		t.Fatalf("want ErrGestureActive, got %v", err)
	}
	if _, err := e.Click(vector.Pt{X: 1, Y: 1}); !errors.Is(err, ErrGestureActive) {
		t.Fatalf("click during drag: want ErrGestureActive, got %v", err)
	}
	if _, err := e.Save(); !errors.Is(err, ErrGestureActive) {
		t.Fatalf("save during drag: want ErrGestureActive, got %v", err)
	}
	src.end()
	if _, err := e.BeginDrag(b.ID, vector.Pt{}, &fakePointer{}); err != nil {
		t.Fatalf("second gesture after end: %v", err)
	}
}

func TestAbortRestoresPosition(t *testing.T) {
	e := newTestEditor(t, 1)
	f, _ := e.Click(vector.Pt{X: 10, Y: 10})
	src := &fakePointer{}
	d, _ := e.BeginDrag(f.ID, vector.Pt{}, src)
	src.move(vector.Pt{X: 30, Y: 30})
	d.Abort()
	if got, _ := e.Field(f.ID); got.X != 10 || got.Y != 10 {
		t.Fatalf("abort should restore (10,10), got (%g,%g)", got.X, got.Y)
	}
	if src.unsubs != 1 {
		t.Fatalf("abort should release listeners once")
	}
}

func TestUploadFallbackIsNotSaveable(t *testing.T) {
	up := &fakeUploader{err: errors.New("storage offline")}
	e := New(Options{Viewport: vector.Size{W: 400, H: 300}, Uploader: up})
	if _, err := e.Save(); !errors.Is(err, ErrNoImage) {
		t.Fatalf("want ErrNoImage, got %v", err)
	}
	err := e.UploadImage(context.Background(), upload.File{Name: "chart.png", Data: pngData})
	if err == nil || !strings.Contains(err.Error(), "storage offline") {
		t.Fatalf("upload error should surface, got %v", err)
	}
	if e.UploadState() != UploadLocalPreview || !upload.IsLocalPreview(e.ImageURL()) {
		t.Fatalf("expected local preview, state=%v", e.UploadState())
	}
	if _, err := e.Click(vector.Pt{X: 5, Y: 5}); err != nil {
		t.Fatalf("author can keep placing fields: %v", err)
	}
	if _, err := e.Save(); !errors.Is(err, ErrNotDurable) {
		t.Fatalf("want ErrNotDurable, got %v", err)
	}
	up.err = nil
	if err := e.UploadImage(context.Background(), upload.File{Name: "chart.png", Data: pngData}); err != nil {
		t.Fatalf("retry upload: %v", err)
	}
	a, err := e.Save()
	if err != nil || len(a.Fields) != 1 {
		t.Fatalf("save after durable upload: %v %+v", err, a)
	}
}

func TestUploadRejectsBeforeCollaborator(t *testing.T) {
	up := &fakeUploader{}
	e := New(Options{Uploader: up})
	err := e.UploadImage(context.Background(), upload.File{Name: "notes.txt", Data: []byte("plain text")})
	if !errors.Is(err, upload.ErrWrongType) {
		t.Fatalf("want ErrWrongType, got %v", err)
	}
	big := upload.File{Name: "huge.png", ContentType: "image/png", Data: make([]byte, upload.MaxImageBytes+1)}
	if err := e.UploadImage(context.Background(), big); !errors.Is(err, upload.ErrTooLarge) {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
	if up.calls != 0 || e.UploadState() != UploadNone {
		t.Fatalf("invalid files must not reach the collaborator")
	}
}

type blockingUploader struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingUploader) Upload(ctx context.Context, _ upload.Kind, f upload.File) (upload.Result, error) {
	close(b.entered)
	<-b.release
	return upload.Result{URL: "https://cdn.example/" + f.Name}, nil
}

func TestUploadInProgressRejected(t *testing.T) {
	b := &blockingUploader{entered: make(chan struct{}), release: make(chan struct{})}
	e := New(Options{Uploader: b})
	f := upload.File{Name: "chart.png", Data: pngData}
	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		firstErr = e.UploadImage(context.Background(), f)
	}()
	<-b.entered
	if e.UploadState() != Uploading {
		t.Fatalf("state should be uploading")
	}
	if err := e.UploadImage(context.Background(), f); !errors.Is(err, ErrUploadInProgress) {
		t.Fatalf("want ErrUploadInProgress, got %v", err)
	}
	close(b.release)
	wg.Wait()
	if firstErr != nil || e.UploadState() != UploadDurable {
		t.Fatalf("first upload: err=%v state=%v", firstErr, e.UploadState())
	}
}

func TestUndoRedo(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	e := New(Options{
		Viewport: vector.Size{W: 400, H: 300},
		IDs:      Counter("f"),
		History:  undo.NewManager(undo.Config{}),
		Now:      now,
	})
	a, _ := e.Click(vector.Pt{X: 10, Y: 10})
	_, _ = e.SetValue(a.ID, "river")
	if !e.Undo() {
		t.Fatalf("undo value")
	}
	if got, _ := e.Field(a.ID); got.Value != "" {
		t.Fatalf("value should be reverted, got %q", got.Value)
	}
	if !e.Undo() || len(e.Fields()) != 0 {
		t.Fatalf("undo click should leave no fields")
	}
	if e.Undo() {
		t.Fatalf("nothing left to undo")
	}
	if !e.Redo() || len(e.Fields()) != 1 {
		t.Fatalf("redo click")
	}
	if !e.Redo() {
		t.Fatalf("redo value")
	}
	if got, _ := e.Field(a.ID); got.Value != "river" {
		t.Fatalf("value should be restored, got %q", got.Value)
	}
}

func TestDragIsOneUndoStep(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	e := New(Options{
		Viewport: vector.Size{W: 400, H: 300},
		IDs:      Counter("f"),
		History:  undo.NewManager(undo.Config{}),
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	f, _ := e.Click(vector.Pt{X: 10, Y: 10})
	src := &fakePointer{}
	_, _ = e.BeginDrag(f.ID, vector.Pt{}, src)
	for i := 1; i <= 5; i++ {
		src.move(vector.Pt{X: float64(i * 10), Y: 0})
	}
	src.end()
	if !e.Undo() {
		t.Fatalf("undo drag")
	}
	if got, _ := e.Field(f.ID); got.X != 10 {
		t.Fatalf("undo should return to pre-drag x=10, got %g", got.X)
	}
}

func TestCounterIDsAreUnique(t *testing.T) {
	next := Counter("f")
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := next()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if a, b := UUIDs()(), UUIDs()(); a == b || a == "" {
		t.Fatalf("uuid generator returned %q and %q", a, b)
	}
}

func TestLoadMarksImageState(t *testing.T) {
	e := New(Options{})
	e.Load(Artifact{ImageURL: "https://cdn.example/a.png", StartNumber: 4})
	if e.UploadState() != UploadDurable || e.StartNumber() != 4 {
		t.Fatalf("load durable: state=%v start=%d", e.UploadState(), e.StartNumber())
	}
	e.Load(Artifact{ImageURL: "data:image/png;base64,AAAA"})
	if _, err := e.Save(); !errors.Is(err, ErrNotDurable) {
		t.Fatalf("loaded data: url must not be saveable, got %v", err)
	}
}
