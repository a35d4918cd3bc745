/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package spatial implements the free-form field editor: answer boxes placed
// by clicking on an uploaded diagram, moved by dragging and resized inline.
//
// Coordinates are stored in the pixel space of the image as it is displayed
// while authoring, not in the image's natural resolution. The preview renderer
// rescales them for any other display size.
package spatial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/field"
	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/undo"
	"ieltsauthor/internal/upload"
	"ieltsauthor/internal/vector"
)

var (
	ErrGestureActive    = errors.New("another drag gesture is active")
	ErrUnknownField     = errors.New("unknown field")
	ErrOutsideImage     = errors.New("point outside the displayed image")
	ErrNoImage          = errors.New("no image uploaded")
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrNotDurable       = errors.New("image is a local preview and cannot be saved")
	ErrBadNumber        = errors.New("question number must be positive")
)

// UploadState tracks the image behind the editor.
type UploadState int

const (
	UploadNone UploadState = iota
	Uploading
	UploadDurable
	UploadLocalPreview
)

func (s UploadState) String() string {
	switch s {
	case Uploading:
		return "uploading"
	case UploadDurable:
		return "durable"
	case UploadLocalPreview:
		return "local-preview"
	default:
		return "none"
	}
}

// Options configures an Editor. Zero values select defaults.
type Options struct {
	// Viewport is the rendered size of the image while authoring.
	Viewport vector.Size
	// StartNumber is the question number of the first field (default 1).
	StartNumber    int
	StrictVertical bool
	IDs            IDFunc
	Uploader       upload.Collaborator
	// History, when set, records undo snapshots under HistoryKey.
	History    *undo.Manager
	HistoryKey string
	Now        func() time.Time
}

// Artifact is what Save hands to the synchronizer.
type Artifact struct {
	ImageURL    string
	PublicID    string
	StartNumber int
	Fields      []domain.Field
}

// Editor holds the field set of one flow-chart image. It is driven from a
// single UI goroutine; only the upload state is guarded because the upload
// completes on another one.
type Editor struct {
	viewport       vector.Size
	start          int
	strictVertical bool
	ids            IDFunc
	uploader       upload.Collaborator
	hist           *undo.Manager
	histKey        string
	now            func() time.Time
	log            *slog.Logger

	fields []domain.Field
	drag   *DragSession

	mu        sync.Mutex
	upState   UploadState
	imageURL  string
	publicID  string
	uploadErr error
}

// New creates an empty editor.
func New(opts Options) *Editor {
	e := &Editor{
		viewport:       opts.Viewport,
		start:          opts.StartNumber,
		strictVertical: opts.StrictVertical,
		ids:            opts.IDs,
		uploader:       opts.Uploader,
		hist:           opts.History,
		histKey:        opts.HistoryKey,
		now:            opts.Now,
		log:            applog.WithComponent("spatial"),
	}
	if e.start <= 0 {
		e.start = 1
	}
	if e.ids == nil {
		e.ids = UUIDs()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.histKey == "" {
		e.histKey = "spatial"
	}
	e.baseline()
	return e
}

// Load replaces the editor state with a reassembled artifact. The image is
// treated as durable when it is not a data: URL.
func (e *Editor) Load(a Artifact) {
	e.abortDrag()
	e.fields = append([]domain.Field(nil), a.Fields...)
	if a.StartNumber > 0 {
		e.start = a.StartNumber
	}
	e.mu.Lock()
	e.imageURL, e.publicID, e.uploadErr = a.ImageURL, a.PublicID, nil
	switch {
	case a.ImageURL == "":
		e.upState = UploadNone
	case upload.IsLocalPreview(a.ImageURL):
		e.upState = UploadLocalPreview
	default:
		e.upState = UploadDurable
	}
	e.mu.Unlock()
	if e.hist != nil {
		e.hist.Clear(e.histKey)
	}
	e.baseline()
}

// SetViewport records a new rendered image size. Stored fields are not
// rescaled; they remain in the space they were authored in.
func (e *Editor) SetViewport(s vector.Size) { e.viewport = s }

// Viewport returns the rendered image size.
func (e *Editor) Viewport() vector.Size { return e.viewport }

func (e *Editor) bounds() field.Bounds {
	return field.Bounds{Size: e.viewport, StrictVertical: e.strictVertical}
}

// StartNumber returns the question number of the first field.
func (e *Editor) StartNumber() int { return e.start }

// SetStartNumber changes the number the block starts at.
func (e *Editor) SetStartNumber(n int) error {
	if n <= 0 {
		return ErrBadNumber
	}
	e.start = n
	e.checkpoint()
	return nil
}

// Click creates a field whose top-left corner is p, in displayed-image pixels.
func (e *Editor) Click(p vector.Pt) (domain.Field, error) {
	if e.drag != nil {
		return domain.Field{}, ErrGestureActive
	}
	if !e.viewport.Empty() && !vector.R(0, 0, e.viewport.W, e.viewport.H).Contains(p) {
		return domain.Field{}, fmt.Errorf("%w: (%g,%g)", ErrOutsideImage, p.X, p.Y)
	}
	f := field.New(e.ids(), p)
	e.fields = append(e.fields, f)
	e.checkpoint()
	e.log.Debug("field created", slog.String("id", f.ID), slog.Float64("x", f.X), slog.Float64("y", f.Y))
	return f, nil
}

// Fields returns a copy of the fields in creation order.
func (e *Editor) Fields() []domain.Field { return append([]domain.Field(nil), e.fields...) }

// Field returns the field with id.
func (e *Editor) Field(id string) (domain.Field, bool) {
	if i := e.index(id); i >= 0 {
		return e.fields[i], true
	}
	return domain.Field{}, false
}

func (e *Editor) index(id string) int {
	for i := range e.fields {
		if e.fields[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Editor) update(id string, fn func(domain.Field) domain.Field) (domain.Field, error) {
	i := e.index(id)
	if i < 0 {
		return domain.Field{}, fmt.Errorf("%w: %s", ErrUnknownField, id)
	}
	e.fields[i] = fn(e.fields[i])
	e.checkpoint()
	return e.fields[i], nil
}

// Resize grows or shrinks a field, clamped to the field size limits.
func (e *Editor) Resize(id string, dw, dh float64) (domain.Field, error) {
	return e.update(id, func(f domain.Field) domain.Field { return field.Resize(f, dw, dh) })
}

// Nudge moves a field by a delta without a pointer gesture.
func (e *Editor) Nudge(id string, dx, dy float64) (domain.Field, error) {
	if e.drag != nil {
		return domain.Field{}, ErrGestureActive
	}
	return e.update(id, func(f domain.Field) domain.Field { return field.Move(f, dx, dy, e.bounds()) })
}

// SetValue stores the correct answer typed into the field.
func (e *Editor) SetValue(id, v string) (domain.Field, error) {
	return e.update(id, func(f domain.Field) domain.Field {
		f.Value = v
		return f
	})
}

// SetQuestionNumber sets an explicit number for the field; 0 clears it.
func (e *Editor) SetQuestionNumber(id string, n int) (domain.Field, error) {
	if n < 0 {
		return domain.Field{}, ErrBadNumber
	}
	return e.update(id, func(f domain.Field) domain.Field {
		f.QuestionNumber = n
		return f
	})
}

// QuestionNumber resolves the number shown for a field: the explicit override
// when set, else the start number plus the field's creation index.
func (e *Editor) QuestionNumber(id string) (int, bool) {
	i := e.index(id)
	if i < 0 {
		return 0, false
	}
	if n := e.fields[i].QuestionNumber; n > 0 {
		return n, true
	}
	return e.start + i, true
}

// Delete removes a field. Deleting the field being dragged ends the gesture
// first, so its listeners are detached.
func (e *Editor) Delete(id string) error {
	i := e.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownField, id)
	}
	if e.drag != nil && e.drag.fieldID == id {
		e.drag.finish()
	}
	e.fields = append(e.fields[:i], e.fields[i+1:]...)
	e.checkpoint()
	return nil
}

// BeginDrag starts moving field id. origin is the pointer position at gesture
// start; src supplies the subsequent pointer events.
func (e *Editor) BeginDrag(id string, origin vector.Pt, src PointerSource) (*DragSession, error) {
	if e.drag != nil {
		return nil, ErrGestureActive
	}
	f, ok := e.Field(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, id)
	}
	d := &DragSession{ed: e, fieldID: id, pointer0: origin, field0: vector.Pt{X: f.X, Y: f.Y}, state: Dragging}
	e.drag = d
	unsub := src.Subscribe(d.Move, d.End)
	if d.state != Dragging {
		// the source ended the gesture while subscribing
		if unsub != nil {
			unsub()
		}
		return d, nil
	}
	d.cleanup = unsub
	return d, nil
}

// Drag returns the active gesture, or nil.
func (e *Editor) Drag() *DragSession { return e.drag }

func (e *Editor) dragTo(id string, p vector.Pt) {
	if i := e.index(id); i >= 0 {
		e.fields[i] = field.MoveTo(e.fields[i], p, e.bounds())
	}
}

func (e *Editor) abortDrag() {
	if e.drag != nil {
		e.drag.Abort()
	}
}

// UploadImage validates f and sends it to the upload collaborator. When the
// collaborator fails the editor keeps a local preview of the image so the
// author can keep placing fields, and the error is returned; Save refuses
// that state until a later upload succeeds.
func (e *Editor) UploadImage(ctx context.Context, f upload.File) error {
	if err := upload.Check(upload.KindImage, f); err != nil {
		return err
	}
	e.mu.Lock()
	if e.upState == Uploading {
		e.mu.Unlock()
		return ErrUploadInProgress
	}
	prev := e.upState
	e.upState = Uploading
	e.mu.Unlock()

	l := applog.WithOperation(e.log, "upload").With(slog.String("file", f.Name))
	var (
		res upload.Result
		err error
	)
	if e.uploader == nil {
		err = errors.New("no upload collaborator configured")
	} else {
		res, err = e.uploader.Upload(ctx, upload.KindImage, f)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		l.Warn("upload failed, using local preview", slog.Any("err", err), slog.String("previous", prev.String()))
		e.imageURL, e.publicID = upload.LocalPreview(f), ""
		e.upState = UploadLocalPreview
		e.uploadErr = err
		return fmt.Errorf("upload image: %w", err)
	}
	e.imageURL, e.publicID = res.URL, res.PublicID
	e.upState = UploadDurable
	e.uploadErr = nil
	l.Info("image uploaded", slog.String("url", res.URL))
	return nil
}

// UploadState reports the state of the image.
func (e *Editor) UploadState() UploadState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.upState
}

// ImageURL returns the current image URL, which may be a data: URL.
func (e *Editor) ImageURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.imageURL
}

// UploadError returns the error behind a local preview, if any.
func (e *Editor) UploadError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uploadErr
}

// Save emits the ordered field list with the durable image reference. It does
// not assign persisted identity; the synchronizer does.
func (e *Editor) Save() (Artifact, error) {
	if e.drag != nil {
		return Artifact{}, ErrGestureActive
	}
	e.mu.Lock()
	state, url, pid := e.upState, e.imageURL, e.publicID
	e.mu.Unlock()
	switch state {
	case UploadNone:
		return Artifact{}, ErrNoImage
	case Uploading:
		return Artifact{}, ErrUploadInProgress
	case UploadLocalPreview:
		return Artifact{}, ErrNotDurable
	}
	return Artifact{ImageURL: url, PublicID: pid, StartNumber: e.start, Fields: e.Fields()}, nil
}

type editorState struct {
	Start  int            `json:"start"`
	Fields []domain.Field `json:"fields"`
}

func (e *Editor) snapshot(ts time.Time) {
	if e.hist == nil {
		return
	}
	blob, err := json.Marshal(editorState{Start: e.start, Fields: e.fields})
	if err != nil {
		e.log.Error("undo snapshot failed", slog.Any("err", err))
		return
	}
	e.hist.PushSnapshot(undo.Snapshot{Key: e.histKey, Blob: blob, TS: ts})
}

// baseline records the state undo can return to; its zero timestamp keeps
// coalescing from replacing it.
func (e *Editor) baseline() { e.snapshot(time.Time{}) }

// checkpoint records the state after an edit. Moves during a drag are
// recorded once, when the gesture ends.
func (e *Editor) checkpoint() {
	if e.drag != nil {
		return
	}
	e.snapshot(e.now())
}

func (e *Editor) restore(s undo.Snapshot) bool {
	var st editorState
	if err := json.Unmarshal(s.Blob, &st); err != nil {
		e.log.Error("undo restore failed", slog.Any("err", err))
		return false
	}
	e.start = st.Start
	e.fields = st.Fields
	return true
}

// Undo reverts the last edit. It reports false when there is nothing to undo
// or a gesture is active.
func (e *Editor) Undo() bool {
	if e.hist == nil || e.drag != nil || e.hist.Depth(e.histKey) < 2 {
		return false
	}
	e.hist.Undo(e.histKey)
	prev, ok := e.hist.Peek(e.histKey)
	return ok && e.restore(prev)
}

// Redo reapplies the last undone edit.
func (e *Editor) Redo() bool {
	if e.hist == nil || e.drag != nil {
		return false
	}
	s, ok := e.hist.Redo(e.histKey)
	return ok && e.restore(s)
}
