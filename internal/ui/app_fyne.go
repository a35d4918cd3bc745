//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"errors"
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/preview"
	"ieltsauthor/internal/vector"
)

var (
	boxStroke  = color.NRGBA{R: 0xd0, G: 0x20, B: 0x20, A: 0xff}
	boxFill    = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0x60}
	labelColor = color.NRGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xff}
)

// Run opens a window showing the image with its question overlay and blocks
// until it is closed. The overlay follows window resizes.
func Run(opts PreviewOptions) error {
	if opts.Image == nil {
		return errors.New("preview: no image")
	}
	l := applog.WithComponent("ui")
	a := app.NewWithID("ieltsauthor.preview")
	title := opts.Title
	if title == "" {
		title = "IELTS Author preview"
	}
	w := a.NewWindow(title)
	v := newOverlayView(opts)
	defer v.rend.Close()
	w.SetContent(v)
	b := opts.Image.Bounds()
	w.Resize(fyne.NewSize(float32(min(b.Dx(), 1200)), float32(min(b.Dy(), 900))))
	l.Info("preview window opened", "questions", len(opts.Questions))
	w.ShowAndRun()
	return nil
}

// overlayView draws the image contained in its bounds with one box per
// flow-chart field on top.
type overlayView struct {
	widget.BaseWidget
	opts    PreviewOptions
	natural vector.Size
	rend    *preview.Renderer
	origin  vector.Pt
	boxes   []preview.Box
}

func newOverlayView(opts PreviewOptions) *overlayView {
	b := opts.Image.Bounds()
	v := &overlayView{opts: opts, natural: vector.Size{W: float64(b.Dx()), H: float64(b.Dy())}}
	v.rend = preview.NewRenderer(preview.Options{
		Debounce: opts.Debounce,
		OnLayout: func(_ preview.Scale, boxes []preview.Box) {
			fyne.Do(func() {
				v.boxes = boxes
				v.Refresh()
			})
		},
	})
	// natural size first; the first Layout call resizes to the real area
	_ = v.rend.Load(v.natural, v.natural, opts.Questions)
	_, v.boxes = v.rend.Current()
	v.ExtendBaseWidget(v)
	return v
}

func (v *overlayView) CreateRenderer() fyne.WidgetRenderer {
	img := canvas.NewImageFromImage(v.opts.Image)
	img.FillMode = canvas.ImageFillStretch
	r := &overlayRenderer{view: v, image: img}
	n := len(preview.Overlay(v.opts.Questions, preview.Identity))
	for i := 0; i < n; i++ {
		rect := canvas.NewRectangle(boxFill)
		rect.StrokeColor = boxStroke
		rect.StrokeWidth = 1.5
		txt := canvas.NewText("", labelColor)
		txt.TextSize = 11
		r.rects = append(r.rects, rect)
		r.labels = append(r.labels, txt)
	}
	r.objects = []fyne.CanvasObject{img}
	for i := range r.rects {
		r.objects = append(r.objects, r.rects[i], r.labels[i])
	}
	return r
}

type overlayRenderer struct {
	view    *overlayView
	image   *canvas.Image
	rects   []*canvas.Rectangle
	labels  []*canvas.Text
	objects []fyne.CanvasObject
}

func (r *overlayRenderer) Layout(size fyne.Size) {
	area := ContainRect(r.view.natural, vector.Size{W: float64(size.Width), H: float64(size.Height)})
	r.image.Move(fyne.NewPos(float32(area.X), float32(area.Y)))
	r.image.Resize(fyne.NewSize(float32(area.W), float32(area.H)))
	r.view.origin = area.Min()
	if area.W > 0 {
		r.view.rend.Resize(vector.Size{W: area.W, H: area.H})
	}
	r.placeBoxes()
}

func (r *overlayRenderer) placeBoxes() {
	o := r.view.origin
	for i := range r.rects {
		if i >= len(r.view.boxes) {
			r.rects[i].Hide()
			r.labels[i].Hide()
			continue
		}
		b := r.view.boxes[i]
		r.rects[i].Move(fyne.NewPos(float32(o.X+b.Rect.X), float32(o.Y+b.Rect.Y)))
		r.rects[i].Resize(fyne.NewSize(float32(b.Rect.W), float32(b.Rect.H)))
		r.labels[i].Text = label(b.Number, b.Value, r.view.opts.ShowAnswers)
		r.labels[i].Move(fyne.NewPos(float32(o.X+b.Rect.X)+3, float32(o.Y+b.Rect.Y)+1))
		r.rects[i].Show()
		r.labels[i].Show()
	}
}

func (r *overlayRenderer) MinSize() fyne.Size { return fyne.NewSize(200, 150) }

func (r *overlayRenderer) Refresh() {
	r.placeBoxes()
	for _, o := range r.objects {
		canvas.Refresh(o)
	}
}

func (r *overlayRenderer) Objects() []fyne.CanvasObject { return r.objects }

func (r *overlayRenderer) Destroy() {}
