/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"strconv"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/vector"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PNGOptions controls RenderPNG. Zero colors select defaults.
type PNGOptions struct {
	BoxColor   color.RGBA
	LabelColor color.RGBA
	// ShowAnswers prints each box's correct answer inside it.
	ShowAnswers bool
}

// RenderPNG scales src to displayed, draws the overlay boxes of questions on
// top with their question numbers and writes the result as PNG.
func RenderPNG(w io.Writer, src image.Image, displayed vector.Size, questions []domain.Question, opt PNGOptions) error {
	sb := src.Bounds()
	natural := vector.Size{W: float64(sb.Dx()), H: float64(sb.Dy())}
	if displayed.Empty() {
		displayed = natural
	}
	s, err := ComputeScale(natural, displayed)
	if err != nil {
		return err
	}
	if opt.BoxColor == (color.RGBA{}) {
		opt.BoxColor = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	}
	if opt.LabelColor == (color.RGBA{}) {
		opt.LabelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}

	pw, ph := int(math.Round(displayed.W)), int(math.Round(displayed.H))
	img := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(img, img.Bounds(), src, sb, draw.Over, nil)

	for _, b := range Overlay(questions, s) {
		x0 := int(math.Round(b.Rect.X))
		y0 := int(math.Round(b.Rect.Y))
		x1 := int(math.Round(b.Rect.X+b.Rect.W)) - 1
		y1 := int(math.Round(b.Rect.Y+b.Rect.H)) - 1
		strokeRect(img, x0, y0, x1, y1, opt.BoxColor)
		label := strconv.Itoa(b.Number)
		lw := font.MeasureString(basicfont.Face7x13, label).Ceil() + 4
		fillRect(img, x0, y0, x0+lw-1, y0+14, opt.BoxColor)
		drawText(img, x0+2, y0+11, label, opt.LabelColor)
		if opt.ShowAnswers && b.Value != "" {
			drawText(img, x0+lw+3, y0+11, b.Value, opt.BoxColor)
		}
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

func drawText(img *image.RGBA, x, y int, s string, col color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// strokeRect draws a 1px axis-aligned rectangle border inclusive of endpoints.
func strokeRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	for x := x0; x <= x1; x++ {
		img.SetRGBA(x, y0, col)
		img.SetRGBA(x, y1, col)
	}
	for y := y0; y <= y1; y++ {
		img.SetRGBA(x0, y, col)
		img.SetRGBA(x1, y, col)
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			img.SetRGBA(x, y, col)
		}
	}
}
