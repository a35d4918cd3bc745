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
	"sync"

	"ieltsauthor/internal/vector"
)

// PointerSource delivers pointer events for one gesture. Subscribe installs
// the move/end pair and returns the function that removes them.
type PointerSource interface {
	Subscribe(move func(vector.Pt), end func()) (unsubscribe func())
}

// DragState is the gesture state of an editor.
type DragState int

const (
	Idle DragState = iota
	Dragging
)

func (s DragState) String() string {
	if s == Dragging {
		return "dragging"
	}
	return "idle"
}

// DragSession is one move gesture on one field. It remembers where the
// pointer and the field started and owns the single cleanup that detaches
// its listeners.
type DragSession struct {
	ed        *Editor
	fieldID   string
	pointer0  vector.Pt
	field0    vector.Pt
	state     DragState
	cleanOnce sync.Once
	cleanup   func()
}

// FieldID returns the id of the dragged field.
func (d *DragSession) FieldID() string { return d.fieldID }

// State returns Dragging until the gesture has ended or been aborted.
func (d *DragSession) State() DragState { return d.state }

// Move repositions the field from the cumulative pointer delta since the start.
func (d *DragSession) Move(p vector.Pt) {
	if d.state != Dragging {
		return
	}
	d.ed.dragTo(d.fieldID, vector.Pt{X: d.field0.X + p.X - d.pointer0.X, Y: d.field0.Y + p.Y - d.pointer0.Y})
}

// End finishes the gesture and records the final position for undo.
func (d *DragSession) End() {
	if d.state != Dragging {
		return
	}
	d.finish()
	d.ed.checkpoint()
}

// Abort finishes the gesture and puts the field back where it started.
func (d *DragSession) Abort() {
	if d.state != Dragging {
		return
	}
	d.finish()
	d.ed.dragTo(d.fieldID, d.field0)
}

// finish leaves the Dragging state and runs the cleanup. Every exit path goes
// through here; the sync.Once keeps a late end event from a source that
// fires after unsubscribe from detaching twice.
func (d *DragSession) finish() {
	d.state = Idle
	d.cleanOnce.Do(func() {
		if d.cleanup != nil {
			d.cleanup()
		}
	})
	if d.ed.drag == d {
		d.ed.drag = nil
	}
}
