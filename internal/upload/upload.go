/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package upload describes the file-upload collaborator used by the spatial
// editor (flow-chart images) and part settings (audio). The collaborator itself
// lives elsewhere; this package checks files before they leave the machine,
// talks to it over HTTP and builds the local preview used when it is unreachable.
package upload

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind selects the validation rules for a file.
type Kind int

const (
	KindImage Kind = iota + 1
	KindAudio
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Size limits per kind.
const (
	MaxImageBytes = 10 * 1024 * 1024
	MaxAudioBytes = 25 * 1024 * 1024
)

// File is a file picked by the author.
type File struct {
	Name        string
	ContentType string // optional; sniffed from Data when empty
	Data        []byte
}

// Result is the collaborator's answer for a stored file.
type Result struct {
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
}

// Collaborator stores a file and returns its durable URL.
type Collaborator interface {
	Upload(ctx context.Context, kind Kind, f File) (Result, error)
}

var (
	ErrEmptyFile    = errors.New("empty file")
	ErrTooLarge     = errors.New("file too large")
	ErrWrongType    = errors.New("unsupported content type")
	ErrUnauthorized = errors.New("upload rejected: not authorized")
)

// ContentType returns f.ContentType or, when unset, the sniffed type of its data.
func ContentType(f File) string {
	if ct := strings.TrimSpace(f.ContentType); ct != "" {
		return ct
	}
	if len(f.Data) == 0 {
		return ""
	}
	return http.DetectContentType(f.Data)
}

// Check validates a file against the rules for kind. It runs before any
// network call so an oversized pick never reaches the collaborator.
func Check(kind Kind, f File) error {
	if len(f.Data) == 0 {
		return ErrEmptyFile
	}
	limit, prefix := MaxImageBytes, "image/"
	if kind == KindAudio {
		limit, prefix = MaxAudioBytes, "audio/"
	}
	if len(f.Data) > limit {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, f.Name, len(f.Data), limit)
	}
	ct := ContentType(f)
	if !strings.HasPrefix(ct, prefix) {
		return fmt.Errorf("%w: %q for %s", ErrWrongType, ct, kind)
	}
	return nil
}

// LocalPreview encodes the file as a data: URL so the editor can keep showing
// the image while the collaborator is unavailable. Such URLs are never durable.
func LocalPreview(f File) string {
	ct := ContentType(f)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// IsLocalPreview reports whether url is an inline data: URL.
func IsLocalPreview(url string) bool {
	return strings.HasPrefix(strings.TrimSpace(url), "data:")
}
