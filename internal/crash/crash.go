/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package crash turns an unrecovered panic into a report file and an autosave
// of the open module, so an authoring session is not lost.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/storage"
	"ieltsauthor/internal/telemetry"
	"ieltsauthor/internal/version"
)

// exitFn is swapped in tests.
var exitFn = os.Exit

// Recover handles a panic in the calling goroutine: it logs the stack, writes
// a report (under the module's backups folder when h is set, the temp dir
// otherwise), autosaves the in-memory module and exits with code 2.
//
// Usage: defer crash.Recover(h)
func Recover(h *storage.ModuleHandle) {
	r := recover()
	if r == nil {
		return
	}
	handle(h, r, debug.Stack())
}

func handle(h *storage.ModuleHandle, r any, stack []byte) {
	l := applog.WithComponent("crash")
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	reportPath, err := writeReport(h, r, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if h != nil {
		if path, err := storage.AutosaveCrashSnapshot(h); err != nil {
			l.Error("autosave crash snapshot failed", slog.Any("err", err))
		} else {
			l.Info("autosave crash snapshot written", slog.String("path", path))
		}
	}
	_, _ = fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\nVersion: %s\nOS/Arch: %s/%s\n",
		reportPath, version.String(), runtime.GOOS, runtime.GOARCH)
	exitFn(2)
}

func reportDir(h *storage.ModuleHandle) string {
	if h == nil || h.Root == "" {
		return os.TempDir()
	}
	dir := filepath.Join(h.Root, storage.BackupsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.TempDir()
	}
	return dir
}

func writeReport(h *storage.ModuleHandle, panicVal any, stack []byte) (string, error) {
	path := filepath.Join(reportDir(h), fmt.Sprintf("crash-%s.log", time.Now().Format("20060102-150405")))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "IELTS Author Crash Report\n")
	fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&buf, "Version: %s\n", version.String())
	fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if h != nil {
		fmt.Fprintf(&buf, "Module: %s (%d parts)\n", h.Module.ID, len(h.Module.Parts))
		fmt.Fprintf(&buf, "Manifest: %s\n", h.ManifestPath)
	}
	fmt.Fprintf(&buf, "\nPanic: %v\n\nStack:\n%s\n", panicVal, stack)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return path, err
	}
	// module content never leaves the machine; the report only names the module id
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
