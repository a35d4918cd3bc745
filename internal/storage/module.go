/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ieltsauthor/internal/domain"
	applog "ieltsauthor/internal/log"
	"log/slog"
)

const (
	ManifestFileName = "module.json"
	BackupsDirName   = "backups"
)

// Standard subfolders of a module directory.
var standardSubDirs = []string{
	"assets",
	"exports",
	BackupsDirName,
}

// ModuleHandle keeps track of the module state loaded/saved from disk.
// Root is the module directory containing module.json and subfolders.
// Module holds the in-memory representation of the manifest.
type ModuleHandle struct {
	Root         string
	ManifestPath string
	Module       domain.TestModule

	mu sync.Mutex
}

// InitModule creates a new module directory at root (creating it if it doesn't exist),
// scaffolds the standard subfolders, and writes the given manifest file transactionally.
func InitModule(root string, m domain.TestModule) (*ModuleHandle, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create module root: %w", err)
	}
	for _, d := range standardSubDirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create subdir %s: %w", d, err)
		}
	}
	if m.Parts == nil {
		m.Parts = []domain.Part{}
	}
	mh := &ModuleHandle{
		Root:         root,
		ManifestPath: filepath.Join(root, ManifestFileName),
		Module:       m,
	}
	if err := Save(mh); err != nil {
		return nil, err
	}
	// The index is derived data; a failure here must not fail module creation.
	if err := BuildIndexIfEmpty(context.Background(), root, mh.Module); err != nil {
		applog.WithComponent("storage").Warn("initial index build failed", slog.String("root", root), slog.Any("err", err))
	}
	return mh, nil
}

// Open loads an existing module from the given root directory.
// If the current manifest cannot be read or parsed, it will attempt the last backup.
func Open(root string) (*ModuleHandle, error) {
	mpath := filepath.Join(root, ManifestFileName)
	b, err := os.ReadFile(mpath)
	if err != nil {
		m, berr := openFromLatestBackup(root)
		if berr != nil {
			return nil, fmt.Errorf("open manifest: %w; backup attempt: %v", err, berr)
		}
		return &ModuleHandle{Root: root, ManifestPath: mpath, Module: *m}, nil
	}
	var m domain.TestModule
	if uerr := json.Unmarshal(b, &m); uerr != nil {
		bm, berr := openFromLatestBackup(root)
		if berr != nil {
			return nil, fmt.Errorf("parse manifest: %w; backup attempt: %v", uerr, berr)
		}
		return &ModuleHandle{Root: root, ManifestPath: mpath, Module: *bm}, nil
	}
	if verr := ValidateManifest(b); verr != nil {
		// Loading stays lenient; reassembly reports what it has to drop.
		applog.WithComponent("storage").Warn("manifest violates schema", slog.String("root", root), slog.Any("err", verr))
	}
	return &ModuleHandle{Root: root, ManifestPath: mpath, Module: m}, nil
}

// Save writes the current ModuleHandle.Module to disk with transactional semantics
// and a timestamped backup of the previous manifest (if present). The manifest
// must conform to the module schema; nothing is written otherwise.
func Save(mh *ModuleHandle) error {
	if mh == nil {
		return errors.New("nil ModuleHandle")
	}
	mh.mu.Lock()
	defer mh.mu.Unlock()
	return saveLocked(mh)
}

func saveLocked(mh *ModuleHandle) error {
	if mh.Root == "" || mh.ManifestPath == "" {
		return errors.New("invalid ModuleHandle: missing paths")
	}
	data, err := json.MarshalIndent(mh.Module, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := ValidateManifest(data); err != nil {
		return err
	}

	bdir := filepath.Join(mh.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	if _, statErr := os.Stat(mh.ManifestPath); statErr == nil {
		stamp := time.Now().Format("20060102-150405.000")
		bname := fmt.Sprintf("%s.%s.bak", ManifestFileName, stamp)
		if cerr := copyFile(mh.ManifestPath, filepath.Join(bdir, bname)); cerr != nil {
			return fmt.Errorf("backup current manifest: %w", cerr)
		}
	}

	// Transactional write: to temp file in same directory, then rename over target
	dir := filepath.Dir(mh.ManifestPath)
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", ManifestFileName, os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		return fmt.Errorf("write temp manifest: %w", werr)
	}
	// On Windows, replace by removing destination first if needed
	if _, err := os.Stat(mh.ManifestPath); err == nil {
		_ = os.Remove(mh.ManifestPath)
	}
	if rerr := os.Rename(temp, mh.ManifestPath); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace manifest: %w", rerr)
	}
	return nil
}

// SaveAs writes the manifest to a new root folder, scaffolding structure if needed, and updates the handle.
func SaveAs(mh *ModuleHandle, newRoot string) error {
	if mh == nil {
		return errors.New("nil ModuleHandle")
	}
	if newRoot == "" {
		return errors.New("new root is empty")
	}
	if err := os.MkdirAll(newRoot, 0o755); err != nil {
		return fmt.Errorf("create new root: %w", err)
	}
	for _, d := range standardSubDirs {
		if err := os.MkdirAll(filepath.Join(newRoot, d), 0o755); err != nil {
			return fmt.Errorf("create subdir %s: %w", d, err)
		}
	}
	mh.mu.Lock()
	defer mh.mu.Unlock()
	mh.Root = newRoot
	mh.ManifestPath = filepath.Join(newRoot, ManifestFileName)
	return saveLocked(mh)
}

// AutosaveCrashSnapshot writes the in-memory module next to the backups without
// schema validation, so a half-edited module survives a crash. It returns the path.
func AutosaveCrashSnapshot(mh *ModuleHandle) (string, error) {
	if mh == nil {
		return "", errors.New("nil ModuleHandle")
	}
	data, err := json.MarshalIndent(mh.Module, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash snapshot: %w", err)
	}
	bdir := filepath.Join(mh.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backups dir: %w", err)
	}
	path := filepath.Join(bdir, fmt.Sprintf("%s.crash-%s.json", ManifestFileName, time.Now().Format("20060102-150405")))
	if err := writeFileSync(path, data); err != nil {
		return "", fmt.Errorf("write crash snapshot: %w", err)
	}
	return path, nil
}

// writeFileSync writes data to a file, ensures it is flushed to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

// openFromLatestBackup tries to open the latest timestamped backup.
func openFromLatestBackup(root string) (*domain.TestModule, error) {
	bdir := filepath.Join(root, BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	var candidates []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, ManifestFileName+".") && strings.HasSuffix(name, ".bak") {
			candidates = append(candidates, filepath.Join(bdir, name))
		}
	}
	if len(candidates) == 0 {
		return nil, errors.New("no backups found")
	}
	sort.Strings(candidates) // timestamp in name yields lexicographic order
	latest := candidates[len(candidates)-1]
	b, err := os.ReadFile(latest)
	if err != nil {
		return nil, fmt.Errorf("read latest backup: %w", err)
	}
	var m domain.TestModule
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse latest backup: %w", err)
	}
	return &m, nil
}
