/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ieltsauthor/internal/domain"
	applog "ieltsauthor/internal/log"
	"ieltsauthor/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// IndexDirName stores all per-module ephemeral/index data under the module root.
	IndexDirName  = ".ielts"
	IndexFileName = "index.sqlite"

	// schemaVersion tracks the local SQLite schema for the embedded index.
	// Bump this when you perform breaking schema changes and add migrations.
	schemaVersion = 2
)

// IndexPath returns the full path to the module's embedded index database file.
func IndexPath(moduleRoot string) string {
	return filepath.Join(moduleRoot, IndexDirName, IndexFileName)
}

// InitOrOpenIndex ensures that the per-module SQLite index exists at .ielts/index.sqlite,
// opens the database, enables WAL mode, and ensures the meta/version tables exist.
// The returned *sql.DB is ready for use. Callers may close it when no longer needed.
func InitOrOpenIndex(moduleRoot string) (*sql.DB, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_init").With(
		slog.String("root", moduleRoot),
	)
	if strings.TrimSpace(moduleRoot) == "" {
		return nil, errors.New("module root is required")
	}
	if err := os.MkdirAll(filepath.Join(moduleRoot, IndexDirName), 0o755); err != nil {
		l.Error("create index dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create %s dir: %w", IndexDirName, err)
	}

	path := IndexPath(moduleRoot)
	// Forward slashes for the SQLite URI.
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure index schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}

	l.Debug("index ready", slog.String("path", path))
	return db, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// keep the stored schema so runMigrations can see it
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		// written by a newer build; never downgrade
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		switch next {
		case 2:
			// v2: group lookups and per-group history got their own indexes
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin migration %d: %w", next, err)
			}
			stmts := []string{
				`CREATE INDEX IF NOT EXISTS idx_questions_group ON questions(group_id, number);`,
				`CREATE INDEX IF NOT EXISTS idx_snapshots_group_ts ON snapshots(group_id, ts);`,
			}
			for _, q := range stmts {
				if _, err := tx.ExecContext(ctx, q); err != nil {
					_ = tx.Rollback()
					return fmt.Errorf("migration %d stmt failed: %w", next, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d update version: %w", next, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("migration %d commit: %w", next, err)
			}
			_, _ = db.ExecContext(ctx, `INSERT INTO fts_questions(fts_questions) VALUES('optimize')`)
		}
		cur = next
	}
	return nil
}

// ensureIndexSchema creates core index tables and FTS structures if they do not exist.
func ensureIndexSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		// One row per generated question; text aggregates prompt, answers and cell text.
		`CREATE TABLE IF NOT EXISTS questions (
			q_id     INTEGER PRIMARY KEY,
			part     INTEGER NOT NULL,
			number   INTEGER NOT NULL,
			type     TEXT    NOT NULL,
			group_id TEXT,
			blank_id INTEGER,
			answer   TEXT,
			text     TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_questions_part ON questions(part, number);`,
		`CREATE INDEX IF NOT EXISTS idx_questions_group ON questions(group_id, number);`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_questions USING fts5(
			text,
			content='',
			tokenize = 'unicode61'
		);`,

		// Uploaded media referenced by questions and parts.
		`CREATE TABLE IF NOT EXISTS assets (
			url  TEXT    NOT NULL,
			kind TEXT    NOT NULL,
			part INTEGER NOT NULL,
			q_id INTEGER,
			PRIMARY KEY(url, part, q_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_url ON assets(url);`,

		// Commit history per group.
		`CREATE TABLE IF NOT EXISTS snapshots (
			id       INTEGER PRIMARY KEY,
			group_id TEXT NOT NULL,
			ts       TEXT NOT NULL,
			blob     BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_group_ts ON snapshots(group_id, ts);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure index schema: %w", err)
		}
	}
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS questions_ai AFTER INSERT ON questions BEGIN
			INSERT INTO fts_questions(rowid, text) VALUES (new.q_id, new.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS questions_ad AFTER DELETE ON questions BEGIN
			INSERT INTO fts_questions(fts_questions, rowid, text) VALUES ('delete', old.q_id, old.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS questions_au AFTER UPDATE OF text ON questions BEGIN
			INSERT INTO fts_questions(fts_questions, rowid, text) VALUES ('delete', old.q_id, old.text);
			INSERT INTO fts_questions(rowid, text) VALUES (new.q_id, new.text);
		END;`,
	}
	for _, q := range triggers {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure fts triggers: %w", err)
		}
	}
	return nil
}

// DetectAndRebuildIndex checks for corruption or missing schema and rebuilds the index if needed.
// It returns true when a rebuild was performed.
func DetectAndRebuildIndex(ctx context.Context, moduleRoot string, m domain.TestModule) (bool, error) {
	path := IndexPath(moduleRoot)
	db, err := InitOrOpenIndex(moduleRoot)
	if err != nil {
		backupIndexFile(path)
		_ = os.Remove(path)
		if rbErr := RebuildIndex(ctx, moduleRoot, m); rbErr != nil {
			return false, fmt.Errorf("rebuild after open failure: %w (open err: %v)", rbErr, err)
		}
		return true, nil
	}
	defer db.Close()
	needs := false
	var chk string
	if err := db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk); err != nil || !strings.Contains(strings.ToLower(chk), "ok") {
		needs = true
	}
	if !needs {
		if _, err := db.ExecContext(ctx, `SELECT 1 FROM questions LIMIT 1;`); err != nil {
			needs = true
		}
	}
	if !needs {
		return false, nil
	}
	_ = db.Close()
	backupIndexFile(path)
	_ = os.Remove(path)
	if err := RebuildIndex(ctx, moduleRoot, m); err != nil {
		return false, err
	}
	return true, nil
}

// backupIndexFile copies the current index file into a timestamped backup in .ielts/backups.
func backupIndexFile(indexPath string) {
	bdir := filepath.Join(filepath.Dir(indexPath), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(indexPath), stamp))
	if data, err := os.ReadFile(indexPath); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}

// BuildIndexIfEmpty populates the question table from the manifest when it has no rows yet.
func BuildIndexIfEmpty(ctx context.Context, moduleRoot string, m domain.TestModule) error {
	db, err := InitOrOpenIndex(moduleRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	var cnt int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM questions;").Scan(&cnt); err != nil {
		return fmt.Errorf("check questions count: %w", err)
	}
	if cnt > 0 {
		return nil
	}
	return rebuildQuestions(ctx, db, m)
}

// UpdateIndex replaces the question rows from the given manifest.
func UpdateIndex(ctx context.Context, moduleRoot string, m domain.TestModule) error {
	db, err := InitOrOpenIndex(moduleRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	return rebuildQuestions(ctx, db, m)
}

// RebuildIndex drops and recreates the derived tables and repopulates them from the manifest.
// Snapshots are history and survive a rebuild.
func RebuildIndex(ctx context.Context, moduleRoot string, m domain.TestModule) error {
	db, err := InitOrOpenIndex(moduleRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	drops := []string{
		"DROP TABLE IF EXISTS assets;",
		"DROP TRIGGER IF EXISTS questions_ai;",
		"DROP TRIGGER IF EXISTS questions_ad;",
		"DROP TRIGGER IF EXISTS questions_au;",
		"DROP TABLE IF EXISTS questions;",
		"DROP TABLE IF EXISTS fts_questions;",
	}
	for _, q := range drops {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("drop commit: %w", err)
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		return err
	}
	return rebuildQuestions(ctx, db, m)
}

// QuestionText aggregates everything a search should hit for one question.
func QuestionText(q domain.Question) string {
	parts := make([]string, 0, 8)
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	add(q.Prompt)
	add(q.CorrectAnswer)
	if q.Field != nil {
		add(q.Field.Value)
	}
	if ts := q.TableStructure; ts != nil {
		add(ts.Title)
		for _, c := range ts.Columns {
			add(c.Label)
		}
		for _, r := range ts.Rows {
			for _, run := range r.Cells {
				for _, c := range run {
					if !c.IsBlank() {
						add(c.Text)
					}
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// rebuildQuestions replaces the questions and assets tables from the given module.
func rebuildQuestions(ctx context.Context, db *sql.DB, m domain.TestModule) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, q := range []string{"DELETE FROM questions;", "DELETE FROM assets;"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear index: %w", err)
		}
	}
	insQ, err := tx.PrepareContext(ctx, "INSERT INTO questions(part, number, type, group_id, blank_id, answer, text) VALUES(?,?,?,?,?,?,?);")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insQ.Close()
	insA, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO assets(url, kind, part, q_id) VALUES(?,?,?,?);")
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare asset insert: %w", err)
	}
	defer insA.Close()
	for _, p := range m.Parts {
		if p.AudioURL != "" {
			if _, err := insA.ExecContext(ctx, p.AudioURL, "audio", p.Number, nil); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("insert asset: %w", err)
			}
		}
		for _, q := range p.Questions {
			var group sql.NullString
			if q.GroupID != "" {
				group = sql.NullString{String: q.GroupID, Valid: true}
			}
			var blank sql.NullInt64
			if q.BlankID > 0 {
				blank = sql.NullInt64{Int64: int64(q.BlankID), Valid: true}
			}
			res, err := insQ.ExecContext(ctx, p.Number, q.Number, string(q.Type), group, blank, q.CorrectAnswer, QuestionText(q))
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("insert question: %w", err)
			}
			if q.ImageURL == "" {
				continue
			}
			id, err := res.LastInsertId()
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("question id: %w", err)
			}
			if _, err := insA.ExecContext(ctx, q.ImageURL, "image", p.Number, id); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("insert asset: %w", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
