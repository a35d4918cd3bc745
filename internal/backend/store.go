/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ieltsauthor/internal/domain"
	"ieltsauthor/internal/storage"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrNotFound is returned for unknown modules or parts.
var ErrNotFound = errors.New("not found")

// ModuleInfo is the listing projection of a stored module.
type ModuleInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Kind      string    `json:"kind,omitempty"`
	Parts     int       `json:"parts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repo is what the HTTP handlers need from persistence.
type Repo interface {
	Ping(ctx context.Context) error
	ListModules(ctx context.Context) ([]ModuleInfo, error)
	GetPart(ctx context.Context, moduleID string, number int) (domain.Part, int64, error)
	PutPart(ctx context.Context, moduleID string, p domain.Part) (int64, error)
	Search(ctx context.Context, moduleID string, q storage.SearchQuery) ([]storage.SearchResult, error)
}

// PGStore keeps parts as JSONB and mirrors their questions into a searchable table.
type PGStore struct {
	db *sql.DB
}

// OpenPG opens the database through the pgx stdlib driver and applies migrations.
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PGStore{db: db}, nil
}

// Close releases the pool.
func (s *PGStore) Close() error { return s.db.Close() }

func (s *PGStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PGStore) ListModules(ctx context.Context) ([]ModuleInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT m.id, m.title, m.kind, COUNT(p.number), m.updated_at
		FROM modules m LEFT JOIN parts p ON p.module_id = m.id
		GROUP BY m.id ORDER BY m.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []ModuleInfo
	for rows.Next() {
		var m ModuleInfo
		if err := rows.Scan(&m.ID, &m.Title, &m.Kind, &m.Parts, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PGStore) GetPart(ctx context.Context, moduleID string, number int) (domain.Part, int64, error) {
	var (
		payload []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, version FROM parts WHERE module_id = $1 AND number = $2`, moduleID, number).Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Part{}, 0, fmt.Errorf("%w: part %d of %s", ErrNotFound, number, moduleID)
	}
	if err != nil {
		return domain.Part{}, 0, fmt.Errorf("select part: %w", err)
	}
	var p domain.Part
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.Part{}, 0, fmt.Errorf("decode part payload: %w", err)
	}
	return p, version, nil
}

// PutPart upserts the part payload and rewrites its question rows in one transaction.
// It returns the new row version.
func (s *PGStore) PutPart(ctx context.Context, moduleID string, p domain.Part) (int64, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encode part: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO modules(id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET updated_at = now()`, moduleID); err != nil {
		return 0, fmt.Errorf("upsert module: %w", err)
	}
	var version int64
	if err := tx.QueryRowContext(ctx, `INSERT INTO parts(module_id, number, payload) VALUES ($1, $2, $3)
		ON CONFLICT (module_id, number) DO UPDATE
		SET payload = EXCLUDED.payload, version = parts.version + 1, updated_at = now()
		RETURNING version`, moduleID, p.Number, string(payload)).Scan(&version); err != nil {
		return 0, fmt.Errorf("upsert part: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE module_id = $1 AND part = $2`, moduleID, p.Number); err != nil {
		return 0, fmt.Errorf("clear questions: %w", err)
	}
	for _, q := range p.Questions {
		var group, blank any
		if q.GroupID != "" {
			group = q.GroupID
		}
		if q.BlankID > 0 {
			blank = q.BlankID
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO questions(module_id, part, number, type, group_id, blank_id, answer, text)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			moduleID, p.Number, q.Number, string(q.Type), group, blank, q.CorrectAnswer, storage.QuestionText(q)); err != nil {
			return 0, fmt.Errorf("insert question %d: %w", q.Number, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return version, nil
}

// Search mirrors storage.Search over the Postgres question table using tsvector matching.
func (s *PGStore) Search(ctx context.Context, moduleID string, q storage.SearchQuery) ([]storage.SearchResult, error) {
	var (
		args []any
		b    strings.Builder
	)
	place := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	cols := "q.id, q.part, q.number, q.type, COALESCE(q.group_id,''), COALESCE(q.blank_id,0), COALESCE(q.answer,'')"
	if strings.TrimSpace(q.Text) != "" {
		text := place(q.Text)
		b.WriteString("SELECT " + cols + ", ")
		b.WriteString("COALESCE(ts_headline('simple', COALESCE(q.text,''), plainto_tsquery('simple', " + text + "), 'StartSel=[, StopSel=], MaxFragments=1, MaxWords=12'), '') ")
		b.WriteString("FROM questions q WHERE q.search_vector @@ plainto_tsquery('simple', " + text + ") ")
		b.WriteString("AND q.module_id = " + place(moduleID) + " ")
	} else {
		b.WriteString("SELECT " + cols + ", '' FROM questions q WHERE q.module_id = " + place(moduleID) + " ")
	}
	if len(q.Types) > 0 {
		b.WriteString(" AND q.type = ANY (" + place(q.Types) + ") ")
	}
	if g := strings.TrimSpace(q.GroupID); g != "" {
		b.WriteString(" AND q.group_id = " + place(g) + " ")
	}
	switch {
	case q.PartFrom > 0 && q.PartTo > 0 && q.PartTo >= q.PartFrom:
		b.WriteString(" AND q.part BETWEEN " + place(q.PartFrom) + " AND " + place(q.PartTo) + " ")
	case q.PartFrom > 0:
		b.WriteString(" AND q.part >= " + place(q.PartFrom) + " ")
	case q.PartTo > 0:
		b.WriteString(" AND q.part <= " + place(q.PartTo) + " ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	b.WriteString(" ORDER BY q.part, q.number LIMIT " + place(limit) + " OFFSET " + place(offset))

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search pg query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []storage.SearchResult
	for rows.Next() {
		var r storage.SearchResult
		if err := rows.Scan(&r.QID, &r.Part, &r.Number, &r.Type, &r.GroupID, &r.BlankID, &r.Answer, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
