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
	"strings"
)

// SearchQuery describes a question search.
// Text uses SQLite FTS5 syntax (simple terms, phrases in quotes, AND/OR/NOT).
// Types restricts to question types such as FLOW_CHART or TABLE_COMPLETION.
// PartFrom/To are inclusive; 0 means unset.
type SearchQuery struct {
	Text     string
	Types    []string
	GroupID  string
	PartFrom int
	PartTo   int
	Limit    int
	Offset   int
}

// SearchResult represents a single indexed question.
// Snippet is a highlighted excerpt using [ ] markers when FTS text is used.
type SearchResult struct {
	QID     int64
	Part    int
	Number  int
	Type    string
	GroupID string
	BlankID int
	Answer  string
	Snippet string
}

// Search performs full-text search with optional filters over the embedded index.
// When q.Text is empty, it falls back to a plain scan with filters applied.
func Search(ctx context.Context, moduleRoot string, q SearchQuery) ([]SearchResult, error) {
	if strings.TrimSpace(moduleRoot) == "" {
		return nil, errors.New("module root is required")
	}
	db, err := InitOrOpenIndex(moduleRoot)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return searchDB(ctx, db, q)
}

const resultColumns = "q.q_id, q.part, q.number, q.type, COALESCE(q.group_id,''), COALESCE(q.blank_id,0), COALESCE(q.answer,'')"

func searchDB(ctx context.Context, db *sql.DB, q SearchQuery) ([]SearchResult, error) {
	var args []any
	var sb strings.Builder
	if strings.TrimSpace(q.Text) != "" {
		sb.WriteString("SELECT " + resultColumns + ", snippet(fts_questions, 0, '[', ']', '…', 10)\n")
		sb.WriteString("FROM fts_questions JOIN questions q ON fts_questions.rowid = q.q_id\n")
		sb.WriteString("WHERE fts_questions MATCH ?\n")
		args = append(args, q.Text)
	} else {
		sb.WriteString("SELECT " + resultColumns + ", ''\n")
		sb.WriteString("FROM questions q\nWHERE 1=1\n")
	}
	if len(q.Types) > 0 {
		sb.WriteString(" AND q.type IN (" + placeholders(len(q.Types)) + ")\n")
		for _, t := range q.Types {
			args = append(args, t)
		}
	}
	if g := strings.TrimSpace(q.GroupID); g != "" {
		sb.WriteString(" AND q.group_id = ?\n")
		args = append(args, g)
	}
	switch {
	case q.PartFrom > 0 && q.PartTo > 0 && q.PartTo >= q.PartFrom:
		sb.WriteString(" AND q.part BETWEEN ? AND ?\n")
		args = append(args, q.PartFrom, q.PartTo)
	case q.PartFrom > 0:
		sb.WriteString(" AND q.part >= ?\n")
		args = append(args, q.PartFrom)
	case q.PartTo > 0:
		sb.WriteString(" AND q.part <= ?\n")
		args = append(args, q.PartTo)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	sb.WriteString("ORDER BY q.part, q.number\n")
	sb.WriteString("LIMIT ? OFFSET ?")
	args = append(args, limit, q.Offset)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// QuestionsByGroup returns every indexed question of a group ordered by number.
func QuestionsByGroup(ctx context.Context, moduleRoot, groupID string) ([]SearchResult, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, errors.New("group id is required")
	}
	return Search(ctx, moduleRoot, SearchQuery{GroupID: groupID, Limit: 1000})
}

// WhereUsed returns the questions that reference the given media URL.
// An empty result means the asset is no longer referenced by any question.
func WhereUsed(ctx context.Context, moduleRoot, url string) ([]SearchResult, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("url is required")
	}
	db, err := InitOrOpenIndex(moduleRoot)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.QueryContext(ctx, `SELECT `+resultColumns+`, ''
		FROM assets a
		JOIN questions q ON q.q_id = a.q_id
		WHERE a.url = ?
		ORDER BY q.part, q.number`, url)
	if err != nil {
		return nil, fmt.Errorf("where-used query: %w", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var sn sql.NullString
		if err := rows.Scan(&r.QID, &r.Part, &r.Number, &r.Type, &r.GroupID, &r.BlankID, &r.Answer, &sn); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.Snippet = sn.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := strings.Builder{}
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
	}
	return b.String()
}
