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
	"time"
)

// language=SQL
// dialect=SQLite
const insertSnapshotSQL = `INSERT INTO snapshots(group_id, ts, blob) VALUES (?, ?, ?)`

// language=SQL
// dialect=SQLite
const selectLatestSnapshotSQL = `SELECT ts, blob FROM snapshots WHERE group_id = ? ORDER BY ts DESC, id DESC LIMIT 1`

// language=SQL
// dialect=SQLite
const listSnapshotsSQL = `SELECT ts, blob FROM snapshots WHERE group_id = ? ORDER BY ts DESC, id DESC LIMIT ?`

// language=SQL
// dialect=SQLite
const pruneOldSnapshotsSQL = `DELETE FROM snapshots WHERE group_id = ? AND id NOT IN (
	SELECT id FROM snapshots WHERE group_id = ? ORDER BY ts DESC, id DESC LIMIT ?
)`

// tsLayout is fixed-width so timestamps sort lexicographically in SQL.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Snapshot is one committed state of a group.
type Snapshot struct {
	TS   time.Time
	Blob []byte
}

// SaveSnapshot records a committed group blob with a timestamp.
func SaveSnapshot(ctx context.Context, mh *ModuleHandle, groupID string, blob []byte, ts time.Time) error {
	if mh == nil {
		return errors.New("nil ModuleHandle")
	}
	if groupID == "" {
		return errors.New("group id is required")
	}
	db, err := InitOrOpenIndex(mh.Root)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(ctx, insertSnapshotSQL, groupID, ts.UTC().Format(tsLayout), blob)
	return err
}

// GetLatestSnapshot returns the latest blob for a group or nil if none.
func GetLatestSnapshot(ctx context.Context, mh *ModuleHandle, groupID string) ([]byte, time.Time, error) {
	if mh == nil {
		return nil, time.Time{}, errors.New("nil ModuleHandle")
	}
	db, err := InitOrOpenIndex(mh.Root)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer func() { _ = db.Close() }()
	var tsStr string
	var blob []byte
	err = db.QueryRowContext(ctx, selectLatestSnapshotSQL, groupID).Scan(&tsStr, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	ts, err := time.Parse(tsLayout, tsStr)
	if err != nil {
		return blob, time.Time{}, nil
	}
	return blob, ts, nil
}

// ListSnapshots returns up to limit most recent snapshots for a group, newest first.
func ListSnapshots(ctx context.Context, mh *ModuleHandle, groupID string, limit int) ([]Snapshot, error) {
	if mh == nil {
		return nil, errors.New("nil ModuleHandle")
	}
	if limit <= 0 {
		limit = 50
	}
	db, err := InitOrOpenIndex(mh.Root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	rows, err := db.QueryContext(ctx, listSnapshotsSQL, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Snapshot
	for rows.Next() {
		var tsStr string
		var blob []byte
		if err := rows.Scan(&tsStr, &blob); err != nil {
			return nil, err
		}
		ts, _ := time.Parse(tsLayout, tsStr)
		out = append(out, Snapshot{TS: ts, Blob: blob})
	}
	return out, rows.Err()
}

// PruneOldSnapshots keeps at most keepLast snapshots for the group and deletes older ones.
func PruneOldSnapshots(ctx context.Context, mh *ModuleHandle, groupID string, keepLast int) (int64, error) {
	if mh == nil {
		return 0, errors.New("nil ModuleHandle")
	}
	if keepLast <= 0 {
		return 0, nil
	}
	db, err := InitOrOpenIndex(mh.Root)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()
	res, err := db.ExecContext(ctx, pruneOldSnapshotsSQL, groupID, groupID, keepLast)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
