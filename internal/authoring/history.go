/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package authoring

import (
	"context"
	"time"

	"ieltsauthor/internal/storage"
)

// keepSnapshots bounds the per-group commit history in the index.
const keepSnapshots = 20

// ModuleHistory stores commit snapshots in the module's sqlite index.
type ModuleHistory struct {
	H *storage.ModuleHandle
}

func (m ModuleHistory) Record(ctx context.Context, groupID string, blob []byte, ts time.Time) error {
	if err := storage.SaveSnapshot(ctx, m.H, groupID, blob, ts); err != nil {
		return err
	}
	_, err := storage.PruneOldSnapshots(ctx, m.H, groupID, keepSnapshots)
	return err
}
