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
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDFunc returns a new opaque field id. Each editor owns one; ids never depend
// on the clock, so fields created in the same tick stay distinct.
type IDFunc func() string

// UUIDs is the default generator.
func UUIDs() IDFunc { return uuid.NewString }

// Counter returns a monotonic generator producing prefix-1, prefix-2, ...
func Counter(prefix string) IDFunc {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("%s-%d", prefix, n.Add(1)) }
}
