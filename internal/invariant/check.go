// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package invariant holds the single assert-and-panic helper used across
// kernelfs for internal invariants that are fatal on violation (inode
// magic, deny_write <= open_count, sizeof(inode_disk) == sector_size),
// as distinct from user-facing errors, which are always returned, never
// panicked.
package invariant

import "fmt"

// Check panics with a formatted message if cond is false. Reserved for
// invariants that indicate on-disk or kernel-internal corruption, never
// for user input validation.
func Check(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("kernelfs: invariant violated: "+format, args...))
	}
}
