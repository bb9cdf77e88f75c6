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

package kfs

import "kernelfs/internal/inode"

// Handle is an open file's per-open cursor and deny-write bracket. One
// Handle owns exactly one reference on its underlying inode's
// open_count.
type Handle struct {
	node      *inode.Inode
	pos       uint32
	dirCursor int
	denyHeld  bool
}

// Inumber returns the sector number identifying the underlying inode.
func (h *Handle) Inumber() uint32 { return h.node.Sector }

// Isdir reports whether the handle refers to a directory.
func (h *Handle) Isdir() bool { return h.node.IsDir() }

// Islink reports whether the handle refers to a symlink.
func (h *Handle) Islink() bool { return h.node.IsLink() }

// LinkTarget returns the symlink's target path. Valid only when Islink().
func (h *Handle) LinkTarget() string { return h.node.Disk.LinkTarget() }
