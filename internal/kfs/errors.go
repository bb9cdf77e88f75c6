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

import (
	"errors"

	"kernelfs/internal/directory"
	"kernelfs/internal/inode"
	"kernelfs/internal/pathresolve"
)

// Error kinds surfaced to callers, forming a closed, stable set.
var (
	ErrNoSuchPath        = errors.New("kfs: no such path")
	ErrNotADirectory     = errors.New("kfs: not a directory")
	ErrNameTooLong       = errors.New("kfs: name too long")
	ErrNameExists        = errors.New("kfs: name already exists")
	ErrDirectoryNotEmpty = errors.New("kfs: directory not empty")
	ErrDirectoryBusy     = errors.New("kfs: directory busy (is cwd or has other openers)")
	ErrOutOfSpace        = errors.New("kfs: out of space")
	ErrReadOnly          = errors.New("kfs: read-only")
	ErrInvalidHandle     = errors.New("kfs: invalid handle")
	ErrBrokenSymlink     = errors.New("kfs: broken symlink")
)

// translate maps lower-layer sentinel errors onto the closed kfs error
// set.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pathresolve.ErrNoSuchPath), errors.Is(err, directory.ErrNotFound):
		return ErrNoSuchPath
	case errors.Is(err, pathresolve.ErrNotADirectory):
		return ErrNotADirectory
	case errors.Is(err, pathresolve.ErrBrokenSymlink):
		return ErrBrokenSymlink
	case errors.Is(err, directory.ErrNameTooLong):
		return ErrNameTooLong
	case errors.Is(err, directory.ErrNameExists):
		return ErrNameExists
	case errors.Is(err, inode.ErrOutOfSpace):
		return ErrOutOfSpace
	case errors.Is(err, inode.ErrReadOnly):
		return ErrReadOnly
	default:
		return err
	}
}
