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
	"fmt"

	"kernelfs/internal/directory"
	"kernelfs/internal/inode"
	"kernelfs/internal/pathresolve"
)

const dirEntryCount = 8

// Session is one process's view of the file system: its current working
// directory. Open handles are not tracked here; the fd table itself is the external syscall dispatcher's
// concern (out of scope); Session only tracks the cwd
// reference, which the file system itself must account for in
// open_count.
type Session struct {
	fs  *FileSystem
	cwd *inode.Inode
}

// NewSession opens a session rooted at the file system's root directory.
func NewSession(fs *FileSystem) (*Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cwd, err := fs.store.Open(fs.rootSector)
	if err != nil {
		return nil, err
	}
	return &Session{fs: fs, cwd: cwd}, nil
}

// Close releases the session's cwd reference. Sessions must not be reused
// after Close.
func (s *Session) Close() error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	return s.fs.store.Close(s.cwd)
}

func (s *Session) resolve(path string, deepSearch bool) (pathresolve.Result, error) {
	return pathresolve.Resolve(s.fs, s.cwd.Sector, path, deepSearch)
}

// Create resolves path to (dir, name), allocates a new chain, and writes
// a file inode there.
func (s *Session) Create(path string, initialSize uint32) error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	res, err := s.resolve(path, false)
	if err != nil {
		return translate(err)
	}
	defer s.fs.store.Close(res.DirNode)

	sector, err := s.fs.store.CreateOnDisk(false)
	if err != nil {
		return translate(err)
	}

	if err := res.Dir.Add(res.Leaf, sector); err != nil {
		// Unwind the inode/FAT allocation on failure.
		n, openErr := s.fs.store.Open(sector)
		if openErr == nil {
			s.fs.store.Remove(n)
			s.fs.store.Close(n)
		}
		return translate(err)
	}

	if initialSize > 0 {
		n, err := s.fs.store.Open(sector)
		if err != nil {
			return translate(err)
		}
		_, err = s.fs.store.WriteAt(n, make([]byte, initialSize), 0)
		closeErr := s.fs.store.Close(n)
		if err != nil {
			return translate(err)
		}
		if closeErr != nil {
			return translate(closeErr)
		}
	}
	return nil
}

// Open resolves path, looks up the leaf, opens its inode, and returns a
// new Handle.
func (s *Session) Open(path string) (*Handle, error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	res, err := s.resolve(path, true)
	if err != nil {
		return nil, translate(err)
	}
	defer s.fs.store.Close(res.DirNode)

	n, err := res.Dir.Lookup(res.Leaf)
	if err != nil {
		return nil, translate(err)
	}
	return &Handle{node: n}, nil
}

// CloseHandle releases a handle's reference on its inode, unregistering any
// deny-write bracket it still holds.
func (s *Session) CloseHandle(h *Handle) error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	if h.denyHeld {
		s.fs.store.AllowWrite(h.node)
		h.denyHeld = false
	}
	return s.fs.store.Close(h.node)
}

// Remove resolves path and removes the leaf entry. Removing a
// non-empty directory, the cwd, or one with other openers fails.
func (s *Session) Remove(path string) error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	res, err := s.resolve(path, false)
	if err != nil {
		return translate(err)
	}
	defer s.fs.store.Close(res.DirNode)

	target, err := res.Dir.Lookup(res.Leaf)
	if err != nil {
		return translate(err)
	}
	defer s.fs.store.Close(target)

	if target.IsDir() {
		if target.Sector == s.cwd.Sector {
			return ErrDirectoryBusy
		}
		// One reference is held by this lookup itself; more than one means
		// another opener exists.
		if target.OpenCount > 1 {
			return ErrDirectoryBusy
		}
		d, err := directory.Open(s.fs.store, target)
		if err != nil {
			return err
		}
		empty, err := d.IsEmpty()
		if err != nil {
			return err
		}
		if !empty {
			return ErrDirectoryNotEmpty
		}
		return translate(res.Dir.Remove(res.Leaf))
	}

	return translate(res.Dir.Remove(res.Leaf))
}

// Mkdir resolves path, allocates a new directory inode, links it into its
// parent, and establishes its `.`/`..` entries.
func (s *Session) Mkdir(path string) error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	res, err := s.resolve(path, false)
	if err != nil {
		return translate(err)
	}
	defer s.fs.store.Close(res.DirNode)

	sector, err := s.fs.store.CreateOnDisk(true)
	if err != nil {
		return translate(err)
	}
	n, err := s.fs.store.Open(sector)
	if err != nil {
		return translate(err)
	}
	newDir, err := directory.Create(s.fs.store, n, dirEntryCount)
	if err != nil {
		s.fs.store.Remove(n)
		s.fs.store.Close(n)
		return translate(err)
	}
	if err := newDir.Add(".", sector); err != nil {
		s.fs.store.Remove(n)
		s.fs.store.Close(n)
		return translate(err)
	}
	if err := newDir.Add("..", res.DirNode.Sector); err != nil {
		s.fs.store.Remove(n)
		s.fs.store.Close(n)
		return translate(err)
	}
	if err := s.fs.store.Close(n); err != nil {
		return translate(err)
	}

	if err := res.Dir.Add(res.Leaf, sector); err != nil {
		reopened, openErr := s.fs.store.Open(sector)
		if openErr == nil {
			s.fs.store.Remove(reopened)
			s.fs.store.Close(reopened)
		}
		return translate(err)
	}
	return nil
}

// Chdir resolves path and, on success, replaces the session's cwd,
// opening the new directory's inode and closing the previous one,
// supplementing the original's cwd open-count bookkeeping.
func (s *Session) Chdir(path string) error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	res, err := s.resolve(path, true)
	if err != nil {
		return translate(err)
	}
	defer s.fs.store.Close(res.DirNode)

	target, err := res.Dir.Lookup(res.Leaf)
	if err != nil {
		return translate(err)
	}
	if !target.IsDir() {
		s.fs.store.Close(target)
		return ErrNotADirectory
	}

	old := s.cwd
	s.cwd = target
	return translate(s.fs.store.Close(old))
}

// Symlink creates a symlink inode at linkpath whose body is target.
func (s *Session) Symlink(target, linkpath string) error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	res, err := s.resolve(linkpath, false)
	if err != nil {
		return translate(err)
	}
	defer s.fs.store.Close(res.DirNode)

	sector, err := s.fs.store.CreateSymlinkOnDisk(target)
	if err != nil {
		return translate(err)
	}
	if err := res.Dir.Add(res.Leaf, sector); err != nil {
		n, openErr := s.fs.store.Open(sector)
		if openErr == nil {
			s.fs.store.Remove(n)
			s.fs.store.Close(n)
		}
		return translate(err)
	}
	return nil
}

// Readdir advances h's directory cursor, skipping `.`/`..`.
func (s *Session) Readdir(h *Handle) (name string, ok bool, err error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	if !h.node.IsDir() {
		return "", false, ErrInvalidHandle
	}
	d, err := directory.Open(s.fs.store, h.node)
	if err != nil {
		return "", false, err
	}
	for {
		n, next, found, rerr := d.Readdir(h.dirCursor)
		if rerr != nil {
			return "", false, rerr
		}
		h.dirCursor = next
		if !found {
			return "", false, nil
		}
		if n == "." || n == ".." {
			continue
		}
		return n, true, nil
	}
}

// Read reads into buf at the handle's current position, advancing it
// by the number of bytes actually read.
func (s *Session) Read(h *Handle, buf []byte) (int, error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	n, err := s.fs.store.ReadAt(h.node, buf, h.pos)
	h.pos += uint32(n)
	return n, translate(err)
}

// Write writes buf at the handle's current position, advancing it.
func (s *Session) Write(h *Handle, buf []byte) (int, error) {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()

	if h.node.IsDir() {
		return 0, ErrReadOnly
	}
	n, err := s.fs.store.WriteAt(h.node, buf, h.pos)
	h.pos += uint32(n)
	return n, translate(err)
}

// Seek/Tell manage the handle's own cursor directly; they touch no shared
// file-system state and do not take the file-system lock.
func (s *Session) Seek(h *Handle, pos uint32) { h.pos = pos }
func (s *Session) Tell(h *Handle) uint32      { return h.pos }

// Filesize returns the inode's current length, read under the
// file-system lock.
func (s *Session) Filesize(h *Handle) uint32 {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	return h.node.Disk.Length
}

// DenyWrite/AllowWrite bracket a handle's backing inode against
// concurrent writers.
func (s *Session) DenyWrite(h *Handle) error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	if h.denyHeld {
		return fmt.Errorf("kfs: deny-write already held for handle on sector %d", h.node.Sector)
	}
	s.fs.store.DenyWrite(h.node)
	h.denyHeld = true
	return nil
}

func (s *Session) AllowWrite(h *Handle) error {
	s.fs.mu.Lock()
	defer s.fs.mu.Unlock()
	if !h.denyHeld {
		return fmt.Errorf("kfs: deny-write not held for handle on sector %d", h.node.Sector)
	}
	s.fs.store.AllowWrite(h.node)
	h.denyHeld = false
	return nil
}
