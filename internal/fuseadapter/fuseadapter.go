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

// Package fuseadapter bridges an internal/kfs.FileSystem onto
// jacobsa/fuse, so the simulated disk can be mounted and driven with
// ordinary POSIX tools.
package fuseadapter

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"kernelfs/internal/kfs"
)

// Options configures the ownership and permission bits reported for
// every inode, since the on-disk format carries none of its own.
type Options struct {
	Uid, Gid          uint32
	FilePerm, DirPerm os.FileMode
}

// DefaultOptions returns permissions usable for a single-user mount.
func DefaultOptions() Options {
	return Options{
		Uid:      uint32(os.Getuid()),
		Gid:      uint32(os.Getgid()),
		FilePerm: 0644,
		DirPerm:  0755,
	}
}

// lookupRef is the pinned kfs.Handle backing one outstanding kernel
// lookup count, keyed by inode ID. It stands in for the open-count
// reference a FUSE LookUpInode implicitly grants the kernel until a
// matching ForgetInode arrives.
type lookupRef struct {
	path  string
	h     *kfs.Handle
	count uint64
}

// fileSystem implements fuseutil.FileSystemServer by delegating every
// op to a kfs.Session, translating between fuseops's inode/handle IDs
// and kfs's path-based API.
type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	sess *kfs.Session
	opts Options
	log  *slog.Logger

	mu          sync.Mutex
	lookups     map[fuseops.InodeID]*lookupRef
	dirHandles  map[fuseops.HandleID]*dirHandle
	fileHandles map[fuseops.HandleID]*fileHandle
	nextHandle  fuseops.HandleID
}

// New wraps fs as a fuseutil.FileSystemServer ready for fuse.Mount.
func New(fs *kfs.FileSystem, opts Options, log *slog.Logger) (fuseutil.FileSystemServer, error) {
	if log == nil {
		log = slog.Default()
	}
	sess, err := kfs.NewSession(fs)
	if err != nil {
		return nil, fmt.Errorf("fuseadapter: open session: %w", err)
	}

	root, err := sess.Open("/")
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("fuseadapter: open root: %w", err)
	}

	adapter := &fileSystem{
		sess:        sess,
		opts:        opts,
		log:         log,
		lookups:     make(map[fuseops.InodeID]*lookupRef),
		dirHandles:  make(map[fuseops.HandleID]*dirHandle),
		fileHandles: make(map[fuseops.HandleID]*fileHandle),
	}
	rootID := fuseops.InodeID(root.Inumber())
	adapter.lookups[rootID] = &lookupRef{path: "/", h: root, count: 1}
	if rootID != fuseops.RootInodeID {
		log.Warn("fuseadapter: root sector does not match fuseops.RootInodeID",
			"sector", rootID, "want", fuseops.RootInodeID)
	}
	return adapter, nil
}

// childPath joins a directory's absolute path with a child name.
func childPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func (fs *fileSystem) pathOf(id fuseops.InodeID) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ref, ok := fs.lookups[id]
	if !ok {
		return "", false
	}
	return ref.path, true
}

func (fs *fileSystem) refFor(id fuseops.InodeID) (*lookupRef, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	ref, ok := fs.lookups[id]
	return ref, ok
}

// pin records a new lookup count reference for h at path, or merges an
// additional reference into an existing one for the same inode.
func (fs *fileSystem) pin(path string, h *kfs.Handle) fuseops.InodeID {
	id := fuseops.InodeID(h.Inumber())

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if ref, ok := fs.lookups[id]; ok {
		ref.count++
		fs.sess.CloseHandle(h)
		return id
	}
	fs.lookups[id] = &lookupRef{path: path, h: h, count: 1}
	return id
}

func attributesFor(h *kfs.Handle, sess *kfs.Session, opts Options) fuseops.InodeAttributes {
	now := time.Now()
	mode := opts.FilePerm
	switch {
	case h.Isdir():
		mode = os.ModeDir | opts.DirPerm
	case h.Islink():
		mode = os.ModeSymlink | os.ModePerm
	}
	size := uint64(0)
	if !h.Isdir() {
		size = uint64(sess.Filesize(h))
	}
	return fuseops.InodeAttributes{
		Size:  size,
		Nlink: 1,
		Mode:  mode,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Uid:   opts.Uid,
		Gid:   opts.Gid,
	}
}

// translateErr maps kfs's closed error set onto fuse errno values.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kfs.ErrNoSuchPath):
		return fuse.ENOENT
	case errors.Is(err, kfs.ErrNotADirectory):
		return fuse.ENOTDIR
	case errors.Is(err, kfs.ErrNameExists):
		return fuse.EEXIST
	case errors.Is(err, kfs.ErrDirectoryNotEmpty):
		return fuse.ENOTEMPTY
	case errors.Is(err, kfs.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, kfs.ErrInvalidHandle), errors.Is(err, kfs.ErrReadOnly),
		errors.Is(err, kfs.ErrOutOfSpace), errors.Is(err, kfs.ErrDirectoryBusy):
		return fuse.EIO
	default:
		return err
	}
}

////////////////////////////////////////////////////////////////////////
// fuseutil.FileSystemServer
////////////////////////////////////////////////////////////////////////

func (fs *fileSystem) Init(op *fuseops.InitOp) error {
	return nil
}

func (fs *fileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	path := childPath(parentPath, op.Name)

	h, err := fs.sess.Open(path)
	if err != nil {
		return translateErr(err)
	}

	id := fs.pin(path, h)
	ref, _ := fs.refFor(id)
	op.Entry.Child = id
	op.Entry.Attributes = attributesFor(ref.h, fs.sess, fs.opts)
	return nil
}

func (fs *fileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	ref, ok := fs.refFor(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	op.Attributes = attributesFor(ref.h, fs.sess, fs.opts)
	return nil
}

func (fs *fileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	ref, ok := fs.refFor(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	// kernelfs carries no truncate or permission-change primitive; report
	// the current attributes and refuse anything that would require one.
	if op.Size != nil || op.Mode != nil {
		return fuse.ENOSYS
	}
	op.Attributes = attributesFor(ref.h, fs.sess, fs.opts)
	return nil
}

func (fs *fileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	ref, ok := fs.lookups[op.Inode]
	if !ok {
		fs.mu.Unlock()
		return nil
	}
	if uint64(op.N) >= ref.count {
		delete(fs.lookups, op.Inode)
	} else {
		ref.count -= uint64(op.N)
		fs.mu.Unlock()
		return nil
	}
	fs.mu.Unlock()

	return fs.sess.CloseHandle(ref.h)
}
