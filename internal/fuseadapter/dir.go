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

package fuseadapter

import (
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"kernelfs/internal/kfs"
)

// dirHandle buffers one listing pass over an open directory. kfs's
// Readdir cursor only ever advances, so a seek back to offset zero is
// served by resetting the buffer and replaying from the handle's start;
// a seek to any other unbuffered offset is rejected, the same
// restriction readdir over a non-seekable source always carries.
type dirHandle struct {
	h             *kfs.Handle
	path          string
	entries       []fuseutil.Dirent
	entriesOffset fuseops.DirOffset
}

func (fs *fileSystem) MkDir(op *fuseops.MkDirOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	path := childPath(parentPath, op.Name)

	if err := fs.sess.Mkdir(path); err != nil {
		return translateErr(err)
	}

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

func (fs *fileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	path := childPath(parentPath, op.Name)

	if err := fs.sess.Create(path, 0); err != nil {
		return translateErr(err)
	}

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

func (fs *fileSystem) CreateSymlink(op *fuseops.CreateSymlinkOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	path := childPath(parentPath, op.Name)

	if err := fs.sess.Symlink(op.Target, path); err != nil {
		return translateErr(err)
	}

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

func (fs *fileSystem) RmDir(op *fuseops.RmDirOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	return translateErr(fs.sess.Remove(childPath(parentPath, op.Name)))
}

func (fs *fileSystem) Unlink(op *fuseops.UnlinkOp) error {
	parentPath, ok := fs.pathOf(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	return translateErr(fs.sess.Remove(childPath(parentPath, op.Name)))
}

func (fs *fileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	h, err := fs.sess.Open(path)
	if err != nil {
		return translateErr(err)
	}
	if !h.Isdir() {
		fs.sess.CloseHandle(h)
		return fuse.ENOTDIR
	}

	fs.mu.Lock()
	fs.nextHandle++
	id := fs.nextHandle
	fs.dirHandles[id] = &dirHandle{h: h, path: path}
	fs.mu.Unlock()

	op.Handle = id
	return nil
}

func (fs *fileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	fs.mu.Unlock()
	if !ok {
		return fuse.EIO
	}

	if op.Offset == 0 {
		if dh.entriesOffset != 0 || len(dh.entries) != 0 {
			// Rewind: a fresh kfs handle starts the listing over.
			h, err := fs.sess.Open(dh.path)
			if err != nil {
				return translateErr(err)
			}
			fs.sess.CloseHandle(dh.h)
			dh.h = h
		}
		dh.entries = nil
		dh.entriesOffset = 0
	}
	if op.Offset < dh.entriesOffset {
		return fuse.EINVAL
	}
	index := int(op.Offset - dh.entriesOffset)
	if index > len(dh.entries) {
		return fuse.EINVAL
	}

	if index == len(dh.entries) {
		entry, more, err := fs.nextDirent(dh)
		if err != nil {
			return translateErr(err)
		}
		if more {
			dh.entriesOffset += fuseops.DirOffset(len(dh.entries))
			dh.entries = []fuseutil.Dirent{entry}
			index = 0
		} else {
			return nil
		}
	}

	for i := index; i < len(dh.entries); i++ {
		dh.entries[i].Offset = dh.entriesOffset + fuseops.DirOffset(i) + 1
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dh.entries[i])
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

// nextDirent pulls the next directory entry from the underlying cursor
// and resolves its type by transiently opening it.
func (fs *fileSystem) nextDirent(dh *dirHandle) (fuseutil.Dirent, bool, error) {
	name, ok, err := fs.sess.Readdir(dh.h)
	if err != nil {
		return fuseutil.Dirent{}, false, err
	}
	if !ok {
		return fuseutil.Dirent{}, false, nil
	}

	path := childPath(dh.path, name)
	h, err := fs.sess.Open(path)
	if err != nil {
		return fuseutil.Dirent{}, false, err
	}
	defer fs.sess.CloseHandle(h)

	dtype := fuseutil.DT_File
	switch {
	case h.Isdir():
		dtype = fuseutil.DT_Directory
	case h.Islink():
		dtype = fuseutil.DT_Link
	}

	return fuseutil.Dirent{
		Inode: fuseops.InodeID(h.Inumber()),
		Name:  name,
		Type:  dtype,
	}, true, nil
}

func (fs *fileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	dh, ok := fs.dirHandles[op.Handle]
	delete(fs.dirHandles, op.Handle)
	fs.mu.Unlock()
	if !ok {
		return nil
	}
	return fs.sess.CloseHandle(dh.h)
}

func (fs *fileSystem) ReadSymlink(op *fuseops.ReadSymlinkOp) error {
	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	h, err := fs.sess.Open(path)
	if err != nil {
		return translateErr(err)
	}
	defer fs.sess.CloseHandle(h)
	if !h.Islink() {
		return fuse.EINVAL
	}
	op.Target = h.LinkTarget()
	return nil
}
