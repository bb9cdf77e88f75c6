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
	"sync"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"

	"kernelfs/internal/kfs"
)

// fileHandle owns one kfs.Handle and the lock serializing seek-then-read
// (or seek-then-write) against it, since a single FUSE handle can field
// concurrent requests from the kernel.
type fileHandle struct {
	mu sync.Mutex
	h  *kfs.Handle
}

func (fs *fileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	path, ok := fs.pathOf(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	h, err := fs.sess.Open(path)
	if err != nil {
		return translateErr(err)
	}
	if h.Isdir() {
		fs.sess.CloseHandle(h)
		return syscall.EISDIR
	}

	fs.mu.Lock()
	fs.nextHandle++
	id := fs.nextHandle
	fs.fileHandles[id] = &fileHandle{h: h}
	fs.mu.Unlock()

	op.Handle = id
	return nil
}

func (fs *fileSystem) getFileHandle(id fuseops.HandleID) (*fileHandle, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fh, ok := fs.fileHandles[id]
	return fh, ok
}

func (fs *fileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	fh, ok := fs.getFileHandle(op.Handle)
	if !ok {
		return fuse.EIO
	}

	fh.mu.Lock()
	defer fh.mu.Unlock()

	fs.sess.Seek(fh.h, uint32(op.Offset))
	buf := make([]byte, op.Size)
	n, err := fs.sess.Read(fh.h, buf)
	if err != nil {
		return translateErr(err)
	}
	op.Data = buf[:n]
	return nil
}

func (fs *fileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	fh, ok := fs.getFileHandle(op.Handle)
	if !ok {
		return fuse.EIO
	}

	fh.mu.Lock()
	defer fh.mu.Unlock()

	fs.sess.Seek(fh.h, uint32(op.Offset))
	_, err := fs.sess.Write(fh.h, op.Data)
	return translateErr(err)
}

// SyncFile and FlushFile are no-ops: every Session.Write already goes
// straight to the block device, there is no dirty-buffer cache to drain.
func (fs *fileSystem) SyncFile(op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *fileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *fileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	fh, ok := fs.fileHandles[op.Handle]
	delete(fs.fileHandles, op.Handle)
	fs.mu.Unlock()
	if !ok {
		return nil
	}
	return fs.sess.CloseHandle(fh.h)
}
