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

import "kernelfs/internal/vm"

// FileBackend adapts a Session/Handle pair to vm.FileBackend, giving
// each reopen its own independent cursor, so the vm package can
// read/write mmap'd file contents without importing kfs.
type FileBackend struct {
	sess *Session
	path string
	h    *Handle
}

var _ vm.FileBackend = (*FileBackend)(nil)

// OpenFileBackend opens path and wraps it as a vm.FileBackend, suitable
// for passing to vm.Mmap.
func (s *Session) OpenFileBackend(path string) (*FileBackend, error) {
	h, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileBackend{sess: s, path: path, h: h}, nil
}

func (fb *FileBackend) ReadAt(buf []byte, off int64) (int, error) {
	fb.sess.fs.mu.Lock()
	defer fb.sess.fs.mu.Unlock()
	return fb.sess.fs.store.ReadAt(fb.h.node, buf, uint32(off))
}

func (fb *FileBackend) WriteAt(buf []byte, off int64) (int, error) {
	fb.sess.fs.mu.Lock()
	defer fb.sess.fs.mu.Unlock()
	return fb.sess.fs.store.WriteAt(fb.h.node, buf, uint32(off))
}

func (fb *FileBackend) Len() (int64, error) {
	fb.sess.fs.mu.Lock()
	defer fb.sess.fs.mu.Unlock()
	return int64(fb.h.node.Disk.Length), nil
}

// Reopen opens an independent handle on the same path, giving the result
// its own inode open-count reference.
func (fb *FileBackend) Reopen() (vm.FileBackend, error) {
	return fb.sess.OpenFileBackend(fb.path)
}

func (fb *FileBackend) Close() error {
	return fb.sess.CloseHandle(fb.h)
}
