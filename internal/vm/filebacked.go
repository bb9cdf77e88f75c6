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

package vm

import "errors"

// Errors surfaced by file-backed page operations.
var (
	errFileBackedAux    = errors.New("vm: init aux is not *fileBackedAux")
	errFileBackedNoFile = errors.New("vm: file-backed page has no file")
)

// FileBackend is the file-facing half of a FileBacked page. It is satisfied by a small adapter in package kfs over a
// Session/Handle pair, kept here as an interface so vm never imports kfs.
type FileBackend interface {
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	Len() (int64, error)
	// Reopen returns an independent FileBackend over the same underlying
	// file, used both by mmap itself and by fork's deep-copied aux to
	// give the copy its own cursor.
	Reopen() (FileBackend, error)
	Close() error
}

// fileBackendOf returns the FileBackend a file-backed page reads from,
// whether or not it has been touched yet: a touched page carries it
// directly, an untouched Uninit one only in its aux. Used by Munmap to
// close the one reopened backend shared by a whole mmap'd region.
func fileBackendOf(p *Page) FileBackend {
	if p.Kind == KindFileBacked {
		return p.File
	}
	if aux, ok := p.InitAux.(*fileBackedAux); ok {
		return aux.file
	}
	return nil
}

// fileBackedAux carries the lazily-bound state for one file-backed page
// before its first touch.
type fileBackedAux struct {
	file      FileBackend
	offset    int64
	readBytes uint32
	zeroBytes uint32
	writable  bool
}

// fileBackedInit is the InitFunc for mmap'd pages: it reads ReadBytes from
// File at Offset into the frame and zero-fills the remainder.
func fileBackedInit(p *Page, f *Frame, aux any) error {
	a, ok := aux.(*fileBackedAux)
	if !ok {
		return errFileBackedAux
	}
	p.Kind = KindFileBacked
	p.File = a.file
	p.Offset = a.offset
	p.ReadBytes = a.readBytes
	p.ZeroBytes = a.zeroBytes
	p.Writable = a.writable
	return p.fileBackedSwapIn(f)
}

// fileBackedSwapIn reads ReadBytes from File at Offset into the frame and
// zero-fills the trailing ZeroBytes.
func (p *Page) fileBackedSwapIn(f *Frame) error {
	if p.File == nil {
		return errFileBackedNoFile
	}
	if _, err := p.File.ReadAt(f.Data[:p.ReadBytes], p.Offset); err != nil {
		return err
	}
	for i := p.ReadBytes; i < uint32(len(f.Data)); i++ {
		f.Data[i] = 0
	}
	return nil
}

// writeBackIfDirty writes ReadBytes back to File at Offset when the page
// is writable and has been modified, then clears the dirty bit,
// mirroring the original's write_back_if_dirty.
func (p *Page) writeBackIfDirty(f *Frame) error {
	if !p.Writable || !p.Dirty {
		return nil
	}
	if _, err := p.File.WriteAt(f.Data[:p.ReadBytes], p.Offset); err != nil {
		return err
	}
	p.Dirty = false
	return nil
}

// fileBackedSwapOut writes back dirty contents and detaches the frame,
// without consuming a swap slot.
func (p *Page) fileBackedSwapOut(f *Frame) error {
	if p.File == nil {
		return errFileBackedNoFile
	}
	if err := p.writeBackIfDirty(f); err != nil {
		return err
	}
	p.Frame = nil
	return nil
}

// fileBackedDestroy writes back dirty contents if still resident.
// It does not close the backing file: one reopened FileBackend is
// shared across every page of an mmap region, so closing it is the
// caller's responsibility once the whole region is torn down, not any
// single page's.
func (p *Page) fileBackedDestroy() error {
	if p.File == nil {
		return nil
	}
	if p.Frame != nil {
		if err := p.writeBackIfDirty(p.Frame); err != nil {
			return err
		}
	}
	p.Frame = nil
	return nil
}
