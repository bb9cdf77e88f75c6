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

import "fmt"

// CopySPT copies every entry of src into dst, the way fork duplicates a
// child process's address space. frames and swap are the system-wide
// frame table and swap device, shared by every process, not duplicated
// per fork. For each entry in src:
//
//   - Uninit (anon or file-backed): a destination Uninit page is
//     allocated with the same initializer; a file-backed aux is
//     deep-copied with its own reopened file so the child has an
//     independent cursor.
//   - Materialized and resident: a frame is claimed in the child and the
//     full PageSize is copied from the parent's frame.
//   - Anon, materialized but swapped out: the swap slot's contents are
//     duplicated into a freshly acquired slot for the child, without
//     disturbing the parent's slot.
//   - FileBacked, materialized but not resident: the child gets its own
//     reopened file at the same offset/read/zero bytes; its contents are
//     re-derived from the file on next touch, exactly as the parent's
//     would be.
//
// Writable state is preserved throughout. A failure aborts the copy; the
// caller is responsible for destroying the partially-built dst.
func CopySPT(src, dst *SupplementalPageTable, frames *FrameTable, swap *SwapDevice) error {
	for va, p := range src.pages {
		child, err := forkPage(p, frames, swap)
		if err != nil {
			return fmt.Errorf("vm: fork: va %#x: %w", va, err)
		}
		if err := dst.Insert(child); err != nil {
			return fmt.Errorf("vm: fork: insert va %#x: %w", va, err)
		}
	}
	return nil
}

func forkPage(p *Page, frames *FrameTable, swap *SwapDevice) (*Page, error) {
	switch {
	case p.Kind == KindUninit:
		return forkUninit(p)
	case p.Frame != nil:
		return forkResident(p, frames, swap)
	case p.Kind == KindAnon:
		return forkSwappedAnon(p, swap)
	case p.Kind == KindFileBacked:
		return forkEvictedFileBacked(p)
	default:
		return nil, fmt.Errorf("vm: fork: page at %#x is neither resident nor swapped out", p.VA)
	}
}

func forkUninit(p *Page) (*Page, error) {
	aux := p.InitAux
	if fba, ok := p.InitAux.(*fileBackedAux); ok {
		reopened, err := fba.file.Reopen()
		if err != nil {
			return nil, err
		}
		clone := *fba
		clone.file = reopened
		aux = &clone
	}
	child := NewUninitPage(p.VA, p.Writable, p.TargetKind, p.InitFn, aux)
	child.StackMarker = p.StackMarker
	return child, nil
}

func forkResident(p *Page, frames *FrameTable, swap *SwapDevice) (*Page, error) {
	child := &Page{VA: p.VA, Writable: p.Writable, StackMarker: p.StackMarker, Kind: p.Kind, SlotIndex: -1}
	f, err := frames.GetFrame(swap)
	if err != nil {
		return nil, err
	}
	copy(f.Data, p.Frame.Data)
	frames.Bind(f, child)

	switch p.Kind {
	case KindFileBacked:
		reopened, err := p.File.Reopen()
		if err != nil {
			frames.Release(f)
			return nil, err
		}
		child.File = reopened
		child.Offset = p.Offset
		child.ReadBytes = p.ReadBytes
		child.ZeroBytes = p.ZeroBytes
		child.Dirty = p.Dirty
	}
	return child, nil
}

func forkSwappedAnon(p *Page, swap *SwapDevice) (*Page, error) {
	buf := make([]byte, PageSize)
	if err := swap.Read(p.SlotIndex, buf); err != nil {
		return nil, err
	}
	slot, err := swap.Acquire()
	if err != nil {
		return nil, err
	}
	if err := swap.Write(slot, buf); err != nil {
		swap.Release(slot)
		return nil, err
	}
	return &Page{VA: p.VA, Writable: p.Writable, StackMarker: p.StackMarker, Kind: KindAnon, SlotIndex: slot}, nil
}

func forkEvictedFileBacked(p *Page) (*Page, error) {
	reopened, err := p.File.Reopen()
	if err != nil {
		return nil, err
	}
	return &Page{
		VA: p.VA, Writable: p.Writable, StackMarker: p.StackMarker, Kind: KindFileBacked,
		File: reopened, Offset: p.Offset, ReadBytes: p.ReadBytes, ZeroBytes: p.ZeroBytes,
		SlotIndex: -1,
	}, nil
}
