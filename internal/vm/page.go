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

// Package vm implements demand-paged virtual memory: a per-process
// supplemental page table, a global FIFO frame table with eviction,
// tagged-union page variants with swap_in/swap_out/destroy dispatch, a
// fault handler with a stack-growth heuristic, and mmap/fork glue.
package vm

import "fmt"

// PageSize is the fixed page size in bytes (Pintos PGSIZE).
const PageSize = 4096

// Kind tags a Page's variant. The C original dispatches through an
// indirect-call table per variant; here that's a type switch over Kind
// inside Page's SwapIn/SwapOut/Destroy, with the Uninit→concrete
// transition a field mutation rather than a change of Go type.
type Kind int

const (
	KindUninit Kind = iota
	KindAnon
	KindFileBacked
)

func (k Kind) String() string {
	switch k {
	case KindUninit:
		return "uninit"
	case KindAnon:
		return "anon"
	case KindFileBacked:
		return "file-backed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// InitFunc populates a page's concrete variant state and initial frame
// contents on first touch. It must set p.Kind to the target variant.
type InitFunc func(p *Page, f *Frame, aux any) error

// Page is a supplemental page table entry. All variant fields live
// directly on the struct, guarded by Kind, rather than behind a Go
// interface: the state machine is a mutation of Kind plus the
// associated fields, not a change of underlying type. The Uninit to
// concrete transition is a state change inside the descriptor, not a
// type change of its container.
type Page struct {
	VA          uint64
	Writable    bool
	StackMarker bool // VM_MARKER_0: excluded from eviction victim selection
	Kind        Kind
	Frame       *Frame

	// Uninit
	TargetKind Kind
	InitFn     InitFunc
	InitAux    any

	// Anon
	SlotIndex int64 // -1 when not swapped out

	// FileBacked
	File      FileBackend
	Offset    int64
	ReadBytes uint32
	ZeroBytes uint32
	Dirty     bool // software dirty bit; no hardware PTE in this model
}

// NewUninitPage creates a page in the Uninit state. targetKind names the variant init will
// transition the page into on first touch.
func NewUninitPage(va uint64, writable bool, targetKind Kind, init InitFunc, aux any) *Page {
	return &Page{
		VA:         va,
		Writable:   writable,
		Kind:       KindUninit,
		TargetKind: targetKind,
		InitFn:     init,
		InitAux:    aux,
		SlotIndex:  -1,
	}
}

// SwapIn dispatches to the variant-specific first-touch / reload logic.
func (p *Page) SwapIn(f *Frame, swap *SwapDevice) error {
	switch p.Kind {
	case KindUninit:
		return p.uninitSwapIn(f)
	case KindAnon:
		return p.anonSwapIn(f, swap)
	case KindFileBacked:
		return p.fileBackedSwapIn(f)
	default:
		return fmt.Errorf("vm: swap_in: unknown kind %v", p.Kind)
	}
}

// SwapOut dispatches to the variant-specific eviction logic.
func (p *Page) SwapOut(f *Frame, swap *SwapDevice) error {
	switch p.Kind {
	case KindUninit:
		// Never resident before first touch; nothing to write back.
		return nil
	case KindAnon:
		return p.anonSwapOut(f, swap)
	case KindFileBacked:
		return p.fileBackedSwapOut(f)
	default:
		return fmt.Errorf("vm: swap_out: unknown kind %v", p.Kind)
	}
}

// Destroy releases an anonymous page's swap slot, or writes back a
// resident file-backed page if dirty, without requiring the page to be
// resident. It detaches the frame without returning it to the frame
// table and does not close a file-backed page's file.
func (p *Page) Destroy(swap *SwapDevice) error {
	switch p.Kind {
	case KindUninit:
		return nil
	case KindAnon:
		return p.anonDestroy(swap)
	case KindFileBacked:
		return p.fileBackedDestroy()
	default:
		return fmt.Errorf("vm: destroy: unknown kind %v", p.Kind)
	}
}
