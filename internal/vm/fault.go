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

import "log/slog"

// UserStackTop and StackLimit bound the stack-growth heuristic. These
// mirror the original kernel's USER_STACK (0xC0000000) and its
// hard-coded 1 MiB growth cap; the cap isn't made configurable, so these
// are constants, not cfg fields.
const (
	UserStackTop uint64 = 0xC0000000
	StackLimit   uint64 = 1 << 20
)

// FaultHandler resolves page faults against one process's SPT, claiming
// pages via the shared frame table and swap device.
type FaultHandler struct {
	SPT    *SupplementalPageTable
	Frames *FrameTable
	Swap   *SwapDevice
	log    *slog.Logger
}

// NewFaultHandler wires a fault handler to its process's SPT and the
// process-wide frame/swap resources.
func NewFaultHandler(spt *SupplementalPageTable, frames *FrameTable, swap *SwapDevice, log *slog.Logger) *FaultHandler {
	if log == nil {
		log = slog.Default()
	}
	return &FaultHandler{SPT: spt, Frames: frames, Swap: swap, log: log}
}

// Handle resolves a page fault. addr is the faulting address; user
// reports whether the fault occurred in user mode; write reports
// whether the access was a write; notPresent reports whether the PTE
// was marked not-present (as opposed to present-but-protection-
// violated); rsp is the user stack pointer to use for the stack-growth
// heuristic (captured at syscall entry for kernel-mode faults).
func (fh *FaultHandler) Handle(addr uint64, user, write, notPresent bool, rsp uint64) bool {
	if addr == 0 || isKernelRange(addr) {
		return false
	}

	if !notPresent {
		page, ok := fh.SPT.Find(addr)
		if !ok || (write && !page.Writable) {
			return false
		}
		return fh.claim(page) == nil
	}

	if addr >= rsp-8 && addr < UserStackTop && addr >= UserStackTop-StackLimit {
		fh.growStack(addr)
	}

	page, ok := fh.SPT.Find(addr)
	if !ok {
		return false
	}
	if write && !page.Writable {
		return false
	}
	return fh.claim(page) == nil
}

// isKernelRange reports whether addr lies at or above the user/kernel
// split. In this simulation the split is UserStackTop itself: nothing
// above the stack's top is a valid user address.
func isKernelRange(addr uint64) bool {
	return addr >= UserStackTop
}

// growStack allocates anonymous, writable, stack-marked pages from the
// faulting address up to (but not crossing) UserStackTop, claiming each
// immediately.
func (fh *FaultHandler) growStack(addr uint64) {
	for p := pageRoundDown(addr); p < UserStackTop; p += PageSize {
		if p < UserStackTop-StackLimit {
			break
		}
		if _, exists := fh.SPT.Find(p); exists {
			continue
		}
		page := NewUninitPage(p, true, KindAnon, nil, nil)
		page.StackMarker = true
		if err := fh.SPT.Insert(page); err != nil {
			fh.log.Warn("vm: stack growth insert failed", "va", p, "err", err)
			continue
		}
		if err := fh.claim(page); err != nil {
			fh.log.Warn("vm: stack growth claim failed", "va", p, "err", err)
		}
	}
}

// claim binds a fresh frame to page and swaps its contents in.
func (fh *FaultHandler) claim(page *Page) error {
	if page.Frame != nil {
		return nil
	}
	f, err := fh.Frames.GetFrame(fh.Swap)
	if err != nil {
		return err
	}
	fh.Frames.Bind(f, page)
	if err := page.SwapIn(f, fh.Swap); err != nil {
		page.Frame = nil
		fh.Frames.Release(f)
		return err
	}
	return nil
}

// Claim exposes claim for callers outside the fault path (mmap's initial
// touch is lazy, but tests need direct access to force residency).
func (fh *FaultHandler) Claim(page *Page) error { return fh.claim(page) }
