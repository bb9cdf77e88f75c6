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

import (
	"errors"
	"fmt"
)

// ErrPageExists is returned by Insert when va is already present.
var ErrPageExists = errors.New("vm: page already mapped")

func pageRoundDown(va uint64) uint64 {
	return va &^ (PageSize - 1)
}

// SupplementalPageTable is one process's va -> page descriptor map.
// Go's built-in map plays the role of the original's hash table; keys
// are always page-aligned.
type SupplementalPageTable struct {
	pages map[uint64]*Page
}

// NewSupplementalPageTable returns an empty SPT.
func NewSupplementalPageTable() *SupplementalPageTable {
	return &SupplementalPageTable{pages: make(map[uint64]*Page)}
}

// Find rounds va down to a page boundary and looks it up.
func (spt *SupplementalPageTable) Find(va uint64) (*Page, bool) {
	p, ok := spt.pages[pageRoundDown(va)]
	return p, ok
}

// Insert adds page, keyed by its own (already page-aligned) VA.
func (spt *SupplementalPageTable) Insert(page *Page) error {
	if _, exists := spt.pages[page.VA]; exists {
		return fmt.Errorf("%w: va %#x", ErrPageExists, page.VA)
	}
	spt.pages[page.VA] = page
	return nil
}

// Remove deletes va's entry and destroys the page.
func (spt *SupplementalPageTable) Remove(va uint64, frames *FrameTable, swap *SwapDevice) error {
	key := pageRoundDown(va)
	p, ok := spt.pages[key]
	if !ok {
		return nil
	}
	delete(spt.pages, key)
	return destroyPage(p, frames, swap)
}

// Destroy tears down every page in the table.
func (spt *SupplementalPageTable) Destroy(frames *FrameTable, swap *SwapDevice) error {
	var firstErr error
	for key, p := range spt.pages {
		delete(spt.pages, key)
		if err := destroyPage(p, frames, swap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func destroyPage(p *Page, frames *FrameTable, swap *SwapDevice) error {
	if p.Frame != nil {
		f := p.Frame
		if err := p.Destroy(swap); err != nil {
			return err
		}
		frames.Release(f)
		return nil
	}
	return p.Destroy(swap)
}

// Len reports the number of resident-or-not entries, for tests.
func (spt *SupplementalPageTable) Len() int { return len(spt.pages) }
