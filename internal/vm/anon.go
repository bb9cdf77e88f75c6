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

// anonSwapIn reloads an anonymous page's contents. If the
// page was never swapped out, the frame is already zero-filled by the
// frame allocator and there is nothing to do.
func (p *Page) anonSwapIn(f *Frame, swap *SwapDevice) error {
	if p.SlotIndex < 0 {
		return nil
	}
	if err := swap.Read(p.SlotIndex, f.Data); err != nil {
		return err
	}
	swap.Release(p.SlotIndex)
	p.SlotIndex = -1
	return nil
}

// anonSwapOut writes an anonymous page's frame contents to a fresh swap
// slot and detaches the frame.
func (p *Page) anonSwapOut(f *Frame, swap *SwapDevice) error {
	slot, err := swap.Acquire()
	if err != nil {
		return err
	}
	if err := swap.Write(slot, f.Data); err != nil {
		swap.Release(slot)
		return err
	}
	p.SlotIndex = slot
	p.Frame = nil
	return nil
}

// anonDestroy releases the page's swap slot, if any, and detaches its
// frame.
func (p *Page) anonDestroy(swap *SwapDevice) error {
	if p.SlotIndex >= 0 {
		swap.Release(p.SlotIndex)
		p.SlotIndex = -1
	}
	p.Frame = nil
	return nil
}
