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
	"container/list"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrNoEvictableFrame is returned when every frame in the pool carries a
// stack-marked page and none can be selected as an eviction victim.
var ErrNoEvictableFrame = errors.New("vm: no evictable frame")

// Frame is one physical user page: a fixed PageSize
// byte buffer standing in for a kernel virtual address, plus a back
// reference to the page currently bound to it. At most one page
// references a frame, and page.Frame == f iff f.Page == page.
type Frame struct {
	Data []byte
	Page *Page

	elem *list.Element
}

// FrameTable is the global FIFO of physical frames. The pool
// is bounded to capacity frames by a weighted semaphore: acquiring a
// permit mints a brand-new zeroed frame, and once the pool is saturated
// GetFrame evicts a FIFO victim instead of blocking forever, exactly as
// the original's vm_get_frame falls back to vm_evict_frame when palloc
// fails.
type FrameTable struct {
	mu        sync.Mutex
	sem       *semaphore.Weighted
	order     *list.List
	log       *slog.Logger
	capacity  int
	evictions int64
}

// NewFrameTable allocates a frame table bounded to capacity frames.
func NewFrameTable(capacity int, log *slog.Logger) *FrameTable {
	if log == nil {
		log = slog.Default()
	}
	return &FrameTable{
		sem:      semaphore.NewWeighted(int64(capacity)),
		order:    list.New(),
		log:      log,
		capacity: capacity,
	}
}

// Capacity reports the configured pool size.
func (ft *FrameTable) Capacity() int { return ft.capacity }

// InUse reports how many frames are currently bound to a page.
func (ft *FrameTable) InUse() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for e := ft.order.Front(); e != nil; e = e.Next() {
		if e.Value.(*Frame).Page != nil {
			n++
		}
	}
	return n
}

// Evictions reports the cumulative number of frames reclaimed via FIFO
// eviction since the table was created.
func (ft *FrameTable) Evictions() int64 {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.evictions
}

// GetFrame returns a frame ready to be bound to a page: freshly allocated
// and zeroed if the pool has room, or the result of evicting a FIFO
// victim otherwise.
func (ft *FrameTable) GetFrame(swap *SwapDevice) (*Frame, error) {
	if ft.sem.TryAcquire(1) {
		f := &Frame{Data: make([]byte, PageSize)}
		ft.mu.Lock()
		f.elem = ft.order.PushBack(f)
		ft.mu.Unlock()
		return f, nil
	}
	return ft.evict(swap)
}

// evict selects the oldest frame whose page is not stack-marked, swaps
// its page out, and returns the now-free frame for reuse.
func (ft *FrameTable) evict(swap *SwapDevice) (*Frame, error) {
	ft.mu.Lock()
	var victim *Frame
	for e := ft.order.Front(); e != nil; e = e.Next() {
		f := e.Value.(*Frame)
		if f.Page != nil && f.Page.StackMarker {
			continue
		}
		victim = f
		ft.order.Remove(e)
		break
	}
	ft.mu.Unlock()

	if victim == nil {
		ft.log.Warn("vm: eviction found no victim (all frames stack-marked)")
		return nil, ErrNoEvictableFrame
	}

	if victim.Page != nil {
		page := victim.Page
		if err := page.SwapOut(victim, swap); err != nil {
			ft.mu.Lock()
			victim.elem = ft.order.PushBack(victim)
			ft.mu.Unlock()
			return nil, err
		}
		page.Frame = nil
		victim.Page = nil
		ft.mu.Lock()
		ft.evictions++
		ft.mu.Unlock()
	}
	for i := range victim.Data {
		victim.Data[i] = 0
	}

	ft.mu.Lock()
	victim.elem = ft.order.PushBack(victim)
	ft.mu.Unlock()
	return victim, nil
}

// Bind links f and p to each other.
func (ft *FrameTable) Bind(f *Frame, p *Page) {
	f.Page = p
	p.Frame = f
}

// Release unlinks f from the FIFO and returns its permit to the pool,
// used when a page is destroyed while still resident.
func (ft *FrameTable) Release(f *Frame) {
	ft.mu.Lock()
	if f.elem != nil {
		ft.order.Remove(f.elem)
		f.elem = nil
	}
	ft.mu.Unlock()
	ft.sem.Release(1)
}
