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
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/diskio"
)

// memFile is a minimal in-memory vm.FileBackend used by mmap/fork tests,
// standing in for kfs.FileBackend the way diskio.MemDevice stands in for
// a real disk in the fat/inode/directory suites.
type memFile struct {
	data   []byte
	closed bool
}

func newMemFile(contents []byte) *memFile {
	return &memFile{data: append([]byte(nil), contents...)}
}

func (f *memFile) ReadAt(buf []byte, off int64) (int, error) {
	n := copy(buf, f.data[off:])
	return n, nil
}

func (f *memFile) WriteAt(buf []byte, off int64) (int, error) {
	end := off + int64(len(buf))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[off:end], buf)
	return len(buf), nil
}

func (f *memFile) Len() (int64, error) { return int64(len(f.data)), nil }

func (f *memFile) Reopen() (FileBackend, error) {
	return &memFile{data: f.data}, nil
}

func (f *memFile) Close() error {
	f.closed = true
	return nil
}

func newSwap(t *testing.T, slots int) *SwapDevice {
	t.Helper()
	return NewSwapDevice(diskio.NewMemDevice(uint32(slots)*sectorsPerSlot), nil)
}

func TestAnonSwapRoundTrip(t *testing.T) {
	const poolSize = 2
	const numPages = 5 // > pool size, forces eviction/swap for every excess page

	frames := NewFrameTable(poolSize, nil)
	swap := newSwap(t, numPages)
	spt := NewSupplementalPageTable()
	fh := NewFaultHandler(spt, frames, swap, nil)

	vas := make([]uint64, numPages)
	patterns := make([]byte, numPages)
	for i := 0; i < numPages; i++ {
		va := uint64(0x1000) + uint64(i)*PageSize
		vas[i] = va
		patterns[i] = byte(0x40 + i)

		page := NewUninitPage(va, true, KindAnon, nil, nil)
		require.NoError(t, spt.Insert(page))
		require.NoError(t, fh.Claim(page))

		for j := range page.Frame.Data {
			page.Frame.Data[j] = patterns[i]
		}
	}

	for i, va := range vas {
		page, ok := spt.Find(va)
		require.True(t, ok)
		require.NoError(t, fh.Claim(page))
		for _, b := range page.Frame.Data {
			require.Equal(t, patterns[i], b, "page %d corrupted after swap round-trip", i)
		}
	}
}

func TestStackGrowthBoundary(t *testing.T) {
	frames := NewFrameTable(8, nil)
	swap := newSwap(t, 8)
	spt := NewSupplementalPageTable()
	fh := NewFaultHandler(spt, frames, swap, nil)

	rsp := UserStackTop - 64

	ok := fh.Handle(rsp-8, true, true, true, rsp)
	require.True(t, ok, "fault at rsp-8 should grow the stack")
	_, found := spt.Find(rsp - 8)
	require.True(t, found)

	spt2 := NewSupplementalPageTable()
	fh2 := NewFaultHandler(spt2, frames, swap, nil)
	ok = fh2.Handle(rsp-9, true, true, true, rsp)
	require.False(t, ok, "fault at rsp-9 should not grow the stack")
}

func TestMmapWriteBackOnMunmap(t *testing.T) {
	frames := NewFrameTable(8, nil)
	spt := NewSupplementalPageTable()
	fh := NewFaultHandler(spt, frames, nil, nil)

	original := make([]byte, 5000)
	for i := range original {
		original[i] = byte(i % 251)
	}
	file := newMemFile(original)

	addr, err := Mmap(spt, 0x10000000, 8192, true, file, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000000), addr)
	require.Equal(t, 2, spt.Len())

	page0, ok := spt.Find(addr)
	require.True(t, ok)
	require.NoError(t, fh.Claim(page0))
	require.Equal(t, uint32(PageSize), page0.ReadBytes)

	page1, ok := spt.Find(addr + PageSize)
	require.True(t, ok)
	require.NoError(t, fh.Claim(page1))
	require.EqualValues(t, 5000-PageSize, page1.ReadBytes)
	for i := page1.ReadBytes; i < PageSize; i++ {
		require.Zero(t, page1.Frame.Data[i], "trailing bytes of the last mmap page must read as zero")
	}

	page0.Frame.Data[0] = 0xAB
	page0.Dirty = true

	require.NoError(t, Munmap(spt, addr, frames))
	require.Equal(t, 0, spt.Len())

	readBack, err := file.Len()
	require.NoError(t, err)
	require.Greater(t, readBack, int64(0))
	buf := make([]byte, 1)
	_, err = file.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), buf[0])
}

func TestForkAnonCOW(t *testing.T) {
	frames := NewFrameTable(4, nil)
	swap := newSwap(t, 4)

	parentSPT := NewSupplementalPageTable()
	fh := NewFaultHandler(parentSPT, frames, swap, nil)

	va := uint64(0x2000)
	page := NewUninitPage(va, true, KindAnon, nil, nil)
	require.NoError(t, parentSPT.Insert(page))
	require.NoError(t, fh.Claim(page))
	for i := range page.Frame.Data {
		page.Frame.Data[i] = 0xCC // pattern P
	}

	childSPT := NewSupplementalPageTable()
	require.NoError(t, CopySPT(parentSPT, childSPT, frames, swap))

	childPage, ok := childSPT.Find(va)
	require.True(t, ok)
	require.NotNil(t, childPage.Frame)
	require.NotSame(t, page.Frame, childPage.Frame)
	require.Equal(t, byte(0xCC), childPage.Frame.Data[0])

	for i := range childPage.Frame.Data {
		childPage.Frame.Data[i] = 0xDD // child writes pattern Q
	}

	require.Equal(t, byte(0xCC), page.Frame.Data[0], "parent's frame must be unaffected by the child's write")
}
