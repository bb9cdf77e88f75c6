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

// Mmap reopens file for an independent cursor and registers one
// file-backed Uninit page per PageSize stride of [addr, addr+length).
// offset must be page-aligned and not past EOF. On success it returns
// addr; on failure, any pages already inserted remain in the SPT (no
// rollback, matching the original's mmap failure behavior).
func Mmap(spt *SupplementalPageTable, addr uint64, length uint64, writable bool, file FileBackend, offset int64) (uint64, error) {
	if offset%PageSize != 0 {
		return 0, fmt.Errorf("vm: mmap: offset %d not page-aligned", offset)
	}
	fileLen, err := file.Len()
	if err != nil {
		return 0, err
	}
	if offset > fileLen {
		return 0, fmt.Errorf("vm: mmap: offset %d past EOF (%d)", offset, fileLen)
	}

	reopened, err := file.Reopen()
	if err != nil {
		return 0, err
	}

	totalBytes := length
	if totalBytes%PageSize != 0 {
		totalBytes = PageSize * (length/PageSize + 1)
	}
	readBytes := uint64(fileLen) - uint64(offset)
	if readBytes > length {
		readBytes = length
	}
	zeroBytes := totalBytes - readBytes

	ofs := offset
	upage := addr
	for readBytes > 0 || zeroBytes > 0 {
		pageRead := readBytes
		if pageRead > PageSize {
			pageRead = PageSize
		}
		pageZero := uint64(PageSize) - pageRead

		aux := &fileBackedAux{
			file:      reopened,
			offset:    ofs,
			readBytes: uint32(pageRead),
			zeroBytes: uint32(pageZero),
			writable:  writable,
		}
		page := NewUninitPage(upage, writable, KindFileBacked, fileBackedInit, aux)
		if err := spt.Insert(page); err != nil {
			reopened.Close()
			return 0, err
		}

		ofs += int64(pageRead)
		readBytes -= pageRead
		zeroBytes -= pageZero
		upage += PageSize
	}
	return addr, nil
}

// Munmap walks contiguous file-backed pages starting at addr, writing
// back dirty contents and removing each from the SPT, stopping at the
// first page that is not file-backed (or not present at all). All of
// those pages share the one FileBackend Mmap reopened for the region;
// it is closed once, after the whole region is torn down.
func Munmap(spt *SupplementalPageTable, addr uint64, frames *FrameTable) error {
	va := pageRoundDown(addr)
	var backend FileBackend
	for {
		page, ok := spt.Find(va)
		if !ok {
			break
		}
		isFileBacked := page.Kind == KindFileBacked || (page.Kind == KindUninit && page.TargetKind == KindFileBacked)
		if !isFileBacked {
			break
		}
		if backend == nil {
			backend = fileBackendOf(page)
		}
		if page.Frame != nil {
			if err := page.writeBackIfDirty(page.Frame); err != nil {
				return err
			}
		}
		if err := spt.Remove(va, frames, nil); err != nil {
			return err
		}
		va += PageSize
	}
	if backend != nil {
		return backend.Close()
	}
	return nil
}
