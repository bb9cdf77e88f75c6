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

// Package diskio provides the fixed-size sector read/write primitive that
// every on-disk structure in kernelfs (the FAT table, inodes, directory
// entries, swap slots) is built on top of.
package diskio

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// SectorSize is the fixed sector size in bytes.
const SectorSize = 512

// BlockDevice is a fixed-size sector device. Sector numbers are zero-based.
// Implementations need not be safe for concurrent use; callers serialize
// access under the file-system lock.
type BlockDevice interface {
	ReadSector(sector uint32, dst []byte) error
	WriteSector(sector uint32, src []byte) error
	// NumSectors reports the device's total capacity in sectors.
	NumSectors() uint32
}

// FileDevice is a BlockDevice backed by a regular host file, used by the
// `format`/`mount` CLI commands and by fsck.
type FileDevice struct {
	mu   sync.Mutex
	f    *os.File
	size uint32
}

// OpenFileDevice opens an existing disk image file of the given size in
// sectors. The file must already be at least size*SectorSize bytes.
func OpenFileDevice(path string, size uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: open %s: %w", path, err)
	}
	return &FileDevice{f: f, size: size}, nil
}

// CreateFileDevice creates (or truncates) a disk image file of the given
// size in sectors, zero-filled.
func CreateFileDevice(path string, size uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskio: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size) * SectorSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("diskio: truncate %s: %w", path, err)
	}
	return &FileDevice{f: f, size: size}, nil
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

func (d *FileDevice) NumSectors() uint32 { return d.size }

func (d *FileDevice) ReadSector(sector uint32, dst []byte) error {
	if len(dst) != SectorSize {
		return fmt.Errorf("diskio: dst must be %d bytes, got %d", SectorSize, len(dst))
	}
	if sector >= d.size {
		return fmt.Errorf("diskio: sector %d out of range (size %d)", sector, d.size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(dst, int64(sector)*SectorSize)
	if err != nil && err != io.EOF {
		return fmt.Errorf("diskio: read sector %d: %w", sector, err)
	}
	return nil
}

func (d *FileDevice) WriteSector(sector uint32, src []byte) error {
	if len(src) != SectorSize {
		return fmt.Errorf("diskio: src must be %d bytes, got %d", SectorSize, len(src))
	}
	if sector >= d.size {
		return fmt.Errorf("diskio: sector %d out of range (size %d)", sector, d.size)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(src, int64(sector)*SectorSize); err != nil {
		return fmt.Errorf("diskio: write sector %d: %w", sector, err)
	}
	return nil
}

// MemDevice is an in-memory BlockDevice, used by unit tests in place of a
// real disk image.
type MemDevice struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
}

// NewMemDevice allocates a zero-filled in-memory device of the given size
// in sectors.
func NewMemDevice(size uint32) *MemDevice {
	return &MemDevice{sectors: make([][SectorSize]byte, size)}
}

func (d *MemDevice) NumSectors() uint32 { return uint32(len(d.sectors)) }

func (d *MemDevice) ReadSector(sector uint32, dst []byte) error {
	if len(dst) != SectorSize {
		return fmt.Errorf("diskio: dst must be %d bytes, got %d", SectorSize, len(dst))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector >= uint32(len(d.sectors)) {
		return fmt.Errorf("diskio: sector %d out of range (size %d)", sector, len(d.sectors))
	}
	copy(dst, d.sectors[sector][:])
	return nil
}

func (d *MemDevice) WriteSector(sector uint32, src []byte) error {
	if len(src) != SectorSize {
		return fmt.Errorf("diskio: src must be %d bytes, got %d", SectorSize, len(src))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector >= uint32(len(d.sectors)) {
		return fmt.Errorf("diskio: sector %d out of range (size %d)", sector, len(d.sectors))
	}
	copy(d.sectors[sector][:], src)
	return nil
}
