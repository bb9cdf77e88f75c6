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
	"log/slog"
	"sync"

	"kernelfs/internal/diskio"
)

// sectorsPerSlot is how many disk sectors one PageSize swap slot occupies.
// Slots are consecutive PageSize regions starting at sector 0.
const sectorsPerSlot = PageSize / diskio.SectorSize

// ErrSwapFull is returned by Acquire when no swap slot is free.
var ErrSwapFull = errors.New("vm: swap device full")

// SwapDevice is the free-list of PageSize slots on a dedicated block
// device. Grounded on the original's swap_table: a flat list of slots
// each either free or holding one anonymous page's contents, protected
// by a single lock around acquire/release.
type SwapDevice struct {
	mu   sync.Mutex
	dev  diskio.BlockDevice
	free []bool
	log  *slog.Logger
}

// NewSwapDevice carves dev into PageSize slots, all initially free.
func NewSwapDevice(dev diskio.BlockDevice, log *slog.Logger) *SwapDevice {
	if log == nil {
		log = slog.Default()
	}
	n := dev.NumSectors() / sectorsPerSlot
	free := make([]bool, n)
	for i := range free {
		free[i] = true
	}
	return &SwapDevice{dev: dev, free: free, log: log}
}

// NumSlots reports the total slot count.
func (s *SwapDevice) NumSlots() int { return len(s.free) }

// InUse reports how many slots currently hold page contents.
func (s *SwapDevice) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, free := range s.free {
		if !free {
			n++
		}
	}
	return n
}

// Acquire claims and returns the index of a free slot.
func (s *SwapDevice) Acquire() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, free := range s.free {
		if free {
			s.free[i] = false
			return int64(i), nil
		}
	}
	s.log.Warn("vm: swap device full")
	return -1, ErrSwapFull
}

// Release returns slot to the free list.
func (s *SwapDevice) Release(slot int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free[slot] = true
}

// Read fills buf (PageSize bytes) from slot.
func (s *SwapDevice) Read(slot int64, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("vm: swap read: buf must be %d bytes", PageSize)
	}
	base := uint32(slot) * sectorsPerSlot
	for i := uint32(0); i < sectorsPerSlot; i++ {
		if err := s.dev.ReadSector(base+i, buf[i*diskio.SectorSize:(i+1)*diskio.SectorSize]); err != nil {
			return fmt.Errorf("vm: swap read slot %d: %w", slot, err)
		}
	}
	return nil
}

// Write persists buf (PageSize bytes) to slot.
func (s *SwapDevice) Write(slot int64, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("vm: swap write: buf must be %d bytes", PageSize)
	}
	base := uint32(slot) * sectorsPerSlot
	for i := uint32(0); i < sectorsPerSlot; i++ {
		if err := s.dev.WriteSector(base+i, buf[i*diskio.SectorSize:(i+1)*diskio.SectorSize]); err != nil {
			return fmt.Errorf("vm: swap write slot %d: %w", slot, err)
		}
	}
	return nil
}
