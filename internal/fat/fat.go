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

// Package fat implements the cluster-chain allocation table: a
// persisted array mapping cluster -> next cluster, EOC, or free, with
// first-fit allocation and whole-chain free.
package fat

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"kernelfs/internal/diskio"
)

const (
	// Free marks an unallocated cluster.
	Free uint32 = 0
	// EOC is the end-of-chain sentinel.
	EOC uint32 = 0xFFFFFFFF
	// RootDirCluster is the cluster always holding the root directory.
	RootDirCluster uint32 = 1
	// firstDataCluster is the first cluster number usable for data; 0 and 1
	// are reserved
	firstDataCluster uint32 = 2
)

const entrySize = 4 // bytes per FAT entry (uint32, little-endian)

// Table is the in-memory FAT, persisted as a contiguous byte range on the
// file-system disk. All allocation bookkeeping lives here; callers hold the
// single file-system lock for the duration of any call.
type Table struct {
	entries    []uint32
	dev        diskio.BlockDevice
	startSect  uint32 // first sector of the persisted FAT
	numSectors uint32
	dirty      bool
	log        *slog.Logger
}

// Load reads a FAT of the given cluster count from startSector on dev.
func Load(dev diskio.BlockDevice, startSector, numSectors, numClusters uint32, log *slog.Logger) (*Table, error) {
	if log == nil {
		log = slog.Default()
	}
	t := &Table{
		entries:    make([]uint32, numClusters),
		dev:        dev,
		startSect:  startSector,
		numSectors: numSectors,
		log:        log,
	}
	entriesPerSector := diskio.SectorSize / entrySize
	buf := make([]byte, diskio.SectorSize)
	for s := uint32(0); s < numSectors; s++ {
		if err := dev.ReadSector(startSector+s, buf); err != nil {
			return nil, fmt.Errorf("fat: load sector %d: %w", s, err)
		}
		base := s * uint32(entriesPerSector)
		for i := 0; i < entriesPerSector; i++ {
			idx := base + uint32(i)
			if idx >= numClusters {
				break
			}
			t.entries[idx] = binary.LittleEndian.Uint32(buf[i*entrySize:])
		}
	}
	// Invariant: cluster 1 is always allocated.
	if t.entries[RootDirCluster] == Free {
		t.entries[RootDirCluster] = EOC
		t.dirty = true
	}
	return t, nil
}

// Format initializes a brand-new FAT of numClusters entries, all free
// except the reserved clusters 0 and 1, and writes it to dev.
func Format(dev diskio.BlockDevice, startSector, numSectors, numClusters uint32, log *slog.Logger) (*Table, error) {
	if log == nil {
		log = slog.Default()
	}
	t := &Table{
		entries:    make([]uint32, numClusters),
		dev:        dev,
		startSect:  startSector,
		numSectors: numSectors,
		log:        log,
	}
	t.entries[0] = EOC // reserved
	t.entries[RootDirCluster] = EOC
	t.dirty = true
	if err := t.Flush(); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns fat[c].
func (t *Table) Get(c uint32) uint32 {
	if c >= uint32(len(t.entries)) {
		return EOC
	}
	return t.entries[c]
}

// NumClusters returns the number of clusters tracked.
func (t *Table) NumClusters() uint32 { return uint32(len(t.entries)) }

// CreateChain allocates a new cluster, writes fat[c] = EOC, and if prev !=
// 0 links fat[prev] = c. Returns 0 on out-of-space.
func (t *Table) CreateChain(prev uint32) uint32 {
	c := t.firstFreeCluster()
	if c == 0 {
		t.log.Warn("fat: out of space allocating cluster")
		return 0
	}
	t.entries[c] = EOC
	if prev != 0 {
		t.entries[prev] = c
	}
	t.dirty = true
	t.log.Debug("fat: allocated cluster", "cluster", c, "prev", prev)
	return c
}

func (t *Table) firstFreeCluster() uint32 {
	for c := firstDataCluster; c < uint32(len(t.entries)); c++ {
		if t.entries[c] == Free {
			return c
		}
	}
	return 0
}

// RemoveChain walks the chain from start, freeing each cluster. If pclust
// != 0, truncates the chain at pclust by writing fat[pclust] = EOC instead
// of freeing it.
func (t *Table) RemoveChain(start, pclust uint32) {
	if pclust != 0 {
		t.entries[pclust] = EOC
		t.dirty = true
	}
	c := start
	seen := make(map[uint32]bool)
	for c != 0 && c != EOC {
		if seen[c] {
			// Defensive: a corrupt on-disk chain must not hang the kernel.
			t.log.Warn("fat: cycle detected while removing chain", "cluster", c)
			break
		}
		seen[c] = true
		next := t.entries[c]
		t.entries[c] = Free
		t.dirty = true
		c = next
	}
}

// FreeCount returns the number of free (unallocated) clusters, for
// diagnostics and metrics.
func (t *Table) FreeCount() uint32 {
	var n uint32
	for c := firstDataCluster; c < uint32(len(t.entries)); c++ {
		if t.entries[c] == Free {
			n++
		}
	}
	return n
}

// Flush rewrites the persisted FAT if it is dirty. Called at unmount.
func (t *Table) Flush() error {
	if !t.dirty {
		return nil
	}
	entriesPerSector := diskio.SectorSize / entrySize
	buf := make([]byte, diskio.SectorSize)
	for s := uint32(0); s < t.numSectors; s++ {
		for i := range buf {
			buf[i] = 0
		}
		base := s * uint32(entriesPerSector)
		for i := 0; i < entriesPerSector; i++ {
			idx := base + uint32(i)
			if idx >= uint32(len(t.entries)) {
				break
			}
			binary.LittleEndian.PutUint32(buf[i*entrySize:], t.entries[idx])
		}
		if err := t.dev.WriteSector(t.startSect+s, buf); err != nil {
			return fmt.Errorf("fat: flush sector %d: %w", s, err)
		}
	}
	t.dirty = false
	return nil
}

// ChainLength returns the number of clusters in the chain starting at
// start, used by fsck/tests to validate that a file's length in sectors
// equals ceil(length/S) against a cluster size of one sector.
func (t *Table) ChainLength(start uint32) int {
	n := 0
	c := start
	seen := make(map[uint32]bool)
	for c != 0 && c != EOC {
		if seen[c] {
			break
		}
		seen[c] = true
		n++
		c = t.entries[c]
	}
	return n
}
