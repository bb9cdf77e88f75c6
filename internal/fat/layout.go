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

package fat

import (
	"encoding/binary"
	"fmt"

	"kernelfs/internal/diskio"
)

// bootstrapMagic identifies a formatted kernelfs disk in sector 0.
const bootstrapMagic uint32 = 0x4B464154 // "KFAT"

// Layout describes the on-disk geometry recorded in the bootstrap sector
//: FAT table length and position, and where cluster storage
// begins. cluster_to_sector is a bijection for c >= 2. The root
// directory's cluster (1) is reserved FAT bookkeeping, not a member of
// the regular data region; it lives in its own dedicated sector
// immediately after the FAT, one sector before DataStartSector.
type Layout struct {
	FatStartSector  uint32
	FatSectors      uint32
	NumClusters     uint32
	DataStartSector uint32
}

// RootSector returns the fixed physical sector holding the root
// directory's inode record, carved out of the FAT/data gap so it never
// collides with either region.
func (l Layout) RootSector() uint32 {
	return l.DataStartSector - 1
}

// ClusterToSector maps a data cluster (>= 2) to its sector. One sector
// per cluster; clusters need not be multi-sector for a minimal, correct
// implementation.
func (l Layout) ClusterToSector(c uint32) uint32 {
	return l.DataStartSector + (c - firstDataCluster)
}

// SectorForCluster maps any valid cluster number, including the
// reserved root cluster, to its physical sector.
func (l Layout) SectorForCluster(c uint32) uint32 {
	if c == RootDirCluster {
		return l.RootSector()
	}
	return l.ClusterToSector(c)
}

// WriteBootstrap persists the layout to sector 0.
func WriteBootstrap(dev diskio.BlockDevice, l Layout) error {
	buf := make([]byte, diskio.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:], bootstrapMagic)
	binary.LittleEndian.PutUint32(buf[4:], l.FatStartSector)
	binary.LittleEndian.PutUint32(buf[8:], l.FatSectors)
	binary.LittleEndian.PutUint32(buf[12:], l.NumClusters)
	binary.LittleEndian.PutUint32(buf[16:], l.DataStartSector)
	return dev.WriteSector(0, buf)
}

// ReadBootstrap loads the layout from sector 0.
func ReadBootstrap(dev diskio.BlockDevice) (Layout, error) {
	buf := make([]byte, diskio.SectorSize)
	if err := dev.ReadSector(0, buf); err != nil {
		return Layout{}, fmt.Errorf("fat: read bootstrap: %w", err)
	}
	if got := binary.LittleEndian.Uint32(buf[0:]); got != bootstrapMagic {
		return Layout{}, fmt.Errorf("fat: bad bootstrap magic %#x", got)
	}
	return Layout{
		FatStartSector:  binary.LittleEndian.Uint32(buf[4:]),
		FatSectors:      binary.LittleEndian.Uint32(buf[8:]),
		NumClusters:     binary.LittleEndian.Uint32(buf[12:]),
		DataStartSector: binary.LittleEndian.Uint32(buf[16:]),
	}, nil
}

// PlanLayout computes a Layout for a disk of the given total sector count,
// reserving sector 0 for bootstrap, enough sectors for the FAT, one
// sector for the root directory, and the remainder for cluster storage.
func PlanLayout(totalSectors uint32) Layout {
	const bootstrapSectors = 1
	const rootSectors = 1
	available := totalSectors - bootstrapSectors - rootSectors
	entriesPerSector := uint32(diskio.SectorSize / entrySize)

	// Solve (numClusters - firstDataCluster) + fatSectors == available
	// where fatSectors == ceil(numClusters/entriesPerSector); clusters 0
	// and 1 are reserved bookkeeping and consume no data-region sector of
	// their own. Approximate then trim.
	numClusters := available + firstDataCluster
	fatSectors := (numClusters + entriesPerSector - 1) / entriesPerSector
	for fatSectors+(numClusters-firstDataCluster) > available {
		numClusters--
		fatSectors = (numClusters + entriesPerSector - 1) / entriesPerSector
	}

	return Layout{
		FatStartSector:  bootstrapSectors,
		FatSectors:      fatSectors,
		NumClusters:     numClusters,
		DataStartSector: bootstrapSectors + fatSectors + rootSectors,
	}
}
