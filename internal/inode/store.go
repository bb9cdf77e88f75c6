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

package inode

import (
	"errors"
	"fmt"
	"log/slog"

	"kernelfs/internal/diskio"
	"kernelfs/internal/fat"
	"kernelfs/internal/invariant"
)

// Sentinel errors surfaced to callers.
var (
	ErrOutOfSpace = errors.New("inode: out of space")
	ErrReadOnly   = errors.New("inode: read-only (deny_write in effect)")
)

// Inode is the in-memory cached record for one on-disk inode sector.
// All open() calls for the same sector return the same *Inode with an
// incremented open count; the Store is its sole strong owner. Callers
// must hold the enclosing file system's single lock for every method.
type Inode struct {
	Sector         uint32
	OpenCount      uint32
	Removed        bool
	DenyWriteCount uint32
	Disk           OnDisk
}

func (n *Inode) IsDir() bool  { return n.Disk.isDir() }
func (n *Inode) IsLink() bool { return n.Disk.isLink() }

// Store owns the on-disk layout, the FAT table, and the registry of
// currently-open inodes keyed by sector.
type Store struct {
	dev      diskio.BlockDevice
	fat      *fat.Table
	layout   fat.Layout
	registry map[uint32]*Inode
	log      *slog.Logger
}

// New constructs a Store over an already-loaded FAT and layout.
func New(dev diskio.BlockDevice, table *fat.Table, layout fat.Layout, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		dev:      dev,
		fat:      table,
		layout:   layout,
		registry: make(map[uint32]*Inode),
		log:      log,
	}
}

// FAT exposes the underlying allocation table, needed by directory/create
// operations that allocate a new inode's first cluster.
func (s *Store) FAT() *fat.Table { return s.fat }

// Layout exposes the disk geometry.
func (s *Store) Layout() fat.Layout { return s.layout }

// Open reads the inode at sector, or returns the already-cached copy with
// an incremented OpenCount.
func (s *Store) Open(sector uint32) (*Inode, error) {
	if n, ok := s.registry[sector]; ok {
		n.OpenCount++
		s.log.Debug("inode: reusing cached inode", "sector", sector, "open_count", n.OpenCount)
		return n, nil
	}

	buf := make([]byte, diskio.SectorSize)
	if err := s.dev.ReadSector(s.layout.SectorForCluster(sector), buf); err != nil {
		return nil, fmt.Errorf("inode: read sector %d: %w", sector, err)
	}
	disk, err := unmarshalOnDisk(buf)
	if err != nil {
		return nil, err
	}
	n := &Inode{Sector: sector, OpenCount: 1, Disk: disk}
	s.registry[sector] = n
	s.log.Debug("inode: opened new inode", "sector", sector, "is_dir", n.IsDir())
	return n, nil
}

// CreateOnDisk allocates a chain head and writes a fresh inode record
// there, returning its sector (== the allocated cluster, since one sector
// per cluster).
func (s *Store) CreateOnDisk(isDir bool) (uint32, error) {
	c := s.fat.CreateChain(0)
	if c == 0 {
		return 0, ErrOutOfSpace
	}
	d := newOnDisk(0, isDir, false)
	if err := s.writeDisk(c, d); err != nil {
		s.fat.RemoveChain(c, 0)
		return 0, err
	}
	return c, nil
}

// CreateRootOnDisk writes a fresh root-directory inode at the fixed
// RootDirCluster. fat.Format has already reserved that cluster as an
// EOC chain head, so unlike CreateOnDisk this does not go through the
// first-fit allocator: the root's location is a disk-wide convention,
// not something Format and Mount can land on differently.
func (s *Store) CreateRootOnDisk() (uint32, error) {
	d := newOnDisk(0, true, false)
	if err := s.writeDisk(fat.RootDirCluster, d); err != nil {
		return 0, err
	}
	return fat.RootDirCluster, nil
}

// CreateSymlinkOnDisk allocates a chain head holding a symlink inode whose
// body is the target path.
func (s *Store) CreateSymlinkOnDisk(target string) (uint32, error) {
	d, err := newSymlink(target)
	if err != nil {
		return 0, err
	}
	c := s.fat.CreateChain(0)
	if c == 0 {
		return 0, ErrOutOfSpace
	}
	if err := s.writeDisk(c, d); err != nil {
		s.fat.RemoveChain(c, 0)
		return 0, err
	}
	return c, nil
}

func (s *Store) writeDisk(sector uint32, d OnDisk) error {
	if err := s.dev.WriteSector(s.layout.SectorForCluster(sector), d.marshal()); err != nil {
		return fmt.Errorf("inode: write sector %d: %w", sector, err)
	}
	return nil
}

func (s *Store) syncDisk(n *Inode) error {
	return s.writeDisk(n.Sector, n.Disk)
}

// Close decrements OpenCount; at zero it removes the inode from the
// registry and, if Removed was set, frees its FAT chain.
func (s *Store) Close(n *Inode) error {
	invariant.Check(n.OpenCount > 0, "close of inode with open_count == 0 (sector %d)", n.Sector)
	n.OpenCount--
	if n.OpenCount > 0 {
		return nil
	}
	delete(s.registry, n.Sector)
	if n.Removed {
		s.fat.RemoveChain(n.Disk.Start, 0)
		s.fat.RemoveChain(n.Sector, 0)
		s.log.Debug("inode: freed chain on last close", "sector", n.Sector)
	}
	return nil
}

// Remove marks n for deferred deallocation on last close.
func (s *Store) Remove(n *Inode) {
	n.Removed = true
}

// DenyWrite/AllowWrite bracket the deny-write counter.
func (s *Store) DenyWrite(n *Inode) {
	invariant.Check(n.DenyWriteCount < n.OpenCount, "deny_write_count would exceed open_count (sector %d)", n.Sector)
	n.DenyWriteCount++
}

func (s *Store) AllowWrite(n *Inode) {
	invariant.Check(n.DenyWriteCount > 0, "allow_write with deny_write_count == 0 (sector %d)", n.Sector)
	n.DenyWriteCount--
}

// ReadAt reads up to len(buf) bytes starting at off, returning the number
// of bytes actually read (short on EOF).
func (s *Store) ReadAt(n *Inode, buf []byte, off uint32) (int, error) {
	if off >= n.Disk.Length {
		return 0, nil
	}
	want := uint32(len(buf))
	if off+want > n.Disk.Length {
		want = n.Disk.Length - off
	}
	var done uint32
	bounce := make([]byte, diskio.SectorSize)
	for done < want {
		sectorIdx := (off + done) / diskio.SectorSize
		sectorOff := (off + done) % diskio.SectorSize
		chunk := diskio.SectorSize - sectorOff
		if chunk > want-done {
			chunk = want - done
		}

		sector, err := s.sectorForIndex(n, sectorIdx)
		if err != nil {
			return int(done), err
		}
		if sectorOff == 0 && chunk == diskio.SectorSize {
			if err := s.dev.ReadSector(sector, buf[done:done+chunk]); err != nil {
				return int(done), err
			}
		} else {
			if err := s.dev.ReadSector(sector, bounce); err != nil {
				return int(done), err
			}
			copy(buf[done:done+chunk], bounce[sectorOff:sectorOff+chunk])
		}
		done += chunk
	}
	return int(done), nil
}

// WriteAt writes len(buf) bytes at off, growing the file if necessary
//. Returns 0 if a deny-write is in effect.
func (s *Store) WriteAt(n *Inode, buf []byte, off uint32) (int, error) {
	if n.DenyWriteCount > 0 {
		return 0, ErrReadOnly
	}

	end := off + uint32(len(buf))
	if end > n.Disk.Length {
		if err := s.grow(n, end); err != nil {
			return 0, err
		}
	}

	var done uint32
	want := uint32(len(buf))
	bounce := make([]byte, diskio.SectorSize)
	for done < want {
		sectorIdx := (off + done) / diskio.SectorSize
		sectorOff := (off + done) % diskio.SectorSize
		chunk := diskio.SectorSize - sectorOff
		if chunk > want-done {
			chunk = want - done
		}

		sector, err := s.sectorForIndex(n, sectorIdx)
		if err != nil {
			return int(done), err
		}

		if sectorOff == 0 && chunk == diskio.SectorSize {
			if err := s.dev.WriteSector(sector, buf[done:done+chunk]); err != nil {
				return int(done), err
			}
		} else {
			// Partial-sector write: read-modify-write through a bounce buffer.
			if err := s.dev.ReadSector(sector, bounce); err != nil {
				return int(done), err
			}
			copy(bounce[sectorOff:sectorOff+chunk], buf[done:done+chunk])
			if err := s.dev.WriteSector(sector, bounce); err != nil {
				return int(done), err
			}
		}
		done += chunk
	}
	return int(done), nil
}

// grow extends n's FAT chain so it can hold newLength bytes, then updates
// and persists Disk.Length. A failure during chain extension leaves the
// already-allocated partial chain in place and does not update Length.
func (s *Store) grow(n *Inode, newLength uint32) error {
	oldSectors := bytesToSectors(n.Disk.Length)
	newSectors := bytesToSectors(newLength)

	if n.Disk.Start == 0 && newSectors > 0 {
		c := s.fat.CreateChain(0)
		if c == 0 {
			return ErrOutOfSpace
		}
		n.Disk.Start = c
		oldSectors = 1
	}

	tail := s.lastCluster(n.Disk.Start)
	for i := oldSectors; i < newSectors; i++ {
		c := s.fat.CreateChain(tail)
		if c == 0 {
			return ErrOutOfSpace
		}
		tail = c
	}

	n.Disk.Length = newLength
	return s.syncDisk(n)
}

func (s *Store) lastCluster(start uint32) uint32 {
	c := start
	for {
		next := s.fat.Get(c)
		if next == fat.EOC {
			return c
		}
		c = next
	}
}

// sectorForIndex walks the chain from Disk.Start to the sectorIdx-th
// cluster and returns its physical sector.
func (s *Store) sectorForIndex(n *Inode, sectorIdx uint32) (uint32, error) {
	c := n.Disk.Start
	invariant.Check(c != 0, "sectorForIndex on empty inode (sector %d)", n.Sector)
	for i := uint32(0); i < sectorIdx; i++ {
		next := s.fat.Get(c)
		invariant.Check(next != fat.EOC, "chain shorter than file length (sector %d, index %d)", n.Sector, sectorIdx)
		c = next
	}
	return s.layout.ClusterToSector(c), nil
}

// Sync writes back n's inode sector, used after any metadata mutation
// outside grow (e.g. symlink creation already writes at creation time).
func (s *Store) Sync(n *Inode) error {
	return s.syncDisk(n)
}

// CheckInvariants validates every registered inode's bookkeeping:
// deny_write_count <= open_count, and open_count > 0 for anything still
// present in the registry (it would have been evicted on last close
// otherwise).
func (s *Store) CheckInvariants() {
	for sector, n := range s.registry {
		invariant.Check(n.Sector == sector, "registry key %d != inode.Sector %d", sector, n.Sector)
		invariant.Check(n.OpenCount > 0, "registered inode with open_count == 0 (sector %d)", sector)
		invariant.Check(n.DenyWriteCount <= n.OpenCount, "deny_write_count %d > open_count %d (sector %d)", n.DenyWriteCount, n.OpenCount, sector)
	}
}
