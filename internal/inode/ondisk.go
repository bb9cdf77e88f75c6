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

// Package inode implements the on-disk inode record and the
// in-memory open-inode registry with reference-counted lifetime.
package inode

import (
	"encoding/binary"
	"fmt"

	"kernelfs/internal/diskio"
	"kernelfs/internal/invariant"
)

// Magic identifies a valid inode sector.
const Magic uint32 = 0x494E4F44 // "INOD"

// LinkPathLen is the capacity of the symlink target field, sized so the whole record is exactly one sector:
// 5 uint32 fields (20 bytes) + 492 = 512.
const LinkPathLen = 492

// OnDisk is the exactly-one-sector inode record.
type OnDisk struct {
	Start    uint32 // first cluster of data, 0 if empty
	Length   uint32 // file size in bytes
	Magic    uint32
	IsDir    uint32 // 0 = file, 1 = directory
	IsLink   uint32 // 0 = regular, 1 = symlink
	LinkPath [LinkPathLen]byte
}

func (d OnDisk) isDir() bool  { return d.IsDir != 0 }
func (d OnDisk) isLink() bool { return d.IsLink != 0 }

// LinkTarget returns the NUL-terminated symlink target string. Valid only
// when IsLink != 0.
func (d OnDisk) LinkTarget() string {
	n := 0
	for n < len(d.LinkPath) && d.LinkPath[n] != 0 {
		n++
	}
	return string(d.LinkPath[:n])
}

func newOnDisk(start uint32, isDir, isLink bool) OnDisk {
	d := OnDisk{Start: start, Magic: Magic}
	if isDir {
		d.IsDir = 1
	}
	if isLink {
		d.IsLink = 1
	}
	return d
}

func newSymlink(target string) (OnDisk, error) {
	if len(target) >= LinkPathLen {
		return OnDisk{}, fmt.Errorf("inode: symlink target too long (%d bytes)", len(target))
	}
	d := newOnDisk(0, false, true)
	copy(d.LinkPath[:], target)
	return d, nil
}

// marshal encodes the record into a single sector-sized buffer.
func (d OnDisk) marshal() []byte {
	buf := make([]byte, diskio.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:], d.Start)
	binary.LittleEndian.PutUint32(buf[4:], d.Length)
	binary.LittleEndian.PutUint32(buf[8:], d.Magic)
	binary.LittleEndian.PutUint32(buf[12:], d.IsDir)
	binary.LittleEndian.PutUint32(buf[16:], d.IsLink)
	copy(buf[20:], d.LinkPath[:])
	return buf
}

// unmarshalOnDisk decodes a sector-sized buffer into an OnDisk record,
// validating the magic.
func unmarshalOnDisk(buf []byte) (OnDisk, error) {
	if len(buf) != diskio.SectorSize {
		return OnDisk{}, fmt.Errorf("inode: buffer must be %d bytes, got %d", diskio.SectorSize, len(buf))
	}
	d := OnDisk{
		Start:  binary.LittleEndian.Uint32(buf[0:]),
		Length: binary.LittleEndian.Uint32(buf[4:]),
		Magic:  binary.LittleEndian.Uint32(buf[8:]),
		IsDir:  binary.LittleEndian.Uint32(buf[12:]),
		IsLink: binary.LittleEndian.Uint32(buf[16:]),
	}
	copy(d.LinkPath[:], buf[20:])
	invariant.Check(d.Magic == Magic, "inode magic: got %#x, want %#x", d.Magic, Magic)
	return d, nil
}

// bytesToSectors computes ceil(n / SectorSize), used by the growth
// algorithm to compare old and new sector counts for a resize.
func bytesToSectors(n uint32) uint32 {
	return (n + diskio.SectorSize - 1) / diskio.SectorSize
}
