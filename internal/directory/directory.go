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

// Package directory implements directory entries stored inside a
// directory inode's data: a packed array of fixed-size
// records, linear-scanned for lookup/add/remove, with the `.`/`..`
// invariants maintained by the caller that creates a new directory.
package directory

import (
	"encoding/binary"
	"errors"
	"fmt"

	"kernelfs/internal/inode"
)

// NameLen is the maximum entry name length, excluding the NUL terminator.
const NameLen = 14

const entrySize = 4 + 4 + (NameLen + 1) // in_use + inode_sector + name[15]

var (
	// ErrNameTooLong is returned when a name exceeds NameLen.
	ErrNameTooLong = errors.New("directory: name too long")
	// ErrNameExists is returned by Add when name is already in use.
	ErrNameExists = errors.New("directory: name already exists")
	// ErrNotFound is returned by Lookup/Remove when name has no entry.
	ErrNotFound = errors.New("directory: name not found")
)

// Entry is one directory record.
type Entry struct {
	InUse       bool
	InodeSector uint32
	Name        string
}

func (e Entry) marshal() []byte {
	buf := make([]byte, entrySize)
	if e.InUse {
		binary.LittleEndian.PutUint32(buf[0:], 1)
	}
	binary.LittleEndian.PutUint32(buf[4:], e.InodeSector)
	copy(buf[8:8+NameLen], e.Name)
	return buf
}

func unmarshalEntry(buf []byte) Entry {
	inUse := binary.LittleEndian.Uint32(buf[0:]) != 0
	sector := binary.LittleEndian.Uint32(buf[4:])
	n := 0
	for n < NameLen && buf[8+n] != 0 {
		n++
	}
	return Entry{InUse: inUse, InodeSector: sector, Name: string(buf[8 : 8+n])}
}

// Dir is a thin wrapper presenting a directory inode's data as an entry
// array, backed by the shared inode.Store for I/O.
type Dir struct {
	store *inode.Store
	node  *inode.Inode
}

// Open wraps an already-open directory inode.
func Open(store *inode.Store, n *inode.Inode) (*Dir, error) {
	if !n.IsDir() {
		return nil, fmt.Errorf("directory: sector %d is not a directory", n.Sector)
	}
	return &Dir{store: store, node: n}, nil
}

// Create initializes a fresh directory inode (already allocated by the
// caller) with room for entryCnt entries, all initially empty.
func Create(store *inode.Store, n *inode.Inode, entryCnt int) (*Dir, error) {
	d := &Dir{store: store, node: n}
	blank := make([]byte, entrySize*entryCnt)
	if _, err := store.WriteAt(n, blank, 0); err != nil {
		return nil, fmt.Errorf("directory: create: %w", err)
	}
	return d, nil
}

func (d *Dir) entryCount() int {
	return int(d.node.Disk.Length) / entrySize
}

func (d *Dir) readEntry(i int) (Entry, error) {
	buf := make([]byte, entrySize)
	_, err := d.store.ReadAt(d.node, buf, uint32(i*entrySize))
	if err != nil {
		return Entry{}, err
	}
	return unmarshalEntry(buf), nil
}

func (d *Dir) writeEntry(i int, e Entry) error {
	_, err := d.store.WriteAt(d.node, e.marshal(), uint32(i*entrySize))
	return err
}

// Lookup linear-scans for an in-use entry named name, opening its inode
// on a match.
func (d *Dir) Lookup(name string) (*inode.Inode, error) {
	for i := 0; i < d.entryCount(); i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return nil, err
		}
		if e.InUse && e.Name == name {
			return d.store.Open(e.InodeSector)
		}
	}
	return nil, ErrNotFound
}

// Has reports whether name resolves to an in-use entry, without opening
// its inode.
func (d *Dir) Has(name string) (bool, error) {
	for i := 0; i < d.entryCount(); i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return false, err
		}
		if e.InUse && e.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Add inserts a new entry, rejecting a duplicate name. It reuses the
// first non-in-use slot, or grows the directory by one entry.
func (d *Dir) Add(name string, sector uint32) error {
	if len(name) > NameLen {
		return ErrNameTooLong
	}
	exists, err := d.Has(name)
	if err != nil {
		return err
	}
	if exists {
		return ErrNameExists
	}

	n := d.entryCount()
	for i := 0; i < n; i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return err
		}
		if !e.InUse {
			return d.writeEntry(i, Entry{InUse: true, InodeSector: sector, Name: name})
		}
	}
	// No free slot: grow the directory file by one entry.
	return d.writeEntry(n, Entry{InUse: true, InodeSector: sector, Name: name})
}

// Remove clears name's in-use flag and marks the target inode removed
// (deferred deallocation to last close).
func (d *Dir) Remove(name string) error {
	for i := 0; i < d.entryCount(); i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return err
		}
		if e.InUse && e.Name == name {
			target, err := d.store.Open(e.InodeSector)
			if err != nil {
				return err
			}
			if err := d.writeEntry(i, Entry{}); err != nil {
				return err
			}
			d.store.Remove(target)
			return d.store.Close(target)
		}
	}
	return ErrNotFound
}

// IsEmpty reports whether the directory contains only `.` and `..`.
func (d *Dir) IsEmpty() (bool, error) {
	for i := 0; i < d.entryCount(); i++ {
		e, err := d.readEntry(i)
		if err != nil {
			return false, err
		}
		if e.InUse && e.Name != "." && e.Name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// Readdir advances cursor past non-in-use entries and returns the next
// in-use entry's name along with the cursor to resume from.
// The external wrapper (kfs) is responsible for skipping `.`/`..`.
func (d *Dir) Readdir(cursor int) (name string, nextCursor int, ok bool, err error) {
	n := d.entryCount()
	for i := cursor; i < n; i++ {
		e, rerr := d.readEntry(i)
		if rerr != nil {
			return "", cursor, false, rerr
		}
		if e.InUse {
			return e.Name, i + 1, true, nil
		}
	}
	return "", n, false, nil
}
