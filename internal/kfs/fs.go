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

// Package kfs is the public file-system facade: every entry point here
// that reads or changes shared file-system state holds the single
// file-system lock for its entire duration. The lock runs the invariant
// checks on acquisition and release only when syncutil's invariant
// checking is enabled.
package kfs

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jacobsa/syncutil"

	"kernelfs/internal/diskio"
	"kernelfs/internal/directory"
	"kernelfs/internal/fat"
	"kernelfs/internal/inode"
	"kernelfs/internal/invariant"
	"kernelfs/internal/pathresolve"
)

const rootEntryCount = 16

// FileSystem owns the single coarse lock guarding the FAT,
// inode registry, and directory entries it wraps. Its exported methods
// other than FAT and the pathresolve.Opener hooks (Root, OpenDir, Close)
// acquire the lock for their whole duration, including any disk I/O —
// that is deliberate
type FileSystem struct {
	mu         syncutil.InvariantMutex
	store      *inode.Store
	rootSector uint32
	mountID    uuid.UUID
	log        *slog.Logger
}

// Format lays down a fresh bootstrap sector, FAT, and root directory on
// dev, sized to totalSectors.
func Format(dev diskio.BlockDevice, totalSectors uint32, log *slog.Logger) (*FileSystem, error) {
	if log == nil {
		log = slog.Default()
	}
	layout := fat.PlanLayout(totalSectors)
	if err := fat.WriteBootstrap(dev, layout); err != nil {
		return nil, fmt.Errorf("kfs: format: %w", err)
	}
	table, err := fat.Format(dev, layout.FatStartSector, layout.FatSectors, layout.NumClusters, log)
	if err != nil {
		return nil, fmt.Errorf("kfs: format: %w", err)
	}
	store := inode.New(dev, table, layout, log)

	rootSector, err := store.CreateRootOnDisk()
	if err != nil {
		return nil, fmt.Errorf("kfs: format root: %w", err)
	}

	rootNode, err := store.Open(rootSector)
	if err != nil {
		return nil, err
	}
	rootDir, err := directory.Create(store, rootNode, rootEntryCount)
	if err != nil {
		return nil, err
	}
	// Root's `.` and `..` both point to root.
	if err := rootDir.Add(".", rootSector); err != nil {
		return nil, err
	}
	if err := rootDir.Add("..", rootSector); err != nil {
		return nil, err
	}
	if err := store.Close(rootNode); err != nil {
		return nil, err
	}
	if err := table.Flush(); err != nil {
		return nil, err
	}

	return newFileSystem(store, rootSector, log), nil
}

// Mount loads an already-formatted disk.
func Mount(dev diskio.BlockDevice, log *slog.Logger) (*FileSystem, error) {
	if log == nil {
		log = slog.Default()
	}
	layout, err := fat.ReadBootstrap(dev)
	if err != nil {
		return nil, fmt.Errorf("kfs: mount: %w", err)
	}
	table, err := fat.Load(dev, layout.FatStartSector, layout.FatSectors, layout.NumClusters, log)
	if err != nil {
		return nil, fmt.Errorf("kfs: mount: %w", err)
	}
	store := inode.New(dev, table, layout, log)
	return newFileSystem(store, fat.RootDirCluster, log), nil
}

func newFileSystem(store *inode.Store, rootSector uint32, log *slog.Logger) *FileSystem {
	fs := &FileSystem{
		store:      store,
		rootSector: rootSector,
		mountID:    uuid.New(),
		log:        log,
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fs
}

// Unmount flushes the FAT back to disk.
func (fs *FileSystem) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.store.FAT().Flush()
}

func (fs *FileSystem) checkInvariants() {
	invariant.Check(fs.store != nil, "nil inode store")
	fs.store.CheckInvariants()
}

// CheckInvariants runs the same checks the InvariantMutex runs on every
// lock/unlock under race-detector builds, but unconditionally and with
// violations reported as an error instead of a panic, for use by an
// offline fsck pass.
func (fs *FileSystem) CheckInvariants() (err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kfs: %v", r)
		}
	}()
	fs.checkInvariants()
	return nil
}

// OpenDir implements pathresolve.Opener. Callers must already hold fs.mu.
func (fs *FileSystem) OpenDir(sector uint32) (*inode.Inode, *directory.Dir, error) {
	n, err := fs.store.Open(sector)
	if err != nil {
		return nil, nil, err
	}
	d, err := directory.Open(fs.store, n)
	if err != nil {
		fs.store.Close(n)
		return nil, nil, err
	}
	return n, d, nil
}

// Close implements pathresolve.Opener.
func (fs *FileSystem) Close(n *inode.Inode) error {
	return fs.store.Close(n)
}

// Root implements pathresolve.Opener.
func (fs *FileSystem) Root() uint32 { return fs.rootSector }

// FAT exposes the free-space table for metrics polling.
func (fs *FileSystem) FAT() *fat.Table { return fs.store.FAT() }

var _ pathresolve.Opener = (*FileSystem)(nil)
