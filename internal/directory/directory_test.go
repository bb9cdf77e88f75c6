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

package directory_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/directory"
	"kernelfs/internal/diskio"
	"kernelfs/internal/fat"
	"kernelfs/internal/inode"
)

func newTestDir(t *testing.T) (*inode.Store, *directory.Dir, *inode.Inode) {
	t.Helper()
	l := fat.PlanLayout(256)
	dev := diskio.NewMemDevice(256)
	require.NoError(t, fat.WriteBootstrap(dev, l))
	table, err := fat.Format(dev, l.FatStartSector, l.FatSectors, l.NumClusters, nil)
	require.NoError(t, err)
	store := inode.New(dev, table, l, nil)

	sector, err := store.CreateOnDisk(true)
	require.NoError(t, err)
	n, err := store.Open(sector)
	require.NoError(t, err)
	d, err := directory.Create(store, n, 4)
	require.NoError(t, err)
	return store, d, n
}

func TestAddAndLookup(t *testing.T) {
	store, d, self := newTestDir(t)
	require.NoError(t, d.Add(".", self.Sector))
	require.NoError(t, d.Add("..", self.Sector))

	fileSector, err := store.CreateOnDisk(false)
	require.NoError(t, err)
	require.NoError(t, d.Add("f", fileSector))

	found, err := d.Lookup("f")
	require.NoError(t, err)
	require.Equal(t, fileSector, found.Sector)
}

func TestAddRejectsDuplicate(t *testing.T) {
	store, d, _ := newTestDir(t)
	fileSector, err := store.CreateOnDisk(false)
	require.NoError(t, err)
	require.NoError(t, d.Add("f", fileSector))
	require.ErrorIs(t, d.Add("f", fileSector), directory.ErrNameExists)
}

func TestAddRejectsNameTooLong(t *testing.T) {
	_, d, _ := newTestDir(t)
	require.ErrorIs(t, d.Add("this-name-is-way-too-long", 2), directory.ErrNameTooLong)
}

func TestRemoveClearsEntry(t *testing.T) {
	store, d, _ := newTestDir(t)
	fileSector, err := store.CreateOnDisk(false)
	require.NoError(t, err)
	require.NoError(t, d.Add("f", fileSector))

	require.NoError(t, d.Remove("f"))
	_, err = d.Lookup("f")
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestIsEmptyIgnoresDotEntries(t *testing.T) {
	_, d, self := newTestDir(t)
	empty, err := d.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, d.Add(".", self.Sector))
	require.NoError(t, d.Add("..", self.Sector))
	empty, err = d.IsEmpty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestReaddirSkipsRemovedSlots(t *testing.T) {
	store, d, _ := newTestDir(t)
	a, err := store.CreateOnDisk(false)
	require.NoError(t, err)
	b, err := store.CreateOnDisk(false)
	require.NoError(t, err)
	require.NoError(t, d.Add("a", a))
	require.NoError(t, d.Add("b", b))
	require.NoError(t, d.Remove("a"))

	var names []string
	cursor := 0
	for {
		name, next, ok, err := d.Readdir(cursor)
		require.NoError(t, err)
		if !ok {
			break
		}
		names = append(names, name)
		cursor = next
	}
	require.Equal(t, []string{"b"}, names)
}
