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

package fat_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/diskio"
	"kernelfs/internal/fat"
)

func newTestTable(t *testing.T, numClusters uint32) (*fat.Table, diskio.BlockDevice) {
	t.Helper()
	dev := diskio.NewMemDevice(1 + numClusters) // plenty of FAT + data sectors
	table, err := fat.Format(dev, 1, numClusters, numClusters, nil)
	require.NoError(t, err)
	return table, dev
}

func TestCreateChainLinksAndAllocates(t *testing.T) {
	table, _ := newTestTable(t, 16)

	head := table.CreateChain(0)
	require.NotZero(t, head)
	require.Equal(t, fat.EOC, table.Get(head))

	next := table.CreateChain(head)
	require.NotZero(t, next)
	require.Equal(t, next, table.Get(head))
	require.Equal(t, fat.EOC, table.Get(next))
	require.Equal(t, 2, table.ChainLength(head))
}

func TestCreateChainOutOfSpace(t *testing.T) {
	// A 2-cluster table holds only the reserved clusters 0 and 1, so no
	// cluster is free to allocate.
	table, _ := newTestTable(t, 2)
	require.Zero(t, table.CreateChain(0))
}

func TestRemoveChainFreesAll(t *testing.T) {
	table, _ := newTestTable(t, 8)
	a := table.CreateChain(0)
	b := table.CreateChain(a)
	c := table.CreateChain(b)

	table.RemoveChain(a, 0)

	require.Equal(t, fat.Free, table.Get(a))
	require.Equal(t, fat.Free, table.Get(b))
	require.Equal(t, fat.Free, table.Get(c))
}

func TestRemoveChainTruncatesAtPclust(t *testing.T) {
	table, _ := newTestTable(t, 8)
	a := table.CreateChain(0)
	b := table.CreateChain(a)
	_ = table.CreateChain(b)

	// Truncate the chain to just "a", freeing everything from b onward.
	table.RemoveChain(b, a)

	require.Equal(t, fat.EOC, table.Get(a))
	require.Equal(t, fat.Free, table.Get(b))
}

func TestFormatReservesRootCluster(t *testing.T) {
	table, _ := newTestTable(t, 8)
	require.Equal(t, fat.EOC, table.Get(fat.RootDirCluster))
}

func TestLoadRoundTrip(t *testing.T) {
	dev := diskio.NewMemDevice(32)
	table, err := fat.Format(dev, 1, 16, 16, nil)
	require.NoError(t, err)
	head := table.CreateChain(0)
	require.NoError(t, table.Flush())

	reloaded, err := fat.Load(dev, 1, 16, 16, nil)
	require.NoError(t, err)
	require.Equal(t, fat.EOC, reloaded.Get(head))
}

func TestPlanLayoutFitsDisk(t *testing.T) {
	l := fat.PlanLayout(1024)
	require.Equal(t, l.FatStartSector+l.FatSectors+1, l.DataStartSector)
	require.Equal(t, l.DataStartSector-1, l.RootSector())
	lastCluster := l.NumClusters - 1
	require.Less(t, l.ClusterToSector(lastCluster), uint32(1024))
}
