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

package inode_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/diskio"
	"kernelfs/internal/fat"
	"kernelfs/internal/inode"
)

func newTestStore(t *testing.T) *inode.Store {
	t.Helper()
	l := fat.PlanLayout(256)
	dev := diskio.NewMemDevice(256)
	require.NoError(t, fat.WriteBootstrap(dev, l))
	table, err := fat.Format(dev, l.FatStartSector, l.FatSectors, l.NumClusters, nil)
	require.NoError(t, err)
	return inode.New(dev, table, l, nil)
}

func TestOpenSameSectorSharesInstance(t *testing.T) {
	st := newTestStore(t)
	sector, err := st.CreateOnDisk(false)
	require.NoError(t, err)

	a, err := st.Open(sector)
	require.NoError(t, err)
	b, err := st.Open(sector)
	require.NoError(t, err)

	require.Same(t, a, b)
	require.EqualValues(t, 2, a.OpenCount)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	st := newTestStore(t)
	sector, err := st.CreateOnDisk(false)
	require.NoError(t, err)
	n, err := st.Open(sector)
	require.NoError(t, err)

	payload := []byte("hello")
	written, err := st.WriteAt(n, payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), written)

	out := make([]byte, len(payload))
	read, err := st.ReadAt(n, out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), read)
	require.Equal(t, payload, out)
}

func TestWritePastEOFExtendsFile(t *testing.T) {
	st := newTestStore(t)
	sector, err := st.CreateOnDisk(false)
	require.NoError(t, err)
	n, err := st.Open(sector)
	require.NoError(t, err)

	_, err = st.WriteAt(n, []byte{0x42}, 4096)
	require.NoError(t, err)
	require.EqualValues(t, 4097, n.Disk.Length)

	out := make([]byte, 4097)
	read, err := st.ReadAt(n, out, 0)
	require.NoError(t, err)
	require.Equal(t, 4097, read)
	for _, b := range out[:4096] {
		require.Zero(t, b)
	}
	require.EqualValues(t, 0x42, out[4096])
}

func TestReadPastEOFReturnsZeroBytes(t *testing.T) {
	st := newTestStore(t)
	sector, err := st.CreateOnDisk(false)
	require.NoError(t, err)
	n, err := st.Open(sector)
	require.NoError(t, err)
	_, err = st.WriteAt(n, []byte("abc"), 0)
	require.NoError(t, err)

	out := make([]byte, 10)
	read, err := st.ReadAt(n, out, 100)
	require.NoError(t, err)
	require.Zero(t, read)
}

func TestDenyWriteBlocksWrites(t *testing.T) {
	st := newTestStore(t)
	sector, err := st.CreateOnDisk(false)
	require.NoError(t, err)
	n, err := st.Open(sector)
	require.NoError(t, err)

	st.DenyWrite(n)
	_, err = st.WriteAt(n, []byte("x"), 0)
	require.ErrorIs(t, err, inode.ErrReadOnly)

	st.AllowWrite(n)
	_, err = st.WriteAt(n, []byte("x"), 0)
	require.NoError(t, err)
}

func TestCloseFreesChainOnceRemovedAndLastClose(t *testing.T) {
	st := newTestStore(t)
	sector, err := st.CreateOnDisk(false)
	require.NoError(t, err)
	n1, err := st.Open(sector)
	require.NoError(t, err)
	n2, err := st.Open(sector)
	require.NoError(t, err)

	_, err = st.WriteAt(n1, []byte("payload"), 0)
	require.NoError(t, err)

	st.Remove(n1)
	require.NoError(t, st.Close(n1))
	// Still one open reference: data must still be readable.
	out := make([]byte, len("payload"))
	read, err := st.ReadAt(n2, out, 0)
	require.NoError(t, err)
	require.Equal(t, "payload", string(out[:read]))

	require.NoError(t, st.Close(n2))
	require.Zero(t, st.FAT().Get(sector)) // chain freed on last close
}
