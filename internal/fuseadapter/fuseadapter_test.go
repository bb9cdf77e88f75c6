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

package fuseadapter

import (
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/require"

	"kernelfs/internal/diskio"
	"kernelfs/internal/kfs"
)

func newTestAdapter(t *testing.T) *fileSystem {
	t.Helper()
	dev := diskio.NewMemDevice(512)
	kfsys, err := kfs.Format(dev, 512, nil)
	require.NoError(t, err)

	server, err := New(kfsys, DefaultOptions(), nil)
	require.NoError(t, err)
	return server.(*fileSystem)
}

func lookup(t *testing.T, fs *fileSystem, parent fuseops.InodeID, name string) *fuseops.LookUpInodeOp {
	t.Helper()
	op := &fuseops.LookUpInodeOp{Parent: parent, Name: name}
	require.NoError(t, fs.LookUpInode(op))
	return op
}

func TestMkDirLookUpAndForget(t *testing.T) {
	fs := newTestAdapter(t)

	mk := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "docs"}
	require.NoError(t, fs.MkDir(mk))
	require.True(t, mk.Entry.Attributes.Mode.IsDir())

	lu := lookup(t, fs, fuseops.RootInodeID, "docs")
	require.Equal(t, mk.Entry.Child, lu.Entry.Child)

	fs.mu.Lock()
	ref := fs.lookups[lu.Entry.Child]
	count := ref.count
	fs.mu.Unlock()
	require.EqualValues(t, 2, count)

	require.NoError(t, fs.ForgetInode(&fuseops.ForgetInodeOp{Inode: lu.Entry.Child, N: 2}))

	fs.mu.Lock()
	_, stillThere := fs.lookups[lu.Entry.Child]
	fs.mu.Unlock()
	require.False(t, stillThere)
}

func TestCreateWriteReadFile(t *testing.T) {
	fs := newTestAdapter(t)

	cf := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "notes.txt"}
	require.NoError(t, fs.CreateFile(cf))
	require.False(t, cf.Entry.Attributes.Mode.IsDir())

	of := &fuseops.OpenFileOp{Inode: cf.Entry.Child}
	require.NoError(t, fs.OpenFile(of))

	payload := []byte("hello from a real mount")
	wf := &fuseops.WriteFileOp{Inode: cf.Entry.Child, Handle: of.Handle, Data: payload, Offset: 0}
	require.NoError(t, fs.WriteFile(wf))

	rf := &fuseops.ReadFileOp{Inode: cf.Entry.Child, Handle: of.Handle, Offset: 0, Size: len(payload)}
	require.NoError(t, fs.ReadFile(rf))
	require.Equal(t, payload, rf.Data)

	require.NoError(t, fs.ReleaseFileHandle(&fuseops.ReleaseFileHandleOp{Handle: of.Handle}))
}

func TestReadDirListsChildren(t *testing.T) {
	fs := newTestAdapter(t)

	require.NoError(t, fs.MkDir(&fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "a"}))
	require.NoError(t, fs.CreateFile(&fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "b"}))

	od := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t, fs.OpenDir(od))

	dst := make([]byte, 4096)
	var offset fuseops.DirOffset
	entryCount := 0
	for {
		op := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Handle: od.Handle, Offset: offset, Dst: dst}
		require.NoError(t, fs.ReadDir(op))
		if op.BytesRead == 0 {
			break
		}
		entryCount++
		offset++
	}
	require.Equal(t, 2, entryCount)

	require.NoError(t, fs.ReleaseDirHandle(&fuseops.ReleaseDirHandleOp{Handle: od.Handle}))
}

func TestSymlinkRoundTrip(t *testing.T) {
	fs := newTestAdapter(t)

	cs := &fuseops.CreateSymlinkOp{Parent: fuseops.RootInodeID, Name: "link", Target: "/b"}
	require.NoError(t, fs.CreateSymlink(cs))

	rs := &fuseops.ReadSymlinkOp{Inode: cs.Entry.Child}
	require.NoError(t, fs.ReadSymlink(rs))
	require.Equal(t, "/b", rs.Target)
}

func TestUnlinkAndRmDir(t *testing.T) {
	fs := newTestAdapter(t)

	require.NoError(t, fs.CreateFile(&fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f"}))
	require.NoError(t, fs.Unlink(&fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "f"}))

	require.NoError(t, fs.MkDir(&fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d"}))
	require.NoError(t, fs.RmDir(&fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "d"}))
}
