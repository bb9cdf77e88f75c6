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

package kfs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kernelfs/internal/diskio"
)

func newTestFS(t *testing.T) *FileSystem {
	t.Helper()
	dev := diskio.NewMemDevice(512)
	fs, err := Format(dev, 512, nil)
	require.NoError(t, err)
	return fs
}

func newTestSession(t *testing.T) (*FileSystem, *Session) {
	t.Helper()
	fs := newTestFS(t)
	sess, err := NewSession(fs)
	require.NoError(t, err)
	return fs, sess
}

func TestMkdirCreateWriteReadRoundTrip(t *testing.T) {
	_, sess := newTestSession(t)

	require.NoError(t, sess.Mkdir("docs"))
	require.NoError(t, sess.Chdir("docs"))
	require.NoError(t, sess.Create("notes.txt", 0))

	h, err := sess.Open("notes.txt")
	require.NoError(t, err)

	payload := []byte("hello kernelfs")
	n, err := sess.Write(h, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.EqualValues(t, len(payload), sess.Filesize(h))

	sess.Seek(h, 0)
	buf := make([]byte, len(payload))
	n, err = sess.Read(h, buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.Equal(t, payload, buf)

	require.NoError(t, sess.CloseHandle(h))
}

func TestWritePastEOFGrowsFile(t *testing.T) {
	_, sess := newTestSession(t)
	require.NoError(t, sess.Create("grow.bin", 0))

	h, err := sess.Open("grow.bin")
	require.NoError(t, err)

	sess.Seek(h, 1000)
	n, err := sess.Write(h, []byte("tail"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.EqualValues(t, 1004, sess.Filesize(h))

	require.NoError(t, sess.CloseHandle(h))
}

func TestRemoveOfOpenFileDeferredUntilLastClose(t *testing.T) {
	_, sess := newTestSession(t)
	require.NoError(t, sess.Create("doomed.txt", 0))

	h, err := sess.Open("doomed.txt")
	require.NoError(t, err)

	require.NoError(t, sess.Remove("doomed.txt"))

	// Still usable while the handle is open.
	_, err = sess.Write(h, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, sess.CloseHandle(h))

	_, err = sess.Open("doomed.txt")
	require.ErrorIs(t, err, ErrNoSuchPath)
}

func TestRemoveNonEmptyDirectoryFails(t *testing.T) {
	_, sess := newTestSession(t)
	require.NoError(t, sess.Mkdir("sub"))
	require.NoError(t, sess.Chdir("sub"))
	require.NoError(t, sess.Create("f", 0))
	require.NoError(t, sess.Chdir(".."))

	err := sess.Remove("sub")
	require.ErrorIs(t, err, ErrDirectoryNotEmpty)
}

func TestRemoveCwdFails(t *testing.T) {
	_, sess := newTestSession(t)
	require.NoError(t, sess.Mkdir("sub"))
	require.NoError(t, sess.Chdir("sub"))

	err := sess.Remove(".")
	require.ErrorIs(t, err, ErrDirectoryBusy)
}

func TestSymlinkDanglingAfterTargetRemoved(t *testing.T) {
	_, sess := newTestSession(t)
	require.NoError(t, sess.Create("real.txt", 0))
	require.NoError(t, sess.Symlink("real.txt", "link.txt"))

	h, err := sess.Open("link.txt")
	require.NoError(t, err)
	require.NoError(t, sess.CloseHandle(h))

	require.NoError(t, sess.Remove("real.txt"))

	_, err = sess.Open("link.txt")
	require.ErrorIs(t, err, ErrNoSuchPath)
}

func TestReaddirSkipsDotEntries(t *testing.T) {
	_, sess := newTestSession(t)
	require.NoError(t, sess.Mkdir("a"))
	require.NoError(t, sess.Mkdir("b"))

	root, err := sess.Open(".")
	require.NoError(t, err)

	seen := map[string]bool{}
	for {
		name, ok, err := sess.Readdir(root)
		require.NoError(t, err)
		if !ok {
			break
		}
		seen[name] = true
	}
	require.NoError(t, sess.CloseHandle(root))

	require.Equal(t, map[string]bool{"a": true, "b": true}, seen)
}

func TestDenyWriteBlocksWrites(t *testing.T) {
	_, sess := newTestSession(t)
	require.NoError(t, sess.Create("locked.txt", 0))

	h, err := sess.Open("locked.txt")
	require.NoError(t, err)
	require.NoError(t, sess.DenyWrite(h))

	_, err = sess.Write(h, []byte("nope"))
	require.ErrorIs(t, err, ErrReadOnly)

	require.NoError(t, sess.AllowWrite(h))
	_, err = sess.Write(h, []byte("ok"))
	require.NoError(t, err)

	require.NoError(t, sess.CloseHandle(h))
}
