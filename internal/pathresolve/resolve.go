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

// Package pathresolve walks `/`-separated paths with bounded-depth symlink
// following.
package pathresolve

import (
	"errors"
	"strings"

	"kernelfs/internal/directory"
	"kernelfs/internal/inode"
)

// MaxSymlinkDepth bounds symlink substitution.
const MaxSymlinkDepth = 8

var (
	// ErrNoSuchPath is returned when an intermediate path component does
	// not resolve to an existing entry.
	ErrNoSuchPath = errors.New("pathresolve: no such path")
	// ErrNotADirectory is returned when an intermediate component resolves
	// to a non-directory.
	ErrNotADirectory = errors.New("pathresolve: not a directory")
	// ErrBrokenSymlink is returned when symlink substitution exceeds
	// MaxSymlinkDepth.
	ErrBrokenSymlink = errors.New("pathresolve: broken or cyclic symlink")
)

// Opener abstracts the directory operations the resolver needs, satisfied
// by *kfs.FileSystem so this package stays independent of the FS
// facade's lock/handle bookkeeping.
type Opener interface {
	// OpenDir opens the directory inode at sector as a *directory.Dir,
	// alongside the underlying inode for reference counting.
	OpenDir(sector uint32) (*inode.Inode, *directory.Dir, error)
	// Close releases a reference obtained via OpenDir/Lookup.
	Close(n *inode.Inode) error
	// Root returns the root directory's inode sector.
	Root() uint32
}

// Result is the resolved (containing directory, leaf name) pair.
// DirNode/Dir must be released by the caller via Opener.Close when done.
type Result struct {
	DirNode *inode.Inode
	Dir     *directory.Dir
	Leaf    string
}

// Resolve walks path component by component. start is the sector of the
// directory resolution begins from when path is relative; an absolute
// path (leading "/") always begins at root. deepSearch controls whether
// a symlink named by the final token is itself resolved.
func Resolve(o Opener, start uint32, path string, deepSearch bool) (Result, error) {
	return resolve(o, start, path, deepSearch, 0)
}

func resolve(o Opener, start uint32, path string, deepSearch bool, depth int) (Result, error) {
	cur := start
	if strings.HasPrefix(path, "/") {
		cur = o.Root()
	}
	tokens := tokenize(path)
	if len(tokens) == 0 {
		dirNode, dir, err := o.OpenDir(cur)
		if err != nil {
			return Result{}, err
		}
		return Result{DirNode: dirNode, Dir: dir, Leaf: "."}, nil
	}

	dirNode, dir, err := o.OpenDir(cur)
	if err != nil {
		return Result{}, err
	}

	for len(tokens) > 1 {
		tok := tokens[0]
		target, lookErr := dir.Lookup(tok)
		if lookErr != nil {
			o.Close(dirNode)
			return Result{}, ErrNoSuchPath
		}

		if target.IsLink() {
			remaining := tokens[1:]
			linkPath := target.Disk.LinkTarget()
			relativeTo := dirNode.Sector
			o.Close(target)
			o.Close(dirNode)
			return followSymlink(o, relativeTo, linkPath, remaining, deepSearch, depth)
		}

		if !target.IsDir() {
			o.Close(target)
			o.Close(dirNode)
			return Result{}, ErrNotADirectory
		}

		nextDirNode, nextDir, openErr := o.OpenDir(target.Sector)
		o.Close(target)
		o.Close(dirNode)
		if openErr != nil {
			return Result{}, openErr
		}
		dirNode, dir = nextDirNode, nextDir
		tokens = tokens[1:]
	}

	leaf := tokens[0]
	if deepSearch {
		target, lookErr := dir.Lookup(leaf)
		if lookErr == nil && target.IsLink() {
			linkPath := target.Disk.LinkTarget()
			relativeTo := dirNode.Sector
			o.Close(target)
			o.Close(dirNode)
			return followSymlink(o, relativeTo, linkPath, nil, deepSearch, depth)
		}
		if lookErr == nil {
			o.Close(target)
		}
	}

	return Result{DirNode: dirNode, Dir: dir, Leaf: leaf}, nil
}

// followSymlink substitutes linkPath (which may be absolute or relative to
// relativeTo) for the symlink's position, appending any remaining tokens,
// and re-enters resolve with an incremented depth counter.
func followSymlink(o Opener, relativeTo uint32, linkPath string, remaining []string, deepSearch bool, depth int) (Result, error) {
	if depth+1 > MaxSymlinkDepth {
		return Result{}, ErrBrokenSymlink
	}
	full := linkPath
	if len(remaining) > 0 {
		full = strings.TrimRight(linkPath, "/") + "/" + strings.Join(remaining, "/")
	}
	return resolve(o, relativeTo, full, deepSearch, depth+1)
}

func tokenize(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
