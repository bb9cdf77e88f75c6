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

package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kernelfs/internal/diskio"
	"kernelfs/internal/kfs"
	"kernelfs/internal/logger"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Drive an already-formatted disk image with a line-oriented command loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := resolveConfig()
		if err != nil {
			return err
		}

		totalSectors := sectorsForClusters(uint32(c.Disk.NumClusters))
		dev, err := diskio.OpenFileDevice(c.Disk.ImagePath, totalSectors)
		if err != nil {
			return fmt.Errorf("kernelfsctl: shell: %w", err)
		}
		defer dev.Close()

		fs, err := kfs.Mount(dev, logger.Logger())
		if err != nil {
			return fmt.Errorf("kernelfsctl: shell: %w", err)
		}
		defer fs.Unmount()

		sess, err := kfs.NewSession(fs)
		if err != nil {
			return fmt.Errorf("kernelfsctl: shell: %w", err)
		}
		defer sess.Close()

		return runShell(cmd.InOrStdin(), cmd.OutOrStdout(), sess)
	},
}

// runShell reads one command per line until EOF. It supports a small
// set of verbs over kfs.Session, enough to poke at a disk image by hand:
// mkdir, create, rm, cd, ls, cat, write, stat, ln.
func runShell(in io.Reader, out io.Writer, sess *kfs.Session) error {
	scanner := bufio.NewScanner(in)
	handles := map[string]*kfs.Handle{}

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "mkdir":
			err = requireArgs(fields, 2, func() error { return sess.Mkdir(fields[1]) })
		case "create":
			err = requireArgs(fields, 2, func() error { return sess.Create(fields[1], 0) })
		case "rm":
			err = requireArgs(fields, 2, func() error { return sess.Remove(fields[1]) })
		case "cd":
			err = requireArgs(fields, 2, func() error { return sess.Chdir(fields[1]) })
		case "ln":
			err = requireArgs(fields, 3, func() error { return sess.Symlink(fields[1], fields[2]) })
		case "ls":
			err = requireArgs(fields, 2, func() error { return listDir(out, sess, fields[1]) })
		case "cat":
			err = requireArgs(fields, 2, func() error { return catFile(out, sess, fields[1]) })
		case "write":
			err = requireArgs(fields, 3, func() error { return writeFile(sess, handles, fields[1], fields[2]) })
		case "stat":
			err = requireArgs(fields, 2, func() error { return statPath(out, sess, fields[1]) })
		default:
			err = fmt.Errorf("unknown command %q", fields[0])
		}

		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func requireArgs(fields []string, n int, fn func() error) error {
	if len(fields) < n {
		return fmt.Errorf("%s: expected %d argument(s)", fields[0], n-1)
	}
	return fn()
}

func listDir(out io.Writer, sess *kfs.Session, path string) error {
	h, err := sess.Open(path)
	if err != nil {
		return err
	}
	defer sess.CloseHandle(h)

	for {
		name, ok, err := sess.Readdir(h)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Fprintln(out, name)
	}
}

func catFile(out io.Writer, sess *kfs.Session, path string) error {
	h, err := sess.Open(path)
	if err != nil {
		return err
	}
	defer sess.CloseHandle(h)

	buf := make([]byte, sess.Filesize(h))
	if _, err := sess.Read(h, buf); err != nil {
		return err
	}
	_, err = out.Write(buf)
	return err
}

// writeFile appends text to path at its current length, opening and
// caching a handle per path across shell commands so repeated writes
// extend the same file instead of clobbering it.
func writeFile(sess *kfs.Session, handles map[string]*kfs.Handle, path, text string) error {
	h, ok := handles[path]
	if !ok {
		var err error
		h, err = sess.Open(path)
		if err != nil {
			return err
		}
		handles[path] = h
	}
	sess.Seek(h, sess.Filesize(h))
	_, err := sess.Write(h, []byte(text))
	return err
}

func statPath(out io.Writer, sess *kfs.Session, path string) error {
	h, err := sess.Open(path)
	if err != nil {
		return err
	}
	defer sess.CloseHandle(h)

	fmt.Fprintf(out, "inumber=%d dir=%t link=%t size=%s\n",
		h.Inumber(), h.Isdir(), h.Islink(), strconv.Itoa(int(sess.Filesize(h))))
	return nil
}
