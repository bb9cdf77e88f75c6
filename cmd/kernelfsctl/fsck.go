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
	"fmt"

	"github.com/spf13/cobra"

	"kernelfs/internal/diskio"
	"kernelfs/internal/kfs"
	"kernelfs/internal/logger"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Mount the image and check the inode registry's invariants; FAT chains and directories are not walked",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := resolveConfig()
		if err != nil {
			return err
		}

		totalSectors := sectorsForClusters(uint32(c.Disk.NumClusters))
		dev, err := diskio.OpenFileDevice(c.Disk.ImagePath, totalSectors)
		if err != nil {
			return fmt.Errorf("kernelfsctl: fsck: %w", err)
		}
		defer dev.Close()

		fs, err := kfs.Mount(dev, logger.Logger())
		if err != nil {
			return fmt.Errorf("kernelfsctl: fsck: %w", err)
		}

		if err := fs.CheckInvariants(); err != nil {
			return fmt.Errorf("kernelfsctl: fsck found a violation: %w", err)
		}

		logger.Infof("fsck: %s is clean", c.Disk.ImagePath)
		return nil
	},
}
