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

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Lay down a fresh bootstrap sector, FAT, and root directory on a disk image",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := resolveConfig()
		if err != nil {
			return err
		}

		totalSectors := sectorsForClusters(uint32(c.Disk.NumClusters))
		dev, err := diskio.CreateFileDevice(c.Disk.ImagePath, totalSectors)
		if err != nil {
			return fmt.Errorf("kernelfsctl: format: %w", err)
		}
		defer dev.Close()

		fs, err := kfs.Format(dev, totalSectors, logger.Logger())
		if err != nil {
			return fmt.Errorf("kernelfsctl: format: %w", err)
		}
		if err := fs.Unmount(); err != nil {
			return fmt.Errorf("kernelfsctl: format: flush: %w", err)
		}

		logger.Infof("formatted %s (%d clusters)", c.Disk.ImagePath, c.Disk.NumClusters)
		return nil
	},
}

// sectorsForClusters sizes a disk image so fat.PlanLayout lands on
// exactly numClusters FAT entries: one bootstrap sector, enough FAT
// sectors (4 bytes per entry), one dedicated root-directory sector, and
// one data sector per cluster from 2 up to numClusters-1 (clusters 0
// and 1 are reserved bookkeeping with no data sector of their own).
func sectorsForClusters(numClusters uint32) uint32 {
	const entriesPerSector = diskio.SectorSize / 4
	fatSectors := (numClusters + entriesPerSector - 1) / entriesPerSector
	return fatSectors + numClusters
}
