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
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"kernelfs/cfg"
	"kernelfs/internal/diskio"
	"kernelfs/internal/fuseadapter"
	"kernelfs/internal/kfs"
	"kernelfs/internal/logger"
	"kernelfs/internal/metrics"
	"kernelfs/internal/vm"
)

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the disk image at mount-point and serve FUSE requests until unmounted",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := resolveConfig()
		if err != nil {
			return err
		}
		if c.Mount.MountPoint == "" {
			return fmt.Errorf("kernelfsctl: mount: mount.mount-point is required")
		}

		totalSectors := sectorsForClusters(uint32(c.Disk.NumClusters))
		dev, err := diskio.OpenFileDevice(c.Disk.ImagePath, totalSectors)
		if err != nil {
			return fmt.Errorf("kernelfsctl: mount: %w", err)
		}
		defer dev.Close()

		fs, err := kfs.Mount(dev, logger.Logger())
		if err != nil {
			return fmt.Errorf("kernelfsctl: mount: %w", err)
		}
		defer fs.Unmount()

		opts := fuseadapter.DefaultOptions()
		if c.Mount.ReadOnly {
			opts.FilePerm &^= 0222
			opts.DirPerm &^= 0222
		}
		server, err := fuseadapter.New(fs, opts, logger.Logger())
		if err != nil {
			return fmt.Errorf("kernelfsctl: mount: %w", err)
		}

		if c.Mount.MetricsAddr != "" {
			stop, err := serveMetrics(c.Mount.MetricsAddr, c.VM, fs)
			if err != nil {
				return fmt.Errorf("kernelfsctl: mount: metrics: %w", err)
			}
			defer stop()
		}

		mountCfg := &fuse.MountConfig{
			FSName:     "kernelfs",
			Subtype:    "kernelfs",
			VolumeName: "kernelfs",
			ReadOnly:   c.Mount.ReadOnly,
		}

		logger.Infof("mounting %s at %s", c.Disk.ImagePath, c.Mount.MountPoint)
		mfs, err := fuse.Mount(c.Mount.MountPoint, server, mountCfg)
		if err != nil {
			return fmt.Errorf("kernelfsctl: mount: %w", err)
		}

		if err := mfs.Join(context.Background()); err != nil {
			return fmt.Errorf("kernelfsctl: mount: serve: %w", err)
		}
		return nil
	},
}

// serveMetrics stands up a frame pool sized from vmCfg and a swap
// device backed by vmCfg.SwapImagePath purely for Prometheus
// exposition, polls both plus the mounted FAT on a fixed interval, and
// serves /metrics on addr until the returned func is called.
func serveMetrics(addr string, vmCfg cfg.VMConfig, fs *kfs.FileSystem) (func(), error) {
	reg := prometheus.NewRegistry()
	registry := metrics.NewRegistry(reg)

	sources := metrics.Sources{FAT: fs.FAT()}

	frames := vm.NewFrameTable(vmCfg.FramePoolSize, logger.Logger())
	sources.Frames = frames

	if vmCfg.SwapImagePath != "" {
		info, err := os.Stat(vmCfg.SwapImagePath)
		if err != nil {
			return nil, fmt.Errorf("stat swap image: %w", err)
		}
		swapSectors := uint32(info.Size() / diskio.SectorSize)
		swapDev, err := diskio.OpenFileDevice(vmCfg.SwapImagePath, swapSectors)
		if err != nil {
			return nil, fmt.Errorf("open swap image: %w", err)
		}
		sources.Swap = vm.NewSwapDevice(swapDev, logger.Logger())
	}

	poller := metrics.NewPoller(registry, sources)
	ctx, cancel := context.WithCancel(context.Background())
	go poller.Run(ctx, time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server: %v", err)
		}
	}()
	logger.Infof("serving metrics on %s", addr)

	return func() {
		cancel()
		httpServer.Shutdown(context.Background())
	}, nil
}
