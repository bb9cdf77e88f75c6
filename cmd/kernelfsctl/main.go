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

// Command kernelfsctl formats, checks, mounts, and drives the simulated
// FAT disk from the host shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kernelfs/cfg"
	"kernelfs/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "kernelfsctl",
	Short: "Format, check, mount, and drive a simulated FAT disk image",
}

func resolveConfig() (cfg.Config, error) {
	c, err := cfg.Resolve(cfgFile)
	if err != nil {
		return cfg.Config{}, fmt.Errorf("kernelfsctl: resolve config: %w", err)
	}

	logger.SetLoggingLevel(c.Logging.Severity)
	logger.SetLogFormat(c.Logging.Format)
	if c.Logging.FilePath != "" {
		if err := logger.InitLogFile(logger.FileConfig{
			FilePath: c.Logging.FilePath,
			Severity: c.Logging.Severity,
			Format:   c.Logging.Format,
			Rotate: logger.RotateConfig{
				MaxFileSizeMB:   c.Logging.MaxFileSizeMB,
				BackupFileCount: c.Logging.BackupFileCount,
				Compress:        c.Logging.Compress,
			},
		}); err != nil {
			return cfg.Config{}, fmt.Errorf("kernelfsctl: init log file: %w", err)
		}
	}

	return c, nil
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to a YAML config file.")
	if err := cfg.BindFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd.AddCommand(formatCmd, fsckCmd, shellCmd, mountCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
