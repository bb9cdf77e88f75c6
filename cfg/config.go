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

// Package cfg is kernelfsctl's layered configuration: pflag-bound
// command-line flags, a viper-backed YAML config file, and defaults,
// assembled into one Config struct.
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved configuration for one kernelfsctl
// invocation.
type Config struct {
	Disk    DiskConfig    `yaml:"disk"`
	VM      VMConfig      `yaml:"vm"`
	Logging LoggingConfig `yaml:"logging"`
	Mount   MountConfig   `yaml:"mount"`
}

// DiskConfig names the backing image and its sector/cluster geometry.
type DiskConfig struct {
	ImagePath   string `yaml:"image-path"`
	SectorSize  int    `yaml:"sector-size"`
	NumClusters int    `yaml:"num-clusters"`
}

// VMConfig sizes the demand-paging subsystem.
type VMConfig struct {
	SwapImagePath string `yaml:"swap-image-path"`
	FramePoolSize int    `yaml:"frame-pool-size"`
}

// LoggingConfig selects severity, format, and an optional rotated file.
type LoggingConfig struct {
	Severity        string `yaml:"severity"`
	Format          string `yaml:"format"`
	FilePath        string `yaml:"file-path"`
	MaxFileSizeMB   int    `yaml:"max-file-size-mb"`
	BackupFileCount int    `yaml:"backup-file-count"`
	Compress        bool   `yaml:"compress"`
}

// MountConfig configures `kernelfsctl mount`.
type MountConfig struct {
	MountPoint  string `yaml:"mount-point"`
	ReadOnly    bool   `yaml:"read-only"`
	MetricsAddr string `yaml:"metrics-addr"`
}

// BindFlags registers every flag kernelfsctl's subcommands share and
// binds each to its viper key, so Resolve can read config from flag or
// YAML file with flags taking precedence. Environment variables are not
// read.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.String("disk.image-path", "kernelfs.img", "Path to the backing disk image.")
	if err := viper.BindPFlag("disk.image-path", flagSet.Lookup("disk.image-path")); err != nil {
		return err
	}

	flagSet.Int("disk.sector-size", 512, "Disk sector size in bytes.")
	if err := viper.BindPFlag("disk.sector-size", flagSet.Lookup("disk.sector-size")); err != nil {
		return err
	}

	flagSet.Int("disk.num-clusters", 4096, "Number of clusters to format.")
	if err := viper.BindPFlag("disk.num-clusters", flagSet.Lookup("disk.num-clusters")); err != nil {
		return err
	}

	flagSet.String("vm.swap-image-path", "kernelfs.swap", "Path to the swap device image.")
	if err := viper.BindPFlag("vm.swap-image-path", flagSet.Lookup("vm.swap-image-path")); err != nil {
		return err
	}

	flagSet.Int("vm.frame-pool-size", 256, "Number of physical frames in the user pool.")
	if err := viper.BindPFlag("vm.frame-pool-size", flagSet.Lookup("vm.frame-pool-size")); err != nil {
		return err
	}

	flagSet.String("logging.severity", "INFO", "Log severity: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("logging.severity")); err != nil {
		return err
	}

	flagSet.String("logging.format", "text", "Log format: text or json.")
	if err := viper.BindPFlag("logging.format", flagSet.Lookup("logging.format")); err != nil {
		return err
	}

	flagSet.String("logging.file-path", "", "If set, write rotated logs here instead of stderr.")
	if err := viper.BindPFlag("logging.file-path", flagSet.Lookup("logging.file-path")); err != nil {
		return err
	}

	flagSet.String("mount.mount-point", "", "Host directory to mount the simulated disk onto.")
	if err := viper.BindPFlag("mount.mount-point", flagSet.Lookup("mount.mount-point")); err != nil {
		return err
	}

	flagSet.Bool("mount.read-only", false, "Mount read-only.")
	if err := viper.BindPFlag("mount.read-only", flagSet.Lookup("mount.read-only")); err != nil {
		return err
	}

	flagSet.String("mount.metrics-addr", "", "If set, serve Prometheus metrics on this address.")
	return viper.BindPFlag("mount.metrics-addr", flagSet.Lookup("mount.metrics-addr"))
}

// Resolve reads a YAML config file (if configPath is non-empty) and
// layers flag values from viper on top of Defaults.
func Resolve(configPath string) (Config, error) {
	c := Defaults()
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}
	if err := viper.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Defaults returns a Config usable without any flags or file, suitable
// for tests and for `kernelfsctl format` run with no arguments.
func Defaults() Config {
	return Config{
		Disk: DiskConfig{
			ImagePath:   "kernelfs.img",
			SectorSize:  512,
			NumClusters: 4096,
		},
		VM: VMConfig{
			SwapImagePath: "kernelfs.swap",
			FramePoolSize: 256,
		},
		Logging: LoggingConfig{
			Severity: "INFO",
			Format:   "text",
		},
	}
}
