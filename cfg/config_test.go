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

package cfg

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreUsableStandalone(t *testing.T) {
	c := Defaults()
	require.NotEmpty(t, c.Disk.ImagePath)
	require.Equal(t, 512, c.Disk.SectorSize)
	require.Equal(t, 256, c.VM.FramePoolSize)
	require.Equal(t, "INFO", c.Logging.Severity)
}

func TestBindFlagsOverridesDefaultViaFlag(t *testing.T) {
	viper.Reset()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs))
	require.NoError(t, fs.Set("vm.frame-pool-size", "8"))
	require.NoError(t, fs.Set("logging.severity", "DEBUG"))

	c, err := Resolve("")
	require.NoError(t, err)
	require.Equal(t, 8, c.VM.FramePoolSize)
	require.Equal(t, "DEBUG", c.Logging.Severity)
}
