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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"kernelfs/internal/diskio"
	"kernelfs/internal/vm"
)

func TestPollerReportsFramePoolOccupancy(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	frames := vm.NewFrameTable(2, nil)
	swap := vm.NewSwapDevice(diskio.NewMemDevice(16), nil)
	spt := vm.NewSupplementalPageTable()
	fh := vm.NewFaultHandler(spt, frames, swap, nil)

	for i := 0; i < 3; i++ {
		va := uint64(0x1000) + uint64(i)*vm.PageSize
		page := vm.NewUninitPage(va, true, vm.KindAnon, nil, nil)
		require.NoError(t, spt.Insert(page))
		require.NoError(t, fh.Claim(page))
	}

	p := NewPoller(r, Sources{Frames: frames, Swap: swap})
	p.Tick()

	require.Equal(t, float64(2), testutil.ToFloat64(r.FramesInUse))
	require.Equal(t, float64(2), testutil.ToFloat64(r.FramesTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(r.Evictions))
	require.Equal(t, float64(1), testutil.ToFloat64(r.SwapSlotsInUse))
	require.Equal(t, float64(2), testutil.ToFloat64(r.SwapSlotsTotal))
}
