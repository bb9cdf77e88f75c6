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
	"context"
	"time"

	"kernelfs/internal/fat"
	"kernelfs/internal/vm"
)

// Sources bundles the live subsystems a Poller reads from. Any field
// may be nil if that subsystem isn't active (e.g. vm is unused by a
// plain `fsck` invocation).
type Sources struct {
	Frames *vm.FrameTable
	Swap   *vm.SwapDevice
	FAT    *fat.Table
}

// Poller periodically copies gauge-worthy state from Sources into a
// Registry. It exists because the Prometheus client library favors
// pull-style Set calls over push notifications from the subsystems
// themselves, which would otherwise need to import internal/metrics.
type Poller struct {
	reg     *Registry
	sources Sources
	lastEv  int64
}

// NewPoller builds a poller reading from sources into reg.
func NewPoller(reg *Registry, sources Sources) *Poller {
	return &Poller{reg: reg, sources: sources}
}

// Tick takes one sample, updating every metric the currently-set
// sources support.
func (p *Poller) Tick() {
	if f := p.sources.Frames; f != nil {
		p.reg.FramesInUse.Set(float64(f.InUse()))
		p.reg.FramesTotal.Set(float64(f.Capacity()))
		ev := f.Evictions()
		if delta := ev - p.lastEv; delta > 0 {
			p.reg.Evictions.Add(float64(delta))
		}
		p.lastEv = ev
	}
	if s := p.sources.Swap; s != nil {
		p.reg.SwapSlotsInUse.Set(float64(s.InUse()))
		p.reg.SwapSlotsTotal.Set(float64(s.NumSlots()))
	}
	if t := p.sources.FAT; t != nil {
		p.reg.FreeClusters.Set(float64(t.FreeCount()))
		p.reg.TotalClusters.Set(float64(t.NumClusters()))
	}
}

// Run samples every interval until ctx is done.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}
