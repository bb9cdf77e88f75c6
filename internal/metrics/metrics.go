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

// Package metrics exposes Prometheus gauges and counters for the
// frame pool, swap device, and FAT free-space, so a running
// kernelfsctl mount can be observed the way the eviction/swap policy
// behaves under load.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric kernelfs exposes. A Poller fills the
// frame, eviction, swap and cluster metrics by sampling the subsystems;
// nothing updates PageFaults or PageFaultStalls. The subsystems hold no
// reference to the Registry.
type Registry struct {
	FramesInUse     prometheus.Gauge
	FramesTotal     prometheus.Gauge
	Evictions       prometheus.Counter
	SwapSlotsInUse  prometheus.Gauge
	SwapSlotsTotal  prometheus.Gauge
	FreeClusters    prometheus.Gauge
	TotalClusters   prometheus.Gauge
	PageFaults      prometheus.Counter
	PageFaultStalls prometheus.Counter
}

// NewRegistry registers every metric against reg and returns the
// bundle. Pass prometheus.NewRegistry() in tests to avoid colliding
// with the global default registry across test runs.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		FramesInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kernelfs_vm_frames_in_use",
			Help: "Physical frames currently bound to a page.",
		}),
		FramesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kernelfs_vm_frames_total",
			Help: "Configured size of the physical frame pool.",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "kernelfs_vm_evictions_total",
			Help: "Frames reclaimed via FIFO eviction.",
		}),
		SwapSlotsInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kernelfs_vm_swap_slots_in_use",
			Help: "Swap slots currently holding page contents.",
		}),
		SwapSlotsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kernelfs_vm_swap_slots_total",
			Help: "Total swap slots available on the swap device.",
		}),
		FreeClusters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kernelfs_fat_free_clusters",
			Help: "FAT clusters not currently allocated to any file.",
		}),
		TotalClusters: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kernelfs_fat_total_clusters",
			Help: "Total clusters described by the FAT.",
		}),
		PageFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "kernelfs_vm_page_faults_total",
			Help: "Page faults handled, resolved or not.",
		}),
		PageFaultStalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "kernelfs_vm_page_fault_stalls_total",
			Help: "Page faults that blocked on frame-pool acquisition.",
		}),
	}
}

// Handler returns an http.Handler serving reg in the Prometheus text
// exposition format, for --mount.metrics-addr.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
