// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coordinator

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Counters is one devid's cumulative (sols, shares) as last reported by its
// solver's status line.
type Counters struct {
	Sols   int
	Shares int
}

// sample is one (timestamp, snapshot) pair in the StatsWindow.
type sample struct {
	t        time.Time
	counters map[string]Counters
}

// globalHorizon and perGPUHorizon are the two retention horizons: 30 samples
// for the global rate, 10 for the per-GPU rate.
const (
	globalHorizon = 30
	perGPUHorizon = 10
)

// StatsWindow is a bounded ring of samples, newest at index 0, used to
// compute global and per-GPU solution rates. Samples are inserted at the
// front; the tail is dropped once the window exceeds globalHorizon entries.
type StatsWindow struct {
	samples []sample
}

// Push inserts a new snapshot at the front of the window.
func (w *StatsWindow) Push(t time.Time, counters map[string]Counters) {
	snapshot := make(map[string]Counters, len(counters))
	for k, v := range counters {
		snapshot[k] = v
	}
	w.samples = append([]sample{{t: t, counters: snapshot}}, w.samples...)
	if len(w.samples) > globalHorizon {
		w.samples = w.samples[:globalHorizon]
	}
}

// Len reports how many samples are currently retained.
func (w *StatsWindow) Len() int {
	return len(w.samples)
}

// GlobalSolRate computes the global sol/s rate across the full retention
// horizon. It reports ok=false when fewer than two samples are available.
func (w *StatsWindow) GlobalSolRate() (rate float64, ok bool) {
	return w.rateOverHorizon(globalHorizon)
}

// PerGPUSolRates computes sol/s summed per GPU id, over the shorter
// per-GPU horizon, sorted by GPU id ascending.
func (w *StatsWindow) PerGPUSolRates() []GPURate {
	if len(w.samples) < 2 {
		return nil
	}

	newest := w.samples[0]
	oldestIdx := perGPUHorizon
	if oldestIdx > len(w.samples)-1 {
		oldestIdx = len(w.samples) - 1
	}
	oldest := w.samples[oldestIdx]

	dt := newest.t.Sub(oldest.t).Seconds()
	if dt <= 0 {
		return nil
	}

	newBy := sumByGPU(newest.counters)
	oldBy := sumByGPU(oldest.counters)

	gpuIDs := make([]int, 0, len(newBy))
	for gpu := range newBy {
		gpuIDs = append(gpuIDs, gpu)
	}
	sort.Ints(gpuIDs)

	rates := make([]GPURate, 0, len(gpuIDs))
	for _, gpu := range gpuIDs {
		rate := float64(newBy[gpu]-oldBy[gpu]) / dt
		rates = append(rates, GPURate{GPU: gpu, SolPerSec: rate})
	}
	return rates
}

// SharesReported sums the current shares_found across every devid in the
// newest sample.
func (w *StatsWindow) SharesReported() int {
	if len(w.samples) == 0 {
		return 0
	}
	total := 0
	for _, c := range w.samples[0].counters {
		total += c.Shares
	}
	return total
}

func (w *StatsWindow) rateOverHorizon(horizon int) (float64, bool) {
	if len(w.samples) < 2 {
		return 0, false
	}
	newest := w.samples[0]
	idx := horizon
	if idx > len(w.samples)-1 {
		idx = len(w.samples) - 1
	}
	oldest := w.samples[idx]

	dt := newest.t.Sub(oldest.t).Seconds()
	if dt <= 0 {
		return 0, false
	}

	newTotal := totalSols(newest.counters)
	oldTotal := totalSols(oldest.counters)
	return float64(newTotal-oldTotal) / dt, true
}

func totalSols(counters map[string]Counters) int {
	total := 0
	for _, c := range counters {
		total += c.Sols
	}
	return total
}

func sumByGPU(counters map[string]Counters) map[int]int {
	out := make(map[int]int)
	for devid, c := range counters {
		gpu, _, ok := splitDevid(devid)
		if !ok {
			continue
		}
		out[gpu] += c.Sols
	}
	return out
}

func splitDevid(devid string) (gpu, inst int, ok bool) {
	dot := strings.IndexByte(devid, '.')
	if dot < 0 {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(devid, "%d.%d", &gpu, &inst); err != nil {
		return 0, 0, false
	}
	return gpu, inst, true
}

// GPURate is one GPU's aggregated solution rate.
type GPURate struct {
	GPU       int
	SolPerSec float64
}

// FormatLine renders the "Total <rate> sol/s [dev<gpu> <rate>, …] <n>
// share(s)" stats line.
func FormatLine(global float64, perGPU []GPURate, shares int) string {
	parts := make([]string, 0, len(perGPU))
	for _, g := range perGPU {
		parts = append(parts, fmt.Sprintf("dev%d %.1f", g.GPU, g.SolPerSec))
	}
	unit := "share"
	if shares != 1 {
		unit = "shares"
	}
	return fmt.Sprintf("Total %.1f sol/s [%s] %d %s", global, strings.Join(parts, ", "), shares, unit)
}
