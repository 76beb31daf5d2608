// Package tracker maintains a bounded rolling window of trade volumes for a
// single symbol and answers order-statistics queries over it.
//
// Percentiles use the nearest-rank method on an ascending-sorted snapshot of
// the window: the p-th percentile is the ceil(p/100*n)-th smallest sample,
// clamped to [1, n]. There is no interpolation.
package tracker

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Wayy-Research/wrdata/internal/domain/models"
	"github.com/Wayy-Research/wrdata/internal/domain/repository"
)

// statPercentiles are the fixed cut points reported by Stats.
var statPercentiles = []int{25, 50, 75, 90, 95, 99}

type entry struct {
	volume float64
	ts     time.Time
}

// Tracker is the rolling volume window of one symbol.
//
// It is not safe for concurrent use; the owning detector serializes access.
type Tracker struct {
	windowSize int
	timeWindow time.Duration // 0 disables the age bound
	entries    []entry
}

// New creates a tracker bounded by windowSize entries and, when timeWindow
// is positive, by entry age.
func New(windowSize int, timeWindow time.Duration) *Tracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &Tracker{
		windowSize: windowSize,
		timeWindow: timeWindow,
		entries:    make([]entry, 0, windowSize),
	}
}

// Observe appends a volume observation and prunes the window by count and by
// age. Both bounds are enforced on every insertion, whichever is stricter.
func (t *Tracker) Observe(volume float64, ts time.Time) error {
	if math.IsNaN(volume) || math.IsInf(volume, 0) || volume < 0 {
		return fmt.Errorf("volume %v: %w", volume, repository.ErrInvalidInput)
	}

	t.entries = append(t.entries, entry{volume: volume, ts: ts})

	if t.timeWindow > 0 {
		cutoff := ts.Add(-t.timeWindow)
		kept := t.entries[:0]
		for _, e := range t.entries {
			if !e.ts.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		t.entries = kept
	}
	if over := len(t.entries) - t.windowSize; over > 0 {
		t.entries = t.entries[over:]
	}
	return nil
}

// Len reports the current window length.
func (t *Tracker) Len() int { return len(t.entries) }

// PercentileOf reports the nearest-rank percentile and rank of volume within
// the current window. The contract is that the queried volume has already
// been observed, so it ranks against a window that includes itself. ok is
// false when the window holds fewer than two samples (insufficient data).
func (t *Tracker) PercentileOf(volume float64) (percentile float64, rank int, ok bool) {
	n := len(t.entries)
	if n < 2 {
		return 0, 0, false
	}
	sorted := t.sortedSnapshot()
	// rank = number of samples <= volume
	rank = sort.SearchFloat64s(sorted, math.Nextafter(volume, math.Inf(1)))
	if rank < 1 {
		rank = 1
	}
	return float64(rank) / float64(n) * 100, rank, true
}

// ThresholdVolume is the inverse lookup: the smallest volume that sits at or
// above the given percentile under nearest-rank. ok is false on insufficient
// data or a percentile outside (0, 100].
func (t *Tracker) ThresholdVolume(percentile float64) (float64, bool) {
	n := len(t.entries)
	if n < 2 || percentile <= 0 || percentile > 100 {
		return 0, false
	}
	sorted := t.sortedSnapshot()
	idx := int(math.Ceil(percentile / 100 * float64(n)))
	if idx < 1 {
		idx = 1
	}
	if idx > n {
		idx = n
	}
	return sorted[idx-1], true
}

// Stats summarizes the current window. Calling it repeatedly without an
// intervening Observe returns identical results; pruning happens only on
// insertion.
func (t *Tracker) Stats() (models.SymbolStatistics, bool) {
	n := len(t.entries)
	if n == 0 {
		return models.SymbolStatistics{}, false
	}
	sorted := t.sortedSnapshot()

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var std float64
	if n > 1 {
		var ss float64
		for _, v := range sorted {
			d := v - mean
			ss += d * d
		}
		std = math.Sqrt(ss / float64(n-1))
	}

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	pcts := make(map[int]float64, len(statPercentiles))
	for _, p := range statPercentiles {
		idx := int(math.Ceil(float64(p) / 100 * float64(n)))
		if idx < 1 {
			idx = 1
		}
		pcts[p] = sorted[idx-1]
	}

	return models.SymbolStatistics{
		Count:       n,
		Mean:        mean,
		Median:      median,
		StdDev:      std,
		Min:         sorted[0],
		Max:         sorted[n-1],
		Percentiles: pcts,
	}, true
}

func (t *Tracker) sortedSnapshot() []float64 {
	sorted := make([]float64, len(t.entries))
	for i, e := range t.entries {
		sorted[i] = e.volume
	}
	sort.Float64s(sorted)
	return sorted
}
