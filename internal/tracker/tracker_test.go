package tracker

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/Wayy-Research/wrdata/internal/domain/repository"
)

func mustObserve(t *testing.T, tr *Tracker, volumes ...float64) {
	t.Helper()
	base := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	for i, v := range volumes {
		if err := tr.Observe(v, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("observe %v: %v", v, err)
		}
	}
}

func TestWindowNeverExceedsSizeBound(t *testing.T) {
	tr := New(5, 0)
	base := time.Now()
	for i := 0; i < 50; i++ {
		if err := tr.Observe(float64(i+1), base.Add(time.Duration(i)*time.Millisecond)); err != nil {
			t.Fatalf("observe: %v", err)
		}
		if tr.Len() > 5 {
			t.Fatalf("window length %d exceeds bound after %d inserts", tr.Len(), i+1)
		}
	}
	if tr.Len() != 5 {
		t.Fatalf("expected full window, got %d", tr.Len())
	}
	// oldest entries evicted: min of the surviving window is 46
	st, ok := tr.Stats()
	if !ok || st.Min != 46 {
		t.Fatalf("expected min 46 after eviction, got %v", st.Min)
	}
}

func TestAgePruningOnInsert(t *testing.T) {
	tr := New(100, time.Minute)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = tr.Observe(1, base)
	_ = tr.Observe(2, base.Add(30*time.Second))
	// this insertion pushes the first entry past the age bound
	_ = tr.Observe(3, base.Add(61*time.Second))
	if tr.Len() != 2 {
		t.Fatalf("expected 2 entries after age prune, got %d", tr.Len())
	}
	st, _ := tr.Stats()
	if st.Min != 2 {
		t.Fatalf("expected oldest surviving volume 2, got %v", st.Min)
	}
}

func TestNearestRankPercentile(t *testing.T) {
	tr := New(1000, 0)
	mustObserve(t, tr, 10, 20, 30, 40, 50)

	pct, rank, ok := tr.PercentileOf(40)
	if !ok {
		t.Fatalf("expected ok")
	}
	if rank != 4 {
		t.Fatalf("rank = %d, want 4", rank)
	}
	if pct != 80 {
		t.Fatalf("percentile = %v, want 80", pct)
	}
}

func TestMaxValueIsAlwaysPercentile100(t *testing.T) {
	cases := [][]float64{
		{1, 2},
		{5, 5, 5},
		{10, 20, 30, 40, 50, 60, 70},
		{0.001, 1000000, 3.5},
	}
	for _, vols := range cases {
		tr := New(1000, 0)
		mustObserve(t, tr, vols...)
		max := vols[0]
		for _, v := range vols {
			if v > max {
				max = v
			}
		}
		pct, _, ok := tr.PercentileOf(max)
		if !ok || pct != 100 {
			t.Fatalf("max %v of %v: percentile = %v, want 100", max, vols, pct)
		}
	}
}

func TestInsufficientData(t *testing.T) {
	tr := New(100, 0)
	if _, _, ok := tr.PercentileOf(10); ok {
		t.Fatalf("empty window must report insufficient data")
	}
	mustObserve(t, tr, 42)
	if _, _, ok := tr.PercentileOf(42); ok {
		t.Fatalf("single-entry window must report insufficient data")
	}
	if _, ok := tr.ThresholdVolume(99); ok {
		t.Fatalf("threshold lookup must fail on insufficient data")
	}
}

func TestThresholdVolumeInverseLookup(t *testing.T) {
	tr := New(1000, 0)
	mustObserve(t, tr, 10, 20, 30, 40, 50)

	tests := []struct {
		pct  float64
		want float64
	}{
		{20, 10},
		{40, 20},
		{50, 30},
		{80, 40},
		{81, 50},
		{99, 50},
		{100, 50},
	}
	for _, tc := range tests {
		got, ok := tr.ThresholdVolume(tc.pct)
		if !ok {
			t.Fatalf("p%v: expected ok", tc.pct)
		}
		if got != tc.want {
			t.Fatalf("p%v: threshold = %v, want %v", tc.pct, got, tc.want)
		}
	}
	if _, ok := tr.ThresholdVolume(0); ok {
		t.Fatalf("percentile 0 must be rejected")
	}
	if _, ok := tr.ThresholdVolume(100.5); ok {
		t.Fatalf("percentile above 100 must be rejected")
	}
}

func TestStatsIdempotent(t *testing.T) {
	tr := New(1000, time.Hour)
	mustObserve(t, tr, 3, 1, 4, 1, 5, 9, 2, 6)

	first, ok := tr.Stats()
	if !ok {
		t.Fatalf("expected stats")
	}
	second, _ := tr.Stats()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("stats changed without insertion: %+v vs %+v", first, second)
	}
	if tr.Len() != 8 {
		t.Fatalf("stats must not prune, got len %d", tr.Len())
	}
}

func TestStatsValues(t *testing.T) {
	tr := New(1000, 0)
	mustObserve(t, tr, 10, 20, 30, 40)

	st, ok := tr.Stats()
	if !ok {
		t.Fatalf("expected stats")
	}
	if st.Count != 4 || st.Min != 10 || st.Max != 40 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.Mean != 25 {
		t.Fatalf("mean = %v, want 25", st.Mean)
	}
	if st.Median != 25 {
		t.Fatalf("median = %v, want 25", st.Median)
	}
	// sample standard deviation of {10,20,30,40}
	want := math.Sqrt((225 + 25 + 25 + 225) / 3.0)
	if math.Abs(st.StdDev-want) > 1e-9 {
		t.Fatalf("std = %v, want %v", st.StdDev, want)
	}
	if st.Percentiles[50] != 20 || st.Percentiles[99] != 40 {
		t.Fatalf("unexpected percentile cuts: %+v", st.Percentiles)
	}
}

func TestObserveRejectsInvalidVolume(t *testing.T) {
	tr := New(10, 0)
	now := time.Now()
	for _, v := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		err := tr.Observe(v, now)
		if !errors.Is(err, repository.ErrInvalidInput) {
			t.Fatalf("volume %v: expected ErrInvalidInput, got %v", v, err)
		}
	}
	if tr.Len() != 0 {
		t.Fatalf("rejected observations must not enter the window")
	}
}
