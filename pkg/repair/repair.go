// Package repair post-processes historical OHLC series for provider-side
// data defects: stale zeros, hundredfold unit mixups, spurious spikes,
// and corporate-action adjustments the provider applied inconsistently
// or not at all. Pure transformation, no network dependency.
package repair

import (
	"math"
	"sort"
	"time"
)

// Series is one symbol's bar history. All slices are parallel to
// Timestamps; repair preserves length and order, it never inserts or
// removes bars.
type Series struct {
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []int64

	// Dividends maps payout date to cash amount.
	Dividends map[time.Time]float64

	// Splits maps effective date to the price divisor (a 2:1 forward split
	// has ratio 2: price after is roughly price before divided by 2).
	Splits map[time.Time]float64
}

// Options tunes the repair thresholds. The defaults encode the defects
// actually seen in provider data; change them only with evidence.
type Options struct {
	// ScaleRatio is the adjacent-bar ratio treated as a unit mixup.
	ScaleRatio float64

	// OutlierThreshold is the multiple of the local median beyond which a
	// value is treated as a spike.
	OutlierThreshold float64

	// OutlierWindow is how many preceding positive values feed the median.
	OutlierWindow int

	// OutlierMinPoints disables outlier smoothing on series shorter than
	// this.
	OutlierMinPoints int

	// SplitTolerance is the relative tolerance when matching an observed
	// price jump against a split ratio.
	SplitTolerance float64
}

// DefaultOptions returns the standard thresholds: 100x scale errors, 5x
// outliers over a 4-value median window on series of 5+ points, and 5%
// split-matching tolerance.
func DefaultOptions() Options {
	return Options{
		ScaleRatio:       100,
		OutlierThreshold: 5,
		OutlierWindow:    4,
		OutlierMinPoints: 5,
		SplitTolerance:   0.05,
	}
}

// Repair runs the full pipeline over a copy of the series, stage by
// stage, each consuming the previous stage's output:
//
//  1. zero fill
//  2. scale-error correction
//  3. outlier smoothing
//  4. known-split adjustment
//  5. heuristic bad-split repair
//
// The input series is never mutated.
func Repair(s Series, opts Options) Series {
	out := clone(s)
	for _, prices := range [][]float64{out.Open, out.High, out.Low, out.Close} {
		FillZeros(prices)
		FixScaleErrors(prices, opts.ScaleRatio)
		SmoothOutliers(prices, opts)
		AdjustKnownSplits(prices, out.Timestamps, out.Splits, opts.SplitTolerance)
		RepairBadSplits(prices, out.Splits, opts.SplitTolerance)
	}
	return out
}

// FillZeros replaces exact-zero values with the last-seen positive value,
// scanning left to right. Leading zeros before any positive value are
// left untouched.
func FillZeros(prices []float64) {
	var last float64
	for i, v := range prices {
		if v > 0 {
			last = v
		} else if v == 0 && last > 0 {
			prices[i] = last
		}
	}
}

// FixScaleErrors corrects hundredfold unit mixups: an adjacent pair of
// positive values whose ratio reaches scaleRatio (or its inverse) has the
// later value rescaled back into line.
func FixScaleErrors(prices []float64, scaleRatio float64) {
	if scaleRatio <= 1 {
		return
	}
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev <= 0 || cur <= 0 {
			continue
		}
		ratio := cur / prev
		if ratio >= scaleRatio {
			prices[i] = cur / scaleRatio
		} else if ratio <= 1/scaleRatio {
			prices[i] = cur * scaleRatio
		}
	}
}

// SmoothOutliers replaces spikes with the median of the preceding window.
// Starting at index 2, each value is compared against the median of up to
// opts.OutlierWindow preceding positive values; values beyond
// opts.OutlierThreshold times the median in either direction are snapped
// to it. Series shorter than opts.OutlierMinPoints are left alone.
func SmoothOutliers(prices []float64, opts Options) {
	if len(prices) < opts.OutlierMinPoints || opts.OutlierThreshold <= 1 {
		return
	}
	for i := 2; i < len(prices); i++ {
		med := precedingMedian(prices, i, opts.OutlierWindow)
		if med <= 0 {
			continue
		}
		v := prices[i]
		if v > med*opts.OutlierThreshold || v < med/opts.OutlierThreshold {
			prices[i] = med
		}
	}
}

// AdjustKnownSplits rebases history across explicitly supplied splits.
// For each split, the last bar at or before the split date is the
// boundary; when the jump across the boundary matches the split ratio or
// its reciprocal within tolerance, every bar strictly before the boundary
// is divided by the matched adjustment so the series reads continuously.
func AdjustKnownSplits(prices []float64, timestamps []time.Time, splits map[time.Time]float64, tolerance float64) {
	if len(splits) == 0 || len(prices) < 2 {
		return
	}
	for _, date := range sortedSplitDates(splits) {
		ratio := splits[date]
		if ratio <= 0 {
			continue
		}
		idx := lastBarAtOrBefore(timestamps, date)
		if idx < 1 {
			continue
		}
		if adj, ok := matchAdjustment(prices[idx-1], prices[idx], ratio, tolerance); ok {
			rebase(prices, idx, adj)
		}
	}
}

// RepairBadSplits catches splits the provider failed to flag: every
// adjacent pair is scanned against the known split ratios (and their
// reciprocals), and a match within tolerance triggers the same
// retroactive rebasing as an explicit split.
func RepairBadSplits(prices []float64, splits map[time.Time]float64, tolerance float64) {
	if len(splits) == 0 || len(prices) < 2 {
		return
	}
	ratios := make([]float64, 0, len(splits))
	for _, r := range splits {
		if r > 0 {
			ratios = append(ratios, r)
		}
	}
	sort.Float64s(ratios)

	for i := 1; i < len(prices); i++ {
		for _, ratio := range ratios {
			if adj, ok := matchAdjustment(prices[i-1], prices[i], ratio, tolerance); ok {
				rebase(prices, i, adj)
				break
			}
		}
	}
}

// matchAdjustment reports whether the observed jump from prev to cur
// matches ratio or its reciprocal within the relative tolerance, and
// returns the divisor that makes the pair continuous.
func matchAdjustment(prev, cur, ratio, tolerance float64) (float64, bool) {
	if prev <= 0 || cur <= 0 {
		return 0, false
	}
	observed := prev / cur
	if withinTolerance(observed, ratio, tolerance) {
		return ratio, true
	}
	if withinTolerance(observed, 1/ratio, tolerance) {
		return 1 / ratio, true
	}
	return 0, false
}

func withinTolerance(observed, target, tolerance float64) bool {
	if target == 0 {
		return false
	}
	// A ratio of 1 is no jump at all; matching it would rebase on noise.
	if math.Abs(target-1) <= tolerance {
		return false
	}
	return math.Abs(observed/target-1) <= tolerance
}

// rebase divides every bar strictly before boundary by adjustment.
func rebase(prices []float64, boundary int, adjustment float64) {
	for j := 0; j < boundary; j++ {
		prices[j] /= adjustment
	}
}

// lastBarAtOrBefore returns the index of the last timestamp not after
// date, or -1 when every bar is later.
func lastBarAtOrBefore(timestamps []time.Time, date time.Time) int {
	idx := -1
	for i, ts := range timestamps {
		if ts.After(date) {
			break
		}
		idx = i
	}
	return idx
}

// precedingMedian computes the median of up to window positive values
// immediately before index i.
func precedingMedian(prices []float64, i, window int) float64 {
	values := make([]float64, 0, window)
	for j := i - 1; j >= 0 && len(values) < window; j-- {
		if prices[j] > 0 {
			values = append(values, prices[j])
		}
	}
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

func sortedSplitDates(splits map[time.Time]float64) []time.Time {
	dates := make([]time.Time, 0, len(splits))
	for d := range splits {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func clone(s Series) Series {
	out := Series{
		Timestamps: append([]time.Time(nil), s.Timestamps...),
		Open:       append([]float64(nil), s.Open...),
		High:       append([]float64(nil), s.High...),
		Low:        append([]float64(nil), s.Low...),
		Close:      append([]float64(nil), s.Close...),
		Volume:     append([]int64(nil), s.Volume...),
	}
	if s.Dividends != nil {
		out.Dividends = make(map[time.Time]float64, len(s.Dividends))
		for k, v := range s.Dividends {
			out.Dividends[k] = v
		}
	}
	if s.Splits != nil {
		out.Splits = make(map[time.Time]float64, len(s.Splits))
		for k, v := range s.Splits {
			out.Splits[k] = v
		}
	}
	return out
}
