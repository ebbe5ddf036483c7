// Package query implements pure analytic functions over a Sample Ring
// snapshot: time-index lookup, median-over-window, baseline drift, and
// peak search (spec §4.3).
package query

import (
	"sort"

	"github.com/dmgualb/HMC-T1/mathx"
	"github.com/dmgualb/HMC-T1/ringbuf"
	"github.com/pkg/errors"
)

// ErrNoPeak is returned by Peak when no local maximum clears the height
// and spacing thresholds.
var ErrNoPeak = errors.New("query: no peak found")

// sanitize drops any record at the head or tail whose Values vector is
// shorter than nch. This is defensive against transient ingestion races
// per spec §4.3; Append already guarantees well-formed records under
// normal operation, so this is a cheap no-op in the common case.
func sanitize(samples []ringbuf.Sample, nch int) []ringbuf.Sample {
	lo, hi := 0, len(samples)
	for lo < hi && len(samples[lo].Values) < nch {
		lo++
	}
	for hi > lo && len(samples[hi-1].Values) < nch {
		hi--
	}
	return samples[lo:hi]
}

// FindTimeIndex returns the smallest index i such that samples[i].T >= t,
// clamped to 0 when t is before the first sample and to the last index
// when t is after the last sample. samples must be sorted by T ascending
// and non-empty; callers should check for an empty ring first.
func FindTimeIndex(samples []ringbuf.Sample, t float64) int {
	n := len(samples)
	if n == 0 {
		return 0
	}
	if t <= samples[0].T {
		return 0
	}
	if t > samples[n-1].T {
		return n - 1
	}
	return sort.Search(n, func(i int) bool { return samples[i].T >= t })
}

// Median returns the median of the channel-th value over
// samples[startIndex..endIndex] inclusive, where startIndex is
// FindTimeIndex(samples[endIndex].T - periodSeconds).
func Median(samples []ringbuf.Sample, channel, endIndex int, periodSeconds float64) (float64, error) {
	if endIndex < 0 || endIndex >= len(samples) {
		return 0, errors.New("query: endIndex out of range")
	}
	tEnd := samples[endIndex].T
	startIndex := FindTimeIndex(samples, tEnd-periodSeconds)
	if startIndex > endIndex {
		startIndex = endIndex
	}
	vals := make([]float64, 0, endIndex-startIndex+1)
	for i := startIndex; i <= endIndex; i++ {
		if channel >= len(samples[i].Values) {
			continue
		}
		vals = append(vals, samples[i].Values[channel])
	}
	if len(vals) == 0 {
		return 0, errors.New("query: no values in window")
	}
	return mathx.Median(vals), nil
}

// Converter turns a raw channel reading into physical units, matching
// sensorcat.Descriptor.Convert's signature without importing sensorcat
// (keeps this package a pure function library over raw ring data).
type Converter func(channel int, raw float64) float64

// Drift returns the baseline slope of a channel over intervalSeconds, in
// converted units per minute, per spec §4.3. If intervalSeconds is 0, 60
// seconds is substituted.
func Drift(samples []ringbuf.Sample, channel int, intervalSeconds float64, convert Converter) (float64, error) {
	samples = sanitize(samples, channel+1)
	if len(samples) == 0 {
		return 0, errors.New("query: empty ring")
	}
	if intervalSeconds == 0 {
		intervalSeconds = 60
	}
	tLast := samples[len(samples)-1].T
	tFirst := samples[0].T
	t0 := tLast - intervalSeconds
	if t0 < tFirst {
		t0 = tFirst
	}
	idx0 := FindTimeIndex(samples, t0)
	idx1 := len(samples) - 1

	m0, err := Median(samples, channel, idx0, 1.0)
	if err != nil {
		return 0, err
	}
	m1, err := Median(samples, channel, idx1, 1.0)
	if err != nil {
		return 0, err
	}
	b0 := convert(channel, m0)
	b1 := convert(channel, m1)
	return (b1 - b0) / intervalSeconds * 60, nil
}

// Peak searches channel over [t0, t0+interval] (clamped to the ring) for
// the first sustained local maximum, per spec §4.3: minimum height is the
// median of the 1 s of samples ending at t0 (converted) plus 1e-3, minimum
// spacing is half the gap between the first two candidate peaks. Peaks
// are scanned in time order tracking a running maximum; once a later
// peak drops more than 1e-3 (converted units) below the running maximum,
// the search stops and the running maximum is returned.
func Peak(samples []ringbuf.Sample, channel int, t0, interval float64, convert Converter) (t, v float64, err error) {
	samples = sanitize(samples, channel+1)
	if len(samples) == 0 {
		return 0, 0, errors.New("query: empty ring")
	}
	tFirst := samples[0].T
	tLast := samples[len(samples)-1].T
	lo := t0
	hi := t0 + interval
	if lo < tFirst {
		lo = tFirst
	}
	if hi > tLast {
		hi = tLast
	}
	if lo >= hi {
		return 0, 0, errors.New("query: empty search window")
	}
	iLo := FindTimeIndex(samples, lo)
	iHi := FindTimeIndex(samples, hi)
	if iHi <= iLo {
		return 0, 0, ErrNoPeak
	}
	xs := make([]float64, 0, iHi-iLo+1)
	ys := make([]float64, 0, iHi-iLo+1)
	for i := iLo; i <= iHi; i++ {
		xs = append(xs, samples[i].T)
		ys = append(ys, convert(channel, samples[i].Values[channel]))
	}

	baseIdx := FindTimeIndex(samples, t0)
	baseMed, err := Median(samples, channel, baseIdx, 1.0)
	if err != nil {
		return 0, 0, err
	}
	height := convert(channel, baseMed) + 1e-3

	// minimum spacing is derived from the first two candidate peaks before
	// any filtering, per spec; find unfiltered local maxima first to
	// measure that spacing, then re-run with it enforced.
	rawPeaks := mathx.FindPeaks(xs, ys, height, 0)
	if len(rawPeaks) == 0 {
		return 0, 0, ErrNoPeak
	}
	spacing := 0.0
	if len(rawPeaks) >= 2 {
		spacing = (rawPeaks[1].X - rawPeaks[0].X) / 2
	}
	peaks := mathx.FindPeaks(xs, ys, height, spacing)
	if len(peaks) == 0 {
		return 0, 0, ErrNoPeak
	}

	pkTim, pkVal := peaks[0].X, peaks[0].Y
	for _, p := range peaks[1:] {
		if p.Y > pkVal {
			pkTim, pkVal = p.X, p.Y
			continue
		}
		if pkVal-p.Y > 1e-3 {
			break
		}
	}
	if pkVal <= height {
		return 0, 0, ErrNoPeak
	}
	return pkTim, pkVal, nil
}
