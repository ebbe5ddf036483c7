// Package ringbuf implements the time-windowed sample ring: a
// single-writer, many-reader ordered sequence of timestamped
// multi-channel samples, bounded by elapsed time rather than by a fixed
// slot count.
//
// The Append/Head/Tail naming follows the teacher's vendored
// github.com/brandondube/ringo circular buffers, but the storage
// strategy differs: ringo overwrites a fixed-capacity slice in place,
// while spec invariant 2 requires eviction by (t_last - t_first), which
// needs a growth/shrink slice rather than a fixed ring.
package ringbuf

import (
	"sync"

	"github.com/pkg/errors"
)

// Sample is one acquisition record: a strictly increasing sequence
// number, elapsed time in seconds since the worker's T0, and one value
// per declared sensor channel, aligned 1:1 with the sensor catalog.
type Sample struct {
	Seq    uint64
	T      float64
	Values []float64
}

// Buffer is the time-windowed sample ring. The zero value is not usable;
// construct with New.
type Buffer struct {
	mu       sync.RWMutex
	window   float64 // seconds
	nch      int
	nextSeq  uint64
	samples  []Sample
}

// New creates an empty Buffer that evicts samples older than window
// seconds (relative to the newest sample) and expects nch values per
// sample.
func New(window float64, nch int) *Buffer {
	return &Buffer{window: window, nch: nch}
}

// WindowSeconds returns the configured eviction window.
func (b *Buffer) WindowSeconds() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.window
}

// NumChannels returns the configured per-sample channel count.
func (b *Buffer) NumChannels() int { return b.nch }

// Append adds a new sample, stamping it with the next sequence number.
// It is the caller's responsibility (the supervisor loop in cmd/daqsrv)
// to serialize calls to Append — there is exactly one writer, per spec
// §3/§5.
func (b *Buffer) Append(t float64, values []float64) (Sample, error) {
	if len(values) != b.nch {
		return Sample{}, errors.Errorf("ringbuf: expected %d channel values, got %d", b.nch, len(values))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.samples); n > 0 {
		last := b.samples[n-1]
		if t < last.T {
			return Sample{}, errors.Errorf("ringbuf: non-monotonic time, last=%f new=%f", last.T, t)
		}
	}

	s := Sample{Seq: b.nextSeq, T: t, Values: append([]float64(nil), values...)}
	b.nextSeq++
	b.samples = append(b.samples, s)
	b.evictLocked()
	return s, nil
}

// evictLocked drops the oldest samples while t_last - t_first exceeds the
// configured window. Caller must hold the write lock.
func (b *Buffer) evictLocked() {
	if len(b.samples) == 0 {
		return
	}
	last := b.samples[len(b.samples)-1].T
	i := 0
	for i < len(b.samples)-1 && last-b.samples[i].T > b.window {
		i++
	}
	if i > 0 {
		b.samples = b.samples[i:]
	}
}

// Len returns the current number of samples held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// At returns a copy of the sample at index i. Callers should bound i with
// Len first; At panics on an out-of-range index, matching slice
// semantics.
func (b *Buffer) At(i int) Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneSample(b.samples[i])
}

// Last returns the newest sample and true, or the zero Sample and false
// if the buffer is empty.
func (b *Buffer) Last() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return cloneSample(b.samples[len(b.samples)-1]), true
}

// First returns the oldest sample and true, or the zero Sample and false
// if the buffer is empty.
func (b *Buffer) First() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return cloneSample(b.samples[0]), true
}

// Snapshot returns a defensive copy of every sample currently held,
// oldest first. It is meant for query-engine functions and range dumps,
// which need a stable view while they compute.
func (b *Buffer) Snapshot() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Sample, len(b.samples))
	for i, s := range b.samples {
		out[i] = cloneSample(s)
	}
	return out
}

// Range returns copies of every sample with T in [t0, t1] inclusive,
// oldest first, used by :DATA:READ?.
func (b *Buffer) Range(t0, t1 float64) []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Sample
	for _, s := range b.samples {
		if s.T >= t0 && s.T <= t1 {
			out = append(out, cloneSample(s))
		}
	}
	return out
}

// Rebase subtracts delta from every record's T, used by :CMD:TIME:RST.
// seq is left untouched; t_first may become negative.
func (b *Buffer) Rebase(delta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.samples {
		b.samples[i].T -= delta
	}
}

func cloneSample(s Sample) Sample {
	return Sample{Seq: s.Seq, T: s.T, Values: append([]float64(nil), s.Values...)}
}
