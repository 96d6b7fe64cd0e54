package monitor

import (
	"math"
	"slices"
	"time"
)

type sample struct {
	ok      bool
	latency time.Duration
}

// window keeps the most recent samples of one (kind, backend) pair.
type window struct {
	samples []sample
	next    int
	full    bool
	total   int64
}

func newWindow(size int) *window {
	return &window{samples: make([]sample, size)}
}

func (w *window) add(s sample) {
	w.samples[w.next] = s
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
	w.total++
}

func (w *window) current() []sample {
	if w.full {
		return w.samples
	}
	return w.samples[:w.next]
}

type windowStats struct {
	count       int
	successRate float64
	p50, p95    time.Duration
}

func (w *window) stats() windowStats {
	cur := w.current()
	if len(cur) == 0 {
		return windowStats{successRate: 1}
	}
	latencies := make([]time.Duration, len(cur))
	ok := 0
	for i, s := range cur {
		latencies[i] = s.latency
		if s.ok {
			ok++
		}
	}
	slices.Sort(latencies)
	return windowStats{
		count:       len(cur),
		successRate: float64(ok) / float64(len(cur)),
		p50:         percentile(latencies, 0.50),
		p95:         percentile(latencies, 0.95),
	}
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}
