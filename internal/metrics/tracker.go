package metrics

import (
	"sort"
	"sync"
	"time"
)

// Operation names recorded by the pipeline.
const (
	OpEmbedding   = "embedding_generation"
	OpSearch      = "similarity_search"
	OpProcessing  = "document_processing"
	OpLLMResponse = "llm_response"
	OpTotalQuery  = "total_query_time"
)

// Tracker keeps a bounded rolling window of durations per operation name.
// It is injected wherever timings are recorded; instances are independent,
// so tests and concurrent servers never share state.
type Tracker struct {
	mu       sync.Mutex
	windows  map[string][]float64
	capacity int
}

// OpStats summarises one operation's recorded window.
type OpStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Max   float64 `json:"max"`
}

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 100
	}
	return &Tracker{
		windows:  make(map[string][]float64),
		capacity: capacity,
	}
}

// Record appends a duration to the operation's window, evicting the oldest
// sample once the window is full.
func (t *Tracker) Record(op string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := append(t.windows[op], d.Seconds())
	if len(w) > t.capacity {
		w = w[len(w)-t.capacity:]
	}
	t.windows[op] = w
}

// Time runs fn and records its duration under op.
func (t *Tracker) Time(op string, fn func()) {
	start := time.Now()
	fn()
	t.Record(op, time.Since(start))
}

// Stats returns the summary for one operation. Count is zero when nothing
// has been recorded.
func (t *Tracker) Stats(op string) OpStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return summarize(t.windows[op])
}

// Snapshot returns summaries for every operation seen so far.
func (t *Tracker) Snapshot() map[string]OpStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]OpStats, len(t.windows))
	for op, w := range t.windows {
		out[op] = summarize(w)
	}
	return out
}

func summarize(w []float64) OpStats {
	if len(w) == 0 {
		return OpStats{}
	}

	sorted := make([]float64, len(w))
	copy(sorted, w)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return OpStats{
		Count: len(sorted),
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		Max:   sorted[len(sorted)-1],
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
