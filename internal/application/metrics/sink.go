// Package metrics aggregates the events emitted by virtual users into
// per-operation statistics.
//
// Sink is the only state shared by all virtual users. Record performs no
// I/O: it updates in-memory statistics under a per-operation lock and then
// offers the event to an optional Publisher with a non-blocking hand-off.
// Aggregation is exact (every recorded event is counted once); delivery to
// external reporters is best effort and drops are counted.
package metrics

import (
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
)

// Publisher forwards events to reporters. Publish must not block; it
// returns false when the event could not be enqueued.
type Publisher interface {
	Publish(event metric.Event) bool
}

// Snapshot is a point-in-time view of one operation's statistics.
type Snapshot struct {
	Name         string          `json:"name"`
	Category     metric.Category `json:"category"`
	Count        int64           `json:"count"`
	ErrorCount   int64           `json:"error_count"`
	P50          time.Duration   `json:"p50"`
	P95          time.Duration   `json:"p95"`
	Max          time.Duration   `json:"max"`
	TotalPayload int64           `json:"total_payload"`
}

// ErrorRate returns ErrorCount / Count, or 0 for an empty snapshot.
func (s Snapshot) ErrorRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.Count)
}

// Sink aggregates metric events. The zero value is not usable; call NewSink.
type Sink struct {
	mu  sync.RWMutex
	ops map[string]*opStats

	publisher Publisher
	startedAt time.Time

	recorded atomic.Int64
	dropped  atomic.Int64
}

// opStats holds everything recorded for one operation name.
type opStats struct {
	mu        sync.Mutex
	category  metric.Category
	count     int64
	errors    int64
	payload   int64
	max       time.Duration

	// durations[:sorted] is in ascending order; later samples are merged in
	// by the next snapshot. The backing array is never reordered in place,
	// so a sorted view stays valid after the lock is released.
	durations []time.Duration
	sorted    int
}

// Option configures a Sink.
type Option func(*Sink)

// WithPublisher attaches a publisher that receives every recorded event.
func WithPublisher(p Publisher) Option {
	return func(s *Sink) {
		s.publisher = p
	}
}

// NewSink creates an empty sink.
func NewSink(opts ...Option) *Sink {
	s := &Sink{
		ops:       make(map[string]*opStats),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record ingests one event. Safe for concurrent use.
func (s *Sink) Record(event metric.Event) {
	st := s.statsFor(event.Name, event.Category)

	d := event.Duration
	if d < 0 {
		d = 0
	}

	st.mu.Lock()
	st.count++
	if event.Err != nil {
		st.errors++
	}
	st.payload += int64(event.PayloadSize)
	if d > st.max {
		st.max = d
	}
	st.durations = append(st.durations, d)
	st.mu.Unlock()

	s.recorded.Add(1)

	if s.publisher != nil && !s.publisher.Publish(event) {
		s.dropped.Add(1)
	}
}

func (s *Sink) statsFor(name string, category metric.Category) *opStats {
	s.mu.RLock()
	st, ok := s.ops[name]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.ops[name]; ok {
		return st
	}
	st = &opStats{category: category}
	s.ops[name] = st
	return st
}

// Snapshot returns the statistics recorded so far for name.
func (s *Sink) Snapshot(name string) (Snapshot, bool) {
	s.mu.RLock()
	st, ok := s.ops[name]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{Name: name}, false
	}
	return st.snapshot(name), true
}

// Snapshots returns the statistics of every operation, sorted by name.
func (s *Sink) Snapshots() []Snapshot {
	s.mu.RLock()
	names := make([]string, 0, len(s.ops))
	stats := make(map[string]*opStats, len(s.ops))
	for name, st := range s.ops {
		names = append(names, name)
		stats[name] = st
	}
	s.mu.RUnlock()

	sort.Strings(names)
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		out = append(out, stats[name].snapshot(name))
	}
	return out
}

// Total aggregates every operation into a single snapshot named "Total".
func (s *Sink) Total() Snapshot {
	s.mu.RLock()
	all := make([]*opStats, 0, len(s.ops))
	for _, st := range s.ops {
		all = append(all, st)
	}
	s.mu.RUnlock()

	total := Snapshot{Name: "Total"}
	var merged []time.Duration
	for _, st := range all {
		st.mu.Lock()
		total.Count += st.count
		total.ErrorCount += st.errors
		total.TotalPayload += st.payload
		if st.max > total.Max {
			total.Max = st.max
		}
		view := st.sortedLocked()
		st.mu.Unlock()
		merged = mergeSorted(merged, view)
	}
	total.P50 = percentile(merged, 0.50)
	total.P95 = percentile(merged, 0.95)
	return total
}

// Recorded returns the number of events recorded.
func (s *Sink) Recorded() int64 {
	return s.recorded.Load()
}

// Dropped returns the number of events the publisher refused.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Elapsed returns the time since the sink was created.
func (s *Sink) Elapsed() time.Duration {
	return time.Since(s.startedAt)
}

func (st *opStats) snapshot(name string) Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	durations := st.sortedLocked()
	return Snapshot{
		Name:         name,
		Category:     st.category,
		Count:        st.count,
		ErrorCount:   st.errors,
		P50:          percentile(durations, 0.50),
		P95:          percentile(durations, 0.95),
		Max:          st.max,
		TotalPayload: st.payload,
	}
}

// sortedLocked folds the samples recorded since the last call into the
// sorted prefix and returns every sample in ascending order. Only the new
// samples are sorted, so periodic snapshots cost O(new·log new + total).
func (st *opStats) sortedLocked() []time.Duration {
	if st.sorted < len(st.durations) {
		fresh := slices.Clone(st.durations[st.sorted:])
		slices.Sort(fresh)
		st.durations = mergeSorted(st.durations[:st.sorted:st.sorted], fresh)
		st.sorted = len(st.durations)
	}
	return st.durations[:st.sorted:st.sorted]
}

// mergeSorted returns a new ascending slice holding a and b.
func mergeSorted(a, b []time.Duration) []time.Duration {
	out := make([]time.Duration, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j] < a[i] {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
