// Package messaging carries MetricEvents from the sink to the reporters.
// Publishing never blocks a virtual user: when the buffer is full the
// event is dropped from the stream (it has already been aggregated).
package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
	"github.com/alem-hub/studyup-loadgen/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPORTER
// ══════════════════════════════════════════════════════════════════════════════

// Reporter consumes batches of events.
// Report is called from a single goroutine; implementations need not lock
// against themselves.
type Reporter interface {
	Name() string
	Report(ctx context.Context, events []metric.Event) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc struct {
	ID string
	Fn func(ctx context.Context, events []metric.Event) error
}

// Name implements Reporter.
func (r ReporterFunc) Name() string { return r.ID }

// Report implements Reporter.
func (r ReporterFunc) Report(ctx context.Context, events []metric.Event) error {
	return r.Fn(ctx, events)
}

// ══════════════════════════════════════════════════════════════════════════════
// BUS
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for Bus.
type Config struct {
	// BufferSize is the capacity of the publish queue.
	BufferSize int

	// BatchSize is the maximum events handed to a reporter at once.
	BatchSize int

	// FlushInterval is how often a partial batch is delivered.
	FlushInterval time.Duration

	// ReportTimeout bounds one Report call.
	ReportTimeout time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:    10000,
		BatchSize:     256,
		FlushInterval: time.Second,
		ReportTimeout: 5 * time.Second,
	}
}

// Bus buffers events and delivers them in batches to every reporter.
type Bus struct {
	config    Config
	reporters []Reporter
	logger    *zap.Logger
	metrics   *Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan metric.Event
	done   chan struct{}
}

// NewBus starts the delivery goroutine.
func NewBus(config Config, reporters ...Reporter) *Bus {
	def := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = def.BufferSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = def.FlushInterval
	}
	if config.ReportTimeout <= 0 {
		config.ReportTimeout = def.ReportTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	b := &Bus{
		config:    config,
		reporters: reporters,
		logger:    config.Logger.With(logger.Component("event_bus")),
		metrics:   newMetrics(),
		queue:     make(chan metric.Event, config.BufferSize),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues event without blocking. It returns false when the
// event was dropped because the buffer is full or the bus is closed.
func (b *Bus) Publish(event metric.Event) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.metrics.dropped.Add(1)
		return false
	}

	select {
	case b.queue <- event:
		b.metrics.published.Add(1)
		return true
	default:
		b.metrics.dropped.Add(1)
		return false
	}
}

// Close stops accepting events, delivers what is buffered and closes every
// reporter that implements io.Closer. It returns ctx.Err() if draining
// does not finish in time.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, r := range b.reporters {
		if c, ok := r.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close reporter %s: %w", r.Name(), err))
			}
		}
	}

	snap := b.metrics.Snapshot()
	b.logger.Info("event bus closed",
		zap.Int64("published", snap.Published),
		zap.Int64("delivered", snap.Delivered),
		zap.Int64("dropped", snap.Dropped),
	)
	return errors.Join(errs...)
}

// Metrics returns the delivery counters.
func (b *Bus) Metrics() *Metrics {
	return b.metrics
}

func (b *Bus) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]metric.Event, 0, b.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.deliver(batch)
		batch = make([]metric.Event, 0, b.config.BatchSize)
	}

	for {
		select {
		case event, ok := <-b.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= b.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// deliver hands batch to every reporter. A failing reporter never blocks
// the others.
func (b *Bus) deliver(batch []metric.Event) {
	for _, r := range b.reporters {
		err := b.report(r, batch)
		b.metrics.recordReport(r.Name(), len(batch), err)

		if err != nil {
			b.logger.Warn("reporter failed",
				logger.Reporter(r.Name()),
				zap.Int("batch", len(batch)),
				logger.Err(err),
			)
		}
	}
}

func (b *Bus) report(r Reporter, batch []metric.Event) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.ReportTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("reporter panic recovered",
				logger.Reporter(r.Name()),
				zap.Any("panic", p),
				zap.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("reporter panic: %v", p)
		}
	}()
	return r.Report(ctx, batch)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics tracks bus throughput.
type Metrics struct {
	published atomic.Int64
	dropped   atomic.Int64
	delivered atomic.Int64

	mu       sync.Mutex
	failures map[string]int64
}

func newMetrics() *Metrics {
	return &Metrics{failures: make(map[string]int64)}
}

func (m *Metrics) recordReport(name string, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.failures[name]++
		return
	}
	m.delivered.Add(int64(n))
}

// Snapshot returns a copy of current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	failures := make(map[string]int64, len(m.failures))
	for k, v := range m.failures {
		failures[k] = v
	}
	return MetricsSnapshot{
		Published:      m.published.Load(),
		Dropped:        m.dropped.Load(),
		Delivered:      m.delivered.Load(),
		ReportFailures: failures,
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
// Delivered counts event deliveries summed over reporters.
type MetricsSnapshot struct {
	Published      int64
	Dropped        int64
	Delivered      int64
	ReportFailures map[string]int64
}
