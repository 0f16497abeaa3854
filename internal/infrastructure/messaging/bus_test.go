package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/studyup-loadgen/internal/application/metrics"
	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
)

// collector records every batch it receives.
type collector struct {
	name string

	mu      sync.Mutex
	batches [][]metric.Event
	closed  atomic.Bool
}

func (c *collector) Name() string { return c.name }

func (c *collector) Report(_ context.Context, events []metric.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]metric.Event, len(events))
	copy(batch, events)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *collector) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *collector) events() []metric.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []metric.Event
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func (c *collector) batchSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, len(c.batches))
	for i, b := range c.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func event(name string) metric.Event {
	return metric.Event{Category: metric.CategoryStore, Name: name, Duration: time.Millisecond}
}

func closeBus(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))
}

func TestBus_DeliversToEveryReporterInOrder(t *testing.T) {
	a := &collector{name: "a"}
	c := &collector{name: "c"}
	b := NewBus(Config{BatchSize: 4, FlushInterval: time.Hour}, a, c)

	for i := 0; i < 10; i++ {
		require.True(t, b.Publish(event(metric.NameCreateSubject)))
	}
	closeBus(t, b)

	for _, r := range []*collector{a, c} {
		got := r.events()
		assert.Len(t, got, 10, r.name)
		assert.Equal(t, []int{4, 4, 2}, r.batchSizes(), r.name)
		assert.True(t, r.closed.Load(), r.name)
	}

	snap := b.Metrics().Snapshot()
	assert.Equal(t, int64(10), snap.Published)
	assert.Equal(t, int64(20), snap.Delivered)
	assert.Zero(t, snap.Dropped)
}

func TestBus_FlushesPartialBatchOnInterval(t *testing.T) {
	r := &collector{name: "r"}
	b := NewBus(Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, r)
	defer closeBus(t, b)

	b.Publish(event(metric.NameListSubjects))

	assert.Eventually(t, func() bool { return len(r.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBus_FailingReporterDoesNotBlockOthers(t *testing.T) {
	good := &collector{name: "good"}
	bad := ReporterFunc{ID: "bad", Fn: func(context.Context, []metric.Event) error {
		return errors.New("broker down")
	}}
	b := NewBus(Config{BatchSize: 2, FlushInterval: time.Hour}, bad, good)

	for i := 0; i < 4; i++ {
		b.Publish(event(metric.NameAddGrade))
	}
	closeBus(t, b)

	assert.Len(t, good.events(), 4)
	snap := b.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.ReportFailures["bad"])
	assert.Equal(t, int64(4), snap.Delivered)
}

func TestBus_RecoversReporterPanic(t *testing.T) {
	good := &collector{name: "good"}
	panicky := ReporterFunc{ID: "panicky", Fn: func(context.Context, []metric.Event) error {
		panic("boom")
	}}
	b := NewBus(Config{BatchSize: 1, FlushInterval: time.Hour}, panicky, good)

	b.Publish(event(metric.NameCreateUser))
	b.Publish(event(metric.NameCreateUser))
	closeBus(t, b)

	assert.Len(t, good.events(), 2)
	assert.Equal(t, int64(2), b.Metrics().Snapshot().ReportFailures["panicky"])
}

func TestBus_ReportTimeoutIsApplied(t *testing.T) {
	slow := ReporterFunc{ID: "slow", Fn: func(ctx context.Context, _ []metric.Event) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	b := NewBus(Config{BatchSize: 1, FlushInterval: time.Hour, ReportTimeout: 20 * time.Millisecond}, slow)

	b.Publish(event(metric.NameCreateUser))
	closeBus(t, b)

	assert.Equal(t, int64(1), b.Metrics().Snapshot().ReportFailures["slow"])
}

func TestBus_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocking := ReporterFunc{ID: "blocking", Fn: func(context.Context, []metric.Event) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}}
	b := NewBus(Config{BufferSize: 2, BatchSize: 1, FlushInterval: time.Hour, ReportTimeout: time.Minute}, blocking)

	require.True(t, b.Publish(event("first")))
	<-entered

	// The reporter holds the first event; the queue takes two more.
	assert.True(t, b.Publish(event("second")))
	assert.True(t, b.Publish(event("third")))
	assert.False(t, b.Publish(event("fourth")))

	close(release)
	closeBus(t, b)

	snap := b.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.Published)
	assert.Equal(t, int64(1), snap.Dropped)
}

func TestBus_DropsAfterClose(t *testing.T) {
	b := NewBus(Config{})
	closeBus(t, b)

	assert.False(t, b.Publish(event("late")))
	assert.Equal(t, int64(1), b.Metrics().Snapshot().Dropped)
	assert.NoError(t, b.Close(context.Background()))
}

func TestBus_CloseHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	stuck := ReporterFunc{ID: "stuck", Fn: func(context.Context, []metric.Event) error {
		<-release
		return nil
	}}
	b := NewBus(Config{BatchSize: 1, ReportTimeout: time.Minute}, stuck)
	b.Publish(event("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Close(ctx), context.DeadlineExceeded)
	close(release)
}

func TestBus_FeedsFromSink(t *testing.T) {
	r := &collector{name: "r"}
	b := NewBus(Config{FlushInterval: time.Hour}, r)
	sink := metrics.NewSink(metrics.WithPublisher(b))

	sink.Record(event(metric.NameCreateSubject))
	sink.Record(event(metric.NameListSubjects))
	closeBus(t, b)

	assert.Len(t, r.events(), 2)
	assert.Zero(t, sink.Dropped())
}
