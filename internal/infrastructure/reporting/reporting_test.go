package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alem-hub/studyup-loadgen/internal/application/metrics"
	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
)

func sampleEvents() []metric.Event {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []metric.Event{
		{Category: metric.CategoryAuth, Name: metric.NameCreateUser, Duration: 40 * time.Millisecond, UserID: "u1", OccurredAt: now},
		{Category: metric.CategoryStore, Name: metric.NameCreateSubject, Duration: 12 * time.Millisecond, PayloadSize: 180, UserID: "u1", OccurredAt: now},
		{Category: metric.CategoryStore, Name: metric.NameCreateSubject, Duration: 30 * time.Millisecond, Err: errors.New("write failed"), UserID: "u1", OccurredAt: now},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROMETHEUS
// ══════════════════════════════════════════════════════════════════════════════

func TestPrometheus_Report(t *testing.T) {
	p := NewPrometheus()
	require.NoError(t, p.Report(context.Background(), sampleEvents()))

	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("AUTH", metric.NameCreateUser, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("STORE", metric.NameCreateSubject, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.requests.WithLabelValues("STORE", metric.NameCreateSubject, "failure")))
	assert.Equal(t, 180.0, testutil.ToFloat64(p.payload.WithLabelValues("STORE", metric.NameCreateSubject)))
	assert.Equal(t, 2, testutil.CollectAndCount(p.duration))
}

func TestPrometheus_HandlerExposesGauges(t *testing.T) {
	p := NewPrometheus(WithRuntimeCollectors())
	p.ObservePopulation(func() int { return 7 })
	p.ObserveDrops(func() int64 { return 3 })
	require.NoError(t, p.Report(context.Background(), sampleEvents()[:1]))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "studyup_loadgen_users_active 7")
	assert.Contains(t, body, "studyup_loadgen_events_dropped_total 3")
	assert.Contains(t, body, `studyup_loadgen_requests_total{category="AUTH",name="CreateUser",result="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

// ══════════════════════════════════════════════════════════════════════════════
// MQTT
// ══════════════════════════════════════════════════════════════════════════════

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeBroker struct {
	mu           sync.Mutex
	topics       []string
	payloads     [][]byte
	token        func() mqtt.Token
	disconnected bool
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload.([]byte))
	if b.token != nil {
		return b.token()
	}
	return newFakeToken(nil, true)
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnected = true
}

func TestMQTT_PublishesBatchAsJSONArray(t *testing.T) {
	broker := &fakeBroker{}
	cfg := DefaultMQTTConfig()
	m := newMQTT(broker, cfg)

	require.NoError(t, m.Report(context.Background(), sampleEvents()))
	require.Len(t, broker.payloads, 1)
	assert.Equal(t, cfg.Topic, broker.topics[0])

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(broker.payloads[0], &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "CreateUser", decoded[0]["name"])
	assert.Equal(t, float64(40), decoded[0]["duration_ms"])
	assert.Equal(t, "write failed", decoded[2]["error"])

	require.NoError(t, m.Close())
	assert.True(t, broker.disconnected)
}

func TestMQTT_ReportsBrokerError(t *testing.T) {
	errRefused := errors.New("not authorized")
	broker := &fakeBroker{token: func() mqtt.Token { return newFakeToken(errRefused, true) }}
	m := newMQTT(broker, DefaultMQTTConfig())

	assert.ErrorIs(t, m.Report(context.Background(), sampleEvents()), errRefused)
}

func TestMQTT_PublishTimeout(t *testing.T) {
	broker := &fakeBroker{token: func() mqtt.Token { return newFakeToken(nil, false) }}
	cfg := DefaultMQTTConfig()
	cfg.PublishTimeout = 10 * time.Millisecond
	m := newMQTT(broker, cfg)

	assert.ErrorIs(t, m.Report(context.Background(), sampleEvents()), ErrPublishTimeout)
}

func TestMQTT_ContextCancelled(t *testing.T) {
	broker := &fakeBroker{token: func() mqtt.Token { return newFakeToken(nil, false) }}
	m := newMQTT(broker, DefaultMQTTConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Report(ctx, sampleEvents()), context.Canceled)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS PUB/SUB
// ══════════════════════════════════════════════════════════════════════════════

func TestRedisPubSub_PublishesEachEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	sub := client.Subscribe(ctx, DefaultRedisChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	messages := sub.Channel()

	r := NewRedisPubSub(client, "")
	assert.Equal(t, "redis", r.Name())
	require.NoError(t, r.Report(ctx, sampleEvents()))

	var names []string
	for i := 0; i < 3; i++ {
		select {
		case msg := <-messages:
			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
			names = append(names, decoded["name"].(string))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	assert.Equal(t, []string{"CreateUser", "CreateSubject", "CreateSubject"}, names)
}

func TestRedisPubSub_EmptyBatch(t *testing.T) {
	r := NewRedisPubSub(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "x")
	assert.NoError(t, r.Report(context.Background(), nil))
}

func TestRedisPubSub_ServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	err := NewRedisPubSub(client, "ch").Report(context.Background(), sampleEvents())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "publish to ch"))
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSOLE
// ══════════════════════════════════════════════════════════════════════════════

func TestConsole_LogsFailuresOnly(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := NewConsole(metrics.NewSink(), zap.New(core), 0)

	require.NoError(t, c.Report(context.Background(), sampleEvents()))

	entries := logs.FilterMessage("operation failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, metric.NameCreateSubject, fields["operation"])
	assert.Equal(t, "console", fields["component"])
	assert.Equal(t, "write failed", fields["error"])
}

func TestConsole_Summary(t *testing.T) {
	sink := metrics.NewSink()
	for _, e := range sampleEvents() {
		sink.Record(e)
	}
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewConsole(sink, zap.New(core), 0)

	c.Summary("final")

	ops := logs.FilterMessage("operation stats").All()
	require.Len(t, ops, 2)
	assert.Equal(t, metric.NameCreateSubject, ops[0].ContextMap()["operation"])
	assert.Equal(t, int64(2), ops[0].ContextMap()["requests"])
	assert.Equal(t, int64(1), ops[0].ContextMap()["failures"])

	total := logs.FilterMessage("total stats").All()
	require.Len(t, total, 1)
	assert.Equal(t, int64(3), total[0].ContextMap()["requests"])
	assert.Equal(t, "final", total[0].ContextMap()["stage"])
}

func TestConsole_RunStopsOnCancel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c := NewConsole(metrics.NewSink(), zap.New(core), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return logs.FilterMessage("total stats").Len() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
