package reporting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/alem-hub/studyup-loadgen/internal/application/metrics"
	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
	"github.com/alem-hub/studyup-loadgen/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONSOLE
// ══════════════════════════════════════════════════════════════════════════════

// StatsSource provides the aggregated statistics.
type StatsSource interface {
	Snapshots() []metrics.Snapshot
	Total() metrics.Snapshot
	Elapsed() time.Duration
}

// Console logs failed operations as they arrive and prints a per-operation
// summary on an interval and once more at the end of the run.
type Console struct {
	stats    StatsSource
	logger   *zap.Logger
	interval time.Duration
}

// NewConsole creates a console reporter. interval <= 0 disables the
// periodic summary.
func NewConsole(stats StatsSource, log *zap.Logger, interval time.Duration) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{
		stats:    stats,
		logger:   log.With(logger.Component("console")),
		interval: interval,
	}
}

// Name implements messaging.Reporter.
func (c *Console) Name() string { return "console" }

// Report implements messaging.Reporter.
func (c *Console) Report(_ context.Context, events []metric.Event) error {
	for _, e := range events {
		if !e.Failed() {
			continue
		}
		c.logger.Warn("operation failed",
			logger.Operation(e.Name),
			zap.String("category", string(e.Category)),
			logger.UserID(e.UserID),
			logger.Latency(e.Duration),
			logger.Err(e.Err),
		)
	}
	return nil
}

// Run prints a summary every interval until ctx is done.
func (c *Console) Run(ctx context.Context) {
	if c.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Summary("progress")
		}
	}
}

// Summary logs one line per operation and a total line.
func (c *Console) Summary(stage string) {
	elapsed := c.stats.Elapsed()
	for _, s := range c.stats.Snapshots() {
		c.logger.Info("operation stats", snapshotFields(stage, s, elapsed)...)
	}
	c.logger.Info("total stats", snapshotFields(stage, c.stats.Total(), elapsed)...)
}

func snapshotFields(stage string, s metrics.Snapshot, elapsed time.Duration) []zap.Field {
	rps := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		rps = float64(s.Count) / secs
	}
	return []zap.Field{
		zap.String("stage", stage),
		logger.Operation(s.Name),
		zap.Int64("requests", s.Count),
		zap.Int64("failures", s.ErrorCount),
		zap.Float64("error_rate", s.ErrorRate()),
		zap.Duration("p50", s.P50),
		zap.Duration("p95", s.P95),
		zap.Duration("max", s.Max),
		zap.Int64("payload_bytes", s.TotalPayload),
		zap.Float64("rps", rps),
	}
}
