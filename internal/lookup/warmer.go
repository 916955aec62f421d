package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Warmer refreshes every lookup on a cron schedule.
type Warmer struct {
	cron *cron.Cron
}

// NewWarmer schedules svc.RefreshAll with spec, a standard five-field cron
// expression or a descriptor such as "@every 5m". Each run is bounded by
// timeout.
func NewWarmer(svc *Service, spec string, timeout time.Duration, logger *slog.Logger) (*Warmer, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	cl := cronLogger{logger: logger.With("component", "lookup_warmer")}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		if err := svc.RefreshAll(ctx); err != nil {
			cl.logger.Warn("lookup refresh failed", "error", err, "duration", time.Since(start))
			return
		}
		cl.logger.Debug("lookups refreshed", "duration", time.Since(start))
	})
	if err != nil {
		return nil, fmt.Errorf("invalid lookup refresh schedule %q: %w", spec, err)
	}
	return &Warmer{cron: c}, nil
}

// Start runs the schedule in the background.
func (w *Warmer) Start() {
	w.cron.Start()
}

// Stop halts the schedule and returns a context done when a running
// refresh has finished.
func (w *Warmer) Stop() context.Context {
	return w.cron.Stop()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
