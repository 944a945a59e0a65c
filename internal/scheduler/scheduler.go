// Package scheduler spreads batch runs across fixed time buckets between a
// start and end time, so a day's quota of batches runs at a steady pace
// instead of all at once.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailyword/pipeline/internal/batch"
	"github.com/dailyword/pipeline/internal/metrics"
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Plan describes the run window.
type Plan struct {
	Start         time.Time
	End           time.Time
	Interval      time.Duration
	StartBatch    int
	BatchesPerRun int
}

// Validate rejects plans the scheduler cannot execute.
func (p Plan) Validate() error {
	if !p.End.After(p.Start) {
		return fmt.Errorf("end time %s must be after start time %s", p.End.Format("15:04"), p.Start.Format("15:04"))
	}
	if p.Interval <= 0 {
		return fmt.Errorf("interval must be positive (got %s)", p.Interval)
	}
	if p.BatchesPerRun < 1 {
		return fmt.Errorf("batches per run must be at least 1 (got %d)", p.BatchesPerRun)
	}
	return nil
}

// RunTimes expands the plan window into concrete trigger times, inclusive of
// the end when the interval lands on it exactly.
func RunTimes(start, end time.Time, interval time.Duration) []time.Time {
	var times []time.Time
	for t := start; !t.After(end); t = t.Add(interval) {
		times = append(times, t)
	}
	return times
}

// CurrentBucket returns the bucket now falls in: 0 before the first trigger,
// otherwise the largest index whose trigger time has passed.
func CurrentBucket(times []time.Time, now time.Time) int {
	for i := len(times) - 1; i >= 0; i-- {
		if !times[i].After(now) {
			return i
		}
	}
	return 0
}

// Summary tallies one scheduler session.
type Summary struct {
	Total      int
	Successful int
	Failed     int
	Skipped    int
}

// BatchRunner is the orchestrator dependency; see batch.Orchestrator.
type BatchRunner interface {
	RunFrom(ctx context.Context, startBatch, count int, force bool) (*batch.Summary, error)
}

// Scheduler runs one orchestrator pass per time bucket. Bucket i covers
// batches [StartBatch + i*BatchesPerRun, StartBatch + (i+1)*BatchesPerRun).
type Scheduler struct {
	orchestrator BatchRunner
	plan         Plan
	metrics      *metrics.Collector
	logger       *slog.Logger
	clock        Clock
}

// New builds a scheduler around an orchestrator.
func New(orchestrator BatchRunner, plan Plan, collector *metrics.Collector, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		plan:         plan,
		metrics:      collector,
		logger:       logger,
		clock:        realClock{},
	}
}

// Run executes the plan. A failed bucket is logged and counted but does not
// stop the session; buckets whose trigger time passes while an earlier run
// is still working are skipped rather than fired late back to back.
func (s *Scheduler) Run(ctx context.Context) (*Summary, error) {
	if err := s.plan.Validate(); err != nil {
		return nil, err
	}

	times := RunTimes(s.plan.Start, s.plan.End, s.plan.Interval)
	summary := &Summary{Total: len(times)}

	now := s.clock.Now()
	if now.After(s.plan.End) {
		s.logger.Info("Run window already over, nothing to do",
			"end", s.plan.End.Format(time.RFC3339),
			"now", now.Format(time.RFC3339))
		summary.Skipped = len(times)
		return summary, nil
	}

	idx := CurrentBucket(times, now)
	summary.Skipped += idx

	s.logger.Info("Run plan",
		"buckets", len(times),
		"first", times[0].Format(time.RFC3339),
		"last", times[len(times)-1].Format(time.RFC3339),
		"interval", s.plan.Interval,
		"starting_bucket", idx,
		"batches_per_run", s.plan.BatchesPerRun)

	for idx < len(times) {
		if wait := times[idx].Sub(s.clock.Now()); wait > 0 {
			s.logger.Info("Waiting for next bucket",
				"bucket", idx,
				"trigger", times[idx].Format(time.RFC3339),
				"wait", wait.Round(time.Second))
			if err := s.clock.Sleep(ctx, wait); err != nil {
				return summary, err
			}
		}

		startBatch := s.plan.StartBatch + idx*s.plan.BatchesPerRun
		s.logger.Info("Bucket triggered", "bucket", idx, "start_batch", startBatch)

		if _, err := s.orchestrator.RunFrom(ctx, startBatch, s.plan.BatchesPerRun, false); err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Failed++
			s.metrics.IncrementSchedulerRun("failed")
			s.logger.Error("Bucket run failed", "bucket", idx, "error", err)
		} else {
			summary.Successful++
			s.metrics.IncrementSchedulerRun("success")
		}

		// A long run can overshoot later triggers; fire the next future
		// bucket rather than rattling off the missed ones immediately.
		next := idx + 1
		now = s.clock.Now()
		for next < len(times) && times[next].Before(now) {
			s.logger.Warn("Bucket trigger elapsed during previous run, skipping", "bucket", next)
			s.metrics.IncrementSchedulerRun("skipped")
			summary.Skipped++
			next++
		}
		idx = next
	}

	s.logger.Info("Schedule finished",
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"total", summary.Total)
	return summary, nil
}
