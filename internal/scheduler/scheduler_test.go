package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/dailyword/pipeline/internal/batch"
	"github.com/dailyword/pipeline/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func at(hour, min int) time.Time {
	return time.Date(2026, 8, 26, hour, min, 0, 0, time.UTC)
}

// fakeClock advances by stepPerRun each time the runner fires, simulating
// runs that take wall time.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return nil
}

// fakeRunner records RunFrom calls and optionally advances the clock and
// fails selected buckets.
type fakeRunner struct {
	clock      *fakeClock
	runTime    time.Duration
	failStarts map[int]bool
	calls      [][2]int // {startBatch, count}
}

func (r *fakeRunner) RunFrom(_ context.Context, startBatch, count int, _ bool) (*batch.Summary, error) {
	r.calls = append(r.calls, [2]int{startBatch, count})
	if r.clock != nil {
		r.clock.now = r.clock.now.Add(r.runTime)
	}
	if r.failStarts[startBatch] {
		return nil, errors.New("bucket boom")
	}
	return &batch.Summary{}, nil
}

func TestRunTimes(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		interval time.Duration
		want     int
	}{
		{"hourly over three hours", at(9, 0), at(12, 0), time.Hour, 4},
		{"end not on boundary", at(9, 0), at(11, 30), time.Hour, 3},
		{"single bucket", at(9, 0), at(9, 0), time.Hour, 1},
		{"thirty minutes", at(9, 0), at(10, 0), 30 * time.Minute, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			times := RunTimes(tt.start, tt.end, tt.interval)
			if len(times) != tt.want {
				t.Errorf("got %d run times, want %d", len(times), tt.want)
			}
			if len(times) > 0 && !times[0].Equal(tt.start) {
				t.Errorf("first run time = %v, want %v", times[0], tt.start)
			}
		})
	}
}

func TestCurrentBucket(t *testing.T) {
	times := RunTimes(at(9, 0), at(12, 0), time.Hour) // 9, 10, 11, 12

	tests := []struct {
		now  time.Time
		want int
	}{
		{at(8, 0), 0}, // before the window
		{at(9, 0), 0}, // exactly on the first trigger
		{at(9, 59), 0},
		{at(11, 30), 2},
		{at(12, 0), 3},
		{at(13, 0), 3},
	}
	for _, tt := range tests {
		if got := CurrentBucket(times, tt.now); got != tt.want {
			t.Errorf("CurrentBucket(%v) = %d, want %d", tt.now.Format("15:04"), got, tt.want)
		}
	}
}

func newTestScheduler(runner BatchRunner, plan Plan, clock Clock) *Scheduler {
	s := New(runner, plan, metrics.NewCollector(discardLogger()), discardLogger())
	s.clock = clock
	return s
}

func TestSchedulerRunsEveryBucket(t *testing.T) {
	clock := &fakeClock{now: at(8, 30)}
	runner := &fakeRunner{clock: clock, runTime: 10 * time.Minute}
	plan := Plan{
		Start:         at(9, 0),
		End:           at(11, 0),
		Interval:      time.Hour,
		StartBatch:    0,
		BatchesPerRun: 2,
	}

	summary, err := newTestScheduler(runner, plan, clock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := [][2]int{{0, 2}, {2, 2}, {4, 2}}
	if !reflect.DeepEqual(runner.calls, want) {
		t.Errorf("calls = %v, want %v", runner.calls, want)
	}
	if summary.Successful != 3 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSchedulerStartsMidWindow(t *testing.T) {
	// 11:30 falls in bucket 2 of a 9..12 hourly window; earlier buckets
	// count as skipped.
	clock := &fakeClock{now: at(11, 30)}
	runner := &fakeRunner{clock: clock, runTime: 5 * time.Minute}
	plan := Plan{
		Start:         at(9, 0),
		End:           at(12, 0),
		Interval:      time.Hour,
		StartBatch:    10,
		BatchesPerRun: 3,
	}

	summary, err := newTestScheduler(runner, plan, clock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := [][2]int{{16, 3}, {19, 3}} // buckets 2 and 3
	if !reflect.DeepEqual(runner.calls, want) {
		t.Errorf("calls = %v, want %v", runner.calls, want)
	}
	if summary.Skipped != 2 || summary.Successful != 2 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSchedulerWindowOver(t *testing.T) {
	clock := &fakeClock{now: at(13, 0)}
	runner := &fakeRunner{}
	plan := Plan{
		Start:         at(9, 0),
		End:           at(12, 0),
		Interval:      time.Hour,
		BatchesPerRun: 1,
	}

	summary, err := newTestScheduler(runner, plan, clock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("runner fired %d times after the window closed", len(runner.calls))
	}
	if summary.Skipped != 4 {
		t.Errorf("skipped = %d, want all 4 buckets", summary.Skipped)
	}
}

func TestSchedulerRunsLastBucketBeforeWindowEnd(t *testing.T) {
	// The window end is past the last trigger (no run time lands on
	// 11:30). Launching at 11:15 is still inside the window, so the
	// 11:00 bucket must fire immediately rather than being written off.
	clock := &fakeClock{now: at(11, 15)}
	runner := &fakeRunner{clock: clock, runTime: 5 * time.Minute}
	plan := Plan{
		Start:         at(9, 0),
		End:           at(11, 30),
		Interval:      time.Hour,
		StartBatch:    0,
		BatchesPerRun: 2,
	}

	summary, err := newTestScheduler(runner, plan, clock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := [][2]int{{4, 2}} // bucket 2 of triggers 9, 10, 11
	if !reflect.DeepEqual(runner.calls, want) {
		t.Errorf("calls = %v, want %v", runner.calls, want)
	}
	if summary.Skipped != 2 || summary.Successful != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSchedulerFailuresDoNotStopSession(t *testing.T) {
	clock := &fakeClock{now: at(9, 0)}
	runner := &fakeRunner{clock: clock, runTime: time.Minute, failStarts: map[int]bool{1: true}}
	plan := Plan{
		Start:         at(9, 0),
		End:           at(11, 0),
		Interval:      time.Hour,
		StartBatch:    0,
		BatchesPerRun: 1,
	}

	summary, err := newTestScheduler(runner, plan, clock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run should survive a failed bucket: %v", err)
	}
	if len(runner.calls) != 3 {
		t.Errorf("runner fired %d times, want 3", len(runner.calls))
	}
	if summary.Failed != 1 || summary.Successful != 2 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestSchedulerSkipsElapsedBuckets(t *testing.T) {
	// Each run takes 95 minutes, so every other trigger elapses while the
	// previous run is still working.
	clock := &fakeClock{now: at(9, 0)}
	runner := &fakeRunner{clock: clock, runTime: 95 * time.Minute}
	plan := Plan{
		Start:         at(9, 0),
		End:           at(12, 0),
		Interval:      time.Hour,
		StartBatch:    0,
		BatchesPerRun: 1,
	}

	summary, err := newTestScheduler(runner, plan, clock).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Bucket 0 runs 9:00-10:35 (bucket 1 elapses), bucket 2 runs
	// 11:00-12:35 (bucket 3 elapses).
	want := [][2]int{{0, 1}, {2, 1}}
	if !reflect.DeepEqual(runner.calls, want) {
		t.Errorf("calls = %v, want %v", runner.calls, want)
	}
	if summary.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", summary.Skipped)
	}
}

func TestPlanValidate(t *testing.T) {
	valid := Plan{Start: at(9, 0), End: at(10, 0), Interval: time.Hour, BatchesPerRun: 1}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}

	bad := []Plan{
		{Start: at(10, 0), End: at(9, 0), Interval: time.Hour, BatchesPerRun: 1},
		{Start: at(9, 0), End: at(10, 0), Interval: 0, BatchesPerRun: 1},
		{Start: at(9, 0), End: at(10, 0), Interval: time.Hour, BatchesPerRun: 0},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("bad plan %d accepted", i)
		}
	}
}
