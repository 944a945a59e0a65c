// Package batch walks the frequency partitions in order, delegating each to
// the partition runner and stopping at the first failure so a rerun can pick
// up exactly where processing stopped.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailyword/pipeline/internal/config"
	"github.com/dailyword/pipeline/internal/partition"
)

// PartitionRunner runs a single batch; see runner.Runner.
type PartitionRunner interface {
	RunPartition(ctx context.Context, batchIndex int, force bool) (skipped bool, err error)
}

// Summary describes one orchestrator pass.
type Summary struct {
	Processed     []int // batches that ran and produced output
	Skipped       []int // batches with nothing to do
	Failed        int   // index of the failing batch; meaningful when StoppedEarly
	FailedLabel   string
	StoppedEarly  bool
	ResumeCommand string
}

// Orchestrator sequences batches with a pause between runs.
type Orchestrator struct {
	cfg    *config.Config
	runner PartitionRunner
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a batch orchestrator.
func New(cfg *config.Config, runner PartitionRunner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// RunFrom processes batches starting at startBatch. count limits how many
// batches actually run (skipped ones don't count); count <= 0 means all
// remaining. The pass stops at the first failing batch and reports the
// command that resumes from it.
func (o *Orchestrator) RunFrom(ctx context.Context, startBatch, count int, force bool) (*Summary, error) {
	total := partition.TotalBatches(o.cfg.Batch.MaxFrequency, o.cfg.Batch.Size)
	if startBatch < 0 || startBatch >= total {
		return nil, fmt.Errorf("start batch %d out of range [0, %d)", startBatch, total)
	}

	o.logger.Info("Starting batch pass",
		"start_batch", startBatch,
		"total_batches", total,
		"count", count,
		"force", force)

	summary := &Summary{}
	processed := 0
	for i := startBatch; i < total; i++ {
		if count > 0 && processed >= count {
			break
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		skipped, err := o.runner.RunPartition(ctx, i, force)
		if err != nil {
			label := partition.ByFrequency(i, o.cfg.Batch.Size).Label
			summary.StoppedEarly = true
			summary.Failed = i
			summary.FailedLabel = label
			summary.ResumeCommand = fmt.Sprintf("dailyword batch %d", i)
			o.logger.Error("Batch failed, stopping pass",
				"batch", i,
				"range", label,
				"resume_with", summary.ResumeCommand,
				"error", err)
			return summary, err
		}
		if skipped {
			summary.Skipped = append(summary.Skipped, i)
			continue
		}
		summary.Processed = append(summary.Processed, i)
		processed++

		// Let upstream services breathe between batches.
		if i < total-1 && (count <= 0 || processed < count) {
			if err := o.sleep(ctx, o.cfg.Batch.Pause()); err != nil {
				return summary, err
			}
		}
	}

	o.logger.Info("Batch pass finished",
		"processed", len(summary.Processed),
		"skipped", len(summary.Skipped))
	return summary, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
