// Package runner executes one vocabulary partition end to end: enrichment,
// generation, retries, and moving validated output to its final folder.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dailyword/pipeline/internal/checkpoint"
	"github.com/dailyword/pipeline/internal/config"
	"github.com/dailyword/pipeline/internal/metrics"
	"github.com/dailyword/pipeline/internal/output"
	"github.com/dailyword/pipeline/internal/partition"
	"github.com/dailyword/pipeline/internal/vocab"
)

// Stages abstracts the two pipeline stages so the retry loop can be tested
// without real collaborators.
type Stages interface {
	Enrich(ctx context.Context, startRow, endRow int, resume bool) error
	Generate(ctx context.Context, resume bool) error
}

// Runner retries a partition until it yields valid output or attempts run
// out. Each retry resumes from the stage checkpoints rather than starting
// over.
type Runner struct {
	cfg     *config.Config
	stages  Stages
	metrics *metrics.Collector
	logger  *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a partition runner.
func New(cfg *config.Config, stages Stages, collector *metrics.Collector, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:     cfg,
		stages:  stages,
		metrics: collector,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// RunPartition processes one frequency batch. It reports skipped=true when
// there was nothing to do: the batch covers no vocabulary rows, or its
// destination folder already holds valid output and force is unset. A batch
// succeeds once at least one valid artifact lands in the destination folder.
func (r *Runner) RunPartition(ctx context.Context, batchIndex int, force bool) (bool, error) {
	p := partition.ByFrequency(batchIndex, r.cfg.Batch.Size)

	words, err := vocab.Load(r.cfg.Paths.SelectedWordsCSV())
	if err != nil {
		return false, fmt.Errorf("batch %d: %w", batchIndex, err)
	}

	startRow, endRow, ok := partition.RowRangeForFrequency(words, p.Start, p.End)
	if !ok {
		r.logger.Info("Batch covers no words, skipping",
			"batch", batchIndex,
			"range", p.Label)
		r.metrics.IncrementBatch("skipped")
		return true, nil
	}
	count := partition.CountInRange(words, p.Start, p.End)

	destDir := filepath.Join(r.cfg.Paths.FinalDataDir, p.Label)
	if !force && output.HasValidOutput(destDir, count, r.logger) {
		r.logger.Info("Batch already has valid output, skipping",
			"batch", batchIndex,
			"range", p.Label,
			"dest", destDir)
		r.metrics.IncrementBatch("skipped")
		return true, nil
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return false, fmt.Errorf("batch %d: failed to create %s: %w", batchIndex, destDir, err)
	}

	// Fresh batch: stale stage checkpoints belong to a previous batch's
	// row range and must not leak into this one.
	if err := checkpoint.ClearDir(r.cfg.Paths.CheckpointsDir, r.logger); err != nil {
		return false, fmt.Errorf("batch %d: %w", batchIndex, err)
	}

	r.logger.Info("Starting batch",
		"batch", batchIndex,
		"range", p.Label,
		"rows", count,
		"start_row", startRow,
		"end_row", endRow)

	var lastErr error
	for attempt := 1; attempt <= r.cfg.Batch.MaxRetries; attempt++ {
		if attempt > 1 {
			r.logger.Warn("Retrying batch",
				"batch", batchIndex,
				"attempt", attempt,
				"max_retries", r.cfg.Batch.MaxRetries,
				"error", lastErr)
			if err := r.sleep(ctx, r.cfg.Batch.RetryBackoff()); err != nil {
				return false, err
			}
		}
		resume := attempt > 1

		if err := r.runStages(ctx, startRow, endRow, resume); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			// Any artifact a failed attempt left behind stays in the
			// working dir so the next attempt resumes from it instead
			// of regenerating those entries.
			lastErr = err
			continue
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		// Both stages succeeded: move validated output out of the shared
		// working dir into the partition's destination.
		moved, err := output.Salvage(r.cfg.Paths.DataDir, destDir, r.logger)
		if err != nil {
			return false, fmt.Errorf("batch %d: %w", batchIndex, err)
		}
		if moved > 0 {
			r.logger.Info("Batch finished",
				"batch", batchIndex,
				"range", p.Label,
				"attempt", attempt,
				"artifacts", moved)
			r.metrics.IncrementBatch("success")
			return false, nil
		}
		lastErr = fmt.Errorf("stages completed but produced no valid output")
	}

	r.metrics.IncrementBatch("failed")
	return false, fmt.Errorf("batch %d (%s) failed after %d attempts: %w",
		batchIndex, p.Label, r.cfg.Batch.MaxRetries, lastErr)
}

func (r *Runner) runStages(ctx context.Context, startRow, endRow int, resume bool) error {
	if err := r.stages.Enrich(ctx, startRow, endRow, resume); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	if err := r.stages.Generate(ctx, resume); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	return nil
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
