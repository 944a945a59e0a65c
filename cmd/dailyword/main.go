package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dailyword/pipeline/internal/batch"
	"github.com/dailyword/pipeline/internal/checkpoint"
	"github.com/dailyword/pipeline/internal/config"
	"github.com/dailyword/pipeline/internal/dictionary"
	"github.com/dailyword/pipeline/internal/generate"
	"github.com/dailyword/pipeline/internal/logging"
	"github.com/dailyword/pipeline/internal/metrics"
	"github.com/dailyword/pipeline/internal/runner"
	"github.com/dailyword/pipeline/internal/scheduler"
	"github.com/dailyword/pipeline/internal/stage"
	"github.com/dailyword/pipeline/internal/vocab"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const timeLayout = "2006-01-02 15:04"

var (
	configPath string
	envFile    string
	verbose    bool

	startBatch int
	batchCount int
	force      bool

	scheduleStart string
	scheduleEnd   string
	intervalHours float64
	batchesPerRun int

	dryRun      bool
	resumeStage bool
	stageName   string
	wordRange   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dailyword",
		Short: "Dailyword - vocabulary enrichment and entry generation pipeline",
		Long: `Dailyword enriches a frequency-sorted vocabulary with dictionary data
and generates full learner's dictionary entries with an LLM, processing
the vocabulary in resumable frequency batches.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	batchCmd := &cobra.Command{
		Use:   "batch [start-batch]",
		Short: "Process frequency batches in order",
		Long: `Process vocabulary batches starting from the given batch index
(numbered from 0). Batches whose destination folder already holds valid
output are skipped. Processing stops at the first batch that fails after
retries; rerun with the printed batch index to resume.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runBatches,
	}
	batchCmd.Flags().IntVar(&batchCount, "count", 0, "Number of batches to process (0 = all remaining)")
	batchCmd.Flags().BoolVar(&force, "force", false, "Reprocess batches even when valid output exists")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Spread batch runs across a time window",
		Long: `Run batches on a fixed interval between a start and end time. Each
trigger processes the next group of batches; a failed run is logged and
the schedule carries on with the next trigger.`,
		RunE: runSchedule,
	}
	scheduleCmd.Flags().StringVar(&scheduleStart, "start-time", "", "Window start, e.g. \"2026-08-26 09:00\" (required)")
	scheduleCmd.Flags().StringVar(&scheduleEnd, "end-time", "", "Window end, e.g. \"2026-08-26 21:00\" (required)")
	scheduleCmd.Flags().Float64Var(&intervalHours, "interval", 1, "Hours between triggers (fractional allowed)")
	scheduleCmd.Flags().IntVar(&batchesPerRun, "batch-count", 1, "Batches to process per trigger")
	scheduleCmd.Flags().IntVar(&startBatch, "start-batch", 0, "Batch index the first trigger starts from")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run both stages once over the whole vocabulary",
		Long: `Run enrichment and generation over the full selected vocabulary
without batch partitioning. Useful for small word lists and smoke tests.`,
		RunE: runOnce,
	}
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Stop after a small number of generated entries")
	runCmd.Flags().BoolVar(&resumeStage, "resume", false, "Resume from existing stage checkpoints")
	runCmd.Flags().StringVar(&stageName, "stage", "all", "Stage to run: enrich, generate, or all")
	runCmd.Flags().StringVar(&wordRange, "word-range", "", "Row range for enrichment, e.g. 0-100 (default: all rows)")

	selectCmd := &cobra.Command{
		Use:   "select",
		Short: "Build the selected-words CSV from the raw word selection",
		Long: `Filter the raw word-selection CSV to included words, sort by
frequency, and write the selected-words file the pipeline consumes.`,
		RunE: runSelect,
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage stage checkpoints",
	}
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the progress recorded in each stage checkpoint",
		RunE:  inspectCheckpoints,
	}
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all stage checkpoints",
		RunE:  resetCheckpoints,
	}
	checkpointCmd.AddCommand(inspectCmd)
	checkpointCmd.AddCommand(resetCmd)

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(checkpointCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles everything the commands share.
type app struct {
	cfg     *config.Config
	secrets *config.Secrets
	logger  *slog.Logger
	logFile *os.File
	metrics *metrics.Collector
}

func setup() (*app, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger, logFile, err := logging.Setup(cfg.Paths.LogsDir, logLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.FinalDataDir, cfg.Paths.CheckpointsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger.Info("Dailyword starting", "version", Version, "config", configPath)

	return &app{
		cfg:     cfg,
		secrets: config.LoadSecrets(),
		logger:  logger,
		logFile: logFile,
		metrics: metrics.NewCollector(logger),
	}, nil
}

func (a *app) close() {
	if a.logFile != nil {
		_ = a.logFile.Sync()
		_ = a.logFile.Close()
	}
}

// stages wires the two pipeline stages behind the runner's interface.
type stages struct {
	enricher  *stage.Enricher
	generator *stage.Generator
}

func (s *stages) Enrich(ctx context.Context, startRow, endRow int, resume bool) error {
	return s.enricher.Run(ctx, startRow, endRow, resume)
}

func (s *stages) Generate(ctx context.Context, resume bool) error {
	return s.generator.Run(ctx, resume)
}

func (a *app) buildStages() (*stages, error) {
	lookupClient := dictionary.NewClient(a.cfg.Dictionary, a.logger)
	enrichStore := checkpoint.NewStore(a.cfg.Paths.EnrichCheckpoint(), a.logger)
	enricher := stage.NewEnricher(a.cfg, lookupClient, enrichStore, a.metrics, a.logger)

	promptTemplate, err := loadPromptTemplate(a.cfg.Paths.PromptTemplate)
	if err != nil {
		return nil, err
	}
	chatClient := generate.NewClient(a.cfg.Generation, a.secrets.GenerationAPIKey, a.logger)
	wordGen := generate.NewGenerator(chatClient, a.cfg.Generation, promptTemplate, a.logger)
	genStore := checkpoint.NewStore(a.cfg.Paths.GenerateCheckpoint(), a.logger)
	generator := stage.NewGenerator(a.cfg, wordGen, genStore, a.metrics, a.logger)

	return &stages{enricher: enricher, generator: generator}, nil
}

// loadPromptTemplate reads the configured prompt file. A missing file is not
// an error: the generator falls back to its built-in prompt.
func loadPromptTemplate(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read prompt template: %w", err)
	}
	return string(data), nil
}

func (a *app) buildOrchestrator() (*batch.Orchestrator, error) {
	st, err := a.buildStages()
	if err != nil {
		return nil, err
	}
	r := runner.New(a.cfg, st, a.metrics, a.logger)
	return batch.New(a.cfg, r, a.logger), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBatches(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid start batch %q", args[0])
		}
		startBatch = n
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.buildOrchestrator()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	summary, err := orch.RunFrom(ctx, startBatch, batchCount, force)
	if err != nil {
		if summary != nil && summary.StoppedEarly {
			a.logger.Error("Batch pass stopped",
				"failed_batch", summary.Failed,
				"range", summary.FailedLabel,
				"resume_with", summary.ResumeCommand)
		}
		return fmt.Errorf("batch pass failed: %w", err)
	}

	a.logger.Info("All batches done",
		"processed", len(summary.Processed),
		"skipped", len(summary.Skipped))
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	if scheduleStart == "" || scheduleEnd == "" {
		return fmt.Errorf("--start-time and --end-time are required")
	}
	start, err := time.ParseInLocation(timeLayout, scheduleStart, time.Local)
	if err != nil {
		return fmt.Errorf("invalid --start-time: %w", err)
	}
	end, err := time.ParseInLocation(timeLayout, scheduleEnd, time.Local)
	if err != nil {
		return fmt.Errorf("invalid --end-time: %w", err)
	}

	plan := scheduler.Plan{
		Start:         start,
		End:           end,
		Interval:      time.Duration(intervalHours * float64(time.Hour)),
		StartBatch:    startBatch,
		BatchesPerRun: batchesPerRun,
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := a.buildOrchestrator()
	if err != nil {
		return err
	}
	sched := scheduler.New(orch, plan, a.metrics, a.logger)

	ctx, stop := signalContext()
	defer stop()

	summary, err := sched.Run(ctx)
	if err != nil {
		return fmt.Errorf("schedule failed: %w", err)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("schedule finished with %d failed runs of %d", summary.Failed, summary.Total)
	}
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.buildStages()
	if err != nil {
		return err
	}
	if dryRun {
		st.generator.SetLimit(a.cfg.Generation.DryRunLimit)
		a.logger.Info("Dry run", "entry_limit", a.cfg.Generation.DryRunLimit)
	}

	ctx, stop := signalContext()
	defer stop()

	if stageName != "enrich" && stageName != "generate" && stageName != "all" {
		return fmt.Errorf("unknown stage %q (want enrich, generate, or all)", stageName)
	}

	if stageName == "enrich" || stageName == "all" {
		startRow, endRow := 0, 0
		if wordRange != "" {
			if _, err := fmt.Sscanf(wordRange, "%d-%d", &startRow, &endRow); err != nil || endRow <= startRow {
				return fmt.Errorf("invalid --word-range %q (want start-end)", wordRange)
			}
		} else {
			words, err := vocab.Load(a.cfg.Paths.SelectedWordsCSV())
			if err != nil {
				return err
			}
			endRow = len(words)
		}
		if err := st.Enrich(ctx, startRow, endRow, resumeStage); err != nil {
			return fmt.Errorf("enrichment failed: %w", err)
		}
	}
	if stageName == "generate" || stageName == "all" {
		if err := st.Generate(ctx, resumeStage); err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}
	}
	return nil
}

func runSelect(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	words, err := vocab.Select(a.cfg.Paths.WordSelectionCSV, a.cfg.Paths.SelectedWordsCSV())
	if err != nil {
		return fmt.Errorf("selection failed: %w", err)
	}
	a.logger.Info("Selection written",
		"words", len(words),
		"output", a.cfg.Paths.SelectedWordsCSV())
	return nil
}

func inspectCheckpoints(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	for _, c := range []struct {
		name string
		path string
	}{
		{"enrich", a.cfg.Paths.EnrichCheckpoint()},
		{"generate", a.cfg.Paths.GenerateCheckpoint()},
	} {
		store := checkpoint.NewStore(c.path, a.logger)
		record, err := store.Load()
		if err != nil {
			fmt.Printf("%s: unreadable (%v)\n", c.name, err)
			continue
		}
		failed, err := store.FailedWords()
		if err != nil {
			return err
		}
		fmt.Printf("%s: run %s, %d processed, %d failed, last index %d\n",
			c.name, record.RunID, store.ProcessedCount(), len(failed), record.LastIndex)
		for _, w := range failed {
			fmt.Printf("  failed: %s\n", w)
		}
	}
	return nil
}

func resetCheckpoints(cmd *cobra.Command, args []string) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.close()

	for _, path := range []string{a.cfg.Paths.EnrichCheckpoint(), a.cfg.Paths.GenerateCheckpoint()} {
		store := checkpoint.NewStore(path, a.logger)
		if err := store.Reset(); err != nil {
			return err
		}
	}
	a.logger.Info("Checkpoints reset")
	return nil
}
