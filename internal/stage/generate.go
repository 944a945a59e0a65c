package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/dailyword/pipeline/internal/checkpoint"
	"github.com/dailyword/pipeline/internal/config"
	"github.com/dailyword/pipeline/internal/metrics"
	"github.com/dailyword/pipeline/internal/output"
	"github.com/dailyword/pipeline/pkg/models"
)

// ErrConsecutiveFailures aborts a generation pass once too many words fail
// back to back, on the assumption that the upstream service is down rather
// than individual words being problematic.
var ErrConsecutiveFailures = errors.New("consecutive generation failures")

// WordGenerator is the LLM dependency of the generation stage.
type WordGenerator interface {
	Generate(ctx context.Context, word string, pos []string) (*models.GenerationResult, error)
}

// Generator turns the enriched-words document into final dictionary entries,
// saving periodically so an abort loses at most a save interval of work.
type Generator struct {
	cfg     *config.Config
	gen     WordGenerator
	store   *checkpoint.Store
	metrics *metrics.Collector
	logger  *slog.Logger

	// limit caps how many new entries a pass produces; 0 means no cap.
	// Used by dry runs.
	limit int
}

// NewGenerator builds the generation stage.
func NewGenerator(cfg *config.Config, gen WordGenerator, store *checkpoint.Store, collector *metrics.Collector, logger *slog.Logger) *Generator {
	return &Generator{
		cfg:     cfg,
		gen:     gen,
		store:   store,
		metrics: collector,
		logger:  logger,
	}
}

// SetLimit caps the number of new entries produced per pass.
func (g *Generator) SetLimit(n int) { g.limit = n }

// Run generates entries for every word in the enriched-words document. With
// resume set, words the checkpoint records are skipped and entries from the
// most recent output artifact are carried forward. Failed words are recorded
// and skipped; the pass aborts with ErrConsecutiveFailures when the
// configured number of words fail in a row, deliberately without a final
// save so the artifact on disk stays at the last known-good state.
func (g *Generator) Run(ctx context.Context, resume bool) error {
	words, err := loadEnriched(g.cfg.Paths.EnrichedWordsJSON())
	if err != nil {
		return fmt.Errorf("failed to load enriched words: %w", err)
	}
	if len(words) == 0 {
		g.logger.Info("No enriched words to generate from")
		return nil
	}

	if !resume {
		if err := g.store.Reset(); err != nil {
			return fmt.Errorf("failed to reset checkpoint: %w", err)
		}
	}
	if _, err := g.store.Load(); err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	entries := newEntrySet()
	if resume {
		if err := g.recoverEntries(entries); err != nil {
			return err
		}
	}

	pending := 0
	for _, w := range words {
		if !g.store.IsProcessed(w.Word) {
			pending++
		}
	}

	outputPath := g.cfg.Paths.FinalOutputPath(time.Now())
	threshold := g.cfg.Generation.ConsecutiveFailureThreshold

	g.logger.Info("Starting generation",
		"total", len(words),
		"pending", pending,
		"recovered", entries.len(),
		"resume", resume,
		"output", outputPath)

	bar := progressbar.Default(int64(pending), "generating")

	var consecutive, successes, failures, produced int
	for i, w := range words {
		if g.store.IsProcessed(w.Word) {
			continue
		}
		if g.limit > 0 && produced >= g.limit {
			g.logger.Info("Entry limit reached, stopping pass", "limit", g.limit)
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		result, err := g.gen.Generate(ctx, w.Word, w.POS)
		g.metrics.RecordGeneration(time.Since(start), err == nil)

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			failures++
			consecutive++
			g.logger.Warn("Generation failed",
				"word", w.Word,
				"row", i,
				"consecutive", consecutive,
				"error", err)
			g.metrics.IncrementWord("generate", "error")
			if err := g.store.MarkFailed(w.Word); err != nil {
				return err
			}
			if consecutive >= threshold {
				g.metrics.IncrementCircuitBreakerTrip()
				return fmt.Errorf("%w: %d in a row, last word %q", ErrConsecutiveFailures, consecutive, w.Word)
			}
			bar.Add(1)
			continue
		}

		consecutive = 0
		g.warnOnEntry(w.Word, result)
		entries.put(models.NewFinalEntry(w, result))

		if err := g.store.MarkProcessed(w.Word, i); err != nil {
			return err
		}
		g.metrics.IncrementWord("generate", "success")
		successes++
		produced++
		bar.Add(1)

		if successes%g.cfg.Generation.SaveInterval == 0 {
			if err := atomicWriteJSON(outputPath, entries.ordered()); err != nil {
				return err
			}
			g.logger.Debug("Periodic save", "entries", entries.len(), "path", outputPath)
		}
	}

	if err := atomicWriteJSON(outputPath, entries.ordered()); err != nil {
		return err
	}

	g.logger.Info("Generation finished",
		"succeeded", successes,
		"failed", failures,
		"entries", entries.len(),
		"output", outputPath)
	return nil
}

// recoverEntries reloads entries from the newest output artifact so a
// resumed pass appends to earlier work instead of dropping it.
func (g *Generator) recoverEntries(entries *entrySet) error {
	artifacts, err := output.Discover(g.cfg.Paths.DataDir)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		return nil
	}
	latest := artifacts[len(artifacts)-1]
	prior, err := output.LoadEntries(latest)
	if err != nil {
		g.logger.Warn("Could not recover prior entries", "path", latest, "error", err)
		return nil
	}
	for _, entry := range prior {
		entries.put(entry)
	}
	g.logger.Info("Recovered prior entries", "count", len(prior), "path", latest)
	return nil
}

// warnOnEntry logs quality problems that are not worth failing the word
// over: a style count that does not match the configured list, or a
// translated_word missing from its translation.
func (g *Generator) warnOnEntry(word string, result *models.GenerationResult) {
	if want := len(g.cfg.Generation.ExampleStyles); want > 0 && len(result.Examples) != want {
		g.logger.Warn("Unexpected example count",
			"word", word,
			"got", len(result.Examples),
			"want", want)
	}
	for i := range result.Examples {
		ex := &result.Examples[i]
		order := i + 1
		ex.DisplayOrder = &order
		if ex.TranslatedWord != "" && !strings.Contains(ex.Translation, ex.TranslatedWord) {
			g.logger.Warn("Translated word missing from translation",
				"word", word,
				"style", ex.Style,
				"translated_word", ex.TranslatedWord)
		}
		if strings.Contains(ex.Sentence, "—") {
			g.logger.Warn("Example sentence contains an em dash",
				"word", word,
				"style", ex.Style)
		}
	}
}

// entrySet keys entries by word while preserving first-insertion order, so
// regenerating a word overwrites in place instead of appending a duplicate.
type entrySet struct {
	byWord map[string]models.FinalEntry
	order  []string
}

func newEntrySet() *entrySet {
	return &entrySet{byWord: make(map[string]models.FinalEntry)}
}

func (s *entrySet) put(entry models.FinalEntry) {
	if _, seen := s.byWord[entry.Word]; !seen {
		s.order = append(s.order, entry.Word)
	}
	s.byWord[entry.Word] = entry
}

func (s *entrySet) len() int { return len(s.byWord) }

func (s *entrySet) ordered() []models.FinalEntry {
	out := make([]models.FinalEntry, 0, len(s.order))
	for _, word := range s.order {
		out = append(out, s.byWord[word])
	}
	return out
}
