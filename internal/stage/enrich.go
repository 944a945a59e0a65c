// Package stage implements the two pipeline stages: dictionary enrichment
// and entry generation. Each stage owns a checkpoint store and can resume
// from where a previous attempt stopped.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dailyword/pipeline/internal/checkpoint"
	"github.com/dailyword/pipeline/internal/config"
	"github.com/dailyword/pipeline/internal/dictionary"
	"github.com/dailyword/pipeline/internal/metrics"
	"github.com/dailyword/pipeline/internal/vocab"
	"github.com/dailyword/pipeline/pkg/models"
)

// Lookuper is the dictionary dependency of the enrichment stage.
type Lookuper interface {
	Lookup(ctx context.Context, word string) (*dictionary.Lookup, error)
}

// Enricher annotates a row range of the selected vocabulary with dictionary
// data and writes the result to the enriched-words document.
type Enricher struct {
	cfg     *config.Config
	lookup  Lookuper
	store   *checkpoint.Store
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewEnricher builds the enrichment stage.
func NewEnricher(cfg *config.Config, lookup Lookuper, store *checkpoint.Store, collector *metrics.Collector, logger *slog.Logger) *Enricher {
	return &Enricher{
		cfg:     cfg,
		lookup:  lookup,
		store:   store,
		metrics: collector,
		logger:  logger,
	}
}

type enrichStats struct {
	processed int
	phonetic  int
	pos       int
	notFound  int
	failed    int
}

// Run enriches rows [startRow, endRow) of the selected vocabulary. With
// resume set, words the checkpoint already records are kept from the
// existing enriched document instead of being looked up again; otherwise
// the checkpoint is reset and the range starts from scratch.
func (e *Enricher) Run(ctx context.Context, startRow, endRow int, resume bool) error {
	words, err := vocab.Load(e.cfg.Paths.SelectedWordsCSV())
	if err != nil {
		return fmt.Errorf("failed to load vocabulary: %w", err)
	}

	if startRow < 0 {
		startRow = 0
	}
	if endRow > len(words) {
		endRow = len(words)
	}
	if startRow >= endRow {
		e.logger.Info("Nothing to enrich", "start_row", startRow, "end_row", endRow)
		return e.writeEnriched(nil)
	}
	slice := words[startRow:endRow]

	if !resume {
		if err := e.store.Reset(); err != nil {
			return fmt.Errorf("failed to reset checkpoint: %w", err)
		}
	}
	if _, err := e.store.Load(); err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	previous := make(map[string]models.EnrichedWord)
	if resume {
		prior, err := loadEnriched(e.cfg.Paths.EnrichedWordsJSON())
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		for _, w := range prior {
			previous[w.Word] = w
		}
	}

	var pending []models.SelectedWord
	for _, w := range slice {
		if resume && e.store.IsProcessed(w.Word) {
			continue
		}
		pending = append(pending, w)
	}

	e.logger.Info("Starting enrichment",
		"start_row", startRow,
		"end_row", endRow,
		"total", len(slice),
		"pending", len(pending),
		"resume", resume)

	results := make(map[string]models.EnrichedWord, len(slice))
	var mu sync.Mutex
	var stats enrichStats

	bar := progressbar.Default(int64(len(pending)), "enriching")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Enrichment.Concurrency)

	for _, w := range pending {
		w := w
		g.Go(func() error {
			start := time.Now()
			lookup, err := e.lookup.Lookup(gctx, w.Word)
			e.metrics.RecordLookup(time.Since(start), err == nil || errors.Is(err, dictionary.ErrNotFound))

			// The mutex guards only the shared result map and stats.
			// Checkpoint writes and the pacing delay run outside it so
			// workers do not serialize on each other.
			switch {
			case errors.Is(err, dictionary.ErrNotFound):
				// Still a processed word; the entry just carries no
				// phonetic or POS data.
				mu.Lock()
				results[w.Word] = models.EnrichedWord{Word: w.Word}
				stats.notFound++
				stats.processed++
				mu.Unlock()
			case err != nil:
				if errors.Is(err, context.Canceled) || gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("Lookup failed", "word", w.Word, "error", err)
				e.metrics.IncrementWord("enrich", "error")
				mu.Lock()
				stats.failed++
				mu.Unlock()
				if err := e.store.MarkFailed(w.Word); err != nil {
					return err
				}
				bar.Add(1)
				return nil
			default:
				enriched := models.EnrichedWord{
					Word:     w.Word,
					Phonetic: lookup.Phonetic,
					POS:      lookup.POS,
				}
				mu.Lock()
				results[w.Word] = enriched
				if enriched.Phonetic != "" {
					stats.phonetic++
				}
				if len(enriched.POS) > 0 {
					stats.pos++
				}
				stats.processed++
				mu.Unlock()
			}

			e.metrics.IncrementWord("enrich", "success")
			if err := e.store.MarkProcessed(w.Word, w.Index); err != nil {
				return err
			}
			bar.Add(1)

			return sleepCtx(gctx, e.cfg.Enrichment.RequestDelay())
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Assemble output in vocabulary order, keeping prior results for words
	// this run skipped.
	enriched := make([]models.EnrichedWord, 0, len(slice))
	for _, w := range slice {
		if r, ok := results[w.Word]; ok {
			enriched = append(enriched, r)
		} else if p, ok := previous[w.Word]; ok {
			enriched = append(enriched, p)
		}
	}

	if err := e.writeEnriched(enriched); err != nil {
		return err
	}

	e.logger.Info("Enrichment finished",
		"processed", stats.processed,
		"with_phonetic", stats.phonetic,
		"with_pos", stats.pos,
		"not_found", stats.notFound,
		"failed", stats.failed,
		"written", len(enriched))

	if stats.failed > 0 && stats.processed == 0 {
		return fmt.Errorf("all %d lookups failed", stats.failed)
	}
	return nil
}

func (e *Enricher) writeEnriched(words []models.EnrichedWord) error {
	if words == nil {
		words = []models.EnrichedWord{}
	}
	return atomicWriteJSON(e.cfg.Paths.EnrichedWordsJSON(), words)
}

func loadEnriched(path string) ([]models.EnrichedWord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var words []models.EnrichedWord
	if err := json.Unmarshal(data, &words); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return words, nil
}

// atomicWriteJSON writes v to path via a temp file and rename so readers
// never observe a partial document.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
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
