package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dailyword/pipeline/internal/checkpoint"
	"github.com/dailyword/pipeline/internal/config"
	"github.com/dailyword/pipeline/internal/dictionary"
	"github.com/dailyword/pipeline/internal/metrics"
	"github.com/dailyword/pipeline/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Paths: config.PathsConfig{
			DataDir:        dir,
			FinalDataDir:   filepath.Join(dir, "final"),
			CheckpointsDir: filepath.Join(dir, "checkpoints"),
		},
		Enrichment: config.EnrichmentConfig{Concurrency: 2},
		Generation: config.GenerationConfig{
			ConsecutiveFailureThreshold: 2,
			SaveInterval:                2,
			ExampleStyles:               []string{"Formal", "Poetic"},
		},
	}
}

func writeVocabCSV(t *testing.T, cfg *config.Config, words ...string) {
	t.Helper()
	content := "word,frequency\n"
	for i, w := range words {
		content += fmt.Sprintf("%s,%d\n", w, (i+1)*100)
	}
	if err := os.WriteFile(cfg.Paths.SelectedWordsCSV(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newEnrichStore(t *testing.T, cfg *config.Config) *checkpoint.Store {
	t.Helper()
	if err := os.MkdirAll(cfg.Paths.CheckpointsDir, 0755); err != nil {
		t.Fatal(err)
	}
	return checkpoint.NewStore(cfg.Paths.EnrichCheckpoint(), discardLogger())
}

// stubLookup serves canned lookups; words in fail always error and words in
// missing return ErrNotFound. Lookup is called from concurrent workers, so
// the call counter takes a lock.
type stubLookup struct {
	data    map[string]*dictionary.Lookup
	fail    map[string]bool
	missing map[string]bool

	mu    sync.Mutex
	calls map[string]int
}

func newStubLookup() *stubLookup {
	return &stubLookup{
		data:    make(map[string]*dictionary.Lookup),
		fail:    make(map[string]bool),
		missing: make(map[string]bool),
		calls:   make(map[string]int),
	}
}

func (s *stubLookup) Lookup(_ context.Context, word string) (*dictionary.Lookup, error) {
	s.mu.Lock()
	s.calls[word]++
	s.mu.Unlock()
	if s.fail[word] {
		return nil, &dictionary.LookupError{Word: word, Err: errors.New("boom")}
	}
	if s.missing[word] {
		return nil, dictionary.ErrNotFound
	}
	if l, ok := s.data[word]; ok {
		return l, nil
	}
	return &dictionary.Lookup{Phonetic: "/" + word + "/", POS: []string{"noun"}}, nil
}

func readEnriched(t *testing.T, cfg *config.Config) []models.EnrichedWord {
	t.Helper()
	data, err := os.ReadFile(cfg.Paths.EnrichedWordsJSON())
	if err != nil {
		t.Fatal(err)
	}
	var words []models.EnrichedWord
	if err := json.Unmarshal(data, &words); err != nil {
		t.Fatal(err)
	}
	return words
}

func TestEnricherEnrichesRange(t *testing.T) {
	cfg := testConfig(t)
	writeVocabCSV(t, cfg, "alpha", "beta", "gamma", "delta")

	lookup := newStubLookup()
	lookup.missing["beta"] = true

	enricher := NewEnricher(cfg, lookup, newEnrichStore(t, cfg), metrics.NewCollector(discardLogger()), discardLogger())
	if err := enricher.Run(context.Background(), 0, 3, false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	words := readEnriched(t, cfg)
	if len(words) != 3 {
		t.Fatalf("got %d enriched words, want 3", len(words))
	}
	if words[0].Word != "alpha" || words[0].Phonetic != "/alpha/" {
		t.Errorf("words[0] = %+v", words[0])
	}
	if words[1].Word != "beta" || words[1].Phonetic != "" || words[1].POS != nil {
		t.Errorf("not-found word should have empty enrichment, got %+v", words[1])
	}
	if words[2].Word != "gamma" {
		t.Errorf("words[2] = %+v", words[2])
	}
}

func TestEnricherResumeSkipsProcessed(t *testing.T) {
	cfg := testConfig(t)
	writeVocabCSV(t, cfg, "alpha", "beta", "gamma")

	lookup := newStubLookup()
	store := newEnrichStore(t, cfg)
	collector := metrics.NewCollector(discardLogger())

	enricher := NewEnricher(cfg, lookup, store, collector, discardLogger())
	if err := enricher.Run(context.Background(), 0, 3, false); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	if err := enricher.Run(context.Background(), 0, 3, true); err != nil {
		t.Fatalf("resumed run failed: %v", err)
	}
	for _, w := range []string{"alpha", "beta", "gamma"} {
		if lookup.calls[w] != 1 {
			t.Errorf("word %q looked up %d times, want 1", w, lookup.calls[w])
		}
	}

	words := readEnriched(t, cfg)
	if len(words) != 3 {
		t.Errorf("resume dropped entries: got %d, want 3", len(words))
	}
}

func TestEnricherRecordsFailures(t *testing.T) {
	cfg := testConfig(t)
	writeVocabCSV(t, cfg, "alpha", "beta")

	lookup := newStubLookup()
	lookup.fail["beta"] = true
	store := newEnrichStore(t, cfg)

	enricher := NewEnricher(cfg, lookup, store, metrics.NewCollector(discardLogger()), discardLogger())
	if err := enricher.Run(context.Background(), 0, 2, false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	failed, err := store.FailedWords()
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0] != "beta" {
		t.Errorf("failed words = %v, want [beta]", failed)
	}
	if store.IsProcessed("beta") {
		t.Error("failed word should not be marked processed")
	}

	words := readEnriched(t, cfg)
	if len(words) != 1 || words[0].Word != "alpha" {
		t.Errorf("enriched = %+v, want just alpha", words)
	}
}

func TestEnricherDelaysOverlapAcrossWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Enrichment.RequestDelayMillis = 50
	writeVocabCSV(t, cfg, "alpha", "beta", "gamma", "delta")

	enricher := NewEnricher(cfg, newStubLookup(), newEnrichStore(t, cfg), metrics.NewCollector(discardLogger()), discardLogger())

	// Four words at concurrency 2 pace out as two rounds of the 50ms
	// delay, roughly 100ms. If the delays serialized behind a shared
	// lock the run would take at least the full 200ms.
	start := time.Now()
	if err := enricher.Run(context.Background(), 0, 4, false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 200*time.Millisecond {
		t.Errorf("run took %v, want delays to overlap across workers", elapsed)
	}
}

func TestEnricherEmptyRangeWritesEmptyDocument(t *testing.T) {
	cfg := testConfig(t)
	writeVocabCSV(t, cfg, "alpha")

	enricher := NewEnricher(cfg, newStubLookup(), newEnrichStore(t, cfg), metrics.NewCollector(discardLogger()), discardLogger())
	if err := enricher.Run(context.Background(), 5, 9, false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	words := readEnriched(t, cfg)
	if len(words) != 0 {
		t.Errorf("got %d words, want empty document", len(words))
	}
}
