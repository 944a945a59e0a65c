package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/dailyword/pipeline/pkg/models"
)

// ErrCorrupt marks a checkpoint file that exists but cannot be decoded.
// There is no partial recovery: the caller must Reset the store (or repair
// the file by hand) before the stage can run again.
var ErrCorrupt = errors.New("corrupt checkpoint")

// Store persists per-stage progress as a single JSON document. The record is
// loaded once and cached; every mutation writes through to disk before
// returning, so progress survives a crash at single-mutation granularity.
//
// Load and Save take an exclusive advisory lock on a sibling .lock file, so
// a checkpoint may be shared by cooperating processes. The lock is held only
// for the duration of one read or write, never across stage work.
type Store struct {
	path     string
	lockPath string
	logger   *slog.Logger

	mu        sync.Mutex
	record    *models.CheckpointRecord
	processed map[string]struct{}
	failed    map[string]struct{}
}

// NewStore creates a store backed by the JSON document at path. Nothing is
// read from disk until the first access.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:     path,
		lockPath: strings.TrimSuffix(path, filepath.Ext(path)) + ".lock",
		logger:   logger,
	}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the record from disk, or creates a fresh one when no backing
// file exists. Repeated calls return the cached record.
func (s *Store) Load() (*models.CheckpointRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s.record, nil
}

func (s *Store) loadLocked() error {
	if s.record != nil {
		return nil
	}

	var rec models.CheckpointRecord
	err := s.withFileLock(func() error {
		data, err := os.ReadFile(s.path)
		if errors.Is(err, os.ErrNotExist) {
			rec = models.CheckpointRecord{RunID: uuid.New().String()}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.record = &rec
	s.processed = make(map[string]struct{}, len(rec.ProcessedWords))
	for _, w := range rec.ProcessedWords {
		s.processed[w] = struct{}{}
	}
	s.failed = make(map[string]struct{}, len(rec.FailedWords))
	for _, w := range rec.FailedWords {
		s.failed[w] = struct{}{}
	}

	s.logger.Debug("Checkpoint loaded",
		"path", s.path,
		"processed", len(rec.ProcessedWords),
		"failed", len(rec.FailedWords),
		"last_index", rec.LastIndex)
	return nil
}

// Save persists the cached record. It is a no-op when nothing has been
// loaded yet.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.record == nil {
		return nil
	}

	data, err := json.MarshalIndent(s.record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	return s.withFileLock(func() error {
		// Atomic write: temp file then rename.
		tempPath := s.path + ".tmp"
		if err := os.WriteFile(tempPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write temp checkpoint: %w", err)
		}
		if err := os.Rename(tempPath, s.path); err != nil {
			return fmt.Errorf("failed to rename checkpoint: %w", err)
		}
		return nil
	})
}

// MarkProcessed records a successful word and advances the index cursor,
// persisting before returning. Marking the same word twice keeps a single
// entry; LastIndex always takes the most recent index.
func (s *Store) MarkProcessed(word string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	if _, ok := s.processed[word]; !ok {
		s.processed[word] = struct{}{}
		s.record.ProcessedWords = append(s.record.ProcessedWords, word)
	}
	s.record.LastIndex = index
	return s.saveLocked()
}

// MarkFailed records a failed word, persisting before returning. A word that
// later succeeds stays in the failed list; ProcessedWords is authoritative.
func (s *Store) MarkFailed(word string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	if _, ok := s.failed[word]; !ok {
		s.failed[word] = struct{}{}
		s.record.FailedWords = append(s.record.FailedWords, word)
	}
	return s.saveLocked()
}

// ClearFailed empties the failed list for a retry pass.
func (s *Store) ClearFailed() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	s.record.FailedWords = nil
	s.failed = make(map[string]struct{})
	return s.saveLocked()
}

// IsProcessed reports whether the word completed this stage. It reports
// false before the first successful Load.
func (s *Store) IsProcessed(word string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[word]
	return ok
}

// UnprocessedIndices returns the position-based resume cursor
// [len(processed), total). This assumes processing walks a fixed,
// deterministically ordered word list: the count of processed words, not
// their identity, decides where to resume. Reordering or regenerating the
// upstream list between runs invalidates the cursor.
func (s *Store) UnprocessedIndices(total int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	start := len(s.record.ProcessedWords)
	if start >= total {
		return nil, nil
	}
	indices := make([]int, 0, total-start)
	for i := start; i < total; i++ {
		indices = append(indices, i)
	}
	return indices, nil
}

// ProcessedCount returns the number of processed words.
func (s *Store) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// FailedWords returns a copy of the failed word list.
func (s *Store) FailedWords() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return append([]string(nil), s.record.FailedWords...), nil
}

// Reset discards the in-memory record and deletes the backing file.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = &models.CheckpointRecord{RunID: uuid.New().String()}
	s.processed = make(map[string]struct{})
	s.failed = make(map[string]struct{})

	return s.withFileLock(func() error {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove checkpoint: %w", err)
		}
		return nil
	})
}

func (s *Store) withFileLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	fl := flock.New(s.lockPath)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("failed to acquire checkpoint lock: %w", err)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("Failed to release checkpoint lock", "path", s.lockPath, "error", err)
		}
	}()

	return fn()
}

// ClearDir removes every checkpoint document under dir. The batch runner
// calls this before each partition so a fresh run never sees the previous
// partition's progress markers. Lock files are left in place.
func ClearDir(dir string, logger *slog.Logger) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to clear checkpoint %s: %w", path, err)
		}
		logger.Debug("Cleared checkpoint", "path", path)
	}
	return nil
}
