// Package output discovers, validates, and salvages generation artifacts.
package output

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dailyword/pipeline/pkg/models"
)

// ArtifactPrefix is the filename prefix the generation stage gives its
// output documents; a timestamp suffix keeps attempts distinct.
const ArtifactPrefix = "final_output_"

// Discover lists candidate output artifacts under dir, sorted by name so
// timestamped files come back in creation order.
func Discover(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, ArtifactPrefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// HasValidOutput reports whether dir already holds output good enough to
// skip re-running the batch: some artifact must parse and hold at least half
// the expected entry count. Unparsable artifacts are logged and skipped, not
// treated as failures of the whole check.
func HasValidOutput(dir string, expected int, logger *slog.Logger) bool {
	artifacts, err := Discover(dir)
	if err != nil {
		logger.Warn("Failed to enumerate prior output", "dir", dir, "error", err)
		return false
	}

	for _, path := range artifacts {
		count, err := countEntries(path)
		if err != nil {
			logger.Warn("Skipping unreadable artifact", "path", path, "error", err)
			continue
		}
		if float64(count) >= 0.5*float64(expected) {
			logger.Debug("Found valid prior output", "path", path, "entries", count, "expected", expected)
			return true
		}
		logger.Debug("Artifact below skip threshold", "path", path, "entries", count, "expected", expected)
	}
	return false
}

// InspectArtifact parses a single artifact and reports whether it holds at
// least one entry. Any read or parse failure yields (false, 0). This is the
// fine-grained salvage judgment; the coarser batch-skip decision lives in
// HasValidOutput.
func InspectArtifact(path string) (bool, int) {
	count, err := countEntries(path)
	if err != nil {
		return false, 0
	}
	return count >= 1, count
}

// Salvage classifies every artifact in workDir once a batch's stages have
// completed: valid ones move into destDir, empty or unparsable ones are
// deleted so the next batch starts from a clean working directory. It
// returns the number of artifacts moved.
func Salvage(workDir, destDir string, logger *slog.Logger) (int, error) {
	artifacts, err := Discover(workDir)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, path := range artifacts {
		ok, count := InspectArtifact(path)
		if !ok {
			if err := os.Remove(path); err != nil {
				return moved, fmt.Errorf("failed to delete empty artifact %s: %w", path, err)
			}
			logger.Warn("Deleted empty output artifact", "path", path)
			continue
		}

		dest := filepath.Join(destDir, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			return moved, fmt.Errorf("failed to move artifact %s: %w", path, err)
		}
		logger.Info("Moved output artifact", "from", path, "to", dest, "entries", count)
		moved++
	}
	return moved, nil
}

func countEntries(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// LoadEntries parses an output artifact into final entries.
func LoadEntries(path string) ([]models.FinalEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []models.FinalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return entries, nil
}
