// Package vocab loads and prepares the vocabulary word lists.
package vocab

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dailyword/pipeline/pkg/models"
)

// Load reads the selected-words CSV (header row with "frequency" and "word"
// columns) and returns the rows in file order, each tagged with its 0-based
// row index.
func Load(path string) ([]models.SelectedWord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary header: %w", err)
	}
	cols, err := columnIndex(header, "frequency", "word")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var words []models.SelectedWord
	for i := 0; ; i++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read vocabulary row %d: %w", i, err)
		}
		freq, err := strconv.Atoi(strings.TrimSpace(row[cols["frequency"]]))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid frequency %q: %w", i, row[cols["frequency"]], err)
		}
		words = append(words, models.SelectedWord{
			Index:     i,
			Frequency: freq,
			Word:      strings.TrimSpace(row[cols["word"]]),
		})
	}
	return words, nil
}

// LoadPlain reads a plain word list, one word per line, skipping blanks.
func LoadPlain(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open word list: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" {
			words = append(words, word)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read word list: %w", err)
	}
	return words, nil
}

// Select filters the raw selection CSV down to rows marked include == "Y",
// sorts them by frequency (lower is more common), and writes the result to
// outputPath in the format Load expects.
func Select(inputPath, outputPath string) ([]models.SelectedWord, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open selection file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read selection header: %w", err)
	}
	cols, err := columnIndex(header, "frequency", "word", "include")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inputPath, err)
	}

	var selected []models.SelectedWord
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read selection rows: %w", err)
	}
	for _, row := range rows {
		if strings.TrimSpace(row[cols["include"]]) != "Y" {
			continue
		}
		word := strings.TrimSpace(row[cols["word"]])
		if word == "" {
			continue
		}
		freq, err := strconv.Atoi(strings.TrimSpace(row[cols["frequency"]]))
		if err != nil {
			return nil, fmt.Errorf("invalid frequency %q for word %q: %w", row[cols["frequency"]], word, err)
		}
		selected = append(selected, models.SelectedWord{Frequency: freq, Word: word})
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Frequency < selected[j].Frequency
	})
	for i := range selected {
		selected[i].Index = i
	}

	if err := write(outputPath, selected); err != nil {
		return nil, err
	}
	return selected, nil
}

func write(path string, words []models.SelectedWord) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create vocabulary file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"frequency", "word"}); err != nil {
		f.Close()
		return fmt.Errorf("failed to write vocabulary header: %w", err)
	}
	for _, sw := range words {
		if err := w.Write([]string{strconv.Itoa(sw.Frequency), sw.Word}); err != nil {
			f.Close()
			return fmt.Errorf("failed to write vocabulary row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush vocabulary file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close vocabulary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename vocabulary file: %w", err)
	}
	return nil
}

func columnIndex(header []string, required ...string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return cols, nil
}
