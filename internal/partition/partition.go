// Package partition maps batch indices to vocabulary ranges. All functions
// are pure arithmetic over the loaded word list.
package partition

import (
	"fmt"

	"github.com/dailyword/pipeline/pkg/models"
)

// Mode selects how a partition's bounds are interpreted.
type Mode int

const (
	// ModeFrequency partitions by frequency value; bounds are inclusive.
	ModeFrequency Mode = iota
	// ModeRow partitions by row index; End is exclusive.
	ModeRow
)

// Partition is one contiguous batch of the vocabulary. Label doubles as the
// per-batch output folder name.
type Partition struct {
	Index int
	Mode  Mode
	Start int
	End   int
	Label string
}

// ByFrequency computes the frequency-mode partition for a batch index:
// frequencies [index*size+1, (index+1)*size], both inclusive.
func ByFrequency(batchIndex, batchSize int) Partition {
	minFreq := batchIndex*batchSize + 1
	maxFreq := (batchIndex + 1) * batchSize
	return Partition{
		Index: batchIndex,
		Mode:  ModeFrequency,
		Start: minFreq,
		End:   maxFreq,
		Label: fmt.Sprintf("%d-%d", minFreq, maxFreq),
	}
}

// ByRow computes the row-mode partition for a batch index, clamped to the
// total word count. End is exclusive.
func ByRow(batchIndex, batchSize, total int) Partition {
	start := batchIndex * batchSize
	end := start + batchSize
	if end > total {
		end = total
	}
	if start > total {
		start = total
	}
	return Partition{
		Index: batchIndex,
		Mode:  ModeRow,
		Start: start,
		End:   end,
		Label: fmt.Sprintf("%d-%d", start, end),
	}
}

// TotalBatches returns ceil(total/batchSize).
func TotalBatches(total, batchSize int) int {
	return (total + batchSize - 1) / batchSize
}

// RowRangeForFrequency returns the row-index span covering every word whose
// frequency lies in [minFreq, maxFreq]. End is exclusive. The span is the
// convex hull of matching indices: when the list is not strictly sorted by
// frequency it may include rows outside the target range, which is accepted
// since the selection step writes the list frequency-sorted. ok is false
// when no word matches.
func RowRangeForFrequency(words []models.SelectedWord, minFreq, maxFreq int) (start, end int, ok bool) {
	first, last := -1, -1
	for _, w := range words {
		if w.Frequency < minFreq || w.Frequency > maxFreq {
			continue
		}
		if first == -1 || w.Index < first {
			first = w.Index
		}
		if w.Index > last {
			last = w.Index
		}
	}
	if first == -1 {
		return 0, 0, false
	}
	return first, last + 1, true
}

// CountInRange counts words whose frequency lies in [minFreq, maxFreq].
func CountInRange(words []models.SelectedWord, minFreq, maxFreq int) int {
	n := 0
	for _, w := range words {
		if w.Frequency >= minFreq && w.Frequency <= maxFreq {
			n++
		}
	}
	return n
}
