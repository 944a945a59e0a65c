package models

// SelectedWord is one row of the selected vocabulary CSV. Index is the
// 0-based row position in the file, which doubles as the resume cursor for
// the enrichment stage.
type SelectedWord struct {
	Index     int    `json:"-"`
	Frequency int    `json:"frequency"`
	Word      string `json:"word"`
}

// EnrichedWord is a word annotated with dictionary data. Phonetic is empty
// and POS is nil when the dictionary had no entry for the word.
type EnrichedWord struct {
	Word     string   `json:"word"`
	Phonetic string   `json:"phonetic,omitempty"`
	POS      []string `json:"pos"`
}

// ExampleSentence is a single generated usage example with its translation.
type ExampleSentence struct {
	Sentence       string `json:"sentence"`
	Style          string `json:"style"`
	Translation    string `json:"translation"`
	TranslatedWord string `json:"translated_word"`
	DisplayOrder   *int   `json:"display_order,omitempty"`
}

// GenerationResult is the structured payload the generation model returns
// for one word.
type GenerationResult struct {
	SelectedPOS string            `json:"selected_pos"`
	Definition  string            `json:"definition"`
	Examples    []ExampleSentence `json:"examples"`
}

// FinalEntry combines enrichment and generation output for one word. Entries
// are keyed by Word; a later result for the same word overwrites the earlier
// one in place.
type FinalEntry struct {
	Word        string            `json:"word"`
	Phonetic    string            `json:"phonetic,omitempty"`
	POS         []string          `json:"pos"`
	SelectedPOS string            `json:"selected_pos"`
	Definition  string            `json:"definition"`
	Examples    []ExampleSentence `json:"examples"`
}

// NewFinalEntry merges enrichment data with a generation result.
func NewFinalEntry(enriched EnrichedWord, generated *GenerationResult) FinalEntry {
	return FinalEntry{
		Word:        enriched.Word,
		Phonetic:    enriched.Phonetic,
		POS:         enriched.POS,
		SelectedPOS: generated.SelectedPOS,
		Definition:  generated.Definition,
		Examples:    generated.Examples,
	}
}
