package models

// CheckpointRecord is the persisted progress document for one pipeline stage.
//
// ProcessedWords keeps insertion order for auditability; membership is the
// authoritative signal that a word completed the stage. FailedWords is
// history, not current status: a word that failed and later succeeded appears
// in both lists, and callers must treat ProcessedWords as the source of truth
// for "done".
type CheckpointRecord struct {
	RunID          string   `json:"run_id"`
	ProcessedWords []string `json:"processed_words"`
	FailedWords    []string `json:"failed_words"`
	LastIndex      int      `json:"last_index"`
}
