package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the complete application configuration, loaded from TOML and
// passed explicitly into each component at construction time.
type Config struct {
	Paths      PathsConfig      `toml:"paths"`
	Batch      BatchConfig      `toml:"batch"`
	Dictionary DictionaryConfig `toml:"dictionary"`
	Enrichment EnrichmentConfig `toml:"enrichment"`
	Generation GenerationConfig `toml:"generation"`
}

// PathsConfig locates the working directories and input files.
type PathsConfig struct {
	DataDir          string `toml:"data_dir"`           // shared working dir for stage output
	FinalDataDir     string `toml:"final_data_dir"`     // per-partition destination folders
	CheckpointsDir   string `toml:"checkpoints_dir"`    // per-stage progress documents
	LogsDir          string `toml:"logs_dir"`           // session log files
	WordSelectionCSV string `toml:"word_selection_csv"` // raw selection input
	PromptTemplate   string `toml:"prompt_template"`    // generation prompt template file
}

// SelectedWordsCSV is the frequency-sorted vocabulary the pipeline consumes.
func (p PathsConfig) SelectedWordsCSV() string {
	return filepath.Join(p.DataDir, "selected_words.csv")
}

// EnrichedWordsJSON is the enrichment stage's output document.
func (p PathsConfig) EnrichedWordsJSON() string {
	return filepath.Join(p.DataDir, "enriched_words.json")
}

// EnrichCheckpoint is the enrichment stage's progress document.
func (p PathsConfig) EnrichCheckpoint() string {
	return filepath.Join(p.CheckpointsDir, "enrich_progress.json")
}

// GenerateCheckpoint is the generation stage's progress document.
func (p PathsConfig) GenerateCheckpoint() string {
	return filepath.Join(p.CheckpointsDir, "generate_progress.json")
}

// FinalOutputPath returns a timestamp-suffixed artifact path in the working
// directory, e.g. data/final_output_20260131_143022.json.
func (p PathsConfig) FinalOutputPath(ts time.Time) string {
	return filepath.Join(p.DataDir, fmt.Sprintf("final_output_%s.json", ts.Format("20060102_150405")))
}

// BatchConfig controls partitioning and the per-batch retry policy.
type BatchConfig struct {
	Size                int `toml:"size"`                  // frequencies per batch
	MaxFrequency        int `toml:"max_frequency"`         // partitioning upper bound
	MaxRetries          int `toml:"max_retries"`           // attempts per batch
	RetryBackoffSeconds int `toml:"retry_backoff_seconds"` // pause between attempts
	PauseSeconds        int `toml:"pause_seconds"`         // pause between successful batches
}

// RetryBackoff returns the inter-attempt pause as a duration.
func (b BatchConfig) RetryBackoff() time.Duration {
	return time.Duration(b.RetryBackoffSeconds) * time.Second
}

// Pause returns the inter-batch pause as a duration.
func (b BatchConfig) Pause() time.Duration {
	return time.Duration(b.PauseSeconds) * time.Second
}

// DictionaryConfig configures the dictionary lookup collaborator.
type DictionaryConfig struct {
	BaseURL           string `toml:"base_url"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	MaxRetries        int    `toml:"max_retries"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// EnrichmentConfig controls the enrichment stage's lookup concurrency.
type EnrichmentConfig struct {
	Concurrency        int `toml:"concurrency"`          // concurrent outstanding lookups
	RequestDelayMillis int `toml:"request_delay_millis"` // pause after each lookup
}

// RequestDelay returns the per-lookup delay as a duration.
func (e EnrichmentConfig) RequestDelay() time.Duration {
	return time.Duration(e.RequestDelayMillis) * time.Millisecond
}

// GenerationConfig configures the generation collaborator and the
// generation stage's failure policy.
type GenerationConfig struct {
	BaseURL                     string   `toml:"base_url"`
	ModelName                   string   `toml:"model_name"`
	Temperature                 float64  `toml:"temperature"`
	MaxOutputTokens             int      `toml:"max_output_tokens"`
	TimeoutSeconds              int      `toml:"timeout_seconds"`
	MaxRetries                  int      `toml:"max_retries"`
	RateLimitPerMinute          int      `toml:"rate_limit_per_minute"`
	ConsecutiveFailureThreshold int      `toml:"consecutive_failure_threshold"`
	SaveInterval                int      `toml:"save_interval"` // periodic output save every N successes
	DryRunLimit                 int      `toml:"dry_run_limit"`
	ExampleStyles               []string `toml:"example_styles"`
}

// Validate checks the configuration, returning the first problem found.
// Call after applyDefaults.
func (c *Config) Validate() error {
	if c.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be at least 1 (got %d)", c.Batch.Size)
	}
	if c.Batch.MaxFrequency < c.Batch.Size {
		return fmt.Errorf("batch.max_frequency (%d) must be at least batch.size (%d)", c.Batch.MaxFrequency, c.Batch.Size)
	}
	if c.Batch.MaxRetries < 1 {
		return fmt.Errorf("batch.max_retries must be at least 1 (got %d)", c.Batch.MaxRetries)
	}
	if c.Dictionary.BaseURL == "" {
		return fmt.Errorf("dictionary.base_url is required")
	}
	if c.Dictionary.RequestsPerMinute < 1 {
		return fmt.Errorf("dictionary.requests_per_minute must be at least 1 (got %d)", c.Dictionary.RequestsPerMinute)
	}
	if c.Enrichment.Concurrency < 1 {
		return fmt.Errorf("enrichment.concurrency must be at least 1 (got %d)", c.Enrichment.Concurrency)
	}
	if c.Generation.BaseURL == "" {
		return fmt.Errorf("generation.base_url is required")
	}
	if c.Generation.ModelName == "" {
		return fmt.Errorf("generation.model_name is required")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be between 0 and 2 (got %.2f)", c.Generation.Temperature)
	}
	if c.Generation.ConsecutiveFailureThreshold < 1 {
		return fmt.Errorf("generation.consecutive_failure_threshold must be at least 1 (got %d)", c.Generation.ConsecutiveFailureThreshold)
	}
	if c.Generation.SaveInterval < 1 {
		return fmt.Errorf("generation.save_interval must be at least 1 (got %d)", c.Generation.SaveInterval)
	}
	return nil
}

// Secrets holds credentials loaded from the environment, never from the
// config file.
type Secrets struct {
	GenerationAPIKey string
}

// LoadSecrets reads credentials from environment variables.
func LoadSecrets() *Secrets {
	return &Secrets{
		GenerationAPIKey: os.Getenv("GENERATION_API_KEY"),
	}
}
