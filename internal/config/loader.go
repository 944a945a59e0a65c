package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file, applies defaults, and
// validates the result. A missing file yields the pure default config so the
// tool works out of the box.
func Load(configPath string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// defaultExampleStyles is the canonical nine-style set, one sentence each.
var defaultExampleStyles = []string{
	"Formal",
	"Definitional",
	"Contrastive",
	"Collocational",
	"Philosophical",
	"Warm",
	"Poetic",
	"Inspirational",
	"News-like",
}

func applyDefaults(cfg *Config) {
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = "data"
	}
	if cfg.Paths.FinalDataDir == "" {
		cfg.Paths.FinalDataDir = "final_data"
	}
	if cfg.Paths.CheckpointsDir == "" {
		cfg.Paths.CheckpointsDir = "checkpoints"
	}
	if cfg.Paths.LogsDir == "" {
		cfg.Paths.LogsDir = "logs"
	}
	if cfg.Paths.WordSelectionCSV == "" {
		cfg.Paths.WordSelectionCSV = "word_selection.csv"
	}
	if cfg.Paths.PromptTemplate == "" {
		cfg.Paths.PromptTemplate = "prompts/example_generation.txt"
	}

	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 100
	}
	if cfg.Batch.MaxFrequency == 0 {
		cfg.Batch.MaxFrequency = 20000
	}
	if cfg.Batch.MaxRetries == 0 {
		cfg.Batch.MaxRetries = 3
	}
	if cfg.Batch.RetryBackoffSeconds == 0 {
		cfg.Batch.RetryBackoffSeconds = 5
	}
	if cfg.Batch.PauseSeconds == 0 {
		cfg.Batch.PauseSeconds = 5
	}

	if cfg.Dictionary.BaseURL == "" {
		cfg.Dictionary.BaseURL = "https://api.dictionaryapi.dev/api/v2/entries/en"
	}
	if cfg.Dictionary.TimeoutSeconds == 0 {
		cfg.Dictionary.TimeoutSeconds = 10
	}
	if cfg.Dictionary.MaxRetries == 0 {
		cfg.Dictionary.MaxRetries = 5
	}
	if cfg.Dictionary.RequestsPerMinute == 0 {
		cfg.Dictionary.RequestsPerMinute = 60
	}

	if cfg.Enrichment.Concurrency == 0 {
		cfg.Enrichment.Concurrency = 2
	}
	if cfg.Enrichment.RequestDelayMillis == 0 {
		cfg.Enrichment.RequestDelayMillis = 500
	}

	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Generation.ModelName == "" {
		cfg.Generation.ModelName = "gpt-4o-mini"
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.7
	}
	if cfg.Generation.MaxOutputTokens == 0 {
		cfg.Generation.MaxOutputTokens = 4096
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = 180
	}
	if cfg.Generation.MaxRetries == 0 {
		cfg.Generation.MaxRetries = 3
	}
	if cfg.Generation.RateLimitPerMinute == 0 {
		cfg.Generation.RateLimitPerMinute = 60
	}
	if cfg.Generation.ConsecutiveFailureThreshold == 0 {
		cfg.Generation.ConsecutiveFailureThreshold = 2
	}
	if cfg.Generation.SaveInterval == 0 {
		cfg.Generation.SaveInterval = 10
	}
	if cfg.Generation.DryRunLimit == 0 {
		cfg.Generation.DryRunLimit = 10
	}
	if len(cfg.Generation.ExampleStyles) == 0 {
		cfg.Generation.ExampleStyles = append([]string(nil), defaultExampleStyles...)
	}
}
