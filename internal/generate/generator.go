package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dailyword/pipeline/internal/config"
	"github.com/dailyword/pipeline/internal/util"
	"github.com/dailyword/pipeline/pkg/models"
)

// ErrorKind classifies a generation failure.
type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindAPI     ErrorKind = "api"
	KindParse   ErrorKind = "parse"
	KindSchema  ErrorKind = "schema"
)

// GenerationError wraps a per-word generation failure with its kind. Every
// kind counts toward the consecutive-failure circuit breaker.
type GenerationError struct {
	Word string
	Kind ErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation for %q failed (%s): %v", e.Word, e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

const systemPrompt = `You are a lexicographer and translator producing Chinese learner's dictionary entries for English words. Respond with a single JSON object and nothing else.`

const userPromptTemplate = `Produce a dictionary entry for the English word "{{.Word}}".

Known parts of speech: {{.POS}}.

Pick the single most common part of speech, give a concise Chinese definition, and write one example sentence per style listed below. Each example must use the word naturally, include a Chinese translation, and state how the word itself is translated in that sentence.

Styles (one example each, in this order):
{{.Styles}}

Return exactly this JSON shape:
{
  "selected_pos": "...",
  "definition": "...",
  "examples": [
    {"sentence": "...", "style": "...", "translation": "...", "translated_word": "..."}
  ]
}`

// Generator turns enriched words into full dictionary entries via the
// chat completion client.
type Generator struct {
	client *Client
	styles []string
	tmpl   string
	logger *slog.Logger
}

// NewGenerator creates a generator using the configured example styles.
// promptTemplate overrides the built-in prompt when non-empty.
func NewGenerator(client *Client, cfg config.GenerationConfig, promptTemplate string, logger *slog.Logger) *Generator {
	if promptTemplate == "" {
		promptTemplate = userPromptTemplate
	}
	return &Generator{
		client: client,
		styles: cfg.ExampleStyles,
		tmpl:   promptTemplate,
		logger: logger,
	}
}

// Generate produces the definition and example sentences for one word.
// Failures come back as *GenerationError so the caller can classify them.
func (g *Generator) Generate(ctx context.Context, word string, pos []string) (*models.GenerationResult, error) {
	prompt, err := g.buildPrompt(word, pos)
	if err != nil {
		return nil, &GenerationError{Word: word, Kind: KindParse, Err: err}
	}

	resp, err := g.client.ChatCompletion(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		kind := KindAPI
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &GenerationError{Word: word, Kind: kind, Err: err}
	}

	content := resp.Choices[0].Message.Content
	raw := util.ExtractJSON(content)

	var result models.GenerationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		// Unescaped newlines inside strings are a common model slip.
		if err2 := json.Unmarshal([]byte(util.SanitizeJSON(raw)), &result); err2 != nil {
			g.logger.Debug("Failed to parse model output",
				"word", word,
				"content_preview", util.TruncateString(content, 200))
			return nil, &GenerationError{Word: word, Kind: KindParse, Err: err}
		}
	}

	if err := validateResult(&result); err != nil {
		return nil, &GenerationError{Word: word, Kind: KindSchema, Err: err}
	}

	return &result, nil
}

func (g *Generator) buildPrompt(word string, pos []string) (string, error) {
	posText := strings.Join(pos, ", ")
	if posText == "" {
		posText = "unknown"
	}

	var styles strings.Builder
	for i, s := range g.styles {
		fmt.Fprintf(&styles, "%d. %s\n", i+1, s)
	}

	return util.RenderTemplate(g.tmpl, map[string]any{
		"Word":   word,
		"POS":    posText,
		"Styles": strings.TrimRight(styles.String(), "\n"),
	})
}

func validateResult(r *models.GenerationResult) error {
	if r.SelectedPOS == "" {
		return errors.New("missing selected_pos")
	}
	if r.Definition == "" {
		return errors.New("missing definition")
	}
	if len(r.Examples) == 0 {
		return errors.New("no examples")
	}
	for i, ex := range r.Examples {
		if ex.Sentence == "" {
			return fmt.Errorf("example %d has empty sentence", i)
		}
		if ex.Translation == "" {
			return fmt.Errorf("example %d has empty translation", i)
		}
		if ex.Style == "" {
			return fmt.Errorf("example %d has empty style", i)
		}
	}
	return nil
}
