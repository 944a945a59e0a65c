// Package dictionary implements the word lookup collaborator against a
// dictionaryapi.dev-compatible endpoint.
package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/dailyword/pipeline/internal/config"
)

// ErrNotFound marks a word the dictionary has no entry for. Callers treat
// it as "no data", not as a stage failure.
var ErrNotFound = errors.New("word not found")

// LookupError wraps any non-not-found lookup failure.
type LookupError struct {
	Word string
	Err  error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("dictionary lookup for %q failed: %v", e.Word, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Lookup holds the dictionary data for one word.
type Lookup struct {
	Phonetic string
	POS      []string
}

// Client queries the dictionary API with request pacing and bounded
// exponential-backoff retries on transient failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	maxRetries uint64
	logger     *slog.Logger
}

// NewClient builds a client from the dictionary configuration.
func NewClient(cfg config.DictionaryConfig, logger *slog.Logger) *Client {
	rps := float64(cfg.RequestsPerMinute) / 60.0
	burst := cfg.RequestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL:    cfg.BaseURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxRetries: uint64(cfg.MaxRetries),
		logger:     logger,
	}
}

// Lookup fetches phonetic and part-of-speech data for a word. It returns
// ErrNotFound for unknown words and *LookupError for everything else;
// timeouts and server-side errors are retried with exponential backoff
// before surfacing.
func (c *Client) Lookup(ctx context.Context, word string) (*Lookup, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var result *Lookup
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(time.Second))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		lookup, err := c.doLookup(ctx, word)
		if err != nil {
			return err
		}
		result = lookup
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		var le *LookupError
		if errors.As(err, &le) {
			return nil, le
		}
		return nil, &LookupError{Word: word, Err: err}
	}
	return result, nil
}

func (c *Client) doLookup(ctx context.Context, word string) (*Lookup, error) {
	endpoint := c.baseURL + "/" + url.PathEscape(word)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &LookupError{Word: word, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts are worth another attempt.
		return nil, retry.RetryableError(&LookupError{Word: word, Err: err})
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Debug("Retryable dictionary response", "word", word, "status", resp.StatusCode)
		return nil, retry.RetryableError(&LookupError{
			Word: word,
			Err:  fmt.Errorf("status %d", resp.StatusCode),
		})
	case resp.StatusCode != http.StatusOK:
		return nil, &LookupError{Word: word, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.RetryableError(&LookupError{Word: word, Err: err})
	}

	var entries []apiEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &LookupError{Word: word, Err: fmt.Errorf("unexpected response format: %w", err)}
	}
	if len(entries) == 0 {
		return nil, &LookupError{Word: word, Err: errors.New("empty response")}
	}

	return parseEntries(entries), nil
}

type apiEntry struct {
	Phonetic  string `json:"phonetic"`
	Phonetics []struct {
		Text string `json:"text"`
	} `json:"phonetics"`
	Meanings []struct {
		PartOfSpeech string `json:"partOfSpeech"`
	} `json:"meanings"`
}

// parseEntries flattens the API's entry list: the first non-empty phonetic
// wins (preferring the top-level field over the phonetics array), and parts
// of speech are the sorted union across all meanings.
func parseEntries(entries []apiEntry) *Lookup {
	var phonetic string
	posSet := make(map[string]struct{})

	for _, entry := range entries {
		if phonetic == "" {
			if entry.Phonetic != "" {
				phonetic = entry.Phonetic
			} else {
				for _, p := range entry.Phonetics {
					if p.Text != "" {
						phonetic = p.Text
						break
					}
				}
			}
		}
		for _, m := range entry.Meanings {
			if m.PartOfSpeech != "" {
				posSet[m.PartOfSpeech] = struct{}{}
			}
		}
	}

	pos := make([]string, 0, len(posSet))
	for p := range posSet {
		pos = append(pos, p)
	}
	sort.Strings(pos)

	return &Lookup{Phonetic: phonetic, POS: pos}
}
