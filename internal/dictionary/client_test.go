package dictionary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/dailyword/pipeline/internal/config"
)

func testConfig(baseURL string) config.DictionaryConfig {
	return config.DictionaryConfig{
		BaseURL:           baseURL,
		TimeoutSeconds:    5,
		MaxRetries:        3,
		RequestsPerMinute: 6000,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestLookupParsesEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/serendipity" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `[{
			"word": "serendipity",
			"phonetic": "/ˌsɛɹ.ənˈdɪp.ɪ.ti/",
			"meanings": [
				{"partOfSpeech": "noun"},
				{"partOfSpeech": "noun"}
			]
		}]`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), discardLogger())
	lookup, err := client.Lookup(context.Background(), "serendipity")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if lookup.Phonetic != "/ˌsɛɹ.ənˈdɪp.ɪ.ti/" {
		t.Errorf("phonetic = %q", lookup.Phonetic)
	}
	if !reflect.DeepEqual(lookup.POS, []string{"noun"}) {
		t.Errorf("POS = %v, want [noun]", lookup.POS)
	}
}

func TestLookupPhoneticFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{
			"word": "run",
			"phonetic": "",
			"phonetics": [{"text": ""}, {"text": "/ɹʌn/"}],
			"meanings": [
				{"partOfSpeech": "verb"},
				{"partOfSpeech": "noun"}
			]
		}]`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), discardLogger())
	lookup, err := client.Lookup(context.Background(), "run")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if lookup.Phonetic != "/ɹʌn/" {
		t.Errorf("phonetic = %q, want fallback from phonetics array", lookup.Phonetic)
	}
	if !reflect.DeepEqual(lookup.POS, []string{"noun", "verb"}) {
		t.Errorf("POS = %v, want sorted union", lookup.POS)
	}
}

func TestLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), discardLogger())
	_, err := client.Lookup(context.Background(), "zzzznotaword")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[{"word": "echo", "phonetic": "/ˈɛkoʊ/", "meanings": [{"partOfSpeech": "noun"}]}]`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), discardLogger())
	lookup, err := client.Lookup(context.Background(), "echo")
	if err != nil {
		t.Fatalf("Lookup failed after retries: %v", err)
	}
	if calls != 3 {
		t.Errorf("server saw %d calls, want 3", calls)
	}
	if lookup.Phonetic != "/ˈɛkoʊ/" {
		t.Errorf("phonetic = %q", lookup.Phonetic)
	}
}

func TestLookupDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL), discardLogger())
	_, err := client.Lookup(context.Background(), "echo")
	var le *LookupError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LookupError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("server saw %d calls, want 1", calls)
	}
}
