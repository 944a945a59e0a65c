package util

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bare object",
			input: `{"definition": "a thing"}`,
			want:  `{"definition": "a thing"}`,
		},
		{
			name:  "fenced object",
			input: "Here you go:\n```json\n{\"definition\": \"a thing\"}\n```",
			want:  `{"definition": "a thing"}`,
		},
		{
			name:  "object with prose around it",
			input: `Sure! {"selected_pos": "noun"} Hope that helps.`,
			want:  `{"selected_pos": "noun"}`,
		},
		{
			name:  "braces inside strings",
			input: `{"definition": "uses { and } freely"}`,
			want:  `{"definition": "uses { and } freely"}`,
		},
		{
			name:  "array",
			input: `["a", "b"]`,
			want:  `["a", "b"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.input); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeJSON(t *testing.T) {
	input := "{\"definition\": \"line one\nline two\"}"
	want := `{"definition": "line one\nline two"}`
	if got := SanitizeJSON(input); got != want {
		t.Errorf("SanitizeJSON = %q, want %q", got, want)
	}

	// Newlines outside strings are untouched.
	input = "{\n\"a\": 1\n}"
	if got := SanitizeJSON(input); got != input {
		t.Errorf("SanitizeJSON changed structural whitespace: %q", got)
	}
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Word: {{.Word}} ({{.POS}})", map[string]any{
		"Word": "lucid",
		"POS":  "adjective",
	})
	if err != nil {
		t.Fatalf("RenderTemplate failed: %v", err)
	}
	if out != "Word: lucid (adjective)" {
		t.Errorf("Unexpected output: %q", out)
	}

	if _, err := RenderTemplate("{{.Missing}}", map[string]any{}); err == nil {
		t.Error("Expected error for missing key")
	}
	if _, err := RenderTemplate("{{template \"x\"}}", map[string]any{}); err == nil {
		t.Error("Expected error for forbidden directive")
	}
}
