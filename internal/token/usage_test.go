// Tests for usage parsing, incremental caching, and usage-file discovery.
// Covers [ParseUsageFile], [UsageCache], and [FindLatestUsageFile].
package token

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ///////////////////////////////////////////////
// ParseUsageFile Tests
// ///////////////////////////////////////////////

func TestParseUsageFile(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantModel  string
		wantInput  int64
		wantOutput int64
	}{
		{
			name:       "single entry",
			content:    `{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":100,"output_tokens":50}}` + "\n",
			wantModel:  "claude-sonnet-4-5",
			wantInput:  100,
			wantOutput: 50,
		},
		{
			name: "multiple entries aggregate tokens",
			content: `{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":100,"output_tokens":50}}
{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":200,"output_tokens":75}}
{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":300,"output_tokens":100}}
`,
			wantModel:  "claude-sonnet-4-5",
			wantInput:  600,
			wantOutput: 225,
		},
		{
			name: "mixed models uses latest",
			content: `{"type":"assistant","model":"claude-haiku-4-5","usage":{"input_tokens":100,"output_tokens":50}}
{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":200,"output_tokens":75}}
`,
			wantModel:  "claude-sonnet-4-5",
			wantInput:  300,
			wantOutput: 125,
		},
		{
			name: "malformed line skipped",
			content: `{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":100,"output_tokens":50}}
{this is broken json}
{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":200,"output_tokens":75}}
`,
			wantModel:  "claude-sonnet-4-5",
			wantInput:  300,
			wantOutput: 125,
		},
		{
			name:    "empty file",
			content: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.jsonl")
			os.WriteFile(path, []byte(tt.content), 0o644)

			usage, err := ParseUsageFile(path)
			if err != nil {
				t.Fatalf("ParseUsageFile: %v", err)
			}
			if usage.Model != tt.wantModel {
				t.Errorf("Model = %q, want %q", usage.Model, tt.wantModel)
			}
			if usage.InputTokens != tt.wantInput {
				t.Errorf("InputTokens = %d, want %d", usage.InputTokens, tt.wantInput)
			}
			if usage.OutputTokens != tt.wantOutput {
				t.Errorf("OutputTokens = %d, want %d", usage.OutputTokens, tt.wantOutput)
			}
		})
	}
}

func TestParseUsageFile_LargeLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	// A 10KB content field exercises the scanner buffer handling.
	large := `{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":50000,"output_tokens":25000},"content":"`
	large += strings.Repeat("x", 10000)
	large += "\"}\n"
	os.WriteFile(path, []byte(large), 0o644)

	usage, err := ParseUsageFile(path)
	if err != nil {
		t.Fatalf("ParseUsageFile: %v", err)
	}
	if usage.InputTokens != 50000 {
		t.Errorf("InputTokens = %d, want 50000", usage.InputTokens)
	}
}

func TestParseUsageFile_MissingFile(t *testing.T) {
	_, err := ParseUsageFile(filepath.Join(t.TempDir(), "nonexistent.jsonl"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestParseUsageFile_CacheTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.jsonl")
	content := `{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":10,"output_tokens":5,"cache_creation_input_tokens":1000,"cache_read_input_tokens":9000}}` + "\n"
	os.WriteFile(path, []byte(content), 0o644)

	usage, err := ParseUsageFile(path)
	if err != nil {
		t.Fatalf("ParseUsageFile: %v", err)
	}
	if usage.CacheCreationTokens != 1000 {
		t.Errorf("CacheCreationTokens = %d, want 1000", usage.CacheCreationTokens)
	}
	if usage.CacheReadTokens != 9000 {
		t.Errorf("CacheReadTokens = %d, want 9000", usage.CacheReadTokens)
	}
	if usage.Total() != 10015 {
		t.Errorf("Total = %d, want 10015", usage.Total())
	}
}

// ///////////////////////////////////////////////
// UsageCache Tests
// ///////////////////////////////////////////////

func TestUsageCache_IncrementalParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	initial := `{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":100,"output_tokens":50}}
{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":200,"output_tokens":75}}
`
	os.WriteFile(path, []byte(initial), 0o644)

	cache := NewUsageCache(path)

	usage, err := cache.Parse()
	if err != nil {
		t.Fatalf("first Parse: %v", err)
	}
	if usage.InputTokens != 300 || usage.OutputTokens != 125 {
		t.Errorf("first parse: input=%d output=%d, want 300/125", usage.InputTokens, usage.OutputTokens)
	}

	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	f.WriteString(`{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":500,"output_tokens":250}}` + "\n")
	f.Close()

	usage, err = cache.Parse()
	if err != nil {
		t.Fatalf("second Parse: %v", err)
	}
	if usage.InputTokens != 800 || usage.OutputTokens != 375 {
		t.Errorf("second parse: input=%d output=%d, want 800/375", usage.InputTokens, usage.OutputTokens)
	}
}

func TestUsageCache_NoChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	os.WriteFile(path, []byte(`{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":100,"output_tokens":50}}`+"\n"), 0o644)

	cache := NewUsageCache(path)
	u1, _ := cache.Parse()
	u2, _ := cache.Parse()

	if u1.InputTokens != u2.InputTokens || u1.OutputTokens != u2.OutputTokens {
		t.Errorf("unchanged file returned different results: %+v vs %+v", u1, u2)
	}
}

func TestUsageCache_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	large := `{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":1000,"output_tokens":500}}
{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":2000,"output_tokens":1000}}
`
	os.WriteFile(path, []byte(large), 0o644)

	cache := NewUsageCache(path)
	cache.Parse()

	// Rotation: the file is replaced by a smaller one.
	small := `{"type":"assistant","model":"claude-sonnet-4-5","usage":{"input_tokens":50,"output_tokens":25}}` + "\n"
	os.WriteFile(path, []byte(small), 0o644)

	usage, err := cache.Parse()
	if err != nil {
		t.Fatalf("Parse after truncation: %v", err)
	}
	if usage.InputTokens != 50 || usage.OutputTokens != 25 {
		t.Errorf("after truncation: input=%d output=%d, want 50/25", usage.InputTokens, usage.OutputTokens)
	}
}

func TestUsageCache_MissingFile(t *testing.T) {
	cache := NewUsageCache(filepath.Join(t.TempDir(), "nonexistent.jsonl"))
	if _, err := cache.Parse(); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

// ///////////////////////////////////////////////
// Discovery Tests
// ///////////////////////////////////////////////

func TestFindLatestUsageFile(t *testing.T) {
	dir := t.TempDir()

	path1 := filepath.Join(dir, "session1.jsonl")
	path2 := filepath.Join(dir, "session2.jsonl")
	os.WriteFile(path1, []byte(`{"type":"assistant"}`), 0o644)
	os.Chtimes(path1, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour))
	os.WriteFile(path2, []byte(`{"type":"assistant"}`), 0o644)

	latest, err := FindLatestUsageFile(dir)
	if err != nil {
		t.Fatalf("FindLatestUsageFile: %v", err)
	}
	if filepath.Base(latest) != "session2.jsonl" {
		t.Errorf("latest = %q, want session2.jsonl", filepath.Base(latest))
	}
}

func TestFindLatestUsageFile_SearchesProjectSubdirs(t *testing.T) {
	root := t.TempDir()

	old := filepath.Join(root, "top.jsonl")
	os.WriteFile(old, []byte(`{}`), 0o644)
	os.Chtimes(old, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour))

	project := filepath.Join(root, "-home-dev-project")
	os.MkdirAll(project, 0o755)
	nested := filepath.Join(project, "conversation.jsonl")
	os.WriteFile(nested, []byte(`{}`), 0o644)

	latest, err := FindLatestUsageFile(root)
	if err != nil {
		t.Fatalf("FindLatestUsageFile: %v", err)
	}
	if latest != nested {
		t.Errorf("latest = %q, want %q", latest, nested)
	}
}

func TestFindLatestUsageFile_NoUsageFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hello"), 0o644)

	if _, err := FindLatestUsageFile(dir); err == nil {
		t.Fatal("expected error when no .jsonl files exist, got nil")
	}
}

// ///////////////////////////////////////////////
// Delta Tests
// ///////////////////////////////////////////////

func TestUsageDelta(t *testing.T) {
	prev := Usage{InputTokens: 100, OutputTokens: 50, CacheReadTokens: 1000}
	curr := Usage{Model: "claude-sonnet-4-5", InputTokens: 300, OutputTokens: 125, CacheReadTokens: 4000}

	d := curr.Delta(prev)
	if d.InputTokens != 200 || d.OutputTokens != 75 || d.CacheReadTokens != 3000 {
		t.Errorf("delta = %+v", d)
	}
	if d.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q", d.Model)
	}
}
