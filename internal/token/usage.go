package token

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ///////////////////////////////////////////////
// Usage Types
// ///////////////////////////////////////////////

// Usage holds aggregated token counts parsed from a JSONL conversation file.
type Usage struct {
	Model               string
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	TurnCount           int64
	UniqueModels        []string
}

// Delta returns the per-field difference from an earlier snapshot.
func (u Usage) Delta(prev Usage) Usage {
	return Usage{
		Model:               u.Model,
		InputTokens:         u.InputTokens - prev.InputTokens,
		OutputTokens:        u.OutputTokens - prev.OutputTokens,
		CacheCreationTokens: u.CacheCreationTokens - prev.CacheCreationTokens,
		CacheReadTokens:     u.CacheReadTokens - prev.CacheReadTokens,
		TurnCount:           u.TurnCount - prev.TurnCount,
	}
}

// Total returns the sum of all token fields.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// usageEntry represents a single line in a JSONL conversation log.
// Only the fields needed for token aggregation and model detection are decoded.
type usageEntry struct {
	// Type is the entry kind (e.g. "assistant", "user").
	Type string `json:"type"`
	// Model is the model identifier that produced this entry.
	Model string `json:"model"`
	// Usage holds the token consumption for this entry.
	Usage struct {
		InputTokens              int64 `json:"input_tokens"`
		OutputTokens             int64 `json:"output_tokens"`
		CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// accumulate folds one decoded entry into the totals.
func (u *Usage) accumulate(entry usageEntry) {
	u.InputTokens += entry.Usage.InputTokens
	u.OutputTokens += entry.Usage.OutputTokens
	u.CacheCreationTokens += entry.Usage.CacheCreationInputTokens
	u.CacheReadTokens += entry.Usage.CacheReadInputTokens

	if entry.Model != "" {
		u.Model = entry.Model
		found := false
		for _, m := range u.UniqueModels {
			if m == entry.Model {
				found = true
				break
			}
		}
		if !found {
			u.UniqueModels = append(u.UniqueModels, entry.Model)
		}
	}

	if entry.Type == "assistant" {
		u.TurnCount++
	}
}

// ///////////////////////////////////////////////
// Parsing
// ///////////////////////////////////////////////

// ParseUsageFile reads a whole JSONL file and aggregates token counts.
// Malformed lines are silently skipped.
func ParseUsageFile(path string) (*Usage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening usage file: %w", err)
	}
	defer f.Close()

	usage := &Usage{}
	if err := scanUsage(f, usage); err != nil {
		return nil, err
	}
	return usage, nil
}

// scanUsage accumulates entries from r into usage.
func scanUsage(r io.Reader, usage *Usage) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry usageEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		usage.accumulate(entry)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning usage file: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Incremental Parsing
// ///////////////////////////////////////////////

// UsageCache tracks parse state so repeated reads of a growing JSONL file
// only scan new entries. A shrunken file (truncation/rotation) triggers a
// full rescan.
type UsageCache struct {
	mu       sync.Mutex
	path     string
	lastSize int64
	lastData Usage
}

// NewUsageCache creates a cache for incremental parsing of the given file.
func NewUsageCache(path string) *UsageCache {
	return &UsageCache{path: path}
}

// Path returns the file the cache is bound to.
func (c *UsageCache) Path() string { return c.path }

// Parse reads only the portion of the file appended since the last call and
// returns the updated totals.
func (c *UsageCache) Parse() (*Usage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("opening usage file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat usage file: %w", err)
	}
	currentSize := info.Size()

	if currentSize < c.lastSize {
		c.lastSize = 0
		c.lastData = Usage{}
	}
	if currentSize == c.lastSize {
		result := c.lastData
		return &result, nil
	}

	if c.lastSize > 0 {
		if _, err := f.Seek(c.lastSize, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seeking usage file: %w", err)
		}
	}

	data := c.lastData
	if err := scanUsage(f, &data); err != nil {
		return nil, err
	}

	c.lastSize = currentSize
	c.lastData = data

	result := data
	return &result, nil
}

// ///////////////////////////////////////////////
// Discovery
// ///////////////////////////////////////////////

// FindLatestUsageFile walks the project tree one level deep and returns the
// most recently modified .jsonl file.
func FindLatestUsageFile(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("reading directory %s: %w", root, err)
	}

	var latest string
	var latestTime int64

	consider := func(dir string, e os.DirEntry) {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			return
		}
		info, err := e.Info()
		if err != nil {
			return
		}
		if t := info.ModTime().UnixNano(); t > latestTime {
			latestTime = t
			latest = filepath.Join(dir, e.Name())
		}
	}

	for _, e := range entries {
		if e.IsDir() {
			sub := filepath.Join(root, e.Name())
			subEntries, err := os.ReadDir(sub)
			if err != nil {
				continue
			}
			for _, se := range subEntries {
				consider(sub, se)
			}
			continue
		}
		consider(root, e)
	}

	if latest == "" {
		return "", fmt.Errorf("no .jsonl files found in %s", root)
	}
	return latest, nil
}
