// Tests for the session transcript tracker: event recording, ignore
// patterns, polling fallback, and close semantics.
package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSessionFile creates a project subdirectory with one transcript inside.
func writeSessionFile(t *testing.T, root, project, name string) string {
	t.Helper()
	dir := filepath.Join(root, project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(`{"type":"user"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileActivityRecordsWrites(t *testing.T) {
	root := t.TempDir()
	writeSessionFile(t, root, "proj-a", "s1.jsonl")

	fa := NewFileActivity(root, nil)
	defer fa.Close()

	path := writeSessionFile(t, root, "proj-a", "s2.jsonl")

	deadline := time.After(3 * time.Second)
	for {
		last, lastPath := fa.LastEvent()
		if !last.IsZero() && lastPath == path {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("write to %s never recorded (last=%v path=%q)", path, last, lastPath)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestFileActivityIgnoresNonSessionFiles(t *testing.T) {
	root := t.TempDir()
	fa := NewFileActivity(root, nil)
	defer fa.Close()

	dir := filepath.Join(root, "proj-a")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)
	if last, _ := fa.LastEvent(); !last.IsZero() {
		t.Errorf("non-transcript write was recorded at %v", last)
	}
}

func TestFileActivityIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	fa := NewFileActivity(root, []string{"**/secret-*/**"})
	defer fa.Close()

	fa.record(filepath.Join(root, "secret-proj", "s.jsonl"), time.Now())
	if last, _ := fa.LastEvent(); !last.IsZero() {
		t.Error("ignored path was recorded")
	}

	fa.record(filepath.Join(root, "open-proj", "s.jsonl"), time.Now())
	if last, _ := fa.LastEvent(); last.IsZero() {
		t.Error("non-ignored path was not recorded")
	}
}

func TestFileActivityPollingFallback(t *testing.T) {
	// A missing root directory cannot be watched; construction must still
	// succeed and fall back to polling.
	root := filepath.Join(t.TempDir(), "does-not-exist")
	fa := NewFileActivity(root, nil)
	defer fa.Close()

	if !fa.Polling() {
		t.Error("expected polling fallback for unwatchable directory")
	}
}

func TestFileActivityScanPicksUpNewFiles(t *testing.T) {
	root := t.TempDir()
	fa := &FileActivity{
		dir:   root,
		files: make(map[string]fileStat),
		done:  make(chan struct{}),
	}
	defer close(fa.done)

	writeSessionFile(t, root, "proj-a", "s1.jsonl")
	fa.scan()

	if fa.TrackedFiles() != 1 {
		t.Errorf("TrackedFiles = %d, want 1", fa.TrackedFiles())
	}
	if last, _ := fa.LastEvent(); last.IsZero() {
		t.Error("scan did not record the file's mtime")
	}
}

func TestFileActivityCloseIdempotent(t *testing.T) {
	fa := NewFileActivity(t.TempDir(), nil)
	if err := fa.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := fa.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
