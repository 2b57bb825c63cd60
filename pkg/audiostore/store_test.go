package audiostore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSaveCreatesDirAndReturnsFilename(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ref, err := s.Save([]byte("ID3"), ".MP3")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.ContainsRune(ref, os.PathSeparator) || !strings.HasSuffix(ref, ".mp3") || !strings.HasPrefix(ref, "tts_") {
		t.Fatalf("unexpected reference %q", ref)
	}
	p, err := s.Path(ref)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	data, err := os.ReadFile(p)
	if err != nil || string(data) != "ID3" {
		t.Fatalf("unexpected file content %q %v", data, err)
	}
}

func TestSaveSameInstantDoesNotCollide(t *testing.T) {
	s, _ := New(t.TempDir())
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	a, err := s.Save([]byte("a"), "wav")
	if err != nil {
		t.Fatalf("save a: %v", err)
	}
	b, err := s.Save([]byte("b"), "wav")
	if err != nil {
		t.Fatalf("save b: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct references, both %q", a)
	}
}

func TestSaveConcurrent(t *testing.T) {
	s, _ := New(t.TempDir())
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := s.Save([]byte("x"), "mp3")
			if err != nil {
				t.Errorf("save: %v", err)
				return
			}
			mu.Lock()
			seen[ref] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 32 {
		t.Fatalf("expected 32 distinct references, got %d", len(seen))
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	s, _ := New(t.TempDir())
	for _, ref := range []string{"", "..", "../etc/passwd", "a/b.mp3", `a\b.mp3`} {
		if _, err := s.Path(ref); err == nil {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}

func TestPurgeRemovesOldFiles(t *testing.T) {
	s, _ := New(t.TempDir())
	oldRef, _ := s.Save([]byte("old"), "mp3")
	newRef, _ := s.Save([]byte("new"), "mp3")
	oldPath, _ := s.Path(oldRef)
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := s.Purge(24 * time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := s.Path(newRef); err != nil {
		t.Fatalf("path: %v", err)
	}
	newPath, _ := s.Path(newRef)
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("expected new file kept: %v", err)
	}
}
