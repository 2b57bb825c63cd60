// Package audiostore keeps synthesized audio on disk where the telephony proxy can read it.
package audiostore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRef = errors.New("invalid audio reference")

type Store struct {
	dir string
	now func() time.Time
}

// New returns a store rooted at dir; dir is made absolute so references resolve
// to the same path regardless of the proxy's working directory.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("audio dir is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve audio dir: %w", err)
	}
	return &Store{dir: abs, now: time.Now}, nil
}

func (s *Store) Dir() string { return s.dir }

// Save writes data under a collision-resistant name and returns the filename.
func (s *Store) Save(data []byte, ext string) (string, error) {
	return s.SaveWithPrefix("tts_", data, ext)
}

func (s *Store) SaveWithPrefix(prefix string, data []byte, ext string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	name := s.newName(prefix, ext)
	// readers of /media must never see a partial file
	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("write audio %s: %w", name, err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write audio %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write audio %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write audio %s: %w", name, err)
	}
	return name, nil
}

// Path resolves a reference returned by Save into an absolute path.
func (s *Store) Path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

// Open opens a stored file for reading.
func (s *Store) Open(ref string) (*os.File, error) {
	p, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

func (s *Store) newName(prefix, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = "mp3"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return prefix + strconv.FormatInt(s.now().UnixNano(), 10) + "_" + suffix + "." + ext
}

// Purge removes files older than maxAge. Returns deleted count.
func (s *Store) Purge(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var removed int
	var errs error
	cutoff := s.now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
