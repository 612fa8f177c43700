// Package diary stores diary entries as one markdown file per day.
package diary

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/felixgeelhaar/diario/internal/fault"
)

// DateLayout is the canonical date key and file stem.
const DateLayout = "2006-01-02"

var (
	ErrNotFound    = errors.New("entry not found")
	ErrInvalidDate = fault.Define(fault.ErrInput, "invalid date, expected YYYY-MM-DD")
)

// entryGlob also matches entries filed in sub-folders such as 2025/.
const entryGlob = "**/[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9].md"

// Entry is the text written for one calendar day.
type Entry struct {
	Date string `json:"date"`
	Text string `json:"text"`
}

// ParseDate validates s and returns it in canonical form.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t.Format(DateLayout), nil
}

// Today returns the local date key.
func Today() string {
	return time.Now().Format(DateLayout)
}

// FileStore keeps entries under a directory. New entries are written as
// <dir>/<date>.md; existing trees with year folders are read as well.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create entries directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

// Save writes text for date, replacing any previous entry for that day.
func (s *FileStore) Save(date, text string) error {
	date, err := ParseDate(date)
	if err != nil {
		return err
	}

	target, err := s.locate(date)
	if errors.Is(err, ErrNotFound) {
		target = filepath.Join(s.dir, date+".md")
	} else if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+date+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp entry: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

// Get reads the entry for date.
func (s *FileStore) Get(date string) (Entry, error) {
	date, err := ParseDate(date)
	if err != nil {
		return Entry{}, err
	}

	p, err := s.locate(date)
	if err != nil {
		return Entry{}, err
	}
	data, err := os.ReadFile(p) // #nosec G304
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read entry: %w", err)
	}
	return Entry{Date: date, Text: string(data)}, nil
}

// Dates lists every date with an entry, ascending.
func (s *FileStore) Dates() ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(s.dir), entryGlob, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	seen := make(map[string]struct{}, len(matches))
	dates := make([]string, 0, len(matches))
	for _, m := range matches {
		date, err := ParseDate(strings.TrimSuffix(path.Base(m), ".md"))
		if err != nil {
			continue // 2025-13-40.md and friends
		}
		if _, dup := seen[date]; dup {
			continue
		}
		seen[date] = struct{}{}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// locate finds the file holding date, preferring the flat layout.
func (s *FileStore) locate(date string) (string, error) {
	flat := filepath.Join(s.dir, date+".md")
	if _, err := os.Stat(flat); err == nil {
		return flat, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	matches, err := doublestar.Glob(os.DirFS(s.dir), "**/"+date+".md", doublestar.WithFilesOnly())
	if err != nil {
		return "", fmt.Errorf("failed to look up entry: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, date)
	}
	sort.Strings(matches)
	return filepath.Join(s.dir, filepath.FromSlash(matches[0])), nil
}
