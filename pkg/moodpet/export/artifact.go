// Package export materializes a user's mood entries as a downloadable CSV
// artifact.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/randalmurphal/moodpet/pkg/moodpet/store"
)

// Writer produces CSV artifacts in a directory the transport can serve.
type Writer struct {
	dir string
}

// NewWriter creates an artifact writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write serializes entries into a CSV file named <pseudoId>-<timestamp>.csv
// and returns its path. The file appears atomically: rows are written to a
// temporary file that is renamed into place only after a successful flush,
// so a reader can never observe a partially-written artifact. An empty
// entry set produces a header-only file, not an error.
func (w *Writer) Write(pseudoID string, entries []store.Entry) (string, error) {
	stamp := time.Now().UTC().Format("20060102150405")
	final := filepath.Join(w.dir, fmt.Sprintf("%s-%s.csv", pseudoID, stamp))

	tmp, err := os.CreateTemp(w.dir, "export-*.csv.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	if err := cw.Write([]string{"ts", "mood", "note"}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, entry := range entries {
		record := []string{
			entry.Timestamp.UTC().Format(time.RFC3339),
			strconv.Itoa(entry.Mood),
			entry.Note,
		}
		if err := cw.Write(record); err != nil {
			tmp.Close()
			return "", fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("flush artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp artifact: %w", err)
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return final, nil
}

// Purge removes every artifact previously written for a user. Called by the
// deleter so erasure covers derived data, not just stored entries.
func (w *Writer) Purge(pseudoID string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, pseudoID+"-*.csv"))
	if err != nil {
		return 0, fmt.Errorf("glob artifacts: %w", err)
	}

	removed := 0
	for _, path := range matches {
		if !strings.HasPrefix(filepath.Base(path), pseudoID+"-") {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove artifact: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Dir returns the artifact directory.
func (w *Writer) Dir() string {
	return w.dir
}
