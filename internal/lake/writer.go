package lake

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
)

// Writer persists extraction output as immutable JSON lake files.
type Writer struct{}

// NewWriter creates a lake writer.
func NewWriter() *Writer {
	return &Writer{}
}

// WriteMessages writes msgs as an indented JSON array to path. The file is
// written to a temporary sibling first and renamed into place so readers
// never observe a half-written file.
func (w *Writer) WriteMessages(path string, msgs []models.Message) error {
	if msgs == nil {
		msgs = []models.Message{}
	}

	data, err := json.MarshalIndent(msgs, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create lake partition: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write lake file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close lake file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move lake file into place: %w", err)
	}
	return nil
}

// MergeMessages adds msgs to the lake file at path without dropping anything
// already stored there. Records are keyed by channel and message id; a record
// that is already in the file keeps its stored version. The merged file is
// ordered newest message id first. It returns the number of records added.
func (w *Writer) MergeMessages(path string, msgs []models.Message) (int, error) {
	existing, err := readJSONFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		existing = nil
	case err != nil:
		return 0, fmt.Errorf("failed to read existing lake file %s: %w", path, err)
	}

	seen := make(map[models.Key]struct{}, len(existing)+len(msgs))
	merged := make([]models.Message, 0, len(existing)+len(msgs))
	for _, m := range existing {
		seen[m.Key()] = struct{}{}
		merged = append(merged, m)
	}
	added := 0
	for _, m := range msgs {
		if _, dup := seen[m.Key()]; dup {
			continue
		}
		seen[m.Key()] = struct{}{}
		merged = append(merged, m)
		added++
	}

	if existing != nil && added == 0 {
		return 0, nil
	}
	slices.SortStableFunc(merged, func(a, b models.Message) int {
		return cmp.Compare(b.MessageID, a.MessageID)
	})
	if err := w.WriteMessages(path, merged); err != nil {
		return 0, err
	}
	return added, nil
}
