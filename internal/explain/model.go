// Package explain computes per-feature attributions for the image-category
// classifier and renders them as PNG plots.
package explain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Matrix is a dense row-major table.
type Matrix [][]float64

// Model is an exported linear classifier: one row of coefficients per output.
// Means are the training-set feature means used as the attribution baseline.
type Model struct {
	Features     []string    `json:"features"`
	Intercepts   []float64   `json:"intercepts"`
	Coefficients [][]float64 `json:"coefficients"`
	Means        []float64   `json:"means"`
}

// Outputs is the number of model outputs.
func (m *Model) Outputs() int {
	return len(m.Coefficients)
}

func (m *Model) validate() error {
	n := len(m.Features)
	if n == 0 {
		return errors.New("model declares no features")
	}
	if len(m.Coefficients) == 0 {
		return errors.New("model has no coefficients")
	}
	if len(m.Intercepts) != len(m.Coefficients) {
		return fmt.Errorf("model has %d intercepts for %d outputs", len(m.Intercepts), len(m.Coefficients))
	}
	for i, row := range m.Coefficients {
		if len(row) != n {
			return fmt.Errorf("coefficient row %d has %d values, want %d", i, len(row), n)
		}
	}
	if len(m.Means) != n {
		return fmt.Errorf("model has %d means, want %d", len(m.Means), n)
	}
	return nil
}

func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid model %s: %w", path, err)
	}
	return &m, nil
}

// ReadFeatures loads the named columns from a CSV table, in the given order.
// Other columns are ignored. A missing column or a non-numeric cell is an
// error.
func ReadFeatures(path string, names []string) (Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature table: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read feature header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}

	idx := make([]int, len(names))
	for i, name := range names {
		j, ok := col[name]
		if !ok {
			return nil, fmt.Errorf("feature table has no column %q", name)
		}
		idx[i] = j
	}

	var x Matrix
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		vals := make([]float64, len(idx))
		for i, j := range idx {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, names[i], err)
			}
			vals[i] = v
		}
		x = append(x, vals)
	}
	return x, nil
}
