package explain

import (
	"errors"
	"fmt"
)

var ErrClassIndexOutOfRange = errors.New("class index out of range")

// Attributions holds one contribution per row, feature and output. A
// single-output model is two-dimensional and Values[i][j] has length 1.
type Attributions struct {
	Values [][][]float64
	// Base is the model output at the feature means, per output.
	Base []float64
}

// Dims is 2 for single-output models and 3 otherwise.
func (a *Attributions) Dims() int {
	if len(a.Base) > 1 {
		return 3
	}
	return 2
}

// Explain computes exact attributions for a linear model: the contribution of
// feature j to output c for row i is coef[c][j] * (x[i][j] - mean[j]).
func Explain(m *Model, x Matrix) (*Attributions, error) {
	n := len(m.Features)
	att := &Attributions{
		Values: make([][][]float64, len(x)),
		Base:   make([]float64, m.Outputs()),
	}

	for c, coef := range m.Coefficients {
		base := m.Intercepts[c]
		for j := range n {
			base += coef[j] * m.Means[j]
		}
		att.Base[c] = base
	}

	for i, row := range x {
		if len(row) != n {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), n)
		}
		att.Values[i] = make([][]float64, n)
		for j := range n {
			contrib := make([]float64, m.Outputs())
			for c, coef := range m.Coefficients {
				contrib[c] = coef[j] * (row[j] - m.Means[j])
			}
			att.Values[i][j] = contrib
		}
	}
	return att, nil
}

// SelectClass reduces attributions to rows × features. Two-dimensional
// attributions are returned as they are; three-dimensional ones are sliced at
// classIndex.
func SelectClass(att *Attributions, classIndex int) (Matrix, error) {
	c := 0
	if att.Dims() == 3 {
		if classIndex < 0 || classIndex >= len(att.Base) {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrClassIndexOutOfRange, classIndex, len(att.Base))
		}
		c = classIndex
	}

	out := make(Matrix, len(att.Values))
	for i, row := range att.Values {
		out[i] = make([]float64, len(row))
		for j, contrib := range row {
			out[i][j] = contrib[c]
		}
	}
	return out, nil
}

// BaseValue is the baseline of the output selected by SelectClass.
func (a *Attributions) BaseValue(classIndex int) float64 {
	if a.Dims() == 2 {
		return a.Base[0]
	}
	return a.Base[classIndex]
}

// MeanAbs is the mean absolute attribution per feature over all rows.
func MeanAbs(values Matrix) []float64 {
	if len(values) == 0 {
		return nil
	}
	out := make([]float64, len(values[0]))
	for _, row := range values {
		for j, v := range row {
			if v < 0 {
				v = -v
			}
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(len(values))
	}
	return out
}
