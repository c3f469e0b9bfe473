package explain

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
)

var features = []string{"n_persons", "n_bottles", "n_pills", "view_count"}

const binaryModel = `{
  "features": ["n_persons", "n_bottles", "n_pills", "view_count"],
  "intercepts": [0.5, -0.5],
  "coefficients": [[-1, -2, 0, 0], [1, 2, 0.5, 0.001]],
  "means": [1, 1, 0, 100]
}`

const singleModel = `{
  "features": ["n_persons", "n_bottles", "n_pills", "view_count"],
  "intercepts": [0],
  "coefficients": [[1, 2, 0.5, 0.001]],
  "means": [1, 1, 0, 100]
}`

const featureTable = "message_id,n_persons,n_bottles,n_pills,view_count\n" +
	"10,2,0,4,300\n" +
	"11,0,3,0,100\n"

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func loadModel(t *testing.T, body string) *Model {
	t.Helper()
	m, err := LoadModel(writeFile(t, t.TempDir(), "model.json", body))
	require.NoError(t, err)
	return m
}

func TestExplain_Binary(t *testing.T) {
	m := loadModel(t, binaryModel)
	x := Matrix{{2, 0, 4, 300}}

	att, err := Explain(m, x)
	require.NoError(t, err)
	assert.Equal(t, 3, att.Dims())

	// base = intercept + coef . means
	assert.InDelta(t, 0.5-1-2, att.Base[0], 1e-9)
	assert.InDelta(t, -0.5+1+2+0.1, att.Base[1], 1e-9)

	values, err := SelectClass(att, 1)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, -2, 2, 0.2}, values[0], 1e-9)

	values, err = SelectClass(att, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1, 2, 0, 0}, values[0], 1e-9)
}

func TestExplain_SingleOutputIgnoresClassIndex(t *testing.T) {
	m := loadModel(t, singleModel)

	att, err := Explain(m, Matrix{{2, 0, 4, 300}})
	require.NoError(t, err)
	assert.Equal(t, 2, att.Dims())

	values, err := SelectClass(att, 7)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, -2, 2, 0.2}, values[0], 1e-9)
	assert.InDelta(t, 3.1, att.BaseValue(7), 1e-9)
}

func TestSelectClass_OutOfRange(t *testing.T) {
	att, err := Explain(loadModel(t, binaryModel), Matrix{{0, 0, 0, 0}})
	require.NoError(t, err)

	for _, idx := range []int{2, -1} {
		_, err := SelectClass(att, idx)
		assert.ErrorIs(t, err, ErrClassIndexOutOfRange)
	}
}

func TestExplain_RowWidthMismatch(t *testing.T) {
	_, err := Explain(loadModel(t, singleModel), Matrix{{1, 2}})
	require.Error(t, err)
}

func TestLoadModel_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"not json":      `{`,
		"no features":   `{"features": [], "intercepts": [0], "coefficients": [[1]], "means": [0]}`,
		"short row":     `{"features": ["a","b"], "intercepts": [0], "coefficients": [[1]], "means": [0,0]}`,
		"intercepts":    `{"features": ["a"], "intercepts": [], "coefficients": [[1]], "means": [0]}`,
		"missing means": `{"features": ["a"], "intercepts": [0], "coefficients": [[1]]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadModel(writeFile(t, dir, "m.json", body))
			require.Error(t, err)
		})
	}
}

func TestReadFeatures(t *testing.T) {
	path := writeFile(t, t.TempDir(), "processed_data.csv", featureTable)

	x, err := ReadFeatures(path, features)
	require.NoError(t, err)
	assert.Equal(t, Matrix{{2, 0, 4, 300}, {0, 3, 0, 100}}, x)
}

func TestReadFeatures_MissingColumn(t *testing.T) {
	path := writeFile(t, t.TempDir(), "processed_data.csv", "n_persons,n_bottles\n1,2\n")

	_, err := ReadFeatures(path, features)
	require.ErrorContains(t, err, "n_pills")
}

func TestMeanAbs(t *testing.T) {
	assert.Equal(t, []float64{1.5, 2}, MeanAbs(Matrix{{-1, 2}, {2, -2}}))
	assert.Nil(t, MeanAbs(nil))
}

func reporterConfig(t *testing.T, model string, classIndex int) config.ExplainConfig {
	dir := t.TempDir()
	return config.ExplainConfig{
		Enabled:      true,
		ModelPath:    writeFile(t, dir, "classifier.json", model),
		FeaturesPath: writeFile(t, dir, "processed_data.csv", featureTable),
		Features:     features,
		ClassIndex:   &classIndex,
		OutputDir:    filepath.Join(dir, "results"),
	}
}

func TestReporter_Run_WritesPlots(t *testing.T) {
	cfg := reporterConfig(t, binaryModel, 1)

	report, err := NewReporter(cfg, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rows)
	require.Len(t, report.Files, 2)

	pngMagic := []byte("\x89PNG\r\n\x1a\n")
	for _, name := range []string{SummaryPlotFile, LocalPlotFile} {
		data, err := os.ReadFile(filepath.Join(cfg.OutputDir, name))
		require.NoError(t, err, name)
		assert.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", name)
	}
}

func TestReporter_Run_ClassIndexOutOfRange(t *testing.T) {
	cfg := reporterConfig(t, binaryModel, 5)

	_, err := NewReporter(cfg, zap.NewNop()).Run(context.Background())
	require.ErrorIs(t, err, ErrClassIndexOutOfRange)

	_, statErr := os.Stat(filepath.Join(cfg.OutputDir, SummaryPlotFile))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReporter_Run_FeatureMismatch(t *testing.T) {
	cfg := reporterConfig(t, singleModel, 1)
	cfg.Features = []string{"n_persons", "n_bottles"}

	_, err := NewReporter(cfg, zap.NewNop()).Run(context.Background())
	require.Error(t, err)
}
