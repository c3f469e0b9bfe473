package explain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
)

const (
	SummaryPlotFile = "shap_summary_plot.png"
	LocalPlotFile   = "shap_local_prediction.png"
)

// Report lists the files written by one run.
type Report struct {
	Rows  int
	Files []string
}

type Reporter struct {
	cfg    config.ExplainConfig
	logger *zap.Logger
}

func NewReporter(cfg config.ExplainConfig, logger *zap.Logger) *Reporter {
	return &Reporter{cfg: cfg, logger: logger}
}

// Run explains every row of the feature table and writes the summary and
// local plots. A class index outside the model outputs returns an error
// wrapping ErrClassIndexOutOfRange.
func (r *Reporter) Run(ctx context.Context) (*Report, error) {
	model, err := LoadModel(r.cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(model.Features, r.cfg.Features) {
		return nil, fmt.Errorf("model features %v do not match configured features %v", model.Features, r.cfg.Features)
	}

	x, err := ReadFeatures(r.cfg.FeaturesPath, r.cfg.Features)
	if err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, errors.New("feature table has no rows")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	att, err := Explain(model, x)
	if err != nil {
		return nil, err
	}

	classIndex := 1
	if r.cfg.ClassIndex != nil {
		classIndex = *r.cfg.ClassIndex
	}
	values, err := SelectClass(att, classIndex)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	summary := filepath.Join(r.cfg.OutputDir, SummaryPlotFile)
	if err := SummaryPlot(summary, r.cfg.Features, values); err != nil {
		return nil, err
	}
	local := filepath.Join(r.cfg.OutputDir, LocalPlotFile)
	if err := LocalPlot(local, r.cfg.Features, values[0], att.BaseValue(classIndex)); err != nil {
		return nil, err
	}

	r.logger.Info("Explainability plots written",
		zap.Int("rows", len(x)),
		zap.Int("dims", att.Dims()),
		zap.String("output_dir", r.cfg.OutputDir))

	return &Report{Rows: len(x), Files: []string{summary, local}}, nil
}
