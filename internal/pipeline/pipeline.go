// Package pipeline runs the ELT stages in order and records each run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/metrics"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/state"
)

const (
	StageExtract        = "extract"
	StageLoad           = "load"
	StageEnrich         = "enrich"
	StageDetect         = "detect"
	StageLoadDetections = "load-detections"
	StageTransform      = "transform"
	StageExplain        = "explain"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// FatalError aborts the whole run. Any other stage error is recorded and the
// run continues with the next stage.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as fatal to the run.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Step is one stage of the pipeline. Run returns a short human-readable
// detail for the run summary.
type Step struct {
	Name     string
	Disabled bool
	Run      func(ctx context.Context) (string, error)
}

// StageResult is the outcome of one step.
type StageResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Summary is the outcome of one run.
type Summary struct {
	RunID     string        `json:"run_id"`
	Trigger   string        `json:"trigger"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Stages    []StageResult `json:"stages"`
}

// Failed lists the names of failed stages.
func (s *Summary) Failed() []string {
	var out []string
	for _, st := range s.Stages {
		if st.Status == StatusFailed {
			out = append(out, st.Name)
		}
	}
	return out
}

// Text renders the summary for chat notifications.
func (s *Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline run %s (%s): %s in %s\n", s.RunID, s.Trigger, s.Status, s.Duration.Round(time.Second))
	for _, st := range s.Stages {
		fmt.Fprintf(&b, "• %s: %s", st.Name, st.Status)
		if st.Detail != "" {
			fmt.Fprintf(&b, " (%s)", st.Detail)
		}
		if st.Error != "" {
			fmt.Fprintf(&b, " error: %s", st.Error)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// RunStore records run history.
type RunStore interface {
	StartRun(ctx context.Context, trigger string) (state.Run, error)
	FinishRun(ctx context.Context, id, status, summary string) error
}

// Notifier delivers the run summary.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Pipeline struct {
	steps    []Step
	runs     RunStore
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New builds a pipeline. runs, notifier and m may be nil.
func New(steps []Step, runs RunStore, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	return &Pipeline{steps: steps, runs: runs, notifier: notifier, metrics: m, logger: logger}
}

// Run executes the steps sequentially. The returned error is non-nil only
// when a step failed fatally or the context was cancelled; failures of other
// steps are reported in the summary.
func (p *Pipeline) Run(ctx context.Context, trigger string) (*Summary, error) {
	sum := &Summary{Trigger: trigger, Status: StatusSucceeded, StartedAt: time.Now().UTC()}

	if p.runs != nil {
		run, err := p.runs.StartRun(ctx, trigger)
		if err != nil {
			p.logger.Error("Failed to record run start", zap.Error(err))
		} else {
			sum.RunID = run.ID
		}
	}

	log := p.logger.With(zap.String("run_id", sum.RunID), zap.String("trigger", trigger))
	log.Info("Pipeline run started", zap.Int("stages", len(p.steps)))

	var runErr error
	for _, step := range p.steps {
		if step.Disabled {
			sum.Stages = append(sum.Stages, StageResult{Name: step.Name, Status: StatusSkipped})
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		res := p.runStep(ctx, step, log)
		sum.Stages = append(sum.Stages, res)

		var fatal *FatalError
		if errors.As(res.Err, &fatal) {
			runErr = fmt.Errorf("stage %s: %w", step.Name, res.Err)
			break
		}
	}

	sum.Duration = time.Since(sum.StartedAt)
	if runErr != nil || len(sum.Failed()) > 0 {
		sum.Status = StatusFailed
	}

	p.finish(ctx, sum, log)
	return sum, runErr
}

func (p *Pipeline) runStep(ctx context.Context, step Step, log *zap.Logger) StageResult {
	log.Info("Stage started", zap.String("stage", step.Name))

	start := time.Now()
	detail, err := step.Run(ctx)
	res := StageResult{Name: step.Name, Status: StatusSucceeded, Detail: detail, Duration: time.Since(start)}
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		res.Error = err.Error()
		log.Error("Stage failed", zap.String("stage", step.Name), zap.Duration("duration", res.Duration), zap.Error(err))
	} else {
		log.Info("Stage finished", zap.String("stage", step.Name), zap.Duration("duration", res.Duration), zap.String("detail", detail))
	}

	p.metrics.ObserveStage(step.Name, res.Status, res.Duration)
	return res
}

// finish records and announces the run. It uses a fresh context so a
// cancelled run is still recorded.
func (p *Pipeline) finish(ctx context.Context, sum *Summary, log *zap.Logger) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if p.runs != nil && sum.RunID != "" {
		data, err := json.Marshal(sum)
		if err != nil {
			log.Error("Failed to encode run summary", zap.Error(err))
		} else if err := p.runs.FinishRun(fctx, sum.RunID, runStatus(sum.Status), string(data)); err != nil {
			log.Error("Failed to record run result", zap.Error(err))
		}
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(fctx, sum.Text()); err != nil {
			log.Warn("Failed to send run notification", zap.Error(err))
		}
	}

	log.Info("Pipeline run finished",
		zap.String("status", sum.Status),
		zap.Strings("failed_stages", sum.Failed()),
		zap.Duration("duration", sum.Duration))
}

func runStatus(status string) string {
	if status == StatusSucceeded {
		return state.RunSucceeded
	}
	return state.RunFailed
}
