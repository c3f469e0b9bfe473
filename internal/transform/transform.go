// Package transform triggers the dbt models that build the processed layer.
package transform

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
)

// Result describes one invocation. ExitCode is -1 when the process never
// started or was killed.
type Result struct {
	OK       bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

type Runner struct {
	cfg    config.TransformConfig
	logger *zap.Logger
}

func NewRunner(cfg config.TransformConfig, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// Run executes the configured command in its project directory. Failures are
// logged and reported in the Result; they are never fatal to the caller.
func (r *Runner) Run(ctx context.Context) Result {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.cfg.Command, r.cfg.Args...)
	cmd.Dir = r.cfg.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmdline := strings.Join(append([]string{r.cfg.Command}, r.cfg.Args...), " ")
	r.logger.Info("Running transformation", zap.String("command", cmdline), zap.String("dir", r.cfg.Dir))

	start := time.Now()
	err := cmd.Run()
	res := Result{
		ExitCode: -1,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
		Err:      err,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.OK = true
		r.logger.Info("Transformation finished", zap.Duration("duration", res.Duration))
	case errors.As(err, &exitErr):
		r.logger.Error("Transformation failed",
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", strings.TrimSpace(res.Stderr)),
			zap.Error(err))
	default:
		r.logger.Error("Could not start transformation", zap.String("command", r.cfg.Command), zap.Error(err))
	}
	return res
}
