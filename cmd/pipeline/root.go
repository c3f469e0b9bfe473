package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/metrics"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/state"
)

// app carries what every command needs once the configuration is loaded.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	state      *state.Store
}

func rootCommand() *cobra.Command {
	root, _ := newCLI()
	return root
}

// execute runs the command line and releases the state store and logger
// whether or not the command failed.
func execute(ctx context.Context, root *cobra.Command, a *app) error {
	defer a.close()
	return root.ExecuteContext(ctx)
}

func newCLI() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Medical Telegram channel ELT pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "configs/config.yml", "Path to the YAML configuration")

	root.AddCommand(
		extractCommand(a),
		stageCommand(a, "load", "Load lake files into the raw warehouse layer", needsDB),
		stageCommand(a, "enrich", "Translate, classify and score lake messages into the warehouse", needsDB),
		stageCommand(a, "detect", "Run object detection over downloaded images", config.Needs{}),
		stageCommand(a, "load-detections", "Replace the image detection table from the detection CSV", needsDB),
		stageCommand(a, "transform", "Run the dbt models", config.Needs{}),
		stageCommand(a, "explain", "Write explainability plots for the image classifier", config.Needs{}),
		runCommand(a),
		serveCommand(a),
		migrateCommand(a),
		runsCommand(a),
	)
	return root, a
}

var needsDB = config.Needs{Database: true}

// setup loads the configuration, validates what the command needs and opens
// the shared logger, metrics and state store.
func (a *app) setup(needs config.Needs) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(needs); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	a.logger = logger

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.metrics = m

	st, err := state.Open(cfg.State.Path, logger.Named("state"))
	if err != nil {
		return err
	}
	a.state = st
	return nil
}

func (a *app) close() {
	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.logger.Warn("Failed to close state store", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// newLogger builds a development (console) or production (JSON) logger.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
