package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/api"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/notify"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/pipeline"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/scheduler"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/telegram"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/warehouse"
)

func terminalCodes() telegram.CodeProvider {
	return telegram.TerminalPrompt{In: os.Stdin, Out: os.Stderr}
}

// runSteps runs the named steps through the pipeline so that single-stage
// commands are recorded in the run history like full runs.
func (a *app) runSteps(ctx context.Context, stages *pipeline.Stages, trigger string, names ...string) error {
	defer stages.Close()

	var steps []pipeline.Step
	for _, st := range stages.Steps() {
		for _, n := range names {
			if st.Name == n {
				st.Disabled = false
				steps = append(steps, st)
			}
		}
	}

	sum, err := pipeline.New(steps, a.state, nil, a.metrics, a.logger).Run(ctx, trigger)
	if err != nil {
		return err
	}
	if failed := sum.Failed(); len(failed) > 0 {
		return fmt.Errorf("stage failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func extractCommand(a *app) *cobra.Command {
	var (
		resume   bool
		limit    int
		cutoff   string
		channels []string
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Scrape configured channels into the data lake",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(config.Needs{Telegram: true}); err != nil {
				return err
			}
			if len(channels) > 0 {
				a.cfg.Extract.Channels = channels
			}

			stages, err := pipeline.NewStages(a.cfg, a.state, terminalCodes(), a.metrics, a.logger)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("limit") {
				stages.ExtractOptions.Limit = limit
			}
			if cutoff != "" {
				t, err := config.ParseCutoff(cutoff)
				if err != nil {
					return err
				}
				stages.ExtractOptions.Cutoff = t
			}
			stages.ExtractOptions.Resume = resume

			return a.runSteps(cmd.Context(), stages, "cli", pipeline.StageExtract)
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "Only fetch messages newer than the last checkpoint of each channel")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of messages per channel (0 means no limit)")
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "Stop at messages older than this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Channel to scrape, repeatable (overrides the configuration)")
	return cmd
}

func stageCommand(a *app, name, short string, needs config.Needs) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(needs); err != nil {
				return err
			}
			stages, err := pipeline.NewStages(a.cfg, a.state, nil, a.metrics, a.logger)
			if err != nil {
				return err
			}
			return a.runSteps(cmd.Context(), stages, "cli", name)
		},
	}
}

func (a *app) newPipeline(codes telegram.CodeProvider) (*pipeline.Pipeline, *pipeline.Stages, error) {
	stages, err := pipeline.NewStages(a.cfg, a.state, codes, a.metrics, a.logger)
	if err != nil {
		return nil, nil, err
	}
	bot, err := notify.NewBot(a.cfg.Notify, a.logger.Named("notify"))
	if err != nil {
		a.logger.Warn("Run notifications unavailable", zap.Error(err))
	}
	var notifier pipeline.Notifier
	if bot != nil {
		notifier = bot
	}
	return pipeline.New(stages.Steps(), a.state, notifier, a.metrics, a.logger), stages, nil
}

func runCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every stage in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(config.Needs{Telegram: true, Database: true}); err != nil {
				return err
			}
			p, stages, err := a.newPipeline(terminalCodes())
			if err != nil {
				return err
			}
			defer stages.Close()

			sum, err := p.Run(cmd.Context(), "manual")
			if err != nil {
				return err
			}
			fmt.Println(sum.Text())
			return nil
		},
	}
}

func serveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on its cron schedule and serve the operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(config.Needs{Telegram: true, Database: true}); err != nil {
				return err
			}
			ctx := cmd.Context()

			codes := telegram.NewAuthCodes()
			p, stages, err := a.newPipeline(codes)
			if err != nil {
				return err
			}
			defer stages.Close()

			sched, err := scheduler.New(a.cfg.Schedule.Spec, func(ctx context.Context, trigger string) error {
				_, err := p.Run(ctx, trigger)
				return err
			}, a.logger.Named("scheduler"))
			if err != nil {
				return err
			}

			srv := api.NewServer(api.Options{
				JWTSecret:  a.cfg.Server.JWTSecret,
				Codes:      codes,
				Runs:       a.state,
				Gatherer:   a.metrics.Registry(),
				ResultsDir: a.cfg.Explain.OutputDir,
			}, a.logger.Named("api"))

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(a.cfg.Server.Port)
			}()

			sched.Start(ctx)

			select {
			case <-ctx.Done():
			case err = <-errCh:
				a.logger.Error("API server failed", zap.Error(err))
			}

			sched.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				a.logger.Warn("API server shutdown failed", zap.Error(serr))
			}
			a.logger.Info("Application stopped")
			return err
		},
	}
}

func migrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the warehouse schema",
	}

	withMigrator := func(fn func(m *warehouse.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if err := a.setup(needsDB); err != nil {
				return err
			}
			if err := warehouse.EnsureDatabase(cmd.Context(), a.cfg, a.logger); err != nil {
				return err
			}
			m, err := warehouse.NewMigrator(a.cfg.DatabaseURL(), a.logger.Named("migrate"))
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  withMigrator(func(m *warehouse.Migrator) error { return m.Up() }),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			RunE:  withMigrator(func(m *warehouse.Migrator) error { return m.Down() }),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withMigrator(func(m *warehouse.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Printf("version %d (dirty: %t)\n", v, dirty)
				return nil
			}),
		},
	)
	return cmd
}

func runsCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(config.Needs{}); err != nil {
				return err
			}
			runs, err := a.state.LastRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return errors.New("no runs recorded yet")
			}
			for _, r := range runs {
				finished := "-"
				if !r.FinishedAt.IsZero() {
					finished = r.FinishedAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-9s  %-8s  %s  %s\n", r.ID, r.Status, r.Trigger, r.StartedAt.Format(time.RFC3339), finished)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	return cmd
}
