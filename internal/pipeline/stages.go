package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/detection"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/enrichment"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/explain"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/extractor"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/lake"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/metrics"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/state"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/telegram"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/transform"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/warehouse"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/webpreview"
)

// Stages wires every stage to its real collaborators. Each method can run on
// its own, which is what the single-stage commands do.
type Stages struct {
	cfg     *config.Config
	state   *state.Store
	codes   telegram.CodeProvider
	metrics *metrics.Metrics
	logger  *zap.Logger

	// ExtractOptions bound the extract stage.
	ExtractOptions extractor.Options

	mu        sync.Mutex
	warehouse *warehouse.Store
}

// NewStages creates the stage set. st may be nil, in which case extraction
// keeps no checkpoints. codes is only used by the MTProto source.
func NewStages(cfg *config.Config, st *state.Store, codes telegram.CodeProvider, m *metrics.Metrics, logger *zap.Logger) (*Stages, error) {
	opts, err := extractor.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Stages{cfg: cfg, state: st, codes: codes, metrics: m, logger: logger, ExtractOptions: opts}, nil
}

// Steps lists the stages in run order.
func (s *Stages) Steps() []Step {
	return []Step{
		{Name: StageExtract, Run: s.Extract},
		{Name: StageLoad, Run: s.Load},
		{Name: StageEnrich, Run: s.Enrich, Disabled: !s.cfg.Enrich.Enabled},
		{Name: StageDetect, Run: s.Detect},
		{Name: StageLoadDetections, Run: s.LoadDetections},
		{Name: StageTransform, Run: s.Transform},
		{Name: StageExplain, Run: s.Explain, Disabled: !s.cfg.Explain.Enabled},
	}
}

// Close releases the shared warehouse connection.
func (s *Stages) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warehouse == nil {
		return nil
	}
	err := s.warehouse.Close()
	s.warehouse = nil
	return err
}

func (s *Stages) store(ctx context.Context) (*warehouse.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warehouse != nil {
		return s.warehouse, nil
	}
	st, err := warehouse.Connect(ctx, s.cfg, s.logger.Named("warehouse"))
	if err != nil {
		return nil, err
	}
	s.warehouse = st
	return st, nil
}

func (s *Stages) Extract(ctx context.Context) (string, error) {
	channels := s.cfg.Extract.Channels
	if len(channels) == 0 {
		return "", errors.New("no channels configured")
	}

	var checkpoints extractor.Checkpointer
	if s.state != nil {
		checkpoints = s.state
	}
	logger := s.logger.Named("extractor")

	var results []*extractor.Result
	scrape := func(ctx context.Context, src extractor.Source) error {
		ex := extractor.NewExtractor(s.cfg, src, lake.NewWriter(), checkpoints, s.metrics, logger)
		results = ex.Run(ctx, channels, s.ExtractOptions)
		return nil
	}

	switch s.cfg.Telegram.Source {
	case config.SourceWeb:
		if err := scrape(ctx, webpreview.NewSource(s.cfg.Telegram.WebBaseURL, s.logger.Named("webpreview"))); err != nil {
			return "", err
		}
	default:
		client := telegram.NewClient(&s.cfg.Telegram, s.codes, s.logger)
		if err := client.Run(ctx, func(ctx context.Context) error { return scrape(ctx, client) }); err != nil {
			return "", fmt.Errorf("telegram session failed: %w", err)
		}
	}

	s.archive(ctx, results)

	var total int
	var failed []string
	for _, r := range results {
		total += len(r.Messages)
		if r.Err != nil {
			failed = append(failed, r.Channel)
		}
	}
	detail := fmt.Sprintf("%d messages from %d channels", total, len(results)-len(failed))
	if len(failed) > 0 {
		return detail, fmt.Errorf("%d of %d channels failed: %s", len(failed), len(results), strings.Join(failed, ", "))
	}
	return detail, nil
}

// archive mirrors the files written by this extraction into object storage
// when enabled. Failures are logged only.
func (s *Stages) archive(ctx context.Context, results []*extractor.Result) {
	if !s.cfg.Lake.Archive.Enabled {
		return
	}
	logger := s.logger.Named("archive")
	a, err := lake.NewArchiver(ctx, s.cfg, logger)
	if err != nil {
		logger.Error("Lake archive unavailable", zap.Error(err))
		return
	}

	for _, r := range results {
		if r.LakeFile != "" {
			if err := a.ArchiveFile(ctx, r.LakeFile); err != nil {
				logger.Error("Failed to archive lake file", zap.String("path", r.LakeFile), zap.Error(err))
			}
		}
		if r.Channel == "" {
			continue
		}
		uploaded, failed, err := a.ArchiveTree(ctx, s.cfg.ImagesDir(r.Channel))
		if err != nil {
			logger.Error("Failed to archive images", zap.String("channel", r.Channel), zap.Error(err))
			continue
		}
		logger.Info("Archived channel images", zap.String("channel", r.Channel), zap.Int("uploaded", uploaded), zap.Int("failed", failed))
	}
}

func (s *Stages) Load(ctx context.Context) (string, error) {
	st, err := s.store(ctx)
	if err != nil {
		return "", err
	}
	logger := s.logger.Named("loader")
	reader := lake.NewReader(logger)

	report, err := warehouse.NewMessageLoader(s.cfg, st, reader, s.metrics, logger).RunPipeline(ctx, s.cfg.MessagesDir())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d rows from %d files, %d files rejected", report.Loaded, report.Files, len(report.RejectedFiles)), nil
}

func (s *Stages) Enrich(ctx context.Context) (string, error) {
	logger := s.logger.Named("enrichment")
	processor, closeClients, err := enrichment.NewProcessorFromConfig(ctx, &s.cfg.Enrich, logger)
	if err != nil {
		return "", err
	}
	defer closeClients()

	st, err := s.store(ctx)
	if err != nil {
		return "", err
	}

	report, err := enrichment.NewStage(s.cfg, lake.NewReader(logger), processor, st, s.metrics, logger).Run(ctx, s.cfg.MessagesDir())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d rows enriched, %d degraded, %d empty dropped", report.Loaded, report.Degraded, report.DroppedEmpty), nil
}

func (s *Stages) Detect(ctx context.Context) (string, error) {
	if s.cfg.Detect.Endpoint == "" {
		return "", errors.New("detect.endpoint is not configured")
	}
	logger := s.logger.Named("detection")
	runner := detection.NewRunner(detection.NewHTTPDetector(s.cfg.Detect.Endpoint, s.cfg.Detect.InputSize, logger), logger)

	records, err := runner.Run(ctx, s.cfg.ImagesRoot())
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		logger.Warn("No detection data to save")
		return "no images", nil
	}
	if err := detection.WriteCSV(s.cfg.Detect.OutputCSV, records); err != nil {
		return "", err
	}
	logger.Info("Detection results saved", zap.String("path", s.cfg.Detect.OutputCSV), zap.Int("images", len(records)))
	return fmt.Sprintf("%d images", len(records)), nil
}

func (s *Stages) LoadDetections(ctx context.Context) (string, error) {
	st, err := s.store(ctx)
	if err != nil {
		return "", err
	}
	report, err := warehouse.NewDetectionLoader(s.cfg, st, s.metrics, s.logger.Named("loader")).Load(ctx, s.cfg.Detect.OutputCSV)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d rows, %d rejected", report.Loaded, len(report.RejectedRows)), nil
}

func (s *Stages) Transform(ctx context.Context) (string, error) {
	res := transform.NewRunner(s.cfg.Transform, s.logger.Named("transform")).Run(ctx)
	if !res.OK {
		return "", fmt.Errorf("transformation failed (exit code %d): %w", res.ExitCode, res.Err)
	}
	return fmt.Sprintf("finished in %s", res.Duration.Round(time.Second)), nil
}

func (s *Stages) Explain(ctx context.Context) (string, error) {
	report, err := explain.NewReporter(s.cfg.Explain, s.logger.Named("explain")).Run(ctx)
	if err != nil {
		if errors.Is(err, explain.ErrClassIndexOutOfRange) {
			return "", Fatal(err)
		}
		return "", err
	}
	return fmt.Sprintf("%d rows explained", report.Rows), nil
}
