package enrichment

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/lake"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/metrics"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
)

// Store is the warehouse side of the enrichment stage.
type Store interface {
	EnsureSchema(ctx context.Context, schema string) error
	EnsureEnrichedTable(ctx context.Context, schema, table string) error
	AppendEnriched(ctx context.Context, schema, table string, msgs []models.EnrichedMessage) (int, error)
}

type lakeReader interface {
	Read(root string) (*lake.ReadResult, error)
}

// Report summarizes one enrichment run.
type Report struct {
	Read          int
	DroppedEmpty  int
	Degraded      int
	Loaded        int
	RejectedFiles []lake.Rejected
}

// Stage reads the lake, enriches every non-empty message and appends the
// result.
type Stage struct {
	cfg       *config.Config
	reader    lakeReader
	processor *Processor
	store     Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewStage(cfg *config.Config, reader lakeReader, processor *Processor, store Store, m *metrics.Metrics, logger *zap.Logger) *Stage {
	return &Stage{cfg: cfg, reader: reader, processor: processor, store: store, metrics: m, logger: logger}
}

func (s *Stage) Run(ctx context.Context, dir string) (*Report, error) {
	res, err := s.reader.Read(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lake: %w", err)
	}
	report := &Report{Read: len(res.Records), RejectedFiles: res.Rejected}

	out := make([]models.EnrichedMessage, 0, len(res.Records))
	for _, m := range res.Records {
		if strings.TrimSpace(m.MessageText) == "" {
			report.DroppedEmpty++
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c := s.processor.Process(ctx, m.MessageText)
		if c.Degraded {
			report.Degraded++
		}
		out = append(out, Remap(m, c))
	}

	if len(out) == 0 {
		s.logger.Warn("No messages to enrich", zap.String("dir", dir), zap.Int("dropped_empty", report.DroppedEmpty))
		return report, nil
	}

	schema, table := s.cfg.Warehouse.RawSchema, s.cfg.Warehouse.EnrichedTable
	if err := s.store.EnsureSchema(ctx, schema); err != nil {
		return nil, err
	}
	if err := s.store.EnsureEnrichedTable(ctx, schema, table); err != nil {
		return nil, err
	}
	n, err := s.store.AppendEnriched(ctx, schema, table, out)
	if err != nil {
		return nil, fmt.Errorf("failed to upload enriched messages: %w", err)
	}
	report.Loaded = n
	s.metrics.AddRowsLoaded(schema+"."+table, n)

	s.logger.Info("Enrichment complete",
		zap.Int("read", report.Read),
		zap.Int("dropped_empty", report.DroppedEmpty),
		zap.Int("degraded", report.Degraded),
		zap.Int("loaded", n))
	return report, nil
}

// Remap renames the message columns to the vocabulary of the dbt models and
// attaches the classification.
func Remap(m models.Message, c Classification) models.EnrichedMessage {
	return models.EnrichedMessage{
		MessageID:       m.MessageID,
		ChannelKey:      m.ChannelName,
		MessageText:     m.MessageText,
		ViewCount:       m.Views,
		Forwards:        m.Forwards,
		MessageDate:     m.MessageDate,
		HasImage:        m.HasMedia,
		ImagePath:       m.ImagePath,
		ContentCategory: c.Category,
		ToneLabel:       c.Tone,
		TranslatedText:  c.Translated,
		FinalCategory:   FinalCategory(c.Tone, c.Category),
	}
}
