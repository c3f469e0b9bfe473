package warehouse

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/lake"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/metrics"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
)

// MessageStore is the part of the warehouse the message loader writes to.
type MessageStore interface {
	EnsureSchema(ctx context.Context, schema string) error
	EnsureMessagesTable(ctx context.Context, schema, table string) error
	AppendMessages(ctx context.Context, schema, table string, msgs []models.Message) (int, error)
}

// LakeReader reads every record below a lake directory.
type LakeReader interface {
	Read(root string) (*lake.ReadResult, error)
}

// LoadReport describes one upload.
type LoadReport struct {
	Table         string
	Files         int
	Loaded        int
	RejectedFiles []lake.Rejected
	RejectedRows  []RejectedRow
}

// MessageLoader moves lake records into the raw messages table.
type MessageLoader struct {
	cfg     *config.Config
	store   MessageStore
	reader  LakeReader
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewMessageLoader(cfg *config.Config, store MessageStore, reader LakeReader, m *metrics.Metrics, logger *zap.Logger) *MessageLoader {
	return &MessageLoader{cfg: cfg, store: store, reader: reader, metrics: m, logger: logger}
}

// RunPipeline reads dir and appends every record. With no records the store
// is not touched at all: no schema or table is created.
//
// Rows are appended, so loading the same files twice duplicates them.
func (l *MessageLoader) RunPipeline(ctx context.Context, dir string) (*LoadReport, error) {
	schema, table := l.cfg.Warehouse.RawSchema, l.cfg.Warehouse.MessagesTable
	report := &LoadReport{Table: schema + "." + table}

	res, err := l.reader.Read(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read lake: %w", err)
	}
	report.Files = len(res.Files)
	report.RejectedFiles = res.Rejected
	l.metrics.AddLakeRejected(len(res.Rejected))

	if len(res.Records) == 0 {
		l.logger.Warn("No data found to load", zap.String("dir", dir))
		return report, nil
	}

	if err := l.store.EnsureSchema(ctx, schema); err != nil {
		return nil, err
	}
	if err := l.store.EnsureMessagesTable(ctx, schema, table); err != nil {
		return nil, err
	}

	n, err := l.store.AppendMessages(ctx, schema, table, res.Records)
	if err != nil {
		return nil, fmt.Errorf("failed to upload messages: %w", err)
	}
	report.Loaded = n
	l.metrics.AddRowsLoaded(report.Table, n)

	l.logger.Info("Loaded messages into warehouse",
		zap.String("table", report.Table),
		zap.Int("rows", n),
		zap.Int("files", report.Files),
		zap.Int("rejected_files", len(report.RejectedFiles)))
	return report, nil
}
