package warehouse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/metrics"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
)

// ErrInvalidMessageID marks an id that is not an integer.
var ErrInvalidMessageID = errors.New("invalid message_id")

// RejectedRow is a detection row dropped before upload.
type RejectedRow struct {
	Line  int
	Value string
	Err   error
}

// DetectionBatch is a parsed detection CSV.
type DetectionBatch struct {
	Accepted []models.Detection
	Rejected []RejectedRow
}

// CoerceMessageID accepts integers, with or without surrounding spaces, and
// numeric floats, which are truncated toward zero ("102.0" and "102.5" are
// both 102).
func CoerceMessageID(v string) (int64, error) {
	s := strings.TrimSpace(v)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) ||
		f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMessageID, v)
	}
	return int64(math.Trunc(f)), nil
}

// CoerceMessageIDs keeps the values that are integers, in their original
// order, and reports the rest. Line numbers are 1-based positions.
func CoerceMessageIDs(values []string) ([]int64, []RejectedRow) {
	var ids []int64
	var rejected []RejectedRow
	for i, v := range values {
		id, err := CoerceMessageID(v)
		if err != nil {
			rejected = append(rejected, RejectedRow{Line: i + 1, Value: v, Err: err})
			continue
		}
		ids = append(ids, id)
	}
	return ids, rejected
}

// ReadDetectionsCSV parses a detection CSV. Rows whose message_id or
// confidence_score cannot be parsed are rejected; the rest keep their order.
func ReadDetectionsCSV(path string) (*DetectionBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	if _, ok := col["message_id"]; !ok {
		return nil, errors.New("detection CSV has no message_id column")
	}

	batch := &DetectionBatch{}
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		get := func(name string) string {
			if i, ok := col[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}

		raw := get("message_id")
		id, err := CoerceMessageID(raw)
		if err != nil {
			batch.Rejected = append(batch.Rejected, RejectedRow{Line: line, Value: raw, Err: err})
			continue
		}

		var conf float64
		if s := strings.TrimSpace(get("confidence_score")); s != "" {
			if conf, err = strconv.ParseFloat(s, 64); err != nil {
				batch.Rejected = append(batch.Rejected, RejectedRow{Line: line, Value: s, Err: fmt.Errorf("invalid confidence_score: %w", err)})
				continue
			}
		}

		batch.Accepted = append(batch.Accepted, models.Detection{
			MessageID:       id,
			DetectedObjects: get("detected_objects"),
			ConfidenceScore: conf,
			ImageCategory:   get("image_category"),
			ImagePath:       get("image_path"),
		})
	}
	return batch, nil
}

// DetectionStore replaces the detection table.
type DetectionStore interface {
	ReplaceDetections(ctx context.Context, schema, table string, rows []models.Detection) (int, error)
}

// DetectionLoader uploads the detection CSV as a full refresh.
type DetectionLoader struct {
	cfg     *config.Config
	store   DetectionStore
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewDetectionLoader(cfg *config.Config, store DetectionStore, m *metrics.Metrics, logger *zap.Logger) *DetectionLoader {
	return &DetectionLoader{cfg: cfg, store: store, metrics: m, logger: logger}
}

// Load replaces the detection table with the content of csvPath.
func (l *DetectionLoader) Load(ctx context.Context, csvPath string) (*LoadReport, error) {
	schema, table := l.cfg.Warehouse.ProcessedSchema, l.cfg.Warehouse.DetectionsTable
	report := &LoadReport{Table: schema + "." + table, Files: 1}

	batch, err := ReadDetectionsCSV(csvPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Error("Detection CSV not found, run detection first", zap.String("path", csvPath))
		}
		return nil, fmt.Errorf("failed to read detections: %w", err)
	}

	report.RejectedRows = batch.Rejected
	for _, r := range batch.Rejected {
		l.logger.Warn("Dropping detection row", zap.Int("line", r.Line), zap.String("value", r.Value), zap.Error(r.Err))
	}
	l.metrics.AddRowsRejected(report.Table, len(batch.Rejected))

	n, err := l.store.ReplaceDetections(ctx, schema, table, batch.Accepted)
	if err != nil {
		return nil, fmt.Errorf("failed to upload detections: %w", err)
	}
	report.Loaded = n
	l.metrics.AddRowsLoaded(report.Table, n)

	l.logger.Info("Loaded detections into warehouse",
		zap.String("table", report.Table),
		zap.Int("rows", n),
		zap.Int("rejected_rows", len(batch.Rejected)))
	return report, nil
}
