package detection

import (
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
)

// Runner scans the image tree and summarizes detections per image.
type Runner struct {
	detector Detector
	logger   *zap.Logger
}

func NewRunner(detector Detector, logger *zap.Logger) *Runner {
	return &Runner{detector: detector, logger: logger}
}

// Run walks imagesDir for *.jpg files. Files whose base name is not a message
// id are skipped, as are images the detector fails on.
func (r *Runner) Run(ctx context.Context, imagesDir string) ([]models.Detection, error) {
	var paths []string
	err := filepath.WalkDir(imagesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".jpg") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to scan images: %w", err)
	}
	if len(paths) == 0 {
		r.logger.Warn("No images found", zap.String("dir", imagesDir))
		return nil, nil
	}

	r.logger.Info("Starting detection", zap.Int("images", len(paths)))

	out := make([]models.Detection, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id, ok := messageIDFromPath(p)
		if !ok {
			r.logger.Debug("Skipping image without message id", zap.String("path", p))
			continue
		}

		boxes, err := r.detector.Detect(ctx, p)
		if err != nil {
			r.logger.Error("Detection failed", zap.String("path", p), zap.Error(err))
			continue
		}
		out = append(out, summarize(id, p, boxes))
	}
	return out, nil
}

func messageIDFromPath(p string) (int64, bool) {
	base := filepath.Base(p)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	id, err := strconv.ParseInt(base, 10, 64)
	return id, err == nil
}

func summarize(id int64, path string, boxes []Box) models.Detection {
	d := models.Detection{
		MessageID:       id,
		DetectedObjects: "none",
		ImagePath:       path,
	}
	if len(boxes) == 0 {
		d.ImageCategory = Classify(nil)
		return d
	}

	labels := make([]string, len(boxes))
	best := boxes[0].Confidence
	for i, b := range boxes {
		labels[i] = b.Label
		best = max(best, b.Confidence)
	}
	d.DetectedObjects = strings.Join(labels, ", ")
	d.ConfidenceScore = math.Round(best*1e4) / 1e4
	d.ImageCategory = Classify(labels)
	return d
}

// WriteCSV writes records with the detection CSV header.
func WriteCSV(path string, records []models.Detection) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(models.DetectionCSVHeader); err != nil {
		return err
	}
	for _, d := range records {
		if err := w.Write([]string{
			strconv.FormatInt(d.MessageID, 10),
			d.DetectedObjects,
			strconv.FormatFloat(d.ConfidenceScore, 'f', -1, 64),
			d.ImageCategory,
			d.ImagePath,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write detections: %w", err)
	}
	return f.Close()
}
