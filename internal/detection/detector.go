package detection

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Box is one detected object.
type Box struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Detector finds objects in an image file.
type Detector interface {
	Detect(ctx context.Context, imagePath string) ([]Box, error)
}

// HTTPDetector posts images to a YOLO inference server that answers with a
// JSON array of boxes.
type HTTPDetector struct {
	client    *resty.Client
	endpoint  string
	inputSize int
	logger    *zap.Logger
}

func NewHTTPDetector(endpoint string, inputSize int, logger *zap.Logger) *HTTPDetector {
	client := resty.New().
		SetTimeout(60 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &HTTPDetector{client: client, endpoint: endpoint, inputSize: inputSize, logger: logger}
}

func (d *HTTPDetector) Detect(ctx context.Context, imagePath string) ([]Box, error) {
	body, err := d.prepare(imagePath)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(body).
		Post(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode(), resp.String())
	}

	var boxes []Box
	if err := json.Unmarshal(resp.Body(), &boxes); err != nil {
		return nil, fmt.Errorf("failed to decode detections: %w", err)
	}
	return boxes, nil
}

// prepare decodes the image, honoring EXIF orientation, and fits it into the
// model input square.
func (d *HTTPDetector) prepare(imagePath string) ([]byte, error) {
	img, err := imaging.Open(imagePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	if d.inputSize > 0 {
		img = imaging.Fit(img, d.inputSize, d.inputSize, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
