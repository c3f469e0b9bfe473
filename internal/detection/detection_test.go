package detection

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/warehouse"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"person with bottle", []string{"person", "bottle"}, models.CategoryPromotional},
		{"person with vase", []string{"vase", "chair", "person"}, models.CategoryPromotional},
		{"bottle only", []string{"bottle", "bottle"}, models.CategoryProductDisplay},
		{"cup only", []string{"cup"}, models.CategoryProductDisplay},
		{"bowl and dog", []string{"bowl", "dog"}, models.CategoryProductDisplay},
		{"person only", []string{"person"}, models.CategoryLifestyle},
		{"unrelated", []string{"car", "dog"}, models.CategoryOther},
		{"nothing", nil, models.CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.labels))
		})
	}
}

type fakeDetector struct {
	boxes map[string][]Box
	fail  map[string]bool
	seen  []string
}

func (f *fakeDetector) Detect(_ context.Context, p string) ([]Box, error) {
	f.seen = append(f.seen, filepath.Base(p))
	if f.fail[filepath.Base(p)] {
		return nil, errors.New("inference failed")
	}
	return f.boxes[filepath.Base(p)], nil
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("jpg"), 0o644))
}

func TestRunner_Run(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "CheMed123", "10.jpg"))
	touch(t, filepath.Join(root, "CheMed123", "11.jpg"))
	touch(t, filepath.Join(root, "lobelia4cosmetics", "12.jpg"))
	touch(t, filepath.Join(root, "lobelia4cosmetics", "avatar.jpg"))
	touch(t, filepath.Join(root, "lobelia4cosmetics", "13.png"))
	touch(t, filepath.Join(root, "lobelia4cosmetics", "14.jpg"))

	det := &fakeDetector{
		boxes: map[string][]Box{
			"10.jpg": {{Label: "person", Confidence: 0.51234}, {Label: "bottle", Confidence: 0.876549}},
			"12.jpg": {{Label: "cup", Confidence: 0.4}},
		},
		fail: map[string]bool{"14.jpg": true},
	}

	got, err := NewRunner(det, zap.NewNop()).Run(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.NotContains(t, det.seen, "avatar.jpg")
	assert.NotContains(t, det.seen, "13.png")

	byID := map[int64]models.Detection{}
	for _, d := range got {
		byID[d.MessageID] = d
	}

	assert.Equal(t, "person, bottle", byID[10].DetectedObjects)
	assert.Equal(t, 0.8765, byID[10].ConfidenceScore)
	assert.Equal(t, models.CategoryPromotional, byID[10].ImageCategory)
	assert.Equal(t, filepath.Join(root, "CheMed123", "10.jpg"), byID[10].ImagePath)

	assert.Equal(t, "none", byID[11].DetectedObjects)
	assert.Zero(t, byID[11].ConfidenceScore)
	assert.Equal(t, models.CategoryOther, byID[11].ImageCategory)

	assert.Equal(t, models.CategoryProductDisplay, byID[12].ImageCategory)
}

func TestRunner_Run_NoImages(t *testing.T) {
	r := NewRunner(&fakeDetector{}, zap.NewNop())

	got, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWriteCSV_ReadableByLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "image_detections.csv")
	records := []models.Detection{
		{MessageID: 10, DetectedObjects: "person, bottle", ConfidenceScore: 0.8765, ImageCategory: models.CategoryPromotional, ImagePath: "/data/raw/images/a/10.jpg"},
		{MessageID: 11, DetectedObjects: "none", ImageCategory: models.CategoryOther, ImagePath: "/data/raw/images/a/11.jpg"},
	}
	require.NoError(t, WriteCSV(path, records))

	batch, err := warehouse.ReadDetectionsCSV(path)
	require.NoError(t, err)
	assert.Empty(t, batch.Rejected)
	assert.Equal(t, records, batch.Accepted)
}

func TestHTTPDetector_Detect(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1280, 640))
	for x := 0; x < 1280; x++ {
		src.Set(x, x%640, color.RGBA{R: 200, A: 255})
	}
	imgPath := filepath.Join(t.TempDir(), "42.jpg")
	require.NoError(t, imaging.Save(src, imgPath))

	d := NewHTTPDetector("http://yolo.local/predict", 320, zap.NewNop())
	httpmock.ActivateNonDefault(d.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	var gotBounds image.Rectangle
	httpmock.RegisterResponder(http.MethodPost, "http://yolo.local/predict",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "image/jpeg", req.Header.Get("Content-Type"))
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			img, err := jpeg.Decode(bytes.NewReader(body))
			require.NoError(t, err)
			gotBounds = img.Bounds()
			return httpmock.NewStringResponse(http.StatusOK, `[{"label":"person","confidence":0.91},{"label":"bottle","confidence":0.42}]`), nil
		})

	boxes, err := d.Detect(context.Background(), imgPath)
	require.NoError(t, err)
	assert.Equal(t, []Box{{Label: "person", Confidence: 0.91}, {Label: "bottle", Confidence: 0.42}}, boxes)
	assert.Equal(t, 320, gotBounds.Dx())
	assert.Equal(t, 160, gotBounds.Dy())
}

func TestHTTPDetector_ServerError(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "1.jpg")
	require.NoError(t, imaging.Save(image.NewRGBA(image.Rect(0, 0, 8, 8)), imgPath))

	d := NewHTTPDetector("http://yolo.local/predict", 640, zap.NewNop())
	httpmock.ActivateNonDefault(d.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder(http.MethodPost, "http://yolo.local/predict",
		httpmock.NewStringResponder(http.StatusBadRequest, "bad image"))

	_, err := d.Detect(context.Background(), imgPath)
	require.Error(t, err)
}

func TestHTTPDetector_UnreadableImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2.jpg")
	touch(t, path)

	_, err := NewHTTPDetector("http://yolo.local/predict", 640, zap.NewNop()).Detect(context.Background(), path)
	require.Error(t, err)
}
