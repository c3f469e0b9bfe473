package models

// Image categories derived from the detected object labels.
const (
	CategoryPromotional    = "promotional"
	CategoryProductDisplay = "product_display"
	CategoryLifestyle      = "lifestyle"
	CategoryOther          = "other"
)

// Detection is the per-image object detection summary uploaded to the
// processed layer. ConfidenceScore is the maximum over all boxes.
type Detection struct {
	MessageID       int64   `db:"message_id"`
	DetectedObjects string  `db:"detected_objects"`
	ConfidenceScore float64 `db:"confidence_score"`
	ImageCategory   string  `db:"image_category"`
	ImagePath       string  `db:"image_path"`
}

// DetectionCSVHeader is the column order of the detection CSV contract.
var DetectionCSVHeader = []string{"message_id", "detected_objects", "confidence_score", "image_category", "image_path"}
