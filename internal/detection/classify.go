// Package detection runs object detection over downloaded channel images and
// derives an image category from the detected labels.
package detection

import (
	"slices"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/models"
)

// COCO classes used as stand-ins for medical products.
var productProxies = []string{"bottle", "cup", "bowl", "vase"}

// Classify maps detected labels onto an image category.
func Classify(labels []string) string {
	hasPerson := slices.Contains(labels, "person")
	hasProduct := slices.ContainsFunc(labels, func(l string) bool {
		return slices.Contains(productProxies, l)
	})

	switch {
	case hasPerson && hasProduct:
		return models.CategoryPromotional
	case hasProduct:
		return models.CategoryProductDisplay
	case hasPerson:
		return models.CategoryLifestyle
	default:
		return models.CategoryOther
	}
}
