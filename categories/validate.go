package categories

import (
	"errors"
	"fmt"
	"math"

	"github.com/garbedge/waste-classifier/models"
)

// ErrInvalidInput matches every InvalidInputError with errors.Is.
var ErrInvalidInput = errors.New("invalid detection")

// InvalidInputError reports a malformed detection.
type InvalidInputError struct {
	// Index is the position of the detection in its frame, or -1.
	Index  int
	Label  string
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("detection %d (%q): %s: %s", e.Index, e.Label, e.Field, e.Reason)
	}
	return fmt.Sprintf("detection %q: %s: %s", e.Label, e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(d models.Detection, field, reason string) error {
	return &InvalidInputError{Index: -1, Label: d.Label, Field: field, Reason: reason}
}

// ValidateDetection checks the label, confidence and bounding box of d.
func ValidateDetection(d models.Detection) error {
	if d.Label == "" {
		return invalid(d, "label", "empty")
	}

	switch {
	case math.IsNaN(d.Confidence):
		return invalid(d, "confidence", "missing or NaN")
	case d.Confidence < 0 || d.Confidence > 1:
		return invalid(d, "confidence", fmt.Sprintf("%g outside [0,1]", d.Confidence))
	}

	for _, v := range d.BBox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid(d, "bounding_box", "non-finite coordinate")
		}
	}
	x1, y1, x2, y2 := d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]
	if x1 > x2 || y1 > y2 {
		return invalid(d, "bounding_box", fmt.Sprintf("degenerate box [%g %g %g %g]", x1, y1, x2, y2))
	}
	return nil
}
