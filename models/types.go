package models

import (
	"image/color"
	"math"
	"time"
)

// Category is a disposal class assigned to a detected label.
type Category string

const (
	Compost    Category = "compost"
	Recyclable Category = "recyclable"
	Garbage    Category = "garbage"
)

// Detection is one object found in a frame by the external detector.
// BBox is x1, y1, x2, y2 in pixel coordinates.
type Detection struct {
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bounding_box"`
}

// DetectionInput is the wire form of a detection computed outside the
// service. Missing fields stay distinguishable from zero values.
type DetectionInput struct {
	Label      string    `json:"label"`
	Confidence *float64  `json:"confidence"`
	BBox       []float64 `json:"bounding_box"`
}

// Detection converts in for classification. A missing confidence or a box
// without exactly four coordinates becomes NaN so validation rejects it.
func (in DetectionInput) Detection() Detection {
	d := Detection{Label: in.Label, Confidence: math.NaN()}
	if in.Confidence != nil {
		d.Confidence = *in.Confidence
	}
	if len(in.BBox) == 4 {
		copy(d.BBox[:], in.BBox)
	} else {
		d.BBox = [4]float64{math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	}
	return d
}

// ClassifiedDetection is a Detection annotated with its disposal category.
type ClassifiedDetection struct {
	Detection
	Category  Category   `json:"category"`
	Reasoning string     `json:"reasoning"`
	Color     color.RGBA `json:"-"`
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	NMS         time.Duration
	Classify    time.Duration
	Stabilize   time.Duration
	Format      time.Duration
	Total       time.Duration
}
