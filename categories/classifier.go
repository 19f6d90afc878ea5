package categories

import (
	"errors"
	"image/color"

	"go.uber.org/multierr"

	"github.com/garbedge/waste-classifier/models"
)

// Classification is the category decision for a single label.
type Classification struct {
	Category  models.Category
	Reasoning string
	Color     color.RGBA
}

// Classifier resolves detector labels against a shared registry.
type Classifier struct {
	registry *Registry
}

// NewClassifier returns a classifier over r. A nil registry selects Default.
func NewClassifier(r *Registry) *Classifier {
	if r == nil {
		r = Default()
	}
	return &Classifier{registry: r}
}

func (c *Classifier) Registry() *Registry {
	return c.registry
}

// Classify depends on label alone and never fails: unknown labels fall back
// to garbage.
func (c *Classifier) Classify(label string) Classification {
	entry, ok := c.registry.Lookup(label)
	if !ok {
		return Classification{
			Category:  models.Garbage,
			Reasoning: FallbackReasoning,
			Color:     c.registry.Color(models.Garbage),
		}
	}

	reasoning := entry.Description
	if entry.Rationale != "" {
		reasoning = entry.Rationale + " " + entry.Description
	}

	return Classification{
		Category:  entry.Category,
		Reasoning: reasoning,
		Color:     c.registry.Color(entry.Category),
	}
}

// ClassifyDetection validates d and attaches its classification.
func (c *Classifier) ClassifyDetection(d models.Detection) (models.ClassifiedDetection, error) {
	if err := ValidateDetection(d); err != nil {
		return models.ClassifiedDetection{}, err
	}
	cl := c.Classify(d.Label)
	return models.ClassifiedDetection{
		Detection: d,
		Category:  cl.Category,
		Reasoning: cl.Reasoning,
		Color:     cl.Color,
	}, nil
}

// ClassifyFrame classifies every valid detection of one frame, keeping input
// order. Malformed detections are skipped; the returned error combines one
// InvalidInputError per skipped detection and is nil when none were skipped.
// The returned slice is usable whether or not err is nil.
func (c *Classifier) ClassifyFrame(dets []models.Detection) ([]models.ClassifiedDetection, error) {
	out := make([]models.ClassifiedDetection, 0, len(dets))
	var errs error
	for i, d := range dets {
		cd, err := c.ClassifyDetection(d)
		if err != nil {
			var bad *InvalidInputError
			if errors.As(err, &bad) {
				bad.Index = i
			}
			errs = multierr.Append(errs, err)
			continue
		}
		out = append(out, cd)
	}
	return out, errs
}

// Rejected returns the individual errors of a ClassifyFrame error.
func Rejected(err error) []error {
	return multierr.Errors(err)
}

// AboveThreshold keeps the classified detections whose confidence is at
// least threshold, in order. It is the confidence gate for callers that
// classify before gating so malformed input is still reported.
func AboveThreshold(in []models.ClassifiedDetection, threshold float64) []models.ClassifiedDetection {
	out := make([]models.ClassifiedDetection, 0, len(in))
	for _, cd := range in {
		if cd.Confidence >= threshold {
			out = append(out, cd)
		}
	}
	return out
}
