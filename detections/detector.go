package detections

import (
	"context"
	"image"

	"github.com/garbedge/waste-classifier/models"
)

// Detector finds labelled objects in an image. conf is the caller's
// confidence threshold; no detection below it is returned.
type Detector interface {
	Detect(ctx context.Context, img image.Image, conf float64, timings *models.ProcessingTimings) ([]models.Detection, error)
}

// SessionPool hands out model sessions for exclusive use.
type SessionPool interface {
	Acquire(ctx context.Context) (*ModelSession, error)
	Release(session *ModelSession)
}

// PooledDetector runs each request on a session borrowed from a pool.
type PooledDetector struct {
	pool SessionPool
}

func NewPooledDetector(pool SessionPool) *PooledDetector {
	return &PooledDetector{pool: pool}
}

func (d *PooledDetector) Detect(ctx context.Context, img image.Image, conf float64, timings *models.ProcessingTimings) ([]models.Detection, error) {
	session, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer d.pool.Release(session)

	return ProcessImage(ctx, img, session, conf, timings)
}

// Postprocessor filters or modifies the detections of one frame.
type Postprocessor func([]models.Detection) []models.Detection

// NewScoreFilter drops detections below conf. This is the caller's
// confidence gate; the threshold is always passed in explicitly.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []models.Detection) []models.Detection {
		out := make([]models.Detection, 0, len(in))
		for _, d := range in {
			if d.Confidence >= conf {
				out = append(out, d)
			}
		}
		return out
	}
}

// NewLabelFilter keeps detections whose label is in labels. An empty set
// keeps everything.
func NewLabelFilter(labels []string) Postprocessor {
	allowed := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		allowed[l] = struct{}{}
	}
	return func(in []models.Detection) []models.Detection {
		if len(allowed) == 0 {
			return in
		}
		out := make([]models.Detection, 0, len(in))
		for _, d := range in {
			if _, ok := allowed[d.Label]; ok {
				out = append(out, d)
			}
		}
		return out
	}
}

// Chain applies postprocessors in order.
func Chain(pp ...Postprocessor) Postprocessor {
	return func(in []models.Detection) []models.Detection {
		for _, p := range pp {
			if p != nil {
				in = p(in)
			}
		}
		return in
	}
}
