// Package stabilizer keeps a stream's published detections steady across
// frames where the detector momentarily finds nothing.
package stabilizer

import (
	"time"

	"github.com/garbedge/waste-classifier/models"
)

// DefaultPersistenceWindow is how long a result set survives empty frames.
const DefaultPersistenceWindow = 2 * time.Second

type State int

const (
	Empty State = iota
	Populated
)

func (s State) String() string {
	if s == Populated {
		return "populated"
	}
	return "empty"
}

// Stabilizer is the smoothing state of one stream. It is not safe for
// concurrent use; a stream feeds it one frame at a time.
type Stabilizer struct {
	lastPublished []models.ClassifiedDetection
	lastUpdate    time.Time
	window        time.Duration
}

// New returns an empty stabilizer for a stream that started at start.
// A non-positive window selects DefaultPersistenceWindow.
func New(start time.Time, window time.Duration) *Stabilizer {
	if window <= 0 {
		window = DefaultPersistenceWindow
	}
	return &Stabilizer{lastUpdate: start, window: window}
}

// OnFrameResult records the detections of the frame observed at now and
// returns the set to publish: the current detections when there are any, the
// last published set while it is no older than the window, otherwise nothing.
// The returned slice is owned by the caller.
func (s *Stabilizer) OnFrameResult(current []models.ClassifiedDetection, now time.Time) []models.ClassifiedDetection {
	switch {
	case len(current) > 0:
		s.lastPublished = clone(current)
		s.lastUpdate = now
	case now.Sub(s.lastUpdate) > s.window:
		s.lastPublished = nil
	}
	return clone(s.lastPublished)
}

func (s *Stabilizer) State() State {
	if len(s.lastPublished) > 0 {
		return Populated
	}
	return Empty
}

// LastUpdate is the time of the last non-empty frame, or the stream start.
func (s *Stabilizer) LastUpdate() time.Time {
	return s.lastUpdate
}

func (s *Stabilizer) Window() time.Duration {
	return s.window
}

func clone(in []models.ClassifiedDetection) []models.ClassifiedDetection {
	if len(in) == 0 {
		return nil
	}
	return append([]models.ClassifiedDetection(nil), in...)
}
