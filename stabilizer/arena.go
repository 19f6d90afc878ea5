package stabilizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/garbedge/waste-classifier/models"
)

const (
	DefaultIdleTimeout = 5 * time.Minute
	ReapPeriod         = 30 * time.Second
)

var ErrSessionNotFound = errors.New("stream session not found")

// Session is one active stream. Frames for a session are published one at a
// time under its lock. lastSeen and frames are atomics so the arena can read
// them while a frame holds the lock.
type Session struct {
	ID      string
	Started time.Time

	mu         sync.Mutex
	stabilizer *Stabilizer
	lastSeen   atomic.Int64 // unix nanoseconds
	frames     atomic.Int64
}

// Publish feeds one frame result observed at now through the session's
// stabilizer. fn, when non-nil, runs under the session lock with the
// published set, so everything derived from one frame completes before the
// next frame of the same stream is accepted.
func (s *Session) Publish(current []models.ClassifiedDetection, now time.Time, fn func([]models.ClassifiedDetection)) []models.ClassifiedDetection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(current, now, fn)
}

// HandleFrame runs a whole frame under the session lock. produce returns the
// frame's classified detections and the time it was observed; when it fails
// the stabilizer is left untouched and the error is returned.
func (s *Session) HandleFrame(produce func() ([]models.ClassifiedDetection, time.Time, error), fn func([]models.ClassifiedDetection)) ([]models.ClassifiedDetection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, now, err := produce()
	if err != nil {
		return nil, err
	}
	return s.publishLocked(current, now, fn), nil
}

func (s *Session) publishLocked(current []models.ClassifiedDetection, now time.Time, fn func([]models.ClassifiedDetection)) []models.ClassifiedDetection {
	published := s.stabilizer.OnFrameResult(current, now)
	s.lastSeen.Store(now.UnixNano())
	s.frames.Add(1)
	if fn != nil {
		fn(published)
	}
	return published
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stabilizer.State()
}

func (s *Session) Frames() int64 {
	return s.frames.Load()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}

// ArenaMetrics is a snapshot of arena counters.
type ArenaMetrics struct {
	Active  int   `json:"active_sessions"`
	Created int64 `json:"sessions_created"`
	Ended   int64 `json:"sessions_ended"`
	Expired int64 `json:"sessions_expired"`
	Frames  int64 `json:"frames_published"`
}

// Arena owns one independent Session per active stream.
type Arena struct {
	clock       clock.Clock
	window      time.Duration
	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  ArenaMetrics
}

// NewArena returns an empty arena. A nil clock selects the wall clock and
// non-positive durations select the defaults.
func NewArena(clk clock.Clock, window, idleTimeout time.Duration) *Arena {
	if clk == nil {
		clk = clock.New()
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Arena{
		clock:       clk,
		window:      window,
		idleTimeout: idleTimeout,
		sessions:    make(map[string]*Session),
	}
}

// Create starts a new stream session.
func (a *Arena) Create() *Session {
	now := a.clock.Now()
	s := &Session{
		ID:         uuid.NewString(),
		Started:    now,
		stabilizer: New(now, a.window),
	}
	s.lastSeen.Store(now.UnixNano())

	a.mu.Lock()
	a.sessions[s.ID] = s
	a.metrics.Created++
	a.mu.Unlock()
	return s
}

func (a *Arena) Get(id string) (*Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove ends a stream and discards its state.
func (a *Arena) Remove(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	delete(a.sessions, id)
	a.metrics.Ended++
	a.metrics.Frames += s.Frames()
	return nil
}

func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// Reap removes sessions that have not published a frame for longer than
// the idle timeout and returns how many were removed. It never waits on a
// session lock, so a stream busy with inference does not stall the others.
func (a *Arena) Reap(now time.Time) int {
	a.mu.RLock()
	var idle []*Session
	for _, s := range a.sessions {
		if s.idleSince(now) > a.idleTimeout {
			idle = append(idle, s)
		}
	}
	a.mu.RUnlock()
	if len(idle) == 0 {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	removed := 0
	for _, s := range idle {
		// A frame may have arrived since the snapshot.
		if a.sessions[s.ID] != s || s.idleSince(now) <= a.idleTimeout {
			continue
		}
		delete(a.sessions, s.ID)
		a.metrics.Expired++
		a.metrics.Frames += s.Frames()
		removed++
	}
	return removed
}

// Run reaps idle sessions every period until ctx is done.
func (a *Arena) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = ReapPeriod
	}
	ticker := a.clock.Ticker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.Reap(now)
		}
	}
}

// Metrics counts frames of ended sessions plus those of active ones.
func (a *Arena) Metrics() ArenaMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m := a.metrics
	m.Active = len(a.sessions)
	for _, s := range a.sessions {
		m.Frames += s.Frames()
	}
	return m
}

// Now reads the arena clock. Handlers call it once per frame.
func (a *Arena) Now() time.Time {
	return a.clock.Now()
}
