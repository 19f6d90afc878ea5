package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/garbedge/waste-classifier/config"
	"github.com/garbedge/waste-classifier/detections"
)

const (
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

var ErrPoolClosed = errors.New("pool is closed")

// SessionFactory creates one model session.
type SessionFactory func() (*detections.ModelSession, error)

type ModelSessionPool struct {
	sessions   chan *detections.ModelSession
	size       int
	factory    SessionFactory
	destroy    func(*detections.ModelSession)
	mu         sync.Mutex
	closed     bool
	metrics    *PoolMetrics
	lastErrors []error
	stop       chan struct{}
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolSnapshot is the JSON view of the pool metrics.
type PoolSnapshot struct {
	PoolSize        int    `json:"pool_size"`
	SessionsInUse   int    `json:"sessions_in_use"`
	TotalAcquired   int64  `json:"total_acquired"`
	TotalReleased   int64  `json:"total_released"`
	AcquireFailures int64  `json:"acquire_failures"`
	WaitTime        string `json:"wait_time"`
	RecentErrors    int    `json:"recent_errors"`
}

func NewModelSessionPool(size int, factory SessionFactory) (*ModelSessionPool, error) {
	if size <= 0 {
		size = config.DefaultPoolSize
	}

	pool := &ModelSessionPool{
		sessions: make(chan *detections.ModelSession, size),
		size:     size,
		factory:  factory,
		destroy:  (*detections.ModelSession).Destroy,
		metrics:  &PoolMetrics{},
		stop:     make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	go pool.healthCheck()

	return pool, nil
}

func (p *ModelSessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (*detections.ModelSession, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *ModelSessionPool) Release(session *detections.ModelSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	if p.closed {
		p.destroy(session)
		return
	}
	p.sessions <- session
}

func (p *ModelSessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.stop)
	close(p.sessions)

	for session := range p.sessions {
		p.destroy(session)
	}
}

func (p *ModelSessionPool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.replenish()
		}
	}
}

// replenish recreates sessions lost to failures. Sessions currently lent
// out count as present.
func (p *ModelSessionPool) replenish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.metrics.mu.RLock()
	present := len(p.sessions) + p.metrics.inUse
	p.metrics.mu.RUnlock()

	for i := present; i < p.size; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}
		p.sessions <- session
	}
}

// recordError must be called with p.mu held.
func (p *ModelSessionPool) recordError(err error) {
	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *ModelSessionPool) Size() int {
	return p.size
}

func (p *ModelSessionPool) GetMetrics() PoolSnapshot {
	p.mu.Lock()
	recent := len(p.lastErrors)
	p.mu.Unlock()

	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolSnapshot{
		PoolSize:        p.size,
		SessionsInUse:   p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime.String(),
		RecentErrors:    recent,
	}
}
