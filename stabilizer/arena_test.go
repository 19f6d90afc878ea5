package stabilizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garbedge/waste-classifier/models"
)

func newMockArena(idle time.Duration) (*Arena, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(t0)
	return NewArena(mock, 2*time.Second, idle), mock
}

func TestArena_SessionsAreIndependent(t *testing.T) {
	a, mock := newMockArena(time.Minute)
	s1 := a.Create()
	s2 := a.Create()
	require.NotEqual(t, s1.ID, s2.ID)

	s1.Publish(frame("Wood"), mock.Now(), nil)
	mock.Add(500 * time.Millisecond)

	assert.Empty(t, s2.Publish(nil, mock.Now(), nil))
	assert.Equal(t, Empty, s2.State())
	assert.Len(t, s1.Publish(nil, mock.Now(), nil), 1)
	assert.Equal(t, Populated, s1.State())
}

func TestArena_GetAndRemove(t *testing.T) {
	a, _ := newMockArena(time.Minute)
	s := a.Create()

	got, err := a.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, a.Remove(s.ID))
	_, err = a.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, a.Remove(s.ID), ErrSessionNotFound)
	assert.Equal(t, 0, a.Len())
}

func TestArena_PublishRunsCallbackWithPublishedSet(t *testing.T) {
	a, mock := newMockArena(time.Minute)
	s := a.Create()

	var seen []string
	s.Publish(frame("Foil", "Tin"), mock.Now(), func(published []models.ClassifiedDetection) {
		for _, d := range published {
			seen = append(seen, d.Label)
		}
	})
	assert.Equal(t, []string{"Foil", "Tin"}, seen)
	assert.Equal(t, int64(1), s.Frames())
}

func TestArena_ReapRemovesIdleSessions(t *testing.T) {
	a, mock := newMockArena(time.Minute)
	idle := a.Create()
	busy := a.Create()

	mock.Add(45 * time.Second)
	busy.Publish(nil, mock.Now(), nil)
	mock.Add(30 * time.Second)

	assert.Equal(t, 1, a.Reap(mock.Now()))
	_, err := a.Get(idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = a.Get(busy.ID)
	assert.NoError(t, err)

	m := a.Metrics()
	assert.Equal(t, ArenaMetrics{Active: 1, Created: 2, Expired: 1, Frames: 1}, m)
}

func TestArena_RunReapsOnTicker(t *testing.T) {
	a, mock := newMockArena(time.Minute)
	a.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, 10*time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mock.Add(10 * time.Second)
		return a.Len() == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestArena_ConcurrentStreams(t *testing.T) {
	a, mock := newMockArena(time.Minute)
	now := mock.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := a.Create()
			for j := 0; j < 50; j++ {
				s.Publish(frame("Wood"), now, nil)
			}
		}()
	}
	wg.Wait()

	m := a.Metrics()
	assert.Equal(t, 8, m.Active)
	assert.Equal(t, int64(8*50), m.Frames)
}

func TestArena_NowUsesInjectedClock(t *testing.T) {
	a, mock := newMockArena(0)
	assert.Equal(t, t0, a.Now())
	mock.Add(time.Second)
	assert.Equal(t, t0.Add(time.Second), a.Now())
	assert.Equal(t, DefaultIdleTimeout, a.idleTimeout)
}

func TestSession_HandleFrame(t *testing.T) {
	a, mock := newMockArena(time.Minute)
	s := a.Create()

	published, err := s.HandleFrame(func() ([]models.ClassifiedDetection, time.Time, error) {
		return frame("Cardboard"), mock.Now(), nil
	}, nil)
	require.NoError(t, err)
	assert.Len(t, published, 1)

	failure := errors.New("inference failed")
	_, err = s.HandleFrame(func() ([]models.ClassifiedDetection, time.Time, error) {
		return nil, time.Time{}, failure
	}, func([]models.ClassifiedDetection) { t.Fatal("render must not run") })
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, int64(1), s.Frames())
	assert.Equal(t, Populated, s.State())
}

func TestArena_BusyStreamDoesNotBlockOthers(t *testing.T) {
	a, mock := newMockArena(time.Minute)
	busy := a.Create()
	other := a.Create()

	inFrame := make(chan struct{})
	release := make(chan struct{})
	frameDone := make(chan struct{})
	go func() {
		defer close(frameDone)
		_, _ = busy.HandleFrame(func() ([]models.ClassifiedDetection, time.Time, error) {
			close(inFrame)
			<-release
			return frame("Wood"), mock.Now(), nil
		}, nil)
	}()
	<-inFrame

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Reap(mock.Now().Add(30 * time.Second))
		_ = a.Metrics()
		got, err := a.Get(other.ID)
		assert.NoError(t, err)
		assert.Same(t, other, got)
		_ = a.Create()
		assert.NoError(t, a.Remove(other.ID))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("arena operations waited on a stream that is still processing a frame")
	}

	close(release)
	<-frameDone
	assert.Equal(t, int64(1), busy.Frames())
}

func TestArena_ReapSkipsStreamsThatAreNotIdle(t *testing.T) {
	a, mock := newMockArena(time.Minute)
	s := a.Create()

	mock.Add(50 * time.Second)
	s.Publish(frame("Tin"), mock.Now(), nil)
	mock.Add(30 * time.Second)

	assert.Zero(t, a.Reap(mock.Now()))
	assert.Equal(t, 1, a.Len())
}
