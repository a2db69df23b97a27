package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/logger"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return func() {}, false, l.err
	}
	if l.held[name] {
		return func() {}, false, nil
	}
	l.held[name] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
		l.released++
	}, true, nil
}

type countingSweep struct {
	mu    sync.Mutex
	calls int
	now   time.Time
}

func (c *countingSweep) sweep(_ context.Context, now time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.now = now
	return 1, nil
}

func TestRunHonorsLock(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{}}
	s := New(locker, logger.Nop())
	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	c := &countingSweep{}
	job := Job{Name: "expire", Spec: "@every 1m", Sweep: c.sweep}

	s.Run(context.Background(), job)
	assert.Equal(t, 1, c.calls)
	assert.Equal(t, fixed, c.now)
	assert.Equal(t, 1, locker.released)

	locker.held["expire"] = true
	s.Run(context.Background(), job)
	assert.Equal(t, 1, c.calls, "held lock skips the tick")

	delete(locker.held, "expire")
	locker.err = stderrors.New("redis down")
	s.Run(context.Background(), job)
	assert.Equal(t, 1, c.calls, "lock errors skip the tick")
}

func TestRunWithoutLocker(t *testing.T) {
	s := New(nil, logger.Nop())
	c := &countingSweep{}
	s.Run(context.Background(), Job{Name: "mature", Sweep: c.sweep})
	s.Run(context.Background(), Job{Name: "mature", Sweep: func(context.Context, time.Time) (int, error) {
		return 0, stderrors.New("db down")
	}})
	assert.Equal(t, 1, c.calls)
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(nil, logger.Nop())
	err := s.Add(Job{Name: "expire", Spec: "every now and then", Sweep: (&countingSweep{}).sweep})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expire")
}

func TestStartStopRunsJobs(t *testing.T) {
	s := New(nil, logger.Nop())
	c := &countingSweep{}
	require.NoError(t, s.Add(Job{Name: "expire", Spec: "@every 1s", Sweep: c.sweep}))

	s.Start()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.calls > 0
	}, 5*time.Second, 50*time.Millisecond)
	s.Stop()
	s.Stop()
}
