package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery_RunsUntilStopped(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	s := New(nil, logger)

	var n atomic.Int32
	s.Every("tick", 5*time.Millisecond, func(context.Context) { n.Add(1) })

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, n.Load())
}

func TestEvery_IndependentCancel(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	s := New(nil, logger)
	defer s.Stop()

	var a, b atomic.Int32
	cancelA := s.Every("a", 5*time.Millisecond, func(context.Context) { a.Add(1) })
	s.Every("b", 5*time.Millisecond, func(context.Context) { b.Add(1) })

	cancelA()
	stoppedAt := a.Load()
	require.Eventually(t, func() bool { return b.Load() >= 3 }, time.Second, time.Millisecond)
	assert.LessOrEqual(t, a.Load(), stoppedAt+1)
}

func TestAfter_RunsOnceOrNotAtAll(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	s := New(nil, logger)
	defer s.Stop()

	fired := make(chan struct{}, 2)
	s.After("once", 5*time.Millisecond, func(context.Context) { fired <- struct{}{} })
	cancel := s.After("never", 20*time.Millisecond, func(context.Context) { fired <- struct{}{} })
	cancel()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("job did not fire")
	}
	time.Sleep(40 * time.Millisecond)
	assert.Len(t, fired, 0)
}

func TestJobsHoldTheGate(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	gate := &sync.Mutex{}
	s := New(gate, logger)
	defer s.Stop()

	gate.Lock()
	var ran atomic.Bool
	s.After("blocked", time.Millisecond, func(context.Context) { ran.Store(true) })

	time.Sleep(30 * time.Millisecond)
	assert.False(t, ran.Load(), "job must wait for the gate")

	gate.Unlock()
	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
}

func TestPanickingJobIsLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	s := New(nil, logger)
	defer s.Stop()

	s.After("bad", time.Millisecond, func(context.Context) { panic("boom") })

	require.Eventually(t, func() bool { return hook.LastEntry() != nil }, time.Second, time.Millisecond)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "bad", hook.LastEntry().Data["job"])
}
