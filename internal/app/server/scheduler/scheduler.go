// Package scheduler runs interval and one-shot jobs one at a time behind a
// shared lock, so timer callbacks interleave with request handling the way
// callbacks of a single event loop would.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context)

// Scheduler owns every timer of the server and cancels them on Stop.
type Scheduler struct {
	gate   sync.Locker
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Jobs hold gate while they run; a nil gate gives
// the scheduler a private one.
func New(gate sync.Locker, logger *logrus.Logger) *Scheduler {
	if gate == nil {
		gate = &sync.Mutex{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{gate: gate, logger: logger, ctx: ctx, cancel: cancel}
}

// Every runs job each interval until the returned cancel func or Stop is called.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) context.CancelFunc {
	ctx, cancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx, name, job)
			}
		}
	}()
	return cancel
}

// After runs job once after delay unless cancelled first.
func (s *Scheduler) After(name string, delay time.Duration, job Job) context.CancelFunc {
	ctx, cancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			s.run(ctx, name, job)
		}
	}()
	return cancel
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	if ctx.Err() != nil {
		return
	}
	s.gate.Lock()
	defer s.gate.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{"job": name, "panic": r}).Error("Scheduled job panicked")
		}
	}()
	job(ctx)
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
