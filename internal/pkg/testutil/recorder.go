package testutil

import (
	"sync"
	"time"
)

// Call is one recorded Publish invocation.
type Call struct {
	Channel string
	Event   string
	Message string
}

// Recorder is a publisher double that keeps every call in memory.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) Publish(channel, event, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Channel: channel, Event: event, Message: message})
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Messages returns the recorded messages in order.
func (r *Recorder) Messages() []string {
	calls := r.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Message)
	}
	return out
}

// WaitFor polls until at least n calls were recorded or timeout passes.
func (r *Recorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		got := len(r.calls)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
