// Package shutdown provides a one-shot, race-free stop request that can be
// raised from inside a message handler and observed by the run loop.
package shutdown

import (
	"sync"
	"sync/atomic"
)

// Signal is set at most once. Request never blocks.
type Signal struct {
	once     sync.Once
	done     chan struct{}
	set      atomic.Bool
	requests atomic.Int64
	reason   atomic.Value
}

// New returns an unset Signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Request marks the signal and closes Done on the first call. It reports
// whether this call was the one that set the signal.
func (s *Signal) Request(reason string) bool {
	s.requests.Add(1)
	first := false
	s.once.Do(func() {
		s.reason.Store(reason)
		s.set.Store(true)
		close(s.done)
		first = true
	})
	return first
}

// Requested reports whether shutdown has been requested.
func (s *Signal) Requested() bool {
	return s.set.Load()
}

// Done is closed once shutdown is requested.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Reason returns the reason passed to the first Request.
func (s *Signal) Reason() string {
	v, _ := s.reason.Load().(string)
	return v
}

// Requests counts all Request calls, including the ones after the first.
func (s *Signal) Requests() int64 {
	return s.requests.Load()
}
