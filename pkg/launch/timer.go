package launch

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stopwatch measures one named operation and reports it once.
type Stopwatch struct {
	name  string
	start time.Time
	now   func() time.Time

	mu      sync.Mutex
	stopped bool
	elapsed time.Duration
}

// StartStopwatch starts timing name.
func StartStopwatch(name string) *Stopwatch {
	return startStopwatch(name, time.Now)
}

func startStopwatch(name string, now func() time.Time) *Stopwatch {
	return &Stopwatch{name: name, start: now(), now: now}
}

// Elapsed returns the time since start, or the frozen duration after Stop.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return s.elapsed
	}
	return s.now().Sub(s.start)
}

// Stop freezes the duration and logs it to every non-nil logger as plain
// message text, so role sinks keep their one-line format. Later calls return
// the frozen duration without logging again.
func (s *Stopwatch) Stop(loggers ...*zap.Logger) time.Duration {
	s.mu.Lock()
	if s.stopped {
		d := s.elapsed
		s.mu.Unlock()
		return d
	}
	s.stopped = true
	s.elapsed = s.now().Sub(s.start)
	d := s.elapsed
	s.mu.Unlock()

	for _, l := range loggers {
		if l != nil {
			l.Info(fmt.Sprintf("%s finished in %s", s.name, d))
		}
	}
	return d
}
