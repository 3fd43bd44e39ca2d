// Package timer implements host.TimerScheduler over time.AfterFunc.
package timer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avalon-stream/hlsplay/internal/host"
)

// Scheduler implements host.TimerScheduler: Start schedules a one-shot
// timer and reports its elapse asynchronously to the EngineSink it was
// constructed with; Clear cancels a pending timer with no further callback.
type Scheduler struct {
	sink host.EngineSink

	mu      sync.Mutex
	pending map[host.TimerID]*time.Timer
}

// New builds a Scheduler that reports elapsed timers to sink.
func New(sink host.EngineSink) *Scheduler {
	return &Scheduler{
		sink:    sink,
		pending: make(map[host.TimerID]*time.Timer),
	}
}

// Start implements host.TimerScheduler.
func (s *Scheduler) Start(d time.Duration, reason host.TimerReason) host.TimerID {
	id := host.TimerID(uuid.New().String())

	s.mu.Lock()
	s.pending[id] = time.AfterFunc(d, func() { s.fire(id) })
	s.mu.Unlock()

	return id
}

// Clear implements host.TimerScheduler.
func (s *Scheduler) Clear(id host.TimerID) {
	s.mu.Lock()
	t, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}

func (s *Scheduler) fire(id host.TimerID) {
	s.mu.Lock()
	_, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.sink.OnTimerElapsed(id)
}
