// Package watch turns filesystem events on tracked paths into debounced
// backup triggers.
package watch

import (
	"errors"
	"sync"
	"time"

	"github.com/confsync/confsync/internal/engine"
)

// Target is the backup collaborator the scheduler drives. The engine
// satisfies it through a thin adapter in the CLI.
type Target interface {
	// TriggerBackup runs one backup. Returns engine.ErrEngineBusy when an
	// operation is already in flight.
	TriggerBackup() error
	// Busy reports whether an operation is in flight.
	Busy() bool
}

// SchedulerState is the scheduler's position in the debounce state machine.
type SchedulerState int

const (
	// SchedulerIdle means no event has arrived since the last trigger.
	SchedulerIdle SchedulerState = iota
	// SchedulerDebouncing means the quiet-period timer is running.
	SchedulerDebouncing
	// SchedulerTriggering means a backup is being fired.
	SchedulerTriggering
)

// Scheduler collapses bursts of change events into single backup triggers.
// An event starts (or restarts) a debounce timer; the backup fires only
// after a full quiet period. If the target is busy when the timer fires, at
// most one trigger is queued and replayed once the target goes idle.
type Scheduler struct {
	target   Target
	debounce time.Duration
	onResult func(error)

	mu      sync.Mutex
	state   SchedulerState
	timer   *time.Timer
	pending bool
	stopped bool

	// inFlight joins a fired trigger at Stop so shutdown never abandons a
	// running backup.
	inFlight sync.WaitGroup
}

// NewScheduler creates a scheduler. onResult receives the outcome of every
// fired backup (nil included) and may be nil.
func NewScheduler(target Target, debounce time.Duration, onResult func(error)) *Scheduler {
	return &Scheduler{
		target:   target,
		debounce: debounce,
		onResult: onResult,
	}
}

// State returns the current scheduler state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Notify records one change event. Resets the debounce timer, so a steady
// stream of events keeps postponing the trigger until the stream pauses.
func (s *Scheduler) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.restartTimerLocked()
}

// EngineIdle is wired as the engine's idle hook. If a trigger was queued
// while the engine was busy, it is replayed through a fresh debounce window.
func (s *Scheduler) EngineIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.pending {
		return
	}
	s.pending = false
	s.restartTimerLocked()
}

// Stop cancels any pending timer and waits for a trigger already in flight
// to finish. Further events are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.pending = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = SchedulerIdle
	s.mu.Unlock()

	s.inFlight.Wait()
}

func (s *Scheduler) restartTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.state = SchedulerDebouncing
	s.timer = time.AfterFunc(s.debounce, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = SchedulerTriggering
	s.timer = nil
	s.inFlight.Add(1)
	s.mu.Unlock()
	defer s.inFlight.Done()

	err := s.target.TriggerBackup()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if errors.Is(err, engine.ErrEngineBusy) {
		s.pending = true
		// The in-flight operation may have finished between the busy
		// result and taking the lock, in which case the idle hook has
		// already run and the queued trigger would be lost. Probe once
		// and replay it ourselves.
		if !s.target.Busy() {
			s.pending = false
			s.restartTimerLocked()
		}
		s.mu.Unlock()
		return
	}
	// A completed trigger subsumes any queued one.
	s.pending = false
	if s.state == SchedulerTriggering {
		s.state = SchedulerIdle
	}
	s.mu.Unlock()

	if s.onResult != nil {
		s.onResult(err)
	}
}
