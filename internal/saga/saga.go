// Package saga runs a fixed list of steps against shared state and rolls back
// completed steps in reverse order when one fails.
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Phase names what happened to a step.
type Phase string

const (
	PhaseExecuted           Phase = "executed"
	PhaseFailed             Phase = "failed"
	PhaseCompensated        Phase = "compensated"
	PhaseCompensationFailed Phase = "compensation_failed"
)

// Step pairs a forward action with its inverse. Compensate may be nil for steps
// that leave nothing behind.
type Step[S any] struct {
	Name       string
	Execute    func(ctx context.Context, state *S) error
	Compensate func(ctx context.Context, state *S) error
}

// Event describes one phase transition of a step.
type Event struct {
	Saga     string
	Step     string
	Phase    Phase
	Err      error
	Duration time.Duration
}

// Observer receives step events. It runs synchronously on the saga goroutine.
type Observer func(Event)

// Saga is an ordered, immutable list of steps.
type Saga[S any] struct {
	name     string
	steps    []Step[S]
	log      *slog.Logger
	observer Observer
}

// New builds a saga named name.
func New[S any](name string, log *slog.Logger, steps ...Step[S]) *Saga[S] {
	if log == nil {
		log = slog.Default()
	}
	copied := make([]Step[S], len(steps))
	copy(copied, steps)
	return &Saga[S]{name: name, steps: copied, log: log}
}

// WithObserver returns a copy of the saga that reports events to observer.
func (s *Saga[S]) WithObserver(observer Observer) *Saga[S] {
	clone := *s
	clone.observer = observer
	return &clone
}

// Steps returns the step names in execution order.
func (s *Saga[S]) Steps() []string {
	names := make([]string, len(s.steps))
	for i, step := range s.steps {
		names[i] = step.Name
	}
	return names
}

// Run executes every step in order. When a step fails, each step that already
// succeeded is compensated once, newest first, and the step's error is returned
// unchanged. A panicking step fails like any other. Compensation errors are
// logged and never stop the unwind.
func (s *Saga[S]) Run(ctx context.Context, state *S) error {
	completed := make([]Step[S], 0, len(s.steps))
	for _, step := range s.steps {
		start := time.Now()
		if err := s.execute(ctx, state, step); err != nil {
			s.log.Error("saga step failed", "saga", s.name, "step", step.Name, "error", err)
			s.emit(Event{Saga: s.name, Step: step.Name, Phase: PhaseFailed, Err: err, Duration: time.Since(start)})
			s.unwind(ctx, state, completed)
			return err
		}
		s.log.Debug("saga step executed", "saga", s.name, "step", step.Name)
		s.emit(Event{Saga: s.name, Step: step.Name, Phase: PhaseExecuted, Duration: time.Since(start)})
		completed = append(completed, step)
	}
	return nil
}

func (s *Saga[S]) unwind(ctx context.Context, state *S, completed []Step[S]) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		start := time.Now()
		if err := s.compensate(ctx, state, step); err != nil {
			s.log.Error("saga compensation failed", "saga", s.name, "step", step.Name, "error", err)
			s.emit(Event{Saga: s.name, Step: step.Name, Phase: PhaseCompensationFailed, Err: err, Duration: time.Since(start)})
			continue
		}
		s.log.Info("saga step compensated", "saga", s.name, "step", step.Name)
		s.emit(Event{Saga: s.name, Step: step.Name, Phase: PhaseCompensated, Duration: time.Since(start)})
	}
}

func (s *Saga[S]) execute(ctx context.Context, state *S, step Step[S]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{op: "step", value: r}
		}
	}()
	return step.Execute(ctx, state)
}

// compensate turns a panicking compensation into an error so the unwind continues.
func (s *Saga[S]) compensate(ctx context.Context, state *S, step Step[S]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{op: "compensation", value: r}
		}
	}()
	return step.Compensate(ctx, state)
}

func (s *Saga[S]) emit(event Event) {
	if s.observer != nil {
		s.observer(event)
	}
}

type panicError struct {
	op    string
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.op, e.value)
}
