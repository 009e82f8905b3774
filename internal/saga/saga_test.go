package saga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"
)

type recorder struct {
	calls []string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func buildSteps(n, failAt int, compErr map[int]error) []Step[recorder] {
	steps := make([]Step[recorder], 0, n)
	for i := 1; i <= n; i++ {
		idx := i
		steps = append(steps, Step[recorder]{
			Name: fmt.Sprintf("s%d", idx),
			Execute: func(_ context.Context, r *recorder) error {
				r.calls = append(r.calls, fmt.Sprintf("exec:%d", idx))
				if idx == failAt {
					return fmt.Errorf("step %d failed", idx)
				}
				return nil
			},
			Compensate: func(_ context.Context, r *recorder) error {
				r.calls = append(r.calls, fmt.Sprintf("comp:%d", idx))
				return compErr[idx]
			},
		})
	}
	return steps
}

func TestRunSuccessNeverCompensates(t *testing.T) {
	var state recorder
	s := New("test", discardLogger(), buildSteps(4, 0, nil)...)
	if err := s.Run(context.Background(), &state); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"exec:1", "exec:2", "exec:3", "exec:4"}
	if !reflect.DeepEqual(state.calls, want) {
		t.Fatalf("unexpected calls %v", state.calls)
	}
}

func TestRunRollbackCompleteness(t *testing.T) {
	const n = 6
	for k := 1; k <= n; k++ {
		t.Run(fmt.Sprintf("fail_at_%d", k), func(t *testing.T) {
			var state recorder
			s := New("test", discardLogger(), buildSteps(n, k, nil)...)
			err := s.Run(context.Background(), &state)
			if err == nil || err.Error() != fmt.Sprintf("step %d failed", k) {
				t.Fatalf("expected original error from step %d, got %v", k, err)
			}

			var want []string
			for i := 1; i <= k; i++ {
				want = append(want, fmt.Sprintf("exec:%d", i))
			}
			for i := k - 1; i >= 1; i-- {
				want = append(want, fmt.Sprintf("comp:%d", i))
			}
			if !reflect.DeepEqual(state.calls, want) {
				t.Fatalf("expected %v, got %v", want, state.calls)
			}
		})
	}
}

func TestRunCompensationErrorsDoNotMaskOrHalt(t *testing.T) {
	var state recorder
	compErr := map[int]error{3: errors.New("image already gone"), 2: errors.New("dir busy")}
	s := New("test", discardLogger(), buildSteps(5, 4, compErr)...)

	err := s.Run(context.Background(), &state)
	if err == nil || err.Error() != "step 4 failed" {
		t.Fatalf("expected forward error, got %v", err)
	}
	want := []string{"exec:1", "exec:2", "exec:3", "exec:4", "comp:3", "comp:2", "comp:1"}
	if !reflect.DeepEqual(state.calls, want) {
		t.Fatalf("expected %v, got %v", want, state.calls)
	}
}

func TestRunReturnsErrorIdentity(t *testing.T) {
	sentinel := errors.New("sentinel")
	steps := []Step[recorder]{
		{Name: "ok", Execute: func(context.Context, *recorder) error { return nil }},
		{Name: "bad", Execute: func(context.Context, *recorder) error { return sentinel }},
	}
	err := New("test", discardLogger(), steps...).Run(context.Background(), &recorder{})
	if err != sentinel {
		t.Fatalf("expected the exact forward error, got %v", err)
	}
}

func TestRunPanickingCompensationContinuesUnwind(t *testing.T) {
	var state recorder
	steps := buildSteps(3, 3, nil)
	steps[1].Compensate = func(context.Context, *recorder) error {
		panic("boom")
	}
	var events []Event
	s := New("test", discardLogger(), steps...).WithObserver(func(e Event) {
		events = append(events, e)
	})
	if err := s.Run(context.Background(), &state); err == nil {
		t.Fatal("expected failure")
	}
	want := []string{"exec:1", "exec:2", "exec:3", "comp:1"}
	if !reflect.DeepEqual(state.calls, want) {
		t.Fatalf("expected %v, got %v", want, state.calls)
	}

	phases := make([]string, 0, len(events))
	for _, e := range events {
		phases = append(phases, e.Step+":"+string(e.Phase))
	}
	wantPhases := []string{
		"s1:executed", "s2:executed", "s3:failed",
		"s2:compensation_failed", "s1:compensated",
	}
	if !reflect.DeepEqual(phases, wantPhases) {
		t.Fatalf("expected events %v, got %v", wantPhases, phases)
	}
}

func TestRunPanickingStepRollsBack(t *testing.T) {
	var state recorder
	steps := buildSteps(3, 0, nil)
	steps[2].Execute = func(_ context.Context, r *recorder) error {
		r.calls = append(r.calls, "exec:3")
		panic("nil image id")
	}
	err := New("test", discardLogger(), steps...).Run(context.Background(), &state)
	var pe *panicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected panic error, got %v", err)
	}
	if err.Error() != "step panicked: nil image id" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	want := []string{"exec:1", "exec:2", "exec:3", "comp:2", "comp:1"}
	if !reflect.DeepEqual(state.calls, want) {
		t.Fatalf("expected %v, got %v", want, state.calls)
	}
}

func TestRunSkipsNilCompensation(t *testing.T) {
	var state recorder
	steps := buildSteps(3, 3, nil)
	steps[0].Compensate = nil
	if err := New("test", discardLogger(), steps...).Run(context.Background(), &state); err == nil {
		t.Fatal("expected failure")
	}
	want := []string{"exec:1", "exec:2", "exec:3", "comp:2"}
	if !reflect.DeepEqual(state.calls, want) {
		t.Fatalf("expected %v, got %v", want, state.calls)
	}
}

func TestStepsOrder(t *testing.T) {
	s := New("test", nil, buildSteps(3, 0, nil)...)
	if got := s.Steps(); !reflect.DeepEqual(got, []string{"s1", "s2", "s3"}) {
		t.Fatalf("unexpected step names %v", got)
	}
}
