package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"edrconsole/internal/model"
)

func TestAwaitTerminalReturnsCompletedCommand(t *testing.T) {
	lister := &scriptedCommands{responses: [][]model.Command{
		{{ID: "c1", Status: model.CommandStatusPending}},
		{{ID: "c1", Status: model.CommandStatusSent}},
		{{ID: "c1", Status: model.CommandStatusCompleted, ResultOutput: `[{"uid":"0"}]`}},
	}}
	command, err := AwaitTerminal(context.Background(), lister, "a1", "c1", time.Millisecond, 10)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if command.Status != model.CommandStatusCompleted || lister.calls != 3 {
		t.Fatalf("unexpected result %+v after %d calls", command, lister.calls)
	}
}

func TestAwaitTerminalGivesUpAfterMaxAttempts(t *testing.T) {
	lister := &scriptedCommands{responses: [][]model.Command{{{ID: "c1", Status: model.CommandStatusSent}}}}
	command, err := AwaitTerminal(context.Background(), lister, "a1", "c1", time.Millisecond, 3)
	if !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
	if command.Status != model.CommandStatusSent || lister.calls != 3 {
		t.Fatalf("expected last observed SENT record after 3 calls, got %+v after %d", command, lister.calls)
	}
}

func TestAwaitTerminalMissingCommand(t *testing.T) {
	lister := &scriptedCommands{responses: [][]model.Command{{{ID: "other", Status: model.CommandStatusCompleted}}}}
	if _, err := AwaitTerminal(context.Background(), lister, "a1", "c1", time.Millisecond, 2); !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("expected ErrCommandNotFound, got %v", err)
	}
}

func TestAwaitTerminalHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lister := &scriptedCommands{responses: [][]model.Command{{{ID: "c1", Status: model.CommandStatusPending}}}}
	if _, err := AwaitTerminal(ctx, lister, "a1", "c1", time.Hour, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if lister.calls != 0 {
		t.Fatalf("expected no fetch after cancellation, got %d", lister.calls)
	}
}
