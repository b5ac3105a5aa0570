package hsm

import (
	"testing"

	"edrconsole/internal/model"
)

func TestCommandTransitions(t *testing.T) {
	if !CanTransitionCommand(model.CommandStatusPending, model.CommandStatusSent) {
		t.Fatalf("expected PENDING -> SENT transition to be allowed")
	}
	if !CanTransitionCommand(model.CommandStatusSent, model.CommandStatusError) {
		t.Fatalf("expected SENT -> ERROR transition to be allowed")
	}
	if !CanTransitionCommand(model.CommandStatusPending, model.CommandStatusCompleted) {
		t.Fatalf("expected PENDING -> COMPLETED transition to be allowed when SENT is missed between polls")
	}
	if CanTransitionCommand(model.CommandStatusCompleted, model.CommandStatusPending) {
		t.Fatalf("expected COMPLETED -> PENDING transition to be disallowed")
	}
	if CanTransitionCommand(model.CommandStatusSent, model.CommandStatusPending) {
		t.Fatalf("expected SENT -> PENDING transition to be disallowed")
	}
	if !CanTransitionCommand(model.CommandStatusUnknown, model.CommandStatusCompleted) {
		t.Fatalf("expected transitions out of UNKNOWN to be allowed")
	}
}

func TestAgentTransitions(t *testing.T) {
	if !CanTransitionAgent(model.AgentStatusOnline, model.AgentStatusOffline) {
		t.Fatalf("expected ONLINE -> OFFLINE agent transition to be allowed")
	}
	if !CanTransitionAgent(model.AgentStatusOffline, model.AgentStatusOffline) {
		t.Fatalf("expected self transition to be allowed")
	}
}

func TestDiffCommandsReportsStatusChanges(t *testing.T) {
	previous := []model.Command{
		{ID: "cmd-1", Status: model.CommandStatusPending},
		{ID: "cmd-2", Status: model.CommandStatusSent},
		{ID: "cmd-3", Status: model.CommandStatusCompleted},
	}
	current := []model.Command{
		{ID: "cmd-4", Status: model.CommandStatusPending},
		{ID: "cmd-1", Status: model.CommandStatusSent},
		{ID: "cmd-2", Status: model.CommandStatusSent},
		{ID: "cmd-3", Status: model.CommandStatusPending},
	}
	changes := DiffCommands(previous, current)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(changes), changes)
	}
	if changes[0].CommandID != "cmd-1" || !changes[0].Expected {
		t.Fatalf("unexpected first change: %+v", changes[0])
	}
	if changes[1].CommandID != "cmd-3" || changes[1].Expected {
		t.Fatalf("expected cmd-3 regression to be flagged, got %+v", changes[1])
	}
}

func TestDiffCommandsWithoutPreviousSnapshot(t *testing.T) {
	if changes := DiffCommands(nil, []model.Command{{ID: "cmd-1", Status: model.CommandStatusSent}}); changes != nil {
		t.Fatalf("expected no changes for the first snapshot, got %+v", changes)
	}
}
