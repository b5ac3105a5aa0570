package hsm

import "edrconsole/internal/model"

// commandTransitions lists the status changes the backend is expected to
// make. The console only observes them; a change outside this table means the
// backend re-queued or rewrote a record.
var commandTransitions = map[model.CommandStatus]map[model.CommandStatus]bool{
	model.CommandStatusPending: {
		model.CommandStatusSent:      true,
		model.CommandStatusCompleted: true,
		model.CommandStatusError:     true,
	},
	model.CommandStatusSent: {
		model.CommandStatusCompleted: true,
		model.CommandStatusError:     true,
	},
}

var agentTransitions = map[model.AgentStatus]map[model.AgentStatus]bool{
	model.AgentStatusOnline: {
		model.AgentStatusOffline: true,
	},
	model.AgentStatusOffline: {
		model.AgentStatusOnline: true,
	},
}

func CanTransitionCommand(from model.CommandStatus, to model.CommandStatus) bool {
	if from == to {
		return true
	}
	// UNKNOWN is a client-side default, not a backend state.
	if from == model.CommandStatusUnknown || to == model.CommandStatusUnknown {
		return true
	}
	return commandTransitions[from][to]
}

func CanTransitionAgent(from model.AgentStatus, to model.AgentStatus) bool {
	if from == to {
		return true
	}
	return agentTransitions[from][to]
}

type CommandChange struct {
	CommandID string              `json:"command_id"`
	AgentID   string              `json:"agent_id,omitempty"`
	From      model.CommandStatus `json:"from"`
	To        model.CommandStatus `json:"to"`
	Expected  bool                `json:"expected"`
}

// DiffCommands compares two snapshots of the same scope by command ID and
// reports every status change. Commands that appear for the first time are
// not reported; neither are commands that disappeared.
func DiffCommands(previous []model.Command, current []model.Command) []CommandChange {
	if len(previous) == 0 {
		return nil
	}
	before := make(map[string]model.CommandStatus, len(previous))
	for _, command := range previous {
		if command.ID == "" {
			continue
		}
		before[command.ID] = command.Status
	}
	var changes []CommandChange
	for _, command := range current {
		from, ok := before[command.ID]
		if !ok || from == command.Status {
			continue
		}
		changes = append(changes, CommandChange{
			CommandID: command.ID,
			AgentID:   command.AgentID,
			From:      from,
			To:        command.Status,
			Expected:  CanTransitionCommand(from, command.Status),
		})
	}
	return changes
}
