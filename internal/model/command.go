package model

import (
	"strings"
	"time"
)

type CommandType string

const (
	CommandTypeOsquery CommandType = "OSQUERY"
	CommandTypeShell   CommandType = "SHELL"
)

type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "PENDING"
	CommandStatusSent      CommandStatus = "SENT"
	CommandStatusCompleted CommandStatus = "COMPLETED"
	CommandStatusError     CommandStatus = "ERROR"
	CommandStatusUnknown   CommandStatus = "UNKNOWN"
)

type Command struct {
	ID           string        `json:"id"`
	AgentID      string        `json:"agent_id,omitempty"`
	Payload      string        `json:"payload"`
	Type         CommandType   `json:"type"`
	Status       CommandStatus `json:"status"`
	ResultOutput string        `json:"result_output,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

func (c Command) Terminal() bool {
	return c.Status.Terminal()
}

func (c Command) InFlight() bool {
	return c.Status == CommandStatusPending || c.Status == CommandStatusSent
}

func (s CommandStatus) Terminal() bool {
	return s == CommandStatusCompleted || s == CommandStatusError
}

// ParseCommandStatus maps missing or unrecognized values to UNKNOWN; it never
// guesses PENDING.
func ParseCommandStatus(value string) CommandStatus {
	switch status := CommandStatus(strings.ToUpper(strings.TrimSpace(value))); status {
	case CommandStatusPending, CommandStatusSent, CommandStatusCompleted, CommandStatusError:
		return status
	default:
		return CommandStatusUnknown
	}
}

// ParseCommandType defaults blank values to OSQUERY and keeps any other value
// upper-cased as reported.
func ParseCommandType(value string) CommandType {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return CommandTypeOsquery
	}
	return CommandType(value)
}

func (t CommandType) Valid() bool {
	return t == CommandTypeOsquery || t == CommandTypeShell
}

func AnyInFlight(commands []Command) bool {
	for _, command := range commands {
		if command.InFlight() {
			return true
		}
	}
	return false
}
