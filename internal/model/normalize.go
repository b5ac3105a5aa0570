package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// record is one JSON object from the collaborator API. Field names arrive as
// either PascalCase or snake_case; lookups take every accepted spelling and
// the first present, non-empty value wins.
type record map[string]json.RawMessage

func (r record) str(keys ...string) string {
	for _, key := range keys {
		raw, ok := r[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			// Numeric IDs and similar scalars are kept verbatim.
			text := strings.TrimSpace(string(raw))
			if text == "" || text == "null" {
				continue
			}
			value = strings.Trim(text, `"`)
		}
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (r record) time(keys ...string) *time.Time {
	value := strings.TrimSpace(r.str(keys...))
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		parsed, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if parsed.IsZero() {
			return nil
		}
		return &parsed
	}
	return nil
}

func normalizeAgent(r record) Agent {
	hostname := r.str("Hostname", "hostname")
	if hostname == "" {
		hostname = UnknownHostname
	}
	return Agent{
		ID:        r.str("ID", "id"),
		Hostname:  hostname,
		OSType:    ParseOSType(r.str("OsType", "os_type")),
		OSVersion: r.str("OsVersion", "os_version"),
		IPAddress: r.str("IpAddress", "ip_address"),
		Status:    ParseAgentStatus(r.str("Status", "status")),
		LastSeen:  r.time("LastSeen", "last_seen"),
		Name:      r.str("AgentName", "agent_name", "Name", "name"),
		Group:     r.str("AgentGroup", "agent_group", "Group", "group"),
	}
}

func normalizeCommand(r record) Command {
	command := Command{
		ID:           r.str("ID", "id"),
		AgentID:      r.str("AgentID", "agent_id"),
		Payload:      r.str("Payload", "payload"),
		Type:         ParseCommandType(r.str("Type", "type")),
		Status:       ParseCommandStatus(r.str("Status", "status")),
		ResultOutput: r.str("ResultOutput", "result_output"),
		ErrorMessage: r.str("ErrorMessage", "error_message"),
		CompletedAt:  r.time("CompletedAt", "completed_at"),
	}
	if created := r.time("CreatedAt", "created_at"); created != nil {
		command.CreatedAt = *created
	}
	return command
}

func DecodeAgents(data []byte) ([]Agent, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	agents := make([]Agent, 0, len(records))
	for _, r := range records {
		agents = append(agents, normalizeAgent(r))
	}
	return agents, nil
}

func DecodeCommands(data []byte) ([]Command, error) {
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	commands := make([]Command, 0, len(records))
	for _, r := range records {
		commands = append(commands, normalizeCommand(r))
	}
	return commands, nil
}

func DecodeCommand(data []byte) (Command, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return normalizeCommand(r), nil
}
