package model

import (
	"strings"
	"time"
)

type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "ONLINE"
	AgentStatusOffline AgentStatus = "OFFLINE"
)

type OSType string

const (
	OSTypeLinux   OSType = "linux"
	OSTypeWindows OSType = "windows"
	OSTypeDarwin  OSType = "darwin"
	OSTypeUnknown OSType = "unknown"
)

const UnknownHostname = "Unknown"

type Agent struct {
	ID        string      `json:"id"`
	Hostname  string      `json:"hostname"`
	OSType    OSType      `json:"os_type"`
	OSVersion string      `json:"os_version,omitempty"`
	IPAddress string      `json:"ip_address,omitempty"`
	Status    AgentStatus `json:"status"`
	LastSeen  *time.Time  `json:"last_seen,omitempty"`
	Name      string      `json:"name,omitempty"`
	Group     string      `json:"group,omitempty"`
}

func (a Agent) Online() bool {
	return a.Status == AgentStatusOnline
}

// NeverSeen reports whether the backend has no heartbeat on record.
func (a Agent) NeverSeen() bool {
	return a.LastSeen == nil
}

func ParseAgentStatus(value string) AgentStatus {
	switch AgentStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case AgentStatusOnline:
		return AgentStatusOnline
	default:
		return AgentStatusOffline
	}
}

func ParseOSType(value string) OSType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "linux":
		return OSTypeLinux
	case "windows":
		return OSTypeWindows
	case "darwin", "macos", "mac", "osx":
		return OSTypeDarwin
	default:
		return OSTypeUnknown
	}
}

type RosterCounts struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

func CountAgents(agents []Agent) RosterCounts {
	counts := RosterCounts{Total: len(agents)}
	for _, agent := range agents {
		if agent.Online() {
			counts.Online++
		}
	}
	counts.Offline = counts.Total - counts.Online
	return counts
}
