package model

import "time"

// SignedRequest is the creation request for one command. Signature is the hex
// Ed25519 signature over exactly Payload.
type SignedRequest struct {
	Payload   string      `json:"query"`
	Type      CommandType `json:"type"`
	Signature string      `json:"signature"`
}

type BulkOutcome string

const (
	BulkOutcomeSent   BulkOutcome = "SENT"
	BulkOutcomeFailed BulkOutcome = "FAILED"
)

type BulkDispatchResult struct {
	AgentID   string      `json:"agent_id"`
	Outcome   BulkOutcome `json:"outcome"`
	CommandID string      `json:"command_id,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type BulkReport struct {
	OperationID string               `json:"operation_id"`
	Payload     string               `json:"payload"`
	Type        CommandType          `json:"type"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Results     []BulkDispatchResult `json:"results"`
}

func (r BulkReport) Sent() int {
	return r.count(BulkOutcomeSent)
}

func (r BulkReport) Failed() int {
	return r.count(BulkOutcomeFailed)
}

func (r BulkReport) Outcome(agentID string) (BulkOutcome, bool) {
	for _, result := range r.Results {
		if result.AgentID == agentID {
			return result.Outcome, true
		}
	}
	return "", false
}

func (r BulkReport) count(outcome BulkOutcome) int {
	total := 0
	for _, result := range r.Results {
		if result.Outcome == outcome {
			total++
		}
	}
	return total
}
