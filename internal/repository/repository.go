package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"edrconsole/internal/model"
)

// Repository is the remote command store. It is the only source of truth
// for agents and command status; the console never mutates records it reads.
type Repository interface {
	ListAgents(ctx context.Context) ([]model.Agent, error)
	ListCommands(ctx context.Context, agentID string) ([]model.Command, error)
	CreateCommand(ctx context.Context, agentID string, request model.SignedRequest) (model.Command, error)
}

// TransportError wraps a failed request: network failures, timeouts and
// non-2xx responses all surface as TransportError.
type TransportError struct {
	Op         string
	AgentID    string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.AgentID != "" {
		fmt.Fprintf(&b, " agent=%s", e.AgentID)
	}
	switch {
	case e.StatusCode > 0 && e.Code != "":
		fmt.Fprintf(&b, ": %s (http %d): %s", e.Code, e.StatusCode, e.Message)
	case e.StatusCode > 0:
		fmt.Fprintf(&b, ": http %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		return false
	}
	return transportErr.StatusCode == 404 || strings.EqualFold(transportErr.Code, "not_found")
}
