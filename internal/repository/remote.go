package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"edrconsole/internal/model"
)

const (
	HeaderOperator  = "X-Operator"
	HeaderRequestID = "X-Request-ID"
)

type RemoteOptions struct {
	BaseURL  string
	Timeout  time.Duration
	Token    string
	Operator string
}

type RemoteRepository struct {
	client *resty.Client
}

func NewRemote(options RemoteOptions) *RemoteRepository {
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token := strings.TrimSpace(options.Token); token != "" {
		client.SetAuthToken(token)
	}
	if operator := strings.TrimSpace(options.Operator); operator != "" {
		client.SetHeader(HeaderOperator, operator)
	}
	return &RemoteRepository{client: client}
}

func (r *RemoteRepository) ListAgents(ctx context.Context) ([]model.Agent, error) {
	body, err := r.do(ctx, "list agents", "", http.MethodGet, "/agents", nil, nil)
	if err != nil {
		return nil, err
	}
	agents, err := model.DecodeAgents(body)
	if err != nil {
		return nil, &TransportError{Op: "list agents", Err: err}
	}
	return agents, nil
}

func (r *RemoteRepository) ListCommands(ctx context.Context, agentID string) ([]model.Command, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, fmt.Errorf("list commands: agent id is required")
	}
	body, err := r.do(ctx, "list commands", agentID, http.MethodGet, "/agents/{id}/commands", map[string]string{"id": agentID}, nil)
	if err != nil {
		return nil, err
	}
	commands, err := model.DecodeCommands(body)
	if err != nil {
		return nil, &TransportError{Op: "list commands", AgentID: agentID, Err: err}
	}
	return commands, nil
}

// CreateCommand submits request verbatim. The payload is not trimmed here:
// the signature covers the exact bytes.
func (r *RemoteRepository) CreateCommand(ctx context.Context, agentID string, request model.SignedRequest) (model.Command, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return model.Command{}, fmt.Errorf("create command: agent id is required")
	}
	body, err := r.do(ctx, "create command", agentID, http.MethodPost, "/agents/{id}/osquery", map[string]string{"id": agentID}, request)
	if err != nil {
		return model.Command{}, err
	}
	command, err := model.DecodeCommand(body)
	if err != nil {
		return model.Command{}, &TransportError{Op: "create command", AgentID: agentID, Err: err}
	}
	if command.AgentID == "" {
		command.AgentID = agentID
	}
	return command, nil
}

func (r *RemoteRepository) do(ctx context.Context, op string, agentID string, method string, path string, pathParams map[string]string, body any) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	request := r.client.R().
		SetContext(ctx).
		SetHeader(HeaderRequestID, uuid.NewString())
	if len(pathParams) > 0 {
		request.SetPathParams(pathParams)
	}
	if body != nil {
		request.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	response, err := request.Execute(method, path)
	if err != nil {
		return nil, &TransportError{Op: op, AgentID: agentID, Err: err}
	}
	if response.StatusCode() < 200 || response.StatusCode() >= 300 {
		return nil, decodeRemoteError(op, agentID, response.StatusCode(), response.Body())
	}
	return response.Body(), nil
}

func decodeRemoteError(op string, agentID string, status int, payload []byte) error {
	transportErr := &TransportError{Op: op, AgentID: agentID, StatusCode: status}
	if len(payload) > 4096 {
		payload = payload[:4096]
	}

	var structured struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &structured); err == nil && strings.TrimSpace(structured.Error.Code) != "" {
		transportErr.Code = strings.TrimSpace(structured.Error.Code)
		transportErr.Message = strings.TrimSpace(structured.Error.Message)
		return transportErr
	}

	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &flat); err == nil && strings.TrimSpace(flat.Error) != "" {
		transportErr.Message = strings.TrimSpace(flat.Error)
		return transportErr
	}

	transportErr.Message = strings.TrimSpace(string(payload))
	return transportErr
}
