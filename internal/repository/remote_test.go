package repository

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"edrconsole/internal/model"
)

func TestRemoteListAgentsNormalizesRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/agents" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer session-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get(HeaderOperator); got != "analyst@soc" {
			t.Errorf("unexpected operator header %q", got)
		}
		if r.Header.Get(HeaderRequestID) == "" {
			t.Errorf("expected request id header")
		}
		_, _ = w.Write([]byte(`[{"ID":"a1","Hostname":"web-01","Status":"ONLINE"},{"id":"a2","status":"OFFLINE"}]`))
	}))
	defer server.Close()

	repo := NewRemote(RemoteOptions{BaseURL: server.URL + "/api/", Timeout: 2 * time.Second, Token: "session-token", Operator: "analyst@soc"})
	agents, err := repo.ListAgents(t.Context())
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].ID != "a1" || !agents[0].Online() {
		t.Fatalf("unexpected first agent: %+v", agents[0])
	}
	if agents[1].ID != "a2" || agents[1].Hostname != model.UnknownHostname {
		t.Fatalf("unexpected second agent: %+v", agents[1])
	}
}

func TestRemoteListCommandsEscapesAgentID(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`[{"ID":"cmd-1","Payload":"SELECT 1;","Status":"SENT","CreatedAt":"2026-10-18T10:00:00Z"}]`))
	}))
	defer server.Close()

	repo := NewRemote(RemoteOptions{BaseURL: server.URL})
	commands, err := repo.ListCommands(t.Context(), "host/01")
	if err != nil {
		t.Fatalf("list commands: %v", err)
	}
	if gotPath != "/agents/host%2F01/commands" {
		t.Fatalf("unexpected escaped path %q", gotPath)
	}
	if len(commands) != 1 || commands[0].Status != model.CommandStatusSent {
		t.Fatalf("unexpected commands: %+v", commands)
	}
}

func TestRemoteCreateCommandSendsSignedBodyVerbatim(t *testing.T) {
	var body map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/agents/a1/osquery" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ID":"cmd-9","Payload":"  ls -la  ","Type":"SHELL","Status":"PENDING","CreatedAt":"2026-10-18T10:00:00Z"}`))
	}))
	defer server.Close()

	repo := NewRemote(RemoteOptions{BaseURL: server.URL})
	command, err := repo.CreateCommand(t.Context(), "a1", model.SignedRequest{
		Payload:   "  ls -la  ",
		Type:      model.CommandTypeShell,
		Signature: "abcd",
	})
	if err != nil {
		t.Fatalf("create command: %v", err)
	}
	if body["query"] != "  ls -la  " {
		t.Fatalf("expected payload to be sent untrimmed, got %q", body["query"])
	}
	if body["type"] != "SHELL" || body["signature"] != "abcd" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if command.ID != "cmd-9" || command.Status != model.CommandStatusPending {
		t.Fatalf("unexpected command: %+v", command)
	}
	if command.AgentID != "a1" {
		t.Fatalf("expected agent id to be filled from scope, got %q", command.AgentID)
	}
}

func TestRemoteErrorsBecomeTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agents/missing/commands":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"agent not found"}}`))
		case "/agents/a1/osquery":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Only SELECT queries are allowed"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`upstream down`))
		}
	}))
	defer server.Close()
	repo := NewRemote(RemoteOptions{BaseURL: server.URL})

	_, err := repo.ListCommands(t.Context(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found transport error, got %v", err)
	}

	_, err = repo.CreateCommand(t.Context(), "a1", model.SignedRequest{Payload: "DROP TABLE x", Signature: "ff"})
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transportErr.StatusCode != http.StatusBadRequest || transportErr.Message != "Only SELECT queries are allowed" {
		t.Fatalf("unexpected transport error: %+v", transportErr)
	}

	_, err = repo.ListAgents(t.Context())
	if err == nil || !strings.Contains(err.Error(), "http 502: upstream down") {
		t.Fatalf("expected raw body in error, got %v", err)
	}
}

func TestRemoteNetworkFailureIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	repo := NewRemote(RemoteOptions{BaseURL: baseURL, Timeout: time.Second})
	_, err := repo.ListAgents(t.Context())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transportErr.StatusCode != 0 || transportErr.Err == nil {
		t.Fatalf("expected wrapped network error, got %+v", transportErr)
	}
}

func TestRemoteRejectsBlankAgentID(t *testing.T) {
	repo := NewRemote(RemoteOptions{BaseURL: "http://127.0.0.1:1"})
	if _, err := repo.ListCommands(t.Context(), "  "); err == nil {
		t.Fatalf("expected error for blank agent id")
	}
	if _, err := repo.CreateCommand(t.Context(), "", model.SignedRequest{Payload: "x"}); err == nil {
		t.Fatalf("expected error for blank agent id")
	}
}
