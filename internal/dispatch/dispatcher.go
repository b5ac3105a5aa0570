// Package dispatch signs operator commands and submits them to one or many
// agents.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"edrconsole/internal/eventbus"
	"edrconsole/internal/model"
)

var (
	ErrEmptyPayload = errors.New("command payload is empty")
	ErrNoTargets    = errors.New("no target agents")
)

type Signer interface {
	Sign(payload string) (string, error)
}

type Submitter interface {
	CreateCommand(ctx context.Context, agentID string, request model.SignedRequest) (model.Command, error)
}

type AgentLister interface {
	ListAgents(ctx context.Context) ([]model.Agent, error)
}

type Options struct {
	// Concurrency caps in-flight bulk submissions. Zero or less means one
	// goroutine per target, so a hung target never holds up the rest. A
	// positive cap is opt-in.
	Concurrency int
	// RatePerSecond throttles bulk submissions. Zero disables throttling.
	RatePerSecond float64
}

// DispatchedEvent is published once per accepted submission.
type DispatchedEvent struct {
	OperationID string            `json:"operation_id,omitempty"`
	AgentID     string            `json:"agent_id"`
	CommandID   string            `json:"command_id"`
	Type        model.CommandType `json:"type"`
}

type Dispatcher struct {
	signer    Signer
	submitter Submitter
	publisher eventbus.Publisher
	logger    *zap.Logger
	options   Options
	now       func() time.Time

	mu       sync.Mutex
	lastBulk *model.BulkReport
	entropy  io.Reader
}

func New(signer Signer, submitter Submitter, publisher eventbus.Publisher, logger *zap.Logger, options Options) (*Dispatcher, error) {
	if signer == nil {
		return nil, fmt.Errorf("dispatcher requires a signer")
	}
	if submitter == nil {
		return nil, fmt.Errorf("dispatcher requires a command repository")
	}
	if options.RatePerSecond < 0 {
		return nil, fmt.Errorf("rate per second must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		signer:    signer,
		submitter: submitter,
		publisher: publisher,
		logger:    logger,
		options:   options,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// Dispatch signs payload and submits it to a single agent. It returns once
// the repository acknowledges the command; it does not wait for execution.
func (d *Dispatcher) Dispatch(ctx context.Context, agentID string, payload string, commandType model.CommandType) (model.Command, error) {
	agentID = strings.TrimSpace(agentID)
	if strings.TrimSpace(payload) == "" {
		return model.Command{}, ErrEmptyPayload
	}
	if agentID == "" {
		return model.Command{}, ErrNoTargets
	}
	request, err := d.authorize(payload, commandType)
	if err != nil {
		return model.Command{}, err
	}

	command, err := d.submitter.CreateCommand(ctx, agentID, request)
	if err != nil {
		d.logger.Warn("command dispatch failed", zap.String("agent_id", agentID), zap.Error(err))
		return model.Command{}, err
	}
	if command.AgentID == "" {
		command.AgentID = agentID
	}
	d.logger.Info("command dispatched",
		zap.String("agent_id", agentID),
		zap.String("command_id", command.ID),
		zap.String("type", string(request.Type)),
	)
	eventbus.PublishBestEffort(ctx, d.publisher, d.logger, eventbus.TopicCommandDispatched, agentID, DispatchedEvent{
		AgentID:   agentID,
		CommandID: command.ID,
		Type:      request.Type,
	})
	return command, nil
}

// DispatchBulk signs payload once and submits it to every target
// concurrently. A failed submission is recorded as FAILED for that target
// only; the report always holds one result per distinct target, in input
// order. Only signing failures and empty input are returned as errors.
func (d *Dispatcher) DispatchBulk(ctx context.Context, targetIDs []string, payload string, commandType model.CommandType) (model.BulkReport, error) {
	if strings.TrimSpace(payload) == "" {
		return model.BulkReport{}, ErrEmptyPayload
	}
	targets := uniqueTargets(targetIDs)
	if len(targets) == 0 {
		return model.BulkReport{}, ErrNoTargets
	}
	request, err := d.authorize(payload, commandType)
	if err != nil {
		return model.BulkReport{}, err
	}

	report := model.BulkReport{
		OperationID: d.newOperationID(),
		Payload:     payload,
		Type:        request.Type,
		StartedAt:   d.now().UTC(),
		Results:     make([]model.BulkDispatchResult, len(targets)),
	}
	logger := d.logger.With(zap.String("operation_id", report.OperationID))

	var limiter *rate.Limiter
	if d.options.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(d.options.RatePerSecond), 1)
	}

	// Submissions never return an error to the group, so one target's
	// failure cannot cancel the others.
	var group errgroup.Group
	if d.options.Concurrency > 0 {
		group.SetLimit(d.options.Concurrency)
	}
	for i, agentID := range targets {
		group.Go(func() error {
			report.Results[i] = d.submitOne(ctx, logger, limiter, report.OperationID, agentID, request)
			return nil
		})
	}
	_ = group.Wait()
	report.FinishedAt = d.now().UTC()

	d.mu.Lock()
	stored := report
	d.lastBulk = &stored
	d.mu.Unlock()

	logger.Info("bulk dispatch finished",
		zap.Int("targets", len(report.Results)),
		zap.Int("sent", report.Sent()),
		zap.Int("failed", report.Failed()),
	)
	eventbus.PublishBestEffort(ctx, d.publisher, d.logger, eventbus.TopicBulkCompleted, report.OperationID, report)
	return report, nil
}

// DispatchMatching bulk-dispatches to every roster agent accepted by match.
// Failing to list the roster is a hard failure.
func (d *Dispatcher) DispatchMatching(ctx context.Context, lister AgentLister, match func(model.Agent) bool, payload string, commandType model.CommandType) (model.BulkReport, error) {
	if strings.TrimSpace(payload) == "" {
		return model.BulkReport{}, ErrEmptyPayload
	}
	if lister == nil {
		return model.BulkReport{}, fmt.Errorf("enumerate targets: no agent lister")
	}
	agents, err := lister.ListAgents(ctx)
	if err != nil {
		return model.BulkReport{}, fmt.Errorf("enumerate targets: %w", err)
	}
	targets := make([]string, 0, len(agents))
	for _, agent := range agents {
		if match == nil || match(agent) {
			targets = append(targets, agent.ID)
		}
	}
	return d.DispatchBulk(ctx, targets, payload, commandType)
}

// LastBulk returns the report of the most recent bulk dispatch.
func (d *Dispatcher) LastBulk() (model.BulkReport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastBulk == nil {
		return model.BulkReport{}, false
	}
	report := *d.lastBulk
	report.Results = append([]model.BulkDispatchResult(nil), d.lastBulk.Results...)
	return report, true
}

func OnlineOnly(agent model.Agent) bool {
	return agent.Online()
}

func (d *Dispatcher) authorize(payload string, commandType model.CommandType) (model.SignedRequest, error) {
	commandType = model.ParseCommandType(string(commandType))
	if !commandType.Valid() {
		return model.SignedRequest{}, fmt.Errorf("unsupported command type %q", commandType)
	}
	signature, err := d.signer.Sign(payload)
	if err != nil {
		d.logger.Error("command signing failed", zap.Error(err))
		return model.SignedRequest{}, fmt.Errorf("sign command: %w", err)
	}
	return model.SignedRequest{Payload: payload, Type: commandType, Signature: signature}, nil
}

func (d *Dispatcher) submitOne(ctx context.Context, logger *zap.Logger, limiter *rate.Limiter, operationID string, agentID string, request model.SignedRequest) model.BulkDispatchResult {
	result := model.BulkDispatchResult{AgentID: agentID, Outcome: model.BulkOutcomeFailed}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			result.Error = err.Error()
			return result
		}
	}
	command, err := d.submitter.CreateCommand(ctx, agentID, request)
	if err != nil {
		logger.Warn("bulk target failed", zap.String("agent_id", agentID), zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.Outcome = model.BulkOutcomeSent
	result.CommandID = command.ID
	eventbus.PublishBestEffort(ctx, d.publisher, logger, eventbus.TopicCommandDispatched, agentID, DispatchedEvent{
		OperationID: operationID,
		AgentID:     agentID,
		CommandID:   command.ID,
		Type:        request.Type,
	})
	return result
}

func (d *Dispatcher) newOperationID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(d.now()), d.entropy).String()
}

func uniqueTargets(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
