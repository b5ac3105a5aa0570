// Package console binds pollers, the dispatcher and the session filter into
// the views an operator works with: one agent's command terminal and the
// agent roster.
package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"edrconsole/internal/eventbus"
	"edrconsole/internal/lifecycle"
	"edrconsole/internal/model"
	"edrconsole/internal/session"
)

type Repository interface {
	ListAgents(ctx context.Context) ([]model.Agent, error)
	ListCommands(ctx context.Context, agentID string) ([]model.Command, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, agentID string, payload string, commandType model.CommandType) (model.Command, error)
}

type Options struct {
	DetailInterval time.Duration
	RosterInterval time.Duration
	LogInterval    time.Duration
	Publisher      eventbus.Publisher
	Logger         *zap.Logger
}

type Console struct {
	repository Repository
	dispatcher Dispatcher
	options    Options
	logger     *zap.Logger
	broker     *SnapshotBroker
}

func New(repository Repository, dispatcher Dispatcher, options Options) (*Console, error) {
	if repository == nil {
		return nil, fmt.Errorf("console requires a repository")
	}
	if options.DetailInterval <= 0 {
		options.DetailInterval = 2 * time.Second
	}
	if options.RosterInterval <= 0 {
		options.RosterInterval = 5 * time.Second
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		repository: repository,
		dispatcher: dispatcher,
		options:    options,
		logger:     logger,
		broker:     NewSnapshotBroker(16),
	}, nil
}

// Subscribe notifies on every fresh snapshot for scope. See
// lifecycle.AgentScope and lifecycle.RosterScope.
func (c *Console) Subscribe(scope string) (<-chan SnapshotEvent, func()) {
	return c.broker.Subscribe(scope)
}

func (c *Console) Close() {
	c.broker.Close()
}

// OpenAgent starts polling one agent's commands. The view owns its poller
// and its clear watermark; Close discards both.
func (c *Console) OpenAgent(ctx context.Context, agentID string) (*AgentView, error) {
	agentID = strings.TrimSpace(agentID)
	poller, err := lifecycle.NewCommandPoller(c.repository, agentID, lifecycle.Options{
		Interval:    c.options.DetailInterval,
		LogInterval: c.options.LogInterval,
		Publisher:   c.options.Publisher,
		Logger:      c.logger,
		Notify:      c.notify,
	})
	if err != nil {
		return nil, err
	}
	poller.Start(ctx)
	c.logger.Debug("agent view opened", zap.String("agent_id", agentID))
	return &AgentView{
		agentID:    agentID,
		poller:     poller,
		filter:     session.NewFilter(),
		dispatcher: c.dispatcher,
	}, nil
}

func (c *Console) OpenRoster(ctx context.Context) (*RosterView, error) {
	poller, err := lifecycle.NewRosterPoller(c.repository, lifecycle.Options{
		Interval:    c.options.RosterInterval,
		LogInterval: c.options.LogInterval,
		Publisher:   c.options.Publisher,
		Logger:      c.logger,
		Notify:      c.notify,
	})
	if err != nil {
		return nil, err
	}
	poller.Start(ctx)
	return &RosterView{poller: poller}, nil
}

func (c *Console) notify(scope string) {
	c.broker.Publish(scope)
}

type AgentView struct {
	agentID    string
	poller     *lifecycle.Poller[model.Command]
	filter     *session.Filter
	dispatcher Dispatcher
}

func (v *AgentView) AgentID() string {
	return v.agentID
}

func (v *AgentView) Scope() string {
	return v.poller.Scope()
}

// Commands is the latest snapshot, newest first.
func (v *AgentView) Commands() []model.Command {
	return v.poller.Items()
}

// Visible is the snapshot minus everything at or before the last Clear.
func (v *AgentView) Visible() []model.Command {
	return v.filter.Visible(v.Scope(), v.poller.Items())
}

func (v *AgentView) Clear() time.Time {
	return v.filter.Clear(v.Scope())
}

// InFlight reports whether any command in the snapshot is still PENDING or
// SENT.
func (v *AgentView) InFlight() bool {
	return model.AnyInFlight(v.poller.Items())
}

func (v *AgentView) Stats() lifecycle.Stats {
	return v.poller.Stats()
}

// Execute dispatches to this view's agent and refreshes the snapshot without
// waiting for the next tick. A failed refresh is left to the poller.
func (v *AgentView) Execute(ctx context.Context, payload string, commandType model.CommandType) (model.Command, error) {
	if v.dispatcher == nil {
		return model.Command{}, fmt.Errorf("console has no dispatcher")
	}
	command, err := v.dispatcher.Dispatch(ctx, v.agentID, payload, commandType)
	if err != nil {
		return model.Command{}, err
	}
	// Failures are logged by the poller and keep the previous snapshot. A tick
	// racing this refresh cannot replace a newer result with an older one.
	_ = v.poller.PollOnce(ctx)
	return command, nil
}

func (v *AgentView) Close() {
	v.poller.Stop()
}

type RosterView struct {
	poller *lifecycle.Poller[model.Agent]
}

func (v *RosterView) Agents() []model.Agent {
	return v.poller.Items()
}

func (v *RosterView) Counts() model.RosterCounts {
	return model.CountAgents(v.poller.Items())
}

func (v *RosterView) Stats() lifecycle.Stats {
	return v.poller.Stats()
}

func (v *RosterView) Close() {
	v.poller.Stop()
}
