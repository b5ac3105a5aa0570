package lifecycle

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"edrconsole/internal/eventbus"
	"edrconsole/internal/hsm"
	"edrconsole/internal/model"
)

const RosterScope = "roster"

type CommandLister interface {
	ListCommands(ctx context.Context, agentID string) ([]model.Command, error)
}

type AgentLister interface {
	ListAgents(ctx context.Context) ([]model.Agent, error)
}

type Options struct {
	Interval    time.Duration
	LogInterval time.Duration
	Publisher   eventbus.Publisher
	Logger      *zap.Logger
	Notify      func(scope string)
}

func AgentScope(agentID string) string {
	return "agent:" + strings.TrimSpace(agentID)
}

// NewCommandPoller tracks the command history of a single agent, newest
// first.
func NewCommandPoller(lister CommandLister, agentID string, options Options) (*Poller[model.Command], error) {
	agentID = strings.TrimSpace(agentID)
	if lister == nil {
		return nil, fmt.Errorf("command poller requires a command repository")
	}
	if agentID == "" {
		return nil, fmt.Errorf("command poller requires an agent id")
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scope := AgentScope(agentID)
	return NewPoller(Config[model.Command]{
		Scope:       scope,
		Interval:    options.Interval,
		LogInterval: options.LogInterval,
		Fetch: func(ctx context.Context) ([]model.Command, error) {
			return lister.ListCommands(ctx, agentID)
		},
		Order: SortCommandsNewestFirst,
		Compare: func(previous []model.Command, current []model.Command) {
			reportCommandChanges(options.Publisher, logger.With(zap.String("scope", scope)), agentID, previous, current)
		},
		Notify:    options.Notify,
		Publisher: options.Publisher,
		Logger:    logger,
	})
}

// NewRosterPoller tracks the agent roster in repository order.
func NewRosterPoller(lister AgentLister, options Options) (*Poller[model.Agent], error) {
	if lister == nil {
		return nil, fmt.Errorf("roster poller requires an agent repository")
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewPoller(Config[model.Agent]{
		Scope:       RosterScope,
		Interval:    options.Interval,
		LogInterval: options.LogInterval,
		Fetch:       lister.ListAgents,
		Compare: func(previous []model.Agent, current []model.Agent) {
			reportAgentChanges(logger.With(zap.String("scope", RosterScope)), previous, current)
		},
		Notify:    options.Notify,
		Publisher: options.Publisher,
		Logger:    logger,
	})
}

// SortCommandsNewestFirst orders by created_at descending. Equal timestamps
// keep the order the repository returned.
func SortCommandsNewestFirst(commands []model.Command) {
	slices.SortStableFunc(commands, func(a, b model.Command) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func SortAgentsByHostname(agents []model.Agent) {
	slices.SortStableFunc(agents, func(a, b model.Agent) int {
		return cmp.Compare(strings.ToLower(a.Hostname), strings.ToLower(b.Hostname))
	})
}

func reportCommandChanges(publisher eventbus.Publisher, logger *zap.Logger, agentID string, previous []model.Command, current []model.Command) {
	for _, change := range hsm.DiffCommands(previous, current) {
		if change.AgentID == "" {
			change.AgentID = agentID
		}
		fields := []zap.Field{
			zap.String("command_id", change.CommandID),
			zap.String("from", string(change.From)),
			zap.String("to", string(change.To)),
		}
		if change.Expected {
			logger.Debug("command status changed", fields...)
		} else {
			logger.Warn("unexpected command status change", fields...)
		}
		eventbus.PublishBestEffort(context.Background(), publisher, logger, eventbus.TopicCommandStatusChanged, change.CommandID, change)
	}
}

func reportAgentChanges(logger *zap.Logger, previous []model.Agent, current []model.Agent) {
	if len(previous) == 0 {
		return
	}
	before := make(map[string]model.AgentStatus, len(previous))
	for _, agent := range previous {
		before[agent.ID] = agent.Status
	}
	for _, agent := range current {
		from, ok := before[agent.ID]
		if !ok || from == agent.Status {
			continue
		}
		fields := []zap.Field{
			zap.String("agent_id", agent.ID),
			zap.String("hostname", agent.Hostname),
			zap.String("from", string(from)),
			zap.String("to", string(agent.Status)),
		}
		if hsm.CanTransitionAgent(from, agent.Status) {
			logger.Info("agent status changed", fields...)
		} else {
			logger.Warn("unexpected agent status change", fields...)
		}
	}
}
