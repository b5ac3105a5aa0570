package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"edrconsole/internal/lifecycle"
	"edrconsole/internal/model"
	"edrconsole/internal/session"
)

type agentsGlazedCommand struct {
	*cmds.CommandDescription
}

type agentsSettings struct {
	ConfigPath string `glazed.parameter:"config"`
	BaseURL    string `glazed.parameter:"base-url"`
	KeyPath    string `glazed.parameter:"key"`
	LogLevel   string `glazed.parameter:"log-level"`
	OnlineOnly bool   `glazed.parameter:"online-only"`
	ByHostname bool   `glazed.parameter:"sort-hostname"`
}

func newAgentsGlazedCommand() (*agentsGlazedCommand, error) {
	return &agentsGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"agents",
			cmds.WithShort("List enrolled agents"),
			cmds.WithLong("Fetch the agent roster once and print status with online/offline counts."),
			cmds.WithFlags(withCommonFlags(
				parameters.NewParameterDefinition(
					"online-only",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Only show ONLINE agents"),
					parameters.WithDefault(false),
				),
				parameters.NewParameterDefinition(
					"sort-hostname",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Sort by hostname instead of backend order"),
					parameters.WithDefault(false),
				),
			)...),
		),
	}, nil
}

func (c *agentsGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &agentsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	runtime, err := openRuntime(commonSettings{
		ConfigPath: settings.ConfigPath,
		BaseURL:    settings.BaseURL,
		KeyPath:    settings.KeyPath,
		LogLevel:   settings.LogLevel,
	})
	if err != nil {
		return err
	}
	defer runtime.Close()

	agents, err := runtime.repository.ListAgents(ctx)
	if err != nil {
		return err
	}
	if settings.OnlineOnly {
		online := agents[:0]
		for _, agent := range agents {
			if agent.Online() {
				online = append(online, agent)
			}
		}
		agents = online
	}
	if settings.ByHostname {
		lifecycle.SortAgentsByHostname(agents)
	}
	return writeAgents(os.Stdout, agents)
}

var _ cmds.BareCommand = &agentsGlazedCommand{}

type commandsGlazedCommand struct {
	*cmds.CommandDescription
}

type commandsSettings struct {
	ConfigPath string `glazed.parameter:"config"`
	BaseURL    string `glazed.parameter:"base-url"`
	KeyPath    string `glazed.parameter:"key"`
	LogLevel   string `glazed.parameter:"log-level"`
	AgentID    string `glazed.parameter:"agent"`
	Limit      int    `glazed.parameter:"limit"`
	Since      string `glazed.parameter:"since"`
}

func newCommandsGlazedCommand() (*commandsGlazedCommand, error) {
	return &commandsGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"commands",
			cmds.WithShort("Show an agent's command history"),
			cmds.WithLong("Fetch one agent's commands, newest first, with sanitized output."),
			cmds.WithFlags(withCommonFlags(
				parameters.NewParameterDefinition(
					"agent",
					parameters.ParameterTypeString,
					parameters.WithHelp("Agent ID"),
					parameters.WithDefault(""),
				),
				parameters.NewParameterDefinition(
					"limit",
					parameters.ParameterTypeInteger,
					parameters.WithHelp("Show at most this many commands (0 = all returned)"),
					parameters.WithDefault(0),
				),
				parameters.NewParameterDefinition(
					"since",
					parameters.ParameterTypeString,
					parameters.WithHelp("Only show commands created after this RFC3339 timestamp"),
					parameters.WithDefault(""),
				),
			)...),
		),
	}, nil
}

func (c *commandsGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &commandsSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	agentID := strings.TrimSpace(settings.AgentID)
	if agentID == "" {
		return fmt.Errorf("--agent is required")
	}
	watermark, err := parseWatermark(settings.Since)
	if err != nil {
		return err
	}
	runtime, err := openRuntime(commonSettings{
		ConfigPath: settings.ConfigPath,
		BaseURL:    settings.BaseURL,
		KeyPath:    settings.KeyPath,
		LogLevel:   settings.LogLevel,
	})
	if err != nil {
		return err
	}
	defer runtime.Close()

	commands, err := runtime.repository.ListCommands(ctx, agentID)
	if err != nil {
		return err
	}
	lifecycle.SortCommandsNewestFirst(commands)
	commands = session.Visible(commands, watermark)
	commands = limitCommands(commands, settings.Limit)
	return writeCommands(os.Stdout, commands)
}

var _ cmds.BareCommand = &commandsGlazedCommand{}

func limitCommands(commands []model.Command, limit int) []model.Command {
	if limit <= 0 || len(commands) <= limit {
		return commands
	}
	return commands[:limit]
}
