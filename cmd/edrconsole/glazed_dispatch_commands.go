package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"go.uber.org/zap"

	"edrconsole/internal/display"
	"edrconsole/internal/dispatch"
	"edrconsole/internal/lifecycle"
	"edrconsole/internal/model"
)

func payloadFlags() []*parameters.ParameterDefinition {
	return []*parameters.ParameterDefinition{
		parameters.NewParameterDefinition(
			"query",
			parameters.ParameterTypeString,
			parameters.WithHelp("Literal command text; sent and signed exactly as given"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"preset",
			parameters.ParameterTypeString,
			parameters.WithHelp("Canned osquery statement: "+strings.Join(presetNames(), "|")),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"type",
			parameters.ParameterTypeString,
			parameters.WithHelp("Command type: OSQUERY|SHELL"),
			parameters.WithDefault(string(model.CommandTypeOsquery)),
		),
	}
}

type dispatchGlazedCommand struct {
	*cmds.CommandDescription
}

type dispatchSettings struct {
	ConfigPath string `glazed.parameter:"config"`
	BaseURL    string `glazed.parameter:"base-url"`
	KeyPath    string `glazed.parameter:"key"`
	LogLevel   string `glazed.parameter:"log-level"`
	AgentID    string `glazed.parameter:"agent"`
	Query      string `glazed.parameter:"query"`
	Preset     string `glazed.parameter:"preset"`
	Type       string `glazed.parameter:"type"`
	Wait       bool   `glazed.parameter:"wait"`
}

func newDispatchGlazedCommand() (*dispatchGlazedCommand, error) {
	flags := append(payloadFlags(),
		parameters.NewParameterDefinition(
			"agent",
			parameters.ParameterTypeString,
			parameters.WithHelp("Target agent ID"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"wait",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Poll until the command completes or fails"),
			parameters.WithDefault(false),
		),
	)
	return &dispatchGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"dispatch",
			cmds.WithShort("Sign and send a command to one agent"),
			cmds.WithLong("Sign the payload with the configured Ed25519 key, submit it to one agent and optionally wait for its result."),
			cmds.WithFlags(withCommonFlags(flags...)...),
		),
	}, nil
}

func (c *dispatchGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &dispatchSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	agentID := strings.TrimSpace(settings.AgentID)
	if agentID == "" {
		return fmt.Errorf("--agent is required")
	}
	payload, commandType, err := resolveCommand(settings.Query, settings.Preset, settings.Type)
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

	dispatcher, err := runtime.dispatcher()
	if err != nil {
		return err
	}
	command, err := dispatcher.Dispatch(ctx, agentID, payload, commandType)
	if err != nil {
		return err
	}
	fmt.Printf("Command %s queued for %s (status %s).\n", command.ID, agentID, display.StatusLabel(command.Status))
	if !settings.Wait {
		return nil
	}

	final, err := lifecycle.AwaitTerminal(ctx, runtime.repository, agentID, command.ID,
		runtime.cfg.AwaitInterval(), uint(runtime.cfg.Dispatch.AwaitMaxAttempts))
	if final.ID != "" {
		if writeErr := writeCommand(os.Stdout, display.NewCommandView(final, nil)); writeErr != nil {
			return writeErr
		}
	}
	return err
}

var _ cmds.BareCommand = &dispatchGlazedCommand{}

type bulkGlazedCommand struct {
	*cmds.CommandDescription
}

type bulkSettings struct {
	ConfigPath string   `glazed.parameter:"config"`
	BaseURL    string   `glazed.parameter:"base-url"`
	KeyPath    string   `glazed.parameter:"key"`
	LogLevel   string   `glazed.parameter:"log-level"`
	AgentIDs   []string `glazed.parameter:"agents"`
	AllOnline  bool     `glazed.parameter:"all-online"`
	Query      string   `glazed.parameter:"query"`
	Preset     string   `glazed.parameter:"preset"`
	Type       string   `glazed.parameter:"type"`
}

func newBulkGlazedCommand() (*bulkGlazedCommand, error) {
	flags := append(payloadFlags(),
		parameters.NewParameterDefinition(
			"agents",
			parameters.ParameterTypeStringList,
			parameters.WithHelp("Target agent IDs (repeatable, or comma-separated)"),
			parameters.WithDefault([]string{}),
		),
		parameters.NewParameterDefinition(
			"all-online",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Target every agent the roster reports ONLINE"),
			parameters.WithDefault(false),
		),
	)
	return &bulkGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"bulk",
			cmds.WithShort("Sign once and send a command to many agents"),
			cmds.WithLong("Sign the payload once and submit it to every target concurrently. Per-agent failures are reported, not raised."),
			cmds.WithFlags(withCommonFlags(flags...)...),
		),
	}, nil
}

func (c *bulkGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &bulkSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	targets := normalizeInputTokens(settings.AgentIDs)
	if settings.AllOnline == (len(targets) > 0) {
		return fmt.Errorf("exactly one of --agents or --all-online is required")
	}
	payload, commandType, err := resolveCommand(settings.Query, settings.Preset, settings.Type)
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

	dispatcher, err := runtime.dispatcher()
	if err != nil {
		return err
	}
	var report model.BulkReport
	if settings.AllOnline {
		report, err = dispatcher.DispatchMatching(ctx, runtime.repository, dispatch.OnlineOnly, payload, commandType)
	} else {
		report, err = dispatcher.DispatchBulk(ctx, targets, payload, commandType)
	}
	if err != nil {
		return err
	}
	if report.Failed() > 0 {
		runtime.logger.Warn("bulk dispatch had failures",
			zap.String("operation_id", report.OperationID),
			zap.Int("failed", report.Failed()),
		)
	}
	return writeBulkReport(os.Stdout, report)
}

var _ cmds.BareCommand = &bulkGlazedCommand{}

// resolveCommand picks the payload and type. Presets are always osquery.
func resolveCommand(query string, preset string, typ string) (string, model.CommandType, error) {
	payload, err := resolvePayload(query, preset)
	if err != nil {
		return "", "", err
	}
	commandType := model.ParseCommandType(typ)
	if strings.TrimSpace(preset) != "" {
		commandType = model.CommandTypeOsquery
	}
	if !commandType.Valid() {
		return "", "", fmt.Errorf("--type must be OSQUERY or SHELL, got %q", typ)
	}
	return payload, commandType, nil
}
