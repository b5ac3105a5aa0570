package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"edrconsole/internal/console"
	"edrconsole/internal/display"
	"edrconsole/internal/lifecycle"
)

type watchGlazedCommand struct {
	*cmds.CommandDescription
}

type watchSettings struct {
	ConfigPath string `glazed.parameter:"config"`
	BaseURL    string `glazed.parameter:"base-url"`
	KeyPath    string `glazed.parameter:"key"`
	LogLevel   string `glazed.parameter:"log-level"`
	AgentID    string `glazed.parameter:"agent"`
	Query      string `glazed.parameter:"query"`
	Preset     string `glazed.parameter:"preset"`
	Type       string `glazed.parameter:"type"`
	Clear      bool   `glazed.parameter:"clear"`
}

func newWatchGlazedCommand() (*watchGlazedCommand, error) {
	flags := append(payloadFlags(),
		parameters.NewParameterDefinition(
			"agent",
			parameters.ParameterTypeString,
			parameters.WithHelp("Agent to watch; omit to watch the roster"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"clear",
			parameters.ParameterTypeBool,
			parameters.WithHelp("Hide commands created before the watch started (local only)"),
			parameters.WithDefault(false),
		),
	)
	return &watchGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"watch",
			cmds.WithShort("Live view of an agent terminal or the roster"),
			cmds.WithLong("Poll an agent's commands (or the roster) and redraw on every fresh snapshot. With --query or --preset the command is dispatched first."),
			cmds.WithFlags(withCommonFlags(flags...)...),
		),
	}, nil
}

func (c *watchGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &watchSettings{}
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

	hasPayload := strings.TrimSpace(settings.Query) != "" || strings.TrimSpace(settings.Preset) != ""
	var dispatcher console.Dispatcher
	if hasPayload {
		d, err := runtime.dispatcher()
		if err != nil {
			return err
		}
		dispatcher = d
	}
	session, err := console.New(runtime.repository, dispatcher, console.Options{
		DetailInterval: runtime.cfg.DetailInterval(),
		RosterInterval: runtime.cfg.RosterInterval(),
		LogInterval:    runtime.cfg.LogInterval(),
		Publisher:      runtime.bus,
		Logger:         runtime.logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	agentID := strings.TrimSpace(settings.AgentID)
	if agentID == "" {
		if hasPayload {
			return fmt.Errorf("--agent is required with --query or --preset; use bulk for many agents")
		}
		return watchRoster(ctx, os.Stdout, session, runtime.cfg.RosterInterval())
	}

	events, unsubscribe := session.Subscribe(lifecycle.AgentScope(agentID))
	defer unsubscribe()
	view, err := session.OpenAgent(ctx, agentID)
	if err != nil {
		return err
	}
	defer view.Close()
	if settings.Clear {
		view.Clear()
	}
	if hasPayload {
		payload, commandType, err := resolveCommand(settings.Query, settings.Preset, settings.Type)
		if err != nil {
			return err
		}
		if _, err := view.Execute(ctx, payload, commandType); err != nil {
			return err
		}
	}

	// Failed polls send no snapshot event; the ticker redraws the stale notice.
	interval := runtime.cfg.DetailInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		writeFrameHeader(os.Stdout, view.Scope(), interval, view.InFlight())
		writeStaleNotice(os.Stdout, view.Stats())
		if err := writeCommands(os.Stdout, view.Visible()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			fmt.Println("\nWatch stopped.")
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
		case <-ticker.C:
		}
	}
}

var _ cmds.BareCommand = &watchGlazedCommand{}

func watchRoster(ctx context.Context, w io.Writer, session *console.Console, interval time.Duration) error {
	events, unsubscribe := session.Subscribe(lifecycle.RosterScope)
	defer unsubscribe()
	view, err := session.OpenRoster(ctx)
	if err != nil {
		return err
	}
	defer view.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		writeFrameHeader(w, lifecycle.RosterScope, interval, false)
		writeStaleNotice(w, view.Stats())
		if err := writeAgents(w, view.Agents()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(w, "\nWatch stopped.")
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
		case <-ticker.C:
		}
	}
}

// writeStaleNotice tells the operator the view is the last good snapshot.
func writeStaleNotice(w io.Writer, stats lifecycle.Stats) {
	if stats.ConsecutiveErrors == 0 {
		return
	}
	// LastError can carry a backend-supplied message.
	lastError := strings.Join(strings.Fields(display.Sanitize(stats.LastError)), " ")
	fmt.Fprintf(w, "stale: %d failed poll(s), last error: %s\n", stats.ConsecutiveErrors, lastError)
}
