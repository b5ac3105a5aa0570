package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"go.uber.org/zap"

	"edrconsole/internal/eventbus"
)

var allTopics = []string{
	eventbus.TopicCommandDispatched,
	eventbus.TopicBulkCompleted,
	eventbus.TopicCommandStatusChanged,
	eventbus.TopicPollFailed,
}

type eventsTailGlazedCommand struct {
	*cmds.CommandDescription
}

type eventsTailSettings struct {
	ConfigPath string   `glazed.parameter:"config"`
	BaseURL    string   `glazed.parameter:"base-url"`
	KeyPath    string   `glazed.parameter:"key"`
	LogLevel   string   `glazed.parameter:"log-level"`
	Topics     []string `glazed.parameter:"topic"`
}

func newEventsTailGlazedCommand() (*eventsTailGlazedCommand, error) {
	return &eventsTailGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"events-tail",
			cmds.WithShort("Follow console events from the shared event backend"),
			cmds.WithLong("Subscribe to dispatch, status-change and poll-failure events. Needs events.backend=redis to see other processes."),
			cmds.WithFlags(withCommonFlags(
				parameters.NewParameterDefinition(
					"topic",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Topics to follow (repeatable, or comma-separated; default all)"),
					parameters.WithDefault([]string{}),
				),
			)...),
		),
	}, nil
}

func (c *eventsTailGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	settings := &eventsTailSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	topics := normalizeInputTokens(settings.Topics)
	if len(topics) == 0 {
		topics = allTopics
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
	if runtime.bus.Backend() != eventbus.BackendRedis {
		runtime.logger.Warn("events backend is process-local; only this process's events are visible",
			zap.String("backend", runtime.bus.Backend()))
	}

	merged := make(chan *message.Message)
	var wg sync.WaitGroup
	for _, topic := range topics {
		messages, err := runtime.bus.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				select {
				case merged <- msg:
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-merged:
			if !ok {
				return nil
			}
			envelope, err := eventbus.DecodeEnvelope(msg)
			if err != nil {
				runtime.logger.Warn("skipping undecodable event", zap.Error(err))
				msg.Ack()
				continue
			}
			if err := writeEnvelope(os.Stdout, envelope); err != nil {
				msg.Nack()
				return err
			}
			msg.Ack()
		}
	}
}

var _ cmds.BareCommand = &eventsTailGlazedCommand{}
