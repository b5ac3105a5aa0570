package main

import (
	"context"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/spf13/cobra"
)

func executeCLI(ctx context.Context, args []string) error {
	rootCmd, err := newRootCommand()
	if err != nil {
		return err
	}
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           "edrconsole",
		Short:         "dispatch signed commands to EDR agents and track their results",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	constructors := []func() (cmds.Command, error){
		func() (cmds.Command, error) { return newAgentsGlazedCommand() },
		func() (cmds.Command, error) { return newCommandsGlazedCommand() },
		func() (cmds.Command, error) { return newDispatchGlazedCommand() },
		func() (cmds.Command, error) { return newBulkGlazedCommand() },
		func() (cmds.Command, error) { return newWatchGlazedCommand() },
		func() (cmds.Command, error) { return newSignGlazedCommand() },
		func() (cmds.Command, error) { return newVerifyGlazedCommand() },
		func() (cmds.Command, error) { return newConfigInitGlazedCommand() },
		func() (cmds.Command, error) { return newEventsTailGlazedCommand() },
	}
	for _, construct := range constructors {
		command, err := construct()
		if err != nil {
			return nil, err
		}
		cobraCommand, err := buildGlazedCobraCommand(command)
		if err != nil {
			return nil, err
		}
		rootCmd.AddCommand(cobraCommand)
	}
	return rootCmd, nil
}

func buildGlazedCobraCommand(command cmds.Command) (*cobra.Command, error) {
	return cli.BuildCobraCommand(
		command,
		cli.WithParserConfig(cli.CobraParserConfig{
			ShortHelpLayers: []string{layers.DefaultSlug},
			MiddlewaresFunc: cli.CobraCommandDefaultMiddlewares,
		}),
		cli.WithCobraMiddlewaresFunc(cli.CobraCommandDefaultMiddlewares),
		cli.WithCobraShortHelpLayers(layers.DefaultSlug),
	)
}
