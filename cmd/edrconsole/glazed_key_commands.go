package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"edrconsole/internal/config"
	"edrconsole/internal/signer"
)

type signGlazedCommand struct {
	*cmds.CommandDescription
}

type signSettings struct {
	ConfigPath string `glazed.parameter:"config"`
	BaseURL    string `glazed.parameter:"base-url"`
	KeyPath    string `glazed.parameter:"key"`
	LogLevel   string `glazed.parameter:"log-level"`
	Query      string `glazed.parameter:"query"`
	Preset     string `glazed.parameter:"preset"`
	Type       string `glazed.parameter:"type"`
}

func newSignGlazedCommand() (*signGlazedCommand, error) {
	return &signGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"sign",
			cmds.WithShort("Print the signature for a payload"),
			cmds.WithLong("Sign a payload with the configured key without sending it. Prints the hex signature and public key."),
			cmds.WithFlags(withCommonFlags(payloadFlags()...)...),
		),
	}, nil
}

func (c *signGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &signSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	payload, _, err := resolveCommand(settings.Query, settings.Preset, settings.Type)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(commonSettings{
		ConfigPath: settings.ConfigPath,
		BaseURL:    settings.BaseURL,
		KeyPath:    settings.KeyPath,
		LogLevel:   settings.LogLevel,
	})
	if err != nil {
		return err
	}
	key, err := loadSigner(cfg)
	if err != nil {
		return err
	}
	signature, err := key.Sign(payload)
	if err != nil {
		return err
	}
	fmt.Printf("signature:  %s\n", signature)
	fmt.Printf("public_key: %s\n", key.PublicKeyHex())
	return nil
}

var _ cmds.BareCommand = &signGlazedCommand{}

type verifyGlazedCommand struct {
	*cmds.CommandDescription
}

type verifySettings struct {
	PublicKey string `glazed.parameter:"public-key"`
	Signature string `glazed.parameter:"signature"`
	Query     string `glazed.parameter:"query"`
	Preset    string `glazed.parameter:"preset"`
	Type      string `glazed.parameter:"type"`
}

func newVerifyGlazedCommand() (*verifyGlazedCommand, error) {
	flags := append(payloadFlags(),
		parameters.NewParameterDefinition(
			"public-key",
			parameters.ParameterTypeString,
			parameters.WithHelp("Hex Ed25519 public key"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"signature",
			parameters.ParameterTypeString,
			parameters.WithHelp("Hex signature to check"),
			parameters.WithDefault(""),
		),
	)
	return &verifyGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"verify",
			cmds.WithShort("Check a signature against a payload"),
			cmds.WithLong("Verify a hex Ed25519 signature over the exact payload bytes, as the backend would."),
			cmds.WithFlags(flags...),
		),
	}, nil
}

func (c *verifyGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &verifySettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if strings.TrimSpace(settings.PublicKey) == "" || strings.TrimSpace(settings.Signature) == "" {
		return fmt.Errorf("--public-key and --signature are required")
	}
	payload, _, err := resolveCommand(settings.Query, settings.Preset, settings.Type)
	if err != nil {
		return err
	}
	if !signer.Verify(settings.PublicKey, payload, settings.Signature) {
		return fmt.Errorf("signature does not verify for this payload")
	}
	fmt.Println("signature OK")
	return nil
}

var _ cmds.BareCommand = &verifyGlazedCommand{}

type configInitGlazedCommand struct {
	*cmds.CommandDescription
}

type configInitSettings struct {
	Path  string `glazed.parameter:"path"`
	Force bool   `glazed.parameter:"force"`
}

func newConfigInitGlazedCommand() (*configInitGlazedCommand, error) {
	return &configInitGlazedCommand{
		CommandDescription: cmds.NewCommandDescription(
			"config-init",
			cmds.WithShort("Write a default config file"),
			cmds.WithLong("Create a default edrconsole config file at the target path."),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"path",
					parameters.ParameterTypeString,
					parameters.WithHelp("Path to config file"),
					parameters.WithDefault(config.DefaultConfigPath),
				),
				parameters.NewParameterDefinition(
					"force",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Overwrite an existing file"),
					parameters.WithDefault(false),
				),
			),
		),
	}, nil
}

func (c *configInitGlazedCommand) Run(ctx context.Context, parsedLayers *layers.ParsedLayers) error {
	_ = ctx
	settings := &configInitSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, settings); err != nil {
		return err
	}
	if _, err := os.Stat(settings.Path); err == nil && !settings.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", settings.Path)
	}
	if err := config.SaveDefault(settings.Path); err != nil {
		return err
	}
	fmt.Printf("Wrote default config to %s\n", settings.Path)
	return nil
}

var _ cmds.BareCommand = &configInitGlazedCommand{}
