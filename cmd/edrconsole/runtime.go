package main

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"go.uber.org/zap"

	"edrconsole/internal/config"
	"edrconsole/internal/dispatch"
	"edrconsole/internal/eventbus"
	"edrconsole/internal/logging"
	"edrconsole/internal/repository"
	"edrconsole/internal/signer"
)

// commonSettings mirrors the flags shared by every command that talks to the
// backend. Non-empty flags override the config file.
type commonSettings struct {
	ConfigPath string
	BaseURL    string
	KeyPath    string
	LogLevel   string
}

func commonFlags() []*parameters.ParameterDefinition {
	return []*parameters.ParameterDefinition{
		parameters.NewParameterDefinition(
			"config",
			parameters.ParameterTypeString,
			parameters.WithHelp("Path to config file (defaults to "+config.DefaultConfigPath+")"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"base-url",
			parameters.ParameterTypeString,
			parameters.WithHelp("Override api.base_url"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"key",
			parameters.ParameterTypeString,
			parameters.WithHelp("Override signing.key_path (hex seed or PKCS8 PEM file)"),
			parameters.WithDefault(""),
		),
		parameters.NewParameterDefinition(
			"log-level",
			parameters.ParameterTypeString,
			parameters.WithHelp("Override logging.level (debug|info|warn|error)"),
			parameters.WithDefault(""),
		),
	}
}

func withCommonFlags(flags ...*parameters.ParameterDefinition) []*parameters.ParameterDefinition {
	return append(commonFlags(), flags...)
}

func loadConfig(common commonSettings) (config.Config, error) {
	cfg, path, err := config.Load(common.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if value := strings.TrimSpace(common.BaseURL); value != "" {
		cfg.API.BaseURL = value
	}
	if value := strings.TrimSpace(common.KeyPath); value != "" {
		cfg.Signing.KeyPath = value
	}
	if value := strings.TrimSpace(common.LogLevel); value != "" {
		cfg.Logging.Level = value
	}
	if err := config.Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config %s with flag overrides: %w", path, err)
	}
	return cfg, nil
}

// loadSigner prefers a key file over the environment. The key is parsed
// once here; a malformed key stops the command before anything is sent.
func loadSigner(cfg config.Config) (*signer.Signer, error) {
	if path := strings.TrimSpace(cfg.Signing.KeyPath); path != "" {
		return signer.LoadFile(path)
	}
	return signer.FromEnv(cfg.Signing.KeyEnv)
}

type consoleRuntime struct {
	cfg        config.Config
	logger     *zap.Logger
	bus        *eventbus.Bus
	repository *repository.RemoteRepository
}

func openRuntime(common commonSettings) (*consoleRuntime, error) {
	cfg, err := loadConfig(common)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	bus, err := eventbus.New(cfg.EventOptions(), logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	remote := repository.NewRemote(repository.RemoteOptions{
		BaseURL:  cfg.API.BaseURL,
		Timeout:  cfg.APITimeout(),
		Token:    cfg.API.Token,
		Operator: cfg.API.Operator,
	})
	logger.Debug("runtime ready",
		zap.String("base_url", cfg.API.BaseURL),
		zap.String("events", bus.Backend()),
	)
	return &consoleRuntime{cfg: cfg, logger: logger, bus: bus, repository: remote}, nil
}

func (r *consoleRuntime) dispatcher() (*dispatch.Dispatcher, error) {
	key, err := loadSigner(r.cfg)
	if err != nil {
		return nil, err
	}
	return dispatch.New(key, r.repository, r.bus, r.logger, dispatch.Options{
		Concurrency:   r.cfg.Dispatch.BulkConcurrency,
		RatePerSecond: r.cfg.Dispatch.BulkRatePerSecond,
	})
}

func (r *consoleRuntime) Close() {
	if err := r.bus.Close(); err != nil {
		r.logger.Warn("close event bus", zap.Error(err))
	}
	_ = r.logger.Sync()
}
