// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// content-analysis-agent serves a local content analysis endpoint.
// Browsers connect to it, submit requests, and receive verdicts decided
// by a YAML rules file.
//
// Usage:
//
//	content-analysis-agent [--config path] [--debug]
//
// The configuration file is taken from --config, then from
// CONTENT_ANALYSIS_CONFIG. Without either, built-in defaults are used
// and every request is allowed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/contentanalysis/lib/agentserver"
	"github.com/bureau-foundation/contentanalysis/lib/audit"
	"github.com/bureau-foundation/contentanalysis/lib/config"
	"github.com/bureau-foundation/contentanalysis/lib/policy"
	"github.com/bureau-foundation/contentanalysis/lib/process"
	"github.com/bureau-foundation/contentanalysis/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath  string
		debug       bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("content-analysis-agent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flagSet.BoolVar(&debug, "debug", false, "log at debug level")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("content-analysis-agent")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.SlogLevel()
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rules, err := loadPolicy(cfg.Policy)
	if err != nil {
		return err
	}
	logger.Info("policy loaded", "rules", rules.Len(), "file", cfg.Policy.RulesFile)

	var auditLog *audit.Log
	if cfg.Audit.Database != "" {
		auditLog, err = audit.Open(audit.Config{
			Path:     cfg.Audit.Database,
			PoolSize: cfg.Audit.PoolSize,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer auditLog.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent, err := agentserver.New(agentserver.Config{
		Name:            cfg.Agent.Name,
		UserSpecific:    cfg.Agent.UserSpecific,
		SocketDirectory: cfg.Agent.SocketDirectory,
		PoolSize:        cfg.Agent.PoolSize,
		Backlog:         cfg.Agent.Backlog,
		MaxMessageSize:  cfg.Agent.MaxMessageSize,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("content analysis agent running",
		"version", version.Info(),
		"endpoint", agent.Endpoint(),
		"pool_size", cfg.Agent.PoolSize,
		"audit", cfg.Audit.Database != "",
	)

	worker := &analyzer{
		policy:     rules,
		audit:      auditLog,
		ackTimeout: cfg.Agent.AcknowledgementTimeout,
		logger:     logger,
	}
	err = serve(ctx, agent, worker, cfg.Agent.PoolSize)
	logger.Info("shutting down")
	return err
}

func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	}
	return config.Default(), nil
}

func loadPolicy(cfg config.PolicyConfig) (*policy.Policy, error) {
	options := policy.Options{MaxContentBytes: cfg.MaxContentBytes}
	if cfg.RulesFile == "" {
		return policy.Compile(nil, options)
	}
	return policy.LoadFile(cfg.RulesFile, options)
}
