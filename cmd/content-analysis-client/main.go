// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// content-analysis-client submits one piece of content to a local
// content analysis agent the way a browser would, prints the verdict,
// and acknowledges it.
//
// Usage:
//
//	content-analysis-client --text "some pasted text" [--tag dlp]
//	content-analysis-client --file ./report.pdf --connector file_attached
//
// The exit status is 0 when the content may proceed, 2 when the agent
// blocked it, and 1 on any error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/contentanalysis/lib/analysis"
	"github.com/bureau-foundation/contentanalysis/lib/browserclient"
	"github.com/bureau-foundation/contentanalysis/lib/config"
	"github.com/bureau-foundation/contentanalysis/lib/digest"
	"github.com/bureau-foundation/contentanalysis/lib/process"
	"github.com/bureau-foundation/contentanalysis/lib/version"
)

// exitBlocked is the exit status for a block verdict.
const exitBlocked = 2

func main() {
	process.Exit(run(os.Args[1:], os.Stdout))
}

// requestOptions are the flags that shape the request.
type requestOptions struct {
	text         string
	file         string
	connector    string
	tags         []string
	url          string
	expiresIn    time.Duration
	userActionID string
}

func run(args []string, stdout io.Writer) error {
	var (
		options     requestOptions
		configPath  string
		debug       bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("content-analysis-client", pflag.ContinueOnError)
	flagSet.StringVar(&options.text, "text", "", "text content to analyse")
	flagSet.StringVar(&options.file, "file", "", "file to analyse")
	flagSet.StringVar(&options.connector, "connector", "", "analysis connector (default bulk_data_entry for --text, file_attached for --file)")
	flagSet.StringArrayVar(&options.tags, "tag", nil, "analysis tag to request; repeatable")
	flagSet.StringVar(&options.url, "url", "", "URL of the page the content came from")
	flagSet.DurationVar(&options.expiresIn, "expires-in", 0, "deadline for the verdict, relative to now")
	flagSet.StringVar(&options.userActionID, "user-action-id", "", "identifier grouping requests of one user action")
	flagSet.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flagSet.BoolVar(&debug, "debug", false, "log at debug level")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("content-analysis-client")
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

	request, err := buildRequest(options, time.Now()) //nolint:realclock request deadline is wall-clock time
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Client.Timeout)
	defer cancel()

	return submit(ctx, cfg.Client, request, stdout, logger)
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

// buildRequest turns flags into a request. The token is left empty
// for the client to assign.
func buildRequest(options requestOptions, now time.Time) (*analysis.Request, error) {
	if options.text != "" && options.file != "" {
		return nil, errors.New("--text and --file are mutually exclusive")
	}

	request := &analysis.Request{
		Tags:         options.tags,
		UserActionID: options.userActionID,
		RequestData:  analysis.RequestData{URL: options.url},
		Reason:       analysis.ReasonUnknown,
	}

	connectorName := options.connector
	switch {
	case options.text != "":
		request.TextContent = options.text
		request.RequestData.Digest = digest.Format(digest.Bytes([]byte(options.text)))
		request.Reason = analysis.ReasonClipboardPaste
		if connectorName == "" {
			connectorName = "bulk_data_entry"
		}
	case options.file != "":
		path, err := filepath.Abs(options.file)
		if err != nil {
			return nil, err
		}
		sum, err := digest.File(path)
		if err != nil {
			return nil, err
		}
		request.FilePath = path
		request.RequestData.Filename = filepath.Base(path)
		request.RequestData.Digest = digest.Format(sum)
		request.Reason = analysis.ReasonFilePicker
		if connectorName == "" {
			connectorName = "file_attached"
		}
	case connectorName == "":
		return nil, errors.New("one of --text, --file, or --connector is required")
	}

	connector, err := analysis.ParseConnector(connectorName)
	if err != nil {
		return nil, err
	}
	request.AnalysisConnector = connector

	if options.expiresIn > 0 {
		request.ExpiresAt = now.Add(options.expiresIn).Unix()
	}
	if options.userActionID != "" {
		request.UserActionRequestsCount = 1
	}
	return request, nil
}

// submit sends request, prints the verdict, and acknowledges it with
// the action a browser enforcing the verdict would take.
func submit(ctx context.Context, cfg config.ClientConfig, request *analysis.Request, stdout io.Writer, logger *slog.Logger) error {
	client, err := browserclient.New(ctx, browserclient.Config{
		Name:            cfg.Name,
		UserSpecific:    cfg.UserSpecific,
		SocketDirectory: cfg.SocketDirectory,
		Retry: browserclient.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	response, err := client.Send(ctx, request)
	if err != nil {
		return err
	}
	printVerdict(stdout, response)

	verdict := response.Verdict()
	ack := &analysis.Acknowledgement{
		RequestToken: response.RequestToken,
		Status:       analysis.AckStatusSuccess,
		FinalAction:  analysis.FinalActionFor(verdict),
	}
	if err := client.Acknowledge(ack); err != nil {
		logger.Warn("acknowledgement not delivered", "error", err)
	}

	if verdict == analysis.ActionBlock {
		return &process.ExitError{Code: exitBlocked}
	}
	return nil
}

func printVerdict(w io.Writer, response *analysis.Response) {
	fmt.Fprintf(w, "request: %s\n", response.RequestToken)
	fmt.Fprintf(w, "verdict: %s\n", response.Verdict())
	if len(response.Results) == 0 {
		return
	}
	result := response.Results[0]
	if result.Tag != "" {
		fmt.Fprintf(w, "tag: %s\n", result.Tag)
	}
	fmt.Fprintf(w, "status: %s\n", result.Status)
	if len(result.TriggeredRules) > 0 {
		rule := result.TriggeredRules[0]
		if rule.RuleName != "" || rule.RuleID != "" {
			fmt.Fprintf(w, "rule: %s (%s)\n", rule.RuleName, rule.RuleID)
		}
	}
}
