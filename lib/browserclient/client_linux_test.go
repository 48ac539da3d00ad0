// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package browserclient

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/contentanalysis/lib/agentserver"
	"github.com/bureau-foundation/contentanalysis/lib/analysis"
	"github.com/bureau-foundation/contentanalysis/lib/testutil"
)

func startAgent(t *testing.T) (*agentserver.Agent, Config) {
	t.Helper()
	directory := testutil.SocketDir(t)
	agent, err := agentserver.New(agentserver.Config{
		Name:            "client_test",
		SocketDirectory: directory,
	}, nil)
	if err != nil {
		t.Fatalf("agentserver.New: %v", err)
	}
	t.Cleanup(agent.Stop)
	return agent, Config{Name: "client_test", SocketDirectory: directory, Retry: DefaultRetryPolicy()}
}

func nextSession(t *testing.T, agent *agentserver.Agent) *agentserver.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := agent.NextSession(ctx)
	if err != nil {
		t.Fatalf("NextSession: %v", err)
	}
	return session
}

func TestClientAgainstAgent(t *testing.T) {
	agent, config := startAgent(t)

	client, err := New(context.Background(), config, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()
	if client.Endpoint() != agent.Endpoint() {
		t.Errorf("client endpoint %q, agent endpoint %q", client.Endpoint(), agent.Endpoint())
	}

	type sendResult struct {
		response *analysis.Response
		err      error
	}
	results := make(chan sendResult, 1)
	go func() {
		response, err := client.Send(context.Background(), &analysis.Request{
			AnalysisConnector: analysis.ConnectorFileAttached,
			Tags:              []string{"malware"},
			FilePath:          "/tmp/upload.bin",
		})
		results <- sendResult{response, err}
	}()

	session := nextSession(t, agent)
	if session.Request().FilePath != "/tmp/upload.bin" {
		t.Errorf("agent saw request %+v", session.Request())
	}
	if err := analysis.SetVerdict(session.Response(), analysis.ActionWarn); err != nil {
		t.Fatalf("SetVerdict: %v", err)
	}
	if err := session.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}

	result := testutil.RequireReceive(t, results, 5*time.Second, "client Send")
	if result.err != nil {
		t.Fatalf("client Send: %v", result.err)
	}
	if result.response.Verdict() != analysis.ActionWarn || result.response.Results[0].Tag != "malware" {
		t.Errorf("response = %+v", result.response)
	}

	if err := client.Acknowledge(&analysis.Acknowledgement{
		RequestToken: result.response.RequestToken,
		Status:       analysis.AckStatusSuccess,
		FinalAction:  analysis.FinalActionWarn,
	}); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ack, err := session.Acknowledgement(ctx)
	if err != nil {
		t.Fatalf("Acknowledgement: %v", err)
	}
	if ack.FinalAction != analysis.FinalActionWarn {
		t.Errorf("agent received final action %s", ack.FinalAction)
	}
}

func TestSendCancelShutsChannelDown(t *testing.T) {
	agent, config := startAgent(t)

	client, err := New(context.Background(), config, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := client.Send(ctx, &analysis.Request{AnalysisConnector: analysis.ConnectorPrint})
		errs <- err
	}()

	// The agent holds the session without answering.
	session := nextSession(t, agent)
	defer session.Close()
	cancel()

	if err := testutil.RequireReceive(t, errs, 5*time.Second, "Send after cancel"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Send = %v, want context.Canceled", err)
	}
	if _, err := client.Send(context.Background(), &analysis.Request{AnalysisConnector: analysis.ConnectorPrint}); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Send after cancel = %v, want ErrClientClosed", err)
	}
}

func TestNewMissingAgent(t *testing.T) {
	config := Config{Name: "absent", SocketDirectory: testutil.SocketDir(t), Retry: DefaultRetryPolicy()}
	if _, err := New(context.Background(), config, nil); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("New = %v, want os.ErrNotExist", err)
	}
}
