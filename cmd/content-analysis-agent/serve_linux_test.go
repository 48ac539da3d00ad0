// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/contentanalysis/lib/agentserver"
	"github.com/bureau-foundation/contentanalysis/lib/analysis"
	"github.com/bureau-foundation/contentanalysis/lib/audit"
	"github.com/bureau-foundation/contentanalysis/lib/browserclient"
	"github.com/bureau-foundation/contentanalysis/lib/digest"
	"github.com/bureau-foundation/contentanalysis/lib/policy"
	"github.com/bureau-foundation/contentanalysis/lib/testutil"
)

type testAgent struct {
	client *browserclient.Client
	audit  *audit.Log
	cancel context.CancelFunc
	done   chan error

	stopOnce sync.Once
	serveErr error
}

func startTestAgent(t *testing.T) *testAgent {
	t.Helper()

	rules, err := policy.Parse([]byte(testRules), policy.Options{})
	if err != nil {
		t.Fatalf("policy.Parse: %v", err)
	}
	auditLog, err := audit.Open(audit.Config{Path: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}

	directory := testutil.SocketDir(t)
	name := testutil.UniqueID("agent")
	agent, err := agentserver.New(agentserver.Config{
		Name:            name,
		SocketDirectory: directory,
		PoolSize:        2,
	}, nil)
	if err != nil {
		t.Fatalf("agentserver.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	worker := &analyzer{
		policy:     rules,
		audit:      auditLog,
		ackTimeout: 5 * time.Second,
		logger:     discardLogger(),
	}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, agent, worker, 2) }()

	client, err := browserclient.New(context.Background(), browserclient.Config{
		Name:            name,
		SocketDirectory: directory,
		Retry:           browserclient.DefaultRetryPolicy(),
	}, nil)
	if err != nil {
		cancel()
		t.Fatalf("browserclient.New: %v", err)
	}

	running := &testAgent{client: client, audit: auditLog, cancel: cancel, done: done}
	t.Cleanup(func() {
		client.Close()
		if err := running.stop(t); err != nil {
			t.Errorf("serve returned %v", err)
		}
		auditLog.Close()
	})
	return running
}

// stop cancels serve and returns its result. Later calls return the
// same result.
func (a *testAgent) stop(t *testing.T) error {
	t.Helper()
	a.stopOnce.Do(func() {
		a.cancel()
		a.serveErr = testutil.RequireReceive(t, a.done, 5*time.Second, "serve did not return after cancel")
	})
	return a.serveErr
}

func (a *testAgent) send(t *testing.T, request *analysis.Request) *analysis.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	response, err := a.client.Send(ctx, request)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	return response
}

// waitForOutcome polls the audit log until the newest record leaves
// the pending state.
func (a *testAgent) waitForOutcome(t *testing.T) audit.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second) //nolint:realclock test hang prevention
	for time.Now().Before(deadline) {           //nolint:realclock test hang prevention
		records, err := a.audit.Recent(context.Background(), 1)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(records) == 1 && records[0].Outcome != audit.OutcomePending {
			return records[0]
		}
		time.Sleep(10 * time.Millisecond) //nolint:realclock polling a database written by another goroutine
	}
	t.Fatal("audit record never completed")
	return audit.Record{}
}

func TestServeBlocksMatchingText(t *testing.T) {
	agent := startTestAgent(t)

	response := agent.send(t, &analysis.Request{
		AnalysisConnector: analysis.ConnectorBulkDataEntry,
		Tags:              []string{"dlp"},
		TextContent:       "card 4111111111111111",
	})
	if response.Verdict() != analysis.ActionBlock {
		t.Fatalf("verdict = %v, want block", response.Verdict())
	}
	rule := response.Results[0].TriggeredRules[0]
	if rule.RuleID != "dlp-001" || response.Results[0].Tag != "dlp" {
		t.Errorf("result = %+v", response.Results[0])
	}

	err := agent.client.Acknowledge(&analysis.Acknowledgement{
		RequestToken: response.RequestToken,
		Status:       analysis.AckStatusSuccess,
		FinalAction:  analysis.FinalActionFor(response.Verdict()),
	})
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	record := agent.waitForOutcome(t)
	if record.Outcome != audit.OutcomeAcknowledged || record.FinalAction != analysis.FinalActionBlock {
		t.Errorf("audit record = %s/%v", record.Outcome, record.FinalAction)
	}
	if record.Verdict != analysis.ActionBlock || record.RuleID != "dlp-001" {
		t.Errorf("audit verdict = %v/%s", record.Verdict, record.RuleID)
	}
	if record.Fingerprint == "" {
		t.Error("audit record has no content fingerprint")
	}
	if record.PeerPID != int32(os.Getpid()) {
		t.Errorf("audit peer pid = %d, want %d", record.PeerPID, os.Getpid())
	}
}

func TestServeAllowsUnmatchedContent(t *testing.T) {
	agent := startTestAgent(t)

	response := agent.send(t, &analysis.Request{
		AnalysisConnector: analysis.ConnectorBulkDataEntry,
		TextContent:       "nothing to see",
	})
	if !response.Allowed() || response.Verdict() != analysis.ActionUnspecified {
		t.Errorf("verdict = %v, want unspecified", response.Verdict())
	}
	if response.Results[0].Status != analysis.StatusSuccess {
		t.Errorf("status = %v, want success", response.Results[0].Status)
	}
}

func TestServeReadsFileContent(t *testing.T) {
	agent := startTestAgent(t)

	content := []byte("CONFIDENTIAL quarterly plan")
	path := filepath.Join(t.TempDir(), "plan.txt")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	response := agent.send(t, &analysis.Request{
		AnalysisConnector: analysis.ConnectorFileAttached,
		FilePath:          path,
		RequestData:       analysis.RequestData{Digest: digest.Format(digest.Bytes(content))},
	})
	if response.Verdict() != analysis.ActionWarn {
		t.Errorf("verdict = %v, want warn", response.Verdict())
	}
}

func TestServeDigestMismatchFailsResult(t *testing.T) {
	agent := startTestAgent(t)

	path := filepath.Join(t.TempDir(), "plan.txt")
	if err := os.WriteFile(path, []byte("CONFIDENTIAL"), 0600); err != nil {
		t.Fatal(err)
	}

	response := agent.send(t, &analysis.Request{
		AnalysisConnector: analysis.ConnectorFileAttached,
		FilePath:          path,
		RequestData:       analysis.RequestData{Digest: digest.Format(digest.Bytes([]byte("other")))},
	})
	if response.Results[0].Status != analysis.StatusFailure {
		t.Errorf("status = %v, want failure", response.Results[0].Status)
	}
	if response.Verdict() != analysis.ActionUnspecified {
		t.Errorf("verdict = %v, want unspecified", response.Verdict())
	}
}

func TestServeUnreadableFileFailsResult(t *testing.T) {
	agent := startTestAgent(t)

	response := agent.send(t, &analysis.Request{
		AnalysisConnector: analysis.ConnectorFileAttached,
		FilePath:          filepath.Join(t.TempDir(), "vanished.txt"),
	})
	if response.Results[0].Status != analysis.StatusFailure {
		t.Errorf("status = %v, want failure", response.Results[0].Status)
	}
}

func TestServeExpiredRequestGetsDefaultVerdict(t *testing.T) {
	agent := startTestAgent(t)

	response := agent.send(t, &analysis.Request{
		AnalysisConnector: analysis.ConnectorBulkDataEntry,
		TextContent:       "4111111111111111",
		ExpiresAt:         time.Now().Add(-time.Minute).Unix(), //nolint:realclock agent uses the real clock
	})
	if response.Verdict() != analysis.ActionUnspecified {
		t.Errorf("verdict = %v, want unspecified for an expired request", response.Verdict())
	}
}

func TestServeRecordsMissingAcknowledgement(t *testing.T) {
	agent := startTestAgent(t)

	agent.send(t, &analysis.Request{
		AnalysisConnector: analysis.ConnectorBulkDataEntry,
		TextContent:       "hello",
	})
	// Disconnect instead of acknowledging.
	agent.client.Close()

	record := agent.waitForOutcome(t)
	if record.Outcome != audit.OutcomeMissing {
		t.Errorf("outcome = %s, want missing", record.Outcome)
	}
	if record.AckError == "" {
		t.Error("missing acknowledgement recorded without a cause")
	}
}

func TestServeReturnsOnCancel(t *testing.T) {
	agent := startTestAgent(t)
	if err := agent.stop(t); err != nil {
		t.Fatalf("serve returned %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := agent.client.Send(ctx, &analysis.Request{
		AnalysisConnector: analysis.ConnectorPrint,
	}); err == nil {
		t.Error("Send succeeded after the agent stopped")
	}
}
