// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/contentanalysis/lib/agentserver"
	"github.com/bureau-foundation/contentanalysis/lib/analysis"
	"github.com/bureau-foundation/contentanalysis/lib/audit"
	"github.com/bureau-foundation/contentanalysis/lib/digest"
	"github.com/bureau-foundation/contentanalysis/lib/netutil"
	"github.com/bureau-foundation/contentanalysis/lib/policy"
)

// analyzer decides and answers one session at a time. It holds no
// per-session state and is shared by every worker.
type analyzer struct {
	policy     *policy.Policy
	audit      *audit.Log
	ackTimeout time.Duration
	logger     *slog.Logger
}

func (a *analyzer) handle(ctx context.Context, session *agentserver.Session) {
	defer session.Close()

	request := session.Request()
	response := session.Response()
	logger := a.logger.With(
		"request_token", request.RequestToken,
		"connector", request.AnalysisConnector,
		"peer", session.Peer(),
	)

	if session.Expired() {
		// The browser has stopped waiting; answer with the default
		// verdict without analysing.
		logger.Warn("request expired before analysis", "expires_at", request.ExpiresAt)
	} else {
		a.decide(request, response, logger)
	}

	// Audit records are written even while shutting down.
	auditCtx := context.WithoutCancel(ctx)
	fingerprint, err := audit.Fingerprint(request)
	if err != nil {
		logger.Debug("content fingerprint unavailable", "error", err)
	}

	if err := session.Send(); err != nil {
		if errors.Is(err, agentserver.ErrStopped) || netutil.IsExpectedCloseError(err) {
			logger.Debug("response not delivered", "error", err)
		} else {
			logger.Warn("sending response failed", "error", err)
		}
		return
	}
	logger.Info("verdict sent",
		"verdict", response.Verdict(),
		"tag", request.FirstTag(),
	)

	recordID, err := a.audit.RecordVerdict(auditCtx, audit.Entry{
		Request:     request,
		Response:    response,
		Peer:        session.Peer(),
		Received:    session.Received(),
		Fingerprint: fingerprint,
	})
	if err != nil {
		logger.Error("audit record failed", "error", err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, a.ackTimeout)
	defer cancel()
	ack, err := session.Acknowledgement(ackCtx)
	if err != nil {
		logger.Info("acknowledgement missing", "error", err)
		if recordID != 0 {
			if err := a.audit.RecordMissingAcknowledgement(auditCtx, recordID, err); err != nil {
				logger.Error("audit update failed", "error", err)
			}
		}
		return
	}

	if ack.RequestToken != request.RequestToken {
		logger.Warn("acknowledgement token mismatch", "ack_token", ack.RequestToken)
	}
	logger.Debug("acknowledged", "status", ack.Status, "final_action", ack.FinalAction)
	if recordID != 0 {
		if err := a.audit.RecordAcknowledgement(auditCtx, recordID, ack); err != nil {
			logger.Error("audit update failed", "error", err)
		}
	}
}

// decide fills response's verdict. Failures to inspect the content mark
// the result as failed and leave the verdict at its default.
func (a *analyzer) decide(request *analysis.Request, response *analysis.Response, logger *slog.Logger) {
	if request.FilePath != "" && request.RequestData.Digest != "" {
		if err := digest.VerifyFile(request.FilePath, request.RequestData.Digest); err != nil {
			logger.Warn("content digest check failed", "file", request.FilePath, "error", err)
			analysis.InitializeResponse(response, "", analysis.StatusFailure)
			return
		}
	}

	match, err := a.policy.Evaluate(request)
	if err != nil {
		logger.Warn("policy evaluation failed", "error", err)
		analysis.InitializeResponse(response, "", analysis.StatusFailure)
		return
	}
	if match == nil {
		return
	}
	if err := policy.Apply(response, match); err != nil {
		logger.Error("applying verdict failed", "rule", match.ID, "error", err)
		return
	}
	logger.Debug("rule matched", "rule", match.Name, "rule_id", match.ID, "action", match.Action)
}
