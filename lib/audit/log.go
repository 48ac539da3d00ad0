// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/contentanalysis/lib/analysis"
	"github.com/bureau-foundation/contentanalysis/lib/channel"
	"github.com/bureau-foundation/contentanalysis/lib/clock"
	"github.com/bureau-foundation/contentanalysis/lib/codec"
	"github.com/bureau-foundation/contentanalysis/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS verdicts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	request_token   TEXT    NOT NULL,
	connector       INTEGER NOT NULL,
	tags            BLOB,
	filename        TEXT    NOT NULL DEFAULT '',
	url             TEXT    NOT NULL DEFAULT '',
	fingerprint     TEXT    NOT NULL DEFAULT '',
	result_status   INTEGER NOT NULL,
	verdict         INTEGER NOT NULL,
	rule_name       TEXT    NOT NULL DEFAULT '',
	rule_id         TEXT    NOT NULL DEFAULT '',
	peer_pid        INTEGER NOT NULL,
	peer_uid        INTEGER NOT NULL,
	received_at     INTEGER NOT NULL,
	responded_at    INTEGER NOT NULL,
	outcome         TEXT    NOT NULL DEFAULT 'pending',
	ack_status      INTEGER NOT NULL DEFAULT 0,
	final_action    INTEGER NOT NULL DEFAULT 0,
	ack_error       TEXT    NOT NULL DEFAULT '',
	completed_at    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS verdicts_request_token ON verdicts (request_token);
`

// Outcome is the acknowledgement state of a row.
type Outcome string

const (
	OutcomePending      Outcome = "pending"
	OutcomeAcknowledged Outcome = "acknowledged"
	OutcomeMissing      Outcome = "missing"
)

// ErrUnknownRecord is returned when completing a row that does not
// exist or is no longer pending.
var ErrUnknownRecord = errors.New("audit: no pending record")

// Config configures Open.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// PoolSize defaults to sqlitepool.DefaultPoolSize.
	PoolSize int

	// Clock stamps responded and completed times. Nil means the real
	// clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Entry describes one sent verdict.
type Entry struct {
	Request     *analysis.Request
	Response    *analysis.Response
	Peer        channel.PeerCredentials
	Received    time.Time
	Fingerprint string
}

// Record is one row as read back by Recent.
type Record struct {
	ID           int64
	RequestToken string
	Connector    analysis.Connector
	Tags         []string
	Filename     string
	URL          string
	Fingerprint  string
	ResultStatus analysis.ResultStatus
	Verdict      analysis.Action
	RuleName     string
	RuleID       string
	PeerPID      int32
	PeerUID      uint32
	ReceivedAt   time.Time
	RespondedAt  time.Time

	Outcome     Outcome
	AckStatus   analysis.AckStatus
	FinalAction analysis.FinalAction
	AckError    string
	CompletedAt time.Time
}

// Log is the audit database. It is safe for concurrent use.
type Log struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open opens or creates the audit database.
func Open(cfg Config) (*Log, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Durable:  true,
		Schema:   schema,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	return &Log{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	return l.pool.Close()
}

// RecordVerdict writes a pending row for a sent verdict and returns
// its id.
func (l *Log) RecordVerdict(ctx context.Context, entry Entry) (int64, error) {
	if l == nil {
		return 0, nil
	}

	request := entry.Request
	response := entry.Response
	tags, err := codec.Marshal(request.Tags)
	if err != nil {
		return 0, fmt.Errorf("audit: encoding tags: %w", err)
	}

	var status analysis.ResultStatus
	var ruleName, ruleID string
	if len(response.Results) > 0 {
		result := response.Results[0]
		status = result.Status
		if len(result.TriggeredRules) > 0 {
			ruleName = result.TriggeredRules[0].RuleName
			ruleID = result.TriggeredRules[0].RuleID
		}
	}

	var id int64
	err = l.pool.With(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO verdicts (
				request_token, connector, tags, filename, url, fingerprint,
				result_status, verdict, rule_name, rule_id,
				peer_pid, peer_uid, received_at, responded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				request.RequestToken,
				int64(request.AnalysisConnector),
				tags,
				request.RequestData.Filename,
				request.RequestData.URL,
				entry.Fingerprint,
				int64(status),
				int64(response.Verdict()),
				ruleName,
				ruleID,
				int64(entry.Peer.PID),
				int64(entry.Peer.UID),
				entry.Received.UnixNano(),
				l.clock.Now().UnixNano(),
			}})
		if err != nil {
			return err
		}
		id = conn.LastInsertRowID()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("audit: recording verdict for %s: %w", request.RequestToken, err)
	}
	return id, nil
}

// RecordAcknowledgement completes row id with the browser's report.
func (l *Log) RecordAcknowledgement(ctx context.Context, id int64, ack *analysis.Acknowledgement) error {
	if l == nil {
		return nil
	}
	return l.complete(ctx, id, `
		UPDATE verdicts
		SET outcome = ?, ack_status = ?, final_action = ?, completed_at = ?
		WHERE id = ? AND outcome = ?`,
		string(OutcomeAcknowledged),
		int64(ack.Status),
		int64(ack.FinalAction),
		l.clock.Now().UnixNano(),
		id,
		string(OutcomePending),
	)
}

// RecordMissingAcknowledgement completes row id for a session whose
// acknowledgement never arrived. cause may be nil.
func (l *Log) RecordMissingAcknowledgement(ctx context.Context, id int64, cause error) error {
	if l == nil {
		return nil
	}
	var reason string
	if cause != nil {
		reason = cause.Error()
	}
	return l.complete(ctx, id, `
		UPDATE verdicts
		SET outcome = ?, ack_error = ?, completed_at = ?
		WHERE id = ? AND outcome = ?`,
		string(OutcomeMissing),
		reason,
		l.clock.Now().UnixNano(),
		id,
		string(OutcomePending),
	)
}

func (l *Log) complete(ctx context.Context, id int64, query string, args ...any) error {
	return l.pool.With(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return fmt.Errorf("audit: completing record %d: %w", id, err)
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%w: %d", ErrUnknownRecord, id)
		}
		return nil
	})
}

// Recent returns up to limit rows, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Record, error) {
	if l == nil || limit <= 0 {
		return nil, nil
	}

	var records []Record
	err := l.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT id, request_token, connector, tags, filename, url, fingerprint,
			       result_status, verdict, rule_name, rule_id,
			       peer_pid, peer_uid, received_at, responded_at,
			       outcome, ack_status, final_action, ack_error, completed_at
			FROM verdicts
			ORDER BY id DESC
			LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{int64(limit)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					record, err := scanRecord(stmt)
					if err != nil {
						return err
					}
					records = append(records, record)
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("audit: querying recent records: %w", err)
	}
	return records, nil
}

func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	record := Record{
		ID:           stmt.ColumnInt64(0),
		RequestToken: stmt.ColumnText(1),
		Connector:    analysis.Connector(stmt.ColumnInt64(2)),
		Filename:     stmt.ColumnText(4),
		URL:          stmt.ColumnText(5),
		Fingerprint:  stmt.ColumnText(6),
		ResultStatus: analysis.ResultStatus(stmt.ColumnInt64(7)),
		Verdict:      analysis.Action(stmt.ColumnInt64(8)),
		RuleName:     stmt.ColumnText(9),
		RuleID:       stmt.ColumnText(10),
		PeerPID:      int32(stmt.ColumnInt64(11)),
		PeerUID:      uint32(stmt.ColumnInt64(12)),
		ReceivedAt:   time.Unix(0, stmt.ColumnInt64(13)),
		RespondedAt:  time.Unix(0, stmt.ColumnInt64(14)),
		Outcome:      Outcome(stmt.ColumnText(15)),
		AckStatus:    analysis.AckStatus(stmt.ColumnInt64(16)),
		FinalAction:  analysis.FinalAction(stmt.ColumnInt64(17)),
		AckError:     stmt.ColumnText(18),
	}
	if completed := stmt.ColumnInt64(19); completed != 0 {
		record.CompletedAt = time.Unix(0, completed)
	}

	if length := stmt.ColumnLen(3); length > 0 {
		tags := make([]byte, length)
		stmt.ColumnBytes(3, tags)
		if err := codec.Unmarshal(tags, &record.Tags); err != nil {
			return Record{}, fmt.Errorf("decoding tags of record %d: %w", record.ID, err)
		}
	}
	return record, nil
}
