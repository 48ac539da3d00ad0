// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"errors"
	"fmt"
	"strings"
)

// ErrResponseNotInitialized is returned by SetVerdict when the response
// has no Result. Call InitializeResponse first; an agent Session does
// this before handing the response to the caller.
var ErrResponseNotInitialized = errors.New("analysis: response has no result; call InitializeResponse first")

// ResultStatus reports whether the agent completed an analysis.
type ResultStatus uint8

const (
	// StatusUnknown is the unset value. InitializeResponse leaves the
	// existing status alone when given it.
	StatusUnknown ResultStatus = 0
	StatusSuccess ResultStatus = 1
	StatusFailure ResultStatus = 2
)

func (s ResultStatus) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Action is the verdict carried by a triggered rule.
type Action uint8

const (
	// ActionUnspecified is the neutral value and means allow.
	ActionUnspecified Action = 0

	// ActionReportOnly allows the action and records it.
	ActionReportOnly Action = 1

	// ActionWarn lets the user proceed after a warning.
	ActionWarn Action = 2

	// ActionBlock stops the action.
	ActionBlock Action = 3
)

var actionNames = [...]string{
	ActionUnspecified: "unspecified",
	ActionReportOnly:  "report_only",
	ActionWarn:        "warn",
	ActionBlock:       "block",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction converts an action name to an Action. "allow" is
// accepted as a synonym for "unspecified".
func ParseAction(name string) (Action, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if normalized == "allow" {
		return ActionUnspecified, nil
	}
	for index, candidate := range actionNames {
		if candidate == normalized {
			return Action(index), nil
		}
	}
	return ActionUnspecified, fmt.Errorf("unknown verdict action %q", name)
}

// Response is the agent's answer to one Request.
type Response struct {
	RequestToken string   `cbor:"request_token"`
	Results      []Result `cbor:"results,omitempty"`
}

// Result is the outcome of one analysis pass.
type Result struct {
	Tag            string          `cbor:"tag,omitempty"`
	Status         ResultStatus    `cbor:"status"`
	TriggeredRules []TriggeredRule `cbor:"triggered_rules,omitempty"`
}

// TriggeredRule records a policy rule that matched and what it decided.
type TriggeredRule struct {
	Action   Action `cbor:"action"`
	RuleName string `cbor:"rule_name,omitempty"`
	RuleID   string `cbor:"rule_id,omitempty"`
}

// InitializeResponse ensures response holds exactly one Result. The
// Result is created if absent. A non-empty tag overwrites its tag and a
// status other than StatusUnknown overwrites its status, so calling it
// again with ("", StatusUnknown) changes nothing. It never adds a second
// Result.
func InitializeResponse(response *Response, tag string, status ResultStatus) {
	if len(response.Results) == 0 {
		response.Results = append(response.Results, Result{})
	}
	result := &response.Results[0]
	if tag != "" {
		result.Tag = tag
	}
	if status != StatusUnknown {
		result.Status = status
	}
}

// SetVerdict sets the action of the first Result's triggered rule,
// creating the rule if there is none.
func SetVerdict(response *Response, action Action) error {
	rule, err := verdictRule(response)
	if err != nil {
		return err
	}
	rule.Action = action
	return nil
}

// SetVerdictBlock is SetVerdict(response, ActionBlock).
func SetVerdictBlock(response *Response) error {
	return SetVerdict(response, ActionBlock)
}

// SetTriggeredRule records which rule produced the verdict. Like
// SetVerdict it requires an initialized response.
func SetTriggeredRule(response *Response, name, id string) error {
	rule, err := verdictRule(response)
	if err != nil {
		return err
	}
	rule.RuleName = name
	rule.RuleID = id
	return nil
}

func verdictRule(response *Response) (*TriggeredRule, error) {
	if response == nil || len(response.Results) == 0 {
		return nil, ErrResponseNotInitialized
	}
	result := &response.Results[0]
	if len(result.TriggeredRules) == 0 {
		result.TriggeredRules = append(result.TriggeredRules, TriggeredRule{})
	}
	return &result.TriggeredRules[0], nil
}

// Verdict returns the action carried by the response. A response with
// no result or no triggered rule is ActionUnspecified.
func (r *Response) Verdict() Action {
	if len(r.Results) == 0 || len(r.Results[0].TriggeredRules) == 0 {
		return ActionUnspecified
	}
	return r.Results[0].TriggeredRules[0].Action
}

// Allowed reports whether the verdict lets the user action proceed
// without intervention. Warn is not allowed: the browser must ask the
// user first.
func (r *Response) Allowed() bool {
	switch r.Verdict() {
	case ActionUnspecified, ActionReportOnly:
		return true
	}
	return false
}
