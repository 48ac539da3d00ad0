// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import "fmt"

// AckStatus reports how the browser handled a Response.
type AckStatus uint8

const (
	AckStatusUnknown AckStatus = 0

	// AckStatusSuccess means the verdict was applied.
	AckStatusSuccess AckStatus = 1

	// AckStatusInvalidResponse means the Response could not be used.
	AckStatusInvalidResponse AckStatus = 2

	// AckStatusTooLate means the Response arrived after the browser
	// had stopped waiting.
	AckStatusTooLate AckStatus = 3
)

func (s AckStatus) String() string {
	switch s {
	case AckStatusUnknown:
		return "unknown"
	case AckStatusSuccess:
		return "success"
	case AckStatusInvalidResponse:
		return "invalid_response"
	case AckStatusTooLate:
		return "too_late"
	}
	return fmt.Sprintf("ack_status(%d)", uint8(s))
}

// FinalAction is what the browser actually did.
type FinalAction uint8

const (
	FinalActionUnspecified FinalAction = 0
	FinalActionAllow       FinalAction = 1
	FinalActionReportOnly  FinalAction = 2
	FinalActionWarn        FinalAction = 3
	FinalActionBlock       FinalAction = 4
)

func (a FinalAction) String() string {
	switch a {
	case FinalActionUnspecified:
		return "unspecified"
	case FinalActionAllow:
		return "allow"
	case FinalActionReportOnly:
		return "report_only"
	case FinalActionWarn:
		return "warn"
	case FinalActionBlock:
		return "block"
	}
	return fmt.Sprintf("final_action(%d)", uint8(a))
}

// FinalActionFor maps a verdict to the action a browser enforcing it
// verbatim would report.
func FinalActionFor(verdict Action) FinalAction {
	switch verdict {
	case ActionReportOnly:
		return FinalActionReportOnly
	case ActionWarn:
		return FinalActionWarn
	case ActionBlock:
		return FinalActionBlock
	}
	return FinalActionAllow
}

// Acknowledgement is the browser's report of what it did with a
// Response.
type Acknowledgement struct {
	RequestToken string      `cbor:"request_token"`
	Status       AckStatus   `cbor:"status"`
	FinalAction  FinalAction `cbor:"final_action"`
}
