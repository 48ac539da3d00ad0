// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Connector identifies the browser feature that produced a request.
type Connector uint8

const (
	ConnectorUnspecified Connector = 0

	// ConnectorFileAttached is a file upload into a page.
	ConnectorFileAttached Connector = 1

	// ConnectorFileDownloaded is a completed download, analysed before
	// the user can open it.
	ConnectorFileDownloaded Connector = 2

	// ConnectorBulkDataEntry is a paste or drag-and-drop of text.
	ConnectorBulkDataEntry Connector = 3

	// ConnectorPrint is a print of page content.
	ConnectorPrint Connector = 4

	// ConnectorFileTransfer is a file moved between storage locations
	// by the browser.
	ConnectorFileTransfer Connector = 5
)

var connectorNames = [...]string{
	ConnectorUnspecified:    "unspecified",
	ConnectorFileAttached:   "file_attached",
	ConnectorFileDownloaded: "file_downloaded",
	ConnectorBulkDataEntry:  "bulk_data_entry",
	ConnectorPrint:          "print",
	ConnectorFileTransfer:   "file_transfer",
}

func (c Connector) String() string {
	if int(c) < len(connectorNames) {
		return connectorNames[c]
	}
	return fmt.Sprintf("connector(%d)", uint8(c))
}

// IsKnown reports whether c is one of the defined connectors other
// than ConnectorUnspecified.
func (c Connector) IsKnown() bool {
	return c > ConnectorUnspecified && int(c) < len(connectorNames)
}

// ParseConnector converts a connector name (as produced by String) to
// a Connector. Case and the separator ('_' or '-') are not significant.
func ParseConnector(name string) (Connector, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for index, candidate := range connectorNames {
		if candidate == normalized && Connector(index).IsKnown() {
			return Connector(index), nil
		}
	}
	return ConnectorUnspecified, fmt.Errorf("unknown analysis connector %q", name)
}

// Request describes one user action submitted for a verdict.
type Request struct {
	// RequestToken identifies the request. The agent copies it into
	// the Response and the browser into the Acknowledgement.
	RequestToken string `cbor:"request_token"`

	AnalysisConnector Connector `cbor:"analysis_connector"`

	// Tags name the analyses the browser wants, e.g. "dlp" or
	// "malware". The agent answers the first one.
	Tags []string `cbor:"tags,omitempty"`

	RequestData RequestData `cbor:"request_data"`

	// Exactly one of TextContent and FilePath is set for requests that
	// carry content. Print requests may carry neither.
	TextContent string `cbor:"text_content,omitempty"`
	FilePath    string `cbor:"file_path,omitempty"`

	// ExpiresAt is the unix time in seconds after which the browser no
	// longer waits for a verdict. Zero means no deadline.
	ExpiresAt int64 `cbor:"expires_at,omitempty"`

	// UserActionID groups the requests produced by one user action
	// (for example, a multi-file upload). UserActionRequestsCount is
	// the size of that group.
	UserActionID            string `cbor:"user_action_id,omitempty"`
	UserActionRequestsCount uint64 `cbor:"user_action_requests_count,omitempty"`

	Reason Reason `cbor:"reason,omitempty"`

	ClientMetadata *ClientMetadata `cbor:"client_metadata,omitempty"`
}

// RequestData is metadata about the content under analysis.
type RequestData struct {
	URL string `cbor:"url,omitempty"`

	Filename string `cbor:"filename,omitempty"`

	// Digest is the hex-encoded SHA-256 of the content.
	Digest string `cbor:"digest,omitempty"`

	Email       string `cbor:"email,omitempty"`
	ContentType string `cbor:"content_type,omitempty"`
	TabTitle    string `cbor:"tab_title,omitempty"`

	// Source and Destination describe the endpoints of a file transfer
	// or clipboard operation.
	Source      string `cbor:"source,omitempty"`
	Destination string `cbor:"destination,omitempty"`
}

// ClientMetadata describes the browser instance that sent the request.
type ClientMetadata struct {
	BrowserName    string `cbor:"browser_name,omitempty"`
	BrowserVersion string `cbor:"browser_version,omitempty"`
	MachineUser    string `cbor:"machine_user,omitempty"`
	ProfilePath    string `cbor:"profile_path,omitempty"`
}

// Reason says why the browser sent the request.
type Reason uint8

const (
	ReasonUnknown Reason = 0

	// ReasonClipboardPaste and the following name the user gesture
	// behind the request.
	ReasonClipboardPaste    Reason = 1
	ReasonDragAndDrop       Reason = 2
	ReasonFilePicker        Reason = 3
	ReasonPrintPreviewPrint Reason = 4
	ReasonSystemDialogPrint Reason = 5
	ReasonNormalDownload    Reason = 6
	ReasonSaveAsDownload    Reason = 7
)

var reasonNames = [...]string{
	ReasonUnknown:           "unknown",
	ReasonClipboardPaste:    "clipboard_paste",
	ReasonDragAndDrop:       "drag_and_drop",
	ReasonFilePicker:        "file_picker",
	ReasonPrintPreviewPrint: "print_preview_print",
	ReasonSystemDialogPrint: "system_dialog_print",
	ReasonNormalDownload:    "normal_download",
	ReasonSaveAsDownload:    "save_as_download",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Validate checks the fields every well-formed request carries.
func (r *Request) Validate() error {
	var errs []error
	if r.RequestToken == "" {
		errs = append(errs, errors.New("request_token is required"))
	}
	if !r.AnalysisConnector.IsKnown() {
		errs = append(errs, fmt.Errorf("analysis_connector %s is not valid", r.AnalysisConnector))
	}
	if r.TextContent != "" && r.FilePath != "" {
		errs = append(errs, errors.New("text_content and file_path are mutually exclusive"))
	}
	return errors.Join(errs...)
}

// Expired reports whether the request's deadline has passed at now.
// Requests without a deadline never expire.
func (r *Request) Expired(now time.Time) bool {
	return r.ExpiresAt != 0 && now.Unix() >= r.ExpiresAt
}

// FirstTag returns the first requested tag, or "" if none.
func (r *Request) FirstTag() string {
	if len(r.Tags) == 0 {
		return ""
	}
	return r.Tags[0]
}
