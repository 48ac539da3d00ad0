// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/contentanalysis/lib/codec"
)

func validRequest() *Request {
	return &Request{
		RequestToken:      "token-1",
		AnalysisConnector: ConnectorBulkDataEntry,
		Tags:              []string{"dlp", "malware"},
		RequestData:       RequestData{URL: "https://example.test/form", TabTitle: "Form"},
		TextContent:       "hello",
	}
}

func TestBrowserMessageKind(t *testing.T) {
	tests := []struct {
		name    string
		message BrowserMessage
		want    MessageKind
	}{
		{"request", BrowserMessage{Request: validRequest()}, KindRequest},
		{"acknowledgement", BrowserMessage{Acknowledgement: &Acknowledgement{RequestToken: "t"}}, KindAcknowledgement},
		{"empty", BrowserMessage{}, KindInvalid},
		{"both", BrowserMessage{Request: validRequest(), Acknowledgement: &Acknowledgement{}}, KindInvalid},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.message.Kind(); got != test.want {
				t.Errorf("Kind() = %s, want %s", got, test.want)
			}
			err := test.message.Validate()
			if (test.want == KindInvalid) != (err != nil) {
				t.Errorf("Validate() = %v", err)
			}
			if err != nil && !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("Validate() error %v does not wrap ErrMalformedMessage", err)
			}
		})
	}
}

func TestDecodeBrowserMessage(t *testing.T) {
	data, err := codec.Marshal(BrowserMessage{Request: validRequest()})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	message, err := DecodeBrowserMessage(data)
	if err != nil {
		t.Fatalf("DecodeBrowserMessage: %v", err)
	}
	if message.Kind() != KindRequest {
		t.Fatalf("kind = %s", message.Kind())
	}
	request := message.Request
	if request.RequestToken != "token-1" || request.AnalysisConnector != ConnectorBulkDataEntry ||
		request.TextContent != "hello" || request.RequestData.TabTitle != "Form" || len(request.Tags) != 2 {
		t.Errorf("decoded request = %+v", request)
	}
}

func TestDecodeBrowserMessageMalformed(t *testing.T) {
	empty, err := codec.Marshal(map[string]any{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for name, data := range map[string][]byte{
		"garbage":     {0xFF, 0x00, 0x13},
		"empty frame": nil,
		"no payload":  empty,
	} {
		if _, err := DecodeBrowserMessage(data); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("%s: DecodeBrowserMessage = %v, want ErrMalformedMessage", name, err)
		}
	}
}

func TestRequestValidate(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	noToken := validRequest()
	noToken.RequestToken = ""
	bothContents := validRequest()
	bothContents.FilePath = "/tmp/report.pdf"
	noConnector := validRequest()
	noConnector.AnalysisConnector = ConnectorUnspecified

	for name, request := range map[string]*Request{
		"missing token":     noToken,
		"both contents":     bothContents,
		"missing connector": noConnector,
	} {
		if err := request.Validate(); err == nil {
			t.Errorf("%s: Validate accepted %+v", name, request)
		}
	}
}

func TestRequestExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	request := validRequest()
	if request.Expired(now) {
		t.Error("request without deadline expired")
	}
	request.ExpiresAt = now.Add(time.Minute).Unix()
	if request.Expired(now) {
		t.Error("future deadline reported expired")
	}
	request.ExpiresAt = now.Add(-time.Second).Unix()
	if !request.Expired(now) {
		t.Error("past deadline not reported expired")
	}
}

func TestParseConnector(t *testing.T) {
	for _, connector := range []Connector{
		ConnectorFileAttached, ConnectorFileDownloaded, ConnectorBulkDataEntry,
		ConnectorPrint, ConnectorFileTransfer,
	} {
		got, err := ParseConnector(connector.String())
		if err != nil {
			t.Errorf("ParseConnector(%q): %v", connector, err)
			continue
		}
		if got != connector {
			t.Errorf("ParseConnector(%q) = %s", connector, got)
		}
	}
	if got, err := ParseConnector("Bulk-Data-Entry"); err != nil || got != ConnectorBulkDataEntry {
		t.Errorf("ParseConnector(Bulk-Data-Entry) = %s, %v", got, err)
	}
	if _, err := ParseConnector("unspecified"); err == nil {
		t.Error("ParseConnector accepted unspecified")
	}
	if _, err := ParseConnector("telepathy"); err == nil {
		t.Error("ParseConnector accepted an unknown name")
	}
}
