// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides verdicts for analysis requests from a list of
// YAML rules.
//
// A rules file looks like:
//
//	rules:
//	  - name: Block card numbers
//	    id: dlp-001
//	    action: block
//	    tags: [dlp]
//	    connectors: [bulk_data_entry, file_attached]
//	    text_patterns: ['\b4[0-9]{12}(?:[0-9]{3})?\b']
//	  - name: Warn on spreadsheets
//	    id: dlp-002
//	    action: warn
//	    filename_patterns: ['*.xlsx', '*.csv']
//
// Every criterion a rule lists must match for the rule to match; a
// criterion with several patterns matches when any of them does. A rule
// with no criteria matches every request. [Policy.Evaluate] returns the
// first matching rule in file order, so catch-all rules belong last.
//
// Text patterns are applied to TextContent, or to the first
// MaxContentBytes of the file at FilePath. Filename patterns use
// path.Match syntax against the base name of the request's filename
// (or FilePath when no filename was given). URL patterns are regular
// expressions against RequestData.URL.
package policy
