// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration shared by the content
// analysis agent and client binaries.
//
// Configuration comes from a single file named by either the
// CONTENT_ANALYSIS_CONFIG environment variable (via [Load]) or a
// --config flag (via [LoadFile]). There is no discovery and no
// environment variable overrides individual values.
//
// The file may carry development and production sections that
// override the log level, the audit database, and the policy file when
// [Config].Environment matches.
//
// ${HOME}, ${XDG_RUNTIME_DIR}, and ${VAR:-default} patterns are
// expanded in path fields after loading.
//
// This package depends on no other packages of this module.
package config
