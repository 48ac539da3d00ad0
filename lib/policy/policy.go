// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/contentanalysis/lib/analysis"
)

// DefaultMaxContentBytes bounds file content read for text matching
// when Options.MaxContentBytes is zero.
const DefaultMaxContentBytes = 1 << 20

// Rule is one entry of a rules file.
type Rule struct {
	Name   string `yaml:"name"`
	ID     string `yaml:"id"`
	Action string `yaml:"action"`

	Tags             []string `yaml:"tags,omitempty"`
	Connectors       []string `yaml:"connectors,omitempty"`
	TextPatterns     []string `yaml:"text_patterns,omitempty"`
	FilenamePatterns []string `yaml:"filename_patterns,omitempty"`
	URLPatterns      []string `yaml:"url_patterns,omitempty"`
}

// File is the top-level document of a rules file.
type File struct {
	Rules []Rule `yaml:"rules"`
}

// Options configure a Policy.
type Options struct {
	// MaxContentBytes bounds how much of a file request's content is
	// read for text patterns. Zero means DefaultMaxContentBytes.
	MaxContentBytes int64
}

// Match is the rule that decided a request.
type Match struct {
	Name   string
	ID     string
	Action analysis.Action
}

// Policy is a compiled, immutable rule list. It is safe for concurrent
// use. The nil *Policy matches nothing.
type Policy struct {
	rules           []compiledRule
	maxContentBytes int64
}

type compiledRule struct {
	match            Match
	tags             []string
	connectors       []analysis.Connector
	textPatterns     []*regexp.Regexp
	filenamePatterns []string
	urlPatterns      []*regexp.Regexp
}

// LoadFile reads and compiles a rules file.
func LoadFile(filePath string, options Options) (*Policy, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	policy, err := Parse(data, options)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return policy, nil
}

// Parse compiles a rules document. Every invalid rule is reported.
func Parse(data []byte, options Options) (*Policy, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	return Compile(file.Rules, options)
}

// Compile validates and compiles rules.
func Compile(rules []Rule, options Options) (*Policy, error) {
	maxContentBytes := options.MaxContentBytes
	if maxContentBytes <= 0 {
		maxContentBytes = DefaultMaxContentBytes
	}

	policy := &Policy{maxContentBytes: maxContentBytes}
	var errs []error
	for index, rule := range rules {
		compiled, err := compileRule(rule)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%q): %w", index, rule.Name, err))
			continue
		}
		policy.rules = append(policy.rules, compiled)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return policy, nil
}

func compileRule(rule Rule) (compiledRule, error) {
	var errs []error
	if rule.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}

	action, err := analysis.ParseAction(rule.Action)
	if err != nil {
		errs = append(errs, err)
	}

	compiled := compiledRule{
		match:            Match{Name: rule.Name, ID: rule.ID, Action: action},
		tags:             rule.Tags,
		filenamePatterns: rule.FilenamePatterns,
	}

	for _, name := range rule.Connectors {
		connector, err := analysis.ParseConnector(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		compiled.connectors = append(compiled.connectors, connector)
	}
	for _, pattern := range rule.FilenamePatterns {
		if _, err := path.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("filename pattern %q: %w", pattern, err))
		}
	}
	compiled.textPatterns, err = compilePatterns("text", rule.TextPatterns)
	if err != nil {
		errs = append(errs, err)
	}
	compiled.urlPatterns, err = compilePatterns("url", rule.URLPatterns)
	if err != nil {
		errs = append(errs, err)
	}

	return compiled, errors.Join(errs...)
}

func compilePatterns(kind string, patterns []string) ([]*regexp.Regexp, error) {
	var compiled []*regexp.Regexp
	var errs []error
	for _, pattern := range patterns {
		expression, err := regexp.Compile(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s pattern %q: %w", kind, pattern, err))
			continue
		}
		compiled = append(compiled, expression)
	}
	return compiled, errors.Join(errs...)
}

// Len returns the number of rules.
func (p *Policy) Len() int {
	if p == nil {
		return 0
	}
	return len(p.rules)
}

// Evaluate returns the first rule matching request, or nil when none
// does. The error is non-nil only when file content needed by a text
// pattern could not be read.
func (p *Policy) Evaluate(request *analysis.Request) (*Match, error) {
	if p == nil {
		return nil, nil
	}

	content := &lazyContent{request: request, limit: p.maxContentBytes}
	for index := range p.rules {
		rule := &p.rules[index]
		matched, err := rule.matches(request, content)
		if err != nil {
			return nil, err
		}
		if matched {
			match := rule.match
			return &match, nil
		}
	}
	return nil, nil
}

func (r *compiledRule) matches(request *analysis.Request, content *lazyContent) (bool, error) {
	if len(r.tags) > 0 && !slices.ContainsFunc(request.Tags, func(tag string) bool {
		return slices.Contains(r.tags, tag)
	}) {
		return false, nil
	}
	if len(r.connectors) > 0 && !slices.Contains(r.connectors, request.AnalysisConnector) {
		return false, nil
	}
	if len(r.filenamePatterns) > 0 && !matchAnyGlob(r.filenamePatterns, requestFilename(request)) {
		return false, nil
	}
	if len(r.urlPatterns) > 0 && !matchAnyRegexp(r.urlPatterns, []byte(request.RequestData.URL)) {
		return false, nil
	}
	if len(r.textPatterns) > 0 {
		text, err := content.bytes()
		if err != nil {
			return false, err
		}
		if !matchAnyRegexp(r.textPatterns, text) {
			return false, nil
		}
	}
	return true, nil
}

func requestFilename(request *analysis.Request) string {
	name := request.RequestData.Filename
	if name == "" {
		name = request.FilePath
	}
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}

func matchAnyGlob(patterns []string, name string) bool {
	if name == "" {
		return false
	}
	for _, pattern := range patterns {
		if matched, _ := path.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

func matchAnyRegexp(patterns []*regexp.Regexp, data []byte) bool {
	for _, pattern := range patterns {
		if pattern.Match(data) {
			return true
		}
	}
	return false
}

// lazyContent reads a request's content on first use so rules without
// text patterns never touch the file.
type lazyContent struct {
	request *analysis.Request
	limit   int64
	loaded  bool
	data    []byte
	err     error
}

func (c *lazyContent) bytes() ([]byte, error) {
	if c.loaded {
		return c.data, c.err
	}
	c.loaded = true
	switch {
	case c.request.TextContent != "":
		c.data = []byte(c.request.TextContent)
	case c.request.FilePath != "":
		c.data, c.err = readPrefix(c.request.FilePath, c.limit)
	}
	return c.data, c.err
}

func readPrefix(filePath string, limit int64) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("reading content for analysis: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit))
	if err != nil {
		return nil, fmt.Errorf("reading content for analysis: %w", err)
	}
	return data, nil
}

// Apply records match in response as its verdict and triggered rule.
// A nil match leaves the response's verdict unspecified.
func Apply(response *analysis.Response, match *Match) error {
	if match == nil {
		return nil
	}
	if err := analysis.SetVerdict(response, match.Action); err != nil {
		return err
	}
	return analysis.SetTriggeredRule(response, match.Name, match.ID)
}
