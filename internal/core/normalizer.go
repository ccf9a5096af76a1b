// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"bytes"
	"regexp"
)

// DefaultNormalizer replaces common nondeterministic patterns in tool
// output with stable placeholders so traces and cached streams compare
// equal across runs.
//
// Handled patterns:
//   - ISO 8601 timestamps (2026-08-25T10:30:45Z)
//   - common log timestamps (2026-08-25 10:30:45)
//   - Unix timestamps (1756117845)
//   - durations (took 1.234s)
//   - process IDs (pid 12345)
//   - memory addresses (0x7fff5fbff8c0)
type DefaultNormalizer struct {
	patterns []*normPattern
}

type normPattern struct {
	regex       *regexp.Regexp
	replacement []byte
}

// NewDefaultNormalizer creates a normalizer with the common patterns.
func NewDefaultNormalizer() *DefaultNormalizer {
	return &DefaultNormalizer{
		patterns: []*normPattern{
			// ISO 8601: 2026-08-25T10:30:45Z, 2026-08-25T10:30:45.123+02:00
			{
				regex:       regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`),
				replacement: []byte("<TIMESTAMP>"),
			},
			// Log style: 2026-08-25 10:30:45, 2026/08/25 10:30:45
			{
				regex:       regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}\s+\d{2}:\d{2}:\d{2}(\.\d+)?`),
				replacement: []byte("<TIMESTAMP>"),
			},
			// Unix timestamps (10+ digits)
			{
				regex:       regexp.MustCompile(`\b1[0-9]{9,12}\b`),
				replacement: []byte("<UNIX_TS>"),
			},
			// Durations: took 1.234s, 123ms, 1.5 seconds
			{
				regex:       regexp.MustCompile(`\b\d+(\.\d+)?\s*(ms|s|seconds?|minutes?|hours?)\b`),
				replacement: []byte("<DURATION>"),
			},
			// Process IDs: pid 12345, PID: 12345
			{
				regex:       regexp.MustCompile(`\b[Pp][Ii][Dd][:\s]*\d+\b`),
				replacement: []byte("pid <PID>"),
			},
			// Memory addresses
			{
				regex:       regexp.MustCompile(`0x[0-9a-fA-F]{8,16}`),
				replacement: []byte("<ADDR>"),
			},
		},
	}
}

// Normalize replaces nondeterministic patterns in content.
func (n *DefaultNormalizer) Normalize(content []byte) []byte {
	result := content
	for _, p := range n.patterns {
		result = p.regex.ReplaceAll(result, p.replacement)
	}
	return result
}

// RawNormalizer preserves content bytes exactly.
type RawNormalizer struct{}

// NewRawNormalizer creates a normalizer that leaves content unchanged.
func NewRawNormalizer() *RawNormalizer {
	return &RawNormalizer{}
}

// Normalize returns content unchanged.
func (n *RawNormalizer) Normalize(content []byte) []byte {
	return content
}

// StreamNormalizer converts all line endings to Unix-style LF, then applies
// an optional inner normalizer.
type StreamNormalizer struct {
	Inner OutputNormalizer
}

// NewStreamNormalizer creates a line-ending normalizer wrapping inner.
func NewStreamNormalizer(inner OutputNormalizer) *StreamNormalizer {
	return &StreamNormalizer{Inner: inner}
}

// Normalize converts CRLF to LF and applies the inner normalizer if set.
func (n *StreamNormalizer) Normalize(content []byte) []byte {
	result := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if n.Inner != nil {
		result = n.Inner.Normalize(result)
	}
	return result
}
