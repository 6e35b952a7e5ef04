// Package redact removes credentials and other secrets from crawled page
// text before it is chunked and embedded.
//
// Detection uses the Gitleaks rule set. Matches are replaced with
// [REDACTED:rule-id] markers so the surrounding text still embeds
// sensibly. An optional TOML allowlist exempts known-public values.
package redact

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
