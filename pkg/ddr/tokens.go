// Package ddr resolves dynamic data references ({Source / Field} tokens)
// against the data a flow instance has accumulated so far.
package ddr

import (
	"regexp"
	"strings"
)

// Separator splits a token into source and field
const Separator = " / "

// Token sources
const (
	SourceKickoff    = "Kickoff"
	SourceWorkspace  = "Workspace"
	SourceRolePrefix = "Role:"
)

// Token is one {Source / Field} reference found in a string
type Token struct {
	Raw    string // full text including braces
	Source string
	Field  string
}

var bracePattern = regexp.MustCompile(`\{[^{}]*\}`)

// ParseTokens returns every token in text, in order of appearance.
// Brace-delimited text without the separator is not a token.
func ParseTokens(text string) []Token {
	matches := bracePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]Token, 0, len(matches))
	for _, raw := range matches {
		if tok, ok := parseToken(raw); ok {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func parseToken(raw string) (Token, bool) {
	inner := raw[1 : len(raw)-1]
	idx := strings.Index(inner, Separator)
	if idx < 0 {
		return Token{}, false
	}
	return Token{
		Raw:    raw,
		Source: strings.TrimSpace(inner[:idx]),
		Field:  strings.TrimSpace(inner[idx+len(Separator):]),
	}, true
}

// HasTokens reports whether text contains at least one token
func HasTokens(text string) bool {
	return len(ParseTokens(text)) > 0
}
