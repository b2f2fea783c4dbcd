// Package relevance decides which caller variables a piece of code refers to.
//
// Only variables the code mentions are marshalled into the sandbox. The scan
// is textual: a name that appears only in a comment or a string literal is
// still selected, which costs payload size but never correctness. A variable
// that is missed fails loudly inside the sandbox with a name error.
package relevance

import (
	"regexp"
)

// Selector reports whether code refers to the variable called name.
type Selector interface {
	Selects(code, name string) bool
}

var identifierPattern = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\b`)

// TokenSelector matches variable names against identifier tokens in the code.
type TokenSelector struct{}

// Selects implements Selector.
func (TokenSelector) Selects(code, name string) bool {
	if !IsIdentifier(name) {
		return false
	}
	_, ok := Tokens(code)[name]
	return ok
}

// Tokens returns the set of identifier tokens in code.
func Tokens(code string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range identifierPattern.FindAllString(code, -1) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// IsIdentifier reports whether name is a valid identifier token.
func IsIdentifier(name string) bool {
	loc := identifierPattern.FindStringIndex(name)
	return loc != nil && loc[0] == 0 && loc[1] == len(name)
}

// Select returns the subset of vars whose names selector picks for code.
// A nil selector means TokenSelector.
func Select(selector Selector, code string, vars map[string]any) map[string]any {
	if selector == nil {
		selector = TokenSelector{}
	}

	if _, ok := selector.(TokenSelector); ok {
		return selectTokens(code, vars)
	}

	selected := make(map[string]any)
	for name, value := range vars {
		if selector.Selects(code, name) {
			selected[name] = value
		}
	}
	return selected
}

// selectTokens scans the code once instead of once per variable.
func selectTokens(code string, vars map[string]any) map[string]any {
	tokens := Tokens(code)
	selected := make(map[string]any)
	for name, value := range vars {
		if _, ok := tokens[name]; ok && IsIdentifier(name) {
			selected[name] = value
		}
	}
	return selected
}
