package matcher

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

func collectStringNodes(event gjson.Result, path string) []string {
	var out []string
	result := event.Get(path)
	if result.IsArray() {
		result.ForEach(func(_, value gjson.Result) bool {
			if value.Type == gjson.String {
				out = append(out, strings.ToLower(value.String()))
			}
			return true
		})
		return out
	}
	if result.Type == gjson.String {
		out = append(out, strings.ToLower(result.String()))
	}
	return out
}

// EqualsMatcher matches when any string node at Path equals Expected
// (case-insensitive).
type EqualsMatcher struct {
	expected  string
	path      string
	aturiPath string
}

// NewEqualsMatcher builds an EqualsMatcher, lowercasing expected to match
// the case-insensitive comparison it performs.
func NewEqualsMatcher(expected, path, aturiPath string) (*EqualsMatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return &EqualsMatcher{expected: strings.ToLower(expected), path: path, aturiPath: aturiPath}, nil
}

// Match implements Matcher.
func (m *EqualsMatcher) Match(event []byte) (*Match, error) {
	value := gjson.ParseBytes(event)
	for _, node := range collectStringNodes(value, m.path) {
		if node == m.expected {
			aturi, ok := extractATURI(m.aturiPath, value)
			if !ok {
				return nil, fmt.Errorf("matcher matched but could not create at-uri")
			}
			match := upsertMatch(aturi)
			return &match, nil
		}
	}
	return nil, nil
}

// PrefixMatcher matches when any string node at Path starts with Prefix
// (case-insensitive).
type PrefixMatcher struct {
	prefix    string
	path      string
	aturiPath string
}

// NewPrefixMatcher builds a PrefixMatcher.
func NewPrefixMatcher(prefix, path, aturiPath string) (*PrefixMatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return &PrefixMatcher{prefix: strings.ToLower(prefix), path: path, aturiPath: aturiPath}, nil
}

// Match implements Matcher.
func (m *PrefixMatcher) Match(event []byte) (*Match, error) {
	value := gjson.ParseBytes(event)
	for _, node := range collectStringNodes(value, m.path) {
		if strings.HasPrefix(node, m.prefix) {
			aturi, ok := extractATURI(m.aturiPath, value)
			if !ok {
				return nil, fmt.Errorf("matcher matched but could not create at-uri")
			}
			match := upsertMatch(aturi)
			return &match, nil
		}
	}
	return nil, nil
}

// SequenceMatcher matches when the first occurrences of the configured
// values lie at strictly increasing positions within some string node at
// Path (not necessarily contiguous or adjacent). See SequenceMatches.
type SequenceMatcher struct {
	expected  []string
	path      string
	aturiPath string
}

// NewSequenceMatcher builds a SequenceMatcher.
func NewSequenceMatcher(expected []string, path, aturiPath string) (*SequenceMatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if len(expected) == 0 {
		return nil, fmt.Errorf("values must not be empty")
	}
	lowered := make([]string, len(expected))
	for i, v := range expected {
		lowered[i] = strings.ToLower(v)
	}
	return &SequenceMatcher{expected: lowered, path: path, aturiPath: aturiPath}, nil
}

// Match implements Matcher.
func (m *SequenceMatcher) Match(event []byte) (*Match, error) {
	value := gjson.ParseBytes(event)
	for _, node := range collectStringNodes(value, m.path) {
		if SequenceMatches(m.expected, node) {
			aturi, ok := extractATURI(m.aturiPath, value)
			if !ok {
				return nil, fmt.Errorf("matcher matched but could not create at-uri")
			}
			match := upsertMatch(aturi)
			return &match, nil
		}
	}
	return nil, nil
}

// SequenceMatches reports whether each string in sequence occurs inside
// text and the first occurrence of each lies at a strictly greater byte
// offset than the first occurrence of the one before it. Later
// occurrences are not considered: ["a", "b"] does not match "b a b". It
// is exposed for use from script matchers.
func SequenceMatches(sequence []string, text string) bool {
	lastFound := -1
	foundIndex := 0

	for index, expected := range sequence {
		pos := strings.Index(text, expected)
		if pos < 0 {
			return false
		}
		if pos > lastFound {
			lastFound = pos
			foundIndex = index
		} else {
			return false
		}
	}

	return lastFound != -1 && foundIndex == len(sequence)-1
}
