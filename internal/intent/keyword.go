package intent

import (
	"context"
	"strings"
)

// KeywordClassifier decides on exact word containment: the text must
// contain a word from one set and none from the other. Hitting both
// sets (or neither) is inconclusive.
type KeywordClassifier struct {
	confirm map[string]struct{}
	cancel  map[string]struct{}
}

func NewKeywordClassifier(confirm, cancel []string) *KeywordClassifier {
	return &KeywordClassifier{
		confirm: toSet(confirm),
		cancel:  toSet(cancel),
	}
}

func (c *KeywordClassifier) Classify(_ context.Context, normalized string) Intent {
	var hasConfirm, hasCancel bool
	for _, word := range strings.Fields(normalized) {
		if _, ok := c.confirm[word]; ok {
			hasConfirm = true
		}
		if _, ok := c.cancel[word]; ok {
			hasCancel = true
		}
	}

	switch {
	case hasConfirm && !hasCancel:
		return Confirm
	case hasCancel && !hasConfirm:
		return Cancel
	default:
		return Inconclusive
	}
}

// ContainsAnyKeyword reports whether the normalized text mentions any
// confirm- or cancel-like word at all. Used to decide whether a message
// with no matching confirmation window deserves a reply.
func (c *KeywordClassifier) ContainsAnyKeyword(normalized string) bool {
	for _, word := range strings.Fields(normalized) {
		if _, ok := c.confirm[word]; ok {
			return true
		}
		if _, ok := c.cancel[word]; ok {
			return true
		}
	}
	return false
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[Normalize(w)] = struct{}{}
	}
	return set
}
