package intent

import (
	"context"

	"github.com/agnivade/levenshtein"
)

// FuzzyClassifier tolerates typos by edit distance. A keyword of length
// three or less only counts at distance ≤ 1, otherwise two-letter words
// would match almost anything. An intent wins only when its best
// distance is within the threshold and strictly better than the other
// side's best; a tie falls through to the next stage.
type FuzzyClassifier struct {
	confirm   []string
	cancel    []string
	threshold int
}

func NewFuzzyClassifier(confirm, cancel []string, threshold int) *FuzzyClassifier {
	if threshold <= 0 {
		threshold = 2
	}
	return &FuzzyClassifier{
		confirm:   normalizeAll(confirm),
		cancel:    normalizeAll(cancel),
		threshold: threshold,
	}
}

func (c *FuzzyClassifier) Classify(_ context.Context, normalized string) Intent {
	confirmMin := c.minDistance(normalized, c.confirm)
	cancelMin := c.minDistance(normalized, c.cancel)

	switch {
	case confirmMin <= c.threshold && confirmMin < cancelMin:
		return Confirm
	case cancelMin <= c.threshold && cancelMin < confirmMin:
		return Cancel
	default:
		return Inconclusive
	}
}

func (c *FuzzyClassifier) minDistance(text string, keywords []string) int {
	best := c.threshold + 1
	for _, kw := range keywords {
		d := levenshtein.ComputeDistance(text, kw)
		if len([]rune(kw)) <= 3 && d > 1 {
			continue
		}
		if d < best {
			best = d
		}
	}
	return best
}

func normalizeAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, Normalize(w))
	}
	return out
}
