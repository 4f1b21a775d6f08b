// Package intent classifies a patient reply as a confirmation or a
// cancellation. Classification is a cascade of strategies: cheap exact
// keyword containment first, then fuzzy edit-distance matching, and only
// when both are inconclusive a call to the external semantic classifier.
package intent

import "context"

type Intent string

const (
	Confirm      Intent = "confirm"
	Cancel       Intent = "cancel"
	Inconclusive Intent = "inconclusive"
)

// Classifier is one stage of the cascade. Returning Inconclusive hands
// the text to the next stage.
type Classifier interface {
	Classify(ctx context.Context, normalized string) Intent
}

// Pipeline runs classifiers in order; the first non-Inconclusive result
// wins.
type Pipeline struct {
	stages []Classifier
}

func NewPipeline(stages ...Classifier) *Pipeline {
	return &Pipeline{stages: stages}
}

func (p *Pipeline) Classify(ctx context.Context, text string) Intent {
	normalized := Normalize(text)
	if normalized == "" {
		return Inconclusive
	}
	for _, stage := range p.stages {
		if got := stage.Classify(ctx, normalized); got != Inconclusive {
			return got
		}
	}
	return Inconclusive
}

// Default keyword sets, in normalized form (lowercase, no diacritics).
var (
	ConfirmKeywords = []string{"sim", "confirmo", "confirmar", "confirmado", "confirmada", "ok", "claro", "comparecerei"}
	CancelKeywords  = []string{"nao", "cancelar", "cancelo", "cancelado", "cancelada", "desmarcar", "remarcar"}
)
