package intent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Não, CANCELAR!", "nao cancelar"},
		{"  Sim,   confirmo. ", "sim confirmo"},
		{"Confirmação", "confirmacao"},
		{"ok 👍", "ok"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Normalize(tc.in), "input %q", tc.in)
	}
}

func TestKeywordClassifier(t *testing.T) {
	kc := NewKeywordClassifier(ConfirmKeywords, CancelKeywords)
	ctx := context.Background()

	assert.Equal(t, Confirm, kc.Classify(ctx, Normalize("Sim, pode confirmar")))
	assert.Equal(t, Cancel, kc.Classify(ctx, Normalize("preciso cancelar a consulta")))

	// Both sets present: inconclusive, do not guess.
	assert.Equal(t, Inconclusive, kc.Classify(ctx, Normalize("sim quero cancelar")))
	assert.Equal(t, Inconclusive, kc.Classify(ctx, Normalize("talvez amanha")))
}

func TestKeywordContainsAnyKeyword(t *testing.T) {
	kc := NewKeywordClassifier(ConfirmKeywords, CancelKeywords)

	assert.True(t, kc.ContainsAnyKeyword(Normalize("quero cancelar")))
	assert.True(t, kc.ContainsAnyKeyword(Normalize("sim")))
	assert.False(t, kc.ContainsAnyKeyword(Normalize("bom dia doutor")))
}

func TestFuzzyClassifierTypo(t *testing.T) {
	fc := NewFuzzyClassifier(ConfirmKeywords, CancelKeywords, 2)

	// One edit away from "confirmo", well below any cancel keyword.
	assert.Equal(t, Confirm, fc.Classify(context.Background(), "confrmo"))
	assert.Equal(t, Cancel, fc.Classify(context.Background(), "cancelr"))
}

func TestFuzzyClassifierTieFallsThrough(t *testing.T) {
	fc := NewFuzzyClassifier([]string{"ok"}, []string{"no"}, 2)

	// "oo" is distance 1 from both sides: never guess on a tie.
	assert.Equal(t, Inconclusive, fc.Classify(context.Background(), "oo"))
}

func TestFuzzyClassifierShortKeywordGuard(t *testing.T) {
	fc := NewFuzzyClassifier([]string{"sim"}, []string{"cancelar"}, 2)

	// "foi" is distance 2 from "sim", but a ≤3-letter keyword only
	// counts at distance ≤1.
	assert.Equal(t, Inconclusive, fc.Classify(context.Background(), "foi"))
}

func TestFuzzyClassifierBothAboveThreshold(t *testing.T) {
	fc := NewFuzzyClassifier(ConfirmKeywords, CancelKeywords, 2)
	assert.Equal(t, Inconclusive, fc.Classify(context.Background(), "boa tarde"))
}

func TestSemanticClassifier(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "quero sim", req.Text)

		json.NewEncoder(w).Encode(classifyResponse{Label: "confirm"})
	}))
	defer srv.Close()

	sc := NewSemanticClassifier(srv.URL, "secret", zap.NewNop())
	assert.Equal(t, Confirm, sc.Classify(context.Background(), "quero sim"))
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestSemanticClassifierFailureIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sc := NewSemanticClassifier(srv.URL, "", zap.NewNop())
	assert.Equal(t, Inconclusive, sc.Classify(context.Background(), "qualquer coisa"))
}

type stubClassifier struct{ result Intent }

func (s stubClassifier) Classify(context.Context, string) Intent { return s.result }

func TestPipelineFirstDecisionWins(t *testing.T) {
	p := NewPipeline(
		stubClassifier{Inconclusive},
		stubClassifier{Cancel},
		stubClassifier{Confirm},
	)
	assert.Equal(t, Cancel, p.Classify(context.Background(), "tanto faz"))
}

func TestPipelineEmptyTextInconclusive(t *testing.T) {
	p := NewPipeline(stubClassifier{Confirm})
	assert.Equal(t, Inconclusive, p.Classify(context.Background(), "   !!! "))
}

func TestPipelineCascade(t *testing.T) {
	p := NewPipeline(
		NewKeywordClassifier(ConfirmKeywords, CancelKeywords),
		NewFuzzyClassifier(ConfirmKeywords, CancelKeywords, 2),
	)

	// Exact keyword short-circuits before fuzzy.
	assert.Equal(t, Cancel, p.Classify(context.Background(), "CANCELAR"))
	// Typo falls to the fuzzy stage.
	assert.Equal(t, Confirm, p.Classify(context.Background(), "confrmo"))
	// Nothing matches: inconclusive overall.
	assert.Equal(t, Inconclusive, p.Classify(context.Background(), "bom dia"))
}
