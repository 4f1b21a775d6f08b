package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SemanticClassifier asks an external text-classification service to
// decide. It is the last and most expensive stage; any transport or
// decoding failure degrades to Inconclusive so the caller can ask the
// patient to rephrase instead of guessing.
type SemanticClassifier struct {
	url    string
	apiKey string
	client *http.Client
	log    *zap.Logger
}

func NewSemanticClassifier(url, apiKey string, log *zap.Logger) *SemanticClassifier {
	return &SemanticClassifier{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

type classifyRequest struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

type classifyResponse struct {
	Label string `json:"label"`
}

func (c *SemanticClassifier) Classify(ctx context.Context, normalized string) Intent {
	body, err := json.Marshal(classifyRequest{
		Text:   normalized,
		Labels: []string{string(Confirm), string(Cancel)},
	})
	if err != nil {
		return Inconclusive
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Inconclusive
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("semantic classifier unreachable", zap.Error(err))
		return Inconclusive
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("semantic classifier error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return Inconclusive
	}

	var parsed classifyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.log.Warn("semantic classifier bad response", zap.Error(err))
		return Inconclusive
	}

	switch Intent(parsed.Label) {
	case Confirm:
		return Confirm
	case Cancel:
		return Cancel
	default:
		return Inconclusive
	}
}
