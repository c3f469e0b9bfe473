package nlp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type sentimentScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// HFSentiment calls a Hugging Face inference endpoint hosting a binary
// sentiment model.
type HFSentiment struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

func NewHFSentiment(url, token string, logger *zap.Logger) *HFSentiment {
	client := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HFSentiment{client: client, url: url, logger: logger}
}

func (s *HFSentiment) Sentiment(ctx context.Context, text string) (string, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"inputs": text}).
		Post(s.url)
	if err != nil {
		return "", fmt.Errorf("sentiment request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("sentiment endpoint returned %d: %s", resp.StatusCode(), resp.String())
	}

	scores, err := decodeScores(resp.Body())
	if err != nil {
		return "", err
	}

	best := scores[0]
	for _, sc := range scores[1:] {
		if sc.Score > best.Score {
			best = sc
		}
	}
	return strings.ToUpper(best.Label), nil
}

// decodeScores accepts both the batched [[...]] and flat [...] shapes.
func decodeScores(body []byte) ([]sentimentScore, error) {
	var nested [][]sentimentScore
	if err := json.Unmarshal(body, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return nested[0], nil
	}
	var flat []sentimentScore
	if err := json.Unmarshal(body, &flat); err == nil && len(flat) > 0 {
		return flat, nil
	}
	return nil, fmt.Errorf("unexpected sentiment response: %s", body)
}
