package nlp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const classifierInstruction = `You label short posts from Ethiopian medical, pharmacy and cosmetics Telegram channels.
You are given the post and a list of candidate labels. Choose the single label that fits best.
Respond only with JSON of the form {"label": "<one of the candidate labels>"}.`

// GeminiClassifier does zero-shot classification over a closed label set.
type GeminiClassifier struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration
}

type GeminiConfig struct {
	APIKey     string
	ModelName  string
	MaxRetries int
	RetryDelay time.Duration
}

func NewGeminiClassifier(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gemini-2.0-flash-exp"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.ModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(classifierInstruction)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      genai.Ptr[float32](0),
		MaxOutputTokens:  genai.Ptr[int32](50),
		ResponseMIMEType: "application/json",
	}

	logger.Info("Gemini classifier initialized", zap.String("model", cfg.ModelName))

	return &GeminiClassifier{
		client:     client,
		model:      model,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

func (c *GeminiClassifier) Close() error {
	return c.client.Close()
}

func (c *GeminiClassifier) Classify(ctx context.Context, text string, labels []string) (string, error) {
	prompt := buildClassifyPrompt(text, labels)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying Gemini request", zap.Int("attempt", attempt+1))
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			lastErr = fmt.Errorf("gemini API error: %w", err)
			continue
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			lastErr = fmt.Errorf("empty response from gemini")
			continue
		}
		part, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
		if !ok {
			lastErr = fmt.Errorf("unexpected response type from gemini")
			continue
		}

		label, err := parseLabel(string(part), labels)
		if err != nil {
			lastErr = err
			c.logger.Debug("Unusable classifier answer", zap.String("response", string(part)), zap.Error(err))
			continue
		}
		return label, nil
	}
	return "", fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

func buildClassifyPrompt(text string, labels []string) string {
	var b strings.Builder
	b.WriteString("Candidate labels:\n")
	for _, l := range labels {
		b.WriteString("- ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteString("\nPost:\n")
	b.WriteString(text)
	return b.String()
}

// parseLabel reads {"label": ...} and maps it onto the candidate set,
// ignoring case. Markdown code fences around the JSON are tolerated.
func parseLabel(raw string, labels []string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var out struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return "", fmt.Errorf("failed to parse gemini response: %w", err)
	}
	for _, l := range labels {
		if strings.EqualFold(strings.TrimSpace(out.Label), l) {
			return l, nil
		}
	}
	return "", fmt.Errorf("label %q is not a candidate", out.Label)
}
