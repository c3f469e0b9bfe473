package enrichment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/config"
	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/nlp"
)

// NewProcessorFromConfig builds the Google Translate, Gemini and Hugging Face
// clients behind one shared rate limiter and memo cache. The returned close
// function releases the Gemini client.
func NewProcessorFromConfig(ctx context.Context, cfg *config.EnrichConfig, logger *zap.Logger) (*Processor, func() error, error) {
	ttl, err := time.ParseDuration(cfg.CacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid enrich cache_ttl %q: %w", cfg.CacheTTL, err)
	}

	translator, err := nlp.NewGoogleTranslator(ctx, cfg.TranslateAPIKey, cfg.TargetLanguage, logger)
	if err != nil {
		return nil, nil, err
	}
	classifier, err := nlp.NewGeminiClassifier(ctx, nlp.GeminiConfig{
		APIKey:    cfg.GeminiAPIKey,
		ModelName: cfg.GeminiModel,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	sentiment := nlp.NewHFSentiment(cfg.SentimentURL, cfg.SentimentToken, logger)

	guard := nlp.NewGuard(cfg.RequestsPerMinute, ttl)
	p := NewProcessor(
		nlp.GuardTranslator(translator, guard),
		nlp.GuardClassifier(classifier, guard),
		nlp.GuardSentiment(sentiment, guard),
		cfg.Labels,
		logger.Named("enrichment"),
	)
	return p, classifier.Close, nil
}
