package nlp

import (
	"context"
	"fmt"
	"html"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/translate/v2"
)

// GoogleTranslator calls the Cloud Translation v2 API with automatic source
// language detection.
type GoogleTranslator struct {
	svc    *translate.Service
	target string
	logger *zap.Logger
}

// NewGoogleTranslator creates a translator. Extra client options override
// the API key setup, which tests use to point at a local server.
func NewGoogleTranslator(ctx context.Context, apiKey, target string, logger *zap.Logger, opts ...option.ClientOption) (*GoogleTranslator, error) {
	if apiKey == "" && len(opts) == 0 {
		return nil, fmt.Errorf("translate API key is required")
	}
	if apiKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	}

	svc, err := translate.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create translate client: %w", err)
	}

	logger.Info("Translate client initialized", zap.String("target", target))
	return &GoogleTranslator{svc: svc, target: target, logger: logger}, nil
}

func (t *GoogleTranslator) Translate(ctx context.Context, text string) (string, error) {
	resp, err := t.svc.Translations.List([]string{text}, t.target).Format("text").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("translate API error: %w", err)
	}
	if len(resp.Translations) == 0 {
		return "", fmt.Errorf("empty response from translate API")
	}

	tr := resp.Translations[0]
	t.logger.Debug("Translated message", zap.String("source_language", tr.DetectedSourceLanguage))
	return html.UnescapeString(tr.TranslatedText), nil
}
