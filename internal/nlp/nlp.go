// Package nlp holds the external language services used by enrichment.
package nlp

import "context"

// Translator translates text into the configured target language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Classifier picks exactly one label from labels for text.
type Classifier interface {
	Classify(ctx context.Context, text string, labels []string) (string, error)
}

// SentimentAnalyzer returns POSITIVE or NEGATIVE.
type SentimentAnalyzer interface {
	Sentiment(ctx context.Context, text string) (string, error)
}
