// Package enrichment adds translation, a content category and a tone label
// to lake messages and appends them to the warehouse.
package enrichment

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/birhanu-ma/Ethiopian-Medical-Business-Intelligence/internal/nlp"
)

const (
	CategoryGeneral       = "General"
	CategoryUncategorized = "Uncategorized"
	CategoryUrgentMedical = "Urgent Medical"
	LabelMedicalInquiry   = "Medical Inquiry"

	ToneNeutral  = "Neutral"
	ToneNegative = "NEGATIVE"
)

// Classification is the NLP result for one message.
type Classification struct {
	Category   string
	Tone       string
	Translated string
	// Degraded is set when a service failed and defaults were substituted.
	Degraded bool
}

// Processor runs translation, classification and sentiment for one text.
type Processor struct {
	translator nlp.Translator
	classifier nlp.Classifier
	sentiment  nlp.SentimentAnalyzer
	labels     []string
	logger     *zap.Logger
}

func NewProcessor(t nlp.Translator, c nlp.Classifier, s nlp.SentimentAnalyzer, labels []string, logger *zap.Logger) *Processor {
	return &Processor{translator: t, classifier: c, sentiment: s, labels: labels, logger: logger}
}

// Process never fails. Blank text short-circuits to General/Neutral without
// any external call; any service error yields Uncategorized/Neutral with the
// original text in place of the translation.
func (p *Processor) Process(ctx context.Context, text string) Classification {
	if strings.TrimSpace(text) == "" {
		return Classification{Category: CategoryGeneral, Tone: ToneNeutral}
	}

	degraded := func(err error) Classification {
		p.logger.Warn("NLP processing failed, using defaults", zap.Error(err))
		return Classification{Category: CategoryUncategorized, Tone: ToneNeutral, Translated: text, Degraded: true}
	}

	translated, err := p.translator.Translate(ctx, text)
	if err != nil {
		return degraded(err)
	}
	category, err := p.classifier.Classify(ctx, translated, p.labels)
	if err != nil {
		return degraded(err)
	}
	tone, err := p.sentiment.Sentiment(ctx, translated)
	if err != nil {
		return degraded(err)
	}

	return Classification{Category: category, Tone: tone, Translated: translated}
}

// FinalCategory escalates negative medical inquiries.
func FinalCategory(tone, category string) string {
	if tone == ToneNegative && category == LabelMedicalInquiry {
		return CategoryUrgentMedical
	}
	return category
}
