package nlp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Guard throttles calls to external services and remembers answers for
// identical inputs. Channels repost the same text often, so the memo saves
// a large share of requests.
type Guard struct {
	limiter *rate.Limiter
	memo    *cache.Cache
}

// NewGuard allows requestsPerMinute calls and keeps answers for ttl.
// A non-positive rate disables throttling.
func NewGuard(requestsPerMinute int, ttl time.Duration) *Guard {
	lim := rate.NewLimiter(rate.Inf, 0)
	if requestsPerMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return &Guard{
		limiter: lim,
		memo:    cache.New(ttl, 2*ttl),
	}
}

// Do returns the memoized answer for key or calls fn under the rate limit.
// Errors are not memoized.
func (g *Guard) Do(ctx context.Context, key string, fn func(context.Context) (string, error)) (string, error) {
	if v, ok := g.memo.Get(key); ok {
		return v.(string), nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	v, err := fn(ctx)
	if err != nil {
		return "", err
	}
	g.memo.SetDefault(key, v)
	return v, nil
}

type guardedTranslator struct {
	next  Translator
	guard *Guard
}

// GuardTranslator wraps t with g.
func GuardTranslator(t Translator, g *Guard) Translator {
	return &guardedTranslator{next: t, guard: g}
}

func (t *guardedTranslator) Translate(ctx context.Context, text string) (string, error) {
	return t.guard.Do(ctx, "tr\x00"+text, func(ctx context.Context) (string, error) {
		return t.next.Translate(ctx, text)
	})
}

type guardedClassifier struct {
	next  Classifier
	guard *Guard
}

// GuardClassifier wraps c with g.
func GuardClassifier(c Classifier, g *Guard) Classifier {
	return &guardedClassifier{next: c, guard: g}
}

func (c *guardedClassifier) Classify(ctx context.Context, text string, labels []string) (string, error) {
	key := "cl\x00" + strings.Join(labels, "\x1f") + "\x00" + text
	return c.guard.Do(ctx, key, func(ctx context.Context) (string, error) {
		return c.next.Classify(ctx, text, labels)
	})
}

type guardedSentiment struct {
	next  SentimentAnalyzer
	guard *Guard
}

// GuardSentiment wraps s with g.
func GuardSentiment(s SentimentAnalyzer, g *Guard) SentimentAnalyzer {
	return &guardedSentiment{next: s, guard: g}
}

func (s *guardedSentiment) Sentiment(ctx context.Context, text string) (string, error) {
	return s.guard.Do(ctx, "se\x00"+text, func(ctx context.Context) (string, error) {
		return s.next.Sentiment(ctx, text)
	})
}
