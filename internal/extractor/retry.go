package extractor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RateLimitError is returned by a Source when the upstream service asks the
// client to wait before the next request.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.Wait)
}

// FloodPolicy retries an operation for as long as it fails with a
// RateLimitError, sleeping the server-reported duration between attempts.
// Any other error stops immediately. The zero value retries forever without
// jitter.
type FloodPolicy struct {
	MaxRetries int
	// Jitter adds up to Jitter*wait of random extra delay.
	Jitter     float64
	MaxElapsed time.Duration
	// Notify is called before every wait.
	Notify func(wait time.Duration)

	timer backoff.Timer
}

// Do runs op under the policy and reports how many waits were taken.
func (p FloodPolicy) Do(ctx context.Context, op func() error) (int, error) {
	fb := &floodBackOff{jitter: p.Jitter, maxElapsed: p.MaxElapsed}

	var b backoff.BackOff = fb
	if p.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	b = backoff.WithContext(b, ctx)

	waits := 0
	err := backoff.RetryNotifyWithTimer(func() error {
		err := op()
		if err == nil {
			return nil
		}
		var rl *RateLimitError
		if errors.As(err, &rl) {
			fb.wait = rl.Wait
			return err
		}
		return backoff.Permanent(err)
	}, b, func(_ error, d time.Duration) {
		waits++
		if p.Notify != nil {
			p.Notify(d)
		}
	}, p.timer)

	return waits, err
}

// floodBackOff yields the wait most recently reported by the server.
type floodBackOff struct {
	wait       time.Duration
	jitter     float64
	maxElapsed time.Duration
	start      time.Time
}

func (b *floodBackOff) Reset() {
	b.start = time.Now()
}

func (b *floodBackOff) NextBackOff() time.Duration {
	d := b.wait
	if d < 0 {
		d = 0
	}
	if b.jitter > 0 && d > 0 {
		d += time.Duration(float64(d) * b.jitter * rand.Float64())
	}
	if b.maxElapsed > 0 && time.Since(b.start)+d > b.maxElapsed {
		return backoff.Stop
	}
	return d
}
