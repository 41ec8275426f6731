package judge

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedJudge wraps a Judge with a token-bucket limiter so batch
// dispatch cannot exceed a provider's request budget.
type RateLimitedJudge struct {
	inner   Judge
	limiter *rate.Limiter
}

// NewRateLimitedJudge wraps inner with a limiter of rps requests per
// second and the given burst.
func NewRateLimitedJudge(inner Judge, rps float64, burst int) *RateLimitedJudge {
	return &RateLimitedJudge{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Score implements the Judge interface. It blocks until the limiter
// admits the call or the context is cancelled.
func (r *RateLimitedJudge) Score(ctx context.Context, systemPrompt, userPrompt string) (*Score, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return r.inner.Score(ctx, systemPrompt, userPrompt)
}
