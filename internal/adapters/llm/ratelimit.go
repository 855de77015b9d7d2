package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/PabloGalante/farum-cbt/internal/domain"
)

// RateLimited throttles calls to the wrapped generator. All sessions share
// one limiter, so a burst of turns cannot exceed the provider quota.
type RateLimited struct {
	next    domain.Generator
	limiter *rate.Limiter
}

// NewRateLimited wraps next. A non-positive perSecond disables limiting and
// returns next unchanged.
func NewRateLimited(next domain.Generator, perSecond float64, burst int) domain.Generator {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) Generate(ctx context.Context, system, user string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Generate(ctx, system, user)
}
