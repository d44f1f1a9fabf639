package delivery

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/t77yq/crisiswatch/internal/config"
)

// ProviderLimiter hands out one token bucket per downstream provider.
// Channels that share a provider share a bucket.
type ProviderLimiter struct {
	mu        sync.Mutex
	def       config.ProviderLimit
	overrides map[string]config.ProviderLimit
	buckets   map[string]*rate.Limiter
}

// NewProviderLimiter creates a limiter from the rate limit configuration
func NewProviderLimiter(cfg config.RateLimitConfig) *ProviderLimiter {
	return &ProviderLimiter{
		def:       cfg.Default,
		overrides: cfg.Providers,
		buckets:   make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the provider has capacity or ctx is done
func (l *ProviderLimiter) Wait(ctx context.Context, providerID string) error {
	return l.bucket(providerID).Wait(ctx)
}

func (l *ProviderLimiter) bucket(providerID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[providerID]; ok {
		return b
	}

	limit := l.def
	if o, ok := l.overrides[providerID]; ok {
		limit = o
	}

	var b *rate.Limiter
	if limit.PerSecond <= 0 {
		b = rate.NewLimiter(rate.Inf, 0)
	} else {
		burst := limit.Burst
		if burst < 1 {
			burst = 1
		}
		b = rate.NewLimiter(rate.Limit(limit.PerSecond), burst)
	}
	l.buckets[providerID] = b
	return b
}
