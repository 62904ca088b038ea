package usecase

import (
	"sync"

	"golang.org/x/time/rate"
)

// AbusePolicy keeps one token bucket per credential. An empty bucket is the
// signal that moves a credential to Limited.
type AbusePolicy struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewAbusePolicy returns nil when perSecond is not positive, which disables the policy.
func NewAbusePolicy(perSecond float64, burst int) *AbusePolicy {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &AbusePolicy{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (p *AbusePolicy) limiter(credentialID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[credentialID]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[credentialID] = l
	}
	return l
}

// Allow consumes one token for the credential. A nil policy allows everything.
func (p *AbusePolicy) Allow(credentialID string) bool {
	if p == nil {
		return true
	}
	return p.limiter(credentialID).Allow()
}

// Reset refills the credential's bucket, used when Limited is cleared.
func (p *AbusePolicy) Reset(credentialID string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.limiters, credentialID)
}
