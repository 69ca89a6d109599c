// Package pacing holds the call-pacing policies applied in front of rate
// limited upstreams such as embedding providers.
package pacing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer blocks until the next call is allowed or ctx is done.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Interval enforces a minimum delay between the start of consecutive calls.
// Callers issuing n calls in sequence wait roughly (n-1) * min in total.
type Interval struct {
	min  time.Duration
	now  func() time.Time
	mu   sync.Mutex
	last time.Time
}

func NewInterval(min time.Duration) *Interval {
	return &Interval{min: min, now: time.Now}
}

func (p *Interval) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		if d := p.min - p.now().Sub(p.last); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	p.last = p.now()
	return nil
}

// TokenBucket allows bursts up to burst calls, refilled at perSecond.
type TokenBucket struct {
	limiter *rate.Limiter
}

func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (p *TokenBucket) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

type none struct{}

func (none) Wait(ctx context.Context) error { return ctx.Err() }

// None never delays.
var None Pacer = none{}
