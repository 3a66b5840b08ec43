package delivery

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited applies a shared token bucket in front of next. Waiting honours
// the send context, so a slow bucket surfaces as a timeout fault.
type Limited struct {
	next Sender
	lim  *rate.Limiter
}

func NewLimited(next Sender, perSec float64) *Limited {
	l := &Limited{next: next, lim: rate.NewLimiter(rate.Inf, 1)}
	l.SetRate(perSec)
	return l
}

// SetRate changes the limit in place. perSec <= 0 disables limiting.
func (l *Limited) SetRate(perSec float64) {
	if perSec <= 0 {
		l.lim.SetLimit(rate.Inf)
		return
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	l.lim.SetBurst(burst)
	l.lim.SetLimit(rate.Limit(perSec))
}

func (l *Limited) Send(ctx context.Context, req Request) (Result, error) {
	if err := l.lim.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return l.next.Send(ctx, req)
}
