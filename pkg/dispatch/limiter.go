package dispatch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// TenantLimiter serializes sends per tenant and spaces them by a token
// bucket. Different tenants never wait on each other.
type TenantLimiter struct {
	next  core.Dispatcher
	limit rate.Limit
	burst int

	mu    sync.Mutex
	gates map[string]*gate
}

type gate struct {
	turn    chan struct{} // holds one token while a send is in flight
	limiter *rate.Limiter
}

// NewTenantLimiter wraps next with perSecond sends per tenant. A
// non-positive perSecond only serializes.
func NewTenantLimiter(next core.Dispatcher, perSecond float64, burst int) *TenantLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &TenantLimiter{
		next:  next,
		limit: limit,
		burst: burst,
		gates: make(map[string]*gate),
	}
}

func (l *TenantLimiter) gate(tenantID string) *gate {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.gates[tenantID]
	if !ok {
		g = &gate{
			turn:    make(chan struct{}, 1),
			limiter: rate.NewLimiter(l.limit, l.burst),
		}
		l.gates[tenantID] = g
	}
	return g
}

// Send implements core.Dispatcher.
func (l *TenantLimiter) Send(ctx context.Context, target string, kind core.JobKind, msg core.Message) (core.Delivery, error) {
	g := l.gate(msg.TenantID)

	select {
	case g.turn <- struct{}{}:
	case <-ctx.Done():
		return core.Delivery{}, core.Transient("waiting for tenant turn", ctx.Err())
	}
	defer func() { <-g.turn }()

	if err := g.limiter.Wait(ctx); err != nil {
		return core.Delivery{}, core.Transient("tenant rate limit", err)
	}
	return l.next.Send(ctx, target, kind, msg)
}

var _ core.Dispatcher = (*TenantLimiter)(nil)
