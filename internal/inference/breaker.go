package inference

import (
	"context"

	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/resilience"
)

type guarded struct {
	next Service
	cb   *resilience.CircuitBreaker
}

// WithBreaker routes every call through cb. While the breaker is open calls
// fail fast with resilience.ErrCircuitOpen.
func WithBreaker(svc Service, cb *resilience.CircuitBreaker) Service {
	return &guarded{next: svc, cb: cb}
}

func (g *guarded) Submit(ctx context.Context, path string) (string, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (string, error) {
		return g.next.Submit(ctx, path)
	})
}

func (g *guarded) Status(ctx context.Context, batchID string) (model.Batch, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (model.Batch, error) {
		return g.next.Status(ctx, batchID)
	})
}

func (g *guarded) Results(ctx context.Context, batchID string) ([]model.ResultRecord, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) ([]model.ResultRecord, error) {
		return g.next.Results(ctx, batchID)
	})
}
