// Package inference adapts batch inference backends to the single Service
// contract the tagging pipeline needs: submit a request file, report a
// normalized status, return one result record per request.
package inference

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/route-tagger/internal/config"
	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/resilience"
	"github.com/sells-group/route-tagger/pkg/anthropic"
	"github.com/sells-group/route-tagger/pkg/openai"
)

// Service is an asynchronous batch inference backend.
type Service interface {
	// Submit uploads an NDJSON request file and starts a batch over it.
	Submit(ctx context.Context, path string) (string, error)
	// Status reports the batch lifecycle state.
	Status(ctx context.Context, batchID string) (model.Batch, error)
	// Results returns the output records of a completed batch.
	Results(ctx context.Context, batchID string) ([]model.ResultRecord, error)
}

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// New builds the configured backend, guarded by a circuit breaker.
func New(cfg config.InferenceConfig) (Service, error) {
	var svc Service
	switch cfg.Provider {
	case ProviderOpenAI, "":
		if cfg.OpenAIKey == "" {
			return nil, eris.New("inference: openai key is required")
		}
		opts := []openai.Option{openai.WithRateLimit(cfg.RequestsPerSecond)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		svc = NewOpenAI(openai.NewClient(cfg.OpenAIKey, opts...), cfg.CompletionWindow)
	case ProviderAnthropic:
		if cfg.AnthropicKey == "" {
			return nil, eris.New("inference: anthropic key is required")
		}
		svc = NewAnthropic(anthropic.NewClient(cfg.AnthropicKey), cfg.AnthropicModel)
	default:
		return nil, eris.Errorf("inference: unknown provider %q", cfg.Provider)
	}

	cbCfg := resilience.FromCircuitConfig(cfg.BreakerThreshold, cfg.BreakerResetSecs)
	cbCfg.Name = cfg.Provider
	return WithBreaker(svc, resilience.NewCircuitBreaker(cbCfg)), nil
}
