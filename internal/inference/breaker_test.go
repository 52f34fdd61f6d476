package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/route-tagger/internal/config"
	"github.com/sells-group/route-tagger/internal/inference/mocks"
	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/resilience"
)

func TestWithBreaker_OpensOnTransientFailures(t *testing.T) {
	ctx := context.Background()
	svc := mocks.NewMockService(t)
	outage := resilience.NewTransientError(errors.New("503"), 503)
	svc.On("Status", ctx, "batch_1").Return(model.Batch{}, outage).Times(2)

	g := WithBreaker(svc, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
	}))

	for range 2 {
		_, err := g.Status(ctx, "batch_1")
		require.Error(t, err)
	}
	_, err := g.Status(ctx, "batch_1")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestWithBreaker_PassesThrough(t *testing.T) {
	ctx := context.Background()
	svc := mocks.NewMockService(t)
	svc.On("Submit", ctx, "in.jsonl").Return("batch_1", nil)
	svc.On("Status", ctx, "batch_1").Return(model.Batch{ID: "batch_1", Status: model.BatchStatusCompleted}, nil)
	svc.On("Results", ctx, "batch_1").Return([]model.ResultRecord{{CustomID: "r1"}}, nil)

	g := WithBreaker(svc, resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()))

	id, err := g.Submit(ctx, "in.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "batch_1", id)

	b, err := g.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, b.Status)

	recs, err := g.Results(ctx, id)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.InferenceConfig
		wantErr string
	}{
		{name: "openai", cfg: config.InferenceConfig{Provider: "openai", OpenAIKey: "k", RequestsPerSecond: 2}},
		{name: "default provider", cfg: config.InferenceConfig{OpenAIKey: "k"}},
		{name: "anthropic", cfg: config.InferenceConfig{Provider: "anthropic", AnthropicKey: "k", AnthropicModel: "m"}},
		{name: "openai missing key", cfg: config.InferenceConfig{Provider: "openai"}, wantErr: "openai key is required"},
		{name: "anthropic missing key", cfg: config.InferenceConfig{Provider: "anthropic"}, wantErr: "anthropic key is required"},
		{name: "unknown", cfg: config.InferenceConfig{Provider: "bedrock"}, wantErr: "unknown provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := New(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}
