package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	for _, text := range []string{"You tag climbing routes.", ""} {
		blocks := BuildCachedSystemBlocks(text)
		require.Len(t, blocks, 1)
		assert.Equal(t, text, blocks[0].Text)
		require.NotNil(t, blocks[0].CacheControl)
		assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
	}
}

func TestPrimerRequest(t *testing.T) {
	ctx := context.Background()
	req := MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1,
		System:    BuildCachedSystemBlocks("route prompt"),
		Messages:  []Message{{Role: "user", Content: "ok"}},
	}

	t.Run("success", func(t *testing.T) {
		mc := new(MockClient)
		mc.On("CreateMessage", ctx, req).Return(&MessageResponse{
			ID:    "msg_primer",
			Usage: TokenUsage{CacheCreationInputTokens: 4096},
		}, nil)

		resp, err := PrimerRequest(ctx, mc, req)
		require.NoError(t, err)
		assert.Equal(t, int64(4096), resp.Usage.CacheCreationInputTokens)
		mc.AssertExpectations(t)
	})

	t.Run("error", func(t *testing.T) {
		mc := new(MockClient)
		mc.On("CreateMessage", ctx, req).Return(nil, errors.New("overloaded"))

		_, err := PrimerRequest(ctx, mc, req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "anthropic: primer request")
		assert.Contains(t, err.Error(), "overloaded")
	})
}

func TestWarmSystemPrompts(t *testing.T) {
	ctx := context.Background()
	mc := new(MockClient)
	mc.On("CreateMessage", ctx, mock.MatchedBy(func(r MessageRequest) bool {
		return r.MaxTokens == 1 && len(r.System) == 1 && r.System[0].CacheControl != nil
	})).Return(&MessageResponse{}, nil)

	err := WarmSystemPrompts(ctx, mc, "claude-haiku-4-5-20251001", "route prompt", "", "area prompt", "route prompt")
	require.NoError(t, err)
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestWarmSystemPrompts_StopsOnError(t *testing.T) {
	ctx := context.Background()
	mc := new(MockClient)
	mc.On("CreateMessage", ctx, mock.Anything).Return(nil, errors.New("unauthorized"))

	err := WarmSystemPrompts(ctx, mc, "m", "route prompt", "area prompt")
	require.Error(t, err)
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}
