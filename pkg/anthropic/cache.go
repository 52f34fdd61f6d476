package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// cacheTTL keeps the route and area prompts warm for the life of a batch.
const cacheTTL = "1h"

// BuildCachedSystemBlocks returns a single system block with a 1-hour cache
// breakpoint.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{{
		Text:         text,
		CacheControl: &CacheControl{TTL: cacheTTL},
	}}
}

// PrimerRequest sends one sequential message so that batch requests sharing
// the same system blocks read from a warm cache.
func PrimerRequest(ctx context.Context, client Client, req MessageRequest) (*MessageResponse, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: primer request")
	}
	zap.L().Debug("anthropic: prompt cache primed",
		zap.String("model", resp.Model),
		zap.Int64("cache_write_tokens", resp.Usage.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", resp.Usage.CacheReadInputTokens),
	)
	return resp, nil
}

// WarmSystemPrompts primes the cache once per distinct system prompt. Empty
// prompts are skipped.
func WarmSystemPrompts(ctx context.Context, client Client, model string, prompts ...string) error {
	seen := make(map[string]bool, len(prompts))
	for _, p := range prompts {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		_, err := PrimerRequest(ctx, client, MessageRequest{
			Model:     model,
			MaxTokens: 1,
			System:    BuildCachedSystemBlocks(p),
			Messages:  []Message{{Role: "user", Content: "ok"}},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
