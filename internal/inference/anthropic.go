package inference

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/pkg/anthropic"
)

// Anthropic runs the same chat-completions request files through Message
// Batches. Requests are translated on submit and results translated back, so
// callers never see the difference.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic wraps client. modelName replaces the model named in each
// request body.
func NewAnthropic(client anthropic.Client, modelName string) *Anthropic {
	return &Anthropic{client: client, model: modelName}
}

// Submit converts the request file into a message batch. System prompts are
// cached and primed first so every request in the batch reads them from
// cache; a failed primer only costs cache hits.
func (a *Anthropic) Submit(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "inference: open %s", path)
	}
	reqs, err := ReadRequests(f)
	_ = f.Close()
	if err != nil {
		return "", err
	}
	if len(reqs) == 0 {
		return "", eris.Errorf("inference: %s has no requests", path)
	}

	batch := anthropic.BatchRequest{Requests: make([]anthropic.BatchRequestItem, len(reqs))}
	var systems []string
	for i, r := range reqs {
		batch.Requests[i] = anthropic.BatchRequestItem{CustomID: r.CustomID, Params: a.messageRequest(r)}
		systems = append(systems, r.SystemPrompt())
	}

	if err := anthropic.WarmSystemPrompts(ctx, a.client, a.model, systems...); err != nil {
		zap.L().Warn("inference: prompt cache primer failed", zap.Error(err))
	}

	resp, err := a.client.CreateBatch(ctx, batch)
	if err != nil {
		return "", eris.Wrap(err, "inference: create message batch")
	}
	return resp.ID, nil
}

// Status maps processing_status and request counts onto the normalized
// lifecycle. An ended batch in which nothing succeeded is reported as the
// dominant failure kind.
func (a *Anthropic) Status(ctx context.Context, batchID string) (model.Batch, error) {
	b, err := a.client.GetBatch(ctx, batchID)
	if err != nil {
		return model.Batch{}, err
	}
	c := b.RequestCounts
	return model.Batch{
		ID:        b.ID,
		Status:    anthropicStatus(b),
		Total:     int(c.Processing + c.Succeeded + c.Errored + c.Canceled + c.Expired),
		Completed: int(c.Succeeded),
		Failed:    int(c.Errored + c.Canceled + c.Expired),
	}, nil
}

// Results streams the batch results into chat-completions shaped records.
// Items that did not succeed carry an Error instead of a Response.
func (a *Anthropic) Results(ctx context.Context, batchID string) ([]model.ResultRecord, error) {
	iter, err := a.client.GetBatchResults(ctx, batchID)
	if err != nil {
		return nil, err
	}
	res, err := anthropic.CollectBatchResultsDetailed(iter)
	if err != nil {
		return nil, err
	}

	out := make([]model.ResultRecord, 0, len(res.Order)+len(res.Failures))
	for _, id := range res.Order {
		msg := res.Succeeded[id]
		out = append(out, model.ResultRecord{
			ID:       msg.ID,
			CustomID: id,
			Response: &model.ResultResponse{
				StatusCode: 200,
				Body: model.ResultBody{
					ID:    msg.ID,
					Model: msg.Model,
					Choices: []model.Choice{{
						Message:      model.Message{Role: "assistant", Content: msg.Text()},
						FinishReason: msg.StopReason,
					}},
				},
			},
		})
	}
	for _, f := range res.Failures {
		out = append(out, model.ResultRecord{
			CustomID: f.CustomID,
			Error:    &model.ResultError{Code: f.Type, Message: "message batch item " + f.Type},
		})
	}
	return out, nil
}

func (a *Anthropic) messageRequest(r model.BatchRequest) anthropic.MessageRequest {
	temp, topP := r.Body.Temperature, r.Body.TopP
	req := anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   int64(r.Body.MaxTokens),
		Temperature: &temp,
		TopP:        &topP,
	}
	for _, m := range r.Body.Messages {
		if m.Role == "system" {
			req.System = append(req.System, anthropic.BuildCachedSystemBlocks(m.Content)...)
			continue
		}
		req.Messages = append(req.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}
	return req
}

func anthropicStatus(b *anthropic.BatchResponse) model.BatchStatus {
	switch b.ProcessingStatus {
	case anthropic.ProcessingInProgress, anthropic.ProcessingCanceling:
		return model.BatchStatusInProgress
	case anthropic.ProcessingEnded:
		c := b.RequestCounts
		switch {
		case c.Succeeded > 0:
			return model.BatchStatusCompleted
		case c.Errored > 0:
			return model.BatchStatusFailed
		case c.Canceled > 0:
			return model.BatchStatusCancelled
		case c.Expired > 0:
			return model.BatchStatusExpired
		}
		return model.BatchStatusCompleted
	default:
		return model.BatchStatusUnknown
	}
}
