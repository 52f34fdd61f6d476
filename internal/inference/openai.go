package inference

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/request"
	"github.com/sells-group/route-tagger/pkg/openai"
)

// OpenAI runs batches through the Files and Batches APIs.
type OpenAI struct {
	client openai.Client
	window string
}

// NewOpenAI wraps client. An empty window defaults to "24h".
func NewOpenAI(client openai.Client, completionWindow string) *OpenAI {
	if completionWindow == "" {
		completionWindow = "24h"
	}
	return &OpenAI{client: client, window: completionWindow}
}

// Submit uploads the file and creates a batch against the chat completions
// endpoint.
func (o *OpenAI) Submit(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "inference: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	file, err := o.client.UploadFile(ctx, filepath.Base(path), f, openai.PurposeBatch)
	if err != nil {
		return "", eris.Wrap(err, "inference: upload batch input")
	}
	zap.L().Info("inference: uploaded batch input", zap.String("file_id", file.ID), zap.Int64("bytes", file.Bytes))

	batch, err := o.client.CreateBatch(ctx, openai.CreateBatchRequest{
		InputFileID:      file.ID,
		Endpoint:         request.Endpoint,
		CompletionWindow: o.window,
	})
	if err != nil {
		return "", eris.Wrap(err, "inference: create batch")
	}
	return batch.ID, nil
}

// Status fetches and normalizes the batch state.
func (o *OpenAI) Status(ctx context.Context, batchID string) (model.Batch, error) {
	b, err := o.client.GetBatch(ctx, batchID)
	if err != nil {
		return model.Batch{}, err
	}
	if b.Errors != nil {
		for _, e := range b.Errors.Data {
			zap.L().Warn("inference: batch input error",
				zap.String("batch_id", batchID),
				zap.String("code", e.Code),
				zap.String("message", e.Message),
			)
		}
	}
	return model.Batch{
		ID:           b.ID,
		Status:       openAIStatus(b.Status),
		OutputFileID: b.OutputFileID,
		ErrorFileID:  b.ErrorFileID,
		Total:        b.RequestCounts.Total,
		Completed:    b.RequestCounts.Completed,
		Failed:       b.RequestCounts.Failed,
	}, nil
}

// Results downloads the output file, followed by the error file when the
// batch has one.
func (o *OpenAI) Results(ctx context.Context, batchID string) ([]model.ResultRecord, error) {
	b, err := o.Status(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BatchStatusCompleted {
		return nil, eris.Errorf("inference: batch %s is %s, not completed", batchID, b.Status)
	}
	if b.OutputFileID == "" && b.ErrorFileID == "" {
		return nil, eris.Errorf("inference: batch %s has no output file", batchID)
	}

	var out []model.ResultRecord
	for _, fileID := range []string{b.OutputFileID, b.ErrorFileID} {
		if fileID == "" {
			continue
		}
		data, err := o.client.GetFileContent(ctx, fileID)
		if err != nil {
			return nil, err
		}
		out = append(out, ParseResults(data)...)
	}
	return out, nil
}

func openAIStatus(s string) model.BatchStatus {
	switch s {
	case openai.StatusValidating:
		return model.BatchStatusQueued
	case openai.StatusInProgress, openai.StatusFinalizing, openai.StatusCancelling:
		return model.BatchStatusInProgress
	case openai.StatusCompleted:
		return model.BatchStatusCompleted
	case openai.StatusFailed:
		return model.BatchStatusFailed
	case openai.StatusExpired:
		return model.BatchStatusExpired
	case openai.StatusCancelled:
		return model.BatchStatusCancelled
	default:
		return model.BatchStatusUnknown
	}
}
