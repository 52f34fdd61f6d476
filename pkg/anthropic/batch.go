package anthropic

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Processing status values of a message batch.
const (
	ProcessingInProgress = "in_progress"
	ProcessingCanceling  = "canceling"
	ProcessingEnded      = "ended"
)

// Result types of a batch item.
const (
	ResultSucceeded = "succeeded"
	ResultErrored   = "errored"
	ResultCanceled  = "canceled"
	ResultExpired   = "expired"
)

// BatchFailure records a single failed batch item.
type BatchFailure struct {
	CustomID string
	Type     string
}

// BatchCollectResult holds succeeded and failed items in stream order.
type BatchCollectResult struct {
	Succeeded map[string]*MessageResponse
	Order     []string
	Failures  []BatchFailure
}

// CollectBatchResultsDetailed drains iter and keeps failures alongside the
// succeeded results. The iterator is always closed.
func CollectBatchResultsDetailed(iter BatchResultIterator) (*BatchCollectResult, error) {
	defer iter.Close() //nolint:errcheck

	result := &BatchCollectResult{Succeeded: make(map[string]*MessageResponse)}
	for iter.Next() {
		item := iter.Item()
		if item.Type == ResultSucceeded && item.Message != nil {
			result.Succeeded[item.CustomID] = item.Message
			result.Order = append(result.Order, item.CustomID)
			continue
		}
		result.Failures = append(result.Failures, BatchFailure{CustomID: item.CustomID, Type: item.Type})
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "anthropic: iterate batch results")
	}

	if len(result.Failures) > 0 {
		zap.L().Warn("anthropic: batch items did not succeed",
			zap.Int("failed", len(result.Failures)),
			zap.Int("succeeded", len(result.Succeeded)),
		)
	}
	return result, nil
}
