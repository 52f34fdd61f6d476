package batch

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/inference"
	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/resilience"
)

// Submission is the result of SubmitRequests.
type Submission struct {
	BatchID  string
	Decision SplitDecision
	// Pending is set when the second half was deferred.
	Pending *Pending
}

// Submit writes reqs to a temporary NDJSON file and submits it, retrying
// with linearly increasing delay. The temporary file is removed after every
// attempt.
func (m *Manager) Submit(ctx context.Context, reqs []model.BatchRequest) (string, error) {
	if len(reqs) == 0 {
		return "", eris.New("batch: no requests to submit")
	}

	rc := resilience.LinearRetryConfig(m.cfg.MaxRetries, m.cfg.RetryDelay)
	rc.OnRetry = resilience.RetryLogger("inference", "submit")

	id, err := resilience.DoVal(ctx, rc, func(ctx context.Context) (string, error) {
		return m.submitOnce(ctx, reqs)
	})
	if err != nil {
		return "", eris.Wrapf(err, "batch: submit failed after %d attempts", m.cfg.MaxRetries)
	}
	zap.L().Info("batch: submitted", zap.String("batch_id", id), zap.Int("requests", len(reqs)))
	return id, nil
}

func (m *Manager) submitOnce(ctx context.Context, reqs []model.BatchRequest) (string, error) {
	f, err := os.CreateTemp(m.cfg.PendingDir, "batch_input_*.jsonl")
	if err != nil {
		return "", eris.Wrap(err, "batch: create request file")
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			zap.L().Warn("batch: remove request file", zap.String("path", path), zap.Error(err))
		}
	}()

	if err := inference.WriteRequests(f, reqs); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", eris.Wrap(err, "batch: close request file")
	}
	return m.svc.Submit(ctx, path)
}

// SubmitRequests submits reqs whole, or splits them and submits only the
// first group. The second group is persisted with the first batch id before
// returning, so a crash after submission loses nothing.
func (m *Manager) SubmitRequests(ctx context.Context, inputFile string, reqs []model.BatchRequest) (*Submission, error) {
	d := m.Decide(inputFile, reqs)
	var first, second []model.BatchRequest
	if d.Split {
		first, second = Split(reqs, m.cfg.SplitNumerator, m.cfg.SplitDenominator)
		if len(first) == 0 || len(second) == 0 {
			zap.L().Warn("batch: too few requests to split, submitting whole",
				zap.String("input_file", inputFile),
				zap.String("reason", d.Reason),
				zap.Int("requests", len(reqs)),
			)
			d.Split = false
			d.Reason += "; too few requests to split"
		}
	}
	if !d.Split {
		id, err := m.Submit(ctx, reqs)
		if err != nil {
			return nil, err
		}
		return &Submission{BatchID: id, Decision: d}, nil
	}

	zap.L().Info("batch: splitting submission",
		zap.String("input_file", inputFile),
		zap.String("reason", d.Reason),
		zap.Int("first", len(first)),
		zap.Int("second", len(second)),
	)

	id, err := m.Submit(ctx, first)
	if err != nil {
		return nil, err
	}
	p := &Pending{
		FirstBatchID:     id,
		RemainingBatches: [][]model.BatchRequest{second},
		Timestamp:        m.now().Format(pendingTimestamp),
		InputFile:        inputFile,
		Stage:            StageSubmitted,
	}
	if err := m.SavePending(p); err != nil {
		return nil, eris.Wrapf(err, "batch: persist second half of %s", id)
	}
	return &Submission{BatchID: id, Decision: d, Pending: p}, nil
}
