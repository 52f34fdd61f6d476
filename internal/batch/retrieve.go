package batch

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/route-tagger/internal/model"
)

// SplitIDs parses a comma-joined batch id group.
func SplitIDs(ids string) []string {
	var out []string
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// GroupStatus is the combined state of a batch id group.
type GroupStatus struct {
	Status  model.BatchStatus
	Batches []model.Batch
}

// Check reports the state of every batch in ids without waiting. The group
// is completed only when every member completed; any failed member makes
// the group failed with that member's status; otherwise it is in progress.
func (m *Manager) Check(ctx context.Context, ids string) (GroupStatus, error) {
	list := SplitIDs(ids)
	if len(list) == 0 {
		return GroupStatus{}, eris.New("batch: no batch id given")
	}

	gs := GroupStatus{Status: model.BatchStatusCompleted, Batches: make([]model.Batch, 0, len(list))}
	for _, id := range list {
		b, err := m.svc.Status(ctx, id)
		if err != nil {
			return GroupStatus{}, eris.Wrapf(err, "batch: status of %s", id)
		}
		zap.L().Info("batch: status", zap.String("batch_id", id), zap.String("status", string(b.Status)))
		gs.Batches = append(gs.Batches, b)

		switch {
		case b.Status.IsFailure():
			if !gs.Status.IsFailure() {
				gs.Status = b.Status
			}
		case b.Status == model.BatchStatusCompleted:
		case b.Status == model.BatchStatusUnknown:
			if !gs.Status.IsFailure() {
				gs.Status = model.BatchStatusUnknown
			}
		default:
			if !gs.Status.IsFailure() && gs.Status != model.BatchStatusUnknown {
				gs.Status = model.BatchStatusInProgress
			}
		}
	}
	return gs, nil
}

// Wait polls the group until it leaves the in-progress states. Status
// errors are tolerated up to MaxRetries consecutive times, backing off
// RetryDelay × consecutive failures. A terminal failure returns ErrTerminal.
func (m *Manager) Wait(ctx context.Context, ids string) (GroupStatus, error) {
	var failures int
	for {
		gs, err := m.Check(ctx, ids)
		switch {
		case err != nil:
			failures++
			if failures >= m.cfg.MaxRetries {
				return GroupStatus{}, eris.Wrapf(err, "batch: giving up on %s after %d status errors", ids, failures)
			}
			zap.L().Warn("batch: status check failed", zap.String("batch_id", ids), zap.Int("attempt", failures), zap.Error(err))
		case gs.Status == model.BatchStatusCompleted:
			return gs, nil
		case gs.Status.IsFailure():
			return gs, eris.Wrapf(ErrTerminal, "batch: %s ended %s", ids, gs.Status)
		default:
			failures = 0
		}

		delay := m.cfg.PollInterval
		if err != nil && m.cfg.RetryDelay > 0 {
			delay = m.cfg.RetryDelay * time.Duration(failures)
		}
		if err := m.sleep(ctx, delay); err != nil {
			return GroupStatus{}, eris.Wrapf(err, "batch: waiting on %s", ids)
		}
	}
}

// Fetch downloads the results of every batch in ids concurrently and
// concatenates them in group order.
func (m *Manager) Fetch(ctx context.Context, ids string) ([]model.ResultRecord, error) {
	list := SplitIDs(ids)
	parts := make([][]model.ResultRecord, len(list))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range list {
		g.Go(func() error {
			recs, err := m.svc.Results(gctx, id)
			if err != nil {
				return eris.Wrapf(err, "batch: results of %s", id)
			}
			parts[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.ResultRecord
	for _, p := range parts {
		out = append(out, p...)
	}
	zap.L().Info("batch: loaded results", zap.String("batch_id", ids), zap.Int("records", len(out)))
	return out, nil
}

// Retrieve waits for the group to complete and returns its results.
func (m *Manager) Retrieve(ctx context.Context, ids string) ([]model.ResultRecord, error) {
	if _, err := m.Wait(ctx, ids); err != nil {
		return nil, err
	}
	return m.Fetch(ctx, ids)
}
