package batch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/fsutil"
	"github.com/sells-group/route-tagger/internal/model"
)

const (
	pendingPrefix    = "pending_batches_"
	pendingTimestamp = "20060102_150405"
)

// Stage is the progress of a split submission.
type Stage string

const (
	// StageSubmitted: the first half is running, the rest waits on it.
	StageSubmitted Stage = "submitted"
	// StageContinued: the rest has been submitted; the record only
	// remains until the caller has adopted the combined batch id.
	StageContinued Stage = "continued"
	// StageFailed: the first half ended without results.
	StageFailed Stage = "failed"
)

// Pending is the durable continuation of a split submission.
type Pending struct {
	FirstBatchID     string                 `json:"first_batch_id"`
	RemainingBatches [][]model.BatchRequest `json:"remaining_batches"`
	Timestamp        string                 `json:"timestamp"`
	InputFile        string                 `json:"input_file,omitempty"`
	Stage            Stage                  `json:"stage,omitempty"`
	SecondBatchID    string                 `json:"second_batch_id,omitempty"`
	Error            string                 `json:"error,omitempty"`

	path string
}

// Path is where the record is stored.
func (p *Pending) Path() string { return p.path }

// CombinedID joins every batch id of the submission with commas.
func (p *Pending) CombinedID() string {
	if p.SecondBatchID == "" {
		return p.FirstBatchID
	}
	return p.FirstBatchID + "," + p.SecondBatchID
}

// Remaining counts the deferred requests.
func (p *Pending) Remaining() int {
	var n int
	for _, g := range p.RemainingBatches {
		n += len(g)
	}
	return n
}

// SavePending writes p atomically. New records get a timestamped name in
// the pending dir; a second record in the same second gets a suffix.
func (m *Manager) SavePending(p *Pending) error {
	if p.path == "" {
		base := filepath.Join(m.cfg.PendingDir, pendingPrefix+p.Timestamp)
		p.path = base + ".json"
		for i := 1; fileExists(p.path); i++ {
			p.path = base + "_" + strconv.Itoa(i) + ".json"
		}
	}
	return fsutil.WriteJSON(p.path, p)
}

// LoadPending reads a continuation record.
func LoadPending(path string) (*Pending, error) {
	var p Pending
	ok, err := fsutil.ReadJSON(path, &p)
	if err != nil {
		return nil, eris.Wrap(err, "batch: load pending")
	}
	if !ok {
		return nil, eris.Errorf("batch: pending file %s does not exist", path)
	}
	if p.FirstBatchID == "" {
		return nil, eris.Errorf("batch: pending file %s has no first_batch_id", path)
	}
	if p.Stage == "" {
		p.Stage = StageSubmitted
	}
	p.path = path
	return &p, nil
}

// ListPending returns the continuation records in the pending dir, oldest
// first. Unreadable records are logged and skipped.
func (m *Manager) ListPending() []*Pending {
	matches, err := filepath.Glob(filepath.Join(m.cfg.PendingDir, pendingPrefix+"*.json"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)

	out := make([]*Pending, 0, len(matches))
	for _, path := range matches {
		p, err := LoadPending(path)
		if err != nil {
			zap.L().Warn("batch: skipping unreadable pending file", zap.String("path", path), zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	return out
}

// FindPending returns the open record whose first batch is batchID.
func (m *Manager) FindPending(batchID string) *Pending {
	for _, p := range m.ListPending() {
		if p.FirstBatchID == batchID && p.Stage != StageFailed {
			return p
		}
	}
	return nil
}

// Discard removes a continuation record once its outcome has been adopted.
func Discard(p *Pending) error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "batch: remove %s", p.path)
	}
	return nil
}

// Continue advances a continuation record. While the first batch runs it
// returns ErrNotReady. When the first batch failed the record is marked
// failed and ErrTerminal is returned. When it completed the remaining
// groups are submitted and the record moves to StageContinued; the caller
// adopts CombinedID and then calls Discard.
func (m *Manager) Continue(ctx context.Context, p *Pending) error {
	switch p.Stage {
	case StageContinued:
		return nil
	case StageFailed:
		return eris.Wrapf(ErrTerminal, "batch: %s already failed: %s", p.FirstBatchID, p.Error)
	}

	b, err := m.svc.Status(ctx, p.FirstBatchID)
	if err != nil {
		return eris.Wrapf(err, "batch: status of %s", p.FirstBatchID)
	}
	switch {
	case b.Status == model.BatchStatusCompleted:
	case b.Status.IsFailure():
		p.Stage = StageFailed
		p.Error = "first batch " + string(b.Status)
		if err := m.SavePending(p); err != nil {
			return err
		}
		return eris.Wrapf(ErrTerminal, "batch: first batch %s %s", p.FirstBatchID, b.Status)
	default:
		return eris.Wrapf(ErrNotReady, "batch: first batch %s is %s", p.FirstBatchID, b.Status)
	}

	ids := make([]string, 0, len(p.RemainingBatches))
	for _, group := range p.RemainingBatches {
		if len(group) == 0 {
			continue
		}
		id, err := m.Submit(ctx, group)
		if err != nil {
			return eris.Wrapf(err, "batch: continue %s", p.FirstBatchID)
		}
		ids = append(ids, id)
	}
	p.SecondBatchID = strings.Join(ids, ",")
	p.Stage = StageContinued
	p.RemainingBatches = [][]model.BatchRequest{}
	if err := m.SavePending(p); err != nil {
		return err
	}
	zap.L().Info("batch: continued split submission",
		zap.String("first_batch_id", p.FirstBatchID),
		zap.String("second_batch_id", p.SecondBatchID),
		zap.String("input_file", p.InputFile),
	)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
