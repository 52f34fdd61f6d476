package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/route-tagger/internal/queue"
	"github.com/sells-group/route-tagger/internal/store"
)

// fakeLedger implements store.Ledger for testing.
type fakeLedger struct {
	store.Nop
	events  []store.Event
	listErr error
}

func (f *fakeLedger) ListEvents(_ context.Context, filter store.EventFilter) ([]store.Event, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []store.Event
	for _, ev := range f.events {
		if !filter.CreatedAfter.IsZero() && ev.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

type fakeStatus struct {
	snap *queue.Snapshot
	err  error
}

func (f fakeStatus) Snapshot() (*queue.Snapshot, error) { return f.snap, f.err }

var collectedAt = time.Date(2024, 3, 2, 12, 0, 0, 0, time.Local)

func newCollector(l store.Ledger, s StatusReader) *Collector {
	c := NewCollector(l, s)
	c.now = func() time.Time { return collectedAt }
	return c
}

func TestCollector_EmptyLedger(t *testing.T) {
	snap, err := newCollector(&fakeLedger{}, nil).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.Submitted)
	assert.Zero(t, snap.FailRate)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, collectedAt.UTC(), snap.CollectedAt)
}

func TestCollector_LedgerMetrics(t *testing.T) {
	ago := func(h int) time.Time { return collectedAt.Add(-time.Duration(h) * time.Hour) }
	l := &fakeLedger{events: []store.Event{
		{BatchID: "b1", Kind: store.EventSubmitted, Requests: 120, CreatedAt: ago(10)},
		{BatchID: "b1", Kind: store.EventSplit, CreatedAt: ago(10)},
		{BatchID: "b1,b2", Kind: store.EventContinued, CreatedAt: ago(8)},
		{BatchID: "b1,b2", Kind: store.EventCompleted, CreatedAt: ago(5)},
		{BatchID: "b1,b2", Kind: store.EventMerged, CreatedAt: ago(5)},
		{BatchID: "b3", Kind: store.EventSubmitted, Requests: 30, CreatedAt: ago(4)},
		{BatchID: "b3", Kind: store.EventFailed, CreatedAt: ago(2)},
		// Outside the window.
		{BatchID: "b0", Kind: store.EventFailed, CreatedAt: ago(48)},
	}}

	snap, err := newCollector(l, nil).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Submitted)
	assert.Equal(t, 150, snap.RequestsSubmitted)
	assert.Equal(t, 1, snap.Split)
	assert.Equal(t, 1, snap.Continued)
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 1, snap.Merged)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, []string{"b3"}, snap.FailedBatches)
	assert.InDelta(t, 0.5, snap.FailRate, 1e-9)
}

func TestCollector_QueueStatus(t *testing.T) {
	status := fakeStatus{snap: &queue.Snapshot{
		Queue: []queue.Item{
			{InputFile: "a.json", Status: queue.ItemProcessing},
			{InputFile: "b.json", Status: queue.ItemPending},
			{InputFile: "c.json", Status: queue.ItemPending},
			{InputFile: "d.json", Status: queue.ItemFailed},
		},
		Status: &queue.Status{CurrentBatch: &queue.CurrentBatch{
			BatchID:   "b1",
			InputFile: "a.json",
			StartedAt: collectedAt.Add(-30 * time.Hour).Format(queue.TimeLayout),
		}},
	}}

	snap, err := newCollector(&fakeLedger{}, status).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.QueuePending)
	assert.Equal(t, 1, snap.QueueFailed)
	assert.Equal(t, "b1", snap.CurrentBatchID)
	assert.Equal(t, 30*time.Hour, snap.CurrentBatchAge)
}

func TestCollector_RealQueueFiles(t *testing.T) {
	dir := t.TempDir()
	files := queue.Files{QueuePath: filepath.Join(dir, "q.json"), StatusPath: filepath.Join(dir, "s.json")}

	snap, err := newCollector(&fakeLedger{}, files).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Empty(t, snap.CurrentBatchID)
	assert.Zero(t, snap.QueuePending)
}

func TestCollector_Errors(t *testing.T) {
	_, err := newCollector(&fakeLedger{listErr: errors.New("locked")}, nil).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list events")

	_, err = newCollector(&fakeLedger{}, fakeStatus{err: errors.New("bad json")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: read queue status")
}
