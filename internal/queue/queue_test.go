package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/route-tagger/internal/batch"
	"github.com/sells-group/route-tagger/internal/config"
	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/store"
	"github.com/sells-group/route-tagger/internal/tagging"
)

type mockTagger struct {
	mock.Mock
	pending []*batch.Pending
}

func (m *mockTagger) Submit(ctx context.Context, input string, prompts tagging.PromptFiles) (*batch.Submission, error) {
	args := m.Called(ctx, input, prompts)
	sub, _ := args.Get(0).(*batch.Submission)
	return sub, args.Error(1)
}

func (m *mockTagger) Check(ctx context.Context, ids string) (batch.GroupStatus, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(batch.GroupStatus), args.Error(1)
}

func (m *mockTagger) Retrieve(ctx context.Context, input, ids string) (*tagging.Outcome, error) {
	args := m.Called(ctx, input, ids)
	out, _ := args.Get(0).(*tagging.Outcome)
	return out, args.Error(1)
}

func (m *mockTagger) Continue(ctx context.Context, p *batch.Pending) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *mockTagger) ListPending() []*batch.Pending { return m.pending }

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *mockTagger, string) {
	t.Helper()
	dir := t.TempDir()
	tg := &mockTagger{}
	t.Cleanup(func() { tg.AssertExpectations(t) })
	o := New(tg, Config{
		Files: Files{
			QueuePath:  filepath.Join(dir, "batch_queue.json"),
			StatusPath: filepath.Join(dir, "batch_status.json"),
		},
	})
	o.now = func() time.Time { return fixedNow }
	return o, tg, dir
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0o644))
	return path
}

func loadState(t *testing.T, o *Orchestrator) ([]Item, *Status) {
	t.Helper()
	items, err := o.Files().LoadQueue()
	require.NoError(t, err)
	st, err := o.Files().LoadStatus()
	require.NoError(t, err)
	return items, st
}

func completed() batch.GroupStatus { return batch.GroupStatus{Status: model.BatchStatusCompleted} }

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(
		config.QueueConfig{QueueFile: "q.json", StatusFile: "s.json", PendingIntervalSecs: 60, FullIntervalSecs: 300},
		config.PromptsConfig{Route: "r.txt", Area: "a.txt"},
	)
	assert.Equal(t, Files{QueuePath: "q.json", StatusPath: "s.json"}, cfg.Files)
	assert.Equal(t, time.Minute, cfg.PendingInterval)
	assert.Equal(t, 5*time.Minute, cfg.FullInterval)
	assert.Equal(t, "r.txt", cfg.Prompts.Route)
}

func TestFiles_DefaultsWhenMissing(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	items, st := loadState(t, o)
	assert.Empty(t, items)
	assert.Nil(t, st.CurrentBatch)
	assert.NotNil(t, st.CompletedBatches)

	require.NoError(t, o.Files().SaveStatus(&Status{}))
	data, err := os.ReadFile(o.Files().StatusPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"current_batch":null,"completed_batches":[],"failed_batches":[]}`, string(data))
}

func TestAdd(t *testing.T) {
	o, _, dir := newTestOrchestrator(t)
	a := touch(t, dir, "a.json")
	b := touch(t, dir, "b.json")

	n, err := o.Add([]string{a, filepath.Join(dir, "missing.json"), b, a})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = o.Add([]string{b})
	require.NoError(t, err)
	assert.Zero(t, n)

	items, _ := loadState(t, o)
	require.Len(t, items, 2)
	assert.Equal(t, Item{
		InputFile:       a,
		Status:          ItemPending,
		AddedAt:         "2024-03-01 12:00:00",
		RoutePromptFile: "prompt/route_prompt.txt",
		AreaPromptFile:  "prompt/area_prompt.txt",
	}, items[0])
}

func TestProcessQueue_SubmitsNextPending(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	a := touch(t, dir, "a.json")
	b := touch(t, dir, "b.json")
	_, err := o.Add([]string{a, b})
	require.NoError(t, err)

	tg.On("Submit", mock.Anything, a, tagging.PromptFiles{Route: "prompt/route_prompt.txt", Area: "prompt/area_prompt.txt"}).
		Return(&batch.Submission{BatchID: "batch_1"}, nil).Once()

	require.NoError(t, o.ProcessQueue(context.Background()))

	items, st := loadState(t, o)
	require.NotNil(t, st.CurrentBatch)
	assert.Equal(t, "batch_1", st.CurrentBatch.BatchID)
	assert.Equal(t, a, st.CurrentBatch.InputFile)
	assert.Equal(t, ItemProcessing, items[0].Status)
	assert.Equal(t, "batch_1", items[0].BatchID)
	assert.Equal(t, ItemPending, items[1].Status)
}

func TestProcessQueue_SubmitFailureMarksItemFailed(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	a := touch(t, dir, "a.json")
	_, err := o.Add([]string{a})
	require.NoError(t, err)

	tg.On("Submit", mock.Anything, a, mock.Anything).Return(nil, errors.New("batch: submit failed after 3 attempts")).Once()

	require.NoError(t, o.ProcessQueue(context.Background()))
	items, st := loadState(t, o)
	assert.Nil(t, st.CurrentBatch)
	assert.Equal(t, ItemFailed, items[0].Status)
	assert.Contains(t, items[0].Error, "submit failed")
}

func seedActive(t *testing.T, o *Orchestrator, dir, batchID string, more ...string) string {
	t.Helper()
	a := touch(t, dir, "a.json")
	items := []Item{{InputFile: a, Status: ItemProcessing, BatchID: batchID, AddedAt: "2024-03-01 11:00:00"}}
	for _, name := range more {
		items = append(items, Item{InputFile: touch(t, dir, name), Status: ItemPending})
	}
	require.NoError(t, o.Files().SaveQueue(items))
	require.NoError(t, o.Files().SaveStatus(&Status{CurrentBatch: &CurrentBatch{BatchID: batchID, InputFile: a, StartedAt: "2024-03-01 11:00:00"}}))
	return a
}

func TestProcessQueue_ActiveBatchStates(t *testing.T) {
	tests := []struct {
		name        string
		status      model.BatchStatus
		checkErr    error
		wantCurrent bool
		wantItem    ItemStatus
		wantFailed  int
		wantError   string
	}{
		{name: "in progress", status: model.BatchStatusInProgress, wantCurrent: true, wantItem: ItemProcessing},
		{name: "unknown", status: model.BatchStatusUnknown, wantCurrent: true, wantItem: ItemProcessing},
		{name: "status error", checkErr: errors.New("timeout"), wantCurrent: true, wantItem: ItemProcessing},
		{name: "failed", status: model.BatchStatusFailed, wantItem: ItemFailed, wantFailed: 1, wantError: "Batch status: failed"},
		{name: "cancelled", status: model.BatchStatusCancelled, wantItem: ItemFailed, wantFailed: 1, wantError: "Batch status: cancelled"},
		{name: "expired", status: model.BatchStatusExpired, wantItem: ItemFailed, wantFailed: 1, wantError: "Batch status: expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, tg, dir := newTestOrchestrator(t)
			seedActive(t, o, dir, "batch_1", "b.json")
			tg.On("Check", mock.Anything, "batch_1").Return(batch.GroupStatus{Status: tt.status}, tt.checkErr).Once()

			require.NoError(t, o.ProcessQueue(context.Background()))

			items, st := loadState(t, o)
			assert.Equal(t, tt.wantCurrent, st.CurrentBatch != nil)
			assert.Equal(t, tt.wantItem, items[0].Status)
			assert.Equal(t, tt.wantError, items[0].Error)
			assert.Len(t, st.FailedBatches, tt.wantFailed)
			assert.Equal(t, ItemPending, items[1].Status, "a failed batch does not start the next item in the same pass")
			if tt.wantFailed > 0 {
				assert.Equal(t, FailedBatch{BatchID: "batch_1", InputFile: items[0].InputFile, Error: tt.wantError, Timestamp: "2024-03-01 12:00:00"}, st.FailedBatches[0])
			}
		})
	}
}

func TestProcessQueue_CompletedMergesAndStartsNext(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	a := seedActive(t, o, dir, "batch_1", "b.json")
	b := filepath.Join(dir, "b.json")

	tg.On("Check", mock.Anything, "batch_1").Return(completed(), nil).Once()
	tg.On("Retrieve", mock.Anything, a, "batch_1").Return(&tagging.Outcome{OutputPath: tagging.OutputPath(a)}, nil).Once()
	tg.On("Submit", mock.Anything, b, mock.Anything).Return(&batch.Submission{BatchID: "batch_2"}, nil).Once()

	require.NoError(t, o.ProcessQueue(context.Background()))

	items, st := loadState(t, o)
	assert.Equal(t, ItemCompleted, items[0].Status)
	assert.Equal(t, "2024-03-01 12:00:00", items[0].CompletedAt)
	require.Len(t, st.CompletedBatches, 1)
	assert.Equal(t, "batch_1", st.CompletedBatches[0].BatchID)
	require.NotNil(t, st.CurrentBatch)
	assert.Equal(t, "batch_2", st.CurrentBatch.BatchID)
	assert.Equal(t, ItemProcessing, items[1].Status)
}

func TestProcessQueue_MergeErrorMarksFailed(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	a := seedActive(t, o, dir, "batch_1")

	tg.On("Check", mock.Anything, "batch_1").Return(completed(), nil).Once()
	tg.On("Retrieve", mock.Anything, a, "batch_1").Return(nil, errors.New("tagging: decode a.json")).Once()

	require.NoError(t, o.ProcessQueue(context.Background()))

	items, st := loadState(t, o)
	assert.Equal(t, ItemFailed, items[0].Status)
	assert.Equal(t, "tagging: decode a.json", items[0].Error)
	require.Len(t, st.FailedBatches, 1)
	assert.Nil(t, st.CurrentBatch)
}

func TestProcessQueue_WaitsOnOpenContinuation(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1")
	p := &batch.Pending{FirstBatchID: "batch_1", Stage: batch.StageSubmitted}
	tg.pending = []*batch.Pending{p}
	tg.On("Continue", mock.Anything, p).Return("", batch.ErrNotReady)

	require.NoError(t, o.ProcessQueue(context.Background()))
	tg.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
}

// writePending stores p as a continuation record in dir and loads it back.
func writePending(t *testing.T, dir, name string, p batch.Pending) *batch.Pending {
	t.Helper()
	if p.RemainingBatches == nil {
		p.RemainingBatches = [][]model.BatchRequest{}
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	loaded, err := batch.LoadPending(path)
	require.NoError(t, err)
	return loaded
}

func TestCheckPending_AdoptsCombinedID(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1")

	stale := writePending(t, dir, "pending_batches_20240229_090000.json", batch.Pending{FirstBatchID: "batch_0", Stage: batch.StageFailed})
	p := writePending(t, dir, "pending_batches_20240301_120000.json", batch.Pending{FirstBatchID: "batch_1", Timestamp: "20240301_120000"})
	tg.pending = []*batch.Pending{stale, p}
	tg.On("Continue", mock.Anything, p).Return("batch_1,batch_2", nil).Once()

	assert.True(t, o.CheckPending(context.Background()))

	items, st := loadState(t, o)
	assert.Equal(t, "batch_1,batch_2", st.CurrentBatch.BatchID)
	assert.Equal(t, "batch_1,batch_2", items[0].BatchID)
	assert.NoFileExists(t, p.Path())
	assert.NoFileExists(t, stale.Path(), "failed record of an item no longer active")
}

func TestCheckPending_NotReadyAndErrors(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1")
	p := writePending(t, dir, "pending_batches_20240301_120000.json", batch.Pending{FirstBatchID: "batch_1"})
	tg.pending = []*batch.Pending{p}

	tg.On("Continue", mock.Anything, p).Return("", batch.ErrNotReady).Once()
	assert.False(t, o.CheckPending(context.Background()))

	tg.On("Continue", mock.Anything, p).Return("", errors.New("upload failed")).Once()
	assert.False(t, o.CheckPending(context.Background()))
	assert.FileExists(t, p.Path())

	assert.False(t, (&Orchestrator{tagger: &mockTagger{}}).CheckPending(context.Background()))
}

func TestCheckPending_SkipsRecordsOutsideActiveSlot(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1")
	// Left behind by a crash between submit and the status save.
	orphan := writePending(t, dir, "pending_batches_20240301_110000.json", batch.Pending{FirstBatchID: "batch_9"})
	tg.pending = []*batch.Pending{orphan}

	assert.False(t, o.CheckPending(context.Background()))
	tg.AssertNotCalled(t, "Continue", mock.Anything, mock.Anything)
	assert.FileExists(t, orphan.Path())
}

func TestCheckPending_DiscardsAdoptedLeftover(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1,batch_2")
	p := writePending(t, dir, "pending_batches_20240301_120000.json",
		batch.Pending{FirstBatchID: "batch_1", SecondBatchID: "batch_2", Stage: batch.StageContinued})
	tg.pending = []*batch.Pending{p}

	assert.False(t, o.CheckPending(context.Background()))
	tg.AssertNotCalled(t, "Continue", mock.Anything, mock.Anything)
	assert.NoFileExists(t, p.Path())
}

func TestProcessQueue_FailedContinuationDiscardedWithItem(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1")
	p := writePending(t, dir, "pending_batches_20240301_120000.json",
		batch.Pending{FirstBatchID: "batch_1", Stage: batch.StageFailed, Error: "first batch expired"})
	tg.pending = []*batch.Pending{p}
	tg.On("Check", mock.Anything, "batch_1").Return(batch.GroupStatus{Status: model.BatchStatusExpired}, nil).Once()

	require.NoError(t, o.ProcessQueue(context.Background()))

	items, st := loadState(t, o)
	assert.Equal(t, ItemFailed, items[0].Status)
	assert.Nil(t, st.CurrentBatch)
	assert.NoFileExists(t, p.Path())
	tg.AssertNotCalled(t, "Continue", mock.Anything, mock.Anything)
}

// A restarted processor picks up the persisted processing item and never
// resubmits it.
func TestProcessQueue_ResumesAfterRestart(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1", "b.json")
	tg.On("Check", mock.Anything, "batch_1").Return(batch.GroupStatus{Status: model.BatchStatusInProgress}, nil).Once()
	require.NoError(t, o.ProcessQueue(context.Background()))

	restarted := New(tg, o.cfg)
	restarted.now = o.now
	tg.On("Check", mock.Anything, "batch_1").Return(batch.GroupStatus{Status: model.BatchStatusInProgress}, nil).Once()
	require.NoError(t, restarted.ProcessQueue(context.Background()))

	tg.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	items, st := loadState(t, restarted)
	assert.Equal(t, "batch_1", st.CurrentBatch.BatchID)
	assert.Equal(t, ItemProcessing, items[0].Status)
}

func TestRun_StopsOnCancel(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1")
	tg.On("Check", mock.Anything, "batch_1").Return(batch.GroupStatus{Status: model.BatchStatusInProgress}, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	var sleeps []time.Duration
	o.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		cancel()
		return ctx.Err()
	}

	require.NoError(t, o.Run(ctx))
	assert.Equal(t, []time.Duration{time.Minute}, sleeps)
}

func TestRun_FullCheckOnInterval(t *testing.T) {
	o, tg, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1")
	tg.On("Check", mock.Anything, "batch_1").Return(batch.GroupStatus{Status: model.BatchStatusInProgress}, nil).Twice()

	clock := fixedNow
	o.now = func() time.Time { return clock }
	ctx, cancel := context.WithCancel(context.Background())
	var sleeps int
	o.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		clock = clock.Add(d)
		if sleeps == 6 {
			cancel()
		}
		return ctx.Err()
	}

	// One full pass at start, a second once five pending intervals passed.
	require.NoError(t, o.Run(ctx))
	assert.Equal(t, 6, sleeps)
}

func TestWriteReport(t *testing.T) {
	snap := &Snapshot{
		Queue: []Item{
			{InputFile: "a.json", Status: ItemCompleted},
			{InputFile: "b.json", Status: ItemFailed, Error: "Batch status: expired"},
			{InputFile: "c.json", Status: ItemProcessing},
		},
		Status: &Status{
			CurrentBatch:     &CurrentBatch{BatchID: "batch_3", InputFile: "c.json", StartedAt: "2024-03-01 12:00:00"},
			CompletedBatches: []CurrentBatch{{BatchID: "batch_1"}},
			FailedBatches:    []FailedBatch{{BatchID: "batch_2"}},
		},
	}
	events := []store.Event{{BatchID: "batch_3", InputFile: "c.json", Kind: store.EventSubmitted, Requests: 40, CreatedAt: fixedNow}}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, snap, events))
	out := buf.String()
	assert.Contains(t, out, "=== BATCH QUEUE STATUS ===")
	assert.Contains(t, out, "  Batch ID: batch_3")
	assert.Contains(t, out, "  2. b.json - failed\n     Error: Batch status: expired")
	assert.Contains(t, out, "Completed Batches: 1")
	assert.Contains(t, out, "Failed Batches: 1")
	assert.Contains(t, out, "Recent Events:")
	assert.Contains(t, out, "requests=40")

	idle := &Snapshot{Status: &Status{}}
	buf.Reset()
	require.NoError(t, WriteReport(&buf, idle, nil))
	assert.Contains(t, buf.String(), "Current Batch:\n  None")
	assert.NotContains(t, buf.String(), "Recent Events")
}

func TestSnapshotCounts(t *testing.T) {
	o, _, dir := newTestOrchestrator(t)
	seedActive(t, o, dir, "batch_1", "b.json", "c.json")

	snap, err := o.Files().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, map[ItemStatus]int{ItemProcessing: 1, ItemPending: 2}, snap.Counts())
}
