// Package queue runs input files through the tagging pipeline one batch
// at a time. All progress lives in the queue, status and pending files so
// the loop resumes after a restart.
package queue

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/batch"
	"github.com/sells-group/route-tagger/internal/config"
	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/tagging"
)

// Tagger is the pipeline the orchestrator drives. *tagging.Driver
// implements it.
type Tagger interface {
	Submit(ctx context.Context, input string, prompts tagging.PromptFiles) (*batch.Submission, error)
	Check(ctx context.Context, ids string) (batch.GroupStatus, error)
	Retrieve(ctx context.Context, input, ids string) (*tagging.Outcome, error)
	Continue(ctx context.Context, p *batch.Pending) (string, error)
	ListPending() []*batch.Pending
}

// Config holds the orchestrator settings.
type Config struct {
	Files           Files
	Prompts         tagging.PromptFiles
	PendingInterval time.Duration
	FullInterval    time.Duration
}

// ConfigFrom maps application config onto orchestrator settings.
func ConfigFrom(q config.QueueConfig, p config.PromptsConfig) Config {
	return Config{
		Files:           Files{QueuePath: q.QueueFile, StatusPath: q.StatusFile},
		Prompts:         tagging.PromptFiles{Route: p.Route, Area: p.Area},
		PendingInterval: q.PendingInterval(),
		FullInterval:    q.FullInterval(),
	}
}

// Orchestrator owns the queue and status files.
type Orchestrator struct {
	tagger Tagger
	cfg    Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator.
func New(tagger Tagger, cfg Config) *Orchestrator {
	if cfg.Files.QueuePath == "" {
		cfg.Files.QueuePath = "batch_queue.json"
	}
	if cfg.Files.StatusPath == "" {
		cfg.Files.StatusPath = "batch_status.json"
	}
	if cfg.Prompts.Route == "" {
		cfg.Prompts.Route = "prompt/route_prompt.txt"
	}
	if cfg.Prompts.Area == "" {
		cfg.Prompts.Area = "prompt/area_prompt.txt"
	}
	if cfg.PendingInterval <= 0 {
		cfg.PendingInterval = time.Minute
	}
	if cfg.FullInterval <= 0 {
		cfg.FullInterval = 5 * time.Minute
	}
	return &Orchestrator{tagger: tagger, cfg: cfg, now: time.Now, sleep: sleepCtx}
}

// Files returns the state file locations.
func (o *Orchestrator) Files() Files { return o.cfg.Files }

func (o *Orchestrator) stamp() string { return o.now().Format(TimeLayout) }

// Add enqueues input files. Missing files and files already queued are
// skipped. It returns the number of files added.
func (o *Orchestrator) Add(inputs []string) (int, error) {
	items, err := o.cfg.Files.LoadQueue()
	if err != nil {
		return 0, err
	}

	var added int
	for _, input := range inputs {
		if _, err := os.Stat(input); err != nil {
			zap.L().Warn("queue: file does not exist, skipping", zap.String("input_file", input))
			continue
		}
		if indexOf(items, input) >= 0 {
			zap.L().Info("queue: file already queued, skipping", zap.String("input_file", input))
			continue
		}
		items = append(items, Item{
			InputFile:       input,
			Status:          ItemPending,
			AddedAt:         o.stamp(),
			RoutePromptFile: o.cfg.Prompts.Route,
			AreaPromptFile:  o.cfg.Prompts.Area,
		})
		added++
		zap.L().Info("queue: added file", zap.String("input_file", input))
	}

	if err := o.cfg.Files.SaveQueue(items); err != nil {
		return added, err
	}
	zap.L().Info("queue: updated", zap.Int("added", added), zap.Int("size", len(items)))
	return added, nil
}

// CheckPending tries to continue split submissions. It reports whether
// one was continued; the first success ends the pass. Only records whose
// first batch holds the active slot are continued. Failed records are
// dropped once their item has left the slot.
func (o *Orchestrator) CheckPending(ctx context.Context) bool {
	pending := o.tagger.ListPending()
	if len(pending) == 0 {
		return false
	}
	zap.L().Info("queue: found pending batch files", zap.Int("count", len(pending)))

	active, err := o.activeBatches()
	if err != nil {
		zap.L().Error("queue: load state for pending batches", zap.Error(err))
		return false
	}

	for _, p := range pending {
		switch {
		case p.Stage == batch.StageFailed:
			if !active[p.FirstBatchID] {
				o.discard(p)
			}
			continue
		case p.Stage == batch.StageContinued && active[p.CombinedID()]:
			// Adopted on an earlier pass whose discard did not land.
			o.discard(p)
			continue
		case !active[p.FirstBatchID]:
			zap.L().Warn("queue: pending batch not owned by the active item, skipping",
				zap.String("batch_id", p.FirstBatchID), zap.String("path", p.Path()))
			continue
		}

		id, err := o.tagger.Continue(ctx, p)
		switch {
		case errors.Is(err, batch.ErrNotReady):
			zap.L().Info("queue: first batch still running", zap.String("batch_id", p.FirstBatchID))
			continue
		case err != nil:
			zap.L().Error("queue: continue pending batches", zap.String("path", p.Path()), zap.Error(err))
			continue
		}

		if err := o.adopt(p.FirstBatchID, id); err != nil {
			zap.L().Error("queue: adopt continued batch", zap.String("batch_id", id), zap.Error(err))
			continue
		}
		o.discard(p)
		zap.L().Info("queue: continued split batch", zap.String("batch_id", id), zap.String("input_file", p.InputFile))
		return true
	}
	return false
}

// activeBatches returns the batch ids of the active slot: the status
// file's current batch and any processing queue item.
func (o *Orchestrator) activeBatches() (map[string]bool, error) {
	st, err := o.cfg.Files.LoadStatus()
	if err != nil {
		return nil, err
	}
	items, err := o.cfg.Files.LoadQueue()
	if err != nil {
		return nil, err
	}
	active := map[string]bool{}
	if st.CurrentBatch != nil {
		active[st.CurrentBatch.BatchID] = true
	}
	for _, it := range items {
		if it.Status == ItemProcessing && it.BatchID != "" {
			active[it.BatchID] = true
		}
	}
	return active, nil
}

func (o *Orchestrator) discard(p *batch.Pending) {
	if err := batch.Discard(p); err != nil {
		zap.L().Error("queue: discard pending file", zap.String("path", p.Path()), zap.Error(err))
		return
	}
	zap.L().Info("queue: discarded pending file", zap.String("path", p.Path()), zap.String("stage", string(p.Stage)))
}

// adopt replaces the first-half batch id with the combined id wherever
// the queue and status refer to it.
func (o *Orchestrator) adopt(firstID, combinedID string) error {
	st, err := o.cfg.Files.LoadStatus()
	if err != nil {
		return err
	}
	if st.CurrentBatch != nil && st.CurrentBatch.BatchID == firstID {
		st.CurrentBatch.BatchID = combinedID
		if err := o.cfg.Files.SaveStatus(st); err != nil {
			return err
		}
	}

	items, err := o.cfg.Files.LoadQueue()
	if err != nil {
		return err
	}
	var changed bool
	for i := range items {
		if items[i].BatchID == firstID {
			items[i].BatchID = combinedID
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return o.cfg.Files.SaveQueue(items)
}

// openPending reports whether a split continuation for batchID has yet to
// be submitted.
func (o *Orchestrator) openPending(batchID string) bool {
	for _, p := range o.tagger.ListPending() {
		if p.FirstBatchID == batchID && p.Stage != batch.StageFailed {
			return true
		}
	}
	return false
}

// ProcessQueue evaluates the active batch and, when the slot is free,
// submits the next pending item.
func (o *Orchestrator) ProcessQueue(ctx context.Context) error {
	if o.CheckPending(ctx) {
		zap.L().Info("queue: continued a pending batch, will check queue again later")
		return nil
	}

	items, err := o.cfg.Files.LoadQueue()
	if err != nil {
		return err
	}
	st, err := o.cfg.Files.LoadStatus()
	if err != nil {
		return err
	}

	if cur := st.CurrentBatch; cur != nil {
		if done := o.evaluate(ctx, items, st, cur); !done {
			return nil
		}
	}
	if st.CurrentBatch != nil {
		return nil
	}
	return o.startNext(ctx, items, st)
}

// evaluate inspects the active batch. It returns true when the slot was
// released by a merge, so the next item may start in the same pass.
func (o *Orchestrator) evaluate(ctx context.Context, items []Item, st *Status, cur *CurrentBatch) bool {
	log := zap.L().With(zap.String("batch_id", cur.BatchID), zap.String("input_file", cur.InputFile))

	if o.openPending(cur.BatchID) {
		log.Info("queue: waiting on split continuation")
		return false
	}

	gs, err := o.tagger.Check(ctx, cur.BatchID)
	if err != nil {
		log.Error("queue: checking batch status", zap.Error(err))
		return false
	}

	switch {
	case gs.Status == model.BatchStatusCompleted:
		log.Info("queue: batch complete, processing results")
		out, err := o.tagger.Retrieve(ctx, cur.InputFile, cur.BatchID)
		if err != nil {
			log.Error("queue: processing batch results", zap.Error(err))
			o.fail(items, st, cur, err.Error())
			return true
		}
		st.CompletedBatches = append(st.CompletedBatches, *cur)
		st.CurrentBatch = nil
		if err := o.cfg.Files.SaveStatus(st); err != nil {
			log.Error("queue: save status", zap.Error(err))
			return false
		}
		if i := indexOf(items, cur.InputFile); i >= 0 {
			items[i].Status = ItemCompleted
			items[i].Error = ""
			items[i].CompletedAt = o.stamp()
			if err := o.cfg.Files.SaveQueue(items); err != nil {
				log.Error("queue: save queue", zap.Error(err))
			}
		}
		log.Info("queue: processed batch", zap.String("output", out.OutputPath))
		return true

	case gs.Status.IsFailure():
		log.Warn("queue: batch ended without results", zap.String("status", string(gs.Status)))
		o.fail(items, st, cur, "Batch status: "+string(gs.Status))
		return false

	case gs.Status == model.BatchStatusUnknown:
		log.Warn("queue: unexpected batch status, waiting for status update", zap.String("status", string(gs.Status)))
		return false

	default:
		log.Info("queue: batch still running")
		return false
	}
}

func (o *Orchestrator) fail(items []Item, st *Status, cur *CurrentBatch, msg string) {
	st.FailedBatches = append(st.FailedBatches, FailedBatch{
		BatchID:   cur.BatchID,
		InputFile: cur.InputFile,
		Error:     msg,
		Timestamp: o.stamp(),
	})
	st.CurrentBatch = nil
	if err := o.cfg.Files.SaveStatus(st); err != nil {
		zap.L().Error("queue: save status", zap.Error(err))
		return
	}
	for i := range items {
		if items[i].InputFile == cur.InputFile {
			items[i].Status = ItemFailed
			items[i].Error = msg
		}
	}
	if err := o.cfg.Files.SaveQueue(items); err != nil {
		zap.L().Error("queue: save queue", zap.Error(err))
		return
	}
	for _, p := range o.tagger.ListPending() {
		if p.FirstBatchID == cur.BatchID || p.CombinedID() == cur.BatchID {
			o.discard(p)
		}
	}
}

func (o *Orchestrator) startNext(ctx context.Context, items []Item, st *Status) error {
	i := nextPending(items)
	if i < 0 {
		zap.L().Info("queue: no pending items")
		return nil
	}
	item := &items[i]
	zap.L().Info("queue: starting new batch", zap.String("input_file", item.InputFile))

	sub, err := o.tagger.Submit(ctx, item.InputFile, tagging.PromptFiles{Route: item.RoutePromptFile, Area: item.AreaPromptFile})
	if err != nil {
		zap.L().Error("queue: submitting batch", zap.String("input_file", item.InputFile), zap.Error(err))
		item.Status = ItemFailed
		item.Error = err.Error()
		return o.cfg.Files.SaveQueue(items)
	}

	started := o.stamp()
	st.CurrentBatch = &CurrentBatch{
		BatchID:         sub.BatchID,
		InputFile:       item.InputFile,
		RoutePromptFile: item.RoutePromptFile,
		AreaPromptFile:  item.AreaPromptFile,
		StartedAt:       started,
	}
	if err := o.cfg.Files.SaveStatus(st); err != nil {
		return err
	}
	item.Status = ItemProcessing
	item.BatchID = sub.BatchID
	item.StartedAt = started
	if err := o.cfg.Files.SaveQueue(items); err != nil {
		return err
	}
	zap.L().Info("queue: submitted batch", zap.String("batch_id", sub.BatchID), zap.String("input_file", item.InputFile))
	return nil
}

// Run polls forever: pending continuations every PendingInterval, a full
// queue pass every FullInterval. Errors are logged, never returned; only
// ctx cancellation ends the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	zap.L().Info("queue: starting processor",
		zap.Duration("pending_interval", o.cfg.PendingInterval),
		zap.Duration("full_interval", o.cfg.FullInterval),
	)

	var lastFull time.Time
	for {
		if err := ctx.Err(); err != nil {
			zap.L().Info("queue: processor stopped")
			return nil
		}

		continued := o.CheckPending(ctx)
		now := o.now()
		switch {
		case !continued && (lastFull.IsZero() || now.Sub(lastFull) >= o.cfg.FullInterval):
			if err := o.ProcessQueue(ctx); err != nil {
				zap.L().Error("queue: processing queue", zap.Error(err))
			}
			lastFull = now
			zap.L().Info("queue: next full check", zap.Duration("in", o.cfg.FullInterval))
			continue
		case continued:
			zap.L().Info("queue: processed a pending batch", zap.Duration("next_check", o.cfg.PendingInterval))
		default:
			zap.L().Debug("queue: waiting",
				zap.Duration("pending_check_in", o.cfg.PendingInterval),
				zap.Duration("full_check_in", o.cfg.FullInterval-now.Sub(lastFull)),
			)
		}

		if err := o.sleep(ctx, o.cfg.PendingInterval); err != nil {
			zap.L().Info("queue: processor stopped")
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func indexOf(items []Item, input string) int {
	for i := range items {
		if items[i].InputFile == input {
			return i
		}
	}
	return -1
}

func nextPending(items []Item) int {
	for i := range items {
		if items[i].Status == ItemPending {
			return i
		}
	}
	return -1
}
