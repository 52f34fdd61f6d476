// Package tagging drives one input file through submission, retrieval and
// merge.
package tagging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/batch"
	"github.com/sells-group/route-tagger/internal/cost"
	"github.com/sells-group/route-tagger/internal/fsutil"
	"github.com/sells-group/route-tagger/internal/inference"
	"github.com/sells-group/route-tagger/internal/manual"
	"github.com/sells-group/route-tagger/internal/merge"
	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/request"
	"github.com/sells-group/route-tagger/internal/store"
	"github.com/sells-group/route-tagger/internal/taxonomy"
)

var (
	// ErrMissingInput is returned when an input or prompt file cannot be read.
	ErrMissingInput = eris.New("tagging: missing input")
	// ErrNoRequests is returned when a document yields nothing to submit.
	ErrNoRequests = eris.New("tagging: no requests to submit")
)

// PromptFiles names the system prompt files of a run.
type PromptFiles struct {
	Route string `json:"route_prompt_file"`
	Area  string `json:"area_prompt_file"`
}

// Driver runs the tagging steps for one input file at a time.
type Driver struct {
	batches *batch.Manager
	params  request.Params
	tax     *taxonomy.Taxonomy
	merger  *merge.Engine
	ledger  store.Ledger
	costs   *cost.Calculator
}

// New creates a Driver. A nil ledger records nothing.
func New(batches *batch.Manager, params request.Params, tax *taxonomy.Taxonomy, ledger store.Ledger) *Driver {
	if tax == nil {
		tax = taxonomy.Default()
	}
	if ledger == nil {
		ledger = store.Nop{}
	}
	return &Driver{
		batches: batches,
		params:  params,
		tax:     tax,
		merger:  merge.New(tax),
		ledger:  ledger,
		costs:   cost.NewCalculator(cost.DefaultRates()),
	}
}

// ListPending returns the open and failed split continuation records.
func (d *Driver) ListPending() []*batch.Pending { return d.batches.ListPending() }

// OutputPath is the tagged output of input: ".json" becomes "_tagged.json".
func OutputPath(input string) string {
	if strings.HasSuffix(input, ".json") {
		return strings.TrimSuffix(input, ".json") + "_tagged.json"
	}
	return input + "_tagged.json"
}

// RawResultsPath is where --batch-only writes the raw result records.
func RawResultsPath(input string) string {
	return strings.TrimSuffix(input, ".json") + "_batch_results.jsonl"
}

// BackupPath is the copy of a tagged output made before it is overwritten.
func BackupPath(output string) string {
	return output + ".bak"
}

// LoadAreas reads a source document.
func LoadAreas(path string) ([]model.Area, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(ErrMissingInput, "read %s: %v", path, err)
	}
	areas, err := model.DecodeAreas(data)
	if err != nil {
		return nil, eris.Wrapf(err, "tagging: decode %s", path)
	}
	return areas, nil
}

// loadPrior reads a previous tagged output. A missing or unreadable file
// means starting fresh.
func loadPrior(path string) []model.Area {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	areas, err := model.DecodeAreas(data)
	if err != nil {
		zap.L().Warn("tagging: ignoring unreadable prior output", zap.String("path", path), zap.Error(err))
		return nil
	}
	return areas
}

// Submit builds and submits the requests of input. A split submission
// persists its second half and returns it in the Pending field.
func (d *Driver) Submit(ctx context.Context, input string, prompts PromptFiles) (*batch.Submission, error) {
	areas, err := LoadAreas(input)
	if err != nil {
		return nil, err
	}
	p, err := request.LoadPrompts(prompts.Route, prompts.Area)
	if err != nil {
		return nil, eris.Wrapf(ErrMissingInput, "%v", err)
	}

	manual.Apply(areas)
	reqs := request.NewBuilder(d.params, p).Build(areas)
	if len(reqs) == 0 {
		return nil, eris.Wrapf(ErrNoRequests, "%s", input)
	}
	estUSD := d.estimateCost(reqs)
	zap.L().Info("tagging: built requests",
		zap.String("input_file", input),
		zap.Int("areas", len(areas)),
		zap.Int("eligible_routes", request.CountEligible(areas)),
		zap.Int("requests", len(reqs)),
		zap.Float64("est_cost_usd", estUSD),
	)

	sub, err := d.batches.SubmitRequests(ctx, input, reqs)
	if err != nil {
		store.Record(ctx, d.ledger, store.Event{InputFile: input, Kind: store.EventFailed, Requests: len(reqs), Detail: err.Error()})
		return nil, err
	}

	submitted := len(reqs)
	if sub.Pending != nil {
		submitted -= sub.Pending.Remaining()
		store.Record(ctx, d.ledger, store.Event{
			BatchID:   sub.BatchID,
			InputFile: input,
			Kind:      store.EventSplit,
			Requests:  sub.Pending.Remaining(),
			Detail:    sub.Decision.Reason,
		})
	}
	var detail string
	if d.costs.Known(d.params.Model) {
		detail = fmt.Sprintf("est_cost_usd=%.4f", estUSD)
	}
	store.Record(ctx, d.ledger, store.Event{BatchID: sub.BatchID, InputFile: input, Kind: store.EventSubmitted, Requests: submitted, Detail: detail})
	zap.L().Info("tagging: submitted batch",
		zap.String("batch_id", sub.BatchID),
		zap.String("input_file", input),
		zap.Bool("split", sub.Decision.Split),
	)
	return sub, nil
}

// estimateCost prices reqs at the batch rate, counting each request's full
// output budget.
func (d *Driver) estimateCost(reqs []model.BatchRequest) float64 {
	size := batch.Estimate(reqs)
	return d.costs.Tokens(d.params.Model, true, size.Tokens, size.Output)
}

// Check reports the state of a batch id group without waiting.
func (d *Driver) Check(ctx context.Context, ids string) (batch.GroupStatus, error) {
	return d.batches.Check(ctx, ids)
}

// FetchRaw waits for ids and writes their raw result records next to
// input, skipping the merge. It returns the written path.
func (d *Driver) FetchRaw(ctx context.Context, input, ids string) (string, error) {
	recs, err := d.batches.Retrieve(ctx, ids)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := inference.WriteResults(&buf, recs); err != nil {
		return "", err
	}
	path := RawResultsPath(input)
	if err := fsutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	zap.L().Info("tagging: wrote raw results", zap.String("path", path), zap.Int("records", len(recs)))
	return path, nil
}

// Outcome summarizes a merge run.
type Outcome struct {
	OutputPath string
	BackupPath string
	Records    int
	Skipped    int
	Stats      merge.Stats
}

// Retrieve waits for ids to complete, then merges their results into the
// tagged output of input.
func (d *Driver) Retrieve(ctx context.Context, input, ids string) (*Outcome, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, eris.Wrapf(ErrMissingInput, "stat %s: %v", input, err)
	}
	recs, err := d.batches.Retrieve(ctx, ids)
	if err != nil {
		if eris.Is(err, batch.ErrTerminal) {
			store.Record(ctx, d.ledger, store.Event{BatchID: ids, InputFile: input, Kind: store.EventFailed, Detail: err.Error()})
		}
		return nil, err
	}
	store.Record(ctx, d.ledger, store.Event{BatchID: ids, InputFile: input, Kind: store.EventCompleted, Requests: len(recs)})
	return d.Merge(ctx, input, ids, recs)
}

// Merge applies result records to input and writes the tagged output. An
// existing output is backed up first and its tags seed categories the
// records do not cover.
func (d *Driver) Merge(ctx context.Context, input, ids string, recs []model.ResultRecord) (*Outcome, error) {
	areas, err := LoadAreas(input)
	if err != nil {
		return nil, err
	}
	manual.Apply(areas)
	res := merge.Collect(recs, d.tax)

	out := &Outcome{OutputPath: OutputPath(input), Records: len(recs), Skipped: res.Skipped}
	prior := loadPrior(out.OutputPath)
	if prior != nil {
		out.BackupPath = BackupPath(out.OutputPath)
		if err := fsutil.CopyFile(out.OutputPath, out.BackupPath); err != nil {
			return nil, err
		}
		zap.L().Info("tagging: backed up prior output", zap.String("path", out.BackupPath))
	}

	out.Stats = d.merger.Apply(areas, res, prior)

	data, err := model.EncodeAreas(areas)
	if err != nil {
		return nil, eris.Wrap(err, "tagging: encode output")
	}
	if err := fsutil.WriteFileAtomic(out.OutputPath, data, 0o644); err != nil {
		return nil, err
	}

	store.Record(ctx, d.ledger, store.Event{
		BatchID:   ids,
		InputFile: input,
		Kind:      store.EventMerged,
		Requests:  len(recs),
		Detail:    out.OutputPath,
	})
	zap.L().Info("tagging: wrote tagged output",
		zap.String("path", out.OutputPath),
		zap.Int("areas_tagged", out.Stats.AreasTagged),
		zap.Int("routes_tagged", out.Stats.RoutesTagged),
		zap.Int("skipped_records", out.Skipped),
	)
	return out, nil
}

// Continue advances a pending split submission. It returns the combined
// batch id once the second half is submitted.
func (d *Driver) Continue(ctx context.Context, p *batch.Pending) (string, error) {
	wasContinued := p.Stage == batch.StageContinued
	if err := d.batches.Continue(ctx, p); err != nil {
		if eris.Is(err, batch.ErrTerminal) && !wasContinued {
			store.Record(ctx, d.ledger, store.Event{BatchID: p.FirstBatchID, InputFile: p.InputFile, Kind: store.EventFailed, Detail: p.Error})
		}
		return "", err
	}
	if !wasContinued {
		store.Record(ctx, d.ledger, store.Event{
			BatchID:   p.SecondBatchID,
			InputFile: p.InputFile,
			Kind:      store.EventContinued,
			Detail:    "after " + p.FirstBatchID,
		})
	}
	return p.CombinedID(), nil
}

// ContinueFile loads a pending record from path and continues it. On
// success the record is discarded and the combined batch id returned.
func (d *Driver) ContinueFile(ctx context.Context, path string) (string, error) {
	p, err := batch.LoadPending(path)
	if err != nil {
		return "", eris.Wrapf(ErrMissingInput, "%v", err)
	}
	id, err := d.Continue(ctx, p)
	if err != nil {
		return "", err
	}
	if err := batch.Discard(p); err != nil {
		return "", err
	}
	return id, nil
}
