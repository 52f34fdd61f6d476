// Package monitoring watches the batch ledger and queue status and posts
// webhook alerts when batches fail or stall.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/route-tagger/internal/queue"
	"github.com/sells-group/route-tagger/internal/store"
)

// maxEvents caps how many ledger events one collection reads.
const maxEvents = 10000

// MetricsSnapshot holds a point-in-time view of batch health.
type MetricsSnapshot struct {
	// Ledger metrics (within lookback window).
	Submitted         int     `json:"submitted"`
	Split             int     `json:"split"`
	Continued         int     `json:"continued"`
	Completed         int     `json:"completed"`
	Failed            int     `json:"failed"`
	Merged            int     `json:"merged"`
	FailRate          float64 `json:"fail_rate"`
	RequestsSubmitted int     `json:"requests_submitted"`

	// FailedBatches lists the batch ids of failed events, newest first.
	FailedBatches []string `json:"failed_batches,omitempty"`

	// Queue metrics.
	QueuePending    int           `json:"queue_pending"`
	QueueFailed     int           `json:"queue_failed"`
	CurrentBatchID  string        `json:"current_batch_id,omitempty"`
	CurrentInput    string        `json:"current_input_file,omitempty"`
	CurrentBatchAge time.Duration `json:"current_batch_age"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished counts batches that reached an outcome.
func (s *MetricsSnapshot) Finished() int { return s.Completed + s.Failed }

// StatusReader abstracts the queue state files.
type StatusReader interface {
	Snapshot() (*queue.Snapshot, error)
}

// Collector gathers metrics from the ledger and the queue files.
type Collector struct {
	ledger store.Ledger
	status StatusReader

	now func() time.Time
}

// NewCollector creates a new metrics collector. status may be nil.
func NewCollector(ledger store.Ledger, status StatusReader) *Collector {
	return &Collector{ledger: ledger, status: status, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now.UTC(),
	}

	cutoff := now.UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	events, err := c.ledger.ListEvents(ctx, store.EventFilter{
		CreatedAfter: cutoff,
		Limit:        maxEvents,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list events")
	}

	for _, ev := range events {
		switch ev.Kind {
		case store.EventSubmitted:
			snap.Submitted++
			snap.RequestsSubmitted += ev.Requests
		case store.EventSplit:
			snap.Split++
		case store.EventContinued:
			snap.Continued++
		case store.EventCompleted:
			snap.Completed++
		case store.EventFailed:
			snap.Failed++
			if ev.BatchID != "" {
				snap.FailedBatches = append(snap.FailedBatches, ev.BatchID)
			}
		case store.EventMerged:
			snap.Merged++
		}
	}
	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}

	if c.status == nil {
		return snap, nil
	}
	qs, err := c.status.Snapshot()
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: read queue status")
	}
	counts := qs.Counts()
	snap.QueuePending = counts[queue.ItemPending]
	snap.QueueFailed = counts[queue.ItemFailed]
	if cur := qs.Status.CurrentBatch; cur != nil {
		snap.CurrentBatchID = cur.BatchID
		snap.CurrentInput = cur.InputFile
		if started, err := time.ParseInLocation(queue.TimeLayout, cur.StartedAt, time.Local); err == nil {
			snap.CurrentBatchAge = now.Sub(started)
		}
	}
	return snap, nil
}
