package queue

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sells-group/route-tagger/internal/store"
)

// Snapshot is a read-only view of the queue and status files.
type Snapshot struct {
	Queue  []Item  `json:"queue"`
	Status *Status `json:"status"`
}

// Snapshot loads both state files.
func (f Files) Snapshot() (*Snapshot, error) {
	items, err := f.LoadQueue()
	if err != nil {
		return nil, err
	}
	st, err := f.LoadStatus()
	if err != nil {
		return nil, err
	}
	return &Snapshot{Queue: items, Status: st}, nil
}

// Counts tallies queue items by status.
func (s *Snapshot) Counts() map[ItemStatus]int {
	out := map[ItemStatus]int{}
	for _, it := range s.Queue {
		out[it.Status]++
	}
	return out
}

// WriteReport prints the snapshot for operators, followed by recent ledger
// events when there are any.
func WriteReport(w io.Writer, s *Snapshot, events []store.Event) error {
	p := &printer{w: w}
	p.line("\n=== BATCH QUEUE STATUS ===\n")

	p.line("Current Batch:")
	if cur := s.Status.CurrentBatch; cur != nil {
		p.line("  File: %s", cur.InputFile)
		p.line("  Batch ID: %s", cur.BatchID)
		p.line("  Started: %s", cur.StartedAt)
	} else {
		p.line("  None")
	}

	p.line("\nQueue:")
	for i, it := range s.Queue {
		p.line("  %d. %s - %s", i+1, it.InputFile, it.Status)
		if it.Error != "" {
			p.line("     Error: %s", it.Error)
		}
	}

	p.line("\nCompleted Batches: %d", len(s.Status.CompletedBatches))
	p.line("Failed Batches: %d", len(s.Status.FailedBatches))

	if len(events) > 0 && p.err == nil {
		p.line("\nRecent Events:")
		tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
		for _, ev := range events {
			_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\trequests=%d\t%s\n",
				ev.CreatedAt.Local().Format(TimeLayout), ev.Kind, ev.BatchID, ev.InputFile, ev.Requests, ev.Detail)
		}
		if err := tw.Flush(); err != nil && p.err == nil {
			p.err = err
		}
	}
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}
