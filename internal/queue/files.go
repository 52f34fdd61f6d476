package queue

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/route-tagger/internal/fsutil"
)

// TimeLayout formats every timestamp in the queue and status files.
const TimeLayout = "2006-01-02 15:04:05"

// ItemStatus is the state of a queue item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// Item is one input file awaiting or done with processing.
type Item struct {
	InputFile       string     `json:"input_file"`
	Status          ItemStatus `json:"status"`
	AddedAt         string     `json:"added_at"`
	RoutePromptFile string     `json:"route_prompt_file"`
	AreaPromptFile  string     `json:"area_prompt_file"`
	BatchID         string     `json:"batch_id,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       string     `json:"started_at,omitempty"`
	CompletedAt     string     `json:"completed_at,omitempty"`
}

// CurrentBatch is the single active batch slot.
type CurrentBatch struct {
	BatchID         string `json:"batch_id"`
	InputFile       string `json:"input_file"`
	RoutePromptFile string `json:"route_prompt_file"`
	AreaPromptFile  string `json:"area_prompt_file"`
	StartedAt       string `json:"started_at"`
}

// FailedBatch records a batch that ended without a merged output.
type FailedBatch struct {
	BatchID   string `json:"batch_id"`
	InputFile string `json:"input_file"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Status is the content of the status file.
type Status struct {
	CurrentBatch     *CurrentBatch  `json:"current_batch"`
	CompletedBatches []CurrentBatch `json:"completed_batches"`
	FailedBatches    []FailedBatch  `json:"failed_batches"`
}

// Files locates the queue and status files. Both are rewritten whole and
// atomically; concurrent writers are not supported.
type Files struct {
	QueuePath  string
	StatusPath string
}

// LoadQueue reads the queue. A missing file is an empty queue.
func (f Files) LoadQueue() ([]Item, error) {
	var items []Item
	if _, err := fsutil.ReadJSON(f.QueuePath, &items); err != nil {
		return nil, eris.Wrap(err, "queue: load queue")
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// SaveQueue writes the queue.
func (f Files) SaveQueue(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	return eris.Wrap(fsutil.WriteJSON(f.QueuePath, items), "queue: save queue")
}

// LoadStatus reads the status file. A missing file is an idle status.
func (f Files) LoadStatus() (*Status, error) {
	var st Status
	if _, err := fsutil.ReadJSON(f.StatusPath, &st); err != nil {
		return nil, eris.Wrap(err, "queue: load status")
	}
	st.normalize()
	return &st, nil
}

// SaveStatus writes the status file.
func (f Files) SaveStatus(st *Status) error {
	st.normalize()
	return eris.Wrap(fsutil.WriteJSON(f.StatusPath, st), "queue: save status")
}

func (st *Status) normalize() {
	if st.CompletedBatches == nil {
		st.CompletedBatches = []CurrentBatch{}
	}
	if st.FailedBatches == nil {
		st.FailedBatches = []FailedBatch{}
	}
}
