package batch

import (
	"path/filepath"
	"strings"

	"github.com/sells-group/route-tagger/internal/model"
)

// charsPerToken approximates prompt tokens from UTF-8 text length.
const charsPerToken = 4

// Size is the estimated footprint of a request set.
type Size struct {
	Requests int
	Bytes    int64
	// Tokens counts prompt tokens, the figure the service holds against
	// its enqueued token limit.
	Tokens int64
	// Output is the summed max_tokens budget of every request.
	Output int64
}

// Estimate sizes reqs as they would be uploaded: bytes of the NDJSON
// encoding, prompt tokens from text length, and the output budget.
func Estimate(reqs []model.BatchRequest) Size {
	s := Size{Requests: len(reqs)}
	for i := range reqs {
		r := &reqs[i]
		var text int
		for _, m := range r.Body.Messages {
			text += len(m.Content)
		}
		// Envelope: ids, method, url, model and sampling params.
		s.Bytes += int64(text + len(r.CustomID) + 256)
		s.Tokens += int64(text / charsPerToken)
		s.Output += int64(r.Body.MaxTokens)
	}
	return s
}

// SplitDecision explains whether a request set must be split.
type SplitDecision struct {
	Split  bool
	Reason string
	Size   Size
}

// Decide applies the split policy. A known oversized dataset or a request
// count above the force threshold splits without estimating.
func (m *Manager) Decide(inputFile string, reqs []model.BatchRequest) SplitDecision {
	base := filepath.Base(inputFile)
	for _, name := range m.cfg.OversizedDatasets {
		if strings.EqualFold(base, name) {
			return SplitDecision{Split: true, Reason: "oversized dataset " + name, Size: Size{Requests: len(reqs)}}
		}
	}
	if m.cfg.ForceSplitThreshold > 0 && len(reqs) > m.cfg.ForceSplitThreshold {
		return SplitDecision{Split: true, Reason: "request count over force threshold", Size: Size{Requests: len(reqs)}}
	}

	size := Estimate(reqs)
	switch {
	case m.cfg.MaxUploadBytes > 0 && size.Bytes > m.cfg.MaxUploadBytes:
		return SplitDecision{Split: true, Reason: "upload size over limit", Size: size}
	case m.cfg.MaxEnqueuedTokens > 0 && size.Tokens > m.cfg.MaxEnqueuedTokens:
		return SplitDecision{Split: true, Reason: "enqueued tokens over limit", Size: size}
	}
	return SplitDecision{Size: size}
}

// Split partitions reqs into exactly two groups, the first holding
// floor(num/den × N) requests. Order is preserved.
func Split(reqs []model.BatchRequest, num, den int) (first, second []model.BatchRequest) {
	n := len(reqs) * num / den
	return reqs[:n:n], reqs[n:]
}
