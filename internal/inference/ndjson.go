package inference

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/model"
)

// maxLineBytes bounds a single NDJSON record. Rendered route text with all
// comments stays far below this.
const maxLineBytes = 16 << 20

// WriteRequests writes one JSON request per line.
func WriteRequests(w io.Writer, reqs []model.BatchRequest) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range reqs {
		if err := enc.Encode(reqs[i]); err != nil {
			return eris.Wrapf(err, "inference: encode request %s", reqs[i].CustomID)
		}
	}
	return eris.Wrap(bw.Flush(), "inference: flush requests")
}

// ReadRequests decodes an NDJSON request file. Blank lines are ignored;
// a malformed line is an error since the file is ours.
func ReadRequests(r io.Reader) ([]model.BatchRequest, error) {
	var reqs []model.BatchRequest
	err := scanLines(r, func(n int, line []byte) error {
		var req model.BatchRequest
		if err := json.Unmarshal(line, &req); err != nil {
			return eris.Wrapf(err, "inference: decode request line %d", n)
		}
		reqs = append(reqs, req)
		return nil
	})
	return reqs, err
}

// ParseResults decodes batch output. Lines that are not valid records are
// logged and skipped.
func ParseResults(data []byte) []model.ResultRecord {
	var out []model.ResultRecord
	_ = scanLines(bytes.NewReader(data), func(n int, line []byte) error {
		var rec model.ResultRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.CustomID == "" {
			zap.L().Warn("inference: skipping malformed result line",
				zap.Int("line", n),
				zap.Error(err),
			)
			return nil
		}
		out = append(out, rec)
		return nil
	})
	return out
}

// WriteResults writes result records as NDJSON.
func WriteResults(w io.Writer, recs []model.ResultRecord) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i := range recs {
		if err := enc.Encode(recs[i]); err != nil {
			return eris.Wrapf(err, "inference: encode result %s", recs[i].CustomID)
		}
	}
	return eris.Wrap(bw.Flush(), "inference: flush results")
}

func scanLines(r io.Reader, fn func(n int, line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return eris.Wrap(sc.Err(), "inference: scan lines")
}
