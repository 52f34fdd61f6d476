package inference

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/route-tagger/internal/model"
)

func sampleRequest(id, system, user string) model.BatchRequest {
	return model.BatchRequest{
		CustomID: id,
		Method:   "POST",
		URL:      "/v1/chat/completions",
		Body: model.RequestBody{
			Model: "gpt-4o-mini",
			Messages: []model.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			Temperature: 0.3,
			MaxTokens:   500,
			TopP:        0.95,
			N:           1,
		},
	}
}

func TestWriteReadRequests(t *testing.T) {
	reqs := []model.BatchRequest{
		sampleRequest("area_105", "area prompt", "Area Description: <b>slab</b> & cracks"),
		sampleRequest("r1", "route prompt", "Route Description: splitter"),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRequests(&buf, reqs))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "<b>slab</b> & cracks", "html is not escaped")

	got, err := ReadRequests(&buf)
	require.NoError(t, err)
	assert.Equal(t, reqs, got)
}

func TestReadRequests_Malformed(t *testing.T) {
	_, err := ReadRequests(strings.NewReader("{\"custom_id\":\"r1\"}\n\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestParseResults_SkipsMalformed(t *testing.T) {
	data := []byte(`{"custom_id":"r1","response":{"status_code":200,"body":{"choices":[{"message":{"role":"assistant","content":"{}"}}]}}}
garbage
{"response":null}

{"custom_id":"area_105","response":{"status_code":200,"body":{"choices":[{"message":{"role":"assistant","content":"{\"Approach\":[]}"}}]}}}
`)
	recs := ParseResults(data)
	require.Len(t, recs, 2)
	assert.Equal(t, "r1", recs[0].CustomID)
	assert.Equal(t, "{}", recs[0].Content())
	assert.Equal(t, "area_105", recs[1].CustomID)
}

func TestWriteResults(t *testing.T) {
	recs := ParseResults([]byte(`{"custom_id":"r1","response":{"status_code":200,"body":{"choices":[{"message":{"role":"assistant","content":"x"}}]}}}`))

	var buf bytes.Buffer
	require.NoError(t, WriteResults(&buf, recs))
	assert.Equal(t, recs, ParseResults(buf.Bytes()))
}
