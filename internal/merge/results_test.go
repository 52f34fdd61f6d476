package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/taxonomy"
)

func record(id, content string) model.ResultRecord {
	return model.ResultRecord{
		CustomID: id,
		Response: &model.ResultResponse{
			StatusCode: 200,
			Body:       model.ResultBody{Choices: []model.Choice{{Message: model.Message{Role: "assistant", Content: content}}}},
		},
	}
}

func TestParseContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{name: "llm_tags key", content: `{"llm_tags":{"Crack Climbing":["finger","offwidth"]}}`, want: []string{"finger", "offwidth"}},
		{name: "bare object", content: `{"Crack Climbing":"finger"}`, want: []string{"finger"}},
		{name: "tag object collapses", content: `{"llm_tags":{"Crack Climbing":{"tag":"finger","why":"thin"}}}`, want: []string{"finger"}},
		{name: "fenced", content: "```json\n{\"llm_tags\":{\"Crack Climbing\":[\"finger\"]}}\n```", want: []string{"finger"}},
		{name: "not json", content: "I think this is a crack", wantErr: true},
		{name: "array", content: `["finger"]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseContent(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Names("Crack Climbing"))
		})
	}
}

func TestCollect(t *testing.T) {
	recs := []model.ResultRecord{
		record("area_100", `{"llm_tags":{"Approach & Accessibility":["short_approach","bogus"]}}`),
		record("r1", `{"llm_tags":{"Difficulty & Safety":["sandbag"],"Unknown":["x"]}}`),
		record("r2", `not json`),
		record("r3", ``),
		{CustomID: "r4", Error: &model.ResultError{Code: "server_error", Message: "boom"}},
	}

	res := Collect(recs, taxonomy.Default())
	require.Contains(t, res.Areas, "area_100")
	assert.Equal(t, []string{"short_approach"}, res.Areas["area_100"].Names(taxonomy.CategoryApproach))
	require.Contains(t, res.Routes, "r1")
	assert.Equal(t, []string{taxonomy.CategoryDifficulty}, res.Routes["r1"].Categories())
	assert.NotContains(t, res.Routes, "r2")
	assert.Equal(t, 3, res.Skipped)
}
