package anthropic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func succeeded(id, text string) BatchResultItem {
	return BatchResultItem{
		CustomID: id,
		Type:     ResultSucceeded,
		Message:  &MessageResponse{Content: []ContentBlock{{Type: "text", Text: text}}},
	}
}

func TestCollectBatchResultsDetailed(t *testing.T) {
	iter := newSliceIterator([]BatchResultItem{
		succeeded("area_105", `{"Approach":["long_approach"]}`),
		{CustomID: "r1", Type: ResultErrored},
		succeeded("r3", `{"Style":["sport"]}`),
		{CustomID: "r4", Type: ResultExpired},
	}, nil)

	res, err := CollectBatchResultsDetailed(iter)
	require.NoError(t, err)
	assert.True(t, iter.closed)

	assert.Equal(t, []string{"area_105", "r3"}, res.Order)
	assert.Equal(t, `{"Style":["sport"]}`, res.Succeeded["r3"].Text())
	assert.Equal(t, []BatchFailure{
		{CustomID: "r1", Type: ResultErrored},
		{CustomID: "r4", Type: ResultExpired},
	}, res.Failures)
}

func TestCollectBatchResultsDetailed_Cases(t *testing.T) {
	tests := []struct {
		name    string
		items   []BatchResultItem
		iterErr error
		want    int
		wantErr string
	}{
		{name: "empty", want: 0},
		{
			name:  "skips failures",
			items: []BatchResultItem{succeeded("r1", "{}"), {CustomID: "r2", Type: ResultCanceled}},
			want:  1,
		},
		{
			name:    "stream error",
			items:   []BatchResultItem{succeeded("r1", "{}")},
			iterErr: errors.New("stream interrupted"),
			wantErr: "stream interrupted",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iter := newSliceIterator(tt.items, tt.iterErr)
			got, err := CollectBatchResultsDetailed(iter)
			assert.True(t, iter.closed)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got.Succeeded, tt.want)
		})
	}
}
