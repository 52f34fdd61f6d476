package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagListUnmarshal_Shapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
		kind []TagKind
	}{
		{"string", `"slab"`, []string{"slab"}, []TagKind{TagScalar}},
		{"list", `["slab", "vertical"]`, []string{"slab", "vertical"}, []TagKind{TagScalar, TagScalar}},
		{"dict_with_tag", `{"tag": "finger", "description": "thin"}`, []string{"finger"}, []TagKind{TagScalar}},
		{"dict_without_tag", `{"months": "feb-jun"}`, []string{""}, []TagKind{TagStructured}},
		{"list_of_dicts", `[{"tag": "seasonal_closure_raptor", "months": "feb-jun"}]`, []string{"seasonal_closure_raptor"}, []TagKind{TagStructured}},
		{"null", `null`, []string{}, []TagKind{}},
		{"number", `7`, []string{"7"}, []TagKind{TagScalar}},
		{"list_with_nulls", `["a", null, ""]`, []string{"a"}, []TagKind{TagScalar}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var l TagList
			require.NoError(t, json.Unmarshal([]byte(tt.in), &l))
			names := make([]string, 0, len(l))
			kinds := make([]TagKind, 0, len(l))
			for _, v := range l {
				names = append(names, v.Name())
				kinds = append(kinds, v.Kind())
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, tt.kind, kinds)
		})
	}
}

func TestUnion_DedupesStructuredByFields(t *testing.T) {
	t.Parallel()

	a := TagList{
		Scalar("slab"),
		Structured(map[string]string{"tag": "x", "months": "feb"}),
	}
	b := TagList{
		Scalar("slab"),
		Structured(map[string]string{"months": "feb", "tag": "x"}),
		Structured(map[string]string{"tag": "x", "months": "mar"}),
		Scalar("vertical"),
	}

	got := Union(a, b)
	require.Len(t, got, 4)
	assert.Equal(t, "slab", got[0].Name())
	assert.Equal(t, "feb", got[1].Fields["months"])
	assert.Equal(t, "mar", got[2].Fields["months"])
	assert.Equal(t, "vertical", got[3].Name())
}

func TestTagSet_MarshalRoundTrip(t *testing.T) {
	t.Parallel()

	s := TagSet{}
	s.Add("Rope Length", "rope_70m", "rope_70m")
	s["Access & Restrictions"] = TagList{Structured(map[string]string{"tag": "seasonal_closure_raptor", "months": "feb-jun"})}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Rope Length":["rope_70m"],"Access & Restrictions":[{"tag":"seasonal_closure_raptor","months":"feb-jun"}]}`, string(data))

	var back TagSet
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"rope_70m"}, back.Names("Rope Length"))
	assert.Equal(t, TagStructured, back["Access & Restrictions"][0].Kind())
}

func TestTagSet_NilMarshalsEmptyObject(t *testing.T) {
	t.Parallel()

	var s TagSet
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestParseTagSet_RejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	s, bad, err := ParseTagSet([]byte(`{"ok": ["slab"], "bad": {"tag": }}`))
	assert.Error(t, err)
	assert.Nil(t, s)
	assert.Nil(t, bad)

	_, _, err = ParseTagSet([]byte(`["not", "an", "object"]`))
	assert.Error(t, err)
}

func TestTagSet_CloneIsDeep(t *testing.T) {
	t.Parallel()

	s := TagSet{"A": TagList{Structured(map[string]string{"tag": "x"})}}
	cp := s.Clone()
	cp["A"][0].Fields["tag"] = "y"
	assert.Equal(t, "x", s["A"][0].Fields["tag"])
}
