package model

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

// Text is a scalar field that the scraper sometimes emits as a number or null.
// It renders as plain text and encodes back to the token it was decoded from.
type Text struct {
	raw json.RawMessage
}

// NewText returns a Text that encodes as a JSON string.
func NewText(s string) Text {
	raw, _ := json.Marshal(s)
	return Text{raw: raw}
}

func (t *Text) UnmarshalJSON(data []byte) error {
	t.raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if len(t.raw) == 0 {
		return []byte(`""`), nil
	}
	return t.raw, nil
}

func (t Text) String() string { return rawText(t.raw) }

// Extra holds document fields this package does not model so that a
// tagged output keeps everything the source provided.
type Extra map[string]json.RawMessage

var knownFieldsCache sync.Map // reflect.Type → map[string]struct{}

// knownFields returns the json field names declared on a struct type.
func knownFields(t reflect.Type) map[string]struct{} {
	if cached, ok := knownFieldsCache.Load(t); ok {
		return cached.(map[string]struct{})
	}
	out := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		out[name] = struct{}{}
	}
	knownFieldsCache.Store(t, out)
	return out
}

// decodeDocument unmarshals data into dst (a pointer to an alias struct) and
// returns the fields dst does not declare.
func decodeDocument(data []byte, dst any) (Extra, error) {
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	known := knownFields(reflect.TypeOf(dst).Elem())
	var extra Extra
	for k, v := range raw {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(Extra)
		}
		extra[k] = v
	}
	return extra, nil
}

// encodeDocument marshals src (an alias struct) and folds extra back in.
// Declared fields win over extras with the same name.
func encodeDocument(src any, extra Extra) ([]byte, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return data, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// Comment is one user comment on an area or route.
type Comment struct {
	Text  string `json:"comment_text"`
	Extra Extra  `json:"-"`
}

type commentAlias Comment

func (c *Comment) UnmarshalJSON(data []byte) error {
	var a commentAlias
	extra, err := decodeDocument(data, &a)
	if err != nil {
		return err
	}
	*c = Comment(a)
	c.Extra = extra
	return nil
}

func (c Comment) MarshalJSON() ([]byte, error) {
	return encodeDocument(commentAlias(c), c.Extra)
}

// joinComments concatenates comment texts with single spaces.
func joinComments(comments []Comment) string {
	parts := make([]string, len(comments))
	for i, c := range comments {
		parts[i] = c.Text
	}
	return strings.Join(parts, " ")
}

// DecodeAreas parses a source document: a JSON list of areas.
func DecodeAreas(data []byte) ([]Area, error) {
	var areas []Area
	if err := json.Unmarshal(data, &areas); err != nil {
		return nil, err
	}
	return areas, nil
}

// EncodeAreas renders areas with four-space indentation.
func EncodeAreas(areas []Area) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if areas == nil {
		areas = []Area{}
	}
	if err := enc.Encode(areas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
