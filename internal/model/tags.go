package model

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// TagKind distinguishes the two shapes a tag can take.
type TagKind int

const (
	// TagScalar is a plain string tag such as "sandbag".
	TagScalar TagKind = iota
	// TagStructured is an object tag carrying extra fields, e.g. {"tag": "...", "months": "..."}.
	TagStructured
)

// TagValue is a single tag. Scalar tags carry only Value; structured tags
// carry their full field set in Fields.
type TagValue struct {
	Value  string
	Fields map[string]string
}

// Scalar returns a scalar tag.
func Scalar(v string) TagValue {
	return TagValue{Value: v}
}

// Structured returns a structured tag. The "tag" field, when present, names it.
func Structured(fields map[string]string) TagValue {
	return TagValue{Value: fields["tag"], Fields: fields}
}

// Kind reports whether the tag is scalar or structured.
func (t TagValue) Kind() TagKind {
	if t.Fields != nil {
		return TagStructured
	}
	return TagScalar
}

// Name is the taxonomy name of the tag: the scalar value or the "tag" field.
func (t TagValue) Name() string {
	return t.Value
}

// Key identifies the tag for deduplication. Structured tags compare by their
// full field set, not by identity.
func (t TagValue) Key() string {
	if t.Fields == nil {
		return "s:" + t.Value
	}
	keys := make([]string, 0, len(t.Fields))
	for k := range t.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("d:")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(t.Fields[k])
		b.WriteByte(';')
	}
	return b.String()
}

func (t TagValue) MarshalJSON() ([]byte, error) {
	if t.Fields == nil {
		return json.Marshal(t.Value)
	}
	return json.Marshal(t.Fields)
}

func (t *TagValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*t = Structured(flattenFields(raw))
		return nil
	}
	*t = Scalar(rawText(data))
	return nil
}

// TagList is the ordered tag list of one category.
type TagList []TagValue

func (l TagList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]TagValue(l))
}

// UnmarshalJSON accepts a string, a list, or an object. An object with a
// "tag" field collapses to that scalar tag; any other object is kept whole.
func (l *TagList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make(TagList, 0, len(items))
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if bytes.Equal(item, []byte("null")) {
				continue
			}
			var v TagValue
			if err := v.UnmarshalJSON(item); err != nil {
				return err
			}
			if v.Fields == nil && v.Value == "" {
				continue
			}
			out = append(out, v)
		}
		*l = out
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if tag, ok := raw["tag"]; ok {
			*l = TagList{Scalar(rawText(tag))}
			return nil
		}
		*l = TagList{Structured(flattenFields(raw))}
	default:
		v := rawText(data)
		if v == "" {
			*l = nil
			return nil
		}
		*l = TagList{Scalar(v)}
	}
	return nil
}

// Contains reports whether a tag with the same key is in the list.
func (l TagList) Contains(v TagValue) bool {
	key := v.Key()
	for _, t := range l {
		if t.Key() == key {
			return true
		}
	}
	return false
}

// Union returns the tags of a followed by the tags of b not already present,
// deduplicated by Key. Order is first-seen.
func Union(a, b TagList) TagList {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make(TagList, 0, len(a)+len(b))
	for _, list := range []TagList{a, b} {
		for _, t := range list {
			k := t.Key()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Without returns the list with every tag named name removed.
func (l TagList) Without(name string) TagList {
	out := make(TagList, 0, len(l))
	for _, t := range l {
		if t.Name() != name {
			out = append(out, t)
		}
	}
	return out
}

// TagSet maps a category name to its tag list.
type TagSet map[string]TagList

func (s TagSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]TagList(s))
}

// Add appends tags to a category, skipping duplicates.
func (s TagSet) Add(category string, tags ...string) {
	list := s[category]
	for _, t := range tags {
		v := Scalar(t)
		if !list.Contains(v) {
			list = append(list, v)
		}
	}
	s[category] = list
}

// Names returns the tag names of a category, for assertions and display.
func (s TagSet) Names(category string) []string {
	list := s[category]
	out := make([]string, len(list))
	for i, t := range list {
		out[i] = t.Name()
	}
	return out
}

// Clone returns a deep copy.
func (s TagSet) Clone() TagSet {
	if s == nil {
		return nil
	}
	out := make(TagSet, len(s))
	for cat, list := range s {
		cp := make(TagList, len(list))
		for i, t := range list {
			cp[i] = t
			if t.Fields != nil {
				f := make(map[string]string, len(t.Fields))
				for k, v := range t.Fields {
					f[k] = v
				}
				cp[i].Fields = f
			}
		}
		out[cat] = cp
	}
	return out
}

// Categories returns the category names in sorted order.
func (s TagSet) Categories() []string {
	out := make([]string, 0, len(s))
	for cat := range s {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// ParseTagSet decodes a category → tags payload of any of the shapes the
// model produces. Categories whose value cannot be decoded are skipped and
// reported in the second return value.
func ParseTagSet(data []byte) (TagSet, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	out := make(TagSet, len(raw))
	var bad []string
	for cat, v := range raw {
		var list TagList
		if err := list.UnmarshalJSON(v); err != nil {
			bad = append(bad, cat)
			continue
		}
		out[cat] = list
	}
	sort.Strings(bad)
	return out, bad, nil
}

func (s *TagSet) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	parsed, _, err := ParseTagSet(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// rawText renders a JSON scalar as text: strings are unquoted, numbers and
// booleans keep their literal form.
func rawText(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return s
		}
	}
	if bytes.Equal(data, []byte("null")) {
		return ""
	}
	return string(data)
}

func flattenFields(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = rawText(v)
	}
	return out
}
