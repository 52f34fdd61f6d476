// Package taxonomy holds the fixed category → allowed tag vocabulary and
// filters arbitrary tag payloads against it.
package taxonomy

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/route-tagger/internal/model"
)

// Category names referenced by the rule tagger and the merge engine.
const (
	CategoryCrowds     = "Crowds & Popularity"
	CategoryDifficulty = "Difficulty & Safety"
	CategoryMultiPitch = "Multi-Pitch, Anchors & Descent"
	CategoryRopeLength = "Rope Length"
	CategoryApproach   = "Approach & Accessibility"
	CategoryAccess     = "Access & Restrictions"
)

//go:embed taxonomy.yaml
var defaultYAML []byte

// Config is the YAML form of a taxonomy.
type Config struct {
	Categories []CategoryConfig `yaml:"categories"`
}

// CategoryConfig lists one category's allowed tags. Prefixes admit any tag
// that starts with one of them.
type CategoryConfig struct {
	Name     string   `yaml:"name"`
	Tags     []string `yaml:"tags"`
	Prefixes []string `yaml:"prefixes,omitempty"`
}

type category struct {
	tags     map[string]struct{}
	prefixes []string
}

// Taxonomy is an immutable category → allowed tag set mapping.
type Taxonomy struct {
	order      []string
	categories map[string]category
}

// Dropped describes a category or tag removed during validation.
type Dropped struct {
	Category string
	Tag      string
	// Whole is set when the entire category was unrecognized.
	Whole bool
}

// Default returns the built-in taxonomy.
func Default() *Taxonomy {
	t, err := Parse(defaultYAML)
	if err != nil {
		panic(eris.Wrap(err, "taxonomy: embedded default"))
	}
	return t
}

// Load reads a taxonomy from a YAML file. An empty path yields Default().
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a taxonomy document with a top-level "taxonomy" key.
func Parse(data []byte) (*Taxonomy, error) {
	var wrapper struct {
		Taxonomy Config `yaml:"taxonomy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "taxonomy: parse")
	}
	if len(wrapper.Taxonomy.Categories) == 0 {
		return nil, eris.New("taxonomy: no categories defined")
	}
	return New(wrapper.Taxonomy), nil
}

// New builds a taxonomy from its config form.
func New(cfg Config) *Taxonomy {
	t := &Taxonomy{categories: make(map[string]category, len(cfg.Categories))}
	for _, c := range cfg.Categories {
		cat, ok := t.categories[c.Name]
		if !ok {
			cat = category{tags: make(map[string]struct{}, len(c.Tags))}
			t.order = append(t.order, c.Name)
		}
		for _, tag := range c.Tags {
			cat.tags[tag] = struct{}{}
		}
		cat.prefixes = append(cat.prefixes, c.Prefixes...)
		t.categories[c.Name] = cat
	}
	return t
}

// Categories returns category names in declaration order.
func (t *Taxonomy) Categories() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Tags returns the fixed tags of a category, sorted.
func (t *Taxonomy) Tags(categoryName string) []string {
	cat, ok := t.categories[categoryName]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(cat.tags))
	for tag := range cat.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// HasCategory reports whether the category is recognized.
func (t *Taxonomy) HasCategory(name string) bool {
	_, ok := t.categories[name]
	return ok
}

// Allows reports whether tag is a member of category.
func (t *Taxonomy) Allows(categoryName, tag string) bool {
	cat, ok := t.categories[categoryName]
	if !ok || tag == "" {
		return false
	}
	if _, ok := cat.tags[tag]; ok {
		return true
	}
	for _, p := range cat.prefixes {
		if strings.HasPrefix(tag, p) {
			return true
		}
	}
	return false
}

// Filter returns the subset of tags the taxonomy accepts and the list of
// what was removed. It never fails: unknown categories are dropped whole,
// unknown tags individually. Categories left empty are omitted.
func (t *Taxonomy) Filter(tags model.TagSet) (model.TagSet, []Dropped) {
	out := make(model.TagSet, len(tags))
	var dropped []Dropped
	for _, name := range tags.Categories() {
		list := tags[name]
		if !t.HasCategory(name) {
			dropped = append(dropped, Dropped{Category: name, Whole: true})
			continue
		}
		kept := make(model.TagList, 0, len(list))
		for _, tag := range list {
			if t.Allows(name, tag.Name()) {
				kept = append(kept, tag)
				continue
			}
			dropped = append(dropped, Dropped{Category: name, Tag: tag.Name()})
		}
		if len(kept) > 0 {
			out[name] = kept
		}
	}
	return out, dropped
}

// Validate filters tags and logs every dropped category or tag against the
// owning entity id.
func (t *Taxonomy) Validate(entityID string, tags model.TagSet) model.TagSet {
	out, dropped := t.Filter(tags)
	for _, d := range dropped {
		if d.Whole {
			zap.L().Warn("taxonomy: dropped unknown category",
				zap.String("id", entityID),
				zap.String("category", d.Category),
			)
			continue
		}
		zap.L().Warn("taxonomy: dropped invalid tag",
			zap.String("id", entityID),
			zap.String("category", d.Category),
			zap.String("tag", d.Tag),
		)
	}
	return out
}
