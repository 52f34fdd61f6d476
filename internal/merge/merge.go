// Package merge combines model, rule and inherited tags into the final
// route_tags of every route.
package merge

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/taxonomy"
)

// legacyCategories maps category names older rule sets emitted onto the
// taxonomy's names.
var legacyCategories = map[string]string{
	"Multipitch": taxonomy.CategoryMultiPitch,
}

// Engine resolves tag precedence.
type Engine struct {
	tax *taxonomy.Taxonomy
}

// New creates an engine validating against tax.
func New(tax *taxonomy.Taxonomy) *Engine {
	if tax == nil {
		tax = taxonomy.Default()
	}
	return &Engine{tax: tax}
}

// Stats counts what a merge pass changed.
type Stats struct {
	Areas        int
	AreasTagged  int
	Routes       int
	RoutesTagged int
	Preserved    int
}

// Apply merges results into areas in place. prior is the previously
// written tagged output of the same input, or nil; its area_tags, llm_tags
// and route_tags fill in what results do not cover.
func (e *Engine) Apply(areas []model.Area, res *Results, prior []model.Area) Stats {
	if res == nil {
		res = &Results{}
	}
	old := indexPrior(prior)

	var st Stats
	for i := range areas {
		a := &areas[i]
		st.Areas++

		if tags, ok := res.Areas[a.RequestID()]; ok {
			a.AreaTags = tags.Clone()
			st.AreasTagged++
		} else if pa, ok := old.areas[a.ID]; ok && len(pa.AreaTags) > 0 {
			a.AreaTags = pa.AreaTags.Clone()
		}
		approach := a.AreaTags[taxonomy.CategoryApproach]

		for j := range a.Routes {
			r := &a.Routes[j]
			st.Routes++

			var before model.TagSet
			if pr, ok := old.routes[r.ID]; ok {
				before = pr.RouteTags
				if r.LLMTags == nil && r.IsEligible() {
					r.LLMTags = pr.LLMTags.Clone()
				}
			}
			if tags, ok := res.Routes[r.ID]; ok && r.IsEligible() {
				r.LLMTags = tags.Clone()
				st.RoutesTagged++
			}
			if !r.IsEligible() {
				r.LLMTags = nil
			}

			var kept int
			r.RouteTags, kept = e.route(r, approach, before)
			st.Preserved += kept
		}
	}

	zap.L().Info("merge: applied tags",
		zap.Int("areas", st.Areas),
		zap.Int("areas_tagged", st.AreasTagged),
		zap.Int("routes", st.Routes),
		zap.Int("routes_tagged", st.RoutesTagged),
		zap.Int("preserved_categories", st.Preserved),
	)
	return st
}

// route computes the final tags of one route from its llm_tags and
// manual_tags, the area's Approach & Accessibility tags and the route's
// previously written route_tags. It also returns how many categories were
// kept from prior.
func (e *Engine) route(r *model.Route, areaApproach model.TagList, prior model.TagSet) (model.TagSet, int) {
	out := model.TagSet{}

	// Model output first, eligible routes only.
	if r.IsEligible() {
		for cat, list := range r.LLMTags.Clone() {
			if len(list) > 0 {
				out[cat] = model.Union(out[cat], list)
			}
		}
	}

	// Manual tags fill gaps and union into shared categories.
	for cat, list := range r.ManualTags.Clone() {
		if mapped, ok := legacyCategories[cat]; ok {
			cat = mapped
		}
		if len(list) == 0 {
			continue
		}
		if cat == taxonomy.CategoryRopeLength {
			if r.IsSinglePitch() || len(out[cat]) == 0 {
				out[cat] = model.Union(nil, list)
			}
			continue
		}
		out[cat] = model.Union(out[cat], list)
	}

	if len(areaApproach) > 0 {
		out[taxonomy.CategoryApproach] = model.Union(out[taxonomy.CategoryApproach], areaApproach)
	}

	var kept int
	for cat, list := range prior {
		if _, ok := out[cat]; ok || len(list) == 0 {
			continue
		}
		out[cat] = model.Union(nil, list)
		kept++
	}

	if !r.IsSport() {
		if list, ok := out[taxonomy.CategoryDifficulty]; ok {
			out[taxonomy.CategoryDifficulty] = list.Without("stick_clip")
		}
	}
	for cat, list := range out {
		if len(list) == 0 {
			delete(out, cat)
		}
	}

	return e.tax.Validate(r.ID, out), kept
}

type priorIndex struct {
	areas  map[string]*model.Area
	routes map[string]*model.Route
}

func indexPrior(prior []model.Area) priorIndex {
	idx := priorIndex{
		areas:  make(map[string]*model.Area, len(prior)),
		routes: make(map[string]*model.Route),
	}
	for i := range prior {
		a := &prior[i]
		if strings.TrimSpace(a.ID) != "" {
			idx.areas[a.ID] = a
		}
		for j := range a.Routes {
			if r := &a.Routes[j]; r.ID != "" {
				idx.routes[r.ID] = r
			}
		}
	}
	return idx
}
