// Package manual derives deterministic tags from scraped route fields.
package manual

import (
	"strings"
	"time"

	"github.com/sells-group/route-tagger/internal/model"
	"github.com/sells-group/route-tagger/internal/taxonomy"
)

const (
	minConsensusVotes = 5
	minClassicStars   = 3.0
	minClassicVotes   = 5
)

// newRouteCutoff: routes shared after January 2022 count as new.
var newRouteCutoff = time.Date(2022, time.February, 1, 0, 0, 0, 0, time.UTC)

var dangerousGrades = map[string]struct{}{
	"PG13": {},
	"R":    {},
	"X":    {},
}

// Apply annotates every area and route in place with manual tags. Areas
// currently carry no rule-derived tags.
func Apply(areas []model.Area) {
	for i := range areas {
		areas[i].ManualTags = model.TagSet{}
		for j := range areas[i].Routes {
			r := &areas[i].Routes[j]
			r.ManualTags = TagRoute(r)
		}
	}
}

// TagRoute computes the manual tags of one route. It reads only the
// route's own fields.
func TagRoute(r *model.Route) model.TagSet {
	tags := model.TagSet{}

	if tag := ropeLengthTag(r); tag != "" {
		tags.Add(taxonomy.CategoryRopeLength, tag)
	}
	if tag := pitchTag(r.PitchCount()); tag != "" {
		tags.Add(taxonomy.CategoryMultiPitch, tag)
	}

	if _, ok := dangerousGrades[strings.ToUpper(strings.TrimSpace(r.ProtectionGrade))]; ok {
		tags.Add(taxonomy.CategoryDifficulty, "runout_dangerous")
	}

	if r.Votes >= minConsensusVotes {
		c := TallyConsensus(r.Grade, r.SuggestedRatings)
		switch {
		case c.Sandbagged():
			tags.Add(taxonomy.CategoryDifficulty, "sandbag")
		case c.Soft():
			tags.Add(taxonomy.CategoryDifficulty, "first_in_grade")
		}
	}

	if r.Stars >= minClassicStars && r.Votes >= minClassicVotes {
		tags.Add(taxonomy.CategoryCrowds, "classic_route")
	}

	if shared, ok := parseSharedOn(r.SharedOn.String()); ok && !shared.Before(newRouteCutoff) {
		tags.Add(taxonomy.CategoryCrowds, "new_routes")
	}

	return tags
}

// ropeLengthTag applies only to single-pitch routes with a known length.
func ropeLengthTag(r *model.Route) string {
	if !r.IsSinglePitch() || r.LengthMeter == nil {
		return ""
	}
	switch l := *r.LengthMeter; {
	case l <= 30:
		return "rope_60m"
	case l <= 35:
		return "rope_70m"
	case l <= 40:
		return "rope_80m"
	}
	return ""
}

func pitchTag(pitches int) string {
	switch {
	case pitches == 1:
		return "single_pitch"
	case pitches >= 2 && pitches <= 4:
		return "short_multipitch"
	case pitches >= 5:
		return "long_multipitch"
	}
	return ""
}

// parseSharedOn parses "Mar, 2023" style dates.
func parseSharedOn(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	month, year, ok := strings.Cut(s, ",")
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse("Jan 2006", strings.TrimSpace(month)+" "+strings.TrimSpace(year))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
