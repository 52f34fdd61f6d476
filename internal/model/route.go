package model

import "strings"

// Route is a single climbing route inside an area.
type Route struct {
	ID               string         `json:"route_id"`
	Name             string         `json:"route_name,omitempty"`
	Grade            string         `json:"route_grade"`
	ProtectionGrade  string         `json:"route_protection_grading"`
	Stars            float64        `json:"route_stars"`
	Votes            int            `json:"route_votes"`
	Type             string         `json:"route_type"`
	Pitches          *int           `json:"route_pitches,omitempty"`
	LengthMeter      *float64       `json:"route_length_meter"`
	Description      string         `json:"route_description"`
	Location         string         `json:"route_location"`
	Protection       string         `json:"route_protection"`
	SharedOn         Text           `json:"route_shared_on"`
	TickComments     string         `json:"route_tick_comments"`
	Comments         []Comment      `json:"route_comments"`
	SuggestedRatings map[string]int `json:"route_suggested_ratings"`
	ManualTags       TagSet         `json:"manual_tags"`
	LLMTags          TagSet         `json:"llm_tags,omitempty"`
	RouteTags        TagSet         `json:"route_tags"`
	Extra            Extra          `json:"-"`
}

type routeAlias Route

func (r *Route) UnmarshalJSON(data []byte) error {
	var alias routeAlias
	extra, err := decodeDocument(data, &alias)
	if err != nil {
		return err
	}
	*r = Route(alias)
	r.Extra = extra
	return nil
}

func (r Route) MarshalJSON() ([]byte, error) {
	alias := routeAlias(r)
	if alias.Comments == nil {
		alias.Comments = []Comment{}
	}
	if alias.SuggestedRatings == nil {
		alias.SuggestedRatings = map[string]int{}
	}
	return encodeDocument(alias, r.Extra)
}

// PitchCount returns the pitch count, treating a missing value as one pitch.
func (r *Route) PitchCount() int {
	if r.Pitches == nil {
		return 1
	}
	return *r.Pitches
}

// IsSinglePitch reports whether the route is a one-pitch route.
func (r *Route) IsSinglePitch() bool {
	return r.PitchCount() == 1
}

// IsEligible reports whether the route is sent to the model: its type
// mentions trad or sport, case-insensitively.
func (r *Route) IsEligible() bool {
	t := strings.ToLower(r.Type)
	return strings.Contains(t, "trad") || strings.Contains(t, "sport")
}

// IsSport reports whether the route type lists Sport. Unlike eligibility
// the match is case-sensitive, following the source site's type labels.
func (r *Route) IsSport() bool {
	return strings.Contains(r.Type, "Sport")
}

// CommentText joins the text of every route comment.
func (r *Route) CommentText() string {
	return joinComments(r.Comments)
}
