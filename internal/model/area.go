package model

import "strings"

// Area is one climbing area and the routes it owns.
type Area struct {
	ID           string    `json:"area_id"`
	Name         string    `json:"area_name,omitempty"`
	Description  string    `json:"area_description"`
	GettingThere string    `json:"area_getting_there"`
	AccessIssues string    `json:"area_access_issues"`
	PageViews    Text      `json:"area_page_views"`
	SharedOn     Text      `json:"area_shared_on"`
	Comments     []Comment `json:"area_comments"`
	Routes       []Route   `json:"routes"`
	ManualTags   TagSet    `json:"manual_tags"`
	AreaTags     TagSet    `json:"area_tags"`
	Extra        Extra     `json:"-"`
}

type areaAlias Area

func (a *Area) UnmarshalJSON(data []byte) error {
	var alias areaAlias
	extra, err := decodeDocument(data, &alias)
	if err != nil {
		return err
	}
	*a = Area(alias)
	a.Extra = extra
	return nil
}

func (a Area) MarshalJSON() ([]byte, error) {
	alias := areaAlias(a)
	if alias.Comments == nil {
		alias.Comments = []Comment{}
	}
	if alias.Routes == nil {
		alias.Routes = []Route{}
	}
	return encodeDocument(alias, a.Extra)
}

// RequestID is the custom identifier of the area's inference request.
func (a *Area) RequestID() string {
	return AreaRequestPrefix + a.ID
}

// CommentText joins the text of every area comment.
func (a *Area) CommentText() string {
	return joinComments(a.Comments)
}

// AreaRequestPrefix marks area-level request identifiers; route requests
// carry the bare route id.
const AreaRequestPrefix = "area_"

// IsAreaRequestID reports whether a custom id names an area request.
func IsAreaRequestID(customID string) bool {
	return strings.HasPrefix(customID, AreaRequestPrefix)
}
