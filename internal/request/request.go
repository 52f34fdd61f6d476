// Package request renders areas and routes into independent batch
// inference requests.
package request

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/route-tagger/internal/model"
)

// Endpoint is the request URL every batch line targets.
const Endpoint = "/v1/chat/completions"

const areaTemplate = `
Area Description: %s
Getting There: %s
Access Issues: %s
Page Views: %s
Shared On: %s
Comments: %s
`

const routeTemplate = `
Route Description: %s
Route Location: %s
Route Type: %s
Route Protection: %s
Comments: %s %s
`

// Params are the fixed model parameters stamped on every request.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// DefaultParams returns the parameters used when configuration leaves them unset.
func DefaultParams() Params {
	return Params{
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   500,
		TopP:        0.95,
	}
}

// Prompts are the system instructions for each request kind.
type Prompts struct {
	Route string
	Area  string
}

// LoadPrompts reads both prompt files. A missing file is an error.
func LoadPrompts(routePath, areaPath string) (Prompts, error) {
	route, err := os.ReadFile(routePath)
	if err != nil {
		return Prompts{}, eris.Wrapf(err, "request: read route prompt %s", routePath)
	}
	area, err := os.ReadFile(areaPath)
	if err != nil {
		return Prompts{}, eris.Wrapf(err, "request: read area prompt %s", areaPath)
	}
	return Prompts{Route: string(route), Area: string(area)}, nil
}

// Builder turns documents into batch requests.
type Builder struct {
	params  Params
	prompts Prompts
}

// NewBuilder creates a Builder with the given model parameters and prompts.
func NewBuilder(params Params, prompts Prompts) *Builder {
	return &Builder{params: params, prompts: prompts}
}

// Build returns one request per area followed by one request per eligible
// route, preserving document order.
func (b *Builder) Build(areas []model.Area) []model.BatchRequest {
	out := b.AreaRequests(areas)
	for i := range areas {
		out = append(out, b.RouteRequests(areas[i].Routes)...)
	}
	return out
}

// AreaRequests builds one request per area, identified as "area_<id>".
func (b *Builder) AreaRequests(areas []model.Area) []model.BatchRequest {
	out := make([]model.BatchRequest, 0, len(areas))
	for i := range areas {
		a := &areas[i]
		out = append(out, b.newRequest(a.RequestID(), b.prompts.Area, RenderArea(a)))
	}
	return out
}

// RouteRequests builds requests for the eligible routes only. Ineligible
// routes are filtered before rendering.
func (b *Builder) RouteRequests(routes []model.Route) []model.BatchRequest {
	out := make([]model.BatchRequest, 0, len(routes))
	for i := range routes {
		r := &routes[i]
		if !r.IsEligible() {
			continue
		}
		out = append(out, b.newRequest(r.ID, b.prompts.Route, RenderRoute(r)))
	}
	return out
}

func (b *Builder) newRequest(customID, system, user string) model.BatchRequest {
	return model.BatchRequest{
		CustomID: customID,
		Method:   "POST",
		URL:      Endpoint,
		Body: model.RequestBody{
			Model: b.params.Model,
			Messages: []model.Message{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			Temperature: b.params.Temperature,
			MaxTokens:   b.params.MaxTokens,
			TopP:        b.params.TopP,
			N:           1,
		},
	}
}

// RenderArea renders the user text of an area request. The output is
// NFC-normalized so equal documents always render byte-identical text.
func RenderArea(a *model.Area) string {
	return norm.NFC.String(fmt.Sprintf(areaTemplate,
		a.Description,
		a.GettingThere,
		a.AccessIssues,
		a.PageViews,
		a.SharedOn,
		a.CommentText(),
	))
}

// RenderRoute renders the user text of a route request.
func RenderRoute(r *model.Route) string {
	return norm.NFC.String(fmt.Sprintf(routeTemplate,
		r.Description,
		r.Location,
		r.Type,
		r.Protection,
		r.TickComments,
		r.CommentText(),
	))
}

// CountEligible returns the number of routes across areas that would be
// sent for inference.
func CountEligible(areas []model.Area) int {
	n := 0
	for i := range areas {
		for j := range areas[i].Routes {
			if areas[i].Routes[j].IsEligible() {
				n++
			}
		}
	}
	return n
}

