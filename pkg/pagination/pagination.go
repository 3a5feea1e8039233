// Package pagination reads limit/offset query parameters and shapes the
// envelope returned by list endpoints.
package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 25
	MaxLimit     = 250
)

// Params is the page window requested by a client.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts the page window from the request query. Absent or
// invalid values fall back to the defaults; limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Response is the envelope for one page of a listing.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Links   []Link      `json:"links,omitempty"`
}

// Link points at a related page of the same listing.
type Link struct {
	Rel string `json:"rel"`
	URL string `json:"url"`
}

// NewResponse wraps one page of results with navigation links. basePath is
// the listing's request path, e.g. "/api/v1/records".
func NewResponse(data interface{}, total int, p Params, basePath string) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
		Links:   p.Links(basePath, total),
	}
}

// SQL renders the window as a LIMIT/OFFSET clause.
func (p Params) SQL() string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// HasNext reports whether results exist past this page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// HasPrevious reports whether this page starts past the first result.
func (p Params) HasPrevious() bool {
	return p.Offset > 0
}

// NextOffset is the offset of the following page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// PreviousOffset is the offset of the preceding page, clamped at zero.
func (p Params) PreviousOffset() int {
	if prev := p.Offset - p.Limit; prev > 0 {
		return prev
	}
	return 0
}

// Links builds the self link plus next and previous where those pages
// exist.
func (p Params) Links(basePath string, total int) []Link {
	links := []Link{{Rel: "self", URL: p.pageURL(basePath, p.Offset)}}
	if p.HasNext(total) {
		links = append(links, Link{Rel: "next", URL: p.pageURL(basePath, p.NextOffset())})
	}
	if p.HasPrevious() {
		links = append(links, Link{Rel: "previous", URL: p.pageURL(basePath, p.PreviousOffset())})
	}
	return links
}

func (p Params) pageURL(basePath string, offset int) string {
	return fmt.Sprintf("%s?limit=%d&offset=%d", basePath, p.Limit, offset)
}
