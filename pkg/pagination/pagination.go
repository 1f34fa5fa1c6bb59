package pagination

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

// Params holds the page requested by a search.
type Params struct {
	PageNumber int // 1-based
	PageSize   int
}

// Limits bounds the page size accepted from a request.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

// DefaultLimits returns the package defaults.
func DefaultLimits() Limits {
	return Limits{DefaultPageSize: DefaultPageSize, MaxPageSize: MaxPageSize}
}

// FromValues extracts pagination parameters from FHIR query parameters
// (_count and _page). Missing or invalid values fall back to defaults.
func FromValues(q url.Values, limits Limits) Params {
	size, err := strconv.Atoi(q.Get("_count"))
	if err != nil || size < 0 {
		size = limits.DefaultPageSize
	}
	if limits.MaxPageSize > 0 && size > limits.MaxPageSize {
		size = limits.MaxPageSize
	}

	page, err := strconv.Atoi(q.Get("_page"))
	if err != nil || page < 1 {
		page = 1
	}

	return Params{PageNumber: page, PageSize: size}
}

// Window is the OFFSET/FETCH pair rendered into a data query.
type Window struct {
	Offset      int
	RowsPerPage int
}

// NewWindow computes the row window for a 1-based page.
//
// The window reaches one row past each edge of the page: the first page
// fetches one trailing row, later pages one leading and one trailing row.
// Comparing those boundary rows with what an earlier page returned tells the
// caller whether the result set moved, without a second count query.
func NewWindow(pageNumber, pageSize int) Window {
	offsetIncrement := 0
	if pageNumber != 1 {
		offsetIncrement = -1
	}

	rowCountIncrement := 0
	if pageSize > 0 {
		if pageNumber == 1 {
			rowCountIncrement = 1
		} else {
			rowCountIncrement = 2
		}
	}

	offset := (pageNumber-1)*pageSize + offsetIncrement
	if offset < 0 {
		offset = 0
	}
	return Window{
		Offset:      offset,
		RowsPerPage: pageSize + rowCountIncrement,
	}
}

// Window returns the row window for p.
func (p Params) Window() Window {
	return NewWindow(p.PageNumber, p.PageSize)
}

// LastPage returns the number of the last page for total matches.
func (p Params) LastPage(total int) int {
	if p.PageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + p.PageSize - 1) / p.PageSize
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.PageNumber < p.LastPage(total)
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.PageNumber > 1
}

// FHIRLinks generates FHIR Bundle pagination links for a search result.
// basePath should be the request path (e.g., "/fhir/Patient").
func (p Params) FHIRLinks(basePath string, total int) []FHIRLink {
	links := []FHIRLink{
		{Relation: "self", URL: p.pageURL(basePath, p.PageNumber)},
		{Relation: "first", URL: p.pageURL(basePath, 1)},
	}

	if p.HasPrevious() {
		links = append(links, FHIRLink{Relation: "previous", URL: p.pageURL(basePath, p.PageNumber-1)})
	}
	if p.HasNext(total) {
		links = append(links, FHIRLink{Relation: "next", URL: p.pageURL(basePath, p.PageNumber+1)})
	}
	links = append(links, FHIRLink{Relation: "last", URL: p.pageURL(basePath, p.LastPage(total))})

	return links
}

func (p Params) pageURL(basePath string, page int) string {
	return fmt.Sprintf("%s?_count=%d&_page=%d", basePath, p.PageSize, page)
}

// FHIRLink represents a single FHIR Bundle link entry.
type FHIRLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}
