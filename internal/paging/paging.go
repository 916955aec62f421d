// Package paging models one page of backend records and the pager that
// navigates between pages.
package paging

// Parameter names used by backend list endpoints. Both conventions are in
// use and are kept per endpoint.
const (
	ParamCurrentPage = "currentPage"
	ParamPageSize    = "pageSize"
	ParamCurrent     = "current"
	ParamSize        = "size"
)

// DefaultPageSize is used when a resource does not configure one.
const DefaultPageSize = 10

// PageSizes are the page sizes offered by the pager.
var PageSizes = []int{10, 20, 50, 100}

// ParamNames names the page and size query parameters of one endpoint.
type ParamNames struct {
	Page string `yaml:"page_param"`
	Size string `yaml:"size_param"`
}

// WithDefaults fills unset names with currentPage/pageSize.
func (p ParamNames) WithDefaults() ParamNames {
	if p.Page == "" {
		p.Page = ParamCurrentPage
	}
	if p.Size == "" {
		p.Size = ParamPageSize
	}
	return p
}

// Page is one page of records as returned by a list endpoint. CurrentPage is
// whatever was requested; it is never clamped against TotalPages.
type Page[T any] struct {
	Records     []T   `json:"records"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalNum    int64 `json:"total_num"`
}

// TotalPages returns ceil(TotalNum / PageSize).
func (p Page[T]) TotalPages() int {
	return TotalPages(p.TotalNum, p.PageSize)
}

// TotalPages returns ceil(totalNum / pageSize), or 0 when either is not positive.
func TotalPages(totalNum int64, pageSize int) int {
	if totalNum <= 0 || pageSize <= 0 {
		return 0
	}
	size := int64(pageSize)
	return int((totalNum + size - 1) / size)
}
