package paging

import "slices"

// window is the number of page links shown around the current page.
const window = 5

// Nav is the render model of the pagination control.
type Nav struct {
	Current    int
	PageSize   int
	TotalPages int
	TotalNum   int64
	Pages      []int
	Prev       int
	Next       int
	HasPrev    bool
	HasNext    bool
	ShowFirst  bool
	ShowLast   bool
	PageSizes  []int
}

// NewNav builds the pager model for a page. Links are clamped to
// [1, totalPages] even when current lies outside of it.
func NewNav(current, pageSize int, totalNum int64) Nav {
	total := TotalPages(totalNum, pageSize)
	n := Nav{
		Current:    current,
		PageSize:   pageSize,
		TotalPages: total,
		TotalNum:   totalNum,
		PageSizes:  PageSizes,
	}
	if !slices.Contains(n.PageSizes, pageSize) && pageSize > 0 {
		n.PageSizes = append(slices.Clone(PageSizes), pageSize)
		slices.Sort(n.PageSizes)
	}
	if total == 0 {
		return n
	}

	anchor := min(max(current, 1), total)
	lo := max(1, anchor-window/2)
	hi := min(total, lo+window-1)
	lo = max(1, hi-window+1)
	for p := lo; p <= hi; p++ {
		n.Pages = append(n.Pages, p)
	}

	n.HasPrev = current > 1
	n.HasNext = current < total
	n.Prev = min(max(current-1, 1), total)
	n.Next = min(max(current+1, 1), total)
	n.ShowFirst = lo > 1
	n.ShowLast = hi < total
	return n
}

// Pager emits page and size change events for a list.
type Pager struct {
	Current          int
	PageSize         int
	TotalNum         int64
	OnPageChange     func(page int)
	OnPageSizeChange func(size int)
}

// GoTo moves to page and emits OnPageChange when the page actually changes.
// Pages below 1 are ignored. Pages past the last one are passed on as is;
// the backend decides what lies beyond the end.
func (p *Pager) GoTo(page int) bool {
	if page < 1 || page == p.Current {
		return false
	}
	p.Current = page
	if p.OnPageChange != nil {
		p.OnPageChange(page)
	}
	return true
}

// SetSize changes the page size and emits OnPageSizeChange when it differs.
// Non-positive sizes are ignored.
func (p *Pager) SetSize(size int) bool {
	if size <= 0 || size == p.PageSize {
		return false
	}
	p.PageSize = size
	if p.OnPageSizeChange != nil {
		p.OnPageSizeChange(size)
	}
	return true
}
