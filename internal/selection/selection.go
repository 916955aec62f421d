// Package selection tracks which rows of a list are checked.
package selection

import "slices"

// Set holds the selected row ids in the order they were selected.
//
// In page-scoped mode (New) selection belongs to the displayed page: Sync
// drops ids that are not on the new page, and AllSelected means every row
// of the page is checked. In persistent mode (NewPersistent) ids survive
// page changes and AllSelected compares against the full result count.
//
// A Set is not safe for concurrent use.
type Set[K comparable] struct {
	ids        []K
	index      map[K]struct{}
	selectAll  bool
	persistent bool
	page       []K
	total      int64
}

// New returns an empty page-scoped set.
func New[K comparable]() *Set[K] {
	return &Set[K]{index: map[K]struct{}{}}
}

// NewPersistent returns an empty set whose selection spans pages.
func NewPersistent[K comparable]() *Set[K] {
	s := New[K]()
	s.persistent = true
	return s
}

// Persistent reports whether the set keeps ids across pages.
func (s *Set[K]) Persistent() bool {
	return s.persistent
}

// Toggle flips id and recomputes AllSelected against pageIDs.
func (s *Set[K]) Toggle(id K, pageIDs []K) {
	if s.Contains(id) {
		s.remove(id)
	} else {
		s.add(id)
	}
	s.page = pageIDs
	s.recompute()
}

// SelectAll checks or clears every row in pageIDs. In page-scoped mode
// clearing empties the whole set; in persistent mode it only clears the
// given page.
func (s *Set[K]) SelectAll(checked bool, pageIDs []K) {
	s.page = pageIDs
	switch {
	case checked:
		for _, id := range pageIDs {
			s.add(id)
		}
	case s.persistent:
		for _, id := range pageIDs {
			s.remove(id)
		}
	default:
		s.clear()
	}
	s.recompute()
}

// Reset clears the selection.
func (s *Set[K]) Reset() {
	s.clear()
	s.selectAll = false
}

// Sync moves the set to a freshly fetched page. total is the full result
// count the page belongs to.
func (s *Set[K]) Sync(pageIDs []K, total int64) {
	s.page = pageIDs
	s.total = total
	if !s.persistent {
		kept := s.ids[:0]
		for _, id := range s.ids {
			if slices.Contains(pageIDs, id) {
				kept = append(kept, id)
			} else {
				delete(s.index, id)
			}
		}
		s.ids = kept
	}
	s.recompute()
}

// Contains reports whether id is selected.
func (s *Set[K]) Contains(id K) bool {
	_, ok := s.index[id]
	return ok
}

// IDs returns the selected ids in selection order.
func (s *Set[K]) IDs() []K {
	return slices.Clone(s.ids)
}

// Len returns the number of selected ids.
func (s *Set[K]) Len() int {
	return len(s.ids)
}

// AllSelected reports the derived select-all state.
func (s *Set[K]) AllSelected() bool {
	return s.selectAll
}

func (s *Set[K]) add(id K) {
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
}

func (s *Set[K]) remove(id K) {
	if _, ok := s.index[id]; !ok {
		return
	}
	delete(s.index, id)
	s.ids = slices.DeleteFunc(s.ids, func(v K) bool { return v == id })
}

func (s *Set[K]) clear() {
	s.ids = nil
	clear(s.index)
}

func (s *Set[K]) recompute() {
	if s.persistent && s.total > 0 {
		s.selectAll = int64(len(s.ids)) >= s.total
		return
	}
	if len(s.page) == 0 {
		s.selectAll = false
		return
	}
	for _, id := range s.page {
		if !s.Contains(id) {
			s.selectAll = false
			return
		}
	}
	s.selectAll = true
}
