package resource

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/productx/backoffice/internal/backend"
	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/paging"
	"github.com/productx/backoffice/internal/query"
	"github.com/productx/backoffice/internal/selection"
)

// ErrSuperseded is returned by a fetch whose response arrived after a newer
// fetch was issued. Its result is discarded.
var ErrSuperseded = errors.New("list fetch superseded by a newer request")

// Lister fetches one page of a resource.
type Lister interface {
	List(ctx context.Context, ep backend.Endpoints, page, size int, q query.Spec) (paging.Page[domain.Record], error)
}

// State is a consistent copy of a controller's state for rendering.
type State struct {
	Page        int
	PageSize    int
	Draft       query.Spec
	Applied     query.Spec
	Records     []domain.Record
	TotalNum    int64
	TotalPages  int
	Loading     bool
	Err         error
	Selected    []int64
	AllSelected bool
	Nav         paging.Nav
}

// IsSelected reports whether the row id is in the selection.
func (s State) IsSelected(id int64) bool {
	return slices.Contains(s.Selected, id)
}

// Controller owns the list state of one resource in one browser view: page,
// size, query, the fetched records and the row selection. Every state change
// that needs data issues exactly one list fetch. It is safe for concurrent use.
type Controller struct {
	def    *Definition
	lister Lister
	logger *slog.Logger

	mu        sync.Mutex
	page      int
	size      int
	draft     query.Spec
	applied   query.Spec
	records   []domain.Record
	total     int64
	loading   bool
	err       error
	selection *selection.Set[int64]
	seq       uint64
	cancel    context.CancelFunc
}

// NewController creates an unloaded controller on page 1.
func NewController(def *Definition, lister Lister, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	sel := selection.New[int64]()
	if def.PersistentSelection {
		sel = selection.NewPersistent[int64]()
	}
	return &Controller{
		def:       def,
		lister:    lister,
		logger:    logger.With("resource", def.Name),
		page:      1,
		size:      def.Size(),
		draft:     query.Spec{},
		applied:   query.Spec{},
		selection: sel,
	}
}

// Definition returns the screen the controller serves.
func (c *Controller) Definition() *Definition {
	return c.def
}

// Load performs the initial fetch.
func (c *Controller) Load(ctx context.Context) error {
	return c.fetch(ctx)
}

// Refetch reloads the current page with the applied query.
func (c *Controller) Refetch(ctx context.Context) error {
	return c.fetch(ctx)
}

// SetPage moves to page and fetches it. Pages below 1 become 1; pages past
// the end are requested as is.
func (c *Controller) SetPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	c.mu.Lock()
	c.page = page
	c.mu.Unlock()
	return c.fetch(ctx)
}

// SetPageSize changes the page size and returns to page 1.
func (c *Controller) SetPageSize(ctx context.Context, size int) error {
	if size <= 0 {
		size = c.def.Size()
	}
	c.mu.Lock()
	c.size = size
	c.page = 1
	c.mu.Unlock()
	return c.fetch(ctx)
}

// SetField merges one search field into the draft query. With auto refetch
// the draft is applied and fetched from page 1; otherwise nothing is fetched
// until Search. The result reports whether a fetch happened.
func (c *Controller) SetField(ctx context.Context, field string, value any) (bool, error) {
	c.mu.Lock()
	c.draft = c.draft.Set(field, value)
	auto := c.def.AutoRefetch
	if auto {
		c.applyDraft()
	}
	c.mu.Unlock()
	if !auto {
		return false, nil
	}
	return true, c.fetch(ctx)
}

// MergeDraft merges fields into the draft query without fetching.
func (c *Controller) MergeDraft(fields query.Spec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = c.draft.Merge(fields)
}

// Search applies the draft query and fetches page 1.
func (c *Controller) Search(ctx context.Context) error {
	c.mu.Lock()
	c.applyDraft()
	c.mu.Unlock()
	return c.fetch(ctx)
}

// ResetQuery clears both the draft and the applied query and fetches page 1.
func (c *Controller) ResetQuery(ctx context.Context) error {
	c.mu.Lock()
	c.draft = query.Spec{}
	c.applyDraft()
	c.mu.Unlock()
	return c.fetch(ctx)
}

// applyDraft must be called with mu held.
func (c *Controller) applyDraft() {
	c.applied = c.draft.Compact()
	c.page = 1
}

// ToggleRow flips the selection of one row on the current page.
func (c *Controller) ToggleRow(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection.Toggle(id, domain.RecordIDs(c.records))
}

// SelectAll selects or clears every row on the current page.
func (c *Controller) SelectAll(checked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection.SelectAll(checked, domain.RecordIDs(c.records))
}

// ResetSelection clears the selection.
func (c *Controller) ResetSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection.Reset()
}

// Selected returns the selected ids in selection order.
func (c *Controller) Selected() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.IDs()
}

// Record returns the row with id from the current page.
func (c *Controller) Record(id int64) (domain.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if rid, ok := r.ID(); ok && rid == id {
			return r.Clone(), true
		}
	}
	return nil, false
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Page:        c.page,
		PageSize:    c.size,
		Draft:       c.draft.Merge(nil),
		Applied:     c.applied.Merge(nil),
		Records:     slices.Clone(c.records),
		TotalNum:    c.total,
		TotalPages:  paging.TotalPages(c.total, c.size),
		Loading:     c.loading,
		Err:         c.err,
		Selected:    c.selection.IDs(),
		AllSelected: c.selection.AllSelected(),
		Nav:         paging.NewNav(c.page, c.size, c.total),
	}
}

// Close cancels an in-flight fetch.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// fetch issues one list call tagged with a fresh sequence number. An older
// in-flight call is cancelled, and a response whose tag is no longer the
// latest is dropped without touching state. On failure the previous records
// stay in place.
func (c *Controller) fetch(ctx context.Context) error {
	c.mu.Lock()
	c.seq++
	tag := c.seq
	if c.cancel != nil {
		c.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.loading = true
	page, size, q := c.page, c.size, c.applied.Merge(nil)
	c.mu.Unlock()

	result, err := c.lister.List(fetchCtx, c.def.Endpoints, page, size, q)

	c.mu.Lock()
	defer c.mu.Unlock()
	if tag != c.seq {
		cancel()
		return ErrSuperseded
	}
	cancel()
	c.cancel = nil
	c.loading = false
	if err != nil {
		c.err = err
		c.logger.ErrorContext(ctx, "list fetch failed", "page", page, "page_size", size, "error", err)
		return err
	}
	c.err = nil
	c.records = result.Records
	c.total = result.TotalNum
	c.selection.Sync(domain.RecordIDs(result.Records), result.TotalNum)
	return nil
}
