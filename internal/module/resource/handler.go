package resource

import (
	"github.com/gin-gonic/gin"

	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/paging"
	"github.com/productx/backoffice/internal/pkg"
	"github.com/productx/backoffice/internal/query"
	res "github.com/productx/backoffice/internal/resource"
)

// ResourceHandler serves the catalog and stateless list pages as JSON.
type ResourceHandler struct {
	catalog *res.Catalog
	backend Backend
	lookups Lookups
}

// NewResourceHandler creates a ResourceHandler.
func NewResourceHandler(catalog *res.Catalog, backend Backend, lookups Lookups) *ResourceHandler {
	return &ResourceHandler{catalog: catalog, backend: backend, lookups: lookups}
}

// ResourceSummary describes one list screen.
type ResourceSummary struct {
	Name      string   `json:"name"`
	Title     string   `json:"title"`
	Group     string   `json:"group"`
	PageSize  int      `json:"page_size"`
	Filters   []string `json:"filters"`
	Actions   []string `json:"actions"`
	CanCreate bool     `json:"can_create"`
	CanUpdate bool     `json:"can_update"`
	CanRemove bool     `json:"can_remove"`
	IsLookup  bool     `json:"is_lookup"`
}

// List returns every resource of the catalog.
// GET /api/v1/resources
func (h *ResourceHandler) List(c *gin.Context) {
	defs := h.catalog.All()
	out := make([]ResourceSummary, 0, len(defs))
	for _, d := range defs {
		out = append(out, summarize(d))
	}
	pkg.Success(c, out)
}

// Page fetches one page of a resource. page and size default to 1 and the
// resource's page size; every declared filter present in the query string
// is forwarded, empty ones dropped.
// GET /api/v1/resources/:resource/page
func (h *ResourceHandler) Page(c *gin.Context) {
	def, ok := h.catalog.Get(c.Param("resource"))
	if !ok {
		pkg.Error(c, domain.NewAppError(domain.CodeNotFound, "resource not found", nil))
		return
	}

	page, ok := intQuery(c, "page")
	if !ok || page < 1 {
		page = 1
	}
	size, ok := intQuery(c, "size")
	if !ok || size < 1 {
		size = def.Size()
	}
	if size > paging.PageSizes[len(paging.PageSizes)-1] {
		size = paging.PageSizes[len(paging.PageSizes)-1]
	}

	form := c.Request.URL.Query()
	spec := query.Spec{}
	for _, f := range def.Filters {
		v, err := filterValue(f, form)
		if err != nil {
			pkg.FieldErrors(c, map[string]string{f.Field: domain.PublicMessage(err)})
			return
		}
		spec[f.Field] = v
	}

	result, err := h.backend.List(c.Request.Context(), def.Endpoints, page, size, spec.Compact())
	if err != nil {
		pkg.Error(c, err)
		return
	}
	pkg.List(c, gin.H{
		"records":     result.Records,
		"page":        result.CurrentPage,
		"page_size":   result.PageSize,
		"total":       result.TotalNum,
		"total_pages": result.TotalPages(),
	})
}

// Lookup returns the options of a lookup resource.
// GET /api/v1/lookups/:resource
func (h *ResourceHandler) Lookup(c *gin.Context) {
	opts, err := h.lookups.Options(c.Request.Context(), c.Param("resource"))
	if err != nil {
		pkg.Error(c, err)
		return
	}
	pkg.Success(c, opts)
}

func summarize(d *res.Definition) ResourceSummary {
	s := ResourceSummary{
		Name:      d.Name,
		Title:     d.Title,
		Group:     d.Group,
		PageSize:  d.Size(),
		Filters:   make([]string, 0, len(d.Filters)),
		Actions:   make([]string, 0, len(d.Actions)+1),
		CanCreate: d.CanCreate(),
		CanUpdate: d.CanUpdate(),
		CanRemove: d.CanRemove(),
		IsLookup:  d.Lookup != nil,
	}
	for _, f := range d.Filters {
		s.Filters = append(s.Filters, f.Field)
	}
	for _, a := range d.BatchActions() {
		s.Actions = append(s.Actions, a.Name)
	}
	return s
}
