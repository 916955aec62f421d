package journal

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/middleware"
	"github.com/productx/backoffice/internal/pkg"
)

// pageQuery is how both journal listings read their query string.
var pageQuery = pkg.PageQuery{
	DefaultSize: 20,
	MaxSize:     100,
	DefaultSort: "id:desc",
	Filters:     allowedFilterFields,
}

// JournalHandler serves the journal as JSON and as a console page.
type JournalHandler struct {
	svc domain.JournalService
}

// NewJournalHandler creates a JournalHandler with the given service.
func NewJournalHandler(svc domain.JournalService) *JournalHandler {
	return &JournalHandler{svc: svc}
}

// List handles GET /api/v1/journal.
func (h *JournalHandler) List(c *gin.Context) {
	req := pkg.ParsePageRequest(c, pageQuery)

	result, err := h.svc.List(c.Request.Context(), req)
	if err != nil {
		pkg.Error(c, err)
		return
	}

	pkg.List(c, result)
}

// ListPage renders the journal page. htmx requests get the table only.
// GET /journal
func (h *JournalHandler) ListPage(c *gin.Context) {
	req := pkg.ParsePageRequest(c, pageQuery)

	result, err := h.svc.List(c.Request.Context(), req)
	if err != nil {
		c.HTML(http.StatusInternalServerError, "errors/500.html", gin.H{
			"Message":   domain.PublicMessage(err),
			"RequestID": middleware.GetRequestID(c),
		})
		return
	}

	tmpl := "journal/list.html"
	if pkg.IsHTMX(c) {
		tmpl = "journal/table.html"
	}
	c.HTML(http.StatusOK, tmpl, gin.H{
		"Entries":    result.Items,
		"Pagination": result,
		"Filter":     req.Filter,
		"Sort":       req.Sort,
		"Outcomes":   []string{domain.OutcomeSuccess, domain.OutcomeFailure},
		"BaseURL":    "/journal",
		"CSRFToken":  middleware.GetCSRFToken(c),
	})
}
