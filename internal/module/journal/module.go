package journal

import "github.com/gin-gonic/gin"

// JournalModule implements the app.Module interface for the action journal.
type JournalModule struct {
	handler *JournalHandler
}

// NewModule creates a new JournalModule.
// Panics if h is nil.
func NewModule(h *JournalHandler) *JournalModule {
	if h == nil {
		panic("journal.NewModule: handler must not be nil")
	}
	return &JournalModule{handler: h}
}

func (m *JournalModule) Name() string { return "journal" }

// RegisterRoutes registers journal API and page routes.
func (m *JournalModule) RegisterRoutes(api *gin.RouterGroup, pages *gin.RouterGroup) {
	api.GET("/journal", m.handler.List)
	pages.GET("/journal", m.handler.ListPage)
}
