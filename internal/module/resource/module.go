package resource

import "github.com/gin-gonic/gin"

// ResourceModule implements the app.Module interface for the list screens.
type ResourceModule struct {
	handler       *ResourceHandler
	pageHandler   *PageHandler
	uploadHandler *UploadHandler
}

// NewModule creates a new ResourceModule with the given handlers.
// Panics if any handler is nil.
func NewModule(h *ResourceHandler, ph *PageHandler, uh *UploadHandler) *ResourceModule {
	if h == nil {
		panic("resource.NewModule: handler must not be nil")
	}
	if ph == nil {
		panic("resource.NewModule: pageHandler must not be nil")
	}
	if uh == nil {
		panic("resource.NewModule: uploadHandler must not be nil")
	}
	return &ResourceModule{handler: h, pageHandler: ph, uploadHandler: uh}
}

func (m *ResourceModule) Name() string { return "resource" }

// RegisterRoutes registers resource API and page routes.
func (m *ResourceModule) RegisterRoutes(api *gin.RouterGroup, pages *gin.RouterGroup) {
	// API routes
	api.GET("/resources", m.handler.List)
	api.GET("/resources/:resource/page", m.handler.Page)
	api.GET("/lookups/:resource", m.handler.Lookup)

	// Page routes
	r := pages.Group("/r/:resource")
	r.GET("", m.pageHandler.ListPage)
	r.GET("/table", m.pageHandler.Table)
	r.GET("/new", m.pageHandler.NewForm)
	r.GET("/:id", m.pageHandler.Detail)
	r.GET("/:id/edit", m.pageHandler.EditForm)
	r.POST("", m.pageHandler.Create)
	r.POST("/search", m.pageHandler.Search)
	r.POST("/select/:id", m.pageHandler.SelectRow)
	r.POST("/select-all", m.pageHandler.SelectAll)
	r.POST("/select-reset", m.pageHandler.SelectReset)
	r.POST("/batch/:action", m.pageHandler.Batch)
	r.POST("/:id", m.pageHandler.Update)
	r.POST("/:id/remove", m.pageHandler.Remove)
	r.POST("/:id/status", m.pageHandler.Status)

	pages.POST("/uploads/:resource", m.uploadHandler.Upload)
}
