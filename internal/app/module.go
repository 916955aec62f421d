package app

import "github.com/gin-gonic/gin"

// Module is one console feature. It mounts its JSON endpoints on api
// (/api/v1, no CSRF) and its screens and htmx fragments on pages, where every
// unsafe request must carry the CSRF token. Names are unique per console.
type Module interface {
	Name() string
	RegisterRoutes(api *gin.RouterGroup, pages *gin.RouterGroup)
}
