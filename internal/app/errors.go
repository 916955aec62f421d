package app

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/productx/backoffice/internal/middleware"
	"github.com/productx/backoffice/internal/pkg"
)

// errorTemplates maps statuses to their error page. Other statuses use the
// page of their class: 4xx the 400 page, everything else the 500 page.
var errorTemplates = map[int]string{
	http.StatusBadRequest:          "errors/400.html",
	http.StatusNotFound:            "errors/404.html",
	http.StatusInternalServerError: "errors/500.html",
}

func errorTemplate(code int) string {
	if tmpl, ok := errorTemplates[code]; ok {
		return tmpl
	}
	if code >= 400 && code < 500 {
		return errorTemplates[http.StatusBadRequest]
	}
	return errorTemplates[http.StatusInternalServerError]
}

// renderError answers a failed console request in the form its client
// understands. htmx swaps keep the current screen and show message as an
// error toast. API and JSON clients get the response envelope. Browsers get
// the error page, which quotes the request id for support.
func renderError(c *gin.Context, code int, message string) {
	switch {
	case pkg.IsHTMX(c):
		pkg.Toast(c, message, pkg.ToastError)
		pkg.NoSwap(c)
		c.AbortWithStatus(code)
	case wantsJSON(c):
		c.JSON(code, pkg.Response{Code: code, Message: message})
	default:
		renderErrorPage(c, code, message)
	}
}

// renderErrorPage renders the error page of code. A missing renderer or a
// broken template degrades to a plain text line carrying the request id.
func renderErrorPage(c *gin.Context, code int, message string) {
	requestID := middleware.GetRequestID(c)
	defer func() {
		if r := recover(); r != nil {
			text := fmt.Sprintf("%d %s", code, statusText(code))
			if requestID != "" {
				text += " (request " + requestID + ")"
			}
			c.Data(code, "text/plain; charset=utf-8", []byte(text))
		}
	}()

	c.HTML(code, errorTemplate(code), gin.H{
		"Status":    code,
		"Message":   message,
		"Path":      c.Request.URL.Path,
		"RequestID": requestID,
	})
}

// wantsJSON reports whether the client asked for the JSON envelope rather
// than a page. API paths always get JSON.
func wantsJSON(c *gin.Context) bool {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		return true
	}
	accept := strings.ToLower(c.GetHeader("Accept"))
	if strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html") {
		return true
	}
	return !acceptsHTML(c)
}

// acceptsHTML matches text/html, */* and an empty Accept header.
func acceptsHTML(c *gin.Context) bool {
	accept := strings.ToLower(c.GetHeader("Accept"))
	return strings.Contains(accept, "text/html") ||
		strings.Contains(accept, "*/*") ||
		strings.TrimSpace(accept) == ""
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "Error"
}
