package pkg

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
)

// Toast levels understood by the console's client script.
const (
	ToastSuccess = "success"
	ToastWarning = "warning"
	ToastError   = "error"
	ToastInfo    = "info"
)

const hxTriggerKey = "_hx_trigger"

// IsHTMX reports whether the request was issued by htmx.
func IsHTMX(c *gin.Context) bool {
	return c.GetHeader("HX-Request") == "true"
}

// Toast queues a showToast event on the response. A later toast replaces an
// earlier one, so a response never shows more than one.
func Toast(c *gin.Context, message, level string) {
	TriggerEvent(c, "showToast", map[string]string{"message": message, "type": level})
}

// TriggerEvent adds a client event to the HX-Trigger header, keeping events
// queued earlier in the same request.
func TriggerEvent(c *gin.Context, name string, detail any) {
	events, _ := c.Get(hxTriggerKey)
	m, ok := events.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	if detail == nil {
		detail = true
	}
	m[name] = detail
	c.Set(hxTriggerKey, m)

	trigger, err := json.Marshal(m)
	if err != nil {
		return
	}
	c.Header("HX-Trigger", string(trigger))
}

// Redirect asks htmx to navigate to url.
func Redirect(c *gin.Context, url string) {
	c.Header("HX-Redirect", url)
}

// NoSwap tells htmx to keep the current DOM.
func NoSwap(c *gin.Context) {
	c.Header("HX-Reswap", "none")
}

// Retarget swaps the response into selector instead of the request's target.
func Retarget(c *gin.Context, selector string) {
	c.Header("HX-Retarget", selector)
	c.Header("HX-Reswap", "outerHTML")
}
