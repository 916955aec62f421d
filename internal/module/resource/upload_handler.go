package resource

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/modal"
	"github.com/productx/backoffice/internal/pkg"
	res "github.com/productx/backoffice/internal/resource"
)

// UploadHandler stores files picked in image fields.
type UploadHandler struct {
	catalog  *res.Catalog
	uploader Uploader
	journal  domain.JournalService
	logger   *slog.Logger
}

// multipartOverhead allows for the form's other fields and part headers on top
// of the file size limit.
const multipartOverhead = 1 << 20

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(catalog *res.Catalog, uploader Uploader, journal domain.JournalService, logger *slog.Logger) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{catalog: catalog, uploader: uploader, journal: journal, logger: logger}
}

// Upload stores the multipart "file" under the upload_dir of the form field
// named by "field", or under the resource name. htmx callers get the field's
// hidden input back; other callers get the result as JSON.
// POST /uploads/:resource
func (h *UploadHandler) Upload(c *gin.Context) {
	def, ok := h.catalog.Get(c.Param("resource"))
	if !ok {
		h.reject(c, domain.NewAppError(domain.CodeNotFound, "resource not found", nil))
		return
	}
	limit := h.uploader.MaxSize()
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(c, domain.NewAppError(domain.CodeValidation, fmt.Sprintf("the file exceeds the %d byte limit", limit), err))
			return
		}
		h.reject(c, domain.NewAppError(domain.CodeValidation, "no file was uploaded", err))
		return
	}
	field := c.PostForm("field")
	dir := def.Name
	if f, found := imageField(def, field); found && f.UploadDir != "" {
		dir = f.UploadDir
	}

	file, err := fh.Open()
	if err != nil {
		h.reject(c, domain.NewAppError(domain.CodeValidation, "the uploaded file cannot be read", err))
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	logger := h.logger.With("resource", def.Name, "filename", fh.Filename)
	step := max(fh.Size/4, 1)
	next := step
	result, err := h.uploader.Upload(ctx, dir, fh.Filename, fh.Header.Get("Content-Type"), fh.Size, file, func(sent, total int64) {
		if sent >= next || sent == total {
			logger.DebugContext(ctx, "upload progress", "sent", sent, "total", total)
			next = sent + step
		}
	})
	h.journal.Record(ctx, def.Name, domain.ActionUpload, nil, err)
	if err != nil {
		logger.WarnContext(ctx, "upload failed", "error", err)
		h.reject(c, err)
		return
	}

	if pkg.IsHTMX(c) {
		pkg.Toast(c, "File uploaded", pkg.ToastSuccess)
		c.HTML(http.StatusOK, "resource/uploaded.html", uploadView{Field: field, URL: result.URL, Key: result.Key})
		return
	}
	pkg.Success(c, result)
}

func (h *UploadHandler) reject(c *gin.Context, err error) {
	if pkg.IsHTMX(c) {
		pkg.Toast(c, domain.PublicMessage(err), pkg.ToastError)
		pkg.NoSwap(c)
		c.Status(http.StatusOK)
		return
	}
	pkg.Error(c, err)
}

func imageField(def *res.Definition, name string) (modal.Field, bool) {
	for _, f := range def.Form {
		if f.Name == name && f.Kind == modal.KindImage {
			return f, true
		}
	}
	return modal.Field{}, false
}
