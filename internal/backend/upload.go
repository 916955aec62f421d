package backend

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/productx/backoffice/internal/domain"
)

// ProgressFunc receives the bytes sent so far and the expected total. total
// is -1 when unknown.
type ProgressFunc func(sent, total int64)

// ProgressReader reports progress while r is read.
type ProgressReader struct {
	r        io.Reader
	sent     int64
	total    int64
	progress ProgressFunc
}

// NewProgressReader wraps r. A nil progress func makes it a plain reader.
func NewProgressReader(r io.Reader, total int64, progress ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, total: total, progress: progress}
}

// Read implements io.Reader.
func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.progress != nil {
			p.progress(p.sent, p.total)
		}
	}
	return n, err
}

// Part is a file streamed as one multipart field.
type Part struct {
	Field       string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Upload streams part as multipart/form-data to path together with fields
// and returns the envelope. Uploads are never retried since the body is
// consumed as it is sent.
func (c *Client) Upload(ctx context.Context, path string, fields map[string]string, part Part, progress ProgressFunc) (Envelope, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, fields, part, progress))
	}()

	reqURL := c.resolve(path, url.Values{})
	resp, release, err := c.send(ctx, http.MethodPost, reqURL, pr, mw.FormDataContentType())
	if err != nil {
		pr.CloseWithError(err)
		if ctx.Err() != nil {
			return Envelope{}, fmt.Errorf("upload %s: %w", path, ctx.Err())
		}
		return Envelope{}, err
	}
	defer release()
	return c.readEnvelope(http.MethodPost, reqURL, resp)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeMultipart(mw *multipart.Writer, fields map[string]string, part Part, progress ProgressFunc) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	field := part.Field
	if field == "" {
		field = "file"
	}
	contentType := part.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, quoteEscaper.Replace(field), quoteEscaper.Replace(part.Filename)))
	h.Set("Content-Type", contentType)

	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, NewProgressReader(part.Body, part.Size, progress)); err != nil {
		return err
	}
	return mw.Close()
}

// UploadedURL extracts the file URL from an upload response, which is either
// the bare "data" string or an object with a "url" member.
func UploadedURL(env Envelope) (string, error) {
	switch v := env.Data().(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case map[string]any:
		if s, ok := v["url"].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", domain.NewAppError(domain.CodeRejected, "upload response carried no url", nil)
}
