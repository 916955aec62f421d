// Package upload stores operator files either through the backend's upload
// endpoint or directly in object storage, and returns their public URL.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/productx/backoffice/internal/backend"
	"github.com/productx/backoffice/internal/domain"
)

// Provider names.
const (
	ProviderBackend   = "backend"
	ProviderOSSPolicy = "oss_policy"
	ProviderOSS       = "oss"
	ProviderCOS       = "cos"
	ProviderS3        = "s3"
)

// DefaultDir is used when an upload names no directory.
const DefaultDir = "uploads"

// ErrTooLarge is returned when a file exceeds the configured size.
var ErrTooLarge = domain.NewAppError(domain.CodeValidation, "file is too large", nil)

// Object is one file ready to store under Key.
type Object struct {
	Key         string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Provider stores objects and returns their URL.
type Provider interface {
	Name() string
	Put(ctx context.Context, obj Object) (string, error)
}

// Result describes a stored file.
type Result struct {
	Key  string `json:"key"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Options tune an Uploader.
type Options struct {
	MaxSize     int64
	AllowedExts []string
	// BytesPerSecond throttles the upload stream; 0 disables throttling.
	BytesPerSecond int64
}

// Uploader validates files and hands them to a provider.
type Uploader struct {
	provider Provider
	opts     Options
	now      func() time.Time
	newID    func() string
}

// NewUploader creates an Uploader. Extensions are compared case-insensitively
// with or without the leading dot.
func NewUploader(provider Provider, opts Options) *Uploader {
	exts := make([]string, 0, len(opts.AllowedExts))
	for _, e := range opts.AllowedExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if e != "" {
			exts = append(exts, e)
		}
	}
	opts.AllowedExts = exts
	return &Uploader{
		provider: provider,
		opts:     opts,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Provider returns the configured provider name.
func (u *Uploader) Provider() string {
	return u.provider.Name()
}

// MaxSize returns the largest accepted file in bytes; 0 means unlimited.
func (u *Uploader) MaxSize() int64 {
	return max(u.opts.MaxSize, 0)
}

// Key derives the object key <dir>/<yyyy>/<mm>/<dd>/<uuid><ext>.
func (u *Uploader) Key(dir, filename string) string {
	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir == "" {
		dir = DefaultDir
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return path.Join(dir, u.now().Format("2006/01/02"), u.newID()+ext)
}

// Upload stores body, reporting progress as it is read. size may be -1 when
// unknown; the size limit is then enforced while streaming.
func (u *Uploader) Upload(ctx context.Context, dir, filename, contentType string, size int64, body io.Reader, progress backend.ProgressFunc) (Result, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || (len(u.opts.AllowedExts) > 0 && !slices.Contains(u.opts.AllowedExts, ext)) {
		return Result{}, domain.NewAppError(domain.CodeValidation, fmt.Sprintf("file type %q is not allowed", ext), nil)
	}
	if u.opts.MaxSize > 0 && size > u.opts.MaxSize {
		return Result{}, ErrTooLarge
	}

	var r io.Reader = body
	if u.opts.MaxSize > 0 {
		r = &limitReader{r: r, remaining: u.opts.MaxSize}
	}
	if u.opts.BytesPerSecond > 0 {
		r = newThrottledReader(ctx, r, u.opts.BytesPerSecond)
	}
	r = backend.NewProgressReader(r, size, progress)

	obj := Object{
		Key:         u.Key(dir, filename),
		Filename:    filepath.Base(filename),
		ContentType: contentType,
		Size:        size,
		Body:        r,
	}
	url, err := u.provider.Put(ctx, obj)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return Result{}, ErrTooLarge
		}
		return Result{}, fmt.Errorf("upload %s via %s: %w", obj.Key, u.provider.Name(), err)
	}
	return Result{Key: obj.Key, URL: url, Size: size}, nil
}

// limitReader fails with ErrTooLarge once more than remaining bytes are read.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

// throttledReader limits read throughput to a byte rate.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func newThrottledReader(ctx context.Context, r io.Reader, bytesPerSecond int64) *throttledReader {
	return &throttledReader{ctx: ctx, r: r, limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), int(bytesPerSecond))}
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
