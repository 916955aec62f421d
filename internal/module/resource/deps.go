// Package resource serves the console's list screens: full pages, htmx
// fragments for paging, search, selection, dialogs and batch actions, and a
// small JSON API over the same catalog.
package resource

import (
	"context"
	"io"

	"github.com/productx/backoffice/internal/backend"
	"github.com/productx/backoffice/internal/batch"
	"github.com/productx/backoffice/internal/lookup"
	"github.com/productx/backoffice/internal/modal"
	res "github.com/productx/backoffice/internal/resource"
	"github.com/productx/backoffice/internal/upload"
)

// Backend is the part of the backend client the console screens call.
// *backend.Client implements it.
type Backend interface {
	res.Lister
	modal.Submitter
	modal.Fetcher
	batch.Poster
	Remove(ctx context.Context, ep backend.Endpoints, id int64) error
	ChangeStatus(ctx context.Context, ep backend.Endpoints, ids []int64, status any) error
}

// Lookups resolves select options and column labels. *lookup.Service
// implements it.
type Lookups interface {
	Options(ctx context.Context, name string) ([]modal.Option, error)
	Labels(ctx context.Context, name string) (map[string]string, error)
	Invalidate(ctx context.Context, name string) error
}

// Uploader stores operator files. *upload.Uploader implements it.
type Uploader interface {
	Upload(ctx context.Context, dir, filename, contentType string, size int64, body io.Reader, progress backend.ProgressFunc) (upload.Result, error)
	// MaxSize is the largest accepted file in bytes; 0 means unlimited.
	MaxSize() int64
}

var (
	_ Backend  = (*backend.Client)(nil)
	_ Lookups  = (*lookup.Service)(nil)
	_ Uploader = (*upload.Uploader)(nil)
)
