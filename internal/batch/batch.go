// Package batch runs bulk operations over the selected rows of a list:
// confirm, post the ids, refresh the list and clear the selection.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"maps"
)

// DefaultKey names the id list in a batch body when none is configured.
const DefaultKey = "ids"

// ErrEmptySelection is returned when a batch is requested with no rows selected.
var ErrEmptySelection = errors.New("no records selected")

// Poster sends a batch body to the backend.
type Poster interface {
	Post(ctx context.Context, path string, body any) error
}

// Confirmer asks the operator to confirm a batch. A false result with a nil
// error means the operator has not confirmed yet or declined.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string, count int) (bool, error)
}

// Notifier shows operator messages.
type Notifier interface {
	Warning(msg string)
	Success(msg string)
}

// Request describes one batch invocation.
type Request struct {
	URL string
	// Key names the id list in the body. Defaults to "ids".
	Key          string
	SelectedRows []int64
	// Extra fields are merged into the body, e.g. {"status": 1}.
	Extra          map[string]any
	FetchData      func(ctx context.Context) error
	ResetSelection func()
	Prompt         string
	SuccessMessage string
	EmptyMessage   string
}

// Result reports what a batch did.
type Result struct {
	Confirmed bool
	Count     int
}

// Runner executes batch requests.
type Runner struct {
	poster    Poster
	confirmer Confirmer
	notifier  Notifier
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(poster Poster, confirmer Confirmer, notifier Notifier, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{poster: poster, confirmer: confirmer, notifier: notifier, logger: logger}
}

// HandleBatchDelete deletes the selected rows.
func (r *Runner) HandleBatchDelete(ctx context.Context, req Request) (Result, error) {
	if req.Prompt == "" {
		req.Prompt = "Delete the selected records?"
	}
	if req.SuccessMessage == "" {
		req.SuccessMessage = "Deleted successfully"
	}
	return r.HandleBatch(ctx, req)
}

// HandleBatch posts {key: ids, ...extra} to req.URL after confirmation.
//
// An empty selection shows one warning and makes no call. On success the
// success message is shown, FetchData runs exactly once and then the
// selection is reset. A failed post is returned without a message; the
// console's error interceptor reports it.
func (r *Runner) HandleBatch(ctx context.Context, req Request) (Result, error) {
	if len(req.SelectedRows) == 0 {
		msg := req.EmptyMessage
		if msg == "" {
			msg = "Please select at least one record"
		}
		r.notifier.Warning(msg)
		return Result{}, ErrEmptySelection
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = "Apply this action to the selected records?"
	}
	ok, err := r.confirmer.Confirm(ctx, prompt, len(req.SelectedRows))
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	if err := r.poster.Post(ctx, req.URL, body(req)); err != nil {
		r.logger.WarnContext(ctx, "batch request failed", "url", req.URL, "count", len(req.SelectedRows), "error", err)
		return Result{Confirmed: true}, err
	}

	msg := req.SuccessMessage
	if msg == "" {
		msg = "Operation succeeded"
	}
	r.notifier.Success(msg)

	if req.FetchData != nil {
		if err := req.FetchData(ctx); err != nil {
			r.logger.WarnContext(ctx, "refetch after batch failed", "url", req.URL, "error", err)
		}
	}
	if req.ResetSelection != nil {
		req.ResetSelection()
	}
	return Result{Confirmed: true, Count: len(req.SelectedRows)}, nil
}

func body(req Request) map[string]any {
	key := req.Key
	if key == "" {
		key = DefaultKey
	}
	out := make(map[string]any, len(req.Extra)+1)
	maps.Copy(out, req.Extra)
	out[key] = req.SelectedRows
	return out
}

// Confirmed is a Confirmer for an already answered prompt, such as a form
// carrying confirm=yes.
type Confirmed bool

// Confirm returns the stored answer.
func (c Confirmed) Confirm(context.Context, string, int) (bool, error) {
	return bool(c), nil
}
