package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/productx/backoffice/internal/batch"
	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/middleware"
	"github.com/productx/backoffice/internal/modal"
	"github.com/productx/backoffice/internal/paging"
	"github.com/productx/backoffice/internal/permission"
	"github.com/productx/backoffice/internal/pkg"
	"github.com/productx/backoffice/internal/query"
	res "github.com/productx/backoffice/internal/resource"
)

// viewCookie identifies one browser's set of list controllers.
const viewCookie = "_view"

// eventCloseModal asks the client script to close the open dialog.
const eventCloseModal = "closeModal"

// PageDeps holds what the page handler needs.
type PageDeps struct {
	Catalog  *res.Catalog
	Views    *res.Views
	Backend  Backend
	Lookups  Lookups
	Journal  domain.JournalService
	Validate *validator.Validate
	Logger   *slog.Logger
}

// PageHandler renders the list screens and serves their htmx fragments.
type PageHandler struct {
	catalog  *res.Catalog
	views    *res.Views
	backend  Backend
	lookups  Lookups
	journal  domain.JournalService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewPageHandler creates a PageHandler.
func NewPageHandler(deps PageDeps) *PageHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PageHandler{
		catalog:  deps.Catalog,
		views:    deps.Views,
		backend:  deps.Backend,
		lookups:  deps.Lookups,
		journal:  deps.Journal,
		validate: deps.Validate,
		logger:   logger,
	}
}

// ListPage renders a resource's search bar, table and pager.
// GET /r/:resource
func (h *PageHandler) ListPage(c *gin.Context) {
	def, ctrl, fresh, ok := h.screen(c)
	if !ok {
		return
	}
	if !fresh {
		h.report(c, def, ctrl.Refetch(c.Request.Context()))
	}
	c.HTML(http.StatusOK, "resource/list.html", h.listView(c, def, ctrl))
}

// Table re-renders the table for a page or page size change, or refreshes
// it when neither is given.
// GET /r/:resource/table
func (h *PageHandler) Table(c *gin.Context) {
	def, ctrl, fresh, ok := h.screen(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	state := ctrl.Snapshot()

	var err error
	pager := paging.Pager{
		Current:          state.Page,
		PageSize:         state.PageSize,
		TotalNum:         state.TotalNum,
		OnPageChange:     func(page int) { err = ctrl.SetPage(ctx, page) },
		OnPageSizeChange: func(size int) { err = ctrl.SetPageSize(ctx, size) },
	}
	size, hasSize := intQuery(c, "size")
	page, hasPage := intQuery(c, "page")
	switch {
	case hasSize:
		if !pager.SetSize(size) && !fresh {
			err = ctrl.Refetch(ctx)
		}
	case hasPage:
		if !pager.GoTo(page) && !fresh {
			err = ctrl.Refetch(ctx)
		}
	case !fresh:
		err = ctrl.Refetch(ctx)
	}
	h.report(c, def, err)
	h.renderTable(c, def, ctrl)
}

// Search handles the search bar: op=search applies every input, op=reset
// clears the query, and otherwise the single input named by "field" is
// merged into the draft. A draft change that does not fetch swaps nothing.
// POST /r/:resource/search
func (h *PageHandler) Search(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	form, err := postForm(c)
	if err != nil {
		h.warn(c, "Invalid search request")
		return
	}

	switch form.Get("op") {
	case "reset":
		h.report(c, def, ctrl.ResetQuery(ctx))
	case "search":
		draft := query.Spec{}
		for _, f := range def.Filters {
			v, err := filterValue(f, form)
			if err != nil {
				h.warn(c, domain.PublicMessage(err))
				return
			}
			draft[f.Field] = v
		}
		ctrl.MergeDraft(draft)
		h.report(c, def, ctrl.Search(ctx))
	default:
		f, found := def.Filter(form.Get("field"))
		if !found {
			h.warn(c, "Unknown search field")
			return
		}
		v, err := filterValue(f, form)
		if err != nil {
			h.warn(c, domain.PublicMessage(err))
			return
		}
		fetched, err := ctrl.SetField(ctx, f.Field, v)
		if !fetched {
			c.Status(http.StatusNoContent)
			return
		}
		h.report(c, def, err)
	}
	h.renderTable(c, def, ctrl)
}

// SelectRow toggles one row.
// POST /r/:resource/select/:id
func (h *PageHandler) SelectRow(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	id, err := parseID(c)
	if err != nil {
		h.warn(c, "Invalid record id")
		return
	}
	ctrl.ToggleRow(id)
	h.renderTable(c, def, ctrl)
}

// SelectAll selects or clears every row on the current page.
// POST /r/:resource/select-all
func (h *PageHandler) SelectAll(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	ctrl.SelectAll(isOn(c.PostForm("checked")))
	h.renderTable(c, def, ctrl)
}

// SelectReset clears the selection.
// POST /r/:resource/select-reset
func (h *PageHandler) SelectReset(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	ctrl.ResetSelection()
	h.renderTable(c, def, ctrl)
}

// Batch runs a bulk action over the selection. Without confirm=yes it
// renders the confirmation dialog; once confirmed it posts the ids, shows
// the success toast, refetches the list and clears the selection.
// POST /r/:resource/batch/:action
func (h *PageHandler) Batch(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	action, found := def.Action(c.Param("action"))
	if !found {
		h.notFound(c, "Unknown action")
		return
	}

	ctx := c.Request.Context()
	selected := ctrl.Selected()
	runner := batch.NewRunner(h.backend, batch.Confirmed(c.PostForm("confirm") == "yes"), toastNotifier{c: c}, h.logger)
	req := batch.Request{
		URL:            action.Path,
		Key:            def.Endpoints.BatchField(),
		SelectedRows:   selected,
		Extra:          action.Extra,
		FetchData:      ctrl.Refetch,
		ResetSelection: ctrl.ResetSelection,
		Prompt:         action.Confirm,
		SuccessMessage: action.Success,
	}

	var result batch.Result
	var err error
	journalAction := domain.ActionBatch + ":" + action.Name
	if action.Name == res.ActionDelete {
		journalAction = domain.ActionDeleteBatch
		result, err = runner.HandleBatchDelete(ctx, req)
	} else {
		result, err = runner.HandleBatch(ctx, req)
	}

	switch {
	case errors.Is(err, batch.ErrEmptySelection):
		pkg.NoSwap(c)
		c.Status(http.StatusOK)
	case err != nil:
		h.record(ctx, def, journalAction, selected, err)
		pkg.TriggerEvent(c, eventCloseModal, nil)
		h.fail(c, def, err)
	case !result.Confirmed:
		prompt := action.Confirm
		if prompt == "" {
			prompt = "Apply this action to the selected records?"
		}
		action.Confirm = prompt
		c.HTML(http.StatusOK, "resource/confirm.html", confirmView{
			Def:       def,
			Action:    action,
			Count:     len(selected),
			URL:       fmt.Sprintf("/r/%s/batch/%s", def.Name, action.Name),
			CSRFToken: middleware.GetCSRFToken(c),
		})
	default:
		h.record(ctx, def, journalAction, selected, nil)
		pkg.TriggerEvent(c, eventCloseModal, nil)
		pkg.Retarget(c, tableTarget)
		h.renderTable(c, def, ctrl)
	}
}

// NewForm opens an empty create dialog.
// GET /r/:resource/new
func (h *PageHandler) NewForm(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	if !def.CanCreate() {
		h.notFound(c, "This resource cannot be created here")
		return
	}
	m := h.editModal(def, ctrl)
	m.OpenCreate()
	h.renderForm(c, def, m)
}

// EditForm opens the update dialog for a row of the current page.
// GET /r/:resource/:id/edit
func (h *PageHandler) EditForm(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	if !def.CanUpdate() {
		h.notFound(c, "This resource cannot be edited")
		return
	}
	rec, ok := h.row(c, ctrl)
	if !ok {
		return
	}
	m := h.editModal(def, ctrl)
	if err := m.OpenUpdate(c.Request.Context(), rec); err != nil {
		h.fail(c, def, err)
		return
	}
	h.renderForm(c, def, m)
}

// Create submits the create dialog.
// POST /r/:resource
func (h *PageHandler) Create(c *gin.Context) {
	h.submit(c, modal.ModeCreate)
}

// Update submits the update dialog.
// POST /r/:resource/:id
func (h *PageHandler) Update(c *gin.Context) {
	h.submit(c, modal.ModeUpdate)
}

func (h *PageHandler) submit(c *gin.Context, mode modal.Mode) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	var id int64
	action := domain.ActionCreate
	if mode == modal.ModeUpdate {
		var err error
		if id, err = parseID(c); err != nil {
			h.warn(c, "Invalid record id")
			return
		}
		action = domain.ActionUpdate
	}
	if (mode == modal.ModeCreate && !def.CanCreate()) || (mode == modal.ModeUpdate && !def.CanUpdate()) {
		h.notFound(c, "This operation is not available")
		return
	}
	form, err := postForm(c)
	if err != nil {
		h.warn(c, "Invalid form submission")
		return
	}

	ctx := c.Request.Context()
	m := h.editModal(def, ctrl)
	m.Reopen(mode, id, form)
	err = m.Submit(ctx)
	switch {
	case errors.Is(err, modal.ErrInvalid):
		h.renderForm(c, def, m)
		return
	case err != nil:
		h.record(ctx, def, action, ids(id), err)
		h.fail(c, def, err)
		return
	}

	h.record(ctx, def, action, ids(id), nil)
	pkg.Toast(c, "Saved successfully", pkg.ToastSuccess)
	pkg.TriggerEvent(c, eventCloseModal, nil)
	pkg.Retarget(c, tableTarget)
	h.renderTable(c, def, ctrl)
}

// Remove deletes one row and refetches the list.
// POST /r/:resource/:id/remove
func (h *PageHandler) Remove(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	if !def.CanRemove() {
		h.notFound(c, "This resource cannot be deleted")
		return
	}
	id, err := parseID(c)
	if err != nil {
		h.warn(c, "Invalid record id")
		return
	}

	ctx := c.Request.Context()
	err = h.backend.Remove(ctx, def.Endpoints, id)
	h.record(ctx, def, domain.ActionRemove, ids(id), err)
	if err != nil {
		h.fail(c, def, err)
		return
	}
	pkg.Toast(c, "Deleted successfully", pkg.ToastSuccess)
	h.report(c, def, ctrl.Refetch(ctx))
	h.renderTable(c, def, ctrl)
}

// Status flips one row's status switch. The form field "on" carries the
// requested position.
// POST /r/:resource/:id/status
func (h *PageHandler) Status(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	if def.Status == nil {
		h.notFound(c, "This resource has no status")
		return
	}
	id, err := parseID(c)
	if err != nil {
		h.warn(c, "Invalid record id")
		return
	}

	ctx := c.Request.Context()
	err = h.backend.ChangeStatus(ctx, def.Endpoints, ids(id), def.Status.Value(isOn(c.PostForm("on"))))
	h.record(ctx, def, domain.ActionChangeStatus, ids(id), err)
	if err != nil {
		h.fail(c, def, err)
		return
	}
	pkg.Toast(c, "Status updated", pkg.ToastSuccess)
	h.report(c, def, ctrl.Refetch(ctx))
	h.renderTable(c, def, ctrl)
}

// Detail opens the read-only dialog of a row. Permission payloads are shown
// as a tree or a flat list (view=tree|flat) filtered by q and type.
// GET /r/:resource/:id
func (h *PageHandler) Detail(c *gin.Context) {
	def, ctrl, _, ok := h.screen(c)
	if !ok {
		return
	}
	rec, ok := h.row(c, ctrl)
	if !ok {
		return
	}

	d := modal.NewDetailModal(def.DetailConfig(), h.backend)
	if err := d.Open(c.Request.Context(), rec); err != nil {
		h.fail(c, def, err)
		return
	}

	view := detailView{Def: def, Detail: d}
	switch d.Kind() {
	case modal.DetailPermissions:
		view.View = c.DefaultQuery("view", "tree")
		view.Query = strings.TrimSpace(c.Query("q"))
		view.Type = c.Query("type")
		roots := permission.FromRecords(d.ExtraRecords())
		all := permission.Flatten(roots)
		view.Types = permission.Types(all)
		if view.View == "flat" {
			view.Items = permission.Filter(all, view.Query, view.Type)
		} else {
			view.View = "tree"
			view.Tree = permission.FilterTree(roots, view.Query, view.Type)
		}
	case modal.DetailMap:
		view.Lat, view.Lng, view.HasCoords = d.Coordinates()
	}
	c.HTML(http.StatusOK, "resource/detail.html", view)
}

// screen resolves the resource of the request and the caller's controller
// for it, loading a newly created controller. fresh reports that load. When
// ok is false the response has been written.
func (h *PageHandler) screen(c *gin.Context) (def *res.Definition, ctrl *res.Controller, fresh bool, ok bool) {
	def, found := h.catalog.Get(c.Param("resource"))
	if !found {
		h.notFound(c, "Unknown resource")
		return nil, nil, false, false
	}
	ctrl, fresh = h.views.Get(viewID(c), def)
	if fresh {
		h.report(c, def, ctrl.Load(c.Request.Context()))
	}
	return def, ctrl, fresh, true
}

// row returns the record named by :id from the current page.
func (h *PageHandler) row(c *gin.Context, ctrl *res.Controller) (domain.Record, bool) {
	id, err := parseID(c)
	if err != nil {
		h.warn(c, "Invalid record id")
		return nil, false
	}
	rec, found := ctrl.Record(id)
	if !found {
		h.notFound(c, "The record is no longer on this page")
		return nil, false
	}
	return rec, true
}

func (h *PageHandler) editModal(def *res.Definition, ctrl *res.Controller) *modal.EditModal {
	return modal.NewEditModal(def.EditConfig(), h.validate, h.backend, h.backend, ctrl)
}

func (h *PageHandler) listView(c *gin.Context, def *res.Definition, ctrl *res.Controller) listView {
	ctx := c.Request.Context()
	state := ctrl.Snapshot()
	view := listView{
		Def:       def,
		State:     state,
		Groups:    h.catalog.Groups(),
		Labels:    map[string]map[string]string{},
		Options:   map[string][]modal.Option{},
		CSRFToken: middleware.GetCSRFToken(c),
	}
	if state.Err != nil {
		view.Error = domain.PublicMessage(state.Err)
	}
	for _, col := range def.Columns {
		if col.Lookup == "" || view.Labels[col.Lookup] != nil {
			continue
		}
		labels, err := h.lookups.Labels(ctx, col.Lookup)
		if err != nil {
			h.logger.WarnContext(ctx, "lookup labels unavailable", "lookup", col.Lookup, "error", err)
			continue
		}
		view.Labels[col.Lookup] = labels
	}
	for _, f := range def.Filters {
		view.Options[f.Field] = h.options(ctx, f.Options, f.Lookup)
	}
	return view
}

func (h *PageHandler) renderTable(c *gin.Context, def *res.Definition, ctrl *res.Controller) {
	c.HTML(http.StatusOK, "resource/table.html", h.listView(c, def, ctrl))
}

func (h *PageHandler) renderForm(c *gin.Context, def *res.Definition, m *modal.EditModal) {
	ctx := c.Request.Context()
	opts := make(map[string][]modal.Option, len(def.Form))
	for _, f := range def.Form {
		if f.Kind == modal.KindSelect {
			opts[f.Name] = h.options(ctx, f.Options, f.Lookup)
		}
	}
	c.HTML(http.StatusOK, "resource/form.html", formView{
		Def:       def,
		Modal:     m,
		Options:   opts,
		CSRFToken: middleware.GetCSRFToken(c),
	})
}

// options returns the lookup's options, or the static ones without a lookup.
func (h *PageHandler) options(ctx context.Context, static []modal.Option, lookup string) []modal.Option {
	if lookup == "" {
		return static
	}
	opts, err := h.lookups.Options(ctx, lookup)
	if err != nil {
		h.logger.WarnContext(ctx, "lookup options unavailable", "lookup", lookup, "error", err)
		return static
	}
	return opts
}

// record journals a mutation and drops the cached lookup of the resource
// after a successful one.
func (h *PageHandler) record(ctx context.Context, def *res.Definition, action string, targets []int64, err error) {
	h.journal.Record(ctx, def.Name, action, targets, err)
	if err != nil {
		return
	}
	if ierr := h.lookups.Invalidate(ctx, def.Name); ierr != nil {
		h.logger.WarnContext(ctx, "lookup invalidation failed", "lookup", def.Name, "error", ierr)
	}
}

// report surfaces a failed list fetch as one error toast. Superseded
// fetches are not failures.
func (h *PageHandler) report(c *gin.Context, def *res.Definition, err error) {
	if err == nil || errors.Is(err, res.ErrSuperseded) {
		return
	}
	pkg.Toast(c, domain.PublicMessage(err), pkg.ToastError)
}

// fail is the console's backend error interceptor for mutations: the cause
// is logged, the operator gets one toast and the page keeps its state.
func (h *PageHandler) fail(c *gin.Context, def *res.Definition, err error) {
	h.logger.WarnContext(c.Request.Context(), "console request failed",
		slog.String("resource", def.Name),
		slog.String("path", c.FullPath()),
		slog.Any("error", err),
	)
	pkg.Toast(c, domain.PublicMessage(err), pkg.ToastError)
	pkg.NoSwap(c)
	c.Status(http.StatusOK)
}

func (h *PageHandler) warn(c *gin.Context, msg string) {
	pkg.Toast(c, msg, pkg.ToastWarning)
	pkg.NoSwap(c)
	c.Status(http.StatusBadRequest)
}

func (h *PageHandler) notFound(c *gin.Context, msg string) {
	if !pkg.IsHTMX(c) {
		c.HTML(http.StatusNotFound, "errors/404.html", gin.H{
			"Message":   msg,
			"Resource":  c.Param("resource"),
			"RequestID": middleware.GetRequestID(c),
		})
		return
	}
	pkg.Toast(c, msg, pkg.ToastError)
	pkg.NoSwap(c)
	c.Status(http.StatusNotFound)
}

// toastNotifier shows batch messages as toasts on the response.
type toastNotifier struct {
	c *gin.Context
}

func (n toastNotifier) Warning(msg string) { pkg.Toast(n.c, msg, pkg.ToastWarning) }
func (n toastNotifier) Success(msg string) { pkg.Toast(n.c, msg, pkg.ToastSuccess) }

// viewID returns the browser's view id, issuing one on first use.
func viewID(c *gin.Context) string {
	if id, err := c.Cookie(viewCookie); err == nil {
		if _, perr := uuid.Parse(id); perr == nil {
			return id
		}
	}
	id := uuid.NewString()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     viewCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   gin.Mode() == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	// Later reads in this request see the new id.
	c.Request.AddCookie(&http.Cookie{Name: viewCookie, Value: id})
	return id
}

// filterValue converts a search input to its query value. Empty inputs are nil.
func filterValue(f res.Filter, form url.Values) (any, error) {
	raw := strings.TrimSpace(form.Get(f.Field))
	invalid := func() error {
		return domain.NewAppError(domain.CodeValidation, fmt.Sprintf("%s has an invalid value", label(f)), nil)
	}
	switch f.Kind {
	case res.FilterBool:
		if raw == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, invalid()
		}
		return b, nil
	case res.FilterNumber:
		if raw == "" {
			return nil, nil
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
		if x, err := strconv.ParseFloat(raw, 64); err == nil {
			return x, nil
		}
		return nil, invalid()
	case res.FilterDateRange:
		r, err := query.ParseRange(strings.TrimSpace(form.Get(f.Field+"Start")), strings.TrimSpace(form.Get(f.Field+"End")))
		if err != nil {
			return nil, invalid()
		}
		if r.IsZero() {
			return nil, nil
		}
		return r, nil
	default:
		return raw, nil
	}
}

func label(f res.Filter) string {
	if f.Label != "" {
		return f.Label
	}
	return f.Field
}

func postForm(c *gin.Context) (url.Values, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	return c.Request.PostForm, nil
}

// parseID extracts and validates the "id" URL parameter.
func parseID(c *gin.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %s", raw)
	}
	return id, nil
}

func intQuery(c *gin.Context, name string) (int, bool) {
	raw, present := c.GetQuery(name)
	if !present {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	return n, err == nil
}

func isOn(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ids wraps a single record id; 0 means none.
func ids(id int64) []int64 {
	if id == 0 {
		return nil
	}
	return []int64{id}
}
