package resource

import (
	"context"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/productx/backoffice/internal/backend"
	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/modal"
	"github.com/productx/backoffice/internal/paging"
	"github.com/productx/backoffice/internal/query"
	res "github.com/productx/backoffice/internal/resource"
	"github.com/productx/backoffice/internal/upload"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type listCall struct {
	page, size int
	q          query.Spec
}

type postCall struct {
	path string
	body any
}

type statusCall struct {
	ids    []int64
	status any
}

// fakeBackend serves total rows with ids 1..total and records every call.
type fakeBackend struct {
	mu       sync.Mutex
	total    int64
	listErr  error
	mutErr   error
	extra    any
	lists    []listCall
	creates  []map[string]any
	updates  map[int64]map[string]any
	removes  []int64
	statuses []statusCall
	posts    []postCall
	gets     []url.Values
}

func newFakeBackend(total int64) *fakeBackend {
	return &fakeBackend{total: total, updates: map[int64]map[string]any{}}
}

func (f *fakeBackend) List(_ context.Context, _ backend.Endpoints, page, size int, q query.Spec) (paging.Page[domain.Record], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists = append(f.lists, listCall{page: page, size: size, q: q})
	if f.listErr != nil {
		return paging.Page[domain.Record]{}, f.listErr
	}
	var records []domain.Record
	for id := int64((page-1)*size + 1); id <= f.total && id <= int64(page*size); id++ {
		records = append(records, domain.Record{"id": id, "name": "row", "status": int64(1), "currencyId": "1"})
	}
	return paging.Page[domain.Record]{Records: records, CurrentPage: page, PageSize: size, TotalNum: f.total}, nil
}

func (f *fakeBackend) Create(_ context.Context, _ backend.Endpoints, body map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, body)
	return f.mutErr
}

func (f *fakeBackend) Update(_ context.Context, _ backend.Endpoints, id int64, body map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = body
	return f.mutErr
}

func (f *fakeBackend) Get(_ context.Context, _ string, params url.Values) (backend.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, params)
	return backend.Envelope{Body: map[string]any{"data": f.extra}}, f.mutErr
}

func (f *fakeBackend) Post(_ context.Context, path string, body any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, postCall{path: path, body: body})
	return f.mutErr
}

func (f *fakeBackend) Remove(_ context.Context, _ backend.Endpoints, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes = append(f.removes, id)
	return f.mutErr
}

func (f *fakeBackend) ChangeStatus(_ context.Context, _ backend.Endpoints, ids []int64, status any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, statusCall{ids: ids, status: status})
	return f.mutErr
}

func (f *fakeBackend) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists)
}

func (f *fakeBackend) lastList() listCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[len(f.lists)-1]
}

type fakeLookups struct {
	mu          sync.Mutex
	err         error
	invalidated []string
}

func (f *fakeLookups) Options(_ context.Context, name string) ([]modal.Option, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []modal.Option{{Label: "Euro", Value: "1"}, {Label: "Dollar", Value: "2"}}, nil
}

func (f *fakeLookups) Labels(_ context.Context, name string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]string{"1": "Euro", "2": "Dollar"}, nil
}

func (f *fakeLookups) Invalidate(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, name)
	return nil
}

type journalCall struct {
	resource, action string
	ids              []int64
	err              error
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journalCall
}

func (f *fakeJournal) Record(_ context.Context, resource, action string, ids []int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, journalCall{resource: resource, action: action, ids: ids, err: err})
}

func (f *fakeJournal) List(context.Context, domain.PageRequest) (*domain.PageResult[domain.JournalEntry], error) {
	return &domain.PageResult[domain.JournalEntry]{}, nil
}

func (f *fakeJournal) last() journalCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[len(f.entries)-1]
}

type fakeUploader struct {
	err     error
	dir     string
	content string
	maxSize int64
}

func (f *fakeUploader) MaxSize() int64 { return f.maxSize }

func (f *fakeUploader) Upload(_ context.Context, dir, filename, _ string, size int64, body io.Reader, progress backend.ProgressFunc) (upload.Result, error) {
	if f.err != nil {
		return upload.Result{}, f.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return upload.Result{}, err
	}
	f.dir, f.content = dir, string(b)
	if progress != nil {
		progress(int64(len(b)), size)
	}
	key := dir + "/2024/05/01/abc" + filename[strings.LastIndex(filename, "."):]
	return upload.Result{Key: key, URL: "https://cdn.example.com/" + key, Size: size}, nil
}

func testCatalog(t *testing.T, auto bool) *res.Catalog {
	t.Helper()
	defs := []*res.Definition{
		{
			Name:        "country",
			Title:       "Country",
			Group:       "Geography",
			AutoRefetch: auto,
			Endpoints: backend.Endpoints{
				Base: "/country", List: "list", Create: "add", Update: "update",
				Remove: "remove", DeleteBatch: "deleteBatch", ChangeStatus: "changeStatus",
			},
			Columns: []res.Column{
				{Field: "name", Label: "Name"},
				{Field: "currencyId", Label: "Currency", Lookup: "currency"},
			},
			Filters: []res.Filter{
				{Field: "name", Kind: res.FilterText},
				{Field: "status", Kind: res.FilterSelect, Options: []modal.Option{{Label: "On", Value: "1"}}},
				{Field: "population", Kind: res.FilterNumber},
				{Field: "createdAt", Kind: res.FilterDateRange},
			},
			Form: []modal.Field{
				{Name: "name", Label: "Name", Rules: "required,max=64"},
				{Name: "currencyId", Label: "Currency", Kind: modal.KindSelect, Lookup: "currency"},
				{Name: "flag", Label: "Flag", Kind: modal.KindImage, UploadDir: "flags"},
			},
			Status:  &res.StatusToggle{Field: "status"},
			Actions: []res.BatchAction{{Name: "enable", Label: "Enable", Path: "changeStatus", Extra: map[string]any{"status": 1}}},
		},
		{
			Name:      "currency",
			Title:     "Currency",
			Endpoints: backend.Endpoints{Base: "/currency", List: "list", ListAll: "listAll"},
			Columns:   []res.Column{{Field: "name"}},
			Lookup:    &res.Lookup{LabelField: "name"},
		},
		{
			Name:      "role",
			Title:     "Role",
			Endpoints: backend.Endpoints{Base: "/role", List: "list"},
			Columns:   []res.Column{{Field: "name"}},
			Detail:    &res.Detail{Kind: modal.DetailPermissions, Path: "/role/permissions", IDParam: "roleId"},
		},
	}
	catalog, err := res.NewCatalog(defs, validator.New())
	if err != nil {
		t.Fatalf("NewCatalog() error = %v", err)
	}
	return catalog
}

var testTemplates = template.Must(template.New("").Parse(`
{{define "resource/list.html"}}list {{.Def.Name}} rows={{len .State.Records}} err={{.Error}}{{end}}
{{define "resource/table.html"}}table page={{.State.Page}} size={{.State.PageSize}} rows={{len .State.Records}} selected={{len .State.Selected}}{{range .State.Records}} {{$.Cell . (index $.Def.Columns 1)}}{{end}}{{end}}
{{define "resource/form.html"}}form {{.Action}}{{range .Fields}} {{.Name}}[{{$.Modal.Form.Error .Name}}]{{end}}{{end}}
{{define "resource/detail.html"}}detail {{.Detail.Kind}} view={{.View}} items={{len .Items}} tree={{len .Tree}} types={{len .Types}}{{end}}
{{define "resource/confirm.html"}}confirm {{.Count}} {{.URL}}{{end}}
{{define "resource/uploaded.html"}}uploaded {{.Field}} {{.URL}}{{end}}
{{define "errors/404.html"}}not found{{end}}
`))

type harness struct {
	router   *gin.Engine
	backend  *fakeBackend
	lookups  *fakeLookups
	journal  *fakeJournal
	uploader *fakeUploader
	views    *res.Views
	view     string
}

func newHarness(t *testing.T, auto bool, total int64) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(total),
		lookups:  &fakeLookups{},
		journal:  &fakeJournal{},
		uploader: &fakeUploader{},
	}
	catalog := testCatalog(t, auto)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.views = res.NewViews(res.ViewsConfig{}, h.backend, logger)
	t.Cleanup(h.views.Close)

	ph := NewPageHandler(PageDeps{
		Catalog:  catalog,
		Views:    h.views,
		Backend:  h.backend,
		Lookups:  h.lookups,
		Journal:  h.journal,
		Validate: validator.New(),
		Logger:   logger,
	})
	m := NewModule(NewResourceHandler(catalog, h.backend, h.lookups), ph, NewUploadHandler(catalog, h.uploader, h.journal, logger))

	r := gin.New()
	r.SetHTMLTemplate(testTemplates)
	m.RegisterRoutes(r.Group("/api/v1"), r.Group("/"))
	h.router = r
	return h
}

// do sends an htmx request carrying the harness's view cookie.
func (h *harness) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("HX-Request", "true")
	if h.view != "" {
		req.AddCookie(&http.Cookie{Name: viewCookie, Value: h.view})
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	for _, ck := range w.Result().Cookies() {
		if ck.Name == viewCookie {
			h.view = ck.Value
		}
	}
	return w
}
