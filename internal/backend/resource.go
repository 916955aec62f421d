package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/paging"
	"github.com/productx/backoffice/internal/query"
)

// Endpoints locates one resource's operations. Operation paths are joined to
// Base; an empty operation is unsupported by the resource.
type Endpoints struct {
	Base         string            `yaml:"base"`
	List         string            `yaml:"list"`
	ListAll      string            `yaml:"list_all"`
	Create       string            `yaml:"create"`
	Update       string            `yaml:"update"`
	UpdateMethod string            `yaml:"update_method"`
	Remove       string            `yaml:"remove"`
	DeleteBatch  string            `yaml:"delete_batch"`
	ChangeStatus string            `yaml:"change_status"`
	Paging       paging.ParamNames `yaml:"paging"`
	// BatchKey names the id list in batch bodies: "ids" or "selectedRows".
	BatchKey string `yaml:"batch_key"`
	// ItemsPath and TotalPath locate the list payload. Defaults: "data" and "totalNum".
	ItemsPath string `yaml:"items_path"`
	TotalPath string `yaml:"total_path"`
}

// Path joins op to the resource base.
func (e Endpoints) Path(op string) string {
	if op == "" {
		return ""
	}
	if e.Base == "" || strings.HasPrefix(op, e.Base+"/") {
		return op
	}
	return strings.TrimRight(e.Base, "/") + "/" + strings.TrimLeft(op, "/")
}

// BatchField returns the configured batch key or "ids".
func (e Endpoints) BatchField() string {
	if e.BatchKey == "" {
		return "ids"
	}
	return e.BatchKey
}

func (e Endpoints) updateMethod() string {
	switch strings.ToUpper(e.UpdateMethod) {
	case http.MethodPost:
		return http.MethodPost
	default:
		return http.MethodPut
	}
}

func (e Endpoints) itemsPath() string {
	if e.ItemsPath == "" {
		return "data"
	}
	return e.ItemsPath
}

func (e Endpoints) totalPath() string {
	if e.TotalPath == "" {
		return "totalNum"
	}
	return e.TotalPath
}

// ListParams builds the list query: non-empty filters plus the page and size
// under the endpoint's own parameter names.
func ListParams(ep Endpoints, page, size int, q query.Spec) url.Values {
	names := ep.Paging.WithDefaults()
	vals := q.Values()
	vals.Set(names.Page, strconv.Itoa(page))
	vals.Set(names.Size, strconv.Itoa(size))
	return vals
}

// List fetches one page of records.
func (c *Client) List(ctx context.Context, ep Endpoints, page, size int, q query.Spec) (paging.Page[domain.Record], error) {
	if ep.List == "" {
		return paging.Page[domain.Record]{}, unsupported("list")
	}
	env, err := c.Do(ctx, Call{Method: http.MethodGet, Path: ep.Path(ep.List), Query: ListParams(ep, page, size, q)})
	if err != nil {
		return paging.Page[domain.Record]{}, err
	}
	records := env.Records(ep.itemsPath())
	total := env.Int(ep.totalPath())
	if env.Path(ep.totalPath()) == nil {
		total = int64(len(records))
	}
	return paging.Page[domain.Record]{
		Records:     records,
		CurrentPage: page,
		PageSize:    size,
		TotalNum:    total,
	}, nil
}

// ListAll fetches the unpaginated collection used by selects and maps.
func (c *Client) ListAll(ctx context.Context, ep Endpoints) ([]domain.Record, error) {
	if ep.ListAll == "" {
		return nil, unsupported("list-all")
	}
	env, err := c.Do(ctx, Call{Method: http.MethodGet, Path: ep.Path(ep.ListAll)})
	if err != nil {
		return nil, err
	}
	return env.Records("data"), nil
}

// Create posts a new record.
func (c *Client) Create(ctx context.Context, ep Endpoints, body map[string]any) error {
	if ep.Create == "" {
		return unsupported("create")
	}
	_, err := c.Do(ctx, Call{Method: http.MethodPost, Path: ep.Path(ep.Create), Body: body})
	return err
}

// Update sends the record with its id using the resource's update method.
func (c *Client) Update(ctx context.Context, ep Endpoints, id int64, body map[string]any) error {
	if ep.Update == "" {
		return unsupported("update")
	}
	payload := make(map[string]any, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	payload[domain.IDField] = id
	_, err := c.Do(ctx, Call{Method: ep.updateMethod(), Path: ep.Path(ep.Update), Body: payload})
	return err
}

// Remove deletes one record.
func (c *Client) Remove(ctx context.Context, ep Endpoints, id int64) error {
	if ep.Remove == "" {
		return unsupported("remove")
	}
	_, err := c.Do(ctx, Call{Method: http.MethodPost, Path: ep.Path(ep.Remove), Body: map[string]any{domain.IDField: id}})
	return err
}

// ChangeStatus sets the status of one or several records.
func (c *Client) ChangeStatus(ctx context.Context, ep Endpoints, ids []int64, status any) error {
	if ep.ChangeStatus == "" {
		return unsupported("change-status")
	}
	body := map[string]any{"status": status}
	if len(ids) == 1 {
		body[domain.IDField] = ids[0]
	} else {
		body[ep.BatchField()] = ids
	}
	return c.Post(ctx, ep.Path(ep.ChangeStatus), body)
}

// Post sends body to path and discards the payload.
func (c *Client) Post(ctx context.Context, path string, body any) error {
	_, err := c.Do(ctx, Call{Method: http.MethodPost, Path: path, Body: body})
	return err
}

// Get fetches path and returns the decoded envelope.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (Envelope, error) {
	return c.Do(ctx, Call{Method: http.MethodGet, Path: path, Query: params})
}

func unsupported(op string) error {
	return domain.NewAppError(domain.CodeValidation, fmt.Sprintf("%s is not supported by this resource", op), nil)
}
