package modal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/productx/backoffice/internal/backend"
	"github.com/productx/backoffice/internal/domain"
)

// Submitter persists a create or update.
type Submitter interface {
	Create(ctx context.Context, ep backend.Endpoints, body map[string]any) error
	Update(ctx context.Context, ep backend.Endpoints, id int64, body map[string]any) error
}

// Fetcher loads supplementary data for a record.
type Fetcher interface {
	Get(ctx context.Context, path string, params url.Values) (backend.Envelope, error)
}

// Refetcher reloads the list that opened a dialog.
type Refetcher interface {
	Refetch(ctx context.Context) error
}

// Supplement fetches extra data by record id, e.g. a manager's roles.
type Supplement struct {
	Path    string `yaml:"path"`
	IDParam string `yaml:"id_param"`
	// Into names the form field that receives the payload. Empty merges an
	// object payload into the record.
	Into string `yaml:"into"`
}

func (s *Supplement) fetch(ctx context.Context, f Fetcher, id int64) (any, error) {
	param := s.IDParam
	if param == "" {
		param = domain.IDField
	}
	env, err := f.Get(ctx, s.Path, url.Values{param: {strconv.FormatInt(id, 10)}})
	if err != nil {
		return nil, err
	}
	return env.Data(), nil
}

// EditConfig describes a create/update dialog.
type EditConfig struct {
	Endpoints backend.Endpoints
	Fields    []Field
	Prefill   *Supplement
}

// EditModal is the create/update dialog of a list. The list owns its
// visibility; the dialog reports success by refetching the list once.
type EditModal struct {
	cfg       EditConfig
	form      *Form
	mode      Mode
	id        int64
	visible   bool
	submitter Submitter
	fetcher   Fetcher
	parent    Refetcher
}

// NewEditModal creates a closed dialog.
func NewEditModal(cfg EditConfig, v *validator.Validate, submitter Submitter, fetcher Fetcher, parent Refetcher) *EditModal {
	return &EditModal{
		cfg:       cfg,
		form:      NewForm(cfg.Fields, v),
		submitter: submitter,
		fetcher:   fetcher,
		parent:    parent,
	}
}

// OpenCreate shows an empty dialog.
func (m *EditModal) OpenCreate() {
	m.form.Reset()
	m.mode = ModeCreate
	m.id = 0
	m.visible = true
}

// OpenUpdate shows the dialog pre-populated from rec, loading the
// configured supplement first. The dialog stays closed when that fails.
func (m *EditModal) OpenUpdate(ctx context.Context, rec domain.Record) error {
	id, ok := rec.ID()
	if !ok {
		return domain.NewAppError(domain.CodeValidation, "record has no id", nil)
	}
	m.form.Reset()
	m.form.Populate(rec)

	if m.cfg.Prefill != nil && m.cfg.Prefill.Path != "" && m.fetcher != nil {
		data, err := m.cfg.Prefill.fetch(ctx, m.fetcher, id)
		if err != nil {
			return fmt.Errorf("load %s for record %d: %w", m.cfg.Prefill.Path, id, err)
		}
		if m.cfg.Prefill.Into != "" {
			m.form.values[m.cfg.Prefill.Into] = data
		} else if obj, ok := data.(map[string]any); ok {
			m.form.Populate(obj)
		}
	}

	m.mode = ModeUpdate
	m.id = id
	m.visible = true
	return nil
}

// Reopen restores an open dialog from a submitted form without prefilling.
func (m *EditModal) Reopen(mode Mode, id int64, values url.Values) {
	m.form.Reset()
	m.mode = mode
	m.id = id
	m.visible = true
	m.form.Bind(values)
}

// Submit validates and persists the form. On success the parent list is
// refetched exactly once and the dialog closes and resets. On failure it
// stays open; ErrInvalid means Form().Errors() holds field messages.
func (m *EditModal) Submit(ctx context.Context) error {
	if !m.visible {
		return domain.NewAppError(domain.CodeValidation, "dialog is not open", nil)
	}
	if !m.form.Validate(m.mode) {
		return ErrInvalid
	}

	body := m.form.Body(m.mode)
	var err error
	if m.mode == ModeUpdate {
		err = m.submitter.Update(ctx, m.cfg.Endpoints, m.id, body)
	} else {
		err = m.submitter.Create(ctx, m.cfg.Endpoints, body)
	}
	if err != nil {
		return err
	}

	if m.parent != nil {
		// A failed refetch is recorded by the list itself.
		_ = m.parent.Refetch(ctx)
	}
	m.Cancel()
	return nil
}

// Cancel closes and resets the dialog.
func (m *EditModal) Cancel() {
	m.visible = false
	m.form.Reset()
	m.id = 0
}

// Visible reports whether the dialog is open.
func (m *EditModal) Visible() bool { return m.visible }

// Mode reports whether the dialog creates or updates.
func (m *EditModal) Mode() Mode { return m.mode }

// ID is the record being updated, 0 when creating.
func (m *EditModal) ID() int64 { return m.id }

// Form exposes the dialog's form for rendering.
func (m *EditModal) Form() *Form { return m.form }
