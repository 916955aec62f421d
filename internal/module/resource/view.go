package resource

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/modal"
	"github.com/productx/backoffice/internal/permission"
	res "github.com/productx/backoffice/internal/resource"
)

// Element ids the fragments are swapped into.
const (
	tableTarget = "#resource-table"
	modalTarget = "#modal"
)

// listView is the render model of a list page and its table fragment.
type listView struct {
	Def       *res.Definition
	State     res.State
	Groups    []res.Group
	Labels    map[string]map[string]string
	Options   map[string][]modal.Option
	CSRFToken string
	Error     string
}

// BaseURL is the list page of the resource.
func (v listView) BaseURL() string {
	return "/r/" + v.Def.Name
}

// RowID returns the id of rec, 0 when it has none.
func (v listView) RowID(rec domain.Record) int64 {
	id, _ := rec.ID()
	return id
}

// Selected reports whether rec is in the selection.
func (v listView) Selected(rec domain.Record) bool {
	id, ok := rec.ID()
	return ok && v.State.IsSelected(id)
}

// Cell formats one table cell. Lookup columns show the label of the raw value.
func (v listView) Cell(rec domain.Record, col res.Column) string {
	raw := rec.String(col.Field)
	switch {
	case col.Lookup != "":
		if label, ok := v.Labels[col.Lookup][raw]; ok {
			return label
		}
	case col.Kind == res.ColumnBool:
		if raw == "" {
			return ""
		}
		if on, err := strconv.ParseBool(raw); err == nil && on {
			return "Yes"
		}
		return "No"
	}
	return raw
}

// StatusOn reports whether the row's status switch is on.
func (v listView) StatusOn(rec domain.Record) bool {
	if v.Def.Status == nil {
		return false
	}
	on := domain.Record{"v": v.Def.Status.Value(true)}.String("v")
	return rec.String(v.Def.Status.Field) == on
}

// FilterValue returns the draft value of a search field.
func (v listView) FilterValue(field string) string {
	return v.State.Draft.Get(field)
}

// RangeStart and RangeEnd return the bounds of a date range filter for a date input.
func (v listView) RangeStart(field string) string {
	r := v.State.Draft.Range(field)
	if r.Start.IsZero() {
		return ""
	}
	return r.Start.Format("2006-01-02")
}

func (v listView) RangeEnd(field string) string {
	r := v.State.Draft.Range(field)
	if r.End.IsZero() {
		return ""
	}
	return r.End.Format("2006-01-02")
}

// formView is the render model of the create/update dialog.
type formView struct {
	Def       *res.Definition
	Modal     *modal.EditModal
	Options   map[string][]modal.Option
	CSRFToken string
}

// Action is the URL the dialog posts to.
func (v formView) Action() string {
	if v.Modal.Mode() == modal.ModeUpdate {
		return fmt.Sprintf("/r/%s/%d", v.Def.Name, v.Modal.ID())
	}
	return "/r/" + v.Def.Name
}

// Title is the dialog heading.
func (v formView) Title() string {
	if v.Modal.Mode() == modal.ModeUpdate {
		return "Edit " + v.Def.Title
	}
	return "New " + v.Def.Title
}

// Fields returns the inputs shown in the dialog's mode.
func (v formView) Fields() []modal.Field {
	return v.Modal.Form().Fields(v.Modal.Mode())
}

// Editable reports whether f accepts input in the dialog's mode.
func (v formView) Editable(f modal.Field) bool {
	return f.Editable(v.Modal.Mode())
}

// detailView is the render model of the detail dialog.
type detailView struct {
	Def    *res.Definition
	Detail *modal.DetailModal

	// Permission kind.
	View  string
	Query string
	Type  string
	Tree  []*permission.Node
	Items []permission.Item
	Types []string

	// Map kind.
	Lat, Lng  float64
	HasCoords bool
}

// Keys returns the record's fields in sorted order.
func (v detailView) Keys() []string {
	return slices.Sorted(maps.Keys(v.Detail.Record()))
}

// Value formats one field of the displayed record.
func (v detailView) Value(key string) string {
	return v.Detail.Record().String(key)
}

// confirmView asks the operator to confirm a batch action.
type confirmView struct {
	Def       *res.Definition
	Action    res.BatchAction
	Count     int
	URL       string
	CSRFToken string
}

// uploadView reports a stored file back into an image field.
type uploadView struct {
	Field string
	URL   string
	Key   string
}
