// Package resource describes the paged list screens of the console and
// holds the per-view controller state behind each of them.
package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/productx/backoffice/internal/backend"
	"github.com/productx/backoffice/internal/modal"
	"github.com/productx/backoffice/internal/paging"
)

// Column kinds.
const (
	ColumnText     = "text"
	ColumnNumber   = "number"
	ColumnBool     = "bool"
	ColumnImage    = "image"
	ColumnDateTime = "datetime"
	ColumnStatus   = "status"
	ColumnLookup   = "lookup"
)

// Filter kinds.
const (
	FilterText      = "text"
	FilterSelect    = "select"
	FilterBool      = "bool"
	FilterNumber    = "number"
	FilterDateRange = "daterange"
)

// ActionDelete is the built-in batch delete action.
const ActionDelete = "delete"

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Column is one table column.
type Column struct {
	Field string `yaml:"field"`
	Label string `yaml:"label"`
	Kind  string `yaml:"kind"`
	// Lookup names the resource whose labels replace raw ids.
	Lookup string `yaml:"lookup"`
}

// Filter is one search bar input.
type Filter struct {
	Field       string         `yaml:"field"`
	Label       string         `yaml:"label"`
	Kind        string         `yaml:"kind"`
	Options     []modal.Option `yaml:"options"`
	Lookup      string         `yaml:"lookup"`
	Placeholder string         `yaml:"placeholder"`
}

// StatusToggle describes the per-row status switch.
type StatusToggle struct {
	Field string `yaml:"field"`
	On    any    `yaml:"on"`
	Off   any    `yaml:"off"`
}

// Value returns the status value for the requested switch position.
func (s StatusToggle) Value(on bool) any {
	if on {
		if s.On == nil {
			return 1
		}
		return s.On
	}
	if s.Off == nil {
		return 0
	}
	return s.Off
}

// BatchAction is a bulk operation over the selected rows.
type BatchAction struct {
	Name  string `yaml:"name"`
	Label string `yaml:"label"`
	// Path is posted with the selected ids and Extra merged into the body.
	Path    string         `yaml:"path"`
	Extra   map[string]any `yaml:"extra"`
	Confirm string         `yaml:"confirm"`
	Success string         `yaml:"success"`
	Danger  bool           `yaml:"danger"`
}

// Detail configures the read-only detail dialog.
type Detail struct {
	Kind    string `yaml:"kind"`
	Path    string `yaml:"path"`
	IDParam string `yaml:"id_param"`
}

// Config converts the catalog entry to a dialog configuration.
func (d Detail) Config() modal.DetailConfig {
	cfg := modal.DetailConfig{Kind: d.Kind}
	if d.Path != "" {
		cfg.Supplement = &modal.Supplement{Path: d.Path, IDParam: d.IDParam}
	}
	return cfg
}

// Lookup marks a resource as a source of select options.
type Lookup struct {
	LabelField string `yaml:"label_field"`
	ValueField string `yaml:"value_field"`
}

// Definition is one list screen.
type Definition struct {
	Name                string            `yaml:"name"`
	Title               string            `yaml:"title"`
	Group               string            `yaml:"group"`
	Endpoints           backend.Endpoints `yaml:"endpoints"`
	PageSize            int               `yaml:"page_size"`
	AutoRefetch         bool              `yaml:"auto_refetch"`
	PersistentSelection bool              `yaml:"persistent_selection"`
	Columns             []Column          `yaml:"columns"`
	Filters             []Filter          `yaml:"filters"`
	Form                []modal.Field     `yaml:"form"`
	Prefill             *modal.Supplement `yaml:"prefill"`
	Status              *StatusToggle     `yaml:"status"`
	Actions             []BatchAction     `yaml:"actions"`
	Detail              *Detail           `yaml:"detail"`
	Lookup              *Lookup           `yaml:"lookup"`

	SourceFile string `yaml:"-"`
}

// Size returns the configured page size or the default.
func (d *Definition) Size() int {
	if d.PageSize > 0 {
		return d.PageSize
	}
	return paging.DefaultPageSize
}

// CanCreate reports whether the resource exposes a create endpoint and form.
func (d *Definition) CanCreate() bool {
	return d.Endpoints.Create != "" && len(d.Form) > 0
}

// CanUpdate reports whether rows can be edited.
func (d *Definition) CanUpdate() bool {
	return d.Endpoints.Update != "" && len(d.Form) > 0
}

// CanRemove reports whether rows can be deleted one at a time.
func (d *Definition) CanRemove() bool {
	return d.Endpoints.Remove != ""
}

// Selectable reports whether the table shows row checkboxes.
func (d *Definition) Selectable() bool {
	return len(d.BatchActions()) > 0
}

// BatchActions returns the bulk actions, the built-in delete first.
func (d *Definition) BatchActions() []BatchAction {
	out := make([]BatchAction, 0, len(d.Actions)+1)
	if d.Endpoints.DeleteBatch != "" {
		out = append(out, BatchAction{
			Name:    ActionDelete,
			Label:   "Delete",
			Path:    d.Endpoints.Path(d.Endpoints.DeleteBatch),
			Confirm: "Delete the selected records?",
			Success: "Deleted successfully",
			Danger:  true,
		})
	}
	for _, a := range d.Actions {
		a.Path = d.Endpoints.Path(a.Path)
		out = append(out, a)
	}
	return out
}

// Action finds a bulk action by name.
func (d *Definition) Action(name string) (BatchAction, bool) {
	for _, a := range d.BatchActions() {
		if a.Name == name {
			return a, true
		}
	}
	return BatchAction{}, false
}

// Filter finds a search bar input by field.
func (d *Definition) Filter(field string) (Filter, bool) {
	for _, f := range d.Filters {
		if f.Field == field {
			return f, true
		}
	}
	return Filter{}, false
}

// EditConfig returns the create/update dialog configuration.
func (d *Definition) EditConfig() modal.EditConfig {
	return modal.EditConfig{Endpoints: d.Endpoints, Fields: d.Form, Prefill: d.Prefill}
}

// DetailConfig returns the detail dialog configuration.
func (d *Definition) DetailConfig() modal.DetailConfig {
	if d.Detail == nil {
		return modal.DetailConfig{}
	}
	return d.Detail.Config()
}

func (d *Definition) validate(v *validator.Validate) error {
	if !slugPattern.MatchString(d.Name) {
		return fmt.Errorf("resource %q: name must be a lowercase slug", d.Name)
	}
	if d.Endpoints.List == "" {
		return fmt.Errorf("resource %q: endpoints.list is required", d.Name)
	}
	if d.PageSize < 0 {
		return fmt.Errorf("resource %q: page_size must not be negative", d.Name)
	}
	if d.Lookup != nil && d.Endpoints.ListAll == "" {
		return fmt.Errorf("resource %q: lookup requires endpoints.list_all", d.Name)
	}
	if len(d.Columns) == 0 {
		return fmt.Errorf("resource %q: at least one column is required", d.Name)
	}
	for _, f := range d.Filters {
		switch f.Kind {
		case "", FilterText, FilterSelect, FilterBool, FilterNumber, FilterDateRange:
		default:
			return fmt.Errorf("resource %q: filter %q has unknown kind %q", d.Name, f.Field, f.Kind)
		}
		if f.Field == "" {
			return fmt.Errorf("resource %q: filter without field", d.Name)
		}
	}
	seen := map[string]bool{}
	for _, f := range d.Form {
		if f.Name == "" || seen[f.Name] {
			return fmt.Errorf("resource %q: form field names must be unique and non-empty", d.Name)
		}
		seen[f.Name] = true
		if err := f.CheckRules(v); err != nil {
			return fmt.Errorf("resource %q: %w", d.Name, err)
		}
	}
	names := map[string]bool{}
	for _, a := range d.BatchActions() {
		if a.Name == "" || a.Path == "" || names[a.Name] {
			return fmt.Errorf("resource %q: batch actions need a unique name and a path", d.Name)
		}
		names[a.Name] = true
	}
	if d.Status != nil && d.Endpoints.ChangeStatus == "" {
		return fmt.Errorf("resource %q: status requires endpoints.change_status", d.Name)
	}
	return nil
}

// Group is one sidebar section.
type Group struct {
	Name      string
	Resources []*Definition
}

// Catalog is the validated set of list screens.
type Catalog struct {
	defs   []*Definition
	byName map[string]*Definition
}

// NewCatalog validates defs and indexes them by name.
func NewCatalog(defs []*Definition, v *validator.Validate) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if err := d.validate(v); err != nil {
			return nil, err
		}
		if prev, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("resource %q defined twice (%s, %s)", d.Name, prev.SourceFile, d.SourceFile)
		}
		c.byName[d.Name] = d
		c.defs = append(c.defs, d)
	}
	for _, d := range c.defs {
		if err := c.checkReferences(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) checkReferences(d *Definition) error {
	refs := make([]string, 0)
	for _, col := range d.Columns {
		refs = append(refs, col.Lookup)
	}
	for _, f := range d.Filters {
		refs = append(refs, f.Lookup)
	}
	for _, f := range d.Form {
		refs = append(refs, f.Lookup)
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		target, ok := c.byName[ref]
		if !ok || target.Lookup == nil {
			return fmt.Errorf("resource %q: lookup %q is not a lookup resource", d.Name, ref)
		}
	}
	return nil
}

// Get returns the definition named name.
func (c *Catalog) Get(name string) (*Definition, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// All returns every definition in load order.
func (c *Catalog) All() []*Definition {
	return slices.Clone(c.defs)
}

// Lookups returns the definitions usable as select sources.
func (c *Catalog) Lookups() []*Definition {
	var out []*Definition
	for _, d := range c.defs {
		if d.Lookup != nil {
			out = append(out, d)
		}
	}
	return out
}

// Groups returns the sidebar sections sorted by name, resources in load order.
func (c *Catalog) Groups() []Group {
	index := map[string]int{}
	var groups []Group
	for _, d := range c.defs {
		name := d.Group
		if name == "" {
			name = "General"
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, Group{Name: name})
		}
		groups[i].Resources = append(groups[i].Resources, d)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// catalogFile is the layout of one YAML file: a group and its resources.
type catalogFile struct {
	Group     string        `yaml:"group"`
	Resources []*Definition `yaml:"resources"`
}

// LoadDir reads every *.yaml and *.yml file under dir.
func LoadDir(dir string) ([]*Definition, error) {
	var defs []*Definition
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		loaded, err := LoadFile(path)
		if err != nil {
			return err
		}
		defs = append(defs, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning catalog %s: %w", dir, err)
	}
	return defs, nil
}

// LoadFile reads one catalog file.
func LoadFile(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, d := range defs {
		d.SourceFile = path
	}
	return defs, nil
}

// Parse decodes catalog YAML. Resources without a group inherit the file's.
func Parse(data []byte) ([]*Definition, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for _, d := range file.Resources {
		if d.Group == "" {
			d.Group = file.Group
		}
	}
	return file.Resources, nil
}
