// Package modal implements the create, update and detail dialogs of a list
// screen: field binding, client-side validation and submission.
package modal

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/pkg"
)

// Field kinds.
const (
	KindText     = "text"
	KindTextarea = "textarea"
	KindNumber   = "number"
	KindSelect   = "select"
	KindBool     = "bool"
	KindImage    = "image"
	KindEmail    = "email"
	KindPassword = "password"
	KindDate     = "date"
)

// Mode says whether a form creates or updates a record.
type Mode int

const (
	ModeCreate Mode = iota
	ModeUpdate
)

func (m Mode) String() string {
	if m == ModeUpdate {
		return "update"
	}
	return "create"
}

// Option is one choice of a select.
type Option struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// Field declares one form input.
type Field struct {
	Name  string `yaml:"name"`
	Label string `yaml:"label"`
	Kind  string `yaml:"kind"`
	// Rules are validator tags, for example "required,max=64".
	Rules string `yaml:"rules"`
	// Pattern is an optional regular expression non-empty text must match.
	Pattern     string   `yaml:"pattern"`
	Options     []Option `yaml:"options"`
	Lookup      string   `yaml:"lookup"`
	Placeholder string   `yaml:"placeholder"`
	// CreateOnly fields are hidden and not sent on update.
	CreateOnly bool `yaml:"create_only"`
	// Immutable fields are shown read-only on update and not sent.
	Immutable bool `yaml:"immutable"`
	// UploadDir names the object prefix for image fields.
	UploadDir string `yaml:"upload_dir"`
}

// Editable reports whether the field accepts input in mode.
func (f Field) Editable(mode Mode) bool {
	return mode == ModeCreate || (!f.CreateOnly && !f.Immutable)
}

// Visible reports whether the field is rendered in mode.
func (f Field) Visible(mode Mode) bool {
	return mode == ModeCreate || !f.CreateOnly
}

// Required reports whether the rules make the field mandatory.
func (f Field) Required() bool {
	for _, tag := range strings.Split(f.Rules, ",") {
		if strings.TrimSpace(tag) == "required" {
			return true
		}
	}
	return false
}

// CheckRules reports malformed rules or patterns, which validator would
// otherwise only surface as a panic at submit time.
func (f Field) CheckRules(v *validator.Validate) (err error) {
	if f.Pattern != "" {
		if _, cerr := regexp.Compile(f.Pattern); cerr != nil {
			return fmt.Errorf("field %q: invalid pattern: %w", f.Name, cerr)
		}
	}
	if f.Rules == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("field %q: invalid rules %q: %v", f.Name, f.Rules, r)
		}
	}()
	_ = v.Var(zeroValue(f.Kind), f.Rules)
	return nil
}

// ErrInvalid is returned by Submit when client-side validation fails.
var ErrInvalid = errors.New("form has invalid fields")

// Form holds the values and validation errors of one dialog.
type Form struct {
	fields   []Field
	values   map[string]any
	errors   map[string]string
	validate *validator.Validate
	patterns map[string]*regexp.Regexp
}

// NewForm creates an empty form over fields.
func NewForm(fields []Field, v *validator.Validate) *Form {
	f := &Form{
		fields:   fields,
		values:   map[string]any{},
		errors:   map[string]string{},
		validate: v,
		patterns: map[string]*regexp.Regexp{},
	}
	for _, field := range fields {
		if field.Pattern != "" {
			if re, err := regexp.Compile(field.Pattern); err == nil {
				f.patterns[field.Name] = re
			}
		}
	}
	return f
}

// Fields returns the fields rendered in mode.
func (f *Form) Fields(mode Mode) []Field {
	out := make([]Field, 0, len(f.fields))
	for _, field := range f.fields {
		if field.Visible(mode) {
			out = append(out, field)
		}
	}
	return out
}

// Set stores a raw input value converted according to the field kind.
// Numbers that do not parse are kept as text so validation can report them.
func (f *Form) Set(name, raw string) {
	field, ok := f.field(name)
	if !ok {
		return
	}
	f.values[name] = convert(field.Kind, raw)
}

// Bind sets every declared field from submitted form values. Unchecked
// boxes are absent from a submission and bind as false.
func (f *Form) Bind(values url.Values) {
	for _, field := range f.fields {
		raw, present := values[field.Name]
		switch {
		case field.Kind == KindBool:
			f.values[field.Name] = present && isTruthy(raw[len(raw)-1])
		case present:
			f.Set(field.Name, strings.TrimSpace(raw[0]))
		}
	}
}

// Populate copies the record's values for every declared field.
func (f *Form) Populate(rec domain.Record) {
	for _, field := range f.fields {
		if v, ok := rec[field.Name]; ok && v != nil {
			f.values[field.Name] = v
		}
	}
}

// Value returns the stored value of a field.
func (f *Form) Value(name string) any {
	return f.values[name]
}

// Display returns the value formatted for an input element.
func (f *Form) Display(name string) string {
	return domain.Record(f.values).String(name)
}

// Checked reports whether a boolean field is on.
func (f *Form) Checked(name string) bool {
	switch v := f.values[name].(type) {
	case bool:
		return v
	case string:
		return isTruthy(v)
	}
	n, ok := domain.ToInt64(f.values[name])
	return ok && n != 0
}

// Validate checks every editable field in mode and records one message per
// failing field.
func (f *Form) Validate(mode Mode) bool {
	clear(f.errors)
	for _, field := range f.fields {
		if !field.Editable(mode) {
			continue
		}
		if msg := f.check(field); msg != "" {
			f.errors[field.Name] = msg
		}
	}
	return len(f.errors) == 0
}

func (f *Form) check(field Field) string {
	value, present := f.values[field.Name]
	if !present || value == nil {
		value = zeroValue(field.Kind)
	}

	if field.Kind == KindNumber {
		if s, isText := value.(string); isText && s != "" {
			return pkg.FieldMessage("numeric", "")
		}
	}
	if field.Rules != "" {
		if err := f.validate.Var(value, field.Rules); err != nil {
			var ve validator.ValidationErrors
			if errors.As(err, &ve) && len(ve) > 0 {
				return pkg.FieldMessage(ve[0].Tag(), ve[0].Param())
			}
			return err.Error()
		}
	}
	if re, ok := f.patterns[field.Name]; ok {
		if s, isText := value.(string); isText && s != "" && !re.MatchString(s) {
			return pkg.FieldMessage("pattern", "")
		}
	}
	return ""
}

// Errors returns the field errors of the last validation.
func (f *Form) Errors() map[string]string {
	return f.errors
}

// Error returns the validation message of one field.
func (f *Form) Error(name string) string {
	return f.errors[name]
}

// Body returns the values to submit in mode. Empty passwords are left out
// on update so the stored one is kept.
func (f *Form) Body(mode Mode) map[string]any {
	body := make(map[string]any, len(f.fields))
	for _, field := range f.fields {
		if !field.Editable(mode) {
			continue
		}
		v, ok := f.values[field.Name]
		if !ok {
			continue
		}
		if field.Kind == KindPassword && mode == ModeUpdate && v == "" {
			continue
		}
		body[field.Name] = v
	}
	return body
}

// Reset clears values and errors.
func (f *Form) Reset() {
	clear(f.values)
	clear(f.errors)
}

func (f *Form) field(name string) (Field, bool) {
	for _, field := range f.fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

func convert(kind, raw string) any {
	switch kind {
	case KindNumber:
		if raw == "" {
			return nil
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		if x, err := strconv.ParseFloat(raw, 64); err == nil {
			return x
		}
		return raw
	case KindBool:
		return isTruthy(raw)
	}
	return raw
}

func zeroValue(kind string) any {
	switch kind {
	case KindNumber:
		return int64(0)
	case KindBool:
		return false
	}
	return ""
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
