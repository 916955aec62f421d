// Package query holds the filter state a list screen sends to the backend.
package query

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the format date range bounds are sent in.
const DateLayout = "2006-01-02 15:04:05"

// DateRange is an inclusive pair of bounds. Either side may be zero.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// Spec maps filter field names to scalar values: string, bool, integer,
// float or DateRange. Empty strings and nil mean "no filter".
type Spec map[string]any

// Set returns a copy of s with field set to v. The receiver is not modified.
func (s Spec) Set(field string, v any) Spec {
	out := make(Spec, len(s)+1)
	maps.Copy(out, s)
	out[field] = v
	return out
}

// Merge returns a copy of s with every field of other applied on top.
func (s Spec) Merge(other Spec) Spec {
	out := make(Spec, len(s)+len(other))
	maps.Copy(out, s)
	maps.Copy(out, other)
	return out
}

// Compact returns a copy without empty values.
func (s Spec) Compact() Spec {
	out := make(Spec, len(s))
	for k, v := range s {
		if !isEmpty(v) {
			out[k] = v
		}
	}
	return out
}

// Get returns the value of field formatted for a form input.
func (s Spec) Get(field string) string {
	switch v := s[field].(type) {
	case nil:
		return ""
	case DateRange:
		return ""
	default:
		return format(v)
	}
}

// Range returns the date range stored under field.
func (s Spec) Range(field string) DateRange {
	r, _ := s[field].(DateRange)
	return r
}

// Equal reports whether both specs carry the same non-empty filters.
func (s Spec) Equal(other Spec) bool {
	a, b := s.Compact(), other.Compact()
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || format(v) != format(w) {
			return false
		}
		if ra, ok := v.(DateRange); ok {
			rb, _ := w.(DateRange)
			if !ra.Start.Equal(rb.Start) || !ra.End.Equal(rb.End) {
				return false
			}
		}
	}
	return true
}

// Fields returns the non-empty field names in sorted order.
func (s Spec) Fields() []string {
	return slices.Sorted(maps.Keys(s.Compact()))
}

// Values encodes the non-empty filters as query parameters. A date range
// under field f is sent as fStart and fEnd, omitting zero bounds.
func (s Spec) Values() url.Values {
	vals := url.Values{}
	s.AppendTo(vals)
	return vals
}

// AppendTo writes the non-empty filters into vals, overwriting same-named keys.
func (s Spec) AppendTo(vals url.Values) {
	for k, v := range s.Compact() {
		if r, ok := v.(DateRange); ok {
			if !r.Start.IsZero() {
				vals.Set(k+"Start", r.Start.Format(DateLayout))
			}
			if !r.End.IsZero() {
				vals.Set(k+"End", r.End.Format(DateLayout))
			}
			continue
		}
		vals.Set(k, format(v))
	}
}

// Body returns the non-empty filters as a JSON-ready map, with date ranges
// flattened the same way Values does.
func (s Spec) Body() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s.Compact() {
		if r, ok := v.(DateRange); ok {
			if !r.Start.IsZero() {
				out[k+"Start"] = r.Start.Format(DateLayout)
			}
			if !r.End.IsZero() {
				out[k+"End"] = r.End.Format(DateLayout)
			}
			continue
		}
		out[k] = v
	}
	return out
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case DateRange:
		return t.IsZero()
	case *string:
		return t == nil || *t == ""
	case []string:
		return len(t) == 0
	}
	return false
}

// format renders a scalar filter value. Slices are sent comma separated and
// types without a dedicated case fall back to their default formatting.
func format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []string:
		return strings.Join(t, ",")
	case time.Time:
		return t.Format(DateLayout)
	case DateRange:
		return t.Start.Format(DateLayout) + "~" + t.End.Format(DateLayout)
	}
	return fmt.Sprint(v)
}

// ParseRange builds a DateRange from form inputs. Each side accepts a date
// (2006-01-02), a datetime-local value (2006-01-02T15:04) or DateLayout.
// A date-only end extends to the last second of that day.
func ParseRange(start, end string) (DateRange, error) {
	var r DateRange
	var err error
	if start != "" {
		if r.Start, _, err = parseTime(start); err != nil {
			return DateRange{}, err
		}
	}
	if end != "" {
		var dateOnly bool
		if r.End, dateOnly, err = parseTime(end); err != nil {
			return DateRange{}, err
		}
		if dateOnly {
			r.End = r.End.Add(24*time.Hour - time.Second)
		}
	}
	return r, nil
}

func parseTime(raw string) (time.Time, bool, error) {
	if t, err := time.ParseInLocation(time.DateOnly, raw, time.Local); err == nil {
		return t, true, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", raw, time.Local); err == nil {
		return t, false, nil
	}
	t, err := time.ParseInLocation(DateLayout, raw, time.Local)
	return t, false, err
}
