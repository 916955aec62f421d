package backend

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/productx/backoffice/internal/domain"
)

// Envelope is a decoded backend response body:
//
//	{"code": 200, "msg": "ok", "data": ..., "totalNum": 95}
//
// Both "msg" and "message", and both "code" and "success", occur in the wild.
type Envelope struct {
	Body map[string]any
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Envelope{Body: map[string]any{}}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Envelope{Body: map[string]any{}}, err
	}
	body, ok := v.(map[string]any)
	if !ok {
		// A bare value is treated as the payload itself.
		body = map[string]any{"data": v}
	}
	return Envelope{Body: body}, nil
}

// Data returns the "data" member.
func (e Envelope) Data() any {
	return e.Path("data")
}

// Path resolves a dot separated path such as "data.records". An empty path
// returns the whole body.
func (e Envelope) Path(path string) any {
	if path == "" {
		return e.Body
	}
	var cur any = e.Body
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// Records interprets the value at path as a list of records. Anything that
// is not a list yields an empty slice.
func (e Envelope) Records(path string) []domain.Record {
	items, _ := e.Path(path).([]any)
	out := make([]domain.Record, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, normalize(m))
		}
	}
	return out
}

// Record interprets the value at path as a single record.
func (e Envelope) Record(path string) (domain.Record, bool) {
	m, ok := e.Path(path).(map[string]any)
	if !ok {
		return nil, false
	}
	return normalize(m), true
}

// Int returns the integer at path, or 0.
func (e Envelope) Int(path string) int64 {
	n, _ := domain.ToInt64(e.Path(path))
	return n
}

func (e Envelope) succeeded(codes []int64) bool {
	if ok, present := e.Body["success"].(bool); present && !ok {
		return false
	}
	raw, present := e.Body["code"]
	if !present || raw == nil {
		return true
	}
	code, ok := domain.ToInt64(raw)
	if !ok {
		return true
	}
	return slices.Contains(codes, code)
}

func (e Envelope) message(fallback string) string {
	for _, key := range []string{"msg", "message", "error"} {
		if s, ok := e.Body[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return fallback
}

// normalize converts json.Number leaves into int64 when integral, which
// keeps large ids exact, and float64 otherwise.
func normalize(m map[string]any) domain.Record {
	out := make(domain.Record, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalizeValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = normalizeValue(vv)
		}
		return out
	}
	return v
}
