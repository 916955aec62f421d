package modal

import (
	"context"
	"fmt"

	"github.com/productx/backoffice/internal/domain"
)

// Detail kinds.
const (
	DetailRecord      = "record"
	DetailPermissions = "permissions"
	DetailMap         = "map"
	DetailExtended    = "extended"
)

// DetailConfig describes a read-only detail dialog.
type DetailConfig struct {
	Kind       string      `yaml:"kind"`
	Supplement *Supplement `yaml:"supplement"`
}

// DetailModal shows one record, optionally enriched by a supplementary fetch.
type DetailModal struct {
	cfg     DetailConfig
	fetcher Fetcher
	visible bool
	record  domain.Record
	extra   any
}

// NewDetailModal creates a closed detail dialog.
func NewDetailModal(cfg DetailConfig, fetcher Fetcher) *DetailModal {
	if cfg.Kind == "" {
		cfg.Kind = DetailRecord
	}
	return &DetailModal{cfg: cfg, fetcher: fetcher}
}

// Open shows rec. With a supplement configured, the extra payload is
// fetched by id first; for the extended kind an object payload is merged
// over the row.
func (d *DetailModal) Open(ctx context.Context, rec domain.Record) error {
	d.record = rec.Clone()
	d.extra = nil

	if s := d.cfg.Supplement; s != nil && s.Path != "" && d.fetcher != nil {
		id, ok := rec.ID()
		if !ok {
			return domain.NewAppError(domain.CodeValidation, "record has no id", nil)
		}
		data, err := s.fetch(ctx, d.fetcher, id)
		if err != nil {
			return fmt.Errorf("load detail %s for record %d: %w", s.Path, id, err)
		}
		d.extra = data
		if obj, ok := data.(map[string]any); ok && d.cfg.Kind == DetailExtended {
			for k, v := range obj {
				d.record[k] = v
			}
		}
	}
	d.visible = true
	return nil
}

// Close hides the dialog.
func (d *DetailModal) Close() {
	d.visible = false
	d.record = nil
	d.extra = nil
}

// Visible reports whether the dialog is open.
func (d *DetailModal) Visible() bool { return d.visible }

// Kind returns the detail kind.
func (d *DetailModal) Kind() string { return d.cfg.Kind }

// Record returns the displayed record.
func (d *DetailModal) Record() domain.Record { return d.record }

// Extra returns the raw supplementary payload.
func (d *DetailModal) Extra() any { return d.extra }

// ExtraRecords interprets the supplementary payload as a list of records.
func (d *DetailModal) ExtraRecords() []domain.Record {
	items, _ := d.extra.([]any)
	out := make([]domain.Record, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Coordinates returns the latitude and longitude of the record for the map kind.
func (d *DetailModal) Coordinates() (lat, lng float64, ok bool) {
	lat, okLat := toFloat(d.record["latitude"])
	lng, okLng := toFloat(d.record["longitude"])
	return lat, lng, okLat && okLng
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case string:
		var f float64
		_, err := fmt.Sscanf(t, "%g", &f)
		return f, err == nil
	}
	return 0, false
}
