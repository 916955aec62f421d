package modal

import (
	"context"
	"testing"

	"github.com/productx/backoffice/internal/domain"
)

func TestDetailModal_PlainRecord(t *testing.T) {
	d := NewDetailModal(DetailConfig{}, nil)
	rec := domain.Record{"id": int64(1), "name": "Paris"}
	if err := d.Open(context.Background(), rec); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !d.Visible() || d.Kind() != DetailRecord {
		t.Errorf("visible/kind = %v/%s", d.Visible(), d.Kind())
	}
	rec["name"] = "changed"
	if d.Record().String("name") != "Paris" {
		t.Error("detail should hold a copy of the row")
	}
	d.Close()
	if d.Visible() || d.Record() != nil {
		t.Error("Close should clear the dialog")
	}
}

func TestDetailModal_ExtendedMergesSupplement(t *testing.T) {
	f := &fakeFetcher{data: map[string]any{"population": int64(2100000)}}
	d := NewDetailModal(DetailConfig{Kind: DetailExtended, Supplement: &Supplement{Path: "/city/info", IDParam: "cityId"}}, f)

	if err := d.Open(context.Background(), domain.Record{"id": int64(4), "name": "Paris"}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if f.params[0].Get("cityId") != "4" {
		t.Errorf("params = %v", f.params[0])
	}
	if d.Record().String("population") != "2100000" || d.Record().String("name") != "Paris" {
		t.Errorf("record = %v", d.Record())
	}
}

func TestDetailModal_PermissionsSupplement(t *testing.T) {
	f := &fakeFetcher{data: []any{
		map[string]any{"id": int64(1), "name": "menu"},
		"skip",
		map[string]any{"id": int64(2), "name": "button"},
	}}
	d := NewDetailModal(DetailConfig{Kind: DetailPermissions, Supplement: &Supplement{Path: "/role/permissions"}}, f)

	if err := d.Open(context.Background(), domain.Record{"id": int64(7)}); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := len(d.ExtraRecords()); got != 2 {
		t.Errorf("ExtraRecords = %d, want 2", got)
	}
}

func TestDetailModal_SupplementError(t *testing.T) {
	f := &fakeFetcher{err: domain.ErrUnavailable}
	d := NewDetailModal(DetailConfig{Supplement: &Supplement{Path: "/x"}}, f)
	if err := d.Open(context.Background(), domain.Record{"id": int64(1)}); !domain.IsUnavailable(err) {
		t.Errorf("error = %v, want unavailable", err)
	}
	if d.Visible() {
		t.Error("dialog should stay closed")
	}
}

func TestDetailModal_Coordinates(t *testing.T) {
	d := NewDetailModal(DetailConfig{Kind: DetailMap}, nil)
	_ = d.Open(context.Background(), domain.Record{"latitude": 48.85, "longitude": "2.35"})
	lat, lng, ok := d.Coordinates()
	if !ok || lat != 48.85 || lng != 2.35 {
		t.Errorf("Coordinates = %v %v %v", lat, lng, ok)
	}

	_ = d.Open(context.Background(), domain.Record{"latitude": 1.0})
	if _, _, ok := d.Coordinates(); ok {
		t.Error("missing longitude should not resolve")
	}
}
