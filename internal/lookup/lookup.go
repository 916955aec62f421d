// Package lookup serves the option lists of selects and the id to label
// maps of table columns from list-all endpoints, cached with a TTL.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/productx/backoffice/internal/backend"
	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/modal"
	"github.com/productx/backoffice/internal/resource"
)

const keyPrefix = "backoffice:lookup:"

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = 10 * time.Minute

// Source fetches a resource's unpaginated collection.
type Source interface {
	ListAll(ctx context.Context, ep backend.Endpoints) ([]domain.Record, error)
}

// Service resolves lookups for the resources the catalog marks as lookups.
type Service struct {
	catalog *resource.Catalog
	source  Source
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(catalog *resource.Catalog, source Source, store Store, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: catalog, source: source, store: store, ttl: ttl, logger: logger}
}

// Options returns the options of lookup name, from cache when possible. A
// cache read failure falls through to the backend.
func (s *Service) Options(ctx context.Context, name string) ([]modal.Option, error) {
	if _, err := s.definition(name); err != nil {
		return nil, err
	}
	raw, ok, err := s.store.Get(ctx, cacheKey(name))
	if err != nil {
		s.logger.WarnContext(ctx, "lookup cache read failed", "lookup", name, "error", err)
	}
	if ok {
		var opts []modal.Option
		if err := json.Unmarshal(raw, &opts); err == nil {
			return opts, nil
		}
		s.logger.WarnContext(ctx, "lookup cache entry corrupt", "lookup", name)
	}
	return s.Refresh(ctx, name)
}

// Labels maps option values to labels for lookup name.
func (s *Service) Labels(ctx context.Context, name string) (map[string]string, error) {
	opts, err := s.Options(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(opts))
	for _, o := range opts {
		out[o.Value] = o.Label
	}
	return out, nil
}

// Refresh fetches lookup name from the backend and replaces the cached copy.
func (s *Service) Refresh(ctx context.Context, name string) ([]modal.Option, error) {
	def, err := s.definition(name)
	if err != nil {
		return nil, err
	}
	records, err := s.source.ListAll(ctx, def.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("load lookup %s: %w", name, err)
	}

	labelField, valueField := def.Lookup.LabelField, def.Lookup.ValueField
	if labelField == "" {
		labelField = "name"
	}
	if valueField == "" {
		valueField = domain.IDField
	}
	opts := make([]modal.Option, 0, len(records))
	for _, r := range records {
		opts = append(opts, modal.Option{Label: r.String(labelField), Value: r.String(valueField)})
	}

	raw, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode lookup %s: %w", name, err)
	}
	if err := s.store.Set(ctx, cacheKey(name), raw, s.ttl); err != nil {
		s.logger.WarnContext(ctx, "lookup cache write failed", "lookup", name, "error", err)
	}
	return opts, nil
}

// Invalidate drops the cached copy of lookup name. Names that are not
// lookups are ignored.
func (s *Service) Invalidate(ctx context.Context, name string) error {
	def, ok := s.catalog.Get(name)
	if !ok || def.Lookup == nil {
		return nil
	}
	return s.store.Delete(ctx, cacheKey(name))
}

// RefreshAll refreshes every lookup and joins the failures.
func (s *Service) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, def := range s.catalog.Lookups() {
		if _, err := s.Refresh(ctx, def.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) definition(name string) (*resource.Definition, error) {
	def, ok := s.catalog.Get(name)
	if !ok || def.Lookup == nil {
		return nil, domain.NewAppError(domain.CodeNotFound, fmt.Sprintf("lookup %q not found", name), nil)
	}
	return def, nil
}

func cacheKey(name string) string {
	return keyPrefix + name
}
