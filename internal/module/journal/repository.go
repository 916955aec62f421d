package journal

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/productx/backoffice/internal/domain"
	"github.com/productx/backoffice/internal/pkg"
)

// Allowed fields for sorting and filtering in List queries.
var (
	allowedSortFields   = []string{"id", "created_at", "resource", "action"}
	allowedFilterFields = []string{"resource", "action", "outcome", "request_id"}
)

// journalRepository implements domain.JournalRepository using GORM.
type journalRepository struct {
	db *gorm.DB
}

// NewJournalRepository creates a JournalRepository backed by the given GORM database.
func NewJournalRepository(db *gorm.DB) domain.JournalRepository {
	return &journalRepository{db: db}
}

// Create appends an entry.
func (r *journalRepository) Create(ctx context.Context, entry *domain.JournalEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return mapError(err)
	}
	return nil
}

// List returns a paginated, sorted, and filtered list of entries.
func (r *journalRepository) List(ctx context.Context, req domain.PageRequest) (*domain.PageResult[domain.JournalEntry], error) {
	query := r.db.WithContext(ctx).Model(&domain.JournalEntry{}).
		Scopes(pkg.Filter(req, allowedFilterFields))

	page, err := pkg.FindPage[domain.JournalEntry](ctx, query, req, pkg.Sort(req, allowedSortFields))
	if err != nil {
		return nil, mapError(err)
	}
	return page, nil
}

// mapError converts GORM errors to domain errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return domain.NewAppError(domain.CodeInternal, "database error", err)
}
