package pkg

import (
	"context"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/simp-lee/pagination"
	"gorm.io/gorm"

	"github.com/productx/backoffice/internal/domain"
)

// PageQuery describes how a locally stored listing reads its query string.
type PageQuery struct {
	DefaultSize int
	MaxSize     int
	DefaultSort string
	// Filters lists the query keys accepted as filters. A key may also be
	// sent with the "__like" suffix for a substring match.
	Filters []string
}

// DefaultPageQuery is used by listings that do not declare their own.
var DefaultPageQuery = PageQuery{DefaultSize: 20, MaxSize: 100, DefaultSort: "id:desc"}

const likeSuffix = "__like"

var validFieldName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParsePageRequest reads page, page_size, sort and the declared filters from
// the query string. Filters with empty values are dropped.
func ParsePageRequest(c *gin.Context, q PageQuery) domain.PageRequest {
	if q.DefaultSize <= 0 {
		q.DefaultSize = DefaultPageQuery.DefaultSize
	}
	if q.MaxSize <= 0 {
		q.MaxSize = DefaultPageQuery.MaxSize
	}

	req := domain.PageRequest{
		Page:     positiveOr(c.Query("page"), 1),
		PageSize: min(positiveOr(c.Query("page_size"), q.DefaultSize), q.MaxSize),
		Sort:     c.DefaultQuery("sort", q.DefaultSort),
		Filter:   map[string]string{},
	}

	for key, values := range c.Request.URL.Query() {
		if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
			continue
		}
		if slices.Contains(q.Filters, strings.TrimSuffix(key, likeSuffix)) {
			req.Filter[key] = strings.TrimSpace(values[0])
		}
	}
	return req
}

func positiveOr(raw string, fallback int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// Sort returns a GORM scope ordering by "field:asc|desc". Fields outside
// allowed, or not shaped like an identifier, are ignored.
func Sort(req domain.PageRequest, allowed []string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		field, direction, ok := strings.Cut(req.Sort, ":")
		if !ok {
			return db
		}
		field = strings.TrimSpace(field)
		direction = strings.ToLower(strings.TrimSpace(direction))
		if direction != "asc" && direction != "desc" {
			return db
		}
		if !isAllowed(field, allowed) {
			return db
		}
		return db.Order(field + " " + direction)
	}
}

// Filter returns a GORM scope with one WHERE condition per allowed filter.
// Keys ending in "__like" match substrings; other keys match exactly.
func Filter(req domain.PageRequest, allowed []string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		keys := make([]string, 0, len(req.Filter))
		for k := range req.Filter {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		for _, key := range keys {
			value := req.Filter[key]
			if field, like := strings.CutSuffix(key, likeSuffix); like {
				if isAllowed(field, allowed) {
					db = db.Where(field+" LIKE ?", "%"+value+"%")
				}
				continue
			}
			if isAllowed(key, allowed) {
				db = db.Where(key+" = ?", value)
			}
		}
		return db
	}
}

// pagesInRange is how many page links a local listing shows at once.
const pagesInRange = 5

// FindPage counts query and reads the requested page of it. order applies to
// the page read only. A page past the end reads the last page; an empty
// result has zero pages.
func FindPage[T any](ctx context.Context, query *gorm.DB, req domain.PageRequest, order func(*gorm.DB) *gorm.DB) (*domain.PageResult[T], error) {
	query = query.Session(&gorm.Session{})
	paginator := pagination.NewPaginator[T](
		pagination.WithItemsPerPage[T](req.PageSize),
		pagination.WithPagesInRange[T](pagesInRange),
		pagination.WithItemTotalCallback[T](func(ctx context.Context) (int64, error) {
			var total int64
			err := query.WithContext(ctx).Count(&total).Error
			return total, err
		}),
		pagination.WithSliceCallback[T](func(ctx context.Context, offset, limit int) ([]T, error) {
			var items []T
			tx := query.WithContext(ctx)
			if order != nil {
				tx = tx.Scopes(order)
			}
			err := tx.Offset(offset).Limit(limit).Find(&items).Error
			return items, err
		}),
	)

	page, err := paginator.Paginate(ctx, max(req.Page, 1))
	if err != nil {
		return nil, err
	}

	result := &domain.PageResult[T]{
		Items:      page.Items,
		Total:      page.TotalItems,
		Page:       page.CurrentPage,
		PageSize:   page.ItemsPerPage,
		TotalPages: page.TotalPages,
		Pages:      page.Pages,
	}
	if page.TotalItems == 0 {
		result.TotalPages = 0
		result.Pages = []int{}
	}
	return result, nil
}

func isAllowed(field string, allowed []string) bool {
	return validFieldName.MatchString(field) && slices.Contains(allowed, field)
}
