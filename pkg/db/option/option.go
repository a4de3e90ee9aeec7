package option

import (
	"time"

	"creatorloyalty/pkg/db/pagination"

	"gorm.io/gorm"
)

// QueryOption mutates a gorm query before execution. Options compose:
// repositories apply them in order on top of the struct query.
type QueryOption func(tx *gorm.DB) *gorm.DB

type QuerySortBy struct {
	Column  string
	OrderBy string // "ASC" | "DESC"
}

// WithTenant scopes a query to one tenant. Every repository read and
// every conditional update must carry it; a missing tenant predicate is
// a bug, not a default.
func WithTenant(tenantID string) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("tenant_id = ?", tenantID)
	}
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		col := sort.Column
		if col == "" {
			col = "created_at"
		}
		order := sort.OrderBy
		if order != "ASC" && order != "DESC" {
			order = "ASC"
		}
		return tx.Order(col + " " + order)
	}
}

func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		if limit > 250 {
			limit = 250
		}

		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil && cursor.CreatedAt != "" {
				if ts, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err == nil {
					tx = tx.Where("created_at < ?", ts)
				}
			}
		}

		return tx.Limit(limit)
	}
}
