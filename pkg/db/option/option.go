package option

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gigworks-controlplane/pkg/db/pagination"
)

// QueryOption mutates a gorm query before execution. Options are composed by
// the repository layer via Apply.
type QueryOption func(*gorm.DB) *gorm.DB

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	// Allow whitelists sortable columns; anything outside it is ignored.
	Allow map[string]bool
}

type Operator string

const (
	EQ  Operator = "="
	NE  Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		db = opt(db)
	}
	return db
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			return db
		}

		order := "ASC"
		if strings.EqualFold(sort.OrderBy, "desc") {
			order = "DESC"
		}

		return db.Order(column + " " + order)
	}
}

func ApplyOperator(cond Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(cond.Field+" "+string(cond.Operator)+" ?", cond.Value)
	}
}

func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		// fetch one extra row so the caller can detect has_more
		return db.Limit(limit + 1)
	}
}

func WithLimit(limit int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit)
	}
}

// WithLockingUpdate adds SELECT ... FOR UPDATE. Skipped on sqlite, which has a
// single writer and no row-lock syntax.
func WithLockingUpdate() QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return LockingUpdate(db)
	}
}

// LockingUpdate is the scope form of WithLockingUpdate, usable with tx.Scopes.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
