package option

import (
	"strings"

	"ristosmart-license/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it is executed by the repository.
type QueryOption func(*gorm.DB) *gorm.DB

func Apply(db *gorm.DB, opts ...QueryOption) *gorm.DB {
	for _, opt := range opts {
		if opt != nil {
			db = opt(db)
		}
	}
	return db
}

// ApplyPagination limits the result to p.Limit+1 rows (the extra row tells
// the caller whether another page exists) and, when a cursor is given,
// continues after the row it points at. Rows are ordered by id descending.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		if limit > 250 {
			limit = 250
		}

		if p.Cursor != "" {
			if c, err := pagination.DecodeCursor(p.Cursor); err == nil && c.ID != "" {
				db = db.Where(clause.Lt{Column: clause.Column{Name: "id"}, Value: c.ID})
			}
		}

		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true}).Limit(limit + 1)
	}
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithSortBy orders by SortBy when it is in Allow (or id when it is not).
func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := "id"
		if s.SortBy != "" && s.Allow[s.SortBy] {
			column = s.SortBy
		}
		desc := strings.EqualFold(s.OrderBy, "desc")
		return db.Order(clause.OrderByColumn{Column: clause.Column{Name: column}, Desc: desc})
	}
}

type Operator string

const (
	EQ      Operator = "="
	NEQ     Operator = "<>"
	GT      Operator = ">"
	GTE     Operator = ">="
	LT      Operator = "<"
	LTE     Operator = "<="
	IN      Operator = "IN"
	NotIN   Operator = "NOT IN"
	IsNull  Operator = "IS NULL"
	NotNull Operator = "IS NOT NULL"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(conds ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conds {
			col := clause.Column{Name: c.Field}
			switch c.Operator {
			case EQ:
				db = db.Where(clause.Eq{Column: col, Value: c.Value})
			case NEQ:
				db = db.Where(clause.Neq{Column: col, Value: c.Value})
			case GT:
				db = db.Where(clause.Gt{Column: col, Value: c.Value})
			case GTE:
				db = db.Where(clause.Gte{Column: col, Value: c.Value})
			case LT:
				db = db.Where(clause.Lt{Column: col, Value: c.Value})
			case LTE:
				db = db.Where(clause.Lte{Column: col, Value: c.Value})
			case IN:
				db = db.Where(clause.IN{Column: col, Values: toValues(c.Value)})
			case NotIN:
				db = db.Where(clause.Not(clause.IN{Column: col, Values: toValues(c.Value)}))
			case IsNull:
				db = db.Where(clause.Eq{Column: col, Value: nil})
			case NotNull:
				db = db.Where(clause.Neq{Column: col, Value: nil})
			}
		}
		return db
	}
}

func toValues(v any) []any {
	switch vv := v.(type) {
	case []any:
		return vv
	case []string:
		out := make([]any, 0, len(vv))
		for _, s := range vv {
			out = append(out, s)
		}
		return out
	default:
		return []any{v}
	}
}

// WithLockingUpdate adds SELECT ... FOR UPDATE. Drivers without row locks
// (sqlite) drop the clause.
func WithLockingUpdate() QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
}
