package rules

import (
	"strings"
	"time"

	"crm-backend/internal/models"
)

// Customer columns a filter can constrain.
const (
	ColumnTotalSpending = "total_spending"
	ColumnVisitCount    = "visit_count"
	ColumnLastVisit     = "last_visit"
	ColumnEmail         = "email"
)

// Combinator joins the clauses of a filter.
type Combinator string

const (
	CombineAnd Combinator = "AND"
	CombineOr  Combinator = "OR"
)

// Comparison is the relation a clause checks between a column and its value.
type Comparison int

const (
	CmpGreater Comparison = iota
	CmpLess
	CmpGreaterEqual
	CmpLessEqual
	CmpContains
)

// Clause is one compiled constraint. Value is a float64, a string, or a
// time.Time depending on the column.
type Clause struct {
	Column string
	Cmp    Comparison
	Value  any
}

// Filter is a flat predicate over customer records.
// An empty AND matches every record; an empty OR matches none.
type Filter struct {
	Combinator Combinator
	Clauses    []Clause
}

// SQL renders the filter as a parenthesised WHERE fragment with ? placeholders.
func (f Filter) SQL() (string, []any) {
	if len(f.Clauses) == 0 {
		if f.Combinator == CombineOr {
			return "(1=0)", nil
		}
		return "(1=1)", nil
	}

	parts := make([]string, 0, len(f.Clauses))
	args := make([]any, 0, len(f.Clauses))
	for _, c := range f.Clauses {
		part := c.Column + " " + c.Cmp.sqlOperator() + " ?"
		if c.Cmp == CmpContains {
			part += ` ESCAPE '\'`
		}
		parts = append(parts, part)
		args = append(args, c.sqlArg())
	}

	return "(" + strings.Join(parts, " "+string(f.Combinator)+" ") + ")", args
}

// Match evaluates the filter against a customer in memory.
func (f Filter) Match(c models.Customer) bool {
	if f.Combinator == CombineOr {
		for _, clause := range f.Clauses {
			if clause.Match(c) {
				return true
			}
		}
		return false
	}

	for _, clause := range f.Clauses {
		if !clause.Match(c) {
			return false
		}
	}
	return true
}

// Match reports whether a single clause holds for the customer.
func (c Clause) Match(customer models.Customer) bool {
	switch c.Column {
	case ColumnTotalSpending:
		v, _ := c.Value.(float64)
		return compareFloat(customer.TotalSpending, c.Cmp, v)
	case ColumnVisitCount:
		v, _ := c.Value.(float64)
		return compareFloat(float64(customer.VisitCount), c.Cmp, v)
	case ColumnLastVisit:
		cutoff, ok := c.Value.(time.Time)
		if !ok || customer.LastVisit == nil {
			return false
		}
		switch c.Cmp {
		case CmpLess:
			return customer.LastVisit.Before(cutoff)
		case CmpGreater:
			return customer.LastVisit.After(cutoff)
		}
		return false
	case ColumnEmail:
		v, _ := c.Value.(string)
		return c.Cmp == CmpContains && strings.Contains(customer.Email, v)
	}
	return false
}

func (c Clause) sqlArg() any {
	switch v := c.Value.(type) {
	case time.Time:
		// last_visit is stored as RFC3339 UTC text, so text order is time order
		return v.UTC().Format(time.RFC3339)
	case string:
		if c.Cmp == CmpContains {
			return "%" + likeEscaper.Replace(v) + "%"
		}
		return v
	default:
		return v
	}
}

// likeEscaper makes LIKE wildcards in a contains value match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (cmp Comparison) sqlOperator() string {
	switch cmp {
	case CmpGreater:
		return ">"
	case CmpLess:
		return "<"
	case CmpGreaterEqual:
		return ">="
	case CmpLessEqual:
		return "<="
	case CmpContains:
		return "LIKE"
	}
	return "="
}

func compareFloat(a float64, cmp Comparison, b float64) bool {
	switch cmp {
	case CmpGreater:
		return a > b
	case CmpLess:
		return a < b
	case CmpGreaterEqual:
		return a >= b
	case CmpLessEqual:
		return a <= b
	}
	return false
}
