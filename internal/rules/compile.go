package rules

import (
	"strconv"
	"strings"
	"time"

	"crm-backend/internal/models"
)

/*
 * Rule compilation.
 *
 * Translates a RuleDocument into a Filter over customer records. Compilation
 * never fails: conditions with an unknown field, an unsupported operator, or
 * a value of the wrong type contribute no clause.
 *
 * Field dispatch:
 *   - totalSpending: >, <, >=, <= against a number
 *   - visitCount:    >, < only
 *   - lastVisit:     before/after a cutoff of now minus value days (strict)
 *   - email:         contains (substring, store collation decides case)
 *
 * Only Logic selects the combinator. Connectors are informational and are
 * not read here; "<noun>Count" fields produced by inference are not
 * filterable.
 */

// Compile builds the filter for a rule document relative to now.
func Compile(doc models.RuleDocument, now time.Time) Filter {
	filter := Filter{Combinator: CombineAnd}
	if doc.Logic == models.LogicOr {
		filter.Combinator = CombineOr
	}

	for _, cond := range doc.Conditions {
		if clause, ok := compileCondition(cond, now); ok {
			filter.Clauses = append(filter.Clauses, clause)
		}
	}

	return filter
}

// compileCondition returns the clause for one condition, or false when the
// condition constrains nothing.
func compileCondition(cond models.Condition, now time.Time) (Clause, bool) {
	switch cond.Field {
	case models.FieldTotalSpending:
		n, ok := toNumber(cond.Value)
		if !ok {
			return Clause{}, false
		}
		cmp, ok := numericComparison(cond.Operator, true)
		if !ok {
			return Clause{}, false
		}
		return Clause{Column: ColumnTotalSpending, Cmp: cmp, Value: n}, true

	case models.FieldVisitCount:
		n, ok := toNumber(cond.Value)
		if !ok {
			return Clause{}, false
		}
		cmp, ok := numericComparison(cond.Operator, false)
		if !ok {
			return Clause{}, false
		}
		return Clause{Column: ColumnVisitCount, Cmp: cmp, Value: n}, true

	case models.FieldLastVisit:
		days, ok := toNumber(cond.Value)
		if !ok {
			return Clause{}, false
		}
		cutoff := now.Add(-time.Duration(days * float64(24*time.Hour))).UTC()
		switch cond.Operator {
		case models.OpBefore:
			return Clause{Column: ColumnLastVisit, Cmp: CmpLess, Value: cutoff}, true
		case models.OpAfter:
			return Clause{Column: ColumnLastVisit, Cmp: CmpGreater, Value: cutoff}, true
		}
		return Clause{}, false

	case models.FieldEmail:
		s, ok := cond.Value.(string)
		if !ok || cond.Operator != models.OpContains {
			return Clause{}, false
		}
		return Clause{Column: ColumnEmail, Cmp: CmpContains, Value: s}, true
	}

	return Clause{}, false
}

// numericComparison maps an operator to a comparison. Inclusive operators are
// only honoured when allowInclusive is set.
func numericComparison(op string, allowInclusive bool) (Comparison, bool) {
	switch op {
	case models.OpGreater:
		return CmpGreater, true
	case models.OpLess:
		return CmpLess, true
	case models.OpGreaterEqual:
		if allowInclusive {
			return CmpGreaterEqual, true
		}
	case models.OpLessEqual:
		if allowInclusive {
			return CmpLessEqual, true
		}
	}
	return 0, false
}

// toNumber converts a JSON-decoded value to float64.
// Numeric strings are accepted; anything else is rejected.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
