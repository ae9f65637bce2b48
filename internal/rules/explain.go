package rules

import (
	"fmt"
	"strconv"
	"strings"

	"crm-backend/internal/models"
)

// EmptyExplanation is rendered for a document without conditions.
const EmptyExplanation = "No targeting rules defined; all customers match"

// Explain renders a human readable description of a rule document.
// Clauses are joined by the top-level logic, not by per-pair connectors.
func Explain(doc models.RuleDocument) string {
	if len(doc.Conditions) == 0 {
		return EmptyExplanation
	}

	clauses := make([]string, 0, len(doc.Conditions))
	for _, cond := range doc.Conditions {
		clauses = append(clauses, explainCondition(cond))
	}

	joiner := " AND "
	if doc.Logic == models.LogicOr {
		joiner = " OR "
	}

	return "Targeting " + strings.Join(clauses, joiner)
}

func explainCondition(cond models.Condition) string {
	value := formatValue(cond.Value)
	switch cond.Field {
	case models.FieldTotalSpending:
		return fmt.Sprintf("customers who have spent %s %s", cond.Operator, value)
	case models.FieldVisitCount:
		return fmt.Sprintf("customers with %s %s visits", cond.Operator, value)
	case models.FieldLastVisit:
		return fmt.Sprintf("customers who last visited %s %s days ago", cond.Operator, value)
	default:
		return fmt.Sprintf("%s %s %s", cond.Field, cond.Operator, value)
	}
}

func formatValue(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}
