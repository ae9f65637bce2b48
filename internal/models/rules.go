package models

// Logic combinators for rule documents.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Known condition fields. Inferred documents may also carry "<noun>Count" fields.
const (
	FieldTotalSpending = "totalSpending"
	FieldVisitCount    = "visitCount"
	FieldLastVisit     = "lastVisit"
	FieldEmail         = "email"
)

// Condition operators.
const (
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpContains     = "contains"
	OpBefore       = "before"
	OpAfter        = "after"
)

// Condition is one atomic predicate over a customer attribute.
// Value is a float64 or a string. lastVisit values are always in days.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// RuleDocument is the structured representation of an audience filter.
//
// Conditions are kept in textual occurrence order. When Connectors is set it
// holds exactly len(Conditions)-1 entries; Connectors[i] joins Conditions[i]
// and Conditions[i+1]. Provider is nil when the document was inferred locally.
type RuleDocument struct {
	Logic      string      `json:"logic"`
	Conditions []Condition `json:"conditions"`
	Connectors []string    `json:"connectors,omitempty"`
	Provider   *string     `json:"provider"`
}
