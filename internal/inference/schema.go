package inference

import (
	"errors"
	"fmt"
	"strings"

	"crm-backend/internal/models"
)

// ErrInvalidRules is returned when a provider payload is not a rule document.
var ErrInvalidRules = errors.New("invalid rule document")

// ErrEmptyRules is returned when a provider payload has no conditions.
var ErrEmptyRules = errors.New("rule document has no conditions")

// DecodeDocument validates a decoded JSON payload against the rule document
// shape. A top-level array is read as the condition list of an AND document.
// Logic and connector values are matched case-insensitively.
func DecodeDocument(payload any) (models.RuleDocument, error) {
	if items, ok := payload.([]any); ok {
		payload = map[string]any{"logic": models.LogicAnd, "conditions": items}
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return models.RuleDocument{}, fmt.Errorf("%w: expected an object", ErrInvalidRules)
	}

	logic, ok := combinator(obj["logic"])
	if !ok {
		return models.RuleDocument{}, fmt.Errorf("%w: logic must be AND or OR", ErrInvalidRules)
	}

	rawConditions, ok := obj["conditions"].([]any)
	if !ok {
		return models.RuleDocument{}, fmt.Errorf("%w: conditions must be an array", ErrInvalidRules)
	}

	doc := models.RuleDocument{
		Logic:      logic,
		Conditions: make([]models.Condition, 0, len(rawConditions)),
	}

	for i, raw := range rawConditions {
		cond, err := decodeCondition(raw)
		if err != nil {
			return models.RuleDocument{}, fmt.Errorf("%w: condition %d: %v", ErrInvalidRules, i, err)
		}
		doc.Conditions = append(doc.Conditions, cond)
	}

	if rawConnectors, present := obj["connectors"]; present && rawConnectors != nil {
		items, ok := rawConnectors.([]any)
		if !ok {
			return models.RuleDocument{}, fmt.Errorf("%w: connectors must be an array", ErrInvalidRules)
		}
		if len(items) > 0 {
			if len(items) != len(doc.Conditions)-1 {
				return models.RuleDocument{}, fmt.Errorf("%w: expected %d connectors, got %d",
					ErrInvalidRules, len(doc.Conditions)-1, len(items))
			}
			for i, item := range items {
				c, ok := combinator(item)
				if !ok {
					return models.RuleDocument{}, fmt.Errorf("%w: connector %d must be AND or OR", ErrInvalidRules, i)
				}
				doc.Connectors = append(doc.Connectors, c)
			}
		}
	}

	return doc, nil
}

func decodeCondition(raw any) (models.Condition, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return models.Condition{}, errors.New("expected an object")
	}

	fieldName, ok := obj["field"].(string)
	if !ok || fieldName == "" {
		return models.Condition{}, errors.New("field must be a non-empty string")
	}

	operator, ok := obj["operator"].(string)
	if !ok || operator == "" {
		return models.Condition{}, errors.New("operator must be a non-empty string")
	}

	switch obj["value"].(type) {
	case float64, string:
	default:
		return models.Condition{}, errors.New("value must be a string or a number")
	}

	return models.Condition{Field: fieldName, Operator: operator, Value: obj["value"]}, nil
}

func combinator(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case models.LogicAnd:
		return models.LogicAnd, true
	case models.LogicOr:
		return models.LogicOr, true
	}
	return "", false
}
