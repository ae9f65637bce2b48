package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"crm-backend/internal/models"
)

var (
	uuidRegex  = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRegex = regexp.MustCompile(`^\+?[0-9 ()\-]{6,20}$`)
)

const (
	maxNameLength       = 200
	maxMessageLength    = 2000
	maxConditions       = 50
	maxPromptLength     = 2000
	maxOrderAmount      = 10_000_000
	maxSuggestionsCount = 10
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func ValidateCustomer(req models.CreateCustomerRequest) error {
	if err := validateName(req.Name, "name"); err != nil {
		return err
	}

	if req.Email == "" {
		return &ValidationError{
			Field:   "email",
			Message: "is required",
		}
	}

	if !emailRegex.MatchString(req.Email) {
		return &ValidationError{
			Field:   "email",
			Message: "must be a valid email address",
		}
	}

	if req.Phone != "" && !phoneRegex.MatchString(req.Phone) {
		return &ValidationError{
			Field:   "phone",
			Message: "must be a valid phone number",
		}
	}

	return nil
}

func ValidateOrder(req models.CreateOrderRequest) error {
	if err := ValidateUUID(req.CustomerID, "customer_id"); err != nil {
		return err
	}

	if req.Amount < 0 {
		return &ValidationError{
			Field:   "amount",
			Message: "must be non-negative",
		}
	}

	if req.Amount > maxOrderAmount {
		return &ValidationError{
			Field:   "amount",
			Message: "exceeds maximum allowed amount",
		}
	}

	if req.OrderDate != nil {
		maxFutureTime := time.Now().Add(1 * time.Hour)
		if req.OrderDate.After(maxFutureTime) {
			return &ValidationError{
				Field:   "order_date",
				Message: "cannot be more than 1 hour in the future",
			}
		}

		maxPastTime := time.Now().AddDate(-10, 0, 0)
		if req.OrderDate.Before(maxPastTime) {
			return &ValidationError{
				Field:   "order_date",
				Message: "cannot be more than 10 years in the past",
			}
		}
	}

	return nil
}

// ValidateRuleDocument checks the shape of a rule document. It does not
// reject unknown fields or operators: those compile to no constraint.
func ValidateRuleDocument(doc models.RuleDocument, fieldName string) error {
	if doc.Logic != models.LogicAnd && doc.Logic != models.LogicOr {
		return &ValidationError{
			Field:   fieldName + ".logic",
			Message: "must be AND or OR",
		}
	}

	if len(doc.Conditions) > maxConditions {
		return &ValidationError{
			Field:   fieldName + ".conditions",
			Message: fmt.Sprintf("cannot contain more than %d conditions", maxConditions),
		}
	}

	for i, cond := range doc.Conditions {
		field := fmt.Sprintf("%s.conditions[%d]", fieldName, i)

		if strings.TrimSpace(cond.Field) == "" {
			return &ValidationError{Field: field + ".field", Message: "is required"}
		}
		if strings.TrimSpace(cond.Operator) == "" {
			return &ValidationError{Field: field + ".operator", Message: "is required"}
		}

		switch cond.Value.(type) {
		case float64, string:
		default:
			return &ValidationError{Field: field + ".value", Message: "must be a number or a string"}
		}
	}

	if len(doc.Connectors) > 0 {
		if len(doc.Connectors) != len(doc.Conditions)-1 {
			return &ValidationError{
				Field:   fieldName + ".connectors",
				Message: "must have one entry per pair of adjacent conditions",
			}
		}
		for i, c := range doc.Connectors {
			if c != models.LogicAnd && c != models.LogicOr {
				return &ValidationError{
					Field:   fmt.Sprintf("%s.connectors[%d]", fieldName, i),
					Message: "must be AND or OR",
				}
			}
		}
	}

	return nil
}

func ValidateSegment(req models.CreateSegmentRequest) error {
	if err := validateName(req.Name, "name"); err != nil {
		return err
	}

	return ValidateRuleDocument(req.Rules, "rules")
}

func ValidateCampaign(req models.CreateCampaignRequest) error {
	if err := validateName(req.Name, "name"); err != nil {
		return err
	}

	if strings.TrimSpace(req.Message) == "" {
		return &ValidationError{
			Field:   "message",
			Message: "is required",
		}
	}

	if len(req.Message) > maxMessageLength {
		return &ValidationError{
			Field:   "message",
			Message: fmt.Sprintf("cannot exceed %d characters", maxMessageLength),
		}
	}

	if req.SegmentID != "" {
		return ValidateUUID(req.SegmentID, "segment_id")
	}

	if req.Rules == nil {
		return &ValidationError{
			Field:   "segment_id",
			Message: "segment_id or rules is required",
		}
	}

	return ValidateRuleDocument(*req.Rules, "rules")
}

func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return &ValidationError{
			Field:   "prompt",
			Message: "is required",
		}
	}

	if len(prompt) > maxPromptLength {
		return &ValidationError{
			Field:   "prompt",
			Message: fmt.Sprintf("cannot exceed %d characters", maxPromptLength),
		}
	}

	return nil
}

func ValidateSuggestionRequest(req models.SuggestMessagesRequest) error {
	if strings.TrimSpace(req.Objective) == "" {
		return &ValidationError{
			Field:   "objective",
			Message: "is required",
		}
	}

	if req.Count < 0 || req.Count > maxSuggestionsCount {
		return &ValidationError{
			Field:   "count",
			Message: fmt.Sprintf("must be between 0 and %d", maxSuggestionsCount),
		}
	}

	return nil
}

func validateName(name, fieldName string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if len(name) > maxNameLength {
		return &ValidationError{
			Field:   fieldName,
			Message: fmt.Sprintf("cannot exceed %d characters", maxNameLength),
		}
	}

	return nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateUUID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	id = SanitizeString(id)

	if !uuidRegex.MatchString(strings.ToLower(id)) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be a valid UUID v4",
		}
	}

	return nil
}
