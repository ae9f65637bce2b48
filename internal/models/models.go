package models

import "time"

// Customer is a CRM contact together with the aggregates audience rules filter on.
type Customer struct {
	ID            string     `json:"id"`             // uuid
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone,omitempty"`
	TotalSpending float64    `json:"total_spending"` // sum of order amounts
	VisitCount    int        `json:"visit_count"`    // number of orders
	LastVisit     *time.Time `json:"last_visit"`     // nil until the first order
	CreatedAt     time.Time  `json:"created_at"`
}

// Order is a single purchase made by a customer.
type Order struct {
	ID         string    `json:"id"`          // uuid
	CustomerID string    `json:"customer_id"` // uuid
	Amount     float64   `json:"amount"`
	OrderDate  time.Time `json:"order_date"` // RFC3339 timestamp
}

// Segment is a named, persisted audience definition.
type Segment struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Rules       RuleDocument `json:"rules"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CampaignStatus tracks how far delivery of a campaign has progressed.
type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "PENDING"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignFailed    CampaignStatus = "FAILED"
)

// Campaign is a message sent to the audience of a rule snapshot.
type Campaign struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	SegmentID    string         `json:"segment_id,omitempty"`
	Rules        RuleDocument   `json:"rules"`
	Message      string         `json:"message"`
	Status       CampaignStatus `json:"status"`
	AudienceSize int            `json:"audience_size"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CampaignStats summarises delivery outcomes for a campaign.
type CampaignStats struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// CampaignWithStats is a campaign joined with its delivery stats.
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// DeliveryStatus is the vendor outcome for one message.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "SENT"
	DeliveryFailed DeliveryStatus = "FAILED"
)

// CommunicationLog records one message sent to one customer for a campaign.
type CommunicationLog struct {
	ID         string         `json:"id"`
	CampaignID string         `json:"campaign_id"`
	CustomerID string         `json:"customer_id"`
	Message    string         `json:"message"`
	Status     DeliveryStatus `json:"status"`
	SentAt     time.Time      `json:"sent_at"`
}

// CreateCustomerRequest represents the request body for creating a customer.
type CreateCustomerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// CreateOrderRequest represents the request body for creating an order.
type CreateOrderRequest struct {
	CustomerID string     `json:"customer_id"`
	Amount     float64    `json:"amount"`
	OrderDate  *time.Time `json:"order_date,omitempty"`
}

// CreateSegmentRequest represents the request body for creating a segment.
type CreateSegmentRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Rules       RuleDocument `json:"rules"`
}

// PreviewRequest asks for the audience of a rule document without saving it.
type PreviewRequest struct {
	Rules RuleDocument `json:"rules"`
}

// AudiencePreview is the response for an audience preview.
type AudiencePreview struct {
	Count       int        `json:"count"`
	Sample      []Customer `json:"sample"`
	Explanation string     `json:"explanation"`
}

// CreateCampaignRequest represents the request body for creating a campaign.
// Either SegmentID or Rules selects the audience; SegmentID wins when both are set.
type CreateCampaignRequest struct {
	Name      string        `json:"name"`
	SegmentID string        `json:"segment_id"`
	Rules     *RuleDocument `json:"rules"`
	Message   string        `json:"message"`
}

// InferRulesRequest is the body of POST /ai/rules.
type InferRulesRequest struct {
	Prompt string `json:"prompt"`
}

// InferRulesResponse is the response of POST /ai/rules.
type InferRulesResponse struct {
	Rules       RuleDocument `json:"rules"`
	Explanation string       `json:"explanation"`
	Outcome     string       `json:"outcome"`
}

// SuggestMessagesRequest is the body of POST /ai/messages.
type SuggestMessagesRequest struct {
	Objective string `json:"objective"`
	Count     int    `json:"count"`
}

// SuggestMessagesResponse is the response of POST /ai/messages.
type SuggestMessagesResponse struct {
	Suggestions []string `json:"suggestions"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
