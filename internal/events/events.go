package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"crm-backend/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventCustomerCreated is emitted when a customer is created
	EventCustomerCreated EventType = "customer.created"
	// EventOrderCreated is emitted when an order is recorded
	EventOrderCreated EventType = "order.created"
	// EventSegmentCreated is emitted when a segment is saved
	EventSegmentCreated EventType = "segment.created"
	// EventCampaignCreated is emitted when a campaign is created and ready for delivery
	EventCampaignCreated EventType = "campaign.created"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// CustomerCreatedData contains data for customer created events.
type CustomerCreatedData struct {
	Customer models.Customer
}

// OrderCreatedData contains data for order created events.
type OrderCreatedData struct {
	Order models.Order
}

// SegmentCreatedData contains data for segment created events.
type SegmentCreatedData struct {
	Segment models.Segment
}

// CampaignCreatedData contains data for campaign created events.
type CampaignCreatedData struct {
	Campaign models.Campaign
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   *zap.Logger
	inflight sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// Enabled reports whether events are delivered.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run
// asynchronously on a context detached from the caller's cancellation, so a
// finished HTTP request does not abort them.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data any) {
	m.mu.RLock()
	if !m.enabled {
		m.mu.RUnlock()
		return
	}
	handlers := m.handlers[eventType]
	// counted under the lock so Shutdown cannot finish waiting in between
	m.inflight.Add(len(handlers))
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	detached := context.WithoutCancel(ctx)

	for _, handler := range handlers {
		go func(h Handler) {
			defer m.inflight.Done()
			if err := h(detached, event); err != nil {
				m.logger.Error("event handler failed",
					zap.String("event", string(event.Type)),
					zap.Error(err),
				)
			}
		}(handler)
	}
}

// PublishCustomerCreated publishes a customer created event.
func (m *Manager) PublishCustomerCreated(ctx context.Context, customer models.Customer) {
	m.Publish(ctx, EventCustomerCreated, CustomerCreatedData{Customer: customer})
}

// PublishOrderCreated publishes an order created event.
func (m *Manager) PublishOrderCreated(ctx context.Context, order models.Order) {
	m.Publish(ctx, EventOrderCreated, OrderCreatedData{Order: order})
}

// PublishSegmentCreated publishes a segment created event.
func (m *Manager) PublishSegmentCreated(ctx context.Context, segment models.Segment) {
	m.Publish(ctx, EventSegmentCreated, SegmentCreatedData{Segment: segment})
}

// PublishCampaignCreated publishes a campaign created event.
func (m *Manager) PublishCampaignCreated(ctx context.Context, campaign models.Campaign) {
	m.Publish(ctx, EventCampaignCreated, CampaignCreatedData{Campaign: campaign})
}

// Wait blocks until every handler started so far has returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.inflight.Wait()
}
