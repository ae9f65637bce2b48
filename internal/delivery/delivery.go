// Package delivery simulates sending campaign messages to a vendor.
//
// Each audience member gets one communication log, SENT or FAILED according
// to a configurable success rate. Outcomes are drawn from a seeded generator
// so a fixed seed reproduces the same delivery run.
package delivery

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"crm-backend/internal/events"
	"crm-backend/internal/models"
	"crm-backend/internal/rules"
	"crm-backend/internal/tracing"
)

// Store is the persistence the simulator needs.
type Store interface {
	ListAudience(ctx context.Context, filter rules.Filter, limit int) ([]models.Customer, error)
	InsertCommunicationLogs(ctx context.Context, logs []models.CommunicationLog) (int, error)
	UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus) error
}

// Config configures a Simulator.
type Config struct {
	// SuccessRate is the probability in [0, 1] that a message is SENT.
	SuccessRate float64
	// Seed seeds outcome selection; zero seeds from the clock.
	Seed int64
}

// Simulator delivers campaigns by writing communication logs.
type Simulator struct {
	store       Store
	logger      *zap.Logger
	tracer      *tracing.Tracer
	successRate float64
	now         func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a delivery simulator.
func NewSimulator(store Store, cfg Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Simulator{
		store:       store,
		logger:      logger,
		tracer:      tracing.ForComponent("delivery"),
		successRate: cfg.SuccessRate,
		now:         func() time.Time { return time.Now().UTC() },
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Register subscribes the simulator to campaign.created events.
func (s *Simulator) Register(manager *events.Manager) {
	manager.Subscribe(events.EventCampaignCreated, s.HandleEvent)
}

// HandleEvent is the events.Handler for campaign.created.
func (s *Simulator) HandleEvent(ctx context.Context, event events.Event) error {
	data, ok := event.Data.(events.CampaignCreatedData)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Data, event.Type)
	}
	_, err := s.Deliver(ctx, data.Campaign)
	return err
}

// Deliver sends a campaign to its audience and returns the stored logs.
// The audience is recomputed from the campaign's rule snapshot at send time.
// Once the campaign is SENDING, any error leaves it FAILED.
func (s *Simulator) Deliver(ctx context.Context, campaign models.Campaign) ([]models.CommunicationLog, error) {
	ctx, span := s.tracer.StartSpan(ctx, "delivery.Deliver",
		trace.WithAttributes(attribute.String("campaign.id", campaign.ID)),
	)
	defer span.End()

	if err := s.store.UpdateCampaignStatus(ctx, campaign.ID, models.CampaignSending); err != nil {
		err = fmt.Errorf("failed to mark campaign %s as sending: %w", campaign.ID, err)
		tracing.RecordError(span, err)
		return nil, err
	}

	logs, sent, err := s.send(ctx, campaign)
	if err != nil {
		tracing.RecordError(span, err)
		s.markFailed(ctx, campaign.ID, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("delivery.sent", sent),
		attribute.Int("delivery.failed", len(logs)-sent),
	)

	s.logger.Info("campaign delivered",
		zap.String("campaign_id", campaign.ID),
		zap.Int("audience", len(logs)),
		zap.Int("sent", sent),
		zap.Int("failed", len(logs)-sent),
	)

	return logs, nil
}

func (s *Simulator) send(ctx context.Context, campaign models.Campaign) ([]models.CommunicationLog, int, error) {
	now := s.now()
	audience, err := s.store.ListAudience(ctx, rules.Compile(campaign.Rules, now), 0)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load audience for campaign %s: %w", campaign.ID, err)
	}

	logs := make([]models.CommunicationLog, 0, len(audience))
	sent := 0
	for _, customer := range audience {
		status := s.outcome()
		if status == models.DeliverySent {
			sent++
		}
		logs = append(logs, models.CommunicationLog{
			ID:         uuid.New().String(),
			CampaignID: campaign.ID,
			CustomerID: customer.ID,
			Message:    Personalize(campaign.Message, customer),
			Status:     status,
			SentAt:     now,
		})
	}

	if _, err := s.store.InsertCommunicationLogs(ctx, logs); err != nil {
		return nil, 0, fmt.Errorf("failed to store delivery logs for campaign %s: %w", campaign.ID, err)
	}

	if err := s.store.UpdateCampaignStatus(ctx, campaign.ID, models.CampaignCompleted); err != nil {
		return nil, 0, fmt.Errorf("failed to mark campaign %s as completed: %w", campaign.ID, err)
	}

	return logs, sent, nil
}

// markFailed records a failed run. The caller's context may already be
// cancelled, so the update runs without it.
func (s *Simulator) markFailed(ctx context.Context, campaignID string, cause error) {
	s.logger.Error("campaign delivery failed",
		zap.String("campaign_id", campaignID),
		zap.Error(cause),
	)

	if err := s.store.UpdateCampaignStatus(context.WithoutCancel(ctx), campaignID, models.CampaignFailed); err != nil {
		s.logger.Error("failed to mark campaign as failed",
			zap.String("campaign_id", campaignID),
			zap.Error(err),
		)
	}
}

func (s *Simulator) outcome() models.DeliveryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() < s.successRate {
		return models.DeliverySent
	}
	return models.DeliveryFailed
}

// Personalize fills the {name} placeholder of a message template.
func Personalize(template string, customer models.Customer) string {
	name := customer.Name
	if name == "" {
		name = "there"
	}
	return strings.ReplaceAll(template, "{name}", name)
}
