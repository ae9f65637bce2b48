package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"crm-backend/internal/cache"
	"crm-backend/internal/database"
	"crm-backend/internal/events"
	"crm-backend/internal/features"
	"crm-backend/internal/inference"
	"crm-backend/internal/models"
	"crm-backend/internal/rules"
	"crm-backend/internal/suggest"
	"crm-backend/internal/tracing"
	"crm-backend/internal/validation"
)

// PreviewSampleSize is the number of customers returned with a preview.
const PreviewSampleSize = 5

const previewNamespace = "preview"

// ErrFeatureDisabled is returned when an operation is switched off by a
// feature flag.
var ErrFeatureDisabled = errors.New("feature is disabled")

// Dependencies are the optional collaborators of a Service. Nil fields get
// working defaults.
type Dependencies struct {
	Cache      cache.Cache
	CacheTTL   time.Duration
	Features   *features.Manager
	Events     *events.Manager
	Inferencer *inference.Inferencer
	Logger     *zap.Logger
}

// Service provides business logic for the CRM API.
type Service struct {
	db         *database.DB
	cache      cache.Cache
	cacheTTL   time.Duration
	features   *features.Manager
	events     *events.Manager
	inferencer *inference.Inferencer
	logger     *zap.Logger
	tracer     *tracing.Tracer
	now        func() time.Time
}

// NewService creates a new service instance.
func NewService(db *database.DB, deps Dependencies) *Service {
	s := &Service{
		db:         db,
		cache:      deps.Cache,
		cacheTTL:   deps.CacheTTL,
		features:   deps.Features,
		events:     deps.Events,
		inferencer: deps.Inferencer,
		logger:     deps.Logger,
		tracer:     tracing.ForComponent("service"),
		now:        func() time.Time { return time.Now().UTC() },
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cache == nil {
		s.cache = cache.NewInMemoryCache()
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 30 * time.Second
	}
	if s.features == nil {
		s.features = features.NewManagerWithDefaults(nil)
	}
	if s.events == nil {
		s.events = events.NewManager(false, s.logger)
	}
	if s.inferencer == nil {
		s.inferencer = inference.New(inference.Config{})
	}

	return s
}

// Features exposes the feature flag manager.
func (s *Service) Features() *features.Manager {
	return s.features
}

// CreateCustomer validates and stores a new customer.
func (s *Service) CreateCustomer(ctx context.Context, req models.CreateCustomerRequest) (models.Customer, error) {
	req.Name = validation.SanitizeString(req.Name)
	req.Email = validation.SanitizeString(req.Email)
	req.Phone = validation.SanitizeString(req.Phone)

	if err := validation.ValidateCustomer(req); err != nil {
		return models.Customer{}, err
	}

	exists, err := s.db.EmailExists(ctx, req.Email)
	if err != nil {
		return models.Customer{}, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return models.Customer{}, &validation.ValidationError{
			Field:   "email",
			Message: "is already registered",
		}
	}

	customer := models.Customer{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		CreatedAt: s.now(),
	}

	if err := s.db.InsertCustomer(ctx, customer); err != nil {
		return models.Customer{}, err
	}

	s.invalidatePreviews(ctx)
	s.events.PublishCustomerCreated(ctx, customer)

	return customer, nil
}

// ListCustomers returns every customer.
func (s *Service) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	return s.db.ListCustomers(ctx)
}

// GetCustomer returns a customer by id.
func (s *Service) GetCustomer(ctx context.Context, id string) (models.Customer, error) {
	if err := validation.ValidateUUID(id, "id"); err != nil {
		return models.Customer{}, err
	}
	return s.db.GetCustomer(ctx, id)
}

// ListCustomerOrders returns the orders of an existing customer.
func (s *Service) ListCustomerOrders(ctx context.Context, customerID string) ([]models.Order, error) {
	if _, err := s.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.db.ListOrders(ctx, customerID)
}

// CreateOrder records an order and updates the customer's aggregates.
func (s *Service) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (models.Order, error) {
	req.CustomerID = validation.SanitizeString(req.CustomerID)

	if err := validation.ValidateOrder(req); err != nil {
		return models.Order{}, err
	}

	orderDate := s.now()
	if req.OrderDate != nil {
		orderDate = req.OrderDate.UTC()
	}

	order := models.Order{
		ID:         uuid.New().String(),
		CustomerID: req.CustomerID,
		Amount:     req.Amount,
		OrderDate:  orderDate,
	}

	if err := s.db.InsertOrder(ctx, order); err != nil {
		return models.Order{}, err
	}

	s.invalidatePreviews(ctx)
	s.events.PublishOrderCreated(ctx, order)

	return order, nil
}

// CreateSegment validates and stores a segment. An empty logic defaults to AND.
func (s *Service) CreateSegment(ctx context.Context, req models.CreateSegmentRequest) (models.Segment, error) {
	req.Name = validation.SanitizeString(req.Name)
	req.Description = validation.SanitizeString(req.Description)
	req.Rules = withDefaultLogic(req.Rules)

	if err := validation.ValidateSegment(req); err != nil {
		return models.Segment{}, err
	}

	segment := models.Segment{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Rules:       req.Rules,
		CreatedAt:   s.now(),
	}

	if err := s.db.InsertSegment(ctx, segment); err != nil {
		return models.Segment{}, err
	}

	s.events.PublishSegmentCreated(ctx, segment)

	return segment, nil
}

// ListSegments returns every segment.
func (s *Service) ListSegments(ctx context.Context) ([]models.Segment, error) {
	return s.db.ListSegments(ctx)
}

// GetSegment returns a segment by id.
func (s *Service) GetSegment(ctx context.Context, id string) (models.Segment, error) {
	if err := validation.ValidateUUID(id, "id"); err != nil {
		return models.Segment{}, err
	}
	return s.db.GetSegment(ctx, id)
}

// SegmentCustomers returns the full current audience of a saved segment.
func (s *Service) SegmentCustomers(ctx context.Context, id string) ([]models.Customer, error) {
	segment, err := s.GetSegment(ctx, id)
	if err != nil {
		return nil, err
	}

	customers, err := s.db.ListAudience(ctx, rules.Compile(segment.Rules, s.now()), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list segment audience: %w", err)
	}
	if customers == nil {
		customers = []models.Customer{}
	}
	return customers, nil
}

// PreviewAudience counts the customers matched by doc and returns a small
// sample with an explanation. Results are cached while cache_enabled is on.
func (s *Service) PreviewAudience(ctx context.Context, doc models.RuleDocument) (models.AudiencePreview, error) {
	ctx, span := s.tracer.StartSpan(ctx, "service.PreviewAudience")
	defer span.End()

	doc = withDefaultLogic(doc)
	if err := validation.ValidateRuleDocument(doc, "rules"); err != nil {
		return models.AudiencePreview{}, err
	}

	useCache := s.features.IsEnabled(features.FeatureCacheEnabled)
	var key string
	if useCache {
		k, err := cache.Key(previewNamespace, doc)
		if err != nil {
			s.logger.Warn("preview cache key failed", zap.Error(err))
			useCache = false
		}
		key = k
	}

	if useCache {
		var cached models.AudiencePreview
		if err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		} else if !errors.Is(err, cache.ErrNotFound) {
			s.logger.Warn("preview cache read failed", zap.Error(err))
		}
	}

	filter := rules.Compile(doc, s.now())

	count, err := s.db.CountAudience(ctx, filter)
	if err != nil {
		tracing.RecordError(span, err)
		return models.AudiencePreview{}, fmt.Errorf("failed to count audience: %w", err)
	}

	sample, err := s.db.ListAudience(ctx, filter, PreviewSampleSize)
	if err != nil {
		tracing.RecordError(span, err)
		return models.AudiencePreview{}, fmt.Errorf("failed to sample audience: %w", err)
	}
	if sample == nil {
		sample = []models.Customer{}
	}

	span.SetAttributes(attribute.Int("audience.count", count))

	preview := models.AudiencePreview{
		Count:       count,
		Sample:      sample,
		Explanation: rules.Explain(doc),
	}

	if useCache {
		if err := cache.SetJSON(ctx, s.cache, key, preview, s.cacheTTL); err != nil {
			s.logger.Warn("preview cache write failed", zap.Error(err))
		}
	}

	return preview, nil
}

// CreateCampaign snapshots the audience rules of a segment or of an inline
// document, stores the campaign as PENDING and announces it for delivery.
func (s *Service) CreateCampaign(ctx context.Context, req models.CreateCampaignRequest) (models.Campaign, error) {
	ctx, span := s.tracer.StartSpan(ctx, "service.CreateCampaign")
	defer span.End()

	req.Name = validation.SanitizeString(req.Name)
	req.SegmentID = validation.SanitizeString(req.SegmentID)
	if req.SegmentID == "" && req.Rules != nil {
		doc := withDefaultLogic(*req.Rules)
		req.Rules = &doc
	}

	if err := validation.ValidateCampaign(req); err != nil {
		return models.Campaign{}, err
	}

	var snapshot models.RuleDocument
	if req.SegmentID != "" {
		segment, err := s.db.GetSegment(ctx, req.SegmentID)
		if errors.Is(err, database.ErrNotFound) {
			return models.Campaign{}, &validation.ValidationError{
				Field:   "segment_id",
				Message: "segment does not exist",
			}
		}
		if err != nil {
			return models.Campaign{}, err
		}
		snapshot = segment.Rules
	} else {
		snapshot = *req.Rules
	}

	now := s.now()
	size, err := s.db.CountAudience(ctx, rules.Compile(snapshot, now))
	if err != nil {
		tracing.RecordError(span, err)
		return models.Campaign{}, fmt.Errorf("failed to size audience: %w", err)
	}

	campaign := models.Campaign{
		ID:           uuid.New().String(),
		Name:         req.Name,
		SegmentID:    req.SegmentID,
		Rules:        snapshot,
		Message:      req.Message,
		Status:       models.CampaignPending,
		AudienceSize: size,
		CreatedAt:    now,
	}

	if err := s.db.InsertCampaign(ctx, campaign); err != nil {
		tracing.RecordError(span, err)
		return models.Campaign{}, err
	}
	span.SetAttributes(
		attribute.String("campaign.id", campaign.ID),
		attribute.Int("audience.size", size),
	)

	if s.features.IsEnabled(features.FeatureEventHooksEnabled) {
		s.events.PublishCampaignCreated(ctx, campaign)
	}

	return campaign, nil
}

// ListCampaigns returns campaigns newest first with delivery stats.
func (s *Service) ListCampaigns(ctx context.Context) ([]models.CampaignWithStats, error) {
	return s.db.ListCampaigns(ctx)
}

// GetCampaign returns a campaign with its delivery stats.
func (s *Service) GetCampaign(ctx context.Context, id string) (models.CampaignWithStats, error) {
	if err := validation.ValidateUUID(id, "id"); err != nil {
		return models.CampaignWithStats{}, err
	}
	return s.db.GetCampaign(ctx, id)
}

// CampaignLogs returns the communication logs of an existing campaign.
func (s *Service) CampaignLogs(ctx context.Context, id string) ([]models.CommunicationLog, error) {
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return s.db.ListCommunicationLogs(ctx, id)
}

// InferRules turns a free-text prompt into a rule document. With
// ai_rule_inference switched off only local heuristics run.
func (s *Service) InferRules(ctx context.Context, prompt string) (models.InferRulesResponse, error) {
	if err := validation.ValidatePrompt(prompt); err != nil {
		return models.InferRulesResponse{}, err
	}

	var result inference.Result
	if s.features.IsEnabled(features.FeatureAIRuleInference) {
		result = s.inferencer.Infer(ctx, prompt)
	} else {
		result = inference.Result{Rules: inference.InferLocal(prompt), Outcome: inference.OutcomeHeuristic}
	}

	fields := []zap.Field{
		zap.String("outcome", string(result.Outcome)),
		zap.Int("conditions", len(result.Rules.Conditions)),
	}
	if result.Err != nil {
		fields = append(fields, zap.Error(result.Err))
	}
	s.logger.Info("rules inferred", fields...)

	return models.InferRulesResponse{
		Rules:       result.Rules,
		Explanation: rules.Explain(result.Rules),
		Outcome:     string(result.Outcome),
	}, nil
}

// SuggestMessages returns campaign message drafts for an objective.
func (s *Service) SuggestMessages(req models.SuggestMessagesRequest) (models.SuggestMessagesResponse, error) {
	if !s.features.IsEnabled(features.FeatureMessageSuggestions) {
		return models.SuggestMessagesResponse{}, fmt.Errorf("%s: %w", features.FeatureMessageSuggestions, ErrFeatureDisabled)
	}

	req.Objective = validation.SanitizeString(req.Objective)
	if err := validation.ValidateSuggestionRequest(req); err != nil {
		return models.SuggestMessagesResponse{}, err
	}

	return models.SuggestMessagesResponse{
		Suggestions: suggest.Messages(req.Objective, req.Count),
	}, nil
}

// invalidatePreviews drops cached previews after a write that can change
// audience membership.
func (s *Service) invalidatePreviews(ctx context.Context) {
	if err := s.cache.Clear(ctx); err != nil {
		s.logger.Warn("preview cache clear failed", zap.Error(err))
	}
}

func withDefaultLogic(doc models.RuleDocument) models.RuleDocument {
	if doc.Logic == "" {
		doc.Logic = models.LogicAnd
	}
	return doc
}
