package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"crm-backend/internal/database"
	"crm-backend/internal/models"
	"crm-backend/internal/service"
	"crm-backend/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	logger      *zap.Logger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      *zap.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 10 << 20, // 10MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		logger:      opts.Logger,
	}
}

// Routes registers every API route on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/features", h.ListFeatures)

	r.Route("/customers", func(r chi.Router) {
		r.Post("/", h.CreateCustomer)
		r.Get("/", h.ListCustomers)
		r.Get("/{id}", h.GetCustomer)
		r.Get("/{id}/orders", h.ListCustomerOrders)
	})

	r.Post("/orders", h.CreateOrder)

	r.Route("/segments", func(r chi.Router) {
		r.Post("/", h.CreateSegment)
		r.Get("/", h.ListSegments)
		r.Post("/preview", h.PreviewAudience)
		r.Get("/{id}", h.GetSegment)
		r.Get("/{id}/customers", h.SegmentCustomers)
	})

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", h.CreateCampaign)
		r.Get("/", h.ListCampaigns)
		r.Get("/{id}", h.GetCampaign)
		r.Get("/{id}/logs", h.CampaignLogs)
	})

	r.Route("/ai", func(r chi.Router) {
		r.Post("/rules", h.InferRules)
		r.Post("/messages", h.SuggestMessages)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ListFeatures handles GET /features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.service.Features().List())
}

// CreateCustomer handles POST /customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	customer, err := h.service.CreateCustomer(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, customer)
}

// ListCustomers handles GET /customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, nonNil(customers))
}

// GetCustomer handles GET /customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.service.GetCustomer(r.Context(), urlID(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, customer)
}

// ListCustomerOrders handles GET /customers/{id}/orders
func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListCustomerOrders(r.Context(), urlID(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, nonNil(orders))
}

// CreateOrder handles POST /orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, order)
}

// CreateSegment handles POST /segments
func (h *Handler) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSegmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	segment, err := h.service.CreateSegment(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, segment)
}

// ListSegments handles GET /segments
func (h *Handler) ListSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := h.service.ListSegments(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, nonNil(segments))
}

// GetSegment handles GET /segments/{id}
func (h *Handler) GetSegment(w http.ResponseWriter, r *http.Request) {
	segment, err := h.service.GetSegment(r.Context(), urlID(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, segment)
}

// SegmentCustomers handles GET /segments/{id}/customers
func (h *Handler) SegmentCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.SegmentCustomers(r.Context(), urlID(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, customers)
}

// PreviewAudience handles POST /segments/preview
func (h *Handler) PreviewAudience(w http.ResponseWriter, r *http.Request) {
	var req models.PreviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	preview, err := h.service.PreviewAudience(r.Context(), req.Rules)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, preview)
}

// CreateCampaign handles POST /campaigns
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCampaignRequest
	if !h.decode(w, r, &req) {
		return
	}

	campaign, err := h.service.CreateCampaign(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, campaign)
}

// ListCampaigns handles GET /campaigns
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.service.ListCampaigns(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, nonNil(campaigns))
}

// GetCampaign handles GET /campaigns/{id}
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := h.service.GetCampaign(r.Context(), urlID(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, campaign)
}

// CampaignLogs handles GET /campaigns/{id}/logs
func (h *Handler) CampaignLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.CampaignLogs(r.Context(), urlID(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, nonNil(logs))
}

// InferRules handles POST /ai/rules
func (h *Handler) InferRules(w http.ResponseWriter, r *http.Request) {
	var req models.InferRulesRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.InferRules(r.Context(), req.Prompt)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// SuggestMessages handles POST /ai/messages
func (h *Handler) SuggestMessages(w http.ResponseWriter, r *http.Request) {
	var req models.SuggestMessagesRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.service.SuggestMessages(req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// decode reads a size-limited JSON body into dest, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// handleServiceError maps service errors onto HTTP statuses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		h.respondError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, service.ErrFeatureDisabled):
		h.respondError(w, http.StatusForbidden, err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}

func urlID(r *http.Request) string {
	return validation.SanitizeString(chi.URLParam(r, "id"))
}

// nonNil renders empty collections as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
