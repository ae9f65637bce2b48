package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"crm-backend/internal/database"
	"crm-backend/internal/delivery"
	"crm-backend/internal/events"
	"crm-backend/internal/features"
	"crm-backend/internal/models"
	"crm-backend/internal/service"
)

type testEnv struct {
	router   *chi.Mux
	events   *events.Manager
	features *features.Manager
}

func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open("sqlite://" + filepath.Join(t.TempDir(), "crm.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	manager := events.NewManager(true, nil)
	delivery.NewSimulator(db, delivery.Config{SuccessRate: 1, Seed: 11}, nil).Register(manager)
	flags := features.NewManagerWithDefaults(nil)

	svc := service.NewService(db, service.Dependencies{Events: manager, Features: flags})
	h := NewHandler(svc)

	r := chi.NewRouter()
	h.Routes(r)

	return &testEnv{router: r, events: manager, features: flags}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(rr.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func createCustomer(t *testing.T, e *testEnv, name, email string) models.Customer {
	t.Helper()

	rr := e.do(t, "POST", "/customers", models.CreateCustomerRequest{Name: name, Email: email})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	return decodeBody[models.Customer](t, rr)
}

func createOrder(t *testing.T, e *testEnv, customerID string, amount float64) {
	t.Helper()

	at := time.Now().UTC().Add(-time.Hour)
	rr := e.do(t, "POST", "/orders", models.CreateOrderRequest{CustomerID: customerID, Amount: amount, OrderDate: &at})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "GET", "/health", nil)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestListFeatures(t *testing.T) {
	e := setupTestHandler(t)
	e.features.Disable(features.FeatureCacheEnabled)

	rr := e.do(t, "GET", "/features", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	flags := decodeBody[[]features.FeatureFlag](t, rr)
	if len(flags) != 4 {
		t.Fatalf("Expected 4 flags, got %d", len(flags))
	}
	for _, f := range flags {
		if f.Name == features.FeatureCacheEnabled && f.Enabled {
			t.Errorf("Expected %s to be disabled", f.Name)
		}
	}
}

func TestCreateCustomer_Success(t *testing.T) {
	e := setupTestHandler(t)

	c := createCustomer(t, e, "Asha", "asha@example.com")
	if c.Email != "asha@example.com" {
		t.Errorf("Expected email asha@example.com, got %s", c.Email)
	}

	rr := e.do(t, "GET", "/customers/"+c.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if got := decodeBody[models.Customer](t, rr); got.ID != c.ID {
		t.Errorf("Expected id %s, got %s", c.ID, got.ID)
	}

	rr = e.do(t, "GET", "/customers", nil)
	if got := decodeBody[[]models.Customer](t, rr); len(got) != 1 {
		t.Errorf("Expected 1 customer, got %d", len(got))
	}
}

func TestCreateCustomer_InvalidJSON(t *testing.T) {
	e := setupTestHandler(t)

	req := httptest.NewRequest("POST", "/customers", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestCreateCustomer_EmptyBody(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "POST", "/customers", nil)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if got := decodeBody[models.ErrorResponse](t, rr); got.Error != "request body is required" {
		t.Errorf("Expected 'request body is required', got '%s'", got.Error)
	}
}

func TestCreateCustomer_ValidationError(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "POST", "/customers", models.CreateCustomerRequest{Name: "Asha", Email: "nope"})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if got := decodeBody[models.ErrorResponse](t, rr); !strings.Contains(got.Error, "email") {
		t.Errorf("Expected error about email, got '%s'", got.Error)
	}
}

func TestGetCustomer_NotFound(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "GET", "/customers/"+uuid.New().String(), nil)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestCreateOrder_UpdatesCustomer(t *testing.T) {
	e := setupTestHandler(t)
	c := createCustomer(t, e, "Asha", "asha@example.com")

	createOrder(t, e, c.ID, 120.5)
	createOrder(t, e, c.ID, 79.5)

	rr := e.do(t, "GET", "/customers/"+c.ID, nil)
	got := decodeBody[models.Customer](t, rr)
	if got.TotalSpending != 200 {
		t.Errorf("Expected total spending 200, got %v", got.TotalSpending)
	}
	if got.VisitCount != 2 {
		t.Errorf("Expected visit count 2, got %d", got.VisitCount)
	}

	rr = e.do(t, "GET", "/customers/"+c.ID+"/orders", nil)
	if orders := decodeBody[[]models.Order](t, rr); len(orders) != 2 {
		t.Errorf("Expected 2 orders, got %d", len(orders))
	}
}

func TestCreateOrder_UnknownCustomer(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "POST", "/orders", models.CreateOrderRequest{CustomerID: uuid.New().String(), Amount: 10})

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestSegments_CreatePreviewAndAudience(t *testing.T) {
	e := setupTestHandler(t)

	big := createCustomer(t, e, "Big", "big@example.com")
	small := createCustomer(t, e, "Small", "small@example.com")
	createOrder(t, e, big.ID, 1500)
	createOrder(t, e, small.ID, 20)

	rules := models.RuleDocument{
		Logic:      models.LogicAnd,
		Conditions: []models.Condition{{Field: models.FieldTotalSpending, Operator: ">", Value: 1000.0}},
	}

	rr := e.do(t, "POST", "/segments/preview", models.PreviewRequest{Rules: rules})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	preview := decodeBody[models.AudiencePreview](t, rr)
	if preview.Count != 1 {
		t.Errorf("Expected count 1, got %d", preview.Count)
	}
	if len(preview.Sample) != 1 || preview.Sample[0].ID != big.ID {
		t.Errorf("Expected sample [%s], got %+v", big.ID, preview.Sample)
	}

	rr = e.do(t, "POST", "/segments", models.CreateSegmentRequest{Name: "Big spenders", Rules: rules})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	segment := decodeBody[models.Segment](t, rr)

	rr = e.do(t, "GET", "/segments/"+segment.ID, nil)
	if got := decodeBody[models.Segment](t, rr); got.Name != "Big spenders" {
		t.Errorf("Expected name 'Big spenders', got '%s'", got.Name)
	}

	rr = e.do(t, "GET", "/segments/"+segment.ID+"/customers", nil)
	if got := decodeBody[[]models.Customer](t, rr); len(got) != 1 {
		t.Errorf("Expected 1 customer, got %d", len(got))
	}

	rr = e.do(t, "GET", "/segments", nil)
	if got := decodeBody[[]models.Segment](t, rr); len(got) != 1 {
		t.Errorf("Expected 1 segment, got %d", len(got))
	}
}

func TestCreateSegment_InvalidRules(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "POST", "/segments", models.CreateSegmentRequest{
		Name:  "Broken",
		Rules: models.RuleDocument{Logic: "XOR"},
	})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestCampaigns_DeliveryAndStats(t *testing.T) {
	e := setupTestHandler(t)

	for i, amount := range []float64{700, 800, 10} {
		c := createCustomer(t, e, "Customer", "cust"+string(rune('a'+i))+"@example.com")
		createOrder(t, e, c.ID, amount)
	}

	rules := models.RuleDocument{
		Logic:      models.LogicAnd,
		Conditions: []models.Condition{{Field: models.FieldTotalSpending, Operator: ">", Value: 500.0}},
	}
	rr := e.do(t, "POST", "/campaigns", models.CreateCampaignRequest{
		Name:    "VIP",
		Message: "Hi {name}!",
		Rules:   &rules,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	campaign := decodeBody[models.Campaign](t, rr)
	if campaign.AudienceSize != 2 {
		t.Errorf("Expected audience size 2, got %d", campaign.AudienceSize)
	}

	e.events.Wait()

	rr = e.do(t, "GET", "/campaigns/"+campaign.ID, nil)
	got := decodeBody[models.CampaignWithStats](t, rr)
	if got.Status != models.CampaignCompleted {
		t.Errorf("Expected status COMPLETED, got %s", got.Status)
	}
	if got.Stats.Sent != 2 {
		t.Errorf("Expected 2 sent, got %d", got.Stats.Sent)
	}

	rr = e.do(t, "GET", "/campaigns/"+campaign.ID+"/logs", nil)
	logs := decodeBody[[]models.CommunicationLog](t, rr)
	if len(logs) != 2 {
		t.Fatalf("Expected 2 logs, got %d", len(logs))
	}
	if logs[0].Message != "Hi Customer!" {
		t.Errorf("Expected 'Hi Customer!', got '%s'", logs[0].Message)
	}

	rr = e.do(t, "GET", "/campaigns", nil)
	if list := decodeBody[[]models.CampaignWithStats](t, rr); len(list) != 1 {
		t.Errorf("Expected 1 campaign, got %d", len(list))
	}
}

func TestCreateCampaign_MissingAudience(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "POST", "/campaigns", models.CreateCampaignRequest{Name: "VIP", Message: "Hi"})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestGetCampaignLogs_NotFound(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "GET", "/campaigns/"+uuid.New().String()+"/logs", nil)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestInferRules(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "POST", "/ai/rules", models.InferRulesRequest{Prompt: "customers who spent over 500 and visited more than 3 times"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	resp := decodeBody[models.InferRulesResponse](t, rr)
	if resp.Outcome != "heuristic" {
		t.Errorf("Expected outcome heuristic, got %s", resp.Outcome)
	}
	if len(resp.Rules.Conditions) != 2 {
		t.Fatalf("Expected 2 conditions, got %d", len(resp.Rules.Conditions))
	}
	if resp.Rules.Conditions[0].Field != models.FieldTotalSpending {
		t.Errorf("Expected first field totalSpending, got %s", resp.Rules.Conditions[0].Field)
	}
	if !strings.HasPrefix(resp.Explanation, "Targeting ") {
		t.Errorf("Expected explanation, got '%s'", resp.Explanation)
	}

	rr = e.do(t, "POST", "/ai/rules", models.InferRulesRequest{Prompt: ""})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestSuggestMessages_FeatureFlag(t *testing.T) {
	e := setupTestHandler(t)

	rr := e.do(t, "POST", "/ai/messages", models.SuggestMessagesRequest{Objective: "welcome new customers"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if resp := decodeBody[models.SuggestMessagesResponse](t, rr); len(resp.Suggestions) != 3 {
		t.Errorf("Expected 3 suggestions, got %d", len(resp.Suggestions))
	}

	e.features.Disable(features.FeatureMessageSuggestions)
	rr = e.do(t, "POST", "/ai/messages", models.SuggestMessagesRequest{Objective: "welcome new customers"})
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}
}

func TestRequestBodyTooLarge(t *testing.T) {
	db, err := database.Open("sqlite://" + filepath.Join(t.TempDir(), "small.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer db.Close()

	h := NewHandlerWithOptions(service.NewService(db, service.Dependencies{}), NewHandlerOptions{MaxBodySize: 16})
	r := chi.NewRouter()
	h.Routes(r)

	body := `{"name":"` + strings.Repeat("a", 64) + `","email":"a@example.com"}`
	req := httptest.NewRequest("POST", "/customers", strings.NewReader(body))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
}
