package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/seomarket-system/internal/gateway"
	"github.com/mmeshcher/seomarket-system/internal/middleware"
	"github.com/mmeshcher/seomarket-system/internal/model"
	"github.com/mmeshcher/seomarket-system/internal/repository"
	"github.com/mmeshcher/seomarket-system/internal/service"
)

type stubService struct {
	createOrderResp *model.Order
	createOrderErr  error

	trackOrderResp    *model.Order
	trackOrderHistory []model.StatusHistoryEntry
	trackOrderErr     error

	catalogResp []model.CatalogTier
	catalogErr  error

	listOrdersResp   []model.Order
	listOrdersErr    error
	listOrdersStatus *model.OrderStatus

	startPaymentResp *gateway.PaymentIntent
	startPaymentErr  error

	captureResp *service.ReconciliationResult
	captureErr  error

	webhookResp *service.ReconciliationResult
	webhookErr  error

	transitionResp  *model.Order
	transitionErr   error
	transitionActor *string

	fulfillResp   *model.Order
	fulfillErr    error
	fulfillUpload service.DeliverableUpload
}

func (s *stubService) CreateOrder(ctx context.Context, in service.CreateOrderInput) (*model.Order, error) {
	return s.createOrderResp, s.createOrderErr
}

func (s *stubService) TrackOrder(ctx context.Context, code string) (*model.Order, []model.StatusHistoryEntry, error) {
	return s.trackOrderResp, s.trackOrderHistory, s.trackOrderErr
}

func (s *stubService) ListCatalog(ctx context.Context) ([]model.CatalogTier, error) {
	return s.catalogResp, s.catalogErr
}

func (s *stubService) ListOrders(ctx context.Context, st *model.OrderStatus, limit int) ([]model.Order, error) {
	s.listOrdersStatus = st
	return s.listOrdersResp, s.listOrdersErr
}

func (s *stubService) StartPayment(ctx context.Context, orderID int64, method model.PaymentMethod) (*gateway.PaymentIntent, error) {
	return s.startPaymentResp, s.startPaymentErr
}

func (s *stubService) CapturePayment(ctx context.Context, orderID int64, method model.PaymentMethod, gatewayOrderID string) (*service.ReconciliationResult, error) {
	return s.captureResp, s.captureErr
}

func (s *stubService) HandleWebhook(ctx context.Context, method model.PaymentMethod, headers http.Header, body []byte) (*service.ReconciliationResult, error) {
	return s.webhookResp, s.webhookErr
}

func (s *stubService) Transition(ctx context.Context, orderID int64, newStatus model.OrderStatus, note string, actor *string) (*model.Order, error) {
	s.transitionActor = actor
	return s.transitionResp, s.transitionErr
}

func (s *stubService) CompleteFulfillment(ctx context.Context, orderID int64, up service.DeliverableUpload) (*model.Order, error) {
	s.fulfillUpload = up
	return s.fulfillResp, s.fulfillErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewStaffAuth("test-secret")

	return NewHandler(svc, logger, auth, "manager", "s3cret")
}

func sampleOrder() *model.Order {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.Order{
		ID:            7,
		TrackingCode:  "SEO-20250601-0007",
		ServiceName:   "SEO Promotion",
		TierName:      "Standard",
		UnitPrice:     decimal.New(90000, -2),
		DeliveryDays:  21,
		Quantity:      1,
		Total:         decimal.New(90000, -2),
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreateOrder_Success(t *testing.T) {
	svc := &stubService{createOrderResp: sampleOrder()}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{
		TierID:   2,
		Name:     "Alice",
		Email:    "alice@example.com",
		Quantity: 1,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TrackingCode != "SEO-20250601-0007" {
		t.Fatalf("tracking code = %q", resp.TrackingCode)
	}
	if resp.Total != "900.00" {
		t.Fatalf("total = %q, want 900.00", resp.Total)
	}
}

func TestCreateOrder_MissingFields(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{TierID: 2, Quantity: 1})

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCreateOrder_InvalidTier(t *testing.T) {
	svc := &stubService{createOrderErr: repository.ErrInvalidTier}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(createOrderRequest{
		TierID:   99,
		Name:     "Alice",
		Email:    "alice@example.com",
		Quantity: 1,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	if rec.Result().StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestTrackOrder_Success(t *testing.T) {
	actor := "manager"
	svc := &stubService{
		trackOrderResp: sampleOrder(),
		trackOrderHistory: []model.StatusHistoryEntry{
			{Status: model.OrderStatusPending, Note: "Order created", CreatedAt: time.Now()},
			{Status: model.OrderStatusConfirmed, Actor: &actor, CreatedAt: time.Now()},
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/SEO-20250601-0007", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp struct {
		Order   orderResponse          `json:"order"`
		History []historyEntryResponse `json:"history"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.History) != 2 {
		t.Fatalf("history entries = %d, want 2", len(resp.History))
	}
	if resp.History[1].Actor == nil || *resp.History[1].Actor != "manager" {
		t.Fatalf("second entry actor = %v, want manager", resp.History[1].Actor)
	}
}

func TestTrackOrder_NotFound(t *testing.T) {
	svc := &stubService{trackOrderErr: repository.ErrOrderNotFound}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/orders/SEO-20250601-9999", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestGetCatalog(t *testing.T) {
	svc := &stubService{
		catalogResp: []model.CatalogTier{
			{ID: 1, ServiceName: "SEO Promotion", Name: "Basic", Price: decimal.New(45000, -2), DeliveryDays: 14},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/catalog", nil)
	rec := httptest.NewRecorder()

	h.GetCatalog(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp []struct {
		Name  string `json:"name"`
		Price string `json:"price"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].Price != "450.00" {
		t.Fatalf("unexpected catalog response: %+v", resp)
	}
}

func TestStartPayment_Success(t *testing.T) {
	svc := &stubService{
		startPaymentResp: &gateway.PaymentIntent{
			GatewayOrderID: "PAY-123",
			ApprovalURL:    "https://gateway.example.com/approve/PAY-123",
		},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(startPaymentRequest{Method: "paypal"})
	req := httptest.NewRequest(http.MethodPost, "/api/orders/7/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp struct {
		GatewayOrderID string `json:"gateway_order_id"`
		ApprovalURL    string `json:"approval_url"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.GatewayOrderID != "PAY-123" {
		t.Fatalf("gateway order id = %q", resp.GatewayOrderID)
	}
}

func TestStartPayment_UnknownMethod(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(startPaymentRequest{Method: "bitcoin"})
	req := httptest.NewRequest(http.MethodPost, "/api/orders/7/payments", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCapturePayment_AmountMismatch(t *testing.T) {
	svc := &stubService{captureErr: service.ErrAmountMismatch}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(captureRequest{OrderID: 7, GatewayOrderID: "PAY-123"})
	req := httptest.NewRequest(http.MethodPost, "/api/payments/paypal/capture", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestCapturePayment_Duplicate(t *testing.T) {
	order := sampleOrder()
	order.Status = model.OrderStatusConfirmed
	order.PaymentStatus = model.PaymentStatusPaid
	svc := &stubService{
		captureResp: &service.ReconciliationResult{Order: order, Duplicate: true},
	}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(captureRequest{OrderID: 7, GatewayOrderID: "PAY-123"})
	req := httptest.NewRequest(http.MethodPost, "/api/payments/paypal/capture", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp reconciliationResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Duplicate {
		t.Fatalf("duplicate flag not set")
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	svc := &stubService{webhookErr: service.ErrInvalidSignature}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestWebhook_IgnoredEvent(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/paypal", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
}

func TestStaffLogin_SetsCookie(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(staffLoginRequest{Login: "manager", Password: "s3cret"})
	req := httptest.NewRequest(http.MethodPost, "/api/staff/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.StaffLogin(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("auth cookie not set")
	}
}

func TestStaffLogin_WrongPassword(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(staffLoginRequest{Login: "manager", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/staff/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.StaffLogin(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func staffCookie(t *testing.T, h *Handler) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	h.staffAuth.SetAuthCookie(rec, "manager")
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatalf("no staff cookie issued")
	}
	return cookies[0]
}

func TestStaffOrders_RequiresAuth(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/staff/orders", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestStaffOrders_FilterByStatus(t *testing.T) {
	svc := &stubService{listOrdersResp: []model.Order{*sampleOrder()}}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/staff/orders?status=pending", nil)
	req.AddCookie(staffCookie(t, h))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
	if svc.listOrdersStatus == nil || *svc.listOrdersStatus != model.OrderStatusPending {
		t.Fatalf("status filter not passed to service")
	}
}

func TestStaffOrders_NoContent(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/staff/orders", nil)
	req.AddCookie(staffCookie(t, h))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestTransitionStatus_PassesActor(t *testing.T) {
	order := sampleOrder()
	order.Status = model.OrderStatusInProgress
	svc := &stubService{transitionResp: order}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(transitionRequest{Status: "in_progress", Note: "Work started"})
	req := httptest.NewRequest(http.MethodPost, "/api/staff/orders/7/status", bytes.NewReader(body))
	req.AddCookie(staffCookie(t, h))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}
	if svc.transitionActor == nil || *svc.transitionActor != "manager" {
		t.Fatalf("actor = %v, want manager", svc.transitionActor)
	}
}

func TestTransitionStatus_Conflict(t *testing.T) {
	svc := &stubService{transitionErr: service.ErrInvalidTransition}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	body, _ := json.Marshal(transitionRequest{Status: "completed"})
	req := httptest.NewRequest(http.MethodPost, "/api/staff/orders/7/status", bytes.NewReader(body))
	req.AddCookie(staffCookie(t, h))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestUploadDeliverable_Success(t *testing.T) {
	order := sampleOrder()
	order.Status = model.OrderStatusCompleted
	svc := &stubService{fulfillResp: order}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "report.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, "final report"); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/staff/orders/7/deliverables", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(staffCookie(t, h))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.fulfillUpload.FileName != "report.pdf" {
		t.Fatalf("file name = %q, want report.pdf", svc.fulfillUpload.FileName)
	}
	if svc.fulfillUpload.UploadedBy != "manager" {
		t.Fatalf("uploaded by = %q, want manager", svc.fulfillUpload.UploadedBy)
	}

	var resp orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(model.OrderStatusCompleted) {
		t.Fatalf("status = %q, want completed", resp.Status)
	}
}

func TestUploadDeliverable_MissingFile(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)
	router := h.SetupRouter()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/staff/orders/7/deliverables", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(staffCookie(t, h))
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}
