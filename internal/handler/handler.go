// Package handler содержит HTTP-обработчики API сервиса seomarket.
package handler

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/seomarket-system/internal/gateway"
	"github.com/mmeshcher/seomarket-system/internal/middleware"
	"github.com/mmeshcher/seomarket-system/internal/model"
	"github.com/mmeshcher/seomarket-system/internal/repository"
	"github.com/mmeshcher/seomarket-system/internal/service"
)

const maxUploadSize = 32 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*model.Order, error)
	TrackOrder(ctx context.Context, code string) (*model.Order, []model.StatusHistoryEntry, error)
	ListCatalog(ctx context.Context) ([]model.CatalogTier, error)
	ListOrders(ctx context.Context, st *model.OrderStatus, limit int) ([]model.Order, error)
	StartPayment(ctx context.Context, orderID int64, method model.PaymentMethod) (*gateway.PaymentIntent, error)
	CapturePayment(ctx context.Context, orderID int64, method model.PaymentMethod, gatewayOrderID string) (*service.ReconciliationResult, error)
	HandleWebhook(ctx context.Context, method model.PaymentMethod, headers http.Header, body []byte) (*service.ReconciliationResult, error)
	Transition(ctx context.Context, orderID int64, newStatus model.OrderStatus, note string, actor *string) (*model.Order, error)
	CompleteFulfillment(ctx context.Context, orderID int64, up service.DeliverableUpload) (*model.Order, error)
}

// Handler реализует HTTP-обработчики API сервиса seomarket.
type Handler struct {
	service       Service
	logger        *zap.Logger
	staffAuth     *middleware.StaffAuth
	staffLogin    string
	staffPassword string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.StaffAuth, staffLogin, staffPassword string) *Handler {
	return &Handler{
		service:       s,
		logger:        logger,
		staffAuth:     auth,
		staffLogin:    staffLogin,
		staffPassword: staffPassword,
	}
}

// writeError переводит ошибки бизнес-логики в HTTP-статусы согласно таксономии:
// ошибки входных данных, конфликты, ресурсные и интеграционные ошибки.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var code int

	switch {
	case errors.Is(err, repository.ErrInvalidTier), errors.Is(err, service.ErrInvalidQuantity):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrAmountMismatch), errors.Is(err, service.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, repository.ErrOrderNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrUnsupportedMethod):
		code = http.StatusBadRequest
	case errors.Is(err, repository.ErrResourceExhausted), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrReconciliationFailed):
		code = http.StatusBadGateway
	default:
		h.logger.Error("internal error", zap.Error(err))
		code = http.StatusInternalServerError
	}

	http.Error(w, http.StatusText(code), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type orderResponse struct {
	ID            int64   `json:"id"`
	TrackingCode  string  `json:"tracking_code"`
	Service       string  `json:"service"`
	Tier          string  `json:"tier"`
	UnitPrice     string  `json:"unit_price"`
	DeliveryDays  int     `json:"delivery_days"`
	Requirements  string  `json:"requirements,omitempty"`
	Quantity      int     `json:"quantity"`
	Total         string  `json:"total"`
	Status        string  `json:"status"`
	PaymentStatus string  `json:"payment_status"`
	Notes         string  `json:"notes,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func toOrderResponse(o *model.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		TrackingCode:  o.TrackingCode,
		Service:       o.ServiceName,
		Tier:          o.TierName,
		UnitPrice:     o.UnitPrice.StringFixed(2),
		DeliveryDays:  o.DeliveryDays,
		Requirements:  o.Requirements,
		Quantity:      o.Quantity,
		Total:         o.Total.StringFixed(2),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Notes:         o.Notes,
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.Format(time.RFC3339),
	}
}

type historyEntryResponse struct {
	Status    string  `json:"status"`
	Note      string  `json:"note,omitempty"`
	Actor     *string `json:"actor,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type createOrderRequest struct {
	TierID       int64   `json:"tier_id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	Website      string  `json:"website"`
	Phone        *string `json:"phone"`
	Requirements string  `json:"requirements"`
	Quantity     int     `json:"quantity"`
}

// CreateOrder создаёт новый заказ.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.TierID <= 0 || req.Name == "" || req.Email == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), service.CreateOrderInput{
		TierID:       req.TierID,
		CustomerName: req.Name,
		Email:        req.Email,
		Website:      req.Website,
		Phone:        req.Phone,
		Requirements: req.Requirements,
		Quantity:     req.Quantity,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetCatalog возвращает активные тарифы услуг.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.service.ListCatalog(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	type tierResponse struct {
		ID           int64  `json:"id"`
		Service      string `json:"service"`
		Name         string `json:"name"`
		Price        string `json:"price"`
		DeliveryDays int    `json:"delivery_days"`
	}

	resp := make([]tierResponse, 0, len(tiers))
	for _, t := range tiers {
		resp = append(resp, tierResponse{
			ID:           t.ID,
			Service:      t.ServiceName,
			Name:         t.Name,
			Price:        t.Price.StringFixed(2),
			DeliveryDays: t.DeliveryDays,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// TrackOrder возвращает заказ и журнал статусов по трек-коду.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	order, history, err := h.service.TrackOrder(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries := make([]historyEntryResponse, 0, len(history))
	for _, e := range history {
		entries = append(entries, historyEntryResponse{
			Status:    string(e.Status),
			Note:      e.Note,
			Actor:     e.Actor,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, struct {
		Order   orderResponse          `json:"order"`
		History []historyEntryResponse `json:"history"`
	}{toOrderResponse(order), entries})
}

func parsePaymentMethod(raw string) (model.PaymentMethod, bool) {
	switch model.PaymentMethod(raw) {
	case model.PaymentMethodPayPal, model.PaymentMethodStripe, model.PaymentMethodBankTransfer:
		return model.PaymentMethod(raw), true
	}
	return "", false
}

type startPaymentRequest struct {
	Method string `json:"method"`
}

// StartPayment создаёт платёж на стороне шлюза для указанного заказа.
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req startPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	method, ok := parsePaymentMethod(req.Method)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	intent, err := h.service.StartPayment(r.Context(), orderID, method)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		GatewayOrderID string `json:"gateway_order_id"`
		ApprovalURL    string `json:"approval_url"`
	}{intent.GatewayOrderID, intent.ApprovalURL})
}

type captureRequest struct {
	OrderID        int64  `json:"order_id"`
	GatewayOrderID string `json:"gateway_order_id"`
}

type reconciliationResponse struct {
	Order     orderResponse `json:"order"`
	Duplicate bool          `json:"duplicate"`
}

// CapturePayment подтверждает списание и сверяет результат с заказом.
func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	method, ok := parsePaymentMethod(chi.URLParam(r, "method"))
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.OrderID <= 0 || req.GatewayOrderID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.CapturePayment(r.Context(), req.OrderID, method, req.GatewayOrderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reconciliationResponse{
		Order:     toOrderResponse(res.Order),
		Duplicate: res.Duplicate,
	})
}

// Webhook принимает событие платёжного шлюза. Повторная доставка обрабатывается
// идемпотентно и также отвечает 200, чтобы шлюз не продолжал повторы.
func (h *Handler) Webhook(method model.PaymentMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		res, err := h.service.HandleWebhook(r.Context(), method, r.Header, body)
		if err != nil {
			h.writeError(w, err)
			return
		}

		if res == nil {
			// Событие не о расчётах: подтверждаем получение.
			w.WriteHeader(http.StatusOK)
			return
		}

		writeJSON(w, http.StatusOK, reconciliationResponse{
			Order:     toOrderResponse(res.Order),
			Duplicate: res.Duplicate,
		})
	}
}

type staffLoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// StaffLogin выполняет вход сотрудника и устанавливает cookie.
func (h *Handler) StaffLogin(w http.ResponseWriter, r *http.Request) {
	if h.staffLogin == "" || h.staffPassword == "" {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	var req staffLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	loginOK := hmac.Equal([]byte(req.Login), []byte(h.staffLogin))
	passwordOK := hmac.Equal([]byte(req.Password), []byte(h.staffPassword))
	if !loginOK || !passwordOK {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	h.staffAuth.SetAuthCookie(w, req.Login)
	w.WriteHeader(http.StatusOK)
}

// ListOrders возвращает заказы для сотрудников, опционально по статусу.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var st *model.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := model.OrderStatus(raw)
		st = &s
	}

	orders, err := h.service.ListOrders(r.Context(), st, 100)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type transitionRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// TransitionStatus переводит заказ в новый статус от имени сотрудника.
func (h *Handler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var actor *string
	if login, ok := middleware.GetStaffLoginFromContext(r.Context()); ok {
		actor = &login
	}

	order, err := h.service.Transition(r.Context(), orderID, model.OrderStatus(req.Status), req.Note, actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// UploadDeliverable принимает файл с результатом заказа и завершает выполнение.
func (h *Handler) UploadDeliverable(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	defer file.Close()

	uploadedBy := "system"
	if login, ok := middleware.GetStaffLoginFromContext(r.Context()); ok {
		uploadedBy = login
	}

	order, err := h.service.CompleteFulfillment(r.Context(), orderID, service.DeliverableUpload{
		FileName:   header.Filename,
		MIMEType:   header.Header.Get("Content-Type"),
		SizeBytes:  header.Size,
		UploadedBy: uploadedBy,
		Data:       file,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}
