// Package service реализует бизнес-логику сервиса seomarket: создание заказов,
// машину статусов и сверку оплат с внешними шлюзами.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/seomarket-system/internal/gateway"
	"github.com/mmeshcher/seomarket-system/internal/model"
	"github.com/mmeshcher/seomarket-system/internal/notify"
	"github.com/mmeshcher/seomarket-system/internal/repository"
	"github.com/mmeshcher/seomarket-system/internal/status"
)

// ErrInvalidQuantity возвращается при недопустимом количестве в заказе.
var (
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 100")
	// ErrInvalidTransition возвращается при запрещённом переходе статуса заказа.
	ErrInvalidTransition = errors.New("illegal status transition")
	// ErrAmountMismatch возвращается, если сумма шлюза не совпадает с суммой заказа.
	ErrAmountMismatch = errors.New("gateway amount does not match order total")
	// ErrUnsupportedMethod возвращается для неизвестного способа оплаты.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	// ErrInvalidSignature возвращается при неверной подписи вебхука.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrReconciliationFailed возвращается при неразрешимом конфликте сверки оплаты.
	ErrReconciliationFailed = errors.New("payment reconciliation failed")
)

const maxQuantity = 100

// amountTolerance покрывает округление на стороне шлюза: расхождение больше
// одного цента считается ошибкой данных.
var amountTolerance = decimal.New(1, -2)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	WithinTransaction(ctx context.Context, fn func(uow repository.UnitOfWork) error) error
	GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error)
	GetOrderByTrackingCode(ctx context.Context, code string) (*model.Order, error)
	GetOrderHistory(ctx context.Context, orderID int64) ([]model.StatusHistoryEntry, error)
	GetCustomerByID(ctx context.Context, customerID int64) (*model.Customer, error)
	ListOrders(ctx context.Context, st *model.OrderStatus, limit int) ([]model.Order, error)
	ListCatalog(ctx context.Context) ([]model.CatalogTier, error)
}

// FileStore описывает контракт хранения файлов с результатами заказов.
type FileStore interface {
	StagePendingUpload(data io.Reader, name string) (string, error)
	Discard(path string) error
}

// Service содержит бизнес-логику сервиса seomarket.
type Service struct {
	repo           Repository
	gateways       map[model.PaymentMethod]gateway.Client
	sender         notify.Sender
	files          FileStore
	logger         *zap.Logger
	trackingPrefix string
	currency       string
}

// NewService создаёт сервис с явно переданными коллабораторами.
func NewService(repo Repository, gateways map[model.PaymentMethod]gateway.Client, sender notify.Sender, files FileStore, logger *zap.Logger, trackingPrefix, currency string) *Service {
	return &Service{
		repo:           repo,
		gateways:       gateways,
		sender:         sender,
		files:          files,
		logger:         logger,
		trackingPrefix: trackingPrefix,
		currency:       currency,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateOrderInput содержит данные запроса на создание заказа.
type CreateOrderInput struct {
	TierID       int64
	CustomerName string
	Email        string
	Website      string
	Phone        *string
	Requirements string
	Quantity     int
}

// CreateOrder создаёт заказ: снимок тарифа, upsert клиента, трек-код и первая
// запись журнала статусов — всё в одной транзакции.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	if in.Quantity < 1 || in.Quantity > maxQuantity {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuantity, in.Quantity)
	}

	order, err := s.createOrderOnce(ctx, in)
	if errors.Is(err, repository.ErrTrackingCollision) {
		// Конфликт уникальности трек-кода: повторяем один раз с новым номером.
		order, err = s.createOrderOnce(ctx, in)
	}
	if err != nil {
		return nil, err
	}

	s.runAfterCommit(ctx, func(ctx context.Context) {
		s.sender.NotifyOrderCreated(ctx, order, in.Email)
	})

	return order, nil
}

func (s *Service) createOrderOnce(ctx context.Context, in CreateOrderInput) (*model.Order, error) {
	var order *model.Order

	err := s.repo.WithinTransaction(ctx, func(uow repository.UnitOfWork) error {
		snap, err := uow.ResolveTier(ctx, in.TierID)
		if err != nil {
			return err
		}

		customerID, err := uow.UpsertCustomer(ctx, in.CustomerName, in.Email, in.Website, in.Phone)
		if err != nil {
			return err
		}

		now := time.Now()
		day := now.Format("20060102")

		seq, err := uow.NextTrackingSeq(ctx, day)
		if err != nil {
			return err
		}

		o := &model.Order{
			TrackingCode:  formatTrackingCode(s.trackingPrefix, day, seq),
			CustomerID:    customerID,
			ServiceName:   snap.ServiceName,
			TierName:      snap.TierName,
			UnitPrice:     snap.Price,
			DeliveryDays:  snap.DeliveryDays,
			Requirements:  in.Requirements,
			Quantity:      in.Quantity,
			Total:         snap.Price.Mul(decimal.NewFromInt(int64(in.Quantity))),
			Status:        model.OrderStatusPending,
			PaymentStatus: model.PaymentStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		id, err := uow.CreateOrder(ctx, o)
		if err != nil {
			return err
		}
		o.ID = id

		entry := &model.StatusHistoryEntry{
			OrderID: id,
			Status:  model.OrderStatusPending,
			Note:    "Order created",
		}
		if err := uow.InsertStatusHistory(ctx, entry); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func formatTrackingCode(prefix, day string, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day, seq)
}

// Transition переводит заказ в новый статус с записью в журнал.
func (s *Service) Transition(ctx context.Context, orderID int64, newStatus model.OrderStatus, note string, actor *string) (*model.Order, error) {
	if !status.IsValid(newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	var order *model.Order

	err := s.repo.WithinTransaction(ctx, func(uow repository.UnitOfWork) error {
		o, err := uow.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if err := s.applyTransition(ctx, uow, o, newStatus, note, actor); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.runAfterCommit(ctx, func(ctx context.Context) {
		s.notifyStatusChanged(ctx, order)
	})

	return order, nil
}

// applyTransition проверяет допустимость перехода и выполняет обе записи
// (статус заказа и журнал) внутри транзакции вызывающей стороны.
func (s *Service) applyTransition(ctx context.Context, uow repository.UnitOfWork, order *model.Order, to model.OrderStatus, note string, actor *string) error {
	if !status.CanTransition(order.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
	}

	if err := uow.UpdateOrderStatus(ctx, order.ID, to); err != nil {
		return err
	}

	entry := &model.StatusHistoryEntry{
		OrderID: order.ID,
		Status:  to,
		Note:    note,
		Actor:   actor,
	}
	if err := uow.InsertStatusHistory(ctx, entry); err != nil {
		return err
	}

	order.Status = to
	return nil
}

// Settlement описывает расчётные данные шлюза, приведённые к общему виду.
type Settlement struct {
	Method        model.PaymentMethod
	GatewayRef    string
	PayerID       *string
	Amount        decimal.Decimal
	Currency      string
	Succeeded     bool
	FailureReason string
	Raw           []byte
}

// ReconciliationResult описывает итог сверки оплаты.
type ReconciliationResult struct {
	Order     *model.Order
	Payment   *model.Payment
	Duplicate bool
}

// Reconcile сверяет расчёт шлюза с заказом. Запись оплаты и переход статуса
// фиксируются в одной транзакции; повторная доставка того же расчёта
// распознаётся по ссылке шлюза и завершается без изменений.
func (s *Service) Reconcile(ctx context.Context, orderID int64, st Settlement) (*ReconciliationResult, error) {
	var result ReconciliationResult

	err := s.repo.WithinTransaction(ctx, func(uow repository.UnitOfWork) error {
		result = ReconciliationResult{}

		order, err := uow.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		if st.Amount.Sub(order.Total).Abs().GreaterThan(amountTolerance) {
			return fmt.Errorf("%w: gateway %s, order total %s",
				ErrAmountMismatch, st.Amount.StringFixed(2), order.Total.StringFixed(2))
		}

		paid, err := uow.GetPaidPayment(ctx, orderID)
		if err != nil {
			return err
		}
		if paid != nil {
			if paid.GatewayRef == st.GatewayRef {
				// Повторная доставка вебхука или двойной запрос подтверждения.
				result = ReconciliationResult{Order: order, Payment: paid, Duplicate: true}
				return nil
			}
			return fmt.Errorf("%w: order %d already settled with reference %s",
				ErrReconciliationFailed, orderID, paid.GatewayRef)
		}

		payment := &model.Payment{
			OrderID:     orderID,
			Method:      st.Method,
			GatewayRef:  st.GatewayRef,
			PayerID:     st.PayerID,
			Amount:      st.Amount,
			Currency:    st.Currency,
			RawResponse: st.Raw,
		}

		if st.Succeeded {
			payment.Status = model.PaymentStatusPaid
		} else {
			payment.Status = model.PaymentStatusFailed
		}

		id, err := uow.InsertPayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = id

		if err := uow.SetPaymentStatus(ctx, orderID, payment.Status); err != nil {
			return err
		}
		order.PaymentStatus = payment.Status

		if st.Succeeded {
			if err := s.applyTransition(ctx, uow, order, model.OrderStatusConfirmed, "Payment received and confirmed", nil); err != nil {
				return err
			}
		}
		// Неуспешный расчёт не двигает конвейер выполнения: статус заказа не меняется.

		result = ReconciliationResult{Order: order, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Duplicate && st.Succeeded {
		s.runAfterCommit(ctx, func(ctx context.Context) {
			s.notifyStatusChanged(ctx, result.Order)
		})
	}

	return &result, nil
}

// StartPayment создаёт платёж на стороне шлюза и возвращает данные для
// подтверждения оплаты клиентом.
func (s *Service) StartPayment(ctx context.Context, orderID int64, method model.PaymentMethod) (*gateway.PaymentIntent, error) {
	gw, ok := s.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	description := fmt.Sprintf("%s / %s x%d", order.ServiceName, order.TierName, order.Quantity)

	intent, err := gw.InitiatePayment(ctx, order.Total, s.currency, order.TrackingCode, description)
	if err != nil {
		return nil, fmt.Errorf("initiate payment: %w", err)
	}

	return intent, nil
}

// CapturePayment подтверждает списание на стороне шлюза и сверяет результат с заказом.
func (s *Service) CapturePayment(ctx context.Context, orderID int64, method model.PaymentMethod, gatewayOrderID string) (*ReconciliationResult, error) {
	gw, ok := s.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	res, err := gw.CapturePayment(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("capture payment: %w", err)
	}

	return s.Reconcile(ctx, orderID, Settlement{
		Method:        method,
		GatewayRef:    res.GatewayRef,
		PayerID:       res.PayerID,
		Amount:        res.Amount,
		Currency:      res.Currency,
		Succeeded:     res.Succeeded,
		FailureReason: res.FailureReason,
		Raw:           res.Raw,
	})
}

// HandleWebhook проверяет подпись вебхука, находит заказ по трек-коду из
// метаданных шлюза и сверяет расчёт через общую точку входа Reconcile.
// Для событий, не связанных с расчётами, возвращается nil без ошибки.
func (s *Service) HandleWebhook(ctx context.Context, method model.PaymentMethod, headers http.Header, body []byte) (*ReconciliationResult, error) {
	gw, ok := s.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	valid, err := gw.VerifyWebhookSignature(ctx, headers, body)
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	event, err := gw.ParseWebhookEvent(body)
	if err != nil {
		return nil, fmt.Errorf("parse webhook event: %w", err)
	}
	if event == nil {
		return nil, nil
	}

	order, err := s.repo.GetOrderByTrackingCode(ctx, event.TrackingCode)
	if err != nil {
		return nil, err
	}

	return s.Reconcile(ctx, order.ID, Settlement{
		Method:     method,
		GatewayRef: event.GatewayRef,
		PayerID:    event.PayerID,
		Amount:     event.Amount,
		Currency:   event.Currency,
		Succeeded:  event.Succeeded,
		Raw:        event.Raw,
	})
}

// DeliverableUpload содержит загружаемый файл с результатом заказа.
type DeliverableUpload struct {
	FileName   string
	MIMEType   string
	SizeBytes  int64
	UploadedBy string
	Data       io.Reader
}

// CompleteFulfillment сохраняет файл с результатом и переводит заказ в completed.
// При откате транзакции сохранённый файл удаляется.
func (s *Service) CompleteFulfillment(ctx context.Context, orderID int64, up DeliverableUpload) (*model.Order, error) {
	path, err := s.files.StagePendingUpload(up.Data, up.FileName)
	if err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}

	var order *model.Order

	err = s.repo.WithinTransaction(ctx, func(uow repository.UnitOfWork) error {
		o, err := uow.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}

		actor := up.UploadedBy
		if err := s.applyTransition(ctx, uow, o, model.OrderStatusCompleted, "Deliverables uploaded", &actor); err != nil {
			return err
		}

		d := &model.Deliverable{
			OrderID:     orderID,
			FileName:    up.FileName,
			StoragePath: path,
			MIMEType:    up.MIMEType,
			SizeBytes:   up.SizeBytes,
			UploadedBy:  up.UploadedBy,
		}
		if err := uow.InsertDeliverable(ctx, d); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		if derr := s.files.Discard(path); derr != nil {
			s.logger.Error("discard staged upload", zap.Error(derr), zap.String("path", path))
		}
		return nil, err
	}

	s.runAfterCommit(ctx, func(ctx context.Context) {
		customer, err := s.repo.GetCustomerByID(ctx, order.CustomerID)
		if err != nil {
			s.logger.Error("load customer for notification", zap.Error(err), zap.Int64("orderID", order.ID))
			return
		}
		s.sender.NotifyFulfilled(ctx, order, customer.Email)
	})

	return order, nil
}

// TrackOrder возвращает заказ и журнал статусов по трек-коду.
func (s *Service) TrackOrder(ctx context.Context, code string) (*model.Order, []model.StatusHistoryEntry, error) {
	order, err := s.repo.GetOrderByTrackingCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	history, err := s.repo.GetOrderHistory(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}

	return order, history, nil
}

// ListOrders возвращает заказы, опционально отфильтрованные по статусу.
func (s *Service) ListOrders(ctx context.Context, st *model.OrderStatus, limit int) ([]model.Order, error) {
	return s.repo.ListOrders(ctx, st, limit)
}

// ListCatalog возвращает активные тарифы.
func (s *Service) ListCatalog(ctx context.Context) ([]model.CatalogTier, error) {
	return s.repo.ListCatalog(ctx)
}

// runAfterCommit выполняет побочные действия после фиксации транзакции.
// Ошибки и паники хуков не влияют на результат операции.
func (s *Service) runAfterCommit(ctx context.Context, hooks ...func(ctx context.Context)) {
	for _, hook := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("post-commit hook panic", zap.Any("panic", r))
				}
			}()
			hook(ctx)
		}()
	}
}

func (s *Service) notifyStatusChanged(ctx context.Context, order *model.Order) {
	customer, err := s.repo.GetCustomerByID(ctx, order.CustomerID)
	if err != nil {
		s.logger.Error("load customer for notification", zap.Error(err), zap.Int64("orderID", order.ID))
		return
	}
	s.sender.NotifyStatusChanged(ctx, order, customer.Email)
}
