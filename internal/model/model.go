// Package model содержит доменные сущности сервиса seomarket.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус выполнения заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatus описывает статус оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod описывает способ оплаты.
type PaymentMethod string

const (
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodStripe       PaymentMethod = "stripe"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// Customer представляет клиента, идентифицируемого по email.
type Customer struct {
	ID        int64
	Name      string
	Email     string
	Website   string
	Phone     *string
	CreatedAt time.Time
}

// CatalogSnapshot содержит денормализованную копию тарифа на момент создания заказа.
type CatalogSnapshot struct {
	TierID       int64
	ServiceName  string
	TierName     string
	Price        decimal.Decimal
	DeliveryDays int
}

// CatalogTier описывает тариф услуги в прайс-листе.
type CatalogTier struct {
	ID           int64
	ServiceName  string
	Name         string
	Price        decimal.Decimal
	DeliveryDays int
}

// Order описывает заказ клиента со снимком тарифа и статусами.
type Order struct {
	ID            int64
	TrackingCode  string
	CustomerID    int64
	ServiceName   string
	TierName      string
	UnitPrice     decimal.Decimal
	DeliveryDays  int
	Requirements  string
	Quantity      int
	Total         decimal.Decimal
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Payment описывает попытку оплаты заказа через внешний шлюз.
type Payment struct {
	ID          int64
	OrderID     int64
	Method      PaymentMethod
	GatewayRef  string
	PayerID     *string
	Amount      decimal.Decimal
	Currency    string
	Status      PaymentStatus
	RawResponse []byte
	CreatedAt   time.Time
}

// StatusHistoryEntry описывает запись в журнале статусов заказа. Записи только добавляются.
type StatusHistoryEntry struct {
	ID        int64
	OrderID   int64
	Status    OrderStatus
	Note      string
	Actor     *string
	CreatedAt time.Time
}

// Deliverable описывает файл с результатом выполнения заказа.
type Deliverable struct {
	ID          int64
	OrderID     int64
	FileName    string
	StoragePath string
	MIMEType    string
	SizeBytes   int64
	UploadedBy  string
	CreatedAt   time.Time
}
