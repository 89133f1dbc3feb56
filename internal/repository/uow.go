package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/seomarket-system/internal/model"
)

// UnitOfWork описывает операции с данными, доступные внутри одной транзакции.
// Чтение заказа выполняется с блокировкой строки, поэтому конкурирующие операции
// над одним заказом сериализуются на уровне БД.
type UnitOfWork interface {
	ResolveTier(ctx context.Context, tierID int64) (*model.CatalogSnapshot, error)
	UpsertCustomer(ctx context.Context, name, email, website string, phone *string) (int64, error)
	NextTrackingSeq(ctx context.Context, day string) (int64, error)
	CreateOrder(ctx context.Context, o *model.Order) (int64, error)
	GetOrderForUpdate(ctx context.Context, orderID int64) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, st model.OrderStatus) error
	SetPaymentStatus(ctx context.Context, orderID int64, ps model.PaymentStatus) error
	InsertStatusHistory(ctx context.Context, e *model.StatusHistoryEntry) error
	InsertPayment(ctx context.Context, p *model.Payment) (int64, error)
	GetPaidPayment(ctx context.Context, orderID int64) (*model.Payment, error)
	InsertDeliverable(ctx context.Context, d *model.Deliverable) error
}

type pgxUnitOfWork struct {
	tx pgx.Tx
}

// ResolveTier возвращает снимок тарифа. Тариф и его услуга должны быть активны.
func (u *pgxUnitOfWork) ResolveTier(ctx context.Context, tierID int64) (*model.CatalogSnapshot, error) {
	row := u.tx.QueryRow(ctx,
		`SELECT t.id, s.name, t.name, t.price_cents, t.delivery_days
		 FROM service_tiers t
		 JOIN services s ON s.id = t.service_id
		 WHERE t.id = $1 AND t.active AND s.active`,
		tierID,
	)

	var (
		snap       model.CatalogSnapshot
		priceCents int64
	)
	err := row.Scan(&snap.TierID, &snap.ServiceName, &snap.TierName, &priceCents, &snap.DeliveryDays)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: tier %d", ErrInvalidTier, tierID)
		}
		return nil, fmt.Errorf("resolve tier: %w", err)
	}

	snap.Price = centsToDecimal(priceCents)
	return &snap, nil
}

// UpsertCustomer создаёт клиента или обновляет имя и сайт существующего.
// Email нормализуется; телефон сохраняется, если новый не передан.
func (u *pgxUnitOfWork) UpsertCustomer(ctx context.Context, name, email, website string, phone *string) (int64, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))

	var id int64
	err := u.tx.QueryRow(ctx,
		`INSERT INTO customers (name, email, website, phone)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO UPDATE
		 SET name = EXCLUDED.name,
		     website = EXCLUDED.website,
		     phone = COALESCE(EXCLUDED.phone, customers.phone)
		 RETURNING id`,
		name, normalized, website, phone,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert customer: %w", err)
	}

	return id, nil
}

// NextTrackingSeq возвращает следующий номер заказа за указанный день.
func (u *pgxUnitOfWork) NextTrackingSeq(ctx context.Context, day string) (int64, error) {
	var value int64
	err := u.tx.QueryRow(ctx,
		`INSERT INTO tracking_sequences (day, value) VALUES ($1, 1)
		 ON CONFLICT (day) DO UPDATE SET value = tracking_sequences.value + 1
		 RETURNING value`,
		day,
	).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("next tracking seq: %w", err)
	}

	return value, nil
}

// CreateOrder сохраняет новый заказ. Уникальность трек-кода обеспечивается
// ограничением БД: конфликт возвращается как ErrTrackingCollision.
func (u *pgxUnitOfWork) CreateOrder(ctx context.Context, o *model.Order) (int64, error) {
	var id int64
	err := u.tx.QueryRow(ctx,
		`INSERT INTO orders (tracking_code, customer_id, service_name, tier_name, unit_price_cents,
		                     delivery_days, requirements, quantity, total_cents, status, payment_status, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		o.TrackingCode, o.CustomerID, o.ServiceName, o.TierName, decimalToCents(o.UnitPrice),
		o.DeliveryDays, o.Requirements, o.Quantity, decimalToCents(o.Total),
		string(o.Status), string(o.PaymentStatus), o.Notes,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrTrackingCollision, o.TrackingCode)
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}

	return id, nil
}

// GetOrderForUpdate читает заказ с блокировкой строки (SELECT ... FOR UPDATE).
func (u *pgxUnitOfWork) GetOrderForUpdate(ctx context.Context, orderID int64) (*model.Order, error) {
	row := u.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`,
		orderID,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	return o, nil
}

// UpdateOrderStatus обновляет статус заказа.
func (u *pgxUnitOfWork) UpdateOrderStatus(ctx context.Context, orderID int64, st model.OrderStatus) error {
	_, err := u.tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(st),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

// SetPaymentStatus обновляет статус оплаты заказа.
func (u *pgxUnitOfWork) SetPaymentStatus(ctx context.Context, orderID int64, ps model.PaymentStatus) error {
	_, err := u.tx.Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		orderID, string(ps),
	)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return nil
}

// InsertStatusHistory добавляет запись в журнал статусов заказа.
func (u *pgxUnitOfWork) InsertStatusHistory(ctx context.Context, e *model.StatusHistoryEntry) error {
	err := u.tx.QueryRow(ctx,
		`INSERT INTO status_history (order_id, status, note, actor)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		e.OrderID, string(e.Status), e.Note, e.Actor,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// InsertPayment сохраняет попытку оплаты вместе с необработанным ответом шлюза.
func (u *pgxUnitOfWork) InsertPayment(ctx context.Context, p *model.Payment) (int64, error) {
	var id int64
	err := u.tx.QueryRow(ctx,
		`INSERT INTO payments (order_id, method, gateway_ref, payer_id, amount_cents, currency, status, raw_response)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		p.OrderID, string(p.Method), p.GatewayRef, p.PayerID,
		decimalToCents(p.Amount), p.Currency, string(p.Status), p.RawResponse,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert payment: %w", err)
	}

	return id, nil
}

// GetPaidPayment возвращает успешную оплату заказа, если она есть.
func (u *pgxUnitOfWork) GetPaidPayment(ctx context.Context, orderID int64) (*model.Payment, error) {
	row := u.tx.QueryRow(ctx,
		`SELECT id, order_id, method, gateway_ref, payer_id, amount_cents, currency, status, raw_response, created_at
		 FROM payments
		 WHERE order_id = $1 AND status = $2`,
		orderID, string(model.PaymentStatusPaid),
	)

	var (
		p           model.Payment
		method      string
		amountCents int64
		payStatus   string
	)
	err := row.Scan(&p.ID, &p.OrderID, &method, &p.GatewayRef, &p.PayerID,
		&amountCents, &p.Currency, &payStatus, &p.RawResponse, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get paid payment: %w", err)
	}

	p.Method = model.PaymentMethod(method)
	p.Amount = centsToDecimal(amountCents)
	p.Status = model.PaymentStatus(payStatus)

	return &p, nil
}

// InsertDeliverable сохраняет метаданные файла с результатом заказа.
func (u *pgxUnitOfWork) InsertDeliverable(ctx context.Context, d *model.Deliverable) error {
	err := u.tx.QueryRow(ctx,
		`INSERT INTO deliverables (order_id, file_name, storage_path, mime_type, size_bytes, uploaded_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		d.OrderID, d.FileName, d.StoragePath, d.MIMEType, d.SizeBytes, d.UploadedBy,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert deliverable: %w", err)
	}
	return nil
}
