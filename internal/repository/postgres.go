// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/seomarket-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrInvalidTier возвращается, если тариф не найден или неактивен.
var (
	ErrInvalidTier = errors.New("invalid or inactive tier")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrTrackingCollision возвращается при конфликте уникальности трек-кода заказа.
	ErrTrackingCollision = errors.New("tracking code collision")
	// ErrResourceExhausted возвращается, если соединение из пула не удалось получить за отведённое время.
	ErrResourceExhausted = errors.New("connection pool exhausted")
)

const acquireTimeout = 5 * time.Second

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTransaction выполняет fn в рамках одной транзакции: commit при успехе,
// rollback при любой ошибке. Конфликты сериализации и дедлоки повторяются с backoff.
func (r *PostgresRepository) WithinTransaction(ctx context.Context, fn func(uow UnitOfWork) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.runTransaction(ctx, fn)
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
			return retry.RetryableError(err)
		}

		return err
	})
}

func (r *PostgresRepository) runTransaction(ctx context.Context, fn func(uow UnitOfWork) error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	conn, err := r.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrResourceExhausted, err)
		}
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgxUnitOfWork{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

const orderColumns = `id, tracking_code, customer_id, service_name, tier_name, unit_price_cents,
	 delivery_days, requirements, quantity, total_cents, status, payment_status, notes,
	 created_at, updated_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o              model.Order
		unitPriceCents int64
		totalCents     int64
		status         string
		paymentStatus  string
	)

	err := row.Scan(&o.ID, &o.TrackingCode, &o.CustomerID, &o.ServiceName, &o.TierName,
		&unitPriceCents, &o.DeliveryDays, &o.Requirements, &o.Quantity, &totalCents,
		&status, &paymentStatus, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.UnitPrice = centsToDecimal(unitPriceCents)
	o.Total = centsToDecimal(totalCents)
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)

	return &o, nil
}

// GetOrderByID возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, orderID int64) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		orderID,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	return o, nil
}

// GetOrderByTrackingCode возвращает заказ по трек-коду.
func (r *PostgresRepository) GetOrderByTrackingCode(ctx context.Context, code string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE tracking_code = $1`,
		code,
	)

	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by tracking code: %w", err)
	}

	return o, nil
}

// GetCustomerByID возвращает клиента по идентификатору.
func (r *PostgresRepository) GetCustomerByID(ctx context.Context, customerID int64) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, email, website, phone, created_at FROM customers WHERE id = $1`,
		customerID,
	)

	var c model.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Website, &c.Phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("customer %d not found", customerID)
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	return &c, nil
}

// GetOrderHistory возвращает журнал статусов заказа в порядке добавления.
func (r *PostgresRepository) GetOrderHistory(ctx context.Context, orderID int64) ([]model.StatusHistoryEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, status, note, actor, created_at
		 FROM status_history
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()

	var res []model.StatusHistoryEntry
	for rows.Next() {
		var (
			e      model.StatusHistoryEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &status, &e.Note, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Status = model.OrderStatus(status)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListOrders возвращает заказы, опционально отфильтрованные по статусу.
func (r *PostgresRepository) ListOrders(ctx context.Context, st *model.OrderStatus, limit int) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	args := []any{}

	if st != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*st))
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListCatalog возвращает активные тарифы активных услуг.
func (r *PostgresRepository) ListCatalog(ctx context.Context) ([]model.CatalogTier, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, s.name, t.name, t.price_cents, t.delivery_days
		 FROM service_tiers t
		 JOIN services s ON s.id = t.service_id
		 WHERE t.active AND s.active
		 ORDER BY s.name, t.price_cents`,
	)
	if err != nil {
		return nil, fmt.Errorf("select catalog: %w", err)
	}
	defer rows.Close()

	var res []model.CatalogTier
	for rows.Next() {
		var (
			tier       model.CatalogTier
			priceCents int64
		)
		if err := rows.Scan(&tier.ID, &tier.ServiceName, &tier.Name, &priceCents, &tier.DeliveryDays); err != nil {
			return nil, fmt.Errorf("scan tier: %w", err)
		}
		tier.Price = centsToDecimal(priceCents)
		res = append(res, tier)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
