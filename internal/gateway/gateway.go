// Package gateway предоставляет клиенты внешних платёжных шлюзов.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/seomarket-system/internal/model"
)

// Client описывает общий контракт платёжного шлюза: авторизация, создание
// платежа, подтверждение списания и проверка подписи вебхука.
type Client interface {
	Method() model.PaymentMethod
	Authenticate(ctx context.Context) (string, error)
	InitiatePayment(ctx context.Context, amount decimal.Decimal, currency, reference, description string) (*PaymentIntent, error)
	CapturePayment(ctx context.Context, gatewayOrderID string) (*CaptureResult, error)
	VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error)
	ParseWebhookEvent(body []byte) (*WebhookEvent, error)
}

// PaymentIntent содержит идентификатор платежа на стороне шлюза и ссылку
// для подтверждения оплаты клиентом.
type PaymentIntent struct {
	GatewayOrderID string
	ApprovalURL    string
}

// CaptureResult описывает результат списания средств.
type CaptureResult struct {
	Succeeded     bool
	FailureReason string
	GatewayRef    string
	PayerID       *string
	Amount        decimal.Decimal
	Currency      string
	Raw           []byte
}

// WebhookEvent описывает расчётное событие вебхука, приведённое к общему виду.
// Nil возвращается парсером для событий, не влияющих на расчёты.
type WebhookEvent struct {
	Type         string
	TrackingCode string
	GatewayRef   string
	PayerID      *string
	Amount       decimal.Decimal
	Currency     string
	Succeeded    bool
	Raw          []byte
}

// newHTTPClient создаёт HTTP-клиент с повтором временных ошибок и общим таймаутом.
func newHTTPClient() *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil
	rc.HTTPClient.Timeout = 10 * time.Second
	return rc.StandardClient()
}

// tokenCache хранит токен шлюза до истечения срока действия.
// Повторное получение токена идемпотентно, поэтому гонка при обновлении безопасна.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (c *tokenCache) get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || time.Now().After(c.expiresAt) {
		return "", false
	}
	return c.token, true
}

func (c *tokenCache) set(token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = token
	// Обновляем чуть раньше фактического истечения.
	c.expiresAt = time.Now().Add(ttl - 30*time.Second)
}
