package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/seomarket-system/internal/model"
)

// signatureTolerance ограничивает возраст подписанного вебхука Stripe.
const signatureTolerance = 5 * time.Minute

// StripeClient инкапсулирует HTTP-взаимодействие со Stripe API.
type StripeClient struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	httpClient    *http.Client
	now           func() time.Time
}

// NewStripeClient создаёт клиент Stripe.
func NewStripeClient(baseURL, secretKey, webhookSecret string) *StripeClient {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		httpClient:    newHTTPClient(),
		now:           time.Now,
	}
}

// Method возвращает способ оплаты, обслуживаемый клиентом.
func (c *StripeClient) Method() model.PaymentMethod {
	return model.PaymentMethodStripe
}

// Authenticate возвращает секретный ключ API: Stripe использует статический
// bearer-токен, отдельного шага получения токена нет.
func (c *StripeClient) Authenticate(ctx context.Context) (string, error) {
	if c.secretKey == "" {
		return "", fmt.Errorf("stripe client not configured")
	}
	return c.secretKey, nil
}

type stripePaymentIntent struct {
	ID             string `json:"id"`
	ClientSecret   string `json:"client_secret"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
	Customer       string `json:"customer"`
	Metadata       struct {
		TrackingCode string `json:"tracking_code"`
	} `json:"metadata"`
}

// InitiatePayment создаёт payment intent. Трек-код заказа передаётся в metadata
// и возвращается шлюзом в событиях вебхука.
func (c *StripeClient) InitiatePayment(ctx context.Context, amount decimal.Decimal, currency, reference, description string) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount.Shift(2).Round(0).IntPart(), 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("description", description)
	form.Set("capture_method", "manual")
	form.Set("metadata[tracking_code]", reference)

	var result stripePaymentIntent
	if _, err := c.doForm(ctx, "/v1/payment_intents", form, &result); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	return &PaymentIntent{
		GatewayOrderID: result.ID,
		ApprovalURL:    result.ClientSecret,
	}, nil
}

// CapturePayment подтверждает списание по payment intent.
func (c *StripeClient) CapturePayment(ctx context.Context, gatewayOrderID string) (*CaptureResult, error) {
	var result stripePaymentIntent
	raw, err := c.doForm(ctx, "/v1/payment_intents/"+gatewayOrderID+"/capture", url.Values{}, &result)
	if err != nil {
		return nil, fmt.Errorf("capture payment intent: %w", err)
	}

	capture := &CaptureResult{
		Succeeded:  result.Status == "succeeded",
		GatewayRef: result.ID,
		Amount:     decimal.New(result.AmountReceived, -2),
		Currency:   strings.ToUpper(result.Currency),
		Raw:        raw,
	}
	if !capture.Succeeded {
		capture.FailureReason = result.Status
	}
	if result.Customer != "" {
		customer := result.Customer
		capture.PayerID = &customer
	}

	return capture, nil
}

// VerifyWebhookSignature проверяет подпись Stripe-Signature: HMAC-SHA256 от
// строки "timestamp.body" с секретом вебхука и допуском по времени.
func (c *StripeClient) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	header := headers.Get("Stripe-Signature")
	if header == "" {
		return false, nil
	}

	var (
		timestamp  int64
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return false, nil
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return false, nil
	}

	age := c.now().Sub(time.Unix(timestamp, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return false, nil
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true, nil
		}
	}

	return false, nil
}

type stripeWebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object stripePaymentIntent `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent приводит событие Stripe к общему виду.
// Возвращает nil для событий, не связанных со списанием средств.
func (c *StripeClient) ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event stripeWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
	default:
		return nil, nil
	}

	intent := event.Data.Object

	amountCents := intent.AmountReceived
	if amountCents == 0 {
		amountCents = intent.Amount
	}

	we := &WebhookEvent{
		Type:         event.Type,
		TrackingCode: intent.Metadata.TrackingCode,
		GatewayRef:   intent.ID,
		Amount:       decimal.New(amountCents, -2),
		Currency:     strings.ToUpper(intent.Currency),
		Succeeded:    event.Type == "payment_intent.succeeded",
		Raw:          body,
	}
	if intent.Customer != "" {
		customer := intent.Customer
		we.PayerID = &customer
	}

	return we, nil
}

func (c *StripeClient) doForm(ctx context.Context, path string, form url.Values, result any) ([]byte, error) {
	key, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return raw, nil
}
