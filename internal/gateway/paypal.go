package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/seomarket-system/internal/model"
)

// PayPalClient инкапсулирует HTTP-взаимодействие с PayPal REST API.
type PayPalClient struct {
	baseURL    string
	clientID   string
	secret     string
	webhookID  string
	httpClient *http.Client
	tokens     tokenCache
}

// NewPayPalClient создаёт клиент PayPal для указанного окружения.
func NewPayPalClient(baseURL, clientID, secret, webhookID string) *PayPalClient {
	return &PayPalClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		secret:     secret,
		webhookID:  webhookID,
		httpClient: newHTTPClient(),
	}
}

// Method возвращает способ оплаты, обслуживаемый клиентом.
func (c *PayPalClient) Method() model.PaymentMethod {
	return model.PaymentMethodPayPal
}

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authenticate возвращает OAuth-токен, используя кэш до истечения срока действия.
func (c *PayPalClient) Authenticate(ctx context.Context) (string, error) {
	if token, ok := c.tokens.get(); ok {
		return token, nil
	}

	body := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", body)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: unexpected status %d", resp.StatusCode)
	}

	var tr paypalTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	c.tokens.set(tr.AccessToken, time.Duration(tr.ExpiresIn)*time.Second)

	return tr.AccessToken, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

// InitiatePayment создаёт заказ PayPal и возвращает ссылку на подтверждение оплаты.
// Трек-код заказа передаётся в custom_id и возвращается шлюзом в событиях вебхука.
func (c *PayPalClient) InitiatePayment(ctx context.Context, amount decimal.Decimal, currency, reference, description string) (*PaymentIntent, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"custom_id":   reference,
				"description": description,
				"amount": paypalAmount{
					CurrencyCode: currency,
					Value:        amount.StringFixed(2),
				},
			},
		},
	}

	var result struct {
		ID     string       `json:"id"`
		Status string       `json:"status"`
		Links  []paypalLink `json:"links"`
	}

	if _, err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", payload, &result); err != nil {
		return nil, fmt.Errorf("create paypal order: %w", err)
	}

	intent := &PaymentIntent{GatewayOrderID: result.ID}
	for _, link := range result.Links {
		if link.Rel == "approve" {
			intent.ApprovalURL = link.Href
		}
	}

	return intent, nil
}

type paypalCaptureResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string       `json:"id"`
				Status string       `json:"status"`
				Amount paypalAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CapturePayment подтверждает списание по заказу PayPal.
func (c *PayPalClient) CapturePayment(ctx context.Context, gatewayOrderID string) (*CaptureResult, error) {
	var result paypalCaptureResponse
	raw, err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders/"+gatewayOrderID+"/capture", map[string]any{}, &result)
	if err != nil {
		return nil, fmt.Errorf("capture paypal order: %w", err)
	}

	capture := &CaptureResult{
		Succeeded:  result.Status == "COMPLETED",
		GatewayRef: result.ID,
		Raw:        raw,
	}
	if !capture.Succeeded {
		capture.FailureReason = result.Status
	}
	if result.Payer.PayerID != "" {
		payerID := result.Payer.PayerID
		capture.PayerID = &payerID
	}

	if len(result.PurchaseUnits) > 0 && len(result.PurchaseUnits[0].Payments.Captures) > 0 {
		cap := result.PurchaseUnits[0].Payments.Captures[0]
		capture.GatewayRef = cap.ID
		capture.Currency = cap.Amount.CurrencyCode

		amount, err := decimal.NewFromString(cap.Amount.Value)
		if err != nil {
			return nil, fmt.Errorf("parse capture amount %q: %w", cap.Amount.Value, err)
		}
		capture.Amount = amount
	}

	return capture, nil
}

// VerifyWebhookSignature проверяет подпись вебхука через API PayPal.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, headers http.Header, body []byte) (bool, error) {
	payload := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.webhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}

	if _, err := c.doJSON(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &result); err != nil {
		return false, fmt.Errorf("verify webhook signature: %w", err)
	}

	return result.VerificationStatus == "SUCCESS", nil
}

type paypalWebhookEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID       string       `json:"id"`
		Status   string       `json:"status"`
		CustomID string       `json:"custom_id"`
		Amount   paypalAmount `json:"amount"`
		Payer    struct {
			PayerID string `json:"payer_id"`
		} `json:"payer"`
	} `json:"resource"`
}

// ParseWebhookEvent приводит событие PayPal к общему виду.
// Возвращает nil для событий, не связанных со списанием средств.
func (c *PayPalClient) ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event paypalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode paypal event: %w", err)
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED":
	default:
		return nil, nil
	}

	amount, err := decimal.NewFromString(event.Resource.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("parse event amount %q: %w", event.Resource.Amount.Value, err)
	}

	we := &WebhookEvent{
		Type:         event.EventType,
		TrackingCode: event.Resource.CustomID,
		GatewayRef:   event.Resource.ID,
		Amount:       amount,
		Currency:     event.Resource.Amount.CurrencyCode,
		Succeeded:    event.EventType == "PAYMENT.CAPTURE.COMPLETED",
		Raw:          body,
	}
	if event.Resource.Payer.PayerID != "" {
		payerID := event.Resource.Payer.PayerID
		we.PayerID = &payerID
	}

	return we, nil
}

func (c *PayPalClient) doJSON(ctx context.Context, method, path string, payload, result any) ([]byte, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

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
