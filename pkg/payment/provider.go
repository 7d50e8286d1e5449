package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"payments/pkg/domain/model"
)

var (
	// ErrInvalidSignature covers absent, malformed and mismatched webhook
	// signatures. The transport layer maps it to HTTP 400; nothing past
	// verification ever sees the payload.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrNotConfigured    = errors.New("payment provider is not configured")
)

// Session is the provider-side checkout representation created for an order.
type Session struct {
	URL       string
	SessionID string
}

// SessionRequest carries the per-request inputs for CreateSession.
type SessionRequest struct {
	SuccessURL string
	CancelURL  string
	ClientIP   string
}

// Event is a verified, parsed webhook payload. Raw keeps the full body so
// per-provider extractors can pull fields the shared shape does not model.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// Provider is the capability set every payment integration implements.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, order *model.Order, req SessionRequest) (*Session, error)
	// VerifyWebhook authenticates the raw body against the signature header
	// and parses it. Any failure is ErrInvalidSignature (possibly wrapped).
	VerifyWebhook(payload []byte, signatureHeader string) (*Event, error)
	// ExtractPaymentInfo returns the payment reference the order was seeded
	// with and whether the event should trigger fulfillment.
	ExtractPaymentInfo(event *Event) (paymentRef string, shouldProcess bool)
}

// Config holds every provider's settings, built once at startup and passed
// in explicitly; adapters never read ambient state at call time.
type Config struct {
	Stripe StripeConfig
	PayU   PayUConfig

	// HTTPTimeout bounds every outbound provider call.
	HTTPTimeout time.Duration
}

func (c Config) httpClient() *http.Client {
	timeout := c.HTTPTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// PayU answers order creation with a redirect whose body we need.
			return http.ErrUseLastResponse
		},
	}
}

// ForProvider selects the adapter for an order's payment provider.
func ForProvider(provider model.PaymentProvider, cfg Config) (Provider, error) {
	switch provider {
	case model.ProviderStripe:
		return NewStripeProvider(cfg.Stripe, cfg.httpClient()), nil
	case model.ProviderPayU:
		return NewPayUProvider(cfg.PayU, cfg.httpClient()), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider: %s", provider)
	}
}
