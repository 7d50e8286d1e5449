package payment

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

	"github.com/pkg/errors"
	"payments/pkg/domain/model"
)

const (
	stripeDefaultAPIURL   = "https://api.stripe.com"
	stripeSignedEventType = "checkout.session.completed"

	// Signed timestamps older than this are treated as replays.
	stripeDefaultTolerance = 5 * time.Minute
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string
	Tolerance     time.Duration
}

type stripeProvider struct {
	cfg    StripeConfig
	client *http.Client
}

func NewStripeProvider(cfg StripeConfig, client *http.Client) Provider {
	if cfg.APIURL == "" {
		cfg.APIURL = stripeDefaultAPIURL
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = stripeDefaultTolerance
	}
	return &stripeProvider{cfg: cfg, client: client}
}

func (p *stripeProvider) Name() string { return "Stripe" }

// CreateSession builds a hosted checkout session with one line item per
// order item.
func (p *stripeProvider) CreateSession(ctx context.Context, order *model.Order, req SessionRequest) (*Session, error) {
	if p.cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer_email", order.Email)
	form.Set("success_url", fmt.Sprintf("%s?order_id=%s", req.SuccessURL, order.ID))
	form.Set("cancel_url", req.CancelURL)
	form.Set("payment_method_types[0]", "card")
	form.Set("payment_method_types[1]", "blik")
	form.Set("metadata[order_id]", order.ID.String())
	form.Set("metadata[order_number]", order.OrderNumber)

	for i, item := range order.Items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[quantity]", "1")
		form.Set(prefix+"[price_data][currency]", strings.ToLower(order.Currency))
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.Price, 10))
		form.Set(prefix+"[price_data][product_data][name]", item.PackageTitle)
		form.Set(prefix+"[price_data][product_data][description]", "Pakiet: "+item.PackageSlug)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.APIURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "stripe session request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "stripe session response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("stripe session request failed: status %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "stripe session response")
	}
	return &Session{URL: parsed.URL, SessionID: parsed.ID}, nil
}

// VerifyWebhook checks the Stripe-Signature header: HMAC-SHA256 over
// "<timestamp>.<body>" with the webhook secret, any v1 entry may match.
func (p *stripeProvider) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	if p.cfg.WebhookSecret == "" {
		return nil, ErrNotConfigured
	}

	timestamp, signatures, err := parseStripeSignature(signatureHeader)
	if err != nil {
		return nil, err
	}

	age := time.Since(time.Unix(timestamp, 0))
	if age > p.cfg.Tolerance || age < -p.cfg.Tolerance {
		return nil, errors.Wrap(ErrInvalidSignature, "timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			matched = true
		}
	}
	if !matched {
		return nil, errors.Wrap(ErrInvalidSignature, "no matching v1 signature")
	}

	var parsed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrap(ErrInvalidSignature, "malformed event payload")
	}
	return &Event{Type: parsed.Type, Raw: payload}, nil
}

func (p *stripeProvider) ExtractPaymentInfo(event *Event) (string, bool) {
	if event.Type != stripeSignedEventType {
		return "", false
	}
	var parsed struct {
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(event.Raw, &parsed); err != nil {
		return "", true
	}
	return parsed.Data.Object.ID, true
}

// parseStripeSignature splits "t=1712345678,v1=abcd,v1=ef01" into the
// timestamp and the decoded v1 candidates.
func parseStripeSignature(header string) (int64, [][]byte, error) {
	var (
		timestamp  int64
		signatures [][]byte
		sawT       bool
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
				return 0, nil, errors.Wrap(ErrInvalidSignature, "malformed timestamp")
			}
			timestamp = ts
			sawT = true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if !sawT || len(signatures) == 0 {
		return 0, nil, errors.Wrap(ErrInvalidSignature, "missing timestamp or v1 signature")
	}
	return timestamp, signatures, nil
}
