package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"payments/pkg/domain/model"
)

const payuStatusCompleted = "COMPLETED"

type PayUConfig struct {
	APIURL       string
	PosID        string
	ClientID     string
	ClientSecret string
	// SecondKey signs webhook notifications.
	SecondKey string
	NotifyURL string
}

type payuProvider struct {
	cfg    PayUConfig
	client *http.Client
}

func NewPayUProvider(cfg PayUConfig, client *http.Client) Provider {
	return &payuProvider{cfg: cfg, client: client}
}

func (p *payuProvider) Name() string { return "PayU" }

// CreateSession fetches an OAuth token and creates a PayU order. PayU
// replies with a redirect carrying the JSON body we need, hence the
// no-follow HTTP client.
func (p *payuProvider) CreateSession(ctx context.Context, order *model.Order, req SessionRequest) (*Session, error) {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}

	token, err := p.oauthToken(ctx)
	if err != nil {
		return nil, err
	}

	type product struct {
		Name      string `json:"name"`
		UnitPrice int64  `json:"unitPrice"`
		Quantity  int    `json:"quantity"`
	}
	products := make([]product, 0, len(order.Items))
	for _, item := range order.Items {
		products = append(products, product{Name: item.PackageTitle, UnitPrice: item.Price, Quantity: 1})
	}

	firstName, lastName := splitBuyerName(order.Name)
	clientIP := req.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	payload := map[string]any{
		"notifyUrl":     p.cfg.NotifyURL,
		"customerIp":    clientIP,
		"merchantPosId": p.cfg.PosID,
		"description":   fmt.Sprintf("Zamówienie %s", order.OrderNumber),
		"currencyCode":  order.Currency,
		"totalAmount":   order.Total,
		"extOrderId":    order.ID.String(),
		"continueUrl":   req.SuccessURL,
		"buyer": map[string]string{
			"email":     order.Email,
			"firstName": firstName,
			"lastName":  lastName,
		},
		"products": products,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.APIURL+"/api/v2_1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "payu order request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "payu order response")
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusFound:
	default:
		return nil, errors.Errorf("payu order request failed: status %d: %s", resp.StatusCode, respBody)
	}

	var parsed struct {
		RedirectURI string `json:"redirectUri"`
		OrderID     string `json:"orderId"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrap(err, "payu order response")
	}
	return &Session{URL: parsed.RedirectURI, SessionID: parsed.OrderID}, nil
}

func (p *payuProvider) oauthToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.cfg.ClientID)
	form.Set("client_secret", p.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.APIURL+"/pl/standard/user/oauth/authorize", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "payu oauth request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("payu oauth failed: status %d", resp.StatusCode)
	}
	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "payu oauth response")
	}
	return parsed.AccessToken, nil
}

// VerifyWebhook checks the OpenPayu-style signature header. The header names
// its own digest algorithm; MD5 remains the legacy default when the field is
// absent. The digest covers rawBody+secondKey.
func (p *payuProvider) VerifyWebhook(payload []byte, signatureHeader string) (*Event, error) {
	if p.cfg.SecondKey == "" {
		return nil, ErrNotConfigured
	}

	signature, algorithm, err := parsePayUSignature(signatureHeader)
	if err != nil {
		return nil, err
	}

	hasher, err := payuHasher(algorithm)
	if err != nil {
		return nil, err
	}
	hasher.Write(payload)
	hasher.Write([]byte(p.cfg.SecondKey))
	expected := hasher.Sum(nil)

	if !hmac.Equal(signature, expected) {
		return nil, errors.Wrap(ErrInvalidSignature, "signature mismatch")
	}

	var parsed struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, errors.Wrap(ErrInvalidSignature, "malformed notification payload")
	}

	eventType := "unknown"
	if parsed.Order.Status != "" {
		eventType = "order." + strings.ToLower(parsed.Order.Status)
	}
	return &Event{Type: eventType, Raw: payload}, nil
}

func (p *payuProvider) ExtractPaymentInfo(event *Event) (string, bool) {
	var parsed struct {
		Order *struct {
			OrderID string `json:"orderId"`
			Status  string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(event.Raw, &parsed); err != nil || parsed.Order == nil {
		return "", false
	}
	return parsed.Order.OrderID, parsed.Order.Status == payuStatusCompleted
}

// parsePayUSignature splits "sender=checkout;signature=<hex>;algorithm=SHA-256"
// into the decoded signature and the declared algorithm.
func parsePayUSignature(header string) ([]byte, string, error) {
	fields := map[string]string{}
	for _, part := range strings.Split(header, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		fields[strings.ToLower(key)] = value
	}

	raw, ok := fields["signature"]
	if !ok || raw == "" {
		return nil, "", errors.Wrap(ErrInvalidSignature, "missing signature field")
	}
	signature, err := hex.DecodeString(raw)
	if err != nil {
		return nil, "", errors.Wrap(ErrInvalidSignature, "malformed signature field")
	}
	return signature, fields["algorithm"], nil
}

func payuHasher(algorithm string) (hash.Hash, error) {
	switch strings.ToUpper(strings.ReplaceAll(algorithm, "-", "")) {
	case "", "MD5":
		// Legacy default when the header names no algorithm.
		return md5.New(), nil
	case "SHA256":
		return sha256.New(), nil
	case "SHA384":
		return sha512.New384(), nil
	case "SHA512":
		return sha512.New(), nil
	default:
		return nil, errors.Wrapf(ErrInvalidSignature, "unsupported algorithm %q", algorithm)
	}
}

func splitBuyerName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "Customer", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}
