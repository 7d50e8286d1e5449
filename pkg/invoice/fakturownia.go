// Package invoice integrates with the Fakturownia.pl invoicing API.
// Invoice issuance is best-effort: a completed order with no invoice is a
// valid terminal state, reconciled out-of-band.
package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"payments/pkg/domain/model"
)

const vatRate = 23 // standard Polish VAT

type Config struct {
	APIToken  string
	Subdomain string

	SellerName        string
	SellerTaxNo       string
	SellerStreet      string
	SellerPostCode    string
	SellerCity        string
	SellerCountry     string
	SellerBank        string
	SellerBankAccount string

	Timeout time.Duration
}

// Invoice is the provider's reference for an issued invoice.
type Invoice struct {
	ID     int64
	Number string
	// Token grants public access to the PDF.
	Token string
}

type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// IsConfigured reports whether invoice issuance is enabled at all. The
// side-effect worker skips invoicing entirely when it is not.
func (c *Client) IsConfigured() bool {
	return c.cfg.APIToken != "" && c.cfg.Subdomain != ""
}

func (c *Client) baseURL() string {
	return fmt.Sprintf("https://%s.fakturownia.pl", c.cfg.Subdomain)
}

// InvoicePDFURL returns the public PDF location for an issued invoice.
func (c *Client) InvoicePDFURL(token string) string {
	return fmt.Sprintf("%s/invoice/%s.pdf", c.baseURL(), token)
}

// CreateInvoice issues a paid VAT invoice for a completed order.
func (c *Client) CreateInvoice(ctx context.Context, order *model.Order) (*Invoice, error) {
	if !c.IsConfigured() {
		return nil, errors.New("fakturownia is not configured")
	}

	payload, err := json.Marshal(c.buildPayload(order))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL()+"/invoices.json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fakturownia request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "fakturownia response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("fakturownia API error: status %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		ID     int64  `json:"id"`
		Number string `json:"number"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "fakturownia response")
	}
	return &Invoice{ID: parsed.ID, Number: parsed.Number, Token: parsed.Token}, nil
}

func (c *Client) buildPayload(order *model.Order) map[string]any {
	today := time.Now().UTC().Format("2006-01-02")

	paymentType := "transfer"
	if order.PaymentProvider == model.ProviderStripe {
		paymentType = "card"
	}

	positions := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		positions = append(positions, map[string]any{
			"name":              item.PackageTitle,
			"quantity":          1,
			"quantity_unit":     "szt.",
			"total_price_gross": minorToDecimal(item.Price),
			"tax":               vatRate,
		})
	}

	// Company name wins over the personal one on B2B purchases.
	buyerName := order.Name
	if order.BuyerCompanyName != nil && *order.BuyerCompanyName != "" {
		buyerName = *order.BuyerCompanyName
	}

	return map[string]any{
		"api_token": c.cfg.APIToken,
		"invoice": map[string]any{
			"kind":         "vat",
			"number":       nil, // provider auto-numbers
			"sell_date":    today,
			"issue_date":   today,
			"payment_to":   today,
			"payment_type": paymentType,
			"status":       "paid",
			"paid":         fmt.Sprintf("%.2f", minorToDecimal(order.Total)),
			"currency":     order.Currency,
			"lang":         "pl",

			"seller_name":         c.cfg.SellerName,
			"seller_tax_no":       c.cfg.SellerTaxNo,
			"seller_street":       c.cfg.SellerStreet,
			"seller_post_code":    c.cfg.SellerPostCode,
			"seller_city":         c.cfg.SellerCity,
			"seller_country":      c.cfg.SellerCountry,
			"seller_bank":         c.cfg.SellerBank,
			"seller_bank_account": c.cfg.SellerBankAccount,

			"buyer_name":      buyerName,
			"buyer_email":     order.Email,
			"buyer_tax_no":    strOrEmpty(order.BuyerTaxNo),
			"buyer_street":    strOrEmpty(order.BuyerStreet),
			"buyer_post_code": strOrEmpty(order.BuyerPostCode),
			"buyer_city":      strOrEmpty(order.BuyerCity),
			"buyer_country":   "PL",

			"positions":   positions,
			"description": fmt.Sprintf("Zamówienie nr %s", order.OrderNumber),
			"oid":         order.ID.String(),
			"send_email":  true,
		},
	}
}

func minorToDecimal(minor int64) float64 {
	return float64(minor) / 100.0
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
