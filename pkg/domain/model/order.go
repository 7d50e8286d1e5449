package model

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrderNumber = errors.New("order number is already taken")
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
)

type PaymentProvider string

const (
	ProviderStripe PaymentProvider = "stripe"
	ProviderPayU   PaymentProvider = "payu"
)

// Order is one purchase attempt. Rows are never deleted; completed orders
// are retained for accounting.
type Order struct {
	ID          uuid.UUID
	OrderNumber string

	// Nil until fulfillment creates or matches an account.
	UserID *uuid.UUID
	Email  string
	Name   string

	Status   OrderStatus
	Subtotal int64 // minor currency units
	Total    int64
	Currency string

	PaymentProvider    PaymentProvider
	PaymentIntentID    *string
	PaymentCompletedAt *time.Time

	// WebhookProcessed may flip false->true exactly once; once set,
	// fulfillment is a no-op for this order.
	WebhookProcessed bool

	InvoiceID       *int64
	InvoiceNumber   *string
	InvoiceToken    *string
	InvoiceIssuedAt *time.Time

	BuyerTaxNo       *string
	BuyerCompanyName *string
	BuyerStreet      *string
	BuyerPostCode    *string
	BuyerCity        *string

	CreatedAt time.Time
	UpdatedAt time.Time

	Items []OrderItem
}

// OrderItem is an immutable purchase-time snapshot of one package.
type OrderItem struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	PackageID    uuid.UUID
	PackageTitle string
	PackageSlug  string
	Price        int64 // minor currency units
	CreatedAt    time.Time
}

// InvoiceDetails carries the fields populated by a successful
// invoice-provider call. They are written in a commit of their own,
// independent from the fulfillment transaction.
type InvoiceDetails struct {
	InvoiceID     int64
	InvoiceNumber string
	InvoiceToken  string
	IssuedAt      time.Time
}

type OrderRepository interface {
	Create(order *Order) error
	FindByID(id uuid.UUID) (*Order, error)
	FindByPaymentIntentID(paymentIntentID string) (*Order, error)
	// LockByID loads the order row under a row-level lock. Callers must hold
	// a transaction for the lock to mean anything.
	LockByID(id uuid.UUID) (*Order, error)
	Update(order *Order) error
	UpdateInvoice(id uuid.UUID, details InvoiceDetails) error
}

// NewOrderNumber builds a human-readable order number, e.g. ORD-20260121-A3F9.
// The random suffix is not guaranteed unique; the orders table enforces
// uniqueness and collisions surface as ErrDuplicateOrderNumber.
func NewOrderNumber(now time.Time) string {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("order number entropy: %v", err))
	}
	suffix := strings.ToUpper(hex.EncodeToString(b[:]))
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
