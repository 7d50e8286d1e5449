package webhook

import (
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"payments/pkg/domain/model"
	"payments/pkg/domain/service"
	"payments/pkg/payment"
)

type Status string

const (
	StatusSuccess      Status = "success"
	StatusAcknowledged Status = "acknowledged"
	StatusError        Status = "error"
)

// Result is the JSON envelope returned to the provider. Signature failures
// are the only class mapped to a non-200 HTTPStatus; everything past
// verification answers 200 so the provider does not pile up retries for
// conditions redelivery cannot fix.
type Result struct {
	Status  Status `json:"status"`
	OrderID string `json:"order_id,omitempty"`
	Message string `json:"message,omitempty"`

	HTTPStatus int `json:"-"`
}

// SideEffects accepts the committed fulfillment outcome for post-commit
// work (email, invoice). Implementations must not block the caller.
type SideEffects interface {
	EnqueueFulfillment(order *model.Order, result *service.FulfillmentResult)
}

// Processor is the provider-agnostic webhook lifecycle: verify, extract,
// look up, fulfill, translate.
type Processor struct {
	providers   map[model.PaymentProvider]payment.Provider
	orders      model.OrderRepository
	fulfillment service.FulfillmentService
	effects     SideEffects
}

func NewProcessor(providers map[model.PaymentProvider]payment.Provider, orders model.OrderRepository, fulfillment service.FulfillmentService, effects SideEffects) *Processor {
	return &Processor{
		providers:   providers,
		orders:      orders,
		fulfillment: fulfillment,
		effects:     effects,
	}
}

func (p *Processor) Handle(providerKey model.PaymentProvider, payload []byte, signature string) Result {
	provider, ok := p.providers[providerKey]
	if !ok {
		return Result{Status: StatusError, Message: "unknown provider", HTTPStatus: http.StatusNotFound}
	}
	logger := log.WithField("provider", provider.Name())

	if signature == "" {
		logger.Warn("Webhook rejected: missing signature header")
		return Result{
			Status:     StatusError,
			Message:    "Brak sygnatury " + provider.Name(),
			HTTPStatus: http.StatusBadRequest,
		}
	}

	event, err := provider.VerifyWebhook(payload, signature)
	if err != nil {
		logger.WithError(err).Error("Webhook verification failed")
		return Result{
			Status:     StatusError,
			Message:    "Weryfikacja sygnatury nie powiodła się",
			HTTPStatus: http.StatusBadRequest,
		}
	}

	paymentRef, shouldProcess := provider.ExtractPaymentInfo(event)

	if !shouldProcess {
		// Deliberately answered without an order lookup: recognized
		// non-completion events carry nothing to fulfill.
		logger.WithField("event_type", event.Type).Info("Webhook acknowledged")
		return Result{Status: StatusAcknowledged, HTTPStatus: http.StatusOK}
	}

	if paymentRef == "" {
		logger.Error("Payment event carries no payment reference")
		return Result{Status: StatusError, Message: "Missing payment ID", HTTPStatus: http.StatusOK}
	}

	logger = logger.WithField("payment_intent_id", paymentRef)
	logger.Info("Processing payment webhook")

	order, err := p.orders.FindByPaymentIntentID(paymentRef)
	if errors.Is(err, model.ErrOrderNotFound) {
		logger.Error("No order for payment reference")
		return Result{Status: StatusError, Message: "Order not found", HTTPStatus: http.StatusOK}
	}
	if err != nil {
		logger.WithError(err).Error("Order lookup failed")
		return Result{Status: StatusError, Message: "Błąd przetwarzania płatności", HTTPStatus: http.StatusOK}
	}

	outcome, err := p.fulfillment.ProcessSuccessfulPayment(order)
	if err != nil {
		logger.WithError(err).WithField("order_id", order.ID).Error("Payment processing failed")
		return Result{Status: StatusError, Message: "Błąd przetwarzania płatności", HTTPStatus: http.StatusOK}
	}

	if outcome.Status == service.FulfillmentAlreadyProcessed {
		logger.WithField("order_id", order.ID).Info("Order already processed, skipping")
		return Result{
			Status:     StatusSuccess,
			OrderID:    order.ID.String(),
			Message:    "already processed",
			HTTPStatus: http.StatusOK,
		}
	}

	p.effects.EnqueueFulfillment(order, outcome)

	logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"enrollments": len(outcome.Enrollments),
	}).Info("Payment processed")

	return Result{Status: StatusSuccess, OrderID: order.ID.String(), HTTPStatus: http.StatusOK}
}
