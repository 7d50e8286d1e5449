package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payments/pkg/domain/model"
	"payments/pkg/domain/service"
	"payments/pkg/payment"
)

func setup(t *testing.T) (*Processor, *stubProvider, *spyOrderRepository, *stubFulfillment, *spyEffects) {
	provider := &stubProvider{name: "Stripe"}
	orders := &spyOrderRepository{store: make(map[string]*model.Order)}
	fulfillment := &stubFulfillment{result: &service.FulfillmentResult{Status: service.FulfillmentSucceeded, User: &model.User{ID: uuid.New()}}}
	effects := &spyEffects{}
	processor := NewProcessor(
		map[model.PaymentProvider]payment.Provider{model.ProviderStripe: provider},
		orders, fulfillment, effects,
	)
	return processor, provider, orders, fulfillment, effects
}

func addOrder(orders *spyOrderRepository, paymentRef string) *model.Order {
	order := &model.Order{
		ID:              uuid.New(),
		OrderNumber:     "ORD-20260121-A3F9",
		Email:           "buyer@example.com",
		Status:          model.OrderProcessing,
		Total:           9900,
		Currency:        "PLN",
		PaymentProvider: model.ProviderStripe,
		PaymentIntentID: &paymentRef,
	}
	orders.store[paymentRef] = order
	return order
}

func TestHandleSignatureFailures(t *testing.T) {
	t.Run("Unknown provider answers 404", func(t *testing.T) {
		processor, _, _, _, _ := setup(t)

		result := processor.Handle("przelewy24", []byte(`{}`), "sig")

		assert.Equal(t, http.StatusNotFound, result.HTTPStatus)
		assert.Equal(t, StatusError, result.Status)
	})

	t.Run("Missing signature answers 400", func(t *testing.T) {
		processor, _, orders, _, effects := setup(t)

		result := processor.Handle(model.ProviderStripe, []byte(`{}`), "")

		assert.Equal(t, http.StatusBadRequest, result.HTTPStatus)
		assert.Equal(t, "Brak sygnatury Stripe", result.Message)
		assert.Zero(t, orders.lookups)
		assert.Empty(t, effects.jobs)
	})

	t.Run("Invalid signature answers 400", func(t *testing.T) {
		processor, provider, orders, _, _ := setup(t)
		provider.verifyErr = payment.ErrInvalidSignature

		result := processor.Handle(model.ProviderStripe, []byte(`{}`), "bad")

		assert.Equal(t, http.StatusBadRequest, result.HTTPStatus)
		assert.Equal(t, "Weryfikacja sygnatury nie powiodła się", result.Message)
		assert.Zero(t, orders.lookups)
	})
}

func TestHandleAcknowledgesWithoutLookup(t *testing.T) {
	processor, provider, orders, fulfillment, effects := setup(t)
	provider.event = &payment.Event{Type: "payment_intent.created"}
	provider.shouldProcess = false

	result := processor.Handle(model.ProviderStripe, []byte(`{}`), "sig")

	assert.Equal(t, http.StatusOK, result.HTTPStatus)
	assert.Equal(t, StatusAcknowledged, result.Status)
	assert.Zero(t, orders.lookups)
	assert.Zero(t, fulfillment.calls)
	assert.Empty(t, effects.jobs)
}

func TestHandleProcessingOutcomes(t *testing.T) {
	t.Run("Missing payment reference answers error with 200", func(t *testing.T) {
		processor, provider, _, _, _ := setup(t)
		provider.event = &payment.Event{Type: "checkout.session.completed"}
		provider.shouldProcess = true
		provider.paymentRef = ""

		result := processor.Handle(model.ProviderStripe, []byte(`{}`), "sig")

		assert.Equal(t, http.StatusOK, result.HTTPStatus)
		assert.Equal(t, StatusError, result.Status)
		assert.Equal(t, "Missing payment ID", result.Message)
	})

	t.Run("Unknown order answers error with 200", func(t *testing.T) {
		processor, provider, _, _, _ := setup(t)
		provider.event = &payment.Event{Type: "checkout.session.completed"}
		provider.shouldProcess = true
		provider.paymentRef = "cs_missing"

		result := processor.Handle(model.ProviderStripe, []byte(`{}`), "sig")

		assert.Equal(t, http.StatusOK, result.HTTPStatus)
		assert.Equal(t, "Order not found", result.Message)
	})

	t.Run("Fulfillment failure answers error with 200", func(t *testing.T) {
		processor, provider, orders, fulfillment, effects := setup(t)
		provider.event = &payment.Event{Type: "checkout.session.completed"}
		provider.shouldProcess = true
		provider.paymentRef = "cs_test_123"
		addOrder(orders, "cs_test_123")
		fulfillment.err = errors.New("deadlock")

		result := processor.Handle(model.ProviderStripe, []byte(`{}`), "sig")

		assert.Equal(t, http.StatusOK, result.HTTPStatus)
		assert.Equal(t, StatusError, result.Status)
		assert.Equal(t, "Błąd przetwarzania płatności", result.Message)
		assert.Empty(t, effects.jobs)
	})

	t.Run("Already processed answers success without side effects", func(t *testing.T) {
		processor, provider, orders, fulfillment, effects := setup(t)
		provider.event = &payment.Event{Type: "checkout.session.completed"}
		provider.shouldProcess = true
		provider.paymentRef = "cs_test_123"
		order := addOrder(orders, "cs_test_123")
		fulfillment.result = &service.FulfillmentResult{Status: service.FulfillmentAlreadyProcessed}

		result := processor.Handle(model.ProviderStripe, []byte(`{}`), "sig")

		assert.Equal(t, http.StatusOK, result.HTTPStatus)
		assert.Equal(t, StatusSuccess, result.Status)
		assert.Equal(t, order.ID.String(), result.OrderID)
		assert.Equal(t, "already processed", result.Message)
		assert.Empty(t, effects.jobs)
	})

	t.Run("Fresh fulfillment enqueues side effects", func(t *testing.T) {
		processor, provider, orders, fulfillment, effects := setup(t)
		provider.event = &payment.Event{Type: "checkout.session.completed"}
		provider.shouldProcess = true
		provider.paymentRef = "cs_test_123"
		order := addOrder(orders, "cs_test_123")

		result := processor.Handle(model.ProviderStripe, []byte(`{}`), "sig")

		assert.Equal(t, http.StatusOK, result.HTTPStatus)
		assert.Equal(t, StatusSuccess, result.Status)
		assert.Equal(t, order.ID.String(), result.OrderID)
		assert.Equal(t, 1, fulfillment.calls)
		require.Len(t, effects.jobs, 1)
		assert.Equal(t, order.ID, effects.jobs[0].ID)
	})
}

type stubProvider struct {
	name          string
	verifyErr     error
	event         *payment.Event
	paymentRef    string
	shouldProcess bool
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) CreateSession(ctx context.Context, order *model.Order, req payment.SessionRequest) (*payment.Session, error) {
	return nil, payment.ErrNotConfigured
}

func (s *stubProvider) VerifyWebhook(payload []byte, signatureHeader string) (*payment.Event, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.event, nil
}

func (s *stubProvider) ExtractPaymentInfo(event *payment.Event) (string, bool) {
	return s.paymentRef, s.shouldProcess
}

// spyOrderRepository counts lookups so tests can prove acknowledged events
// never touch the orders table.
type spyOrderRepository struct {
	store   map[string]*model.Order
	lookups int
}

func (s *spyOrderRepository) Create(order *model.Order) error { return nil }

func (s *spyOrderRepository) FindByID(id uuid.UUID) (*model.Order, error) {
	return nil, model.ErrOrderNotFound
}

func (s *spyOrderRepository) FindByPaymentIntentID(paymentIntentID string) (*model.Order, error) {
	s.lookups++
	if order, ok := s.store[paymentIntentID]; ok {
		return order, nil
	}
	return nil, model.ErrOrderNotFound
}

func (s *spyOrderRepository) LockByID(id uuid.UUID) (*model.Order, error) {
	return nil, model.ErrOrderNotFound
}

func (s *spyOrderRepository) Update(order *model.Order) error { return nil }

func (s *spyOrderRepository) UpdateInvoice(id uuid.UUID, details model.InvoiceDetails) error {
	return nil
}

type stubFulfillment struct {
	result *service.FulfillmentResult
	err    error
	calls  int
}

func (s *stubFulfillment) ProcessSuccessfulPayment(order *model.Order) (*service.FulfillmentResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type spyEffects struct {
	jobs []*model.Order
}

func (s *spyEffects) EnqueueFulfillment(order *model.Order, result *service.FulfillmentResult) {
	s.jobs = append(s.jobs, order)
}
