package tests

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"payments/pkg/domain/model"
	"payments/pkg/domain/service"
)

func setupFulfillment(t *testing.T) (service.FulfillmentService, *mockRepos, *mockEventDispatcher) {
	repos := newMockRepos()
	dispatcher := &mockEventDispatcher{}
	fulfillmentService := service.NewFulfillmentService(&mockTxManager{repos: repos}, 48*time.Hour, dispatcher)
	return fulfillmentService, repos, dispatcher
}

func newTestOrder(email string, packageIDs ...uuid.UUID) *model.Order {
	now := time.Now().UTC()
	order := &model.Order{
		ID:              uuid.New(),
		OrderNumber:     model.NewOrderNumber(now),
		Email:           email,
		Name:            "Jan Kowalski",
		Status:          model.OrderProcessing,
		Subtotal:        9900,
		Total:           9900,
		Currency:        "PLN",
		PaymentProvider: model.ProviderStripe,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, packageID := range packageIDs {
		order.Items = append(order.Items, model.OrderItem{
			ID:           uuid.New(),
			OrderID:      order.ID,
			PackageID:    packageID,
			PackageTitle: "Kurs",
			PackageSlug:  "kurs",
			Price:        9900,
			CreatedAt:    now,
		})
	}
	return order
}

func TestProcessSuccessfulPayment(t *testing.T) {
	t.Run("Provisions a new account", func(t *testing.T) {
		fulfillmentService, repos, dispatcher := setupFulfillment(t)
		packageID := repos.addPackage("go-basics", false)
		order := newTestOrder("new@example.com", packageID)
		repos.addOrder(order)

		result, err := fulfillmentService.ProcessSuccessfulPayment(order)

		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, service.FulfillmentSucceeded, result.Status)
		assert.True(t, result.IsNewUser)
		assert.Greater(t, len(result.ResetToken), 20)

		user, err := repos.users.FindByEmail("new@example.com")
		require.NoError(t, err)
		assert.Equal(t, result.User.ID, user.ID)
		assert.False(t, user.HasUsablePassword())
		assert.Equal(t, "paid", user.Role)
		require.NotNil(t, user.PasswordResetToken)
		assert.Equal(t, service.HashResetToken(result.ResetToken), *user.PasswordResetToken)
		require.NotNil(t, user.PasswordResetTokenExpires)
		assert.True(t, user.PasswordResetTokenExpires.After(time.Now().UTC()))

		require.Len(t, result.Enrollments, 1)
		assert.Equal(t, packageID, result.Enrollments[0].PackageID)
		assert.Equal(t, user.ID, result.Enrollments[0].UserID)

		stored := repos.orders.store[order.ID]
		assert.Equal(t, model.OrderCompleted, stored.Status)
		assert.True(t, stored.WebhookProcessed)
		require.NotNil(t, stored.UserID)
		assert.Equal(t, user.ID, *stored.UserID)
		assert.NotNil(t, stored.PaymentCompletedAt)

		require.Len(t, dispatcher.events, 2)
		_, ok := dispatcher.events[0].(model.UserProvisioned)
		assert.True(t, ok)
		processed, ok := dispatcher.events[1].(model.PaymentProcessed)
		require.True(t, ok)
		assert.Equal(t, order.ID, processed.OrderID)
		assert.Equal(t, 1, processed.Enrollments)
	})

	t.Run("Reuses an account with a usable password", func(t *testing.T) {
		fulfillmentService, repos, dispatcher := setupFulfillment(t)
		packageID := repos.addPackage("go-basics", false)
		existing := repos.addUser("old@example.com", "bcrypt-hash")
		order := newTestOrder("old@example.com", packageID)
		repos.addOrder(order)

		result, err := fulfillmentService.ProcessSuccessfulPayment(order)

		require.NoError(t, err)
		assert.False(t, result.IsNewUser)
		assert.Empty(t, result.ResetToken)
		assert.Equal(t, existing.ID, result.User.ID)
		assert.Nil(t, existing.PasswordResetToken)

		require.Len(t, dispatcher.events, 1)
		_, ok := dispatcher.events[0].(model.PaymentProcessed)
		assert.True(t, ok)
	})

	t.Run("Refreshes the token for an account that never set a password", func(t *testing.T) {
		fulfillmentService, repos, _ := setupFulfillment(t)
		packageID := repos.addPackage("go-basics", false)
		existing := repos.addUser("pending@example.com", model.UnusablePassword)
		order := newTestOrder("pending@example.com", packageID)
		repos.addOrder(order)

		result, err := fulfillmentService.ProcessSuccessfulPayment(order)

		require.NoError(t, err)
		assert.True(t, result.IsNewUser)
		assert.Equal(t, existing.ID, result.User.ID)
		assert.NotEmpty(t, result.ResetToken)
		require.NotNil(t, existing.PasswordResetToken)
		assert.Equal(t, service.HashResetToken(result.ResetToken), *existing.PasswordResetToken)
	})

	t.Run("Skips items whose package no longer exists", func(t *testing.T) {
		fulfillmentService, repos, _ := setupFulfillment(t)
		packageID := repos.addPackage("go-basics", false)
		order := newTestOrder("skip@example.com", packageID, uuid.New())
		repos.addOrder(order)

		result, err := fulfillmentService.ProcessSuccessfulPayment(order)

		require.NoError(t, err)
		assert.Equal(t, service.FulfillmentSucceeded, result.Status)
		assert.Len(t, result.Enrollments, 1)
		assert.True(t, repos.orders.store[order.ID].WebhookProcessed)
	})
}

func TestProcessSuccessfulPaymentIdempotent(t *testing.T) {
	fulfillmentService, repos, dispatcher := setupFulfillment(t)
	packageID := repos.addPackage("go-basics", false)
	order := newTestOrder("once@example.com", packageID)
	repos.addOrder(order)

	first, err := fulfillmentService.ProcessSuccessfulPayment(order)
	require.NoError(t, err)
	require.Equal(t, service.FulfillmentSucceeded, first.Status)
	dispatcher.Reset()

	second, err := fulfillmentService.ProcessSuccessfulPayment(order)

	require.NoError(t, err)
	assert.Equal(t, service.FulfillmentAlreadyProcessed, second.Status)
	assert.Nil(t, second.User)
	assert.Empty(t, second.Enrollments)
	assert.Empty(t, dispatcher.events)
	assert.Equal(t, 1, repos.enrollments.inserted)
}

func TestProcessSuccessfulPaymentBundleFanOut(t *testing.T) {
	fulfillmentService, repos, _ := setupFulfillment(t)
	childA := repos.addPackage("child-a", false)
	childB := repos.addPackage("child-b", false)
	childC := repos.addPackage("child-c", false)
	bundleID := repos.addPackage("everything", true)
	repos.packages.children[bundleID] = []uuid.UUID{childA, childB, childC}

	order := newTestOrder("bundle@example.com", bundleID)
	repos.addOrder(order)

	result, err := fulfillmentService.ProcessSuccessfulPayment(order)

	require.NoError(t, err)
	require.Len(t, result.Enrollments, 3)
	packageIDs := make([]uuid.UUID, 0, len(result.Enrollments))
	for _, enrollment := range result.Enrollments {
		packageIDs = append(packageIDs, enrollment.PackageID)
	}
	assert.ElementsMatch(t, []uuid.UUID{childA, childB, childC}, packageIDs)

	// A redelivery after the flag is somehow cleared still creates nothing:
	// every (user, package) pair already exists.
	repos.orders.store[order.ID].WebhookProcessed = false
	rerun, err := fulfillmentService.ProcessSuccessfulPayment(order)
	require.NoError(t, err)
	assert.Equal(t, service.FulfillmentSucceeded, rerun.Status)
	assert.Empty(t, rerun.Enrollments)
}

// TestProcessSuccessfulPaymentFullScenario walks one purchase end to end: a
// first-time buyer pays 99 PLN for a course plus a two-course bundle.
func TestProcessSuccessfulPaymentFullScenario(t *testing.T) {
	fulfillmentService, repos, dispatcher := setupFulfillment(t)
	course := repos.addPackage("go-basics", false)
	childA := repos.addPackage("sql-basics", false)
	childB := repos.addPackage("docker-basics", false)
	bundleID := repos.addPackage("devops-bundle", true)
	repos.packages.children[bundleID] = []uuid.UUID{childA, childB}

	order := newTestOrder("anna@example.com", course, bundleID)
	repos.addOrder(order)

	result, err := fulfillmentService.ProcessSuccessfulPayment(order)

	require.NoError(t, err)
	assert.Equal(t, service.FulfillmentSucceeded, result.Status)
	assert.True(t, result.IsNewUser)
	require.Len(t, result.Enrollments, 3)

	user, err := repos.users.FindByEmail("anna@example.com")
	require.NoError(t, err)
	assert.False(t, user.HasUsablePassword())

	stored := repos.orders.store[order.ID]
	assert.Equal(t, model.OrderCompleted, stored.Status)
	assert.True(t, stored.WebhookProcessed)

	require.Len(t, dispatcher.events, 2)
	processed, ok := dispatcher.events[1].(model.PaymentProcessed)
	require.True(t, ok)
	assert.Equal(t, order.OrderNumber, processed.OrderNumber)
	assert.Equal(t, int64(9900), processed.TotalMinor)
	assert.Equal(t, "PLN", processed.Currency)
	assert.Equal(t, 3, processed.Enrollments)

	// A provider redelivery of the same webhook changes nothing.
	again, err := fulfillmentService.ProcessSuccessfulPayment(order)
	require.NoError(t, err)
	assert.Equal(t, service.FulfillmentAlreadyProcessed, again.Status)
}

func TestProcessSuccessfulPaymentFailureLeavesOrderUntouched(t *testing.T) {
	fulfillmentService, repos, dispatcher := setupFulfillment(t)
	packageID := repos.addPackage("go-basics", false)
	order := newTestOrder("fail@example.com", packageID)
	repos.addOrder(order)
	repos.enrollments.createErr = errors.New("connection reset")

	_, err := fulfillmentService.ProcessSuccessfulPayment(order)

	require.Error(t, err)
	stored := repos.orders.store[order.ID]
	assert.Equal(t, model.OrderProcessing, stored.Status)
	assert.False(t, stored.WebhookProcessed)
	assert.Empty(t, dispatcher.events)
}

type mockRepos struct {
	orders      *mockOrderRepository
	users       *mockUserRepository
	packages    *mockPackageRepository
	enrollments *mockEnrollmentRepository
}

func newMockRepos() *mockRepos {
	return &mockRepos{
		orders:   &mockOrderRepository{store: make(map[uuid.UUID]*model.Order)},
		users:    &mockUserRepository{store: make(map[uuid.UUID]*model.User)},
		packages: &mockPackageRepository{store: make(map[uuid.UUID]*model.Package), children: make(map[uuid.UUID][]uuid.UUID)},
		enrollments: &mockEnrollmentRepository{
			pairs: make(map[uuid.UUID]map[uuid.UUID]bool),
		},
	}
}

func (m *mockRepos) Orders() model.OrderRepository           { return m.orders }
func (m *mockRepos) Users() model.UserRepository             { return m.users }
func (m *mockRepos) Packages() model.PackageRepository       { return m.packages }
func (m *mockRepos) Enrollments() model.EnrollmentRepository { return m.enrollments }

func (m *mockRepos) addOrder(order *model.Order) {
	m.orders.store[order.ID] = order
}

func (m *mockRepos) addUser(email, hashedPassword string) *model.User {
	user := &model.User{
		ID:             uuid.New(),
		Email:          email,
		Name:           "Jan Kowalski",
		HashedPassword: hashedPassword,
		Role:           "paid",
		IsActive:       true,
	}
	m.users.store[user.ID] = user
	return user
}

func (m *mockRepos) addPackage(slug string, isBundle bool) uuid.UUID {
	pkg := &model.Package{
		ID:          uuid.New(),
		Slug:        slug,
		Title:       slug,
		Price:       9900,
		Currency:    "PLN",
		IsBundle:    isBundle,
		IsPublished: true,
	}
	m.packages.store[pkg.ID] = pkg
	return pkg.ID
}

type mockTxManager struct {
	repos *mockRepos
}

func (m *mockTxManager) WithinTransaction(fn func(model.RepositoryProvider) error) error {
	return fn(m.repos)
}

type mockOrderRepository struct {
	store map[uuid.UUID]*model.Order
}

func (m *mockOrderRepository) Create(order *model.Order) error {
	m.store[order.ID] = order
	return nil
}

func (m *mockOrderRepository) FindByID(id uuid.UUID) (*model.Order, error) {
	if order, ok := m.store[id]; ok {
		return order, nil
	}
	return nil, model.ErrOrderNotFound
}

func (m *mockOrderRepository) FindByPaymentIntentID(paymentIntentID string) (*model.Order, error) {
	for _, order := range m.store {
		if order.PaymentIntentID != nil && *order.PaymentIntentID == paymentIntentID {
			return order, nil
		}
	}
	return nil, model.ErrOrderNotFound
}

// LockByID hands out a copy so the test can tell whether the service actually
// wrote the transition back through Update.
func (m *mockOrderRepository) LockByID(id uuid.UUID) (*model.Order, error) {
	order, ok := m.store[id]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (m *mockOrderRepository) Update(order *model.Order) error {
	m.store[order.ID] = order
	return nil
}

func (m *mockOrderRepository) UpdateInvoice(id uuid.UUID, details model.InvoiceDetails) error {
	order, ok := m.store[id]
	if !ok {
		return model.ErrOrderNotFound
	}
	order.InvoiceID = &details.InvoiceID
	order.InvoiceNumber = &details.InvoiceNumber
	order.InvoiceToken = &details.InvoiceToken
	order.InvoiceIssuedAt = &details.IssuedAt
	return nil
}

type mockUserRepository struct {
	store map[uuid.UUID]*model.User
}

func (m *mockUserRepository) Create(user *model.User) error {
	m.store[user.ID] = user
	return nil
}

func (m *mockUserRepository) Update(user *model.User) error {
	m.store[user.ID] = user
	return nil
}

func (m *mockUserRepository) Find(id uuid.UUID) (*model.User, error) {
	if user, ok := m.store[id]; ok {
		return user, nil
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) FindByEmail(email string) (*model.User, error) {
	for _, user := range m.store {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) FindByResetTokenHash(tokenHash string) (*model.User, error) {
	for _, user := range m.store {
		if user.PasswordResetToken != nil && *user.PasswordResetToken == tokenHash {
			return user, nil
		}
	}
	return nil, model.ErrUserNotFound
}

type mockPackageRepository struct {
	store    map[uuid.UUID]*model.Package
	children map[uuid.UUID][]uuid.UUID
}

func (m *mockPackageRepository) Find(id uuid.UUID) (*model.Package, error) {
	if pkg, ok := m.store[id]; ok {
		return pkg, nil
	}
	return nil, model.ErrPackageNotFound
}

func (m *mockPackageRepository) ChildPackageIDs(bundleID uuid.UUID) ([]uuid.UUID, error) {
	return m.children[bundleID], nil
}

type mockEnrollmentRepository struct {
	pairs     map[uuid.UUID]map[uuid.UUID]bool
	inserted  int
	createErr error
}

func (m *mockEnrollmentRepository) Create(enrollment *model.Enrollment) (bool, error) {
	if m.createErr != nil {
		return false, m.createErr
	}
	if m.pairs[enrollment.UserID] == nil {
		m.pairs[enrollment.UserID] = make(map[uuid.UUID]bool)
	}
	if m.pairs[enrollment.UserID][enrollment.PackageID] {
		return false, nil
	}
	m.pairs[enrollment.UserID][enrollment.PackageID] = true
	m.inserted++
	return true, nil
}

type mockEventDispatcher struct {
	events []service.Event
}

func (m *mockEventDispatcher) Dispatch(event service.Event) error {
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventDispatcher) Reset() {
	m.events = nil
}
