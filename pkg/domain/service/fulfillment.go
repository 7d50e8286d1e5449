package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"payments/pkg/domain/model"
)

type Event interface{ Type() string }
type EventDispatcher interface{ Dispatch(event Event) error }

type FulfillmentStatus string

const (
	FulfillmentSucceeded        FulfillmentStatus = "success"
	FulfillmentAlreadyProcessed FulfillmentStatus = "already_processed"
)

// FulfillmentResult is what the webhook layer needs to finish the request
// and queue side effects. ResetToken is the raw token for the set-password
// link; it is never persisted in clear.
type FulfillmentResult struct {
	Status      FulfillmentStatus
	User        *model.User
	Enrollments []model.Enrollment
	IsNewUser   bool
	ResetToken  string
}

type FulfillmentService interface {
	ProcessSuccessfulPayment(order *model.Order) (*FulfillmentResult, error)
}

func NewFulfillmentService(tx model.TransactionManager, resetTokenTTL time.Duration, dispatcher EventDispatcher) FulfillmentService {
	return &fulfillmentService{
		tx:            tx,
		resetTokenTTL: resetTokenTTL,
		dispatcher:    dispatcher,
	}
}

type fulfillmentService struct {
	tx            model.TransactionManager
	resetTokenTTL time.Duration
	dispatcher    EventDispatcher
}

// ProcessSuccessfulPayment converts a paid order into an account and
// enrollments, exactly once. The whole body runs in one transaction holding
// a row lock on the order, so two concurrent deliveries of the same webhook
// serialize on the lock and the second one hits the processed flag.
func (s *fulfillmentService) ProcessSuccessfulPayment(order *model.Order) (*FulfillmentResult, error) {
	var result *FulfillmentResult

	err := s.tx.WithinTransaction(func(repos model.RepositoryProvider) error {
		locked, err := repos.Orders().LockByID(order.ID)
		if err != nil {
			return err
		}

		if locked.WebhookProcessed {
			result = &FulfillmentResult{Status: FulfillmentAlreadyProcessed}
			return nil
		}

		user, isNewUser, rawToken, err := s.resolveUser(repos, locked)
		if err != nil {
			return err
		}

		enrollments, err := s.createEnrollments(repos, locked, user)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		locked.UserID = &user.ID
		locked.Status = model.OrderCompleted
		locked.PaymentCompletedAt = &now
		locked.WebhookProcessed = true
		locked.UpdatedAt = now
		if err := repos.Orders().Update(locked); err != nil {
			return err
		}

		result = &FulfillmentResult{
			Status:      FulfillmentSucceeded,
			User:        user,
			Enrollments: enrollments,
			IsNewUser:   isNewUser,
			ResetToken:  rawToken,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Status == FulfillmentSucceeded {
		if result.IsNewUser {
			_ = s.dispatcher.Dispatch(model.UserProvisioned{
				UserID: result.User.ID, Email: result.User.Email, OrderID: order.ID,
			})
		}
		_ = s.dispatcher.Dispatch(model.PaymentProcessed{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      result.User.ID,
			TotalMinor:  order.Total,
			Currency:    order.Currency,
			Enrollments: len(result.Enrollments),
		})
	}

	return result, nil
}

// resolveUser finds the buyer's account or provisions one. An existing
// account that never completed password setup still counts as new: it gets
// a fresh reset token so the welcome email carries a working link.
func (s *fulfillmentService) resolveUser(repos model.RepositoryProvider, order *model.Order) (*model.User, bool, string, error) {
	users := repos.Users()
	now := time.Now().UTC()

	user, err := users.FindByEmail(order.Email)
	switch {
	case err == nil:
		if user.HasUsablePassword() {
			return user, false, "", nil
		}
		raw, hash, expires := GenerateResetToken(s.resetTokenTTL)
		user.PasswordResetToken = &hash
		user.PasswordResetTokenExpires = &expires
		user.UpdatedAt = now
		if err := users.Update(user); err != nil {
			return nil, false, "", err
		}
		return user, true, raw, nil

	case errors.Is(err, model.ErrUserNotFound):
		raw, hash, expires := GenerateResetToken(s.resetTokenTTL)
		user = &model.User{
			ID:                        uuid.New(),
			Email:                     order.Email,
			Name:                      order.Name,
			HashedPassword:            model.UnusablePassword,
			Role:                      "paid",
			IsActive:                  true,
			PasswordResetToken:        &hash,
			PasswordResetTokenExpires: &expires,
			CreatedAt:                 now,
			UpdatedAt:                 now,
		}
		if err := users.Create(user); err != nil {
			return nil, false, "", err
		}
		return user, true, raw, nil

	default:
		return nil, false, "", err
	}
}

// createEnrollments fans the order items out into enrollments. Bundles
// resolve to their current children; duplicates are skipped, not errors.
func (s *fulfillmentService) createEnrollments(repos model.RepositoryProvider, order *model.Order, user *model.User) ([]model.Enrollment, error) {
	var enrollments []model.Enrollment

	for _, item := range order.Items {
		pkg, err := repos.Packages().Find(item.PackageID)
		if errors.Is(err, model.ErrPackageNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		targets := []uuid.UUID{pkg.ID}
		if pkg.IsBundle {
			targets, err = repos.Packages().ChildPackageIDs(pkg.ID)
			if err != nil {
				return nil, err
			}
		}

		for _, packageID := range targets {
			enrollment := &model.Enrollment{
				ID:         uuid.New(),
				UserID:     user.ID,
				PackageID:  packageID,
				OrderID:    &order.ID,
				EnrolledAt: time.Now().UTC(),
			}
			created, err := repos.Enrollments().Create(enrollment)
			if err != nil {
				return nil, err
			}
			if created {
				enrollments = append(enrollments, *enrollment)
			}
		}
	}

	return enrollments, nil
}
