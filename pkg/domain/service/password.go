package service

import (
	"errors"
	"time"

	"payments/pkg/domain/model"
)

var (
	ErrPasswordTooShort  = errors.New("password is too short")
	ErrResetTokenInvalid = errors.New("reset token is invalid")
	ErrResetTokenExpired = errors.New("reset token has expired")
)

const minPasswordLength = 8

// PasswordService completes the set-password flow that fulfillment starts
// when it provisions an account with an unusable credential.
type PasswordService interface {
	CompleteReset(rawToken, newPassword string) error
}

func NewPasswordService(users model.UserRepository, passManager model.PasswordManager, dispatcher EventDispatcher) PasswordService {
	return &passwordService{users: users, passManager: passManager, dispatcher: dispatcher}
}

type passwordService struct {
	users       model.UserRepository
	passManager model.PasswordManager
	dispatcher  EventDispatcher
}

func (s *passwordService) CompleteReset(rawToken, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return ErrPasswordTooShort
	}

	user, err := s.users.FindByResetTokenHash(HashResetToken(rawToken))
	if errors.Is(err, model.ErrUserNotFound) {
		return ErrResetTokenInvalid
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if user.PasswordResetTokenExpires == nil || user.PasswordResetTokenExpires.Before(now) {
		return ErrResetTokenExpired
	}

	hashed, err := s.passManager.Hash(newPassword)
	if err != nil {
		return err
	}

	user.HashedPassword = hashed
	user.PasswordResetToken = nil
	user.PasswordResetTokenExpires = nil
	user.PasswordChangedAt = &now
	user.UpdatedAt = now

	if err := s.users.Update(user); err != nil {
		return err
	}

	_ = s.dispatcher.Dispatch(model.PasswordResetCompleted{UserID: user.ID})
	return nil
}
