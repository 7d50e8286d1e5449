package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
	"payments/pkg/domain/model"
)

// BcryptPasswordManager implements model.PasswordManager with bcrypt.
type BcryptPasswordManager struct {
	cost int
}

func NewBcryptPasswordManager() *BcryptPasswordManager {
	return &BcryptPasswordManager{cost: bcrypt.DefaultCost}
}

func (m *BcryptPasswordManager) Hash(plainTextPassword string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plainTextPassword), m.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (m *BcryptPasswordManager) Check(hashedPassword, plainTextPassword string) (bool, error) {
	// The unusable-credential sentinel must never validate.
	if hashedPassword == model.UnusablePassword {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(plainTextPassword))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
