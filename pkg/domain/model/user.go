package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email is already taken")
)

// UnusablePassword is the stored-credential sentinel for accounts created by
// fulfillment. It never validates against any password, forcing the set-
// password flow before first login.
const UnusablePassword = ""

type User struct {
	ID             uuid.UUID
	Email          string
	Name           string
	HashedPassword string
	Role           string
	IsActive       bool

	// PasswordResetToken holds a one-way hash of the raw token; the raw
	// value only ever travels inside a FulfillmentResult.
	PasswordResetToken        *string
	PasswordResetTokenExpires *time.Time
	PasswordChangedAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasUsablePassword reports whether the account ever completed password
// setup. Accounts provisioned by fulfillment start without one.
func (u *User) HasUsablePassword() bool {
	return u.HashedPassword != UnusablePassword
}

type UserRepository interface {
	Create(user *User) error
	Update(user *User) error
	Find(id uuid.UUID) (*User, error)
	FindByEmail(email string) (*User, error)
	FindByResetTokenHash(tokenHash string) (*User, error)
}

type PasswordManager interface {
	Hash(plainTextPassword string) (string, error)
	Check(hashedPassword, plainTextPassword string) (bool, error)
}
