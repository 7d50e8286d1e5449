package model

import "github.com/google/uuid"

type PaymentProcessed struct {
	OrderID     uuid.UUID
	OrderNumber string
	UserID      uuid.UUID
	TotalMinor  int64
	Currency    string
	Enrollments int
}

func (e PaymentProcessed) Type() string { return "PaymentProcessed" }

type UserProvisioned struct {
	UserID  uuid.UUID
	Email   string
	OrderID uuid.UUID
}

func (e UserProvisioned) Type() string { return "UserProvisioned" }

type PasswordResetCompleted struct {
	UserID uuid.UUID
}

func (e PasswordResetCompleted) Type() string { return "PasswordResetCompleted" }
