package model

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment grants a user access to one package. At most one row exists per
// (user, package) pair; creating a duplicate is a silent no-op so that
// bundle fan-out survives repeated webhook deliveries.
type Enrollment struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	PackageID uuid.UUID
	// Nil for enrollments that predate the order system.
	OrderID    *uuid.UUID
	EnrolledAt time.Time
}

type EnrollmentRepository interface {
	// Create inserts the enrollment unless one already exists for the
	// (user, package) pair. It reports whether a row was inserted.
	Create(enrollment *Enrollment) (created bool, err error)
}
