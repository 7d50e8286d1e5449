package mysql

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"payments/pkg/domain/model"
)

type EnrollmentRepository struct {
	db sqlx.Ext
}

// Create inserts the enrollment unless the (user, package) pair already
// exists. INSERT IGNORE leans on the unique key, so a race between two
// orders for the same package degrades to the documented no-op instead of
// an error.
func (r *EnrollmentRepository) Create(enrollment *model.Enrollment) (bool, error) {
	res, err := r.db.Exec(`
		INSERT IGNORE INTO package_enrollments (id, user_id, package_id, order_id, enrolled_at)
		VALUES (?, ?, ?, ?, ?)`,
		enrollment.ID.String(), enrollment.UserID.String(), enrollment.PackageID.String(),
		uuidPtrToNull(enrollment.OrderID), enrollment.EnrolledAt,
	)
	if err != nil {
		return false, errors.Wrap(err, "insert enrollment")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "insert enrollment")
	}
	return affected > 0, nil
}
