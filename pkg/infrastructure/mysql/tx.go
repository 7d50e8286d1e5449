package mysql

import (
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"payments/pkg/domain/model"
)

// Repositories binds every repository to one sqlx executor: the shared pool
// for ambient use, or a single transaction inside WithinTransaction.
type Repositories struct {
	ext sqlx.Ext
}

func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{ext: db}
}

func (r *Repositories) Orders() model.OrderRepository           { return &OrderRepository{db: r.ext} }
func (r *Repositories) Users() model.UserRepository             { return &UserRepository{db: r.ext} }
func (r *Repositories) Packages() model.PackageRepository       { return &PackageRepository{db: r.ext} }
func (r *Repositories) Enrollments() model.EnrollmentRepository { return &EnrollmentRepository{db: r.ext} }

type TransactionManager struct {
	db *sqlx.DB
}

func NewTransactionManager(db *sqlx.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// WithinTransaction runs fn against transaction-bound repositories. Any
// error rolls the whole unit back.
func (m *TransactionManager) WithinTransaction(fn func(model.RepositoryProvider) error) error {
	tx, err := m.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	if err := fn(&Repositories{ext: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}
