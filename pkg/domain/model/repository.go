package model

// RepositoryProvider hands out repositories bound to one unit of work. The
// fulfillment transition must commit atomically with the user and enrollment
// writes, so the service never mixes transactional and ambient repositories.
type RepositoryProvider interface {
	Orders() OrderRepository
	Users() UserRepository
	Packages() PackageRepository
	Enrollments() EnrollmentRepository
}

// TransactionManager runs fn inside a single database transaction. An error
// from fn rolls everything back, leaving the order exactly as it was so a
// redelivered webhook can reprocess from scratch.
type TransactionManager interface {
	WithinTransaction(fn func(RepositoryProvider) error) error
}
