package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrPackageNotFound = errors.New("package not found")

// Package is a sellable product. A bundle package carries no content of its
// own; buying one enrolls the user into its current child packages, resolved
// at fulfillment time.
type Package struct {
	ID       uuid.UUID
	Slug     string
	Title    string
	Price    int64 // minor currency units
	Currency string
	IsBundle bool

	IsPublished bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BundleItem links a bundle package to one of its children.
type BundleItem struct {
	ID             uuid.UUID
	BundleID       uuid.UUID
	ChildPackageID uuid.UUID
	SortOrder      int
}

type PackageRepository interface {
	Find(id uuid.UUID) (*Package, error)
	// ChildPackageIDs returns the children of a bundle in sort order. Empty
	// for a plain package.
	ChildPackageIDs(bundleID uuid.UUID) ([]uuid.UUID, error)
}
